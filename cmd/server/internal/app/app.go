// Package app wires the pipeline components into an HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/api"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/audit"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/checkpoint"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/config"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/dataset"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/hub"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/inference"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/layout"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/optimizer"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/degradation"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/training"
	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// whisperFailThreshold 连续失败多少次后切换到本地 whisper 程序
const whisperFailThreshold = 3

const defaultHealthInterval = 5 * time.Minute

// Overrides replaces collaborator seams. Nil fields use the programs from
// the configuration.
type Overrides struct {
	Executor       dependency.DependencyExecutor
	Transcriber    whisper.WhisperTranscriber
	Trainer        training.Trainer
	CheckpointTool checkpoint.Tool
	Loader         inference.Loader
	Fetcher        training.Fetcher
	Audit          audit.Logger
}

// App owns every long-lived component of the server.
type App struct {
	cfg       *config.Config
	router    *gin.Engine
	session   *inference.Session
	registry  *health.Registry
	audit     audit.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// New builds the application from cfg.
func New(cfg *config.Config, ov Overrides) (*App, error) {
	log := logger.L().With("component", "app")

	for _, dir := range []string{cfg.Data.OutPath, cfg.Data.DatasetsDir, cfg.Data.BaseModelsDir, cfg.Data.UploadsDir, cfg.Data.OutputsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{cfg: cfg, ctx: ctx, cancel: cancel, registry: health.NewRegistry(), startTime: time.Now()}

	exec := ov.Executor
	if exec == nil {
		exec = dependency.NewLocalExecutor(dependency.ExecutorConfig{
			Binaries:       cfg.Collaborators.Commands,
			Env:            cfg.Collaborators.Env,
			DefaultTimeout: cfg.Collaborators.DefaultTimeout,
		})
	}
	a.registry.Add(health.NewHealthChecker(health.ProbeFunc{ProbeName: "collaborators", Check: exec.HealthCheck},
		a.healthInterval(), 1))

	transcriber, controller := a.buildTranscriber(exec, ov.Transcriber)

	auditLog := ov.Audit
	if auditLog == nil {
		if cfg.Data.AuditLogFile != "" {
			fl, err := audit.NewFileLogger(cfg.Data.AuditLogFile)
			if err != nil {
				cancel()
				return nil, err
			}
			auditLog = fl
		} else {
			auditLog = audit.Nop{}
		}
	}
	a.audit = auditLog

	ws := layout.NewWorkspace(cfg.Data.DatasetsDir, cfg.Data.BaseModelsDir)
	hubClient := hub.NewClient(cfg.Hub.Endpoint, cfg.Hub.Token)

	fetcher := ov.Fetcher
	if fetcher == nil {
		fetcher = hubClient
	}
	models := training.NewBaseModels(ws, fetcher, cfg.Hub.BaseModelRepo)

	trainer := ov.Trainer
	if trainer == nil {
		trainer = training.NewExecTrainer(exec, cfg.Collaborators.DefaultTimeout)
	}
	tool := ov.CheckpointTool
	if tool == nil {
		tool = checkpoint.NewExecTool(exec)
	}
	loader := ov.Loader
	if loader == nil {
		loader = inference.NewProcessLoader(cfg.Collaborators.Commands[config.CommandInference], cfg.Collaborators.Env)
	}
	a.session = inference.NewSession(loader, cfg.Data.OutputsDir)

	var separator dataset.Separator
	if _, ok := cfg.Collaborators.Commands[config.CommandDemucs]; ok {
		separator = dataset.NewDemucsSeparator(exec)
	}
	formatter := dataset.NewFormatter(transcriber, separator, dataset.NewFFmpegSlicer(exec), dataset.FormatterOptions{
		Device:      cfg.Collaborators.WhisperDevice,
		ComputeType: cfg.Collaborators.ComputeType,
	})

	deps := &api.Deps{
		Stages:    api.NewStages(ctx, pipeline.NewGate(), pipeline.NewTracker(), auditLog, a.session),
		Workspace: ws,
		Defaults: api.Defaults{
			OutPath:        cfg.Data.OutPath,
			NumEpochs:      cfg.Training.NumEpochs,
			BatchSize:      cfg.Training.BatchSize,
			GradAccum:      cfg.Training.GradAccum,
			MaxAudioLength: float64(cfg.Training.MaxAudioLength),
			WhisperModel:   cfg.Training.WhisperModel,
			SpeakerName:    cfg.Training.SpeakerName,
			EvalFraction:   cfg.Training.EvalFraction,
		},
		UploadsDir: cfg.Data.UploadsDir,
		OutputsDir: cfg.Data.OutputsDir,
		Formatter:  formatter,
		Merger:     dataset.NewMerger(ws),
		Datasets:   dataset.NewCatalog(ws),
		Models:     models,
		Trainer: training.NewOrchestrator(ws, models, trainer, training.Options{
			MinFreeBytes: uint64(cfg.Training.MinFreeDiskGB * (1 << 30)),
		}),
		Optimizer: optimizer.New(tool),
		Hub:       hubClient,
		Session:   a.session,
		Services: &api.ServicesStatus{
			Transcriber: controller,
			Registry:    a.registry,
			Session:     a.session,
			Environment: func(ctx context.Context) *orchestrator.EnvironmentStatus {
				return orchestrator.CheckEnvironment(ctx, cfg)
			},
		},
	}

	a.router = a.buildRouter(deps)
	log.Info("application ready", "out_path", cfg.Data.OutPath, "datasets", cfg.Data.DatasetsDir,
		"whisper", transcriber.Name(), "separation", separator != nil)
	return a, nil
}

// buildTranscriber 配置了 whisper 服务时以服务为主、本地程序为备用
func (a *App) buildTranscriber(exec dependency.DependencyExecutor, override whisper.WhisperTranscriber) (whisper.WhisperTranscriber, *degradation.DegradationController) {
	if override != nil {
		return override, nil
	}
	local := whisper.NewLocalWhisperImpl(exec)
	if a.cfg.Collaborators.WhisperURL == "" {
		return local, nil
	}
	remote := whisper.NewGoWhisperImpl(a.cfg.Collaborators.WhisperURL)
	hc := health.NewHealthChecker(remote, a.healthInterval(), whisperFailThreshold)
	a.registry.Add(hc)
	controller := degradation.NewDegradationController(remote, local, hc)
	return controller, controller
}

func (a *App) healthInterval() time.Duration {
	if a.cfg.Collaborators.HealthInterval > 0 {
		return a.cfg.Collaborators.HealthInterval
	}
	return defaultHealthInterval
}

// Router returns the HTTP handler.
func (a *App) Router() *gin.Engine { return a.router }

// Start launches the background health checks.
func (a *App) Start() {
	a.registry.StartAll(a.ctx)
}

// Close stops background work, kills running collaborators and releases the model.
func (a *App) Close() error {
	a.cancel()
	var errs []error
	if err := a.session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close model: %w", err))
	}
	if closer, ok := a.audit.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit log: %w", err))
		}
	}
	return errors.Join(errs...)
}
