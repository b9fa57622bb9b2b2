// Package training runs a fine-tuning pass over a prepared dataset and stages
// the resulting checkpoint in <output>/ready.
package training

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/dataset"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/layout"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/utils"
	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// SampleRate converts the max audio length from seconds to samples.
const SampleRate = 22050

// Request describes one training run.
type Request struct {
	Version        string  `json:"version"`
	CustomModel    string  `json:"custom_model"`
	DVAEVersion    string  `json:"dvae_version"`
	Language       string  `json:"language"`
	TrainManifest  string  `json:"train_csv"`
	EvalManifest   string  `json:"eval_csv"`
	DatasetName    string  `json:"dataset_name"`
	NumEpochs      int     `json:"num_epochs"`
	BatchSize      int     `json:"batch_size"`
	GradAccum      int     `json:"grad_acumm"`
	MaxAudioLength float64 `json:"max_audio_length"` // seconds
	OutPath        string  `json:"output_path"`
}

// Result lists the artifacts staged in ready/.
type Result struct {
	Message    string `json:"status"`
	Language   string `json:"language"`
	Config     string `json:"config_path"`
	Vocab      string `json:"vocab_path"`
	Checkpoint string `json:"checkpoint_path"`
	Speakers   string `json:"speaker_path"`
	Reference  string `json:"reference_path"`
}

// Options tunes the orchestrator.
type Options struct {
	// MinFreeBytes fails the run up front when the output filesystem has
	// less space available. Zero disables the check.
	MinFreeBytes uint64
}

// Orchestrator prepares inputs, drives the Trainer and publishes ready/.
type Orchestrator struct {
	ws      *layout.Workspace
	models  *BaseModels
	trainer Trainer
	opts    Options
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(ws *layout.Workspace, models *BaseModels, trainer Trainer, opts Options) *Orchestrator {
	return &Orchestrator{ws: ws, models: models, trainer: trainer, opts: opts}
}

// Train runs a full pass. run/ is cleared before anything else; ready/ is
// replaced only when the trainer succeeds.
func (o *Orchestrator) Train(ctx context.Context, req Request, progress pipeline.ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = pipeline.NopProgress
	}
	if req.OutPath == "" {
		return nil, pipeline.Precondition(pipeline.INVALID_REQUEST, "Output path is required")
	}
	out := layout.NewOutput(req.OutPath)
	log := logger.L().With("component", "training", "output", req.OutPath)

	if err := os.RemoveAll(out.RunDir()); err != nil {
		log.Warn("failed to clear run dir", "error", err)
	}

	if req.DatasetName != "" {
		progress("staging dataset", 0, 0)
		if err := o.stageDataset(req.DatasetName, out); err != nil {
			return nil, err
		}
		req.TrainManifest = out.DatasetFile(layout.TrainManifest)
		req.EvalManifest = out.DatasetFile(layout.EvalManifest)
	}

	lang := req.Language
	if current, ok, err := dataset.ReadLanguage(out.DatasetDir()); err == nil && ok && current != "" && current != lang {
		log.Warn("dataset language differs from the requested one, using the dataset language",
			"requested", lang, "dataset", current)
		lang = current
	}

	if req.TrainManifest == "" || req.EvalManifest == "" {
		return nil, pipeline.Precondition(pipeline.INVALID_REQUEST,
			"You need to run the data processing step or manually set `Train CSV` and `Eval CSV` fields !")
	}
	for _, m := range []string{req.TrainManifest, req.EvalManifest} {
		if !layout.IsFile(m) {
			return nil, pipeline.Precondition(pipeline.DATASET_NOT_FOUND, "Manifest not found: "+m)
		}
	}
	if lang == "" {
		return nil, pipeline.Precondition(pipeline.INVALID_REQUEST, "Language is required")
	}

	if err := o.checkDisk(req.OutPath); err != nil {
		return nil, err
	}

	progress("preparing base model", 0, 0)
	baseDir, err := o.models.EnsureXTTS(ctx, req.Version)
	if err != nil {
		return nil, err
	}
	job := Job{
		BaseModelDir:   baseDir,
		CustomModel:    req.CustomModel,
		Language:       lang,
		TrainManifest:  req.TrainManifest,
		EvalManifest:   req.EvalManifest,
		NumEpochs:      req.NumEpochs,
		BatchSize:      req.BatchSize,
		GradAccum:      req.GradAccum,
		MaxAudioLength: int(req.MaxAudioLength * SampleRate),
		RunDir:         out.RunDir(),
	}
	switch req.DVAEVersion {
	case "":
	case DVAETrainFromDataset:
		job.TrainDVAE = true
	default:
		if job.DVAEDir, err = o.models.EnsureDVAE(ctx, req.DVAEVersion); err != nil {
			return nil, err
		}
	}
	if job.CustomModel != "" && !layout.IsFile(job.CustomModel) {
		return nil, pipeline.Precondition(pipeline.BASE_MODEL_MISSING, "Custom model not found: "+job.CustomModel)
	}

	start := time.Now()
	log.Info("training started", "version", req.Version, "language", lang, "epochs", job.NumEpochs,
		"batch_size", job.BatchSize, "grad_acumm", job.GradAccum, "max_audio_samples", job.MaxAudioLength,
		"train_dvae", job.TrainDVAE)
	progress("training", 0, job.NumEpochs)

	output, err := o.trainer.Train(ctx, job, progress)
	if err != nil {
		log.Error("training failed", "error", err)
		return nil, pipeline.Collaborator(pipeline.TRAINING_FAILED,
			"The training was interrupted due an error !! Please check the console to check the full error message!", err)
	}

	progress("publishing checkpoint", 0, 0)
	res, err := o.publish(out, baseDir, req.TrainManifest, output)
	if err != nil {
		log.Error("failed to stage ready dir", "error", err)
		return nil, pipeline.Collaborator(pipeline.TRAINING_FAILED, "Training finished but the checkpoint could not be staged", err)
	}
	res.Language = lang
	log.Info("training finished", "duration", time.Since(start).String(), "checkpoint", res.Checkpoint)
	return res, nil
}

// stageDataset copies datasets/<name> into <output>/dataset.
func (o *Orchestrator) stageDataset(name string, out layout.Output) error {
	src := o.ws.DatasetDir(name)
	if !utils.ValidateName(name) || !layout.IsDir(src) {
		return pipeline.Precondition(pipeline.DATASET_NOT_FOUND, fmt.Sprintf("Dataset %s not found", name))
	}
	if err := os.RemoveAll(out.DatasetDir()); err != nil {
		return err
	}
	if err := utils.CopyDirectory(src, out.DatasetDir()); err != nil {
		return fmt.Errorf("stage dataset %s: %w", name, err)
	}
	return nil
}

func (o *Orchestrator) checkDisk(path string) error {
	if o.opts.MinFreeBytes == 0 {
		return nil
	}
	free, err := utils.FreeDiskBytes(path)
	if err != nil {
		logger.L().Warn("free disk check skipped", "error", err)
		return nil
	}
	if free < o.opts.MinFreeBytes {
		return pipeline.Resource(pipeline.DISK_FULL,
			fmt.Sprintf("Not enough free disk space for training: %.1f GB available, %.1f GB required",
				float64(free)/(1<<30), float64(o.opts.MinFreeBytes)/(1<<30)), nil)
	}
	return nil
}

// publish assembles ready.partial and swaps it in for ready/.
func (o *Orchestrator) publish(out layout.Output, baseDir, trainManifest string, output *TrainOutput) (*Result, error) {
	best := output.BestModel
	if best == "" {
		var err error
		if best, err = newestBestModel(out.RunDir()); err != nil {
			return nil, err
		}
	}
	reference := output.SpeakerReference
	if reference == "" {
		var err error
		if reference, err = firstClip(trainManifest); err != nil {
			return nil, err
		}
	}

	sources := map[string]string{
		layout.ConfigFile:       firstNonEmpty(output.Config, filepath.Join(baseDir, layout.ConfigFile)),
		layout.VocabFile:        firstNonEmpty(output.Vocab, filepath.Join(baseDir, layout.VocabFile)),
		layout.SpeakersFile:     firstNonEmpty(output.Speakers, filepath.Join(baseDir, layout.SpeakersFile)),
		layout.UnoptimizedModel: best,
		layout.ReferenceFile:    reference,
	}

	staging := out.ReadyStagingDir()
	if err := os.RemoveAll(staging); err != nil {
		return nil, err
	}
	for name, src := range sources {
		if err := utils.CopyFile(src, filepath.Join(staging, name)); err != nil {
			os.RemoveAll(staging)
			return nil, fmt.Errorf("stage %s: %w", name, err)
		}
	}
	if err := os.RemoveAll(out.ReadyDir()); err != nil {
		os.RemoveAll(staging)
		return nil, err
	}
	if err := os.Rename(staging, out.ReadyDir()); err != nil {
		return nil, err
	}

	return &Result{
		Message:    "Model training done!",
		Config:     out.ReadyFile(layout.ConfigFile),
		Vocab:      out.ReadyFile(layout.VocabFile),
		Checkpoint: out.ReadyFile(layout.UnoptimizedModel),
		Speakers:   out.ReadyFile(layout.SpeakersFile),
		Reference:  out.ReadyFile(layout.ReferenceFile),
	}, nil
}

// newestBestModel finds the most recent best_model*.pth under run/.
func newestBestModel(runDir string) (string, error) {
	var (
		best    string
		bestMod time.Time
	)
	err := filepath.WalkDir(runDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || !strings.HasPrefix(name, "best_model") || filepath.Ext(name) != ".pth" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = path, info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", runDir, err)
	}
	if best == "" {
		return "", fmt.Errorf("no best_model*.pth found under %s", runDir)
	}
	return best, nil
}

// firstClip resolves the audio of the first manifest row.
func firstClip(manifest string) (string, error) {
	rows, err := dataset.ReadManifest(manifest)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("manifest %s is empty, no speaker reference available", manifest)
	}
	return filepath.Join(filepath.Dir(manifest), filepath.FromSlash(rows[0].AudioFile)), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
