package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/dataset"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/hub"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/inference"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/layout"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/optimizer"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/training"
)

// DatasetFormatter builds a dataset from recordings.
type DatasetFormatter interface {
	Format(ctx context.Context, req dataset.FormatRequest, progress pipeline.ProgressFunc) (*dataset.FormatResult, error)
}

// DatasetMerger combines two datasets.
type DatasetMerger interface {
	Merge(ctx context.Context, req dataset.MergeRequest) (*dataset.MergeResult, error)
}

// DatasetCatalog lists datasets on disk.
type DatasetCatalog interface {
	List() []string
	Info(name string) (dataset.Info, error)
}

// ModelCatalog lists base model versions.
type ModelCatalog interface {
	XTTSVersions() []string
	DVAEVersions() []string
}

// TrainingRunner fine-tunes a model.
type TrainingRunner interface {
	Train(ctx context.Context, req training.Request, progress pipeline.ProgressFunc) (*training.Result, error)
}

// ModelOptimizer prunes a trained checkpoint.
type ModelOptimizer interface {
	Optimize(ctx context.Context, outPath string, retention optimizer.Retention) (*optimizer.Result, error)
}

// HubClient talks to the dataset hosting service.
type HubClient interface {
	Authenticate(ctx context.Context, token string) (*hub.Identity, error)
	UploadDataset(ctx context.Context, repoID, dir string) (*hub.UploadResult, error)
}

// InferenceSession owns the loaded model.
type InferenceSession interface {
	Load(ctx context.Context, paths inference.Paths) (string, error)
	Infer(ctx context.Context, req inference.SynthesisRequest) (*inference.Result, error)
	Status() inference.Status
	ClearCache(ctx context.Context)
}

// Defaults are the values used when a request leaves a field empty.
// They come from the command line flags.
type Defaults struct {
	OutPath        string
	NumEpochs      int
	BatchSize      int
	GradAccum      int
	MaxAudioLength float64
	WhisperModel   string
	SpeakerName    string
	EvalFraction   float64
}

// Deps are the components the handlers operate on.
type Deps struct {
	Stages    *Stages
	Workspace *layout.Workspace
	Defaults  Defaults
	// UploadsDir receives multipart uploads; OutputsDir holds generated speech.
	UploadsDir string
	OutputsDir string

	Formatter DatasetFormatter
	Merger    DatasetMerger
	Datasets  DatasetCatalog
	Models    ModelCatalog
	Trainer   TrainingRunner
	Optimizer ModelOptimizer
	Hub       HubClient
	Session   InferenceSession
	Services  *ServicesStatus
}

// RegisterRoutes 注册 /api/v1 下的全部路由
func RegisterRoutes(r *gin.Engine, d *Deps) {
	v1 := r.Group("/api/v1")

	v1.GET("/datasets", HandleListDatasets(d.Datasets))
	v1.GET("/datasets/:name", HandleGetDataset(d.Datasets))
	v1.POST("/datasets", HandleCreateDataset(d))
	v1.POST("/datasets/merge", HandleMergeDatasets(d.Stages, d.Merger))

	v1.POST("/hub/login", HandleHubLogin(d.Hub))
	v1.POST("/hub/upload", HandleHubUpload(d.Stages, d.Hub, d.Workspace))

	v1.GET("/models/xtts", HandleListXTTSVersions(d.Models))
	v1.GET("/models/dvae", HandleListDVAEVersions(d.Models))
	v1.GET("/models/whisper", HandleListWhisperModels(d.Defaults.WhisperModel))

	v1.GET("/params/train", HandleTrainingParams(d.Defaults.OutPath))
	v1.POST("/train", HandleTrain(d.Stages, d.Trainer, d.Defaults))
	v1.POST("/optimize", HandleOptimize(d.Stages, d.Optimizer, d.Defaults.OutPath))
	v1.GET("/params/tts", HandleInferenceParams(d.Defaults.OutPath))

	v1.POST("/model/load", HandleLoadModel(d.Stages, d.Session))
	v1.GET("/model", HandleModelStatus(d.Session))
	v1.POST("/tts", HandleTTS(d.Stages, d.Session))
	v1.GET("/files", HandleServeFile(d.OutputsDir, d.Defaults.OutPath, d.Workspace.DatasetsDir()))

	v1.GET("/progress", HandleProgress(d.Stages))
	v1.GET("/services/status", HandleServicesStatus(d.Services))
}
