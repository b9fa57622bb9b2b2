package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/optimizer"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/training"
)

// HandleListXTTSVersions GET /api/v1/models/xtts
func HandleListXTTSVersions(models ModelCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"versions": models.XTTSVersions()})
	}
}

// HandleListDVAEVersions GET /api/v1/models/dvae
func HandleListDVAEVersions(models ModelCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"versions": models.DVAEVersions()})
	}
}

// HandleTrainingParams GET /api/v1/params/train?out_path=
func HandleTrainingParams(defaultOutPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		params, err := training.LoadTrainingParams(c.DefaultQuery("out_path", defaultOutPath))
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, params)
	}
}

// HandleInferenceParams GET /api/v1/params/tts?out_path=
func HandleInferenceParams(defaultOutPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		params, err := training.LoadInferenceParams(c.DefaultQuery("out_path", defaultOutPath))
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, params)
	}
}

// HandleTrain POST /api/v1/train
// 请求中缺省的字段取命令行默认值
func HandleTrain(stages *Stages, trainer TrainingRunner, defaults Defaults) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := training.Request{
			Version:        training.DefaultVersion,
			OutPath:        defaults.OutPath,
			NumEpochs:      defaults.NumEpochs,
			BatchSize:      defaults.BatchSize,
			GradAccum:      defaults.GradAccum,
			MaxAudioLength: defaults.MaxAudioLength,
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequestResponse(c, fmt.Sprintf("invalid request: %v", err))
			return
		}
		if req.NumEpochs <= 0 || req.BatchSize <= 0 || req.GradAccum <= 0 || req.MaxAudioLength <= 0 {
			badRequestResponse(c, "num_epochs, batch_size, grad_acumm and max_audio_length must be positive")
			return
		}

		params := map[string]any{
			"version":          req.Version,
			"dvae_version":     req.DVAEVersion,
			"dataset":          req.DatasetName,
			"language":         req.Language,
			"num_epochs":       req.NumEpochs,
			"batch_size":       req.BatchSize,
			"grad_acumm":       req.GradAccum,
			"max_audio_length": req.MaxAudioLength,
		}
		var result *training.Result
		err := stages.Run(c, StageTrain, req.OutPath, params, func(ctx context.Context, progress pipeline.ProgressFunc) error {
			var err error
			result, err = trainer.Train(ctx, req, progress)
			return err
		})
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// OptimizeRequest POST /optimize 请求体
type OptimizeRequest struct {
	OutPath   string `json:"out_path"`
	Retention string `json:"retention"`
}

// HandleOptimize POST /api/v1/optimize
func HandleOptimize(stages *Stages, opt ModelOptimizer, defaultOutPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := OptimizeRequest{OutPath: defaultOutPath}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequestResponse(c, fmt.Sprintf("invalid request: %v", err))
				return
			}
		}
		retention, err := optimizer.ParseRetention(req.Retention)
		if err != nil {
			errorResponse(c, err)
			return
		}

		var result *optimizer.Result
		err = stages.Run(c, StageOptimize, req.OutPath, map[string]any{"retention": string(retention)}, func(ctx context.Context, progress pipeline.ProgressFunc) error {
			progress("pruning checkpoint", 0, 1)
			var err error
			result, err = opt.Optimize(ctx, req.OutPath, retention)
			if err == nil {
				progress("pruning checkpoint", 1, 1)
			}
			return err
		})
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
