package api

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/inference"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/layout"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
)

// HandleLoadModel POST /api/v1/model/load
func HandleLoadModel(stages *Stages, session InferenceSession) gin.HandlerFunc {
	return func(c *gin.Context) {
		var paths inference.Paths
		if err := c.ShouldBindJSON(&paths); err != nil {
			badRequestResponse(c, fmt.Sprintf("invalid request: %v", err))
			return
		}

		var message string
		err := stages.Run(c, StageLoad, paths.Checkpoint, nil, func(ctx context.Context, progress pipeline.ProgressFunc) error {
			progress("loading model", 0, 1)
			var err error
			message, err = session.Load(ctx, paths)
			if err == nil {
				progress("loading model", 1, 1)
			}
			return err
		})
		if err != nil {
			errorResponse(c, err)
			return
		}
		statusResponse(c, http.StatusOK, message)
	}
}

// HandleModelStatus GET /api/v1/model
func HandleModelStatus(session InferenceSession) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, session.Status())
	}
}

// HandleTTS POST /api/v1/tts
// 失败时仍返回 {status, audio_path: null, reference_path: null}
func HandleTTS(stages *Stages, session InferenceSession) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := inference.DefaultSynthesisRequest()
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, inference.Result{Message: fmt.Sprintf("invalid request: %v", err)})
			return
		}

		params := map[string]any{
			"language":    req.Language,
			"temperature": req.Temperature,
			"top_k":       req.TopK,
			"top_p":       req.TopP,
			"use_config":  req.UseConfig,
		}
		var result *inference.Result
		err := stages.Run(c, StageInfer, req.Reference, params, func(ctx context.Context, _ pipeline.ProgressFunc) error {
			var err error
			result, err = session.Infer(ctx, req)
			return err
		})
		if err != nil {
			if result == nil {
				result = &inference.Result{Message: pipeline.Message(err)}
			}
			result.AudioPath, result.Reference = nil, nil
			c.JSON(httpStatus(err), result)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// HandleServeFile GET /api/v1/files?path=
// 只允许访问生成音频、训练输出和数据集目录下的文件
func HandleServeFile(roots ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Query("path")
		if path == "" {
			badRequestResponse(c, "path is required")
			return
		}
		if err := layout.ValidatePath(path, roots...); err != nil {
			statusResponse(c, http.StatusForbidden, "access denied")
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			badRequestResponse(c, "invalid path")
			return
		}
		if !layout.IsFile(abs) {
			notFoundResponse(c, "file")
			return
		}
		c.File(abs)
	}
}
