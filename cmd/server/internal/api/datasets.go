package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/dataset"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/utils"
	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// MaxUploadFileSize 单个上传音频的大小上限
const MaxUploadFileSize = 500 * 1024 * 1024

// CreateDatasetRequest is the JSON or multipart body of POST /datasets.
// Multipart requests carry the recordings in the "files" field.
type CreateDatasetRequest struct {
	Name         string   `json:"name" form:"name"`
	Folder       string   `json:"folder" form:"folder"`
	AudioFiles   []string `json:"audio_files" form:"-"`
	Language     string   `json:"language" form:"language"`
	WhisperModel string   `json:"whisper_model" form:"whisper_model"`
	Separate     bool     `json:"separate" form:"separate"`
	SpeakerName  string   `json:"speaker_name" form:"speaker_name"`
	EvalFraction float64  `json:"eval_fraction" form:"eval_fraction"`
}

// HandleListDatasets GET /api/v1/datasets
func HandleListDatasets(catalog DatasetCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		names := catalog.List()
		if names == nil {
			names = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"datasets": names})
	}
}

// HandleGetDataset GET /api/v1/datasets/:name
func HandleGetDataset(catalog DatasetCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := catalog.Info(c.Param("name"))
		if err != nil {
			if pipeline.CodeOf(err) == pipeline.DATASET_NOT_FOUND {
				c.JSON(http.StatusNotFound, gin.H{"status": pipeline.Message(err), "code": pipeline.DATASET_NOT_FOUND})
				return
			}
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

// HandleCreateDataset POST /api/v1/datasets
// 上传的音频先保存到 uploads/<uuid>/，处理结束后删除
func HandleCreateDataset(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateDatasetRequest
		multipart := strings.HasPrefix(c.ContentType(), "multipart/")
		if err := c.ShouldBind(&req); err != nil {
			badRequestResponse(c, fmt.Sprintf("invalid request: %v", err))
			return
		}
		if req.Name == "" {
			badRequestResponse(c, "Enter name of new dataset")
			return
		}
		if !utils.ValidateName(req.Name) {
			badRequestResponse(c, "Error: Invalid dataset name "+req.Name)
			return
		}

		if multipart {
			dir, files, err := saveUploads(c, d.UploadsDir)
			if err != nil {
				badRequestResponse(c, err.Error())
				return
			}
			if dir != "" {
				defer func() {
					if err := os.RemoveAll(dir); err != nil {
						logger.L().Warn("failed to remove upload dir", "dir", dir, "error", err)
					}
				}()
			}
			req.AudioFiles = append(req.AudioFiles, files...)
		}

		formatReq := dataset.FormatRequest{
			AudioFiles:   req.AudioFiles,
			Folder:       req.Folder,
			Language:     req.Language,
			WhisperModel: firstNonEmpty(req.WhisperModel, d.Defaults.WhisperModel),
			OutDir:       d.Workspace.DatasetDir(req.Name),
			Separate:     req.Separate,
			SpeakerName:  firstNonEmpty(req.SpeakerName, d.Defaults.SpeakerName),
			EvalFraction: req.EvalFraction,
		}
		if formatReq.EvalFraction <= 0 {
			formatReq.EvalFraction = d.Defaults.EvalFraction
		}

		params := map[string]any{
			"language":      formatReq.Language,
			"whisper_model": formatReq.WhisperModel,
			"separate":      formatReq.Separate,
			"files":         len(formatReq.AudioFiles),
			"folder":        formatReq.Folder,
		}
		var result *dataset.FormatResult
		err := d.Stages.Run(c, StageDataset, req.Name, params, func(ctx context.Context, progress pipeline.ProgressFunc) error {
			var err error
			result, err = d.Formatter.Format(ctx, formatReq, progress)
			return err
		})
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":            "Dataset Processed!",
			"dataset":           req.Name,
			"train_csv":         result.TrainManifest,
			"eval_csv":          result.EvalManifest,
			"total_seconds":     result.TotalSeconds,
			"info":              result.Info,
			"previous_language": result.PreviousLanguage,
		})
	}
}

// saveUploads 保存 multipart "files" 字段中的音频，非音频文件被忽略
func saveUploads(c *gin.Context, root string) (string, []string, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return "", nil, fmt.Errorf("invalid multipart form: %v", err)
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return "", nil, nil
	}

	dir := filepath.Join(root, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("create upload dir: %v", err)
	}
	var saved []string
	for _, fh := range headers {
		name := filepath.Base(fh.Filename)
		if !dataset.IsAudioFile(name) {
			logger.L().Warn("ignoring non-audio upload", "file", name)
			continue
		}
		if fh.Size > MaxUploadFileSize {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("file %s exceeds the 500MB limit", name)
		}
		dst := filepath.Join(dir, fmt.Sprintf("%03d_%s", len(saved), name))
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("save %s: %v", name, err)
		}
		saved = append(saved, dst)
	}
	return dir, saved, nil
}

// HandleMergeDatasets POST /api/v1/datasets/merge
func HandleMergeDatasets(stages *Stages, merger DatasetMerger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dataset.MergeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequestResponse(c, fmt.Sprintf("invalid request: %v", err))
			return
		}

		params := map[string]any{"dataset_1": req.First, "dataset_2": req.Second, "language": req.Language}
		var result *dataset.MergeResult
		err := stages.Run(c, StageMerge, req.Destination, params, func(ctx context.Context, _ pipeline.ProgressFunc) error {
			var err error
			result, err = merger.Merge(ctx, req)
			return err
		})
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  fmt.Sprintf("Datasets %s and %s merged into %s", req.First, req.Second, req.Destination),
			"dataset": req.Destination,
			"dir":     result.Dir,
			"info":    result.Info,
		})
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
