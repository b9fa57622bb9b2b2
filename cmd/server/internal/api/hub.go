package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/hub"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/layout"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/utils"
)

// HubLoginRequest POST /hub/login 请求体
type HubLoginRequest struct {
	Token string `json:"token" binding:"required"`
}

// HubUploadRequest POST /hub/upload 请求体
type HubUploadRequest struct {
	Dataset string `json:"dataset" binding:"required"`
	RepoID  string `json:"repo_id" binding:"required"`
}

// HandleHubLogin POST /api/v1/hub/login
func HandleHubLogin(client HubClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req HubLoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequestResponse(c, "Token is required")
			return
		}
		id, err := client.Authenticate(c.Request.Context(), strings.TrimSpace(req.Token))
		if err != nil {
			if errors.Is(err, hub.ErrUnauthorized) {
				statusResponse(c, http.StatusUnauthorized, "Login failed: invalid token")
				return
			}
			errorResponse(c, pipeline.Collaborator(pipeline.HUB_FAILED, "Login failed", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "Logged in as " + id.Name,
			"identity": id,
		})
	}
}

// HandleHubUpload POST /api/v1/hub/upload
func HandleHubUpload(stages *Stages, client HubClient, ws *layout.Workspace) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req HubUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequestResponse(c, "Both dataset and repo_id are required")
			return
		}
		dir := ws.DatasetDir(req.Dataset)
		if !utils.ValidateName(req.Dataset) || !layout.IsDir(dir) {
			errorResponse(c, pipeline.Precondition(pipeline.DATASET_NOT_FOUND, fmt.Sprintf("Dataset %s not found", req.Dataset)))
			return
		}

		var result *hub.UploadResult
		err := stages.Run(c, StageUpload, req.Dataset, map[string]any{"repo_id": req.RepoID}, func(ctx context.Context, progress pipeline.ProgressFunc) error {
			progress("uploading", 0, 1)
			var err error
			result, err = client.UploadDataset(ctx, req.RepoID, dir)
			if err != nil && !errors.Is(err, hub.ErrNoToken) && !errors.Is(err, hub.ErrUnauthorized) {
				return pipeline.Collaborator(pipeline.HUB_FAILED, "Upload failed", err)
			}
			progress("uploading", 1, 1)
			return err
		})
		if err != nil {
			if errors.Is(err, hub.ErrNoToken) {
				statusResponse(c, http.StatusUnauthorized, "Please log in to the hub before uploading")
				return
			}
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": fmt.Sprintf("Dataset %s uploaded to %s", req.Dataset, result.Repo),
			"result": result,
		})
	}
}
