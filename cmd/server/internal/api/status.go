package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/inference"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/degradation"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
)

// ProgressResponse GET /progress 响应
type ProgressResponse struct {
	Active string              `json:"active"`
	Since  *time.Time          `json:"since,omitempty"`
	Stages []pipeline.Snapshot `json:"stages"`
}

// HandleProgress GET /api/v1/progress
// 返回当前运行的阶段以及每个阶段最后一次上报的进度
func HandleProgress(stages *Stages) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := ProgressResponse{Stages: stages.Tracker().All()}
		if resp.Stages == nil {
			resp.Stages = []pipeline.Snapshot{}
		}
		if active, since := stages.Gate().Active(); active != "" {
			resp.Active = active
			resp.Since = &since
		}
		c.JSON(http.StatusOK, resp)
	}
}

// ServicesStatus collects the collaborator health sources. Every field may be nil.
type ServicesStatus struct {
	Transcriber *degradation.DegradationController
	Registry    *health.Registry
	Session     InferenceSession
	// Environment runs the full environment check; only called for ?env=1.
	Environment func(ctx context.Context) *orchestrator.EnvironmentStatus
}

// ServicesStatusResponse 服务状态响应
type ServicesStatusResponse struct {
	WhisperImplementation string                          `json:"whisper_implementation,omitempty"`
	WhisperDegraded       bool                            `json:"whisper_degraded"`
	Services              []health.ServiceStatus          `json:"services"`
	Model                 *inference.Status               `json:"model,omitempty"`
	Environment           *orchestrator.EnvironmentStatus `json:"environment,omitempty"`
}

// HandleServicesStatus 返回协作组件的健康状态
// GET /api/v1/services/status
func HandleServicesStatus(s *ServicesStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := ServicesStatusResponse{Services: []health.ServiceStatus{}}
		if s == nil {
			c.JSON(http.StatusOK, resp)
			return
		}

		if s.Transcriber != nil {
			resp.WhisperImplementation = s.Transcriber.GetTranscriber().Name()
			resp.WhisperDegraded = s.Transcriber.IsDegraded()
		}
		if s.Registry != nil {
			if statuses := s.Registry.Statuses(); statuses != nil {
				resp.Services = statuses
			}
		}
		if s.Session != nil {
			st := s.Session.Status()
			resp.Model = &st
		}
		if s.Environment != nil && c.Query("env") == "1" {
			resp.Environment = s.Environment(c.Request.Context())
		}
		c.JSON(http.StatusOK, resp)
	}
}
