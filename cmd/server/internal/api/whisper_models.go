package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// WhisperModels are the speech recognition models offered for dataset creation.
var WhisperModels = []string{"large-v3", "large-v2", "large", "medium", "small"}

// WhisperModelsResponse GET /models/whisper 响应
type WhisperModelsResponse struct {
	Models  []string `json:"models"`
	Default string   `json:"default"`
}

// HandleListWhisperModels GET /api/v1/models/whisper
func HandleListWhisperModels(defaultModel string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if defaultModel == "" {
			defaultModel = WhisperModels[0]
		}
		c.JSON(http.StatusOK, WhisperModelsResponse{Models: WhisperModels, Default: defaultModel})
	}
}
