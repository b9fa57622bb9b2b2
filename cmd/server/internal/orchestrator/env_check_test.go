package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	root := t.TempDir()
	cfg.Data.OutPath = filepath.Join(root, "out")
	cfg.Data.BaseModelsDir = filepath.Join(root, "base_models")
	cfg.Training.MinFreeDiskGB = 0
	cfg.Hub.Token = ""
	cfg.Collaborators.WhisperURL = ""
	cfg.Collaborators.Commands = map[string][]string{
		config.CommandFFmpeg:     {"sh"},
		config.CommandTrainer:    {"sh"},
		config.CommandCheckpoint: {"sh"},
		config.CommandInference:  {"sh"},
	}
	return cfg
}

func TestCheckEnvironmentReady(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Data.BaseModelsDir, "xtts", "v2.0.2"), 0755))

	status := CheckEnvironment(context.Background(), cfg)
	assert.True(t, status.Ready, "issues: %v", status.Issues)
	assert.Empty(t, status.Issues)
	assert.Equal(t, []string{"v2.0.2"}, status.Details.BaseModels.Versions)
	assert.False(t, status.Details.WhisperService.Configured)
	assert.True(t, status.Details.Tools[config.CommandTrainer].Available)
	assert.Contains(t, status.Warnings[0], "HUGGINGFACE_TOKEN")
}

func TestCheckEnvironmentMissingTools(t *testing.T) {
	cfg := testConfig(t)
	cfg.Collaborators.Commands[config.CommandTrainer] = []string{"sh", filepath.Join(t.TempDir(), "train.py")}
	cfg.Collaborators.Commands[config.CommandDemucs] = []string{"nonexistent_demucs_xyz"}

	status := CheckEnvironment(context.Background(), cfg)
	assert.False(t, status.Ready)
	require.Len(t, status.Issues, 1, "optional demucs only warns")
	assert.Contains(t, status.Issues[0], "trainer")
	assert.Contains(t, status.Issues[0], "script missing")
	assert.False(t, status.Details.Tools[config.CommandDemucs].Available)
}

func TestCheckEnvironmentDiskAndWhisper(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.Training.MinFreeDiskGB = 1 << 30 // 1 EiB
	cfg.Collaborators.WhisperURL = server.URL
	cfg.Hub.Token = "hf_1234567890"

	status := CheckEnvironment(context.Background(), cfg)
	assert.False(t, status.Ready)
	assert.Contains(t, status.Issues[len(status.Issues)-1], "磁盘空间不足")
	assert.True(t, status.Details.WhisperService.Configured)
	assert.False(t, status.Details.WhisperService.Reachable)
	assert.Equal(t, "hf_1...7890", status.Details.HubToken.Masked)
}
