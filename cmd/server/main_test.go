package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/config"
)

func runRoot(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()
	var got *config.Config
	cmd := newRootCmd(func(_ *cobra.Command, cfg *config.Config) error {
		got = cfg
		return nil
	})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return got, err
}

func TestFlagsOverrideConfig(t *testing.T) {
	out := filepath.Join(t.TempDir(), "models")
	cfg, err := runRoot(t, "--port", "7860", "--out_path", out, "--num_epochs", "10",
		"--batch_size", "4", "--grad_acumm", "2", "--max_audio_length", "15")
	require.NoError(t, err)

	assert.Equal(t, "7860", cfg.Server.Port)
	assert.Equal(t, out, cfg.Data.OutPath)
	assert.Equal(t, 10, cfg.Training.NumEpochs)
	assert.Equal(t, 4, cfg.Training.BatchSize)
	assert.Equal(t, 2, cfg.Training.GradAccum)
	assert.Equal(t, 15, cfg.Training.MaxAudioLength)
}

func TestUnsetFlagsKeepConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
training:
  num_epochs: 3
collaborators:
  commands:
    trainer: ["/opt/xtts/bin/python", "train.py"]
`), 0644))

	cfg, err := runRoot(t, "--config", path, "--batch_size", "8")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Training.NumEpochs)
	assert.Equal(t, 8, cfg.Training.BatchSize)
	assert.Equal(t, []string{"/opt/xtts/bin/python", "train.py"}, cfg.Collaborators.Commands[config.CommandTrainer])
	assert.NotEmpty(t, cfg.Collaborators.Commands[config.CommandFFmpeg], "unlisted commands keep their defaults")
}

func TestInvalidFlagsAreRejected(t *testing.T) {
	_, err := runRoot(t, "--num_epochs", "0")
	assert.Error(t, err)

	_, err = runRoot(t, "extra-arg")
	assert.Error(t, err)
}
