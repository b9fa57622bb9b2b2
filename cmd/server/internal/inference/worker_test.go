package inference

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workerScript = `
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/^{"id":\([0-9]*\).*/\1/p')
  case "$line" in
    *'"op":"load"'*)
      case "$line" in
        *broken*) echo "{\"id\":$id,\"ok\":false,\"error\":\"checkpoint is corrupted\"}" ;;
        *) echo "{\"id\":$id,\"ok\":true,\"gpu\":false}" ;;
      esac ;;
    *'"op":"synthesize"'*)
      echo "loading tokenizer..."
      echo "{\"id\":$id,\"ok\":true,\"sample_rate\":24000,\"wav\":[0.5,-0.5,0.25]}" ;;
    *'"op":"clear_cache"'*) echo "{\"id\":$id,\"ok\":true}" ;;
    *'"op":"shutdown"'*) exit 0 ;;
  esac
done
`

func scriptLoader(t *testing.T) *ProcessLoader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(path, []byte(workerScript), 0755))
	return NewProcessLoader([]string{"sh", path}, map[string]string{"XTTS_TEST": "1"})
}

func TestProcessWorkerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m, err := scriptLoader(t).Load(ctx, Paths{Checkpoint: "/ready/model.pth"})
	require.NoError(t, err)
	assert.False(t, m.GPU())

	samples, rate, err := m.Synthesize(ctx, SynthesisRequest{Text: "hello", Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, 24000, rate)
	assert.Equal(t, []float32{0.5, -0.5, 0.25}, samples)

	require.NoError(t, m.ClearCache(ctx))
	require.NoError(t, m.Close())

	_, _, err = m.Synthesize(ctx, SynthesisRequest{Text: "again"})
	assert.True(t, errors.Is(err, ErrWorkerExited))
}

func TestProcessWorkerLoadError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := scriptLoader(t).Load(ctx, Paths{Checkpoint: "/ready/broken.pth"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint is corrupted")
}

func TestProcessWorkerExitsEarly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := NewProcessLoader([]string{"sh", "-c", "exit 1"}, nil).Load(ctx, Paths{})
	assert.True(t, errors.Is(err, ErrWorkerExited))

	_, err = NewProcessLoader(nil, nil).Load(ctx, Paths{})
	assert.Error(t, err)
}

func TestSessionWithProcessWorker(t *testing.T) {
	paths, ref := readyPaths(t)
	s := NewSession(scriptLoader(t), t.TempDir())

	_, err := s.Load(context.Background(), paths)
	require.NoError(t, err)
	defer s.Close()

	req := DefaultSynthesisRequest()
	req.Text, req.Reference, req.Language = "hello", ref, "en"
	res, err := s.Infer(context.Background(), req)
	require.NoError(t, err)
	assert.FileExists(t, *res.AudioPath)
}
