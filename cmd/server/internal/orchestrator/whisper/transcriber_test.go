package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/dependency"
)

// TestGoWhisperImpl tests the go-whisper HTTP client implementation.
func TestGoWhisperImpl(t *testing.T) {
	t.Run("successful transcription", func(t *testing.T) {
		var gotModel, gotLanguage, gotAudio string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/whisper/transcribe" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			require.NoError(t, r.ParseMultipartForm(1<<20))
			gotModel = r.FormValue("model")
			gotLanguage = r.FormValue("language")
			f, _, err := r.FormFile("audio")
			require.NoError(t, err)
			data, _ := io.ReadAll(f)
			gotAudio = string(data)

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"text": "Hello world",
				"segments": []map[string]interface{}{
					{"text": "Hello", "start": 0.0, "end": 1.2},
					{"text": "world", "start": 1.2, "end": 2.8},
				},
				"language": "en",
				"duration": 2.8,
			})
		}))
		defer server.Close()

		impl := NewGoWhisperImpl(server.URL + "/")

		audioPath := filepath.Join(t.TempDir(), "test.wav")
		require.NoError(t, os.WriteFile(audioPath, []byte("RIFF....WAVE"), 0644))

		result, err := impl.Transcribe(context.Background(), audioPath, &TranscribeOptions{
			Model:    "medium",
			Language: "en",
		})
		require.NoError(t, err)

		assert.Equal(t, "Hello world", result.Text)
		assert.Len(t, result.Segments, 2)
		assert.Equal(t, 2.8, result.EffectiveDuration())
		assert.Equal(t, "medium", gotModel)
		assert.Equal(t, "en", gotLanguage)
		assert.Equal(t, "RIFF....WAVE", gotAudio)
	})

	t.Run("server returns error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "internal server error"}`))
		}))
		defer server.Close()

		audioPath := filepath.Join(t.TempDir(), "test.wav")
		require.NoError(t, os.WriteFile(audioPath, []byte("RIFF....WAVE"), 0644))

		_, err := NewGoWhisperImpl(server.URL).Transcribe(context.Background(), audioPath, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
	})

	t.Run("missing audio file", func(t *testing.T) {
		_, err := NewGoWhisperImpl("http://127.0.0.1:1").Transcribe(context.Background(), "/nonexistent.wav", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open audio file")
	})

	t.Run("health check", func(t *testing.T) {
		healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer healthy.Close()
		ok, err := NewGoWhisperImpl(healthy.URL).HealthCheck(context.Background())
		assert.NoError(t, err)
		assert.True(t, ok)

		down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer down.Close()
		ok, err = NewGoWhisperImpl(down.URL).HealthCheck(context.Background())
		assert.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("name method", func(t *testing.T) {
		assert.Equal(t, "go-whisper", NewGoWhisperImpl("http://localhost:8082").Name())
	})
}

// TestLocalWhisperImpl tests the CLI-backed implementation with a fake executor.
func TestLocalWhisperImpl(t *testing.T) {
	t.Run("builds arguments and parses result object", func(t *testing.T) {
		fake := &dependency.FakeExecutor{
			ResponseToReturn: dependency.CommandResponse{
				Success: true,
				Stdout:  `{"language":"de","duration":9.5,"segments":[{"start":0,"end":4,"text":" Hallo"},{"start":4,"end":9,"text":" Welt"}]}`,
			},
		}
		impl := NewLocalWhisperImpl(fake)

		result, err := impl.Transcribe(context.Background(), "/data/a.wav", &TranscribeOptions{
			Language:    "de",
			Device:      "cuda",
			ComputeType: "float16",
		})
		require.NoError(t, err)
		assert.Equal(t, "de", result.Language)
		assert.Equal(t, 9.5, result.Duration)
		assert.Len(t, result.Segments, 2)
		assert.Equal(t, "Hallo Welt", result.Text)

		reqs := fake.Executed()
		require.Len(t, reqs, 1)
		assert.Equal(t, CommandName, reqs[0].Command)
		assert.Equal(t, []string{
			"transcribe", DefaultModel, "/data/a.wav", "--format", "json", "--temperature", "0.0",
			"--language", "de", "--device", "cuda", "--compute-type", "float16",
		}, reqs[0].Args)
		assert.Equal(t, DefaultTimeout, reqs[0].Timeout)
	})

	t.Run("command failure", func(t *testing.T) {
		fake := &dependency.FakeExecutor{
			ResponseToReturn: dependency.CommandResponse{ExitCode: 1, Stderr: "CUDA out of memory"},
			ErrorToReturn:    errors.New("whisper exited with code 1"),
		}
		_, err := NewLocalWhisperImpl(fake).Transcribe(context.Background(), "/data/a.wav", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "CUDA out of memory")
	})

	t.Run("health check", func(t *testing.T) {
		fake := &dependency.FakeExecutor{ResponseToReturn: dependency.CommandResponse{Success: true, Stdout: "1.0.3\n"}}
		ok, err := NewLocalWhisperImpl(fake).HealthCheck(context.Background())
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{"version"}, fake.Executed()[0].Args)

		empty := &dependency.FakeExecutor{ResponseToReturn: dependency.CommandResponse{Success: true}}
		ok, err = NewLocalWhisperImpl(empty).HealthCheck(context.Background())
		assert.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("name method", func(t *testing.T) {
		assert.Equal(t, "local-whisper", NewLocalWhisperImpl(&dependency.FakeExecutor{}).Name())
	})
}

func TestParseOutput(t *testing.T) {
	t.Run("segment stream", func(t *testing.T) {
		out := "{\n  \"start\": 0,\n  \"end\": 2.5,\n  \"text\": \"one\"\n}\n{\"start\": 2.5, \"end\": 6, \"text\": \"two\"}\n"
		result, err := ParseOutput([]byte(out))
		require.NoError(t, err)
		require.Len(t, result.Segments, 2)
		assert.Equal(t, 1, result.Segments[1].ID)
		assert.Equal(t, "one two", result.Text)
		assert.Equal(t, 0.0, result.Duration)
		assert.Equal(t, 6.0, result.EffectiveDuration())
	})

	t.Run("empty output", func(t *testing.T) {
		_, err := ParseOutput([]byte("  \n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no segments")
	})

	t.Run("garbage output", func(t *testing.T) {
		_, err := ParseOutput([]byte("Traceback (most recent call last):"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse")
	})
}

func TestStaticTranscriber(t *testing.T) {
	st := NewStaticTranscriber().
		Set("a.wav", &TranscriptionResult{Segments: []TranscriptionSegment{{Start: 0, End: 3, Text: "hi"}}, Duration: 3}).
		Fail("b.wav", errors.New("decode error"))

	result, err := st.Transcribe(context.Background(), "/x/a.wav", &TranscribeOptions{Language: "fr"})
	require.NoError(t, err)
	assert.Equal(t, "fr", result.Language)
	assert.Len(t, result.Segments, 1)

	_, err = st.Transcribe(context.Background(), "/x/b.wav", nil)
	assert.EqualError(t, err, "decode error")

	_, err = st.Transcribe(context.Background(), "/x/c.wav", nil)
	assert.Error(t, err)

	assert.Equal(t, []string{"/x/a.wav", "/x/b.wav", "/x/c.wav"}, st.Calls())
	ok, _ := st.HealthCheck(context.Background())
	assert.True(t, ok)
}
