package whisper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// GoWhisperImpl implements WhisperTranscriber for an HTTP whisper service speaking the
// go-whisper REST API (POST /api/whisper/transcribe, multipart/form-data).
type GoWhisperImpl struct {
	apiURL     string       // Base URL of the service (e.g., "http://whisper:80")
	httpClient *http.Client // Reusable HTTP client; per-call deadlines come from the context
}

// NewGoWhisperImpl creates a new GoWhisperImpl instance with the specified API URL.
func NewGoWhisperImpl(apiURL string) *GoWhisperImpl {
	return &GoWhisperImpl{
		apiURL:     strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{},
	}
}

// Transcribe streams the audio file as multipart form data to the service.
// The body is produced through an io.Pipe so long source recordings are never
// buffered in memory.
func (g *GoWhisperImpl) Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(ctx, options.timeout())
	defer cancel()

	fields := map[string]string{
		"model":           options.model(),
		"response_format": "json",
		"temperature":     "0.0",
	}
	if options != nil {
		if options.Language != "" {
			fields["language"] = options.Language
		}
		if options.Prompt != "" {
			fields["prompt"] = options.Prompt
		}
		if options.Temperature > 0 {
			fields["temperature"] = fmt.Sprintf("%.1f", options.Temperature)
		}
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(writer, file, filepath.Base(audioPath), fields))
	}()

	endpoint := g.apiURL + "/api/whisper/transcribe"
	log := logger.L().With("component", "go-whisper")
	log.Debug("sending transcription request", "endpoint", endpoint, "audio", audioPath, "model", fields["model"])

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Error("transcription request rejected", "status", resp.StatusCode, "body", string(bodyBytes))
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result TranscriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	if result.Segments == nil {
		result.Segments = []TranscriptionSegment{}
	}
	log.Debug("transcription finished", "segments", len(result.Segments), "elapsed", time.Since(start))
	return &result, nil
}

func writeForm(writer *multipart.Writer, audio io.Reader, filename string, fields map[string]string) error {
	// go-whisper API uses the 'audio' field name
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return fmt.Errorf("failed to copy file data: %w", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to write %s field: %w", k, err)
		}
	}
	return writer.Close()
}

// HealthCheck sends GET /api/whisper/model and reports healthy on 200 OK.
func (g *GoWhisperImpl) HealthCheck(ctx context.Context) (bool, error) {
	endpoint := g.apiURL + "/api/whisper/model"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	return false, fmt.Errorf("health check failed: status %d", resp.StatusCode)
}

// Name returns the identifier of this transcriber implementation.
func (g *GoWhisperImpl) Name() string {
	return "go-whisper"
}
