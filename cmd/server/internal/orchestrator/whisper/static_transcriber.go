package whisper

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
)

// StaticTranscriber returns canned results keyed by audio file base name.
// It backs collaborator-free tests of the dataset pipeline.
type StaticTranscriber struct {
	mu      sync.Mutex
	results map[string]*TranscriptionResult
	errs    map[string]error
	calls   []string
}

// NewStaticTranscriber creates an empty StaticTranscriber.
func NewStaticTranscriber() *StaticTranscriber {
	return &StaticTranscriber{
		results: make(map[string]*TranscriptionResult),
		errs:    make(map[string]error),
	}
}

// Set registers the result returned for files named base.
func (s *StaticTranscriber) Set(base string, result *TranscriptionResult) *StaticTranscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[base] = result
	return s
}

// Fail registers an error returned for files named base.
func (s *StaticTranscriber) Fail(base string, err error) *StaticTranscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[base] = err
	return s
}

// Calls returns the audio paths transcribed so far.
func (s *StaticTranscriber) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Transcribe returns the registered result for the file's base name.
func (s *StaticTranscriber) Transcribe(ctx context.Context, audioPath string, options *TranscribeOptions) (*TranscriptionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := filepath.Base(audioPath)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, audioPath)

	if err, ok := s.errs[base]; ok {
		return nil, err
	}
	r, ok := s.results[base]
	if !ok {
		return nil, fmt.Errorf("no canned transcription for %s", base)
	}
	cp := *r
	cp.Segments = append([]TranscriptionSegment(nil), r.Segments...)
	if options != nil && options.Language != "" {
		cp.Language = options.Language
	}
	return &cp, nil
}

// HealthCheck always reports healthy.
func (s *StaticTranscriber) HealthCheck(ctx context.Context) (bool, error) {
	return true, nil
}

// Name returns the identifier of this transcriber implementation.
func (s *StaticTranscriber) Name() string {
	return "static"
}
