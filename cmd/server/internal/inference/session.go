// Package inference owns the loaded XTTS model and turns text into speech.
package inference

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/layout"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/pkg/logger"
	"github.com/houzhh15/xtts-webui/pkg/metrics"
)

// State of a Session.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
)

// Paths are the files a model is loaded from.
type Paths struct {
	Checkpoint string `json:"checkpoint_path"`
	Config     string `json:"config_path"`
	Vocab      string `json:"vocab_path"`
	Speakers   string `json:"speaker_path"`
}

// SynthesisRequest carries the text and sampling parameters for one utterance.
type SynthesisRequest struct {
	Language          string  `json:"language"`
	Text              string  `json:"text"`
	Reference         string  `json:"reference_audio"`
	Temperature       float64 `json:"temperature"`
	LengthPenalty     float64 `json:"length_penalty"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	TopK              int     `json:"top_k"`
	TopP              float64 `json:"top_p"`
	SentenceSplit     bool    `json:"sentence_split"`
	UseConfig         bool    `json:"use_config"`
}

// DefaultSynthesisRequest returns the sampling defaults of the control panel.
func DefaultSynthesisRequest() SynthesisRequest {
	return SynthesisRequest{
		Temperature:       0.75,
		LengthPenalty:     1,
		RepetitionPenalty: 5,
		TopK:              50,
		TopP:              0.85,
		SentenceSplit:     true,
	}
}

// Model is a loaded model.
type Model interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (samples []float32, sampleRate int, err error)
	ClearCache(ctx context.Context) error
	GPU() bool
	Close() error
}

// Loader creates a Model from checkpoint files.
type Loader interface {
	Load(ctx context.Context, paths Paths) (Model, error)
}

// Result of a synthesis.
type Result struct {
	Message   string  `json:"status"`
	AudioPath *string `json:"audio_path"`
	Reference *string `json:"reference_path"`
	Seconds   float64 `json:"seconds,omitempty"`
}

// Status is a snapshot of the session.
type Status struct {
	State    State     `json:"state"`
	Paths    *Paths    `json:"paths,omitempty"`
	GPU      bool      `json:"gpu"`
	LoadedAt time.Time `json:"loaded_at,omitempty"`
}

const (
	msgMissingPaths = "You need to run the previous steps or manually set the `XTTS checkpoint path`, `XTTS config path`, `XTTS vocab path` and `XTTS speaker path` fields !!"
	msgNotLoaded    = "You need to run the previous step to load the model !!"
)

// Session holds at most one loaded model. Loading replaces the current
// model; a failed load leaves the session unloaded.
type Session struct {
	loader Loader
	outDir string

	// work serializes everything that touches the model; mu guards the
	// fields below so Status never waits on a load or a synthesis.
	work     sync.Mutex
	mu       sync.Mutex
	state    State
	model    Model
	paths    Paths
	loadedAt time.Time
}

// NewSession creates an unloaded session writing generated audio to outDir.
func NewSession(loader Loader, outDir string) *Session {
	return &Session{loader: loader, outDir: outDir, state: StateUnloaded}
}

// Load loads the model at paths, releasing the previous one first.
func (s *Session) Load(ctx context.Context, paths Paths) (string, error) {
	if paths.Checkpoint == "" || paths.Config == "" || paths.Vocab == "" || paths.Speakers == "" {
		return "", pipeline.Precondition(pipeline.INVALID_REQUEST, msgMissingPaths)
	}
	for _, p := range []string{paths.Checkpoint, paths.Config, paths.Vocab, paths.Speakers} {
		if !layout.IsFile(p) {
			return "", pipeline.Precondition(pipeline.PARAMS_NOT_FOUND, "File not found: "+p)
		}
	}

	s.work.Lock()
	defer s.work.Unlock()
	log := logger.L().With("component", "inference", "checkpoint", paths.Checkpoint)

	s.mu.Lock()
	prev := s.model
	s.model = nil
	s.paths = Paths{}
	s.state = StateLoading
	s.mu.Unlock()
	metrics.SetModelLoaded(false)

	if prev != nil {
		if err := prev.Close(); err != nil {
			log.Warn("failed to release previous model", "error", err)
		}
	}

	log.Info("loading XTTS model")
	model, err := s.loader.Load(ctx, paths)
	if err != nil {
		s.setState(StateUnloaded)
		log.Error("model load failed", "error", err)
		return "", pipeline.Collaborator(pipeline.MODEL_LOAD_FAILED,
			"The model could not be loaded !! Please check the console to verify the full error message!", err)
	}
	if !model.GPU() {
		log.Info("no GPU reported by the worker, running on CPU")
	}

	s.mu.Lock()
	s.model = model
	s.paths = paths
	s.state = StateLoaded
	s.loadedAt = time.Now()
	s.mu.Unlock()
	metrics.SetModelLoaded(true)
	log.Info("model loaded", "gpu", model.GPU())
	return "Model Loaded!", nil
}

// Infer generates speech with the loaded model and writes a 24 kHz wav.
// Precondition failures carry a message and no paths.
func (s *Session) Infer(ctx context.Context, req SynthesisRequest) (*Result, error) {
	s.work.Lock()
	defer s.work.Unlock()

	s.mu.Lock()
	model := s.model
	s.mu.Unlock()

	if model == nil || req.Reference == "" {
		return &Result{Message: msgNotLoaded}, pipeline.Precondition(pipeline.MODEL_NOT_LOADED, msgNotLoaded)
	}
	if strings.TrimSpace(req.Text) == "" {
		return &Result{Message: "Text is required"}, pipeline.Precondition(pipeline.INVALID_REQUEST, "Text is required")
	}
	if !layout.IsFile(req.Reference) {
		msg := "Reference audio not found: " + req.Reference
		return &Result{Message: msg}, pipeline.Precondition(pipeline.INVALID_REQUEST, msg)
	}

	start := time.Now()
	samples, rate, err := model.Synthesize(ctx, req)
	if err != nil {
		logger.L().Error("synthesis failed", "component", "inference", "error", err)
		perr := pipeline.Collaborator(pipeline.INFERENCE_FAILED,
			"The speech generation was interrupted due an error !! Please check the console to verify the full error message!", err)
		return &Result{Message: perr.Summary()}, perr
	}
	if rate != OutputSampleRate {
		perr := pipeline.Collaborator(pipeline.INFERENCE_FAILED, "The speech generation returned audio at an unexpected sample rate",
			fmt.Errorf("worker returned %d Hz, want %d Hz", rate, OutputSampleRate))
		logger.L().Error("synthesis failed", "component", "inference", "error", perr)
		return &Result{Message: perr.Summary()}, perr
	}

	if err := os.MkdirAll(s.outDir, 0755); err != nil {
		return nil, err
	}
	out := filepath.Join(s.outDir, fmt.Sprintf("tts_%s.wav", uuid.NewString()))
	if err := WriteWAV(out, samples, rate); err != nil {
		return nil, fmt.Errorf("write %s: %w", out, err)
	}

	ref := req.Reference
	seconds := Duration(len(samples), rate)
	logger.L().Info("speech generated", "component", "inference", "language", req.Language,
		"seconds", seconds, "duration_ms", time.Since(start).Milliseconds())
	return &Result{Message: "Speech generated !", AudioPath: &out, Reference: &ref, Seconds: seconds}, nil
}

// ClearCache asks the loaded model to free GPU memory. It is a no-op when unloaded.
func (s *Session) ClearCache(ctx context.Context) {
	s.work.Lock()
	defer s.work.Unlock()

	s.mu.Lock()
	model := s.model
	s.mu.Unlock()
	if model == nil {
		return
	}
	if err := model.ClearCache(ctx); err != nil {
		logger.L().Warn("clear_cache failed", "component", "inference", "error", err)
	}
}

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state}
	if s.state == StateLoaded {
		p := s.paths
		st.Paths = &p
		st.GPU = s.model.GPU()
		st.LoadedAt = s.loadedAt
	}
	return st
}

// Close releases the loaded model.
func (s *Session) Close() error {
	s.work.Lock()
	defer s.work.Unlock()

	s.mu.Lock()
	model := s.model
	s.model = nil
	s.paths = Paths{}
	s.state = StateUnloaded
	s.mu.Unlock()
	if model == nil {
		return nil
	}
	metrics.SetModelLoaded(false)
	return model.Close()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
