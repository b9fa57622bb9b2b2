package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/layout"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/pkg/logger"
	"github.com/houzhh15/xtts-webui/pkg/metrics"
)

// MinTotalSeconds is the shortest combined audio accepted as a dataset.
const MinTotalSeconds = 120.0

// DefaultSegmentBuffer pads each clip on both sides, in seconds.
const DefaultSegmentBuffer = 0.2

// FormatRequest describes one "create dataset" run.
type FormatRequest struct {
	AudioFiles   []string // explicit files, used when Folder is empty
	Folder       string   // scanned recursively for wav/mp3/flac
	Language     string
	WhisperModel string
	OutDir       string // datasets/<name>
	Separate     bool   // strip background audio first
	SpeakerName  string
	EvalFraction float64
	Buffer       float64
}

// FormatResult is the outcome of a successful format run.
type FormatResult struct {
	TrainManifest    string  `json:"train_csv"`
	EvalManifest     string  `json:"eval_csv"`
	TotalSeconds     float64 `json:"total_seconds"`
	Info             Info    `json:"info"`
	PreviousLanguage string  `json:"previous_language,omitempty"`
}

// FormatterOptions carries device hints passed to the speech recognizer.
type FormatterOptions struct {
	Device       string
	ComputeType  string
	SliceWorkers int
}

// Formatter turns raw recordings into a labeled dataset.
type Formatter struct {
	transcriber whisper.WhisperTranscriber
	separator   Separator
	slicer      Slicer
	opts        FormatterOptions
}

// NewFormatter creates a Formatter. separator may be nil when separation is unavailable.
func NewFormatter(t whisper.WhisperTranscriber, sep Separator, sl Slicer, opts FormatterOptions) *Formatter {
	if opts.SliceWorkers <= 0 {
		opts.SliceWorkers = 4
	}
	return &Formatter{transcriber: t, separator: sep, slicer: sl, opts: opts}
}

type clipJob struct {
	src        string
	name       string
	start, end float64
}

// Format transcribes every input file, slices each non-empty segment into a
// clip and writes the train/eval manifests. A batch shorter than
// MinTotalSeconds is rejected; clips already written stay on disk.
func (f *Formatter) Format(ctx context.Context, req FormatRequest, progress pipeline.ProgressFunc) (*FormatResult, error) {
	if progress == nil {
		progress = pipeline.NopProgress
	}
	log := logger.L().With("component", "formatter", "dataset", filepath.Base(req.OutDir))

	files := req.AudioFiles
	if req.Folder != "" {
		listed, err := ListAudios(req.Folder)
		if err != nil {
			return nil, pipeline.Precondition(pipeline.NO_AUDIO_FILES, fmt.Sprintf("Cannot read audio folder %s: %v", req.Folder, err))
		}
		files = listed
	}
	if len(files) == 0 {
		return nil, pipeline.Precondition(pipeline.NO_AUDIO_FILES,
			"No audio files found! Please provide files via upload or specify a folder path.")
	}

	lang, err := NormalizeLanguage(req.Language)
	if err != nil {
		return nil, pipeline.Precondition(pipeline.INVALID_REQUEST, err.Error())
	}
	if req.Separate && f.separator == nil {
		return nil, pipeline.Precondition(pipeline.INVALID_REQUEST, "Background separation is not configured")
	}
	speaker := req.SpeakerName
	if speaker == "" {
		speaker = DefaultSpeaker
	}
	buffer := req.Buffer
	if buffer <= 0 {
		buffer = DefaultSegmentBuffer
	}

	wavsDir := filepath.Join(req.OutDir, layout.WavsDir)
	if err := os.MkdirAll(wavsDir, 0755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}

	var (
		rows  []Row
		jobs  []clipJob
		total float64
		stems = make(map[string]bool)
	)
	sepDir := filepath.Join(req.OutDir, ".separated")
	if req.Separate {
		defer os.RemoveAll(sepDir)
	}

	for i, file := range files {
		progress("transcribing "+filepath.Base(file), i, len(files))
		src := file

		if req.Separate {
			vocals, err := f.separator.Separate(ctx, file, sepDir)
			if err != nil {
				log.Error("separation failed", "file", file, "error", err)
				return nil, pipeline.Collaborator(pipeline.SEPARATION_FAILED,
					"The data processing was interrupted due an error !! Please check the console to verify the full error message!", err)
			}
			src = vocals
		}

		result, err := f.transcriber.Transcribe(ctx, src, &whisper.TranscribeOptions{
			Model:       req.WhisperModel,
			Language:    WhisperLanguage(lang),
			Device:      f.opts.Device,
			ComputeType: f.opts.ComputeType,
		})
		if err != nil {
			log.Error("transcription failed", "file", file, "error", err)
			return nil, pipeline.Collaborator(pipeline.TRANSCRIPTION_FAILED,
				"The data processing was interrupted due an error !! Please check the console to verify the full error message!", err)
		}

		duration := result.EffectiveDuration()
		total += duration

		stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		if stems[stem] {
			stem = fmt.Sprintf("%s_%d", stem, i)
		}
		stems[stem] = true

		for n, seg := range result.Segments {
			text := CleanTranscript(seg.Text)
			if text == "" {
				continue
			}
			start := seg.Start - buffer
			if start < 0 {
				start = 0
			}
			end := seg.End + buffer
			if duration > 0 && end > duration {
				end = duration
			}
			if end <= start {
				continue
			}
			name := fmt.Sprintf("%s_%08d.wav", stem, n)
			jobs = append(jobs, clipJob{src: src, name: name, start: start, end: end})
			rows = append(rows, Row{
				AudioFile:   layout.WavsDir + "/" + name,
				Text:        text,
				SpeakerName: speaker,
			})
		}
		log.Info("file transcribed", "file", filepath.Base(file), "segments", len(result.Segments), "seconds", duration)
	}

	progress("slicing clips", 0, len(jobs))
	if err := f.sliceAll(ctx, wavsDir, jobs, progress); err != nil {
		log.Error("slicing failed", "error", err)
		return nil, pipeline.Collaborator(pipeline.SLICING_FAILED,
			"The data processing was interrupted due an error !! Please check the console to verify the full error message!", err)
	}

	if total < MinTotalSeconds {
		log.Warn("dataset too short", "seconds", total)
		return nil, pipeline.Precondition(pipeline.DURATION_TOO_SHORT,
			"The sum of the duration of the audios that you provided should be at least 2 minutes!")
	}

	train, eval, err := Split(rows, req.EvalFraction)
	if err != nil {
		return nil, err
	}

	trainPath := filepath.Join(req.OutDir, layout.TrainManifest)
	evalPath := filepath.Join(req.OutDir, layout.EvalManifest)
	if err := WriteManifest(trainPath, train); err != nil {
		return nil, fmt.Errorf("write train manifest: %w", err)
	}
	if err := WriteManifest(evalPath, eval); err != nil {
		return nil, fmt.Errorf("write eval manifest: %w", err)
	}

	prev, err := WriteLanguage(req.OutDir, lang)
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", layout.LangFile, err)
	}
	if prev != "" && prev != lang {
		log.Warn("dataset language changed", "previous", prev, "language", lang)
	}

	info := Info{
		Name:         filepath.Base(req.OutDir),
		Language:     lang,
		SpeakerName:  speaker,
		WhisperModel: req.WhisperModel,
		Separated:    req.Separate,
		SourceFiles:  len(files),
		TrainRows:    len(train),
		EvalRows:     len(eval),
		TotalSeconds: total,
		CreatedAt:    time.Now().UTC(),
	}
	if err := SaveInfo(req.OutDir, info); err != nil {
		return nil, fmt.Errorf("write %s: %w", layout.InfoFile, err)
	}
	metrics.RecordDatasetAudio(total)
	progress("done", len(files), len(files))

	return &FormatResult{
		TrainManifest:    trainPath,
		EvalManifest:     evalPath,
		TotalSeconds:     total,
		Info:             info,
		PreviousLanguage: prev,
	}, nil
}

func (f *Formatter) sliceAll(ctx context.Context, wavsDir string, jobs []clipJob, progress pipeline.ProgressFunc) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.SliceWorkers)

	done := make(chan struct{}, len(jobs))
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := f.slicer.Slice(ctx, job.src, filepath.Join(wavsDir, job.name), job.start, job.end); err != nil {
				return fmt.Errorf("%s: %w", job.name, err)
			}
			done <- struct{}{}
			return nil
		})
	}
	err := g.Wait()
	progress("slicing clips", len(done), len(jobs))
	return err
}
