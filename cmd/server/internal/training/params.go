package training

import (
	"github.com/houzhh15/xtts-webui/cmd/server/internal/dataset"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/layout"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
)

// TrainingParams are the dataset inputs found in an output directory.
type TrainingParams struct {
	Message       string `json:"status"`
	TrainManifest string `json:"train_csv"`
	EvalManifest  string `json:"eval_csv"`
	Language      string `json:"language"`
}

// LoadTrainingParams reads <output>/dataset. Language is empty when lang.txt is absent.
func LoadTrainingParams(outPath string) (*TrainingParams, error) {
	out := layout.NewOutput(outPath)
	if outPath == "" || !layout.IsDir(out.DatasetDir()) {
		return nil, pipeline.Precondition(pipeline.PARAMS_NOT_FOUND, "The output folder does not exist!")
	}
	lang, _, err := dataset.ReadLanguage(out.DatasetDir())
	if err != nil {
		return nil, err
	}
	return &TrainingParams{
		Message:       "The data has been updated",
		TrainManifest: out.DatasetFile(layout.TrainManifest),
		EvalManifest:  out.DatasetFile(layout.EvalManifest),
		Language:      lang,
	}, nil
}

// InferenceParams point at the artifacts in <output>/ready.
type InferenceParams struct {
	Message    string `json:"status"`
	Checkpoint string `json:"checkpoint_path"`
	Config     string `json:"config_path"`
	Vocab      string `json:"vocab_path"`
	Speakers   string `json:"speaker_path"`
	Reference  string `json:"reference_path"`
	Optimized  bool   `json:"optimized"`
}

// LoadInferenceParams prefers the optimized model.pth and falls back to
// unoptimize_model.pth.
func LoadInferenceParams(outPath string) (*InferenceParams, error) {
	out := layout.NewOutput(outPath)
	checkpoint, optimized := out.ReadyFile(layout.OptimizedModel), true
	if !layout.IsFile(checkpoint) {
		checkpoint, optimized = out.ReadyFile(layout.UnoptimizedModel), false
		if !layout.IsFile(checkpoint) {
			return nil, pipeline.Precondition(pipeline.PARAMS_NOT_FOUND, "Params for TTS not found")
		}
	}
	return &InferenceParams{
		Message:    "Params for TTS loaded",
		Checkpoint: checkpoint,
		Config:     out.ReadyFile(layout.ConfigFile),
		Vocab:      out.ReadyFile(layout.VocabFile),
		Speakers:   out.ReadyFile(layout.SpeakersFile),
		Reference:  out.ReadyFile(layout.ReferenceFile),
		Optimized:  optimized,
	}, nil
}
