package dataset

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/layout"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/simhash"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/utils"
	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// MergeRequest names two existing datasets and the dataset to create.
type MergeRequest struct {
	First       string `json:"dataset_1"`
	Second      string `json:"dataset_2"`
	Destination string `json:"new_dataset_name"`
	// Language overrides the merged language when the sources disagree.
	Language string `json:"language,omitempty"`
}

// MergeResult describes the merged dataset.
type MergeResult struct {
	Dir  string `json:"dir"`
	Info Info   `json:"info"`
}

// Merger combines datasets under a Workspace.
type Merger struct {
	ws *layout.Workspace
}

// NewMerger creates a Merger.
func NewMerger(ws *layout.Workspace) *Merger {
	return &Merger{ws: ws}
}

// Merge copies the audio and manifests of both sources into a new dataset.
// Clips are renamed with ds1_/ds2_ prefixes; a clip whose bytes match an
// earlier clip is dropped together with its row. The destination is built in
// a staging directory and only renamed into place when complete.
func (m *Merger) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	first, second := m.ws.DatasetDir(req.First), m.ws.DatasetDir(req.Second)

	switch {
	case req.First == "" || !utils.ValidateName(req.First) || !layout.IsDir(first):
		return nil, pipeline.Precondition(pipeline.DATASET_NOT_FOUND, "Error: Dataset 1 not found")
	case req.Second == "" || !utils.ValidateName(req.Second) || !layout.IsDir(second):
		return nil, pipeline.Precondition(pipeline.DATASET_NOT_FOUND, "Error: Dataset 2 not found")
	case req.First == req.Second:
		return nil, pipeline.Precondition(pipeline.INVALID_REQUEST, "Error: Datasets must be different")
	case req.Destination == "":
		return nil, pipeline.Precondition(pipeline.INVALID_REQUEST, "Enter name of new dataset")
	case !utils.ValidateName(req.Destination):
		return nil, pipeline.Precondition(pipeline.INVALID_REQUEST, "Error: Invalid dataset name "+req.Destination)
	}
	dest := m.ws.DatasetDir(req.Destination)
	if layout.Exists(dest) {
		return nil, pipeline.Precondition(pipeline.DATASET_EXISTS, fmt.Sprintf("Error: Dataset %s already exists", req.Destination))
	}

	lang, err := mergedLanguage(first, second, req.Language)
	if err != nil {
		return nil, err
	}

	log := logger.L().With("component", "merger", "dataset", req.Destination)
	staging := dest + ".partial"
	if err := os.RemoveAll(staging); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(staging, layout.WavsDir), 0755); err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(staging)
		}
	}()

	seen := make(map[string]bool)
	var train, eval []Row
	dropped := 0
	for i, src := range []string{first, second} {
		prefix := fmt.Sprintf("ds%d_", i+1)
		for _, manifest := range []string{layout.TrainManifest, layout.EvalManifest} {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rows, err := ReadManifest(filepath.Join(src, manifest))
			if err != nil {
				return nil, fmt.Errorf("read %s of %s: %w", manifest, filepath.Base(src), err)
			}
			for _, row := range rows {
				audio := filepath.Join(src, filepath.FromSlash(row.AudioFile))
				sum, err := utils.CalculateMD5(audio)
				if err != nil {
					return nil, fmt.Errorf("hash %s: %w", row.AudioFile, err)
				}
				if seen[sum] {
					dropped++
					continue
				}
				seen[sum] = true

				name := prefix + path.Base(filepath.ToSlash(row.AudioFile))
				if err := utils.CopyFile(audio, filepath.Join(staging, layout.WavsDir, name)); err != nil {
					return nil, fmt.Errorf("copy %s: %w", row.AudioFile, err)
				}
				row.AudioFile = layout.WavsDir + "/" + name
				if manifest == layout.TrainManifest {
					train = append(train, row)
				} else {
					eval = append(eval, row)
				}
			}
		}
	}

	if err := WriteManifest(filepath.Join(staging, layout.TrainManifest), train); err != nil {
		return nil, err
	}
	if err := WriteManifest(filepath.Join(staging, layout.EvalManifest), eval); err != nil {
		return nil, err
	}
	if lang != "" {
		if _, err := WriteLanguage(staging, lang); err != nil {
			return nil, err
		}
	}

	texts := make([]string, 0, len(train)+len(eval))
	for _, r := range append(append([]Row{}, train...), eval...) {
		texts = append(texts, r.Text)
	}
	info := Info{
		Name:              req.Destination,
		Language:          lang,
		TrainRows:         len(train),
		EvalRows:          len(eval),
		TotalSeconds:      sourceSeconds(first) + sourceSeconds(second),
		MergedFrom:        []string{req.First, req.Second},
		DroppedDuplicates: dropped,
		NearDuplicates:    simhash.CountNearDuplicates(texts),
		CreatedAt:         time.Now().UTC(),
	}
	if err := SaveInfo(staging, info); err != nil {
		return nil, err
	}

	if err := os.Rename(staging, dest); err != nil {
		return nil, fmt.Errorf("finalize merged dataset: %w", err)
	}
	committed = true

	log.Info("datasets merged", "from", info.MergedFrom, "train", len(train), "eval", len(eval),
		"dropped_duplicates", dropped, "near_duplicates", info.NearDuplicates)
	return &MergeResult{Dir: dest, Info: info}, nil
}

// mergedLanguage picks the language of the merged dataset. Sources that
// disagree are rejected unless override names the language explicitly.
func mergedLanguage(first, second, override string) (string, error) {
	if override != "" {
		lang, err := NormalizeLanguage(override)
		if err != nil {
			return "", pipeline.Precondition(pipeline.INVALID_REQUEST, err.Error())
		}
		return lang, nil
	}
	l1, _, err := ReadLanguage(first)
	if err != nil {
		return "", err
	}
	l2, _, err := ReadLanguage(second)
	if err != nil {
		return "", err
	}
	switch {
	case l1 == "":
		return l2, nil
	case l2 == "" || l1 == l2:
		return l1, nil
	}
	return "", pipeline.Precondition(pipeline.LANGUAGE_MISMATCH,
		fmt.Sprintf("Error: Datasets have different languages (%s, %s); choose the language of the merged dataset", l1, l2))
}

func sourceSeconds(dir string) float64 {
	info, err := LoadInfo(dir)
	if err != nil {
		return 0
	}
	return info.TotalSeconds
}
