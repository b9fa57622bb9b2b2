// Package dataset builds, merges and catalogs the labeled voice datasets used
// for XTTS fine-tuning.
package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/utils"
)

// DefaultSpeaker is written to speaker_name when none is given.
const DefaultSpeaker = "coqui"

// DefaultEvalFraction is the share of rows held out for evaluation.
const DefaultEvalFraction = 0.15

// ManifestHeader is the first line of metadata_train.csv and metadata_eval.csv.
var ManifestHeader = []string{"audio_file", "text", "speaker_name"}

// Row is one manifest line. AudioFile is relative to the dataset directory.
type Row struct {
	AudioFile   string `json:"audio_file"`
	Text        string `json:"text"`
	SpeakerName string `json:"speaker_name"`
}

// WriteManifest writes rows as a pipe-delimited CSV with header, atomically.
func WriteManifest(path string, rows []Row) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '|'
	if err := w.Write(ManifestHeader); err != nil {
		return err
	}
	for _, r := range rows {
		speaker := r.SpeakerName
		if speaker == "" {
			speaker = DefaultSpeaker
		}
		if err := w.Write([]string{r.AudioFile, r.Text, speaker}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return utils.WriteFileAtomic(path, buf.Bytes(), 0644)
}

// ReadManifest reads a manifest written by WriteManifest. The header line is
// optional; a missing speaker column falls back to DefaultSpeaker.
func ReadManifest(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '|'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows []Row
	first := true
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse manifest %s: %w", path, err)
		}
		if first {
			first = false
			if len(rec) > 0 && rec[0] == ManifestHeader[0] {
				continue
			}
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("parse manifest %s: line with %d fields", path, len(rec))
		}
		row := Row{AudioFile: rec[0], Text: rec[1], SpeakerName: DefaultSpeaker}
		if len(rec) > 2 && rec[2] != "" {
			row.SpeakerName = rec[2]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Split holds out k = max(1, floor(n*fraction)) rows for evaluation, taking
// the last row of every n/k block so held-out clips spread over all sources.
// Fewer than two rows cannot yield both a train and an eval manifest.
func Split(rows []Row, fraction float64) (train, eval []Row, err error) {
	n := len(rows)
	if n < 2 {
		return nil, nil, pipeline.Precondition(pipeline.TOO_FEW_SEGMENTS,
			fmt.Sprintf("Not enough speech segments to build train and eval sets (got %d, need at least 2)", n))
	}
	if fraction <= 0 || fraction >= 1 {
		fraction = DefaultEvalFraction
	}

	k := int(math.Floor(float64(n) * fraction))
	if k < 1 {
		k = 1
	}
	if k > n-1 {
		k = n - 1
	}

	held := make(map[int]bool, k)
	for j := 1; j <= k; j++ {
		held[j*n/k-1] = true
	}
	for i, r := range rows {
		if held[i] {
			eval = append(eval, r)
		} else {
			train = append(train, r)
		}
	}
	return train, eval, nil
}
