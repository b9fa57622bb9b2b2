package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/layout"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/utils"
)

// Info is the info.json summary stored next to the manifests.
type Info struct {
	Name              string    `json:"name"`
	Language          string    `json:"language"`
	SpeakerName       string    `json:"speaker_name,omitempty"`
	WhisperModel      string    `json:"whisper_model,omitempty"`
	Separated         bool      `json:"separated,omitempty"`
	SourceFiles       int       `json:"source_files"`
	TrainRows         int       `json:"train_rows"`
	EvalRows          int       `json:"eval_rows"`
	TotalSeconds      float64   `json:"total_seconds"`
	MergedFrom        []string  `json:"merged_from,omitempty"`
	DroppedDuplicates int       `json:"dropped_duplicates,omitempty"`
	NearDuplicates    int       `json:"near_duplicate_transcripts,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// LoadInfo reads <dir>/info.json.
func LoadInfo(dir string) (Info, error) {
	var info Info
	data, err := os.ReadFile(filepath.Join(dir, layout.InfoFile))
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("parse %s: %w", layout.InfoFile, err)
	}
	return info, nil
}

// SaveInfo writes <dir>/info.json.
func SaveInfo(dir string, info Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(filepath.Join(dir, layout.InfoFile), data, 0644)
}

// ReadLanguage returns the trimmed content of <dir>/lang.txt and whether it exists.
func ReadLanguage(dir string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, layout.LangFile))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(string(data)), true, nil
}

// WriteLanguage writes lang to <dir>/lang.txt and returns the previous value, if any.
func WriteLanguage(dir, lang string) (string, error) {
	prev, _, err := ReadLanguage(dir)
	if err != nil {
		return "", err
	}
	if err := utils.WriteFileAtomic(filepath.Join(dir, layout.LangFile), []byte(lang+"\n"), 0644); err != nil {
		return prev, err
	}
	return prev, nil
}
