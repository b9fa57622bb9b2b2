// Package layout owns the on-disk contract other tools rely on:
//
//	datasets/<name>/{metadata_train.csv, metadata_eval.csv, lang.txt, info.json, wavs/}
//	<output>/{dataset/, run/, ready/}
//	base_models/xtts/<version>/   base_models/dvae/<version>/
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Dataset file names
const (
	TrainManifest = "metadata_train.csv"
	EvalManifest  = "metadata_eval.csv"
	LangFile      = "lang.txt"
	InfoFile      = "info.json"
	WavsDir       = "wavs"
)

// Ready directory file names
const (
	ConfigFile         = "config.json"
	VocabFile          = "vocab.json"
	SpeakersFile       = "speakers_xtts.pth"
	ReferenceFile      = "reference.wav"
	OptimizedModel     = "model.pth"
	UnoptimizedModel   = "unoptimize_model.pth"
	BaseCheckpointFile = "model.pth"
	DVAECheckpointFile = "dvae.pth"
	MelStatsFile       = "mel_stats.pth"
)

// Workspace resolves the dataset and base model roots.
type Workspace struct {
	datasetsDir   string
	baseModelsDir string
}

// NewWorkspace creates a Workspace rooted at the given directories.
func NewWorkspace(datasetsDir, baseModelsDir string) *Workspace {
	return &Workspace{datasetsDir: datasetsDir, baseModelsDir: baseModelsDir}
}

// DatasetsDir returns the datasets root, e.g. "datasets".
func (w *Workspace) DatasetsDir() string {
	return w.datasetsDir
}

// DatasetDir returns the directory of a named dataset.
// Example: DatasetDir("alice") -> "datasets/alice"
func (w *Workspace) DatasetDir(name string) string {
	return filepath.Join(w.datasetsDir, name)
}

// XTTSModelDir returns base_models/xtts/<version>.
func (w *Workspace) XTTSModelDir(version string) string {
	return filepath.Join(w.baseModelsDir, "xtts", version)
}

// DVAEModelDir returns base_models/dvae/<version>.
func (w *Workspace) DVAEModelDir(version string) string {
	return filepath.Join(w.baseModelsDir, "dvae", version)
}

// XTTSRoot returns base_models/xtts.
func (w *Workspace) XTTSRoot() string {
	return filepath.Join(w.baseModelsDir, "xtts")
}

// DVAERoot returns base_models/dvae.
func (w *Workspace) DVAERoot() string {
	return filepath.Join(w.baseModelsDir, "dvae")
}

// Output describes a training run directory.
type Output struct {
	Root string
}

// NewOutput wraps an output directory path.
func NewOutput(root string) Output {
	return Output{Root: root}
}

// DatasetDir returns <output>/dataset.
func (o Output) DatasetDir() string { return filepath.Join(o.Root, "dataset") }

// RunDir returns <output>/run.
func (o Output) RunDir() string { return filepath.Join(o.Root, "run") }

// ReadyDir returns <output>/ready.
func (o Output) ReadyDir() string { return filepath.Join(o.Root, "ready") }

// ReadyStagingDir is where ready artifacts are assembled before the swap.
func (o Output) ReadyStagingDir() string { return filepath.Join(o.Root, "ready.partial") }

// ReadyFile returns <output>/ready/<name>.
func (o Output) ReadyFile(name string) string { return filepath.Join(o.ReadyDir(), name) }

// DatasetFile returns <output>/dataset/<name>.
func (o Output) DatasetFile(name string) string { return filepath.Join(o.DatasetDir(), name) }

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsFile reports whether path is a regular file.
func IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// IsDir reports whether path is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ListDirs returns the names of immediate subdirectories, or nil when dir is missing.
func ListDirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

// ValidatePath checks that path resolves inside one of the allowed roots and
// contains no traversal.
func ValidatePath(path string, roots ...string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path contains dangerous characters '..'")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	for _, root := range roots {
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if absPath == absRoot || strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
			info, err := os.Lstat(absPath)
			if err == nil && info.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("symbolic links are not allowed")
			}
			return nil
		}
	}
	return fmt.Errorf("path %s is outside the allowed directories", path)
}
