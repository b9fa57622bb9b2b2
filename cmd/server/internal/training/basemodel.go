package training

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/layout"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// DefaultModels are the published XTTS revisions that can be fetched on demand.
var DefaultModels = []string{"main", "v2.0.3", "v2.0.2", "v2.0.1", "v2.0.0"}

// DefaultVersion is preselected when a training request names no version.
const DefaultVersion = "v2.0.2"

// DVAETrainFromDataset selects fine-tuning the DVAE on the dataset before the GPT pass.
const DVAETrainFromDataset = "train and use from dataset"

// XTTSFiles are required in base_models/xtts/<version>/.
var XTTSFiles = []string{
	layout.BaseCheckpointFile,
	layout.ConfigFile,
	layout.VocabFile,
	layout.SpeakersFile,
	layout.DVAECheckpointFile,
	layout.MelStatsFile,
}

// DVAEFiles are required in base_models/dvae/<version>/.
var DVAEFiles = []string{layout.DVAECheckpointFile, layout.MelStatsFile}

// Fetcher downloads a single file of a model repository.
type Fetcher interface {
	Download(ctx context.Context, repoID, revision, file, dst string) error
}

// BaseModels resolves base model versions to directories, downloading
// published revisions that are missing locally.
type BaseModels struct {
	ws      *layout.Workspace
	fetcher Fetcher
	repo    string
}

// NewBaseModels creates a BaseModels. fetcher may be nil, in which case only
// local directories are used.
func NewBaseModels(ws *layout.Workspace, fetcher Fetcher, repo string) *BaseModels {
	return &BaseModels{ws: ws, fetcher: fetcher, repo: repo}
}

// XTTSVersions lists DefaultModels followed by local directories under base_models/xtts.
func (b *BaseModels) XTTSVersions() []string {
	return withLocal(DefaultModels, layout.ListDirs(b.ws.XTTSRoot()))
}

// DVAEVersions lists the DVAE choices; training from the dataset comes first.
func (b *BaseModels) DVAEVersions() []string {
	return withLocal(append([]string{DVAETrainFromDataset}, DefaultModels...), layout.ListDirs(b.ws.DVAERoot()))
}

func withLocal(defaults, local []string) []string {
	out := append([]string(nil), defaults...)
	seen := make(map[string]bool, len(out))
	for _, v := range out {
		seen[v] = true
	}
	sort.Strings(local)
	for _, v := range local {
		if !seen[v] {
			out = append(out, v)
		}
	}
	return out
}

func isDefault(version string) bool {
	for _, v := range DefaultModels {
		if v == version {
			return true
		}
	}
	return false
}

// EnsureXTTS returns base_models/xtts/<version>, fetching missing files of a
// published revision.
func (b *BaseModels) EnsureXTTS(ctx context.Context, version string) (string, error) {
	return b.ensure(ctx, "xtts", version, b.ws.XTTSModelDir(version), XTTSFiles)
}

// EnsureDVAE returns base_models/dvae/<version>. Published revisions take the
// DVAE files from the XTTS repository.
func (b *BaseModels) EnsureDVAE(ctx context.Context, version string) (string, error) {
	return b.ensure(ctx, "dvae", version, b.ws.DVAEModelDir(version), DVAEFiles)
}

func (b *BaseModels) ensure(ctx context.Context, kind, version, dir string, files []string) (string, error) {
	if version == "" {
		return "", pipeline.Precondition(pipeline.INVALID_REQUEST, "Base model version is required")
	}
	var missing []string
	for _, f := range files {
		if !layout.IsFile(filepath.Join(dir, f)) {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return dir, nil
	}
	if !isDefault(version) || b.fetcher == nil {
		return "", pipeline.Precondition(pipeline.BASE_MODEL_MISSING,
			fmt.Sprintf("Base %s model %s is incomplete, missing: %v", kind, version, missing))
	}

	log := logger.L().With("component", "base_models", "kind", kind, "version", version)
	for _, f := range missing {
		log.Info("downloading base model file", "file", f)
		if err := b.fetcher.Download(ctx, b.repo, version, f, filepath.Join(dir, f)); err != nil {
			return "", pipeline.Collaborator(pipeline.HUB_FAILED,
				fmt.Sprintf("Failed to download base %s model %s", kind, version), err)
		}
	}
	return dir, nil
}
