package dataset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/layout"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/utils"
)

// Catalog lists the datasets under a Workspace.
type Catalog struct {
	ws *layout.Workspace
}

// NewCatalog creates a Catalog.
func NewCatalog(ws *layout.Workspace) *Catalog {
	return &Catalog{ws: ws}
}

// List returns dataset names sorted; staging directories are skipped.
func (c *Catalog) List() []string {
	var names []string
	for _, name := range layout.ListDirs(c.ws.DatasetsDir()) {
		if strings.HasPrefix(name, ".") || isStaging(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns the info.json of a dataset.
func (c *Catalog) Info(name string) (Info, error) {
	dir := c.ws.DatasetDir(name)
	if !utils.ValidateName(name) || !layout.IsDir(dir) {
		return Info{}, pipeline.Precondition(pipeline.DATASET_NOT_FOUND, fmt.Sprintf("Dataset %s not found", name))
	}
	info, err := LoadInfo(dir)
	if err != nil {
		return Info{}, pipeline.Precondition(pipeline.DATASET_NOT_FOUND, fmt.Sprintf("Dataset %s has no readable info: %v", name, err))
	}
	return info, nil
}

func isStaging(name string) bool {
	return strings.HasSuffix(name, ".partial")
}
