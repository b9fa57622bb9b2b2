package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/utils"
)

// JSONTool works on checkpoints stored as a JSON object of sections, with the
// model section an object of tensors. It backs tests and tooling that export
// checkpoints as JSON.
type JSONTool struct{}

func readJSONCheckpoint(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return sections, nil
}

// Inspect implements Tool.
func (JSONTool) Inspect(ctx context.Context, path string) (*Manifest, error) {
	sections, err := readJSONCheckpoint(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	m := &Manifest{SizeBytes: info.Size()}
	for name := range sections {
		m.Sections = append(m.Sections, name)
	}
	sort.Strings(m.Sections)

	if raw, ok := sections[ModelSection]; ok {
		var model map[string]json.RawMessage
		if err := json.Unmarshal(raw, &model); err != nil {
			return nil, fmt.Errorf("parse model section: %w", err)
		}
		for k := range model {
			m.ModelKeys = append(m.ModelKeys, k)
		}
		sort.Strings(m.ModelKeys)
	}
	return m, nil
}

// Prune implements Tool.
func (JSONTool) Prune(ctx context.Context, src, dst string, plan PrunePlan) error {
	sections, err := readJSONCheckpoint(src)
	if err != nil {
		return err
	}
	for _, s := range plan.DropSections {
		delete(sections, s)
	}
	if raw, ok := sections[ModelSection]; ok && len(plan.DropModelKeys) > 0 {
		var model map[string]json.RawMessage
		if err := json.Unmarshal(raw, &model); err != nil {
			return fmt.Errorf("parse model section: %w", err)
		}
		for _, k := range plan.DropModelKeys {
			delete(model, k)
		}
		if sections[ModelSection], err = json.Marshal(model); err != nil {
			return err
		}
	}
	data, err := json.Marshal(sections)
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(dst, data, 0644)
}
