// Package checkpoint inspects and rewrites fine-tuned XTTS checkpoints.
// Torch pickles cannot be read natively, so the work is delegated to a Tool.
package checkpoint

import (
	"context"
	"sort"
	"strings"
)

// OptimizerSection holds optimizer state that inference never needs.
const OptimizerSection = "optimizer"

// ModelSection holds the model state dict.
const ModelSection = "model"

// Manifest describes the top-level sections of a checkpoint and the keys of
// its model state dict.
type Manifest struct {
	Sections  []string `json:"sections"`
	ModelKeys []string `json:"model_keys"`
	SizeBytes int64    `json:"size_bytes,omitempty"`
}

// PrunePlan lists what to remove when rewriting a checkpoint.
type PrunePlan struct {
	DropSections  []string `json:"drop_sections"`
	DropModelKeys []string `json:"drop_model_keys"`
}

// Empty reports whether the plan removes nothing.
func (p PrunePlan) Empty() bool {
	return len(p.DropSections) == 0 && len(p.DropModelKeys) == 0
}

// Tool reads and rewrites checkpoints.
type Tool interface {
	Inspect(ctx context.Context, path string) (*Manifest, error)
	Prune(ctx context.Context, src, dst string, plan PrunePlan) error
}

// PlanPrune drops the optimizer section and every model key that mentions
// the DVAE, which is only used while training.
func PlanPrune(m *Manifest) PrunePlan {
	var plan PrunePlan
	for _, s := range m.Sections {
		if s == OptimizerSection {
			plan.DropSections = append(plan.DropSections, s)
		}
	}
	for _, k := range m.ModelKeys {
		if strings.Contains(k, "dvae") {
			plan.DropModelKeys = append(plan.DropModelKeys, k)
		}
	}
	sort.Strings(plan.DropModelKeys)
	return plan
}
