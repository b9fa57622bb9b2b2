// Package optimizer turns the unoptimized training checkpoint into the
// deployable ready/model.pth and optionally removes training leftovers.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/checkpoint"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/layout"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/pkg/logger"
)

// Retention selects which training directories are deleted.
type Retention string

const (
	ClearNone     Retention = "none"    // delete nothing
	ClearRun      Retention = "run"     // delete <output>/run
	ClearDataset  Retention = "dataset" // delete <output>/dataset
	ClearAllTrain Retention = "all"     // delete both
)

// ParseRetention validates a retention policy; empty means "none".
func ParseRetention(s string) (Retention, error) {
	switch Retention(s) {
	case "", ClearNone:
		return ClearNone, nil
	case ClearRun, ClearDataset, ClearAllTrain:
		return Retention(s), nil
	}
	return "", pipeline.Precondition(pipeline.INVALID_REQUEST,
		fmt.Sprintf("Invalid clear_train_data value %q (expected none, run, dataset or all)", s))
}

func (r Retention) clearsRun() bool     { return r == ClearRun || r == ClearAllTrain }
func (r Retention) clearsDataset() bool { return r == ClearDataset || r == ClearAllTrain }

// ErrNoUnoptimizedModel is returned when ready/unoptimize_model.pth is absent,
// including on a repeated call after a successful optimization.
var ErrNoUnoptimizedModel = pipeline.Precondition(pipeline.NO_UNOPTIMIZED_MODEL, "Unoptimized model not found in ready folder")

// Result describes a finished optimization.
type Result struct {
	Message         string   `json:"status"`
	Checkpoint      string   `json:"checkpoint_path"`
	DroppedSections []string `json:"dropped_sections"`
	DroppedKeys     int      `json:"dropped_model_keys"`
	SizeBefore      int64    `json:"size_before"`
	SizeAfter       int64    `json:"size_after"`
}

// Optimizer prunes checkpoints through a checkpoint.Tool.
type Optimizer struct {
	tool checkpoint.Tool
}

// New creates an Optimizer.
func New(tool checkpoint.Tool) *Optimizer {
	return &Optimizer{tool: tool}
}

// Optimize writes ready/model.pth without optimizer state or DVAE weights and
// removes ready/unoptimize_model.pth. Directory cleanup is best effort.
func (o *Optimizer) Optimize(ctx context.Context, outPath string, retention Retention) (*Result, error) {
	out := layout.NewOutput(outPath)
	src := out.ReadyFile(layout.UnoptimizedModel)
	if outPath == "" || !layout.IsFile(src) {
		return nil, ErrNoUnoptimizedModel
	}
	log := logger.L().With("component", "optimizer", "output", outPath)

	if retention.clearsRun() {
		removeBestEffort(log, out.RunDir())
	}
	if retention.clearsDataset() {
		removeBestEffort(log, out.DatasetDir())
	}

	manifest, err := o.tool.Inspect(ctx, src)
	if err != nil {
		return nil, pipeline.Collaborator(pipeline.CHECKPOINT_FAILED, "Failed to read the unoptimized checkpoint", err)
	}
	plan := checkpoint.PlanPrune(manifest)

	dst := out.ReadyFile(layout.OptimizedModel)
	if err := o.tool.Prune(ctx, src, dst, plan); err != nil {
		return nil, pipeline.Collaborator(pipeline.CHECKPOINT_FAILED, "Failed to write the optimized checkpoint", err)
	}
	before := fileSize(src)
	if err := os.Remove(src); err != nil {
		log.Warn("failed to remove unoptimized checkpoint", "error", err)
	}

	res := &Result{
		Message:         fmt.Sprintf("Model optimized and saved at %s!", dst),
		Checkpoint:      dst,
		DroppedSections: plan.DropSections,
		DroppedKeys:     len(plan.DropModelKeys),
		SizeBefore:      before,
		SizeAfter:       fileSize(dst),
	}
	log.Info("checkpoint optimized", "dropped_sections", res.DroppedSections, "dropped_keys", res.DroppedKeys,
		"size_before", res.SizeBefore, "size_after", res.SizeAfter)
	return res, nil
}

func removeBestEffort(log *slog.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("failed to delete training data", "dir", dir, "error", err)
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
