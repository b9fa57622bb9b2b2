package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/audit"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/middleware"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/pipeline"
	"github.com/houzhh15/xtts-webui/pkg/logger"
	"github.com/houzhh15/xtts-webui/pkg/metrics"
)

// Stage names used for the gate, progress, metrics and the audit log.
const (
	StageDataset  = "dataset"
	StageMerge    = "merge"
	StageUpload   = "upload"
	StageTrain    = "train"
	StageOptimize = "optimize"
	StageLoad     = "load"
	StageInfer    = "infer"
)

// heavyStages 开始前先请求推理进程释放 GPU 缓存
var heavyStages = map[string]bool{
	StageDataset: true,
	StageTrain:   true,
}

// CacheClearer frees accelerator memory held by the loaded model.
type CacheClearer interface {
	ClearCache(ctx context.Context)
}

// StageFunc is the body of a pipeline stage.
type StageFunc func(ctx context.Context, progress pipeline.ProgressFunc) error

// Stages runs pipeline stages one at a time.
//
// Stage bodies run on the server's base context rather than the request
// context: a closed browser tab does not abort training, shutting the
// server down does.
type Stages struct {
	base    context.Context
	gate    *pipeline.Gate
	tracker *pipeline.Tracker
	audit   audit.Logger
	cache   CacheClearer
}

// NewStages creates a stage runner. auditLog and cache may be nil.
func NewStages(base context.Context, gate *pipeline.Gate, tracker *pipeline.Tracker, auditLog audit.Logger, cache CacheClearer) *Stages {
	if base == nil {
		base = context.Background()
	}
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	return &Stages{base: base, gate: gate, tracker: tracker, audit: auditLog, cache: cache}
}

// Gate returns the gate guarding the stages.
func (s *Stages) Gate() *pipeline.Gate { return s.gate }

// Tracker returns the progress tracker.
func (s *Stages) Tracker() *pipeline.Tracker { return s.tracker }

// Run executes fn as stage. A busy gate rejects the call with STAGE_BUSY.
func (s *Stages) Run(c *gin.Context, stage, target string, params map[string]any, fn StageFunc) error {
	entry := audit.Entry{
		Timestamp: time.Now(),
		RequestID: middleware.RequestID(c),
		SourceIP:  c.ClientIP(),
		Stage:     stage,
		Target:    target,
		Params:    params,
	}
	log := logger.L()

	release, err := s.gate.TryEnter(stage)
	if err != nil {
		entry.Result = audit.ResultRejected
		entry.ErrorCode = string(pipeline.CodeOf(err))
		entry.Message = pipeline.Message(err)
		s.audit.Record(entry)
		metrics.RecordStage(stage, string(audit.ResultRejected), 0)
		return err
	}
	defer release()

	if heavyStages[stage] && s.cache != nil {
		s.cache.ClearCache(s.base)
	}

	logger.LogStage(log, stage, "start", target, 0, "")
	start := time.Now()
	err = fn(s.base, s.tracker.For(stage))
	elapsed := time.Since(start)

	entry.DurationMs = elapsed.Milliseconds()
	if err != nil {
		entry.Result = audit.ResultFailed
		entry.ErrorCode = string(pipeline.CodeOf(err))
		if entry.ErrorCode == "" {
			entry.ErrorCode = "INTERNAL"
		}
		entry.Message = pipeline.Message(err)
		logger.LogStage(log, stage, "error", target, entry.DurationMs, entry.ErrorCode)
	} else {
		entry.Result = audit.ResultSuccess
		logger.LogStage(log, stage, "success", target, entry.DurationMs, "")
	}
	s.audit.Record(entry)
	metrics.RecordStage(stage, string(entry.Result), elapsed.Seconds())
	return err
}
