package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 定义日志初始化配置
// Level 支持 debug/info/warn/error，Environment 为 prod 时输出 JSON
// File 非空时日志同时写入按大小轮转的文件
type Config struct {
	Level       string
	Environment string
	WithSource  bool
	File        string
	MaxSizeMB   int
	MaxBackups  int
}

var (
	global *slog.Logger
	once   sync.Once
)

func levelFromString(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("invalid log level: " + level)
	}
}

func output(cfg Config) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 5
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Compress:   true,
	})
}

// New 根据配置创建新的 slog.Logger，不设置全局实例
func New(cfg Config) (*slog.Logger, error) {
	lvl, err := levelFromString(cfg.Level)
	if err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl, AddSource: cfg.WithSource}
	w := output(cfg)
	var handler slog.Handler
	if strings.ToLower(cfg.Environment) == "prod" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return slog.New(handler), nil
}

// Init 初始化全局日志实例，重复调用将返回首次创建的 logger
func Init(cfg Config) (*slog.Logger, error) {
	var initErr error
	once.Do(func() {
		global, initErr = New(cfg)
	})
	return global, initErr
}

// L 返回已初始化的全局 logger，未初始化时回退到 slog.Default
func L() *slog.Logger {
	if global == nil {
		return slog.Default()
	}
	return global
}

// LogStage 记录流水线阶段事件的结构化日志
// stage: dataset/merge/train/optimize/load/infer
// action: start/success/error
// target: 数据集名称或输出目录
// errorCode: 错误代码（可选）
func LogStage(logger *slog.Logger, stage, action, target string, durationMs int64, errorCode string) {
	attrs := []slog.Attr{
		slog.String("stage", stage),
		slog.String("action", action),
		slog.String("target", target),
		slog.Int64("duration_ms", durationMs),
	}

	if errorCode != "" {
		attrs = append(attrs, slog.String("error_code", errorCode))
		logger.LogAttrs(context.Background(), slog.LevelError, "pipeline stage failed", attrs...)
		return
	}
	logger.LogAttrs(context.Background(), slog.LevelInfo, "pipeline stage event", attrs...)
}
