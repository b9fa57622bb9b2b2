// Package audit 记录流水线阶段的审计日志（JSONL，按大小轮转）
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Result 阶段执行结果
type Result string

const (
	ResultSuccess  Result = "success"
	ResultFailed   Result = "failed"
	ResultRejected Result = "rejected"
)

// Entry 审计日志条目
type Entry struct {
	Timestamp  time.Time      `json:"timestamp"`
	RequestID  string         `json:"request_id,omitempty"`
	SourceIP   string         `json:"source_ip,omitempty"`
	Stage      string         `json:"stage"`            // dataset, merge, upload, train, optimize, load, infer
	Target     string         `json:"target,omitempty"` // 数据集名称或输出目录
	Result     Result         `json:"result"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Message    string         `json:"message,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Params     map[string]any `json:"params,omitempty"`
}

// Logger 审计日志记录器接口
type Logger interface {
	Record(entry Entry)
}

// FileLogger 基于 lumberjack 的审计日志实现
type FileLogger struct {
	mu     sync.Mutex
	logger *log.Logger
	closer io.Closer
}

// NewFileLogger 创建审计日志记录器，日志按 100MB 轮转，保留 10 个旧文件/30 天
func NewFileLogger(path string) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // MB
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
	return &FileLogger{logger: log.New(writer, "", 0), closer: writer}, nil
}

// NewWriterLogger 将审计日志写入任意 writer（测试或标准输出）
func NewWriterLogger(w io.Writer) *FileLogger {
	return &FileLogger{logger: log.New(w, "", 0)}
}

// Record 写入一条审计日志，序列化失败时静默丢弃
func (f *FileLogger) Record(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logger.Println(string(data))
}

// Close 关闭底层文件
func (f *FileLogger) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// Nop 丢弃所有审计日志
type Nop struct{}

// Record 实现 Logger
func (Nop) Record(Entry) {}
