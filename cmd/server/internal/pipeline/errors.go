// Package pipeline holds the pieces shared by every pipeline stage: the error
// taxonomy, coarse progress reporting and the single-active-stage gate.
package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Kind 表示错误所属类别，决定 API 层的呈现方式
type Kind string

const (
	// KindPrecondition 缺少必填字段或文件、名称冲突等，直接以消息返回
	KindPrecondition Kind = "precondition"

	// KindCollaborator 外部协作组件（Whisper、训练器、推理进程）失败
	KindCollaborator Kind = "collaborator"

	// KindFilesystem 清理阶段的文件系统错误，仅记录不上抛
	KindFilesystem Kind = "filesystem"

	// KindResource 资源不可用（如磁盘空间不足）
	KindResource Kind = "resource"
)

// ErrorCode 表示具体错误代码
type ErrorCode string

const (
	NO_AUDIO_FILES        ErrorCode = "NO_AUDIO_FILES"
	DURATION_TOO_SHORT    ErrorCode = "DURATION_TOO_SHORT"
	TOO_FEW_SEGMENTS      ErrorCode = "TOO_FEW_SEGMENTS"
	TRANSCRIPTION_FAILED  ErrorCode = "TRANSCRIPTION_FAILED"
	SEPARATION_FAILED     ErrorCode = "SEPARATION_FAILED"
	SLICING_FAILED        ErrorCode = "SLICING_FAILED"
	DATASET_NOT_FOUND     ErrorCode = "DATASET_NOT_FOUND"
	DATASET_EXISTS        ErrorCode = "DATASET_EXISTS"
	INVALID_REQUEST       ErrorCode = "INVALID_REQUEST"
	LANGUAGE_MISMATCH     ErrorCode = "LANGUAGE_MISMATCH"
	TRAINING_FAILED       ErrorCode = "TRAINING_FAILED"
	BASE_MODEL_MISSING    ErrorCode = "BASE_MODEL_MISSING"
	NO_UNOPTIMIZED_MODEL  ErrorCode = "NO_UNOPTIMIZED_MODEL"
	CHECKPOINT_FAILED     ErrorCode = "CHECKPOINT_FAILED"
	PARAMS_NOT_FOUND      ErrorCode = "PARAMS_NOT_FOUND"
	MODEL_NOT_LOADED      ErrorCode = "MODEL_NOT_LOADED"
	MODEL_LOAD_FAILED     ErrorCode = "MODEL_LOAD_FAILED"
	INFERENCE_FAILED      ErrorCode = "INFERENCE_FAILED"
	HUB_FAILED            ErrorCode = "HUB_FAILED"
	DISK_FULL             ErrorCode = "DISK_FULL"
	STAGE_BUSY            ErrorCode = "STAGE_BUSY"
	CLEANUP_FAILED        ErrorCode = "CLEANUP_FAILED"
)

// SummaryLimit 限制返回给调用方的协作组件错误摘要长度
const SummaryLimit = 500

// Error 表示流水线阶段错误
type Error struct {
	Kind      Kind      `json:"kind"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现错误链支持
func (e *Error) Unwrap() error {
	return e.Cause
}

// Summary 返回可展示给用户的消息，协作组件错误附带截断后的原因
func (e *Error) Summary() string {
	if e.Kind != KindCollaborator || e.Cause == nil {
		return e.Message
	}
	return e.Message + "\nError summary: " + Truncate(e.Cause.Error(), SummaryLimit)
}

// NewError 创建新的流水线错误
func NewError(kind Kind, code ErrorCode, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// Precondition 创建前置条件错误
func Precondition(code ErrorCode, message string) *Error {
	return NewError(KindPrecondition, code, message, nil)
}

// Collaborator 创建协作组件失败错误
func Collaborator(code ErrorCode, message string, cause error) *Error {
	return NewError(KindCollaborator, code, message, cause)
}

// Resource 创建资源不可用错误
func Resource(code ErrorCode, message string, cause error) *Error {
	return NewError(KindResource, code, message, cause)
}

// As 提取错误链中的 *Error
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// CodeOf 返回错误代码，非流水线错误返回空字符串
func CodeOf(err error) ErrorCode {
	if pe, ok := As(err); ok {
		return pe.Code
	}
	return ""
}

// Message 返回适合展示给用户的消息
func Message(err error) string {
	if err == nil {
		return ""
	}
	if pe, ok := As(err); ok {
		return pe.Summary()
	}
	return Truncate(err.Error(), SummaryLimit)
}

// Truncate 按 rune 截断字符串
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
