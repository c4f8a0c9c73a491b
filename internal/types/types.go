// Package types defines the error taxonomy and small value types shared by the
// pptx translator packages.
package types

import (
	"errors"
	"fmt"
)

// GlossaryEntry 术语表条目
type GlossaryEntry struct {
	Source string `json:"source" yaml:"source" toml:"source"`
	Target string `json:"target" yaml:"target" toml:"target"`
	Notes  string `json:"notes,omitempty" yaml:"notes,omitempty" toml:"notes,omitempty"`
}

// ErrorCode 错误代码枚举
type ErrorCode string

const (
	// ErrInput 输入文件不存在、扩展名错误或不是有效的 zip 包
	ErrInput ErrorCode = "INPUT_ERROR"
	// ErrConfig 未知的后端/识别器名称或配置文件无法解析
	ErrConfig ErrorCode = "CONFIG_ERROR"
	// ErrBackend 翻译后端的致命错误
	ErrBackend ErrorCode = "BACKEND_ERROR"
	// ErrSizeRejected 后端因批次过大而拒绝，可通过拆分恢复
	ErrSizeRejected ErrorCode = "SIZE_REJECTED"
	// ErrMissingTranslation 后端结果中缺少某个 id，回退为原文
	ErrMissingTranslation ErrorCode = "MISSING_TRANSLATION"
	// ErrOverlayPlacement 图片覆盖层无法定位，跳过
	ErrOverlayPlacement ErrorCode = "OVERLAY_PLACEMENT"
	// ErrRecognizer 图片文字识别失败
	ErrRecognizer ErrorCode = "RECOGNIZER_ERROR"
	ErrCancelled  ErrorCode = "CANCELLED"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface for AppError
func (e *AppError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails returns a copy of the error carrying details
func (e *AppError) WithDetails(format string, args ...interface{}) *AppError {
	cp := *e
	cp.Details = fmt.Sprintf(format, args...)
	return &cp
}

// NewAppError creates a new AppError with the given code, message, and optional cause
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorWithDetails creates a new AppError with details
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "" when there is none
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err's chain contains an AppError with the given code
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}
