// Package errors 提供带错误码的统一错误类型
// 支持 errors.Is / errors.As 比较和错误链
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code 错误码
type Code int

const (
	CodeUnknown Code = iota
	CodeConflict
	CodeStorageError
	CodeProbeFailed
)

// TypedError 带错误码的错误
type TypedError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *TypedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *TypedError) Unwrap() error {
	return e.Cause
}

// Is 支持按错误码比较：两个 TypedError 错误码相同即视为同类
func (e *TypedError) Is(target error) bool {
	var t *TypedError
	if stderrors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New 创建带错误码的错误
func New(code Code, message string) *TypedError {
	return &TypedError{Code: code, Message: message}
}

// Newf 创建带错误码的格式化错误
func Newf(code Code, format string, args ...interface{}) *TypedError {
	return &TypedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装底层错误
func Wrap(code Code, message string, cause error) *TypedError {
	return &TypedError{Code: code, Message: message, Cause: cause}
}

// ErrConflict 资源冲突哨兵错误（用于 errors.Is 比较）
var ErrConflict = New(CodeConflict, "resource conflict")

// Is 透传标准库 errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As 透传标准库 errors.As
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
