package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOrderNotFound 订单不存在或已处于终态
var ErrOrderNotFound = errors.New("order not found")

// ErrLockContention 订单被撮合周期锁定，有界重试耗尽。客户端可稍后重试。
var ErrLockContention = errors.New("order is locked by a matching cycle")

// ValidationError 入场校验失败，直接返回调用方，不重试
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError 构造校验错误
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// IsValidation 判断是否为校验错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientStoreError 数据存储瞬时故障。周期内出现时使当前批次失败并释放锁。
type TransientStoreError struct {
	Op  string
	Err error
}

// NewTransientStoreError 包装存储层错误
func NewTransientStoreError(op string, err error) *TransientStoreError {
	return &TransientStoreError{Op: op, Err: err}
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error in %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

// InvariantViolation 内部不变量被破坏。CRITICAL 日志并使周期失败，不崩溃进程。
type InvariantViolation struct {
	Msg    string
	Fields []string
}

// NewInvariantViolation 构造不变量错误，fields 为 key, value 交替
func NewInvariantViolation(msg string, fields ...string) *InvariantViolation {
	return &InvariantViolation{Msg: msg, Fields: fields}
}

func (e *InvariantViolation) Error() string {
	if len(e.Fields) == 0 {
		return "invariant violation: " + e.Msg
	}
	return fmt.Sprintf("invariant violation: %s (%s)", e.Msg, strings.Join(e.Fields, "="))
}

// IsInvariantViolation 判断是否为不变量错误
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}
