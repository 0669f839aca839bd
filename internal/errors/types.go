package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误
	ErrCodeInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"

	// 调用方错误（不重试）
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidQuery ErrorCode = "INVALID_QUERY"

	// 依赖服务错误（内部重试耗尽后返回）
	ErrCodeRateLimited         ErrorCode = "RATE_LIMITED"
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeIndexUnavailable    ErrorCode = "INDEX_UNAVAILABLE"

	// 配置错误（不重试，需要运维介入）
	ErrCodeCollectionNotFound ErrorCode = "COLLECTION_NOT_FOUND"
	ErrCodeSchemaMismatch     ErrorCode = "SCHEMA_MISMATCH"

	// 调用方超时/取消边界
	ErrCodeTimeout   ErrorCode = "TIMEOUT"
	ErrCodeCancelled ErrorCode = "CANCELLED"
)

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeSystem ErrorType = iota
	ErrorTypeValidation
	ErrorTypeDependency
	ErrorTypeConfig
)

// AppError 应用错误结构体
type AppError struct {
	Code     ErrorCode   `json:"code"`
	Message  string      `json:"message"`
	Type     ErrorType   `json:"type"`
	HTTPCode int         `json:"-"`
	Details  interface{} `json:"details,omitempty"`
	Cause    error       `json:"-"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause 添加错误原因
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails 添加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// 错误构造函数

// NewInvalidInputError 创建输入无效错误（快速失败，不重试）
func NewInvalidInputError(reason string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidInput,
		Message:  reason,
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewInvalidQueryError 创建查询无效错误
func NewInvalidQueryError(reason string) *AppError {
	return &AppError{
		Code:     ErrCodeInvalidQuery,
		Message:  reason,
		Type:     ErrorTypeValidation,
		HTTPCode: http.StatusBadRequest,
	}
}

// NewRateLimitedError 创建限流错误（重试耗尽后返回）
func NewRateLimitedError(attempts int) *AppError {
	return &AppError{
		Code:     ErrCodeRateLimited,
		Message:  fmt.Sprintf("embedding provider rate limited after %d attempts", attempts),
		Type:     ErrorTypeDependency,
		HTTPCode: http.StatusTooManyRequests,
	}
}

// NewProviderUnavailableError 创建向量化服务不可用错误
func NewProviderUnavailableError(attempts int) *AppError {
	return &AppError{
		Code:     ErrCodeProviderUnavailable,
		Message:  fmt.Sprintf("embedding provider unavailable after %d attempts", attempts),
		Type:     ErrorTypeDependency,
		HTTPCode: http.StatusServiceUnavailable,
	}
}

// NewIndexUnavailableError 创建向量索引不可用错误
func NewIndexUnavailableError(attempts int) *AppError {
	return &AppError{
		Code:     ErrCodeIndexUnavailable,
		Message:  fmt.Sprintf("vector index unavailable after %d attempts", attempts),
		Type:     ErrorTypeDependency,
		HTTPCode: http.StatusServiceUnavailable,
	}
}

// NewCollectionNotFoundError 创建集合不存在错误
func NewCollectionNotFoundError(collection string) *AppError {
	return &AppError{
		Code:     ErrCodeCollectionNotFound,
		Message:  fmt.Sprintf("collection %s not found", collection),
		Type:     ErrorTypeConfig,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewSchemaMismatchError 创建集合schema不匹配错误
func NewSchemaMismatchError(collection, reason string) *AppError {
	return &AppError{
		Code:     ErrCodeSchemaMismatch,
		Message:  fmt.Sprintf("collection %s schema mismatch: %s", collection, reason),
		Type:     ErrorTypeConfig,
		HTTPCode: http.StatusInternalServerError,
	}
}

// NewTimeoutError 创建超时错误
func NewTimeoutError(operation string) *AppError {
	return &AppError{
		Code:     ErrCodeTimeout,
		Message:  fmt.Sprintf("%s timed out", operation),
		Type:     ErrorTypeDependency,
		HTTPCode: http.StatusGatewayTimeout,
	}
}

// NewCancelledError 创建取消错误
func NewCancelledError(operation string) *AppError {
	return &AppError{
		Code:     ErrCodeCancelled,
		Message:  fmt.Sprintf("%s cancelled by caller", operation),
		Type:     ErrorTypeDependency,
		HTTPCode: 499, // client closed request
	}
}

// NewSystemError 创建系统错误
func NewSystemError(message string) *AppError {
	return &AppError{
		Code:     ErrCodeInternalServer,
		Message:  message,
		Type:     ErrorTypeSystem,
		HTTPCode: http.StatusInternalServerError,
	}
}

// FromContext 将context错误映射为Timeout/Cancelled
// ctx.Err()为nil时返回nil
func FromContext(ctx context.Context, operation string) *AppError {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return NewTimeoutError(operation)
	case context.Canceled:
		return NewCancelledError(operation)
	default:
		return nil
	}
}

// IsCode 检查错误链中是否包含指定错误码
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable 瞬时错误可由调用方稍后重试；校验/配置错误不可
func IsRetryable(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case ErrCodeRateLimited, ErrCodeProviderUnavailable, ErrCodeIndexUnavailable, ErrCodeTimeout:
		return true
	default:
		return false
	}
}

// GetAppError 获取AppError，如果不是则包装为系统错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewSystemError("internal server error").WithCause(err)
}
