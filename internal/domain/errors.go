package domain

import (
	"errors"
	"fmt"
	"time"
)

// ChannelErrorType 渠道错误分类。
type ChannelErrorType string

const (
	ErrorTypeNetwork        ChannelErrorType = "NETWORK_ERROR"        // 传输层失败/超时，可重试
	ErrorTypeAPI            ChannelErrorType = "API_ERROR"            // 上游有响应但载荷异常或实体不存在
	ErrorTypeAuthentication ChannelErrorType = "AUTHENTICATION_ERROR" // 认证失败，不可重试
	ErrorTypeRateLimit      ChannelErrorType = "RATE_LIMIT_ERROR"     // 上游限流
	ErrorTypeConfiguration  ChannelErrorType = "CONFIGURATION_ERROR"  // 渠道未知或配置错误，不可重试
	ErrorTypeUnknown        ChannelErrorType = "UNKNOWN_ERROR"        // 未分类错误的兜底包装
)

// ChannelError 适配器边界统一的错误形态。
//
// 所有适配器级失败在离开适配器前都必须归一化为此类型。
type ChannelError struct {
	Type        ChannelErrorType `json:"type"`
	ChannelName string           `json:"channelName"`
	Message     string           `json:"message"`
	StatusCode  int              `json:"statusCode,omitempty"`
	Retryable   bool             `json:"retryable"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Error 实现 error 接口。
func (e *ChannelError) Error() string {
	if e.ChannelName != "" {
		return fmt.Sprintf("[%s] %s: %s", e.ChannelName, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewChannelError 构造渠道错误，Retryable 由错误类型推导。
func NewChannelError(errType ChannelErrorType, channelName, message string) *ChannelError {
	return &ChannelError{
		Type:        errType,
		ChannelName: channelName,
		Message:     message,
		Retryable:   errType != ErrorTypeAuthentication && errType != ErrorTypeConfiguration,
		Timestamp:   time.Now().UTC(),
	}
}

// NewChannelErrorWithStatus 构造携带上游 HTTP 状态码的渠道错误。
func NewChannelErrorWithStatus(errType ChannelErrorType, channelName, message string, statusCode int) *ChannelError {
	err := NewChannelError(errType, channelName, message)
	err.StatusCode = statusCode
	return err
}

// WrapChannelError 将任意错误归一化为 ChannelError。
//
// 已经是 ChannelError 的原样返回，否则包装为 UNKNOWN_ERROR。
func WrapChannelError(err error, channelName string) *ChannelError {
	if err == nil {
		return nil
	}
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		return chErr
	}
	return NewChannelError(ErrorTypeUnknown, channelName, err.Error())
}
