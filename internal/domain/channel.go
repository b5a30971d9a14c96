package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChannelStatus 渠道健康状态。
type ChannelStatus string

const (
	ChannelStatusActive   ChannelStatus = "active"
	ChannelStatusDegraded ChannelStatus = "degraded"
	ChannelStatusError    ChannelStatus = "error"
)

// ChannelCapabilities 渠道静态能力声明。
//
// 不变式：适配器绝不声明自己未实现的能力；
// 聚合层据此在发起网络调用前短路明显不支持的请求。
type ChannelCapabilities struct {
	CreateEmail       bool `json:"createEmail"`
	ListEmails        bool `json:"listEmails"`
	GetEmailContent   bool `json:"getEmailContent"`
	CustomDomains     bool `json:"customDomains"`
	CustomPrefix      bool `json:"customPrefix"`
	EmailExpiration   bool `json:"emailExpiration"`
	RealTimeUpdates   bool `json:"realTimeUpdates"`
	AttachmentSupport bool `json:"attachmentSupport"`
}

// ChannelConfiguration 单个渠道的运行配置。
type ChannelConfiguration struct {
	Name    string        `json:"name"`
	Enabled bool          `json:"enabled"`
	BaseURL string        `json:"baseUrl,omitempty"`
	Timeout time.Duration `json:"timeout"`
	Retries int           `json:"retries"`
	// 渠道专属凭证（如 TempMail Plus 的 epin、Mail.tm 的账户密码）
	Credentials map[string]string `json:"-"`
}

// ChannelStats 渠道累计计数器，由所属适配器独占更新。
//
// 除进程重启外不会重置。
type ChannelStats struct {
	TotalRequests       int64      `json:"totalRequests"`
	SuccessfulRequests  int64      `json:"successfulRequests"`
	FailedRequests      int64      `json:"failedRequests"`
	RequestsToday       int64      `json:"requestsToday"`
	ErrorsToday         int64      `json:"errorsToday"`
	AverageResponseTime float64    `json:"averageResponseTime"` // 毫秒
	LastRequestTime     *time.Time `json:"lastRequestTime,omitempty"`
}

// ChannelHealth 按需派生的渠道健康快照，从不落盘。
type ChannelHealth struct {
	Status       ChannelStatus `json:"status"`
	SuccessRate  float64       `json:"successRate"` // 百分比
	Uptime       float64       `json:"uptime"`      // 百分比估计
	ResponseTime int64         `json:"responseTime"` // 毫秒
	ErrorCount   int64         `json:"errorCount"`
	LastError    string        `json:"lastError,omitempty"`
	LastChecked  time.Time     `json:"lastChecked"`
}

// ResponseMetadata 每次调用附带的追踪元数据。
type ResponseMetadata struct {
	Provider     string `json:"provider"`
	ResponseTime int64  `json:"responseTime"` // 毫秒
	RequestID    string `json:"requestId"`
}

// ChannelResponse 所有核心操作的统一响应信封。
type ChannelResponse[T any] struct {
	Success  bool             `json:"success"`
	Data     T                `json:"data,omitempty"`
	Error    *ChannelError    `json:"error,omitempty"`
	Metadata ResponseMetadata `json:"metadata"`
}

// NewMetadata 生成调用元数据；RequestID 每次调用都是新的随机令牌，
// 只用于日志追踪，不承载请求语义。
func NewMetadata(provider string, elapsed time.Duration) ResponseMetadata {
	return ResponseMetadata{
		Provider:     provider,
		ResponseTime: elapsed.Milliseconds(),
		RequestID:    uuid.NewString(),
	}
}

// OK 构造成功信封。
func OK[T any](provider string, data T, elapsed time.Duration) ChannelResponse[T] {
	return ChannelResponse[T]{
		Success:  true,
		Data:     data,
		Metadata: NewMetadata(provider, elapsed),
	}
}

// Fail 构造失败信封。
func Fail[T any](provider string, err *ChannelError, elapsed time.Duration) ChannelResponse[T] {
	return ChannelResponse[T]{
		Success:  false,
		Error:    err,
		Metadata: NewMetadata(provider, elapsed),
	}
}
