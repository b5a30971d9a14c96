package provider

import (
	"context"
	"time"

	"tempmailhub/backend/internal/domain"
)

// Provider 是所有邮箱渠道适配器实现的统一契约。
//
// 每个适配器独立对接一个上游临时邮箱服务，把各自的会话、
// 分页、HTML 正文等怪癖翻译成这里的归一化语义。
//
// 每个操作的副作用约定：进入时渠道统计的请求计数恰好加一，
// 退出时成功/失败计数恰好加一（成功时同时折算平均延迟），
// 即使调用因前置校验提前返回也不例外。
type Provider interface {
	// Name 返回渠道名称（注册表键）。
	Name() string

	// Capabilities 返回渠道的静态能力声明。
	Capabilities() domain.ChannelCapabilities

	// Domains 返回该渠道可能签发的域名集合。
	// 上游动态分配且不可枚举时返回空切片，此时域名推断永远不会命中该渠道。
	Domains() []string

	// CreateEmail 申请一个临时邮箱地址。
	// 不支持 customDomains/customPrefix 的渠道必须静默忽略对应字段，
	// 并返回上游实际分配的地址。
	CreateEmail(ctx context.Context, req domain.CreateEmailRequest) domain.ChannelResponse[domain.CreateEmailResponse]

	// GetEmails 拉取完整收件箱并归一化，先过滤（unreadOnly/since）后分页。
	GetEmails(ctx context.Context, query domain.EmailListQuery) domain.ChannelResponse[[]domain.EmailMessage]

	// GetEmailContent 获取单封邮件内容。
	// 上游列表已含全文的渠道退化为在新拉取的列表内按 ID 查找。
	GetEmailContent(ctx context.Context, address, id, accessToken string) domain.ChannelResponse[domain.EmailMessage]

	// VerifyEmail 校验地址是否可能由该渠道签发。
	VerifyEmail(ctx context.Context, address string) domain.ChannelResponse[domain.EmailAddress]

	// GetHealth 触发一次连通性探测并与累计统计折合成健康快照。
	GetHealth(ctx context.Context) domain.ChannelHealth

	// GetStats 返回当前计数器的防御性拷贝。
	GetStats() domain.ChannelStats

	// TestConnection 对上游做最小化探活。
	TestConnection(ctx context.Context) domain.ChannelResponse[bool]
}

// BuildHealth 将探测结果与累计统计折合成健康快照。
//
// 探测失败即 error；探测成功但历史成功率低于阈值时降级为 degraded。
func BuildHealth(stats domain.ChannelStats, probe domain.ChannelResponse[bool]) domain.ChannelHealth {
	successRate := 100.0
	if stats.TotalRequests > 0 {
		successRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests) * 100
	}

	status := domain.ChannelStatusActive
	switch {
	case !probe.Success:
		status = domain.ChannelStatusError
	case stats.TotalRequests >= 10 && successRate < 80:
		status = domain.ChannelStatusDegraded
	}

	health := domain.ChannelHealth{
		Status:       status,
		SuccessRate:  successRate,
		Uptime:       successRate,
		ResponseTime: probe.Metadata.ResponseTime,
		ErrorCount:   stats.FailedRequests,
		LastChecked:  time.Now().UTC(),
	}
	if probe.Error != nil {
		health.LastError = probe.Error.Message
	}
	return health
}
