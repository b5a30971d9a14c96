// Package vanishpost 对接 vanishpost.com。
//
// 域名由服务端动态分配且不可枚举，因此 Domains() 为空，
// 域名推断永远不会选中该渠道——只能显式指定使用。
package vanishpost

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"tempmailhub/backend/internal/domain"
	"tempmailhub/backend/internal/httpclient"
	"tempmailhub/backend/internal/provider"
	"tempmailhub/backend/internal/utils"
)

const (
	// Name 渠道注册名。
	Name = "vanishpost"

	defaultBaseURL = "https://vanishpost.com"
)

type sessionResponse struct {
	EmailAddress string `json:"email_address"`
	ExpiresAt    string `json:"expires_at"`
}

type inboxMessage struct {
	Sender     string `json:"sender"`
	SenderName string `json:"sender_name"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ReceivedAt string `json:"received_at"`
}

type inboxResponse struct {
	Emails []inboxMessage `json:"emails"`
}

// Channel VanishPost 适配器。
type Channel struct {
	cfg     domain.ChannelConfiguration
	baseURL string
	client  *httpclient.Client
	tracker *provider.Tracker
	logger  *zap.Logger
}

// New 创建 VanishPost 适配器。
func New(cfg domain.ChannelConfiguration, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Channel{
		cfg:     cfg,
		baseURL: baseURL,
		client:  httpclient.New(),
		tracker: provider.NewTracker(),
		logger:  logger.With(zap.String("channel", Name)),
	}
}

// Name 实现 provider.Provider。
func (c *Channel) Name() string { return Name }

// Capabilities 实现 provider.Provider。
func (c *Channel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{
		CreateEmail:     true,
		ListEmails:      true,
		GetEmailContent: true,
		EmailExpiration: true,
	}
}

// Domains 实现 provider.Provider。域名动态分配，集合不可知。
func (c *Channel) Domains() []string { return nil }

// CreateEmail 申请新会话邮箱；域名/前缀偏好被静默忽略。
func (c *Channel) CreateEmail(ctx context.Context, _ domain.CreateEmailRequest) domain.ChannelResponse[domain.CreateEmailResponse] {
	start := time.Now()
	c.tracker.RecordRequest()

	resp, err := c.client.Post(ctx, c.baseURL+"/api/session/new", nil, c.requestOptions())
	if err != nil {
		c.tracker.RecordFailure()
		return domain.Fail[domain.CreateEmailResponse](Name,
			domain.NewChannelError(domain.ErrorTypeNetwork, Name, err.Error()), time.Since(start))
	}
	if !resp.OK {
		c.tracker.RecordFailure()
		return domain.Fail[domain.CreateEmailResponse](Name,
			domain.NewChannelErrorWithStatus(domain.ErrorTypeAPI, Name,
				fmt.Sprintf("vanishpost returned %s", resp.Status), resp.StatusCode), time.Since(start))
	}

	var session sessionResponse
	if err := resp.JSON(&session); err != nil || session.EmailAddress == "" {
		c.tracker.RecordFailure()
		return domain.Fail[domain.CreateEmailResponse](Name,
			domain.NewChannelError(domain.ErrorTypeAPI, Name, "invalid response: missing address"), time.Since(start))
	}

	username, addrDomain, ok := domain.SplitAddress(session.EmailAddress)
	if !ok {
		c.tracker.RecordFailure()
		return domain.Fail[domain.CreateEmailResponse](Name,
			domain.NewChannelError(domain.ErrorTypeAPI, Name, "invalid response: malformed address"), time.Since(start))
	}

	result := domain.CreateEmailResponse{
		Address:  session.EmailAddress,
		Domain:   addrDomain,
		Username: username,
		Provider: Name,
	}
	if session.ExpiresAt != "" {
		expiresAt := utils.ParseDate(session.ExpiresAt)
		result.ExpiresAt = &expiresAt
	}

	c.tracker.RecordSuccess(time.Since(start))
	return domain.OK(Name, result, time.Since(start))
}

// GetEmails 拉取收件箱（上游直接返回全文），先过滤后分页。
func (c *Channel) GetEmails(ctx context.Context, query domain.EmailListQuery) domain.ChannelResponse[[]domain.EmailMessage] {
	start := time.Now()
	c.tracker.RecordRequest()

	emails, chErr := c.fetchInbox(ctx, query.Address)
	if chErr != nil {
		c.tracker.RecordFailure()
		return domain.Fail[[]domain.EmailMessage](Name, chErr, time.Since(start))
	}

	c.tracker.RecordSuccess(time.Since(start))
	return domain.OK(Name, domain.FilterAndPaginate(emails, query), time.Since(start))
}

// GetEmailContent 获取单封邮件。上游无内容接口，退化为列表内查找。
// 已知局限：ID 按列表位置合成，只在同一次快照内稳定。
func (c *Channel) GetEmailContent(ctx context.Context, address, id, _ string) domain.ChannelResponse[domain.EmailMessage] {
	start := time.Now()
	c.tracker.RecordRequest()

	emails, chErr := c.fetchInbox(ctx, address)
	if chErr != nil {
		c.tracker.RecordFailure()
		return domain.Fail[domain.EmailMessage](Name, chErr, time.Since(start))
	}

	for _, email := range emails {
		if email.ID == id {
			c.tracker.RecordSuccess(time.Since(start))
			return domain.OK(Name, email, time.Since(start))
		}
	}

	c.tracker.RecordFailure()
	return domain.Fail[domain.EmailMessage](Name,
		domain.NewChannelError(domain.ErrorTypeAPI, Name, fmt.Sprintf("email with ID %s not found", id)), time.Since(start))
}

// VerifyEmail 域名集合不可知，改为向上游做轻量存在性检查。
func (c *Channel) VerifyEmail(ctx context.Context, address string) domain.ChannelResponse[domain.EmailAddress] {
	start := time.Now()
	c.tracker.RecordRequest()

	username, addrDomain, ok := domain.SplitAddress(address)
	if !ok {
		c.tracker.RecordFailure()
		return domain.Fail[domain.EmailAddress](Name,
			domain.NewChannelError(domain.ErrorTypeAPI, Name, "malformed email address"), time.Since(start))
	}

	// 能成功列出收件箱即视为该地址仍在租期内
	if _, chErr := c.fetchInbox(ctx, address); chErr != nil {
		c.tracker.RecordFailure()
		return domain.Fail[domain.EmailAddress](Name, chErr, time.Since(start))
	}

	c.tracker.RecordSuccess(time.Since(start))
	return domain.OK(Name, domain.EmailAddress{
		Address:   address,
		Domain:    addrDomain,
		Username:  username,
		Provider:  Name,
		CreatedAt: time.Now().UTC(),
		IsActive:  true,
	}, time.Since(start))
}

// GetHealth 实现 provider.Provider。
func (c *Channel) GetHealth(ctx context.Context) domain.ChannelHealth {
	return provider.BuildHealth(c.tracker.Snapshot(), c.TestConnection(ctx))
}

// GetStats 实现 provider.Provider。
func (c *Channel) GetStats() domain.ChannelStats {
	return c.tracker.Snapshot()
}

// TestConnection 以状态接口做最小探活。
func (c *Channel) TestConnection(ctx context.Context) domain.ChannelResponse[bool] {
	start := time.Now()

	resp, err := c.client.Get(ctx, c.baseURL+"/api/status", httpclient.RequestOptions{
		Headers: map[string]string{"Accept": "application/json"},
		Timeout: c.cfg.Timeout,
	})
	if err != nil {
		return domain.Fail[bool](Name,
			domain.NewChannelError(domain.ErrorTypeNetwork, Name, err.Error()), time.Since(start))
	}
	if !resp.OK {
		return domain.Fail[bool](Name,
			domain.NewChannelErrorWithStatus(domain.ErrorTypeAPI, Name,
				fmt.Sprintf("vanishpost returned %s", resp.Status), resp.StatusCode), time.Since(start))
	}
	return domain.OK(Name, true, time.Since(start))
}

// fetchInbox 拉取并归一化收件箱，不触碰统计计数。
func (c *Channel) fetchInbox(ctx context.Context, address string) ([]domain.EmailMessage, *domain.ChannelError) {
	endpoint := fmt.Sprintf("%s/api/emails?address=%s", c.baseURL, url.QueryEscape(address))
	resp, err := c.client.Get(ctx, endpoint, c.requestOptions())
	if err != nil {
		return nil, domain.NewChannelError(domain.ErrorTypeNetwork, Name, err.Error())
	}
	if !resp.OK {
		return nil, domain.NewChannelErrorWithStatus(domain.ErrorTypeAPI, Name,
			fmt.Sprintf("vanishpost returned %s", resp.Status), resp.StatusCode)
	}

	var inbox inboxResponse
	if err := resp.JSON(&inbox); err != nil {
		return nil, domain.NewChannelError(domain.ErrorTypeAPI, Name, "invalid inbox payload")
	}

	emails := make([]domain.EmailMessage, 0, len(inbox.Emails))
	for index, msg := range inbox.Emails {
		emails = append(emails, domain.EmailMessage{
			// 上游不提供邮件 ID，按列表位置合成
			ID:          fmt.Sprintf("%d", index),
			From:        domain.EmailContact{Email: msg.Sender, Name: msg.SenderName},
			To:          []domain.EmailContact{{Email: address}},
			Subject:     msg.Subject,
			TextContent: utils.StripHTML(msg.Body),
			HTMLContent: msg.Body,
			ReceivedAt:  utils.ParseDate(msg.ReceivedAt),
			Provider:    Name,
			Size:        len(msg.Body),
		})
	}
	return emails, nil
}

func (c *Channel) requestOptions() httpclient.RequestOptions {
	return httpclient.RequestOptions{
		Headers: map[string]string{"Accept": "application/json"},
		Timeout: c.cfg.Timeout,
		Retries: c.cfg.Retries,
	}
}
