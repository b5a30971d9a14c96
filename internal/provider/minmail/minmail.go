// Package minmail 对接 minmail.app。
//
// 上游用匿名 cookie 会话标识邮箱归属：detail 接口在分配地址的同时
// 通过 Set-Cookie 下发会话，后续收件箱请求复用该 cookie。
package minmail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmailhub/backend/internal/domain"
	"tempmailhub/backend/internal/httpclient"
	"tempmailhub/backend/internal/provider"
	"tempmailhub/backend/internal/utils"
)

const (
	// Name 渠道注册名。
	Name = "minmail"

	defaultBaseURL = "https://minmail.app"
)

var servedDomains = []string{"atminmail.com"}

type detailResponse struct {
	Address  string `json:"address"`
	ExpireAt int64  `json:"expire_at"` // Unix 秒
}

type inboxMessage struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	FromName string `json:"from_name"`
	Subject  string `json:"subject"`
	Content  string `json:"content"`
	Time     string `json:"time"`
	IsRead   bool   `json:"is_read"`
}

type inboxResponse struct {
	MailList []inboxMessage `json:"mail_list"`
}

// Channel MinMail 适配器。
type Channel struct {
	cfg     domain.ChannelConfiguration
	baseURL string
	client  *httpclient.Client
	tracker *provider.Tracker
	logger  *zap.Logger

	// 匿名会话 cookie；并发首建时后写覆盖即可
	cookieMu sync.Mutex
	cookie   string
}

// New 创建 MinMail 适配器。
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
// 域名与前缀均由服务端分配，收件箱带已读标记，地址会过期。
func (c *Channel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{
		CreateEmail:     true,
		ListEmails:      true,
		GetEmailContent: true,
		EmailExpiration: true,
	}
}

// Domains 实现 provider.Provider。
func (c *Channel) Domains() []string {
	return append([]string(nil), servedDomains...)
}

// CreateEmail 向 detail 接口申请地址；域名/前缀偏好被静默忽略。
func (c *Channel) CreateEmail(ctx context.Context, _ domain.CreateEmailRequest) domain.ChannelResponse[domain.CreateEmailResponse] {
	start := time.Now()
	c.tracker.RecordRequest()

	resp, err := c.client.Get(ctx, c.baseURL+"/api/mail/detail?lang=en", c.requestOptions())
	if err != nil {
		c.tracker.RecordFailure()
		return domain.Fail[domain.CreateEmailResponse](Name,
			domain.NewChannelError(domain.ErrorTypeNetwork, Name, err.Error()), time.Since(start))
	}
	if !resp.OK {
		c.tracker.RecordFailure()
		return domain.Fail[domain.CreateEmailResponse](Name,
			domain.NewChannelErrorWithStatus(domain.ErrorTypeAPI, Name,
				fmt.Sprintf("minmail returned %s", resp.Status), resp.StatusCode), time.Since(start))
	}

	// 地址归属跟着会话走，保存服务端下发的 cookie
	if session := resp.Cookie("session_id"); session != "" {
		c.storeCookie("session_id=" + session)
	}

	var detail detailResponse
	if err := resp.JSON(&detail); err != nil || detail.Address == "" {
		c.tracker.RecordFailure()
		return domain.Fail[domain.CreateEmailResponse](Name,
			domain.NewChannelError(domain.ErrorTypeAPI, Name, "invalid response: missing address"), time.Since(start))
	}

	username, addrDomain, ok := domain.SplitAddress(detail.Address)
	if !ok {
		c.tracker.RecordFailure()
		return domain.Fail[domain.CreateEmailResponse](Name,
			domain.NewChannelError(domain.ErrorTypeAPI, Name, "invalid response: malformed address"), time.Since(start))
	}

	result := domain.CreateEmailResponse{
		Address:  detail.Address,
		Domain:   addrDomain,
		Username: username,
		Provider: Name,
	}
	if detail.ExpireAt > 0 {
		expiresAt := time.Unix(detail.ExpireAt, 0).UTC()
		result.ExpiresAt = &expiresAt
	}

	c.tracker.RecordSuccess(time.Since(start))
	return domain.OK(Name, result, time.Since(start))
}

// GetEmails 拉取收件箱，先过滤后分页。
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

// GetEmailContent 获取单封邮件。收件箱已含全文，退化为列表内查找。
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

// VerifyEmail 按签发域名集合校验地址。
func (c *Channel) VerifyEmail(_ context.Context, address string) domain.ChannelResponse[domain.EmailAddress] {
	start := time.Now()
	c.tracker.RecordRequest()

	username, addrDomain, ok := domain.SplitAddress(address)
	if !ok {
		c.tracker.RecordFailure()
		return domain.Fail[domain.EmailAddress](Name,
			domain.NewChannelError(domain.ErrorTypeAPI, Name, "malformed email address"), time.Since(start))
	}
	for _, d := range servedDomains {
		if d == addrDomain {
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
	}

	c.tracker.RecordFailure()
	return domain.Fail[domain.EmailAddress](Name,
		domain.NewChannelError(domain.ErrorTypeAPI, Name,
			fmt.Sprintf("domain %s is not served by minmail", addrDomain)), time.Since(start))
}

// GetHealth 实现 provider.Provider。
func (c *Channel) GetHealth(ctx context.Context) domain.ChannelHealth {
	return provider.BuildHealth(c.tracker.Snapshot(), c.TestConnection(ctx))
}

// GetStats 实现 provider.Provider。
func (c *Channel) GetStats() domain.ChannelStats {
	return c.tracker.Snapshot()
}

// TestConnection 以公共配置接口做最小探活。
func (c *Channel) TestConnection(ctx context.Context) domain.ChannelResponse[bool] {
	start := time.Now()

	resp, err := c.client.Get(ctx, c.baseURL+"/api/common/config", httpclient.RequestOptions{
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
				fmt.Sprintf("minmail returned %s", resp.Status), resp.StatusCode), time.Since(start))
	}
	return domain.OK(Name, true, time.Since(start))
}

// fetchInbox 拉取并归一化收件箱，不触碰统计计数。
func (c *Channel) fetchInbox(ctx context.Context, address string) ([]domain.EmailMessage, *domain.ChannelError) {
	resp, err := c.client.Get(ctx, c.baseURL+"/api/mail/inbox?lang=en", c.requestOptions())
	if err != nil {
		return nil, domain.NewChannelError(domain.ErrorTypeNetwork, Name, err.Error())
	}
	if !resp.OK {
		return nil, domain.NewChannelErrorWithStatus(domain.ErrorTypeAPI, Name,
			fmt.Sprintf("minmail returned %s", resp.Status), resp.StatusCode)
	}

	var inbox inboxResponse
	if err := resp.JSON(&inbox); err != nil {
		return nil, domain.NewChannelError(domain.ErrorTypeAPI, Name, "invalid inbox payload")
	}

	emails := make([]domain.EmailMessage, 0, len(inbox.MailList))
	for index, msg := range inbox.MailList {
		id := msg.ID
		if id == "" {
			// 个别响应缺失 ID 时按位置合成，仅在本次快照内稳定
			id = fmt.Sprintf("%d", index)
		}
		emails = append(emails, domain.EmailMessage{
			ID:          id,
			From:        domain.EmailContact{Email: msg.From, Name: msg.FromName},
			To:          []domain.EmailContact{{Email: address}},
			Subject:     msg.Subject,
			TextContent: utils.StripHTML(msg.Content),
			HTMLContent: msg.Content,
			ReceivedAt:  utils.ParseDate(msg.Time),
			IsRead:      msg.IsRead,
			Provider:    Name,
			Size:        len(msg.Content),
		})
	}
	return emails, nil
}

func (c *Channel) requestOptions() httpclient.RequestOptions {
	headers := map[string]string{"Accept": "application/json"}
	if cookie := c.loadCookie(); cookie != "" {
		headers["Cookie"] = cookie
	}
	return httpclient.RequestOptions{
		Headers: headers,
		Timeout: c.cfg.Timeout,
		Retries: c.cfg.Retries,
	}
}

func (c *Channel) loadCookie() string {
	c.cookieMu.Lock()
	defer c.cookieMu.Unlock()
	return c.cookie
}

func (c *Channel) storeCookie(cookie string) {
	c.cookieMu.Lock()
	defer c.cookieMu.Unlock()
	c.cookie = cookie
}
