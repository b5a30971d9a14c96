// Package etempmail 对接 etempmail.com。
//
// 上游依赖一个从 /getServerTime 预热得到的 ci_session 会话 cookie，
// 域名由服务端随机分配，收件箱不返回邮件 ID。
package etempmail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tempmailhub/backend/internal/domain"
	"tempmailhub/backend/internal/httpclient"
	"tempmailhub/backend/internal/provider"
	"tempmailhub/backend/internal/utils"
)

const (
	// Name 渠道注册名。
	Name = "etempmail"

	defaultBaseURL = "https://etempmail.com"

	// 会话建立失败时的兜底值：上游对只读调用不校验会话，
	// 宁可带着占位 cookie 降级运行也不整体失败。
	placeholderSession = "51sutdevslriv5ft7mdqkats3a9l5bd6"
)

// 上游签发的域名集合，同时是 verifyEmail 的判定依据。
var servedDomains = []string{"cross.edu.pl", "ohm.edu.pl", "usa.edu.pl", "beta.edu.pl"}

type addressResponse struct {
	ID           string `json:"id"`
	Address      string `json:"address"`
	CreationTime string `json:"creation_time"`
	RecoverKey   string `json:"recover_key"`
}

type inboxMessage struct {
	Subject string `json:"subject"`
	From    string `json:"from"`
	Date    string `json:"date"`
	Body    string `json:"body"`
}

// Channel EtempMail 适配器。
type Channel struct {
	cfg     domain.ChannelConfiguration
	baseURL string
	client  *httpclient.Client
	tracker *provider.Tracker
	logger  *zap.Logger

	// 会话值逐调用被上游重新校验，后写覆盖即可，无需更强的互斥
	sessionSF singleflight.Group
	sessionMu sync.Mutex
	session   string
}

// New 创建 EtempMail 适配器。
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
// 上游不支持自选域名/前缀，也没有已读状态和附件。
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

// CreateEmail 申请地址。上游忽略域名/前缀偏好，由服务端随机分配。
func (c *Channel) CreateEmail(ctx context.Context, _ domain.CreateEmailRequest) domain.ChannelResponse[domain.CreateEmailResponse] {
	start := time.Now()
	c.tracker.RecordRequest()

	resp, err := c.client.Post(ctx, c.baseURL+"/getEmailAddress", nil, c.requestOptions(ctx))
	if err != nil {
		c.tracker.RecordFailure()
		return domain.Fail[domain.CreateEmailResponse](Name,
			domain.NewChannelError(domain.ErrorTypeNetwork, Name, err.Error()), time.Since(start))
	}
	if !resp.OK {
		c.tracker.RecordFailure()
		return domain.Fail[domain.CreateEmailResponse](Name,
			domain.NewChannelErrorWithStatus(domain.ErrorTypeAPI, Name,
				fmt.Sprintf("etempmail returned %s", resp.Status), resp.StatusCode), time.Since(start))
	}

	var data addressResponse
	if err := resp.JSON(&data); err != nil || data.Address == "" {
		c.tracker.RecordFailure()
		return domain.Fail[domain.CreateEmailResponse](Name,
			domain.NewChannelError(domain.ErrorTypeAPI, Name, "invalid response: missing address"), time.Since(start))
	}

	username, addrDomain, ok := domain.SplitAddress(data.Address)
	if !ok {
		c.tracker.RecordFailure()
		return domain.Fail[domain.CreateEmailResponse](Name,
			domain.NewChannelError(domain.ErrorTypeAPI, Name, "invalid response: malformed address"), time.Since(start))
	}

	result := domain.CreateEmailResponse{
		Address:     data.Address,
		Domain:      addrDomain,
		Username:    username,
		Provider:    Name,
		RecoveryKey: data.RecoverKey,
	}
	if createdAt, ok := utils.ParseUnixSeconds(data.CreationTime); ok {
		expiresAt := createdAt.Add(domain.DefaultLeaseTTL)
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

// GetEmailContent 获取单封邮件。
//
// 上游的 getInbox 已含完整正文，这里退化为在新拉取的列表内按 ID 查找。
// 已知局限：该渠道没有原生邮件 ID，合成的位置 ID 只在同一次
// 列表快照内稳定，新邮件到达会使旧 ID 指向错位。
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
			fmt.Sprintf("domain %s is not served by etempmail", addrDomain)), time.Since(start))
}

// GetHealth 实现 provider.Provider。
func (c *Channel) GetHealth(ctx context.Context) domain.ChannelHealth {
	return provider.BuildHealth(c.tracker.Snapshot(), c.TestConnection(ctx))
}

// GetStats 实现 provider.Provider。
func (c *Channel) GetStats() domain.ChannelStats {
	return c.tracker.Snapshot()
}

// TestConnection 以 getServerTime 作为最小探活，顺带预热会话。
func (c *Channel) TestConnection(ctx context.Context) domain.ChannelResponse[bool] {
	start := time.Now()

	resp, err := c.client.Post(ctx, c.baseURL+"/getServerTime", nil, httpclient.RequestOptions{
		Headers: c.baseHeaders(),
		Timeout: c.cfg.Timeout,
	})
	if err != nil {
		return domain.Fail[bool](Name,
			domain.NewChannelError(domain.ErrorTypeNetwork, Name, err.Error()), time.Since(start))
	}
	if !resp.OK {
		return domain.Fail[bool](Name,
			domain.NewChannelErrorWithStatus(domain.ErrorTypeAPI, Name,
				fmt.Sprintf("etempmail returned %s", resp.Status), resp.StatusCode), time.Since(start))
	}

	if session := resp.Cookie("ci_session"); session != "" {
		c.storeSession(session)
	}
	return domain.OK(Name, true, time.Since(start))
}

// fetchInbox 拉取并归一化完整收件箱，不触碰统计计数。
func (c *Channel) fetchInbox(ctx context.Context, address string) ([]domain.EmailMessage, *domain.ChannelError) {
	resp, err := c.client.Post(ctx, c.baseURL+"/getInbox", nil, c.requestOptions(ctx))
	if err != nil {
		return nil, domain.NewChannelError(domain.ErrorTypeNetwork, Name, err.Error())
	}
	if !resp.OK {
		return nil, domain.NewChannelErrorWithStatus(domain.ErrorTypeAPI, Name,
			fmt.Sprintf("etempmail returned %s", resp.Status), resp.StatusCode)
	}

	var messages []inboxMessage
	if err := resp.JSON(&messages); err != nil {
		return nil, domain.NewChannelError(domain.ErrorTypeAPI, Name, "invalid inbox payload")
	}

	emails := make([]domain.EmailMessage, 0, len(messages))
	for index, msg := range messages {
		emails = append(emails, domain.EmailMessage{
			// 上游不提供邮件 ID，按列表位置合成
			ID:          fmt.Sprintf("%d", index),
			From:        domain.EmailContact{Email: msg.From},
			To:          []domain.EmailContact{{Email: address}},
			Subject:     msg.Subject,
			TextContent: utils.StripHTML(msg.Body),
			HTMLContent: msg.Body,
			ReceivedAt:  utils.ParseDate(msg.Date),
			Provider:    Name,
			Size:        len(msg.Body),
		})
	}
	return emails, nil
}

// requestOptions 组装带会话 cookie 的请求配置。
func (c *Channel) requestOptions(ctx context.Context) httpclient.RequestOptions {
	headers := c.baseHeaders()
	headers["Cookie"] = "ci_session=" + c.ensureSession(ctx)
	return httpclient.RequestOptions{
		Headers: headers,
		Timeout: c.cfg.Timeout,
		Retries: c.cfg.Retries,
	}
}

func (c *Channel) baseHeaders() map[string]string {
	return map[string]string{
		"Accept":           "*/*",
		"Origin":           c.baseURL,
		"Referer":          c.baseURL + "/",
		"X-Requested-With": "XMLHttpRequest",
		"User-Agent":       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36",
	}
}

// ensureSession 惰性建立上游会话，单飞去重并发的首次建立。
//
// 建立失败时退回固定占位值而不是让调用失败：
// 上游对只读调用并不校验会话，降级优于崩溃。
func (c *Channel) ensureSession(ctx context.Context) string {
	if session := c.loadSession(); session != "" {
		return session
	}

	value, _, _ := c.sessionSF.Do("session", func() (interface{}, error) {
		if session := c.loadSession(); session != "" {
			return session, nil
		}

		resp, err := c.client.Post(ctx, c.baseURL+"/getServerTime", nil, httpclient.RequestOptions{
			Headers: c.baseHeaders(),
			Timeout: c.cfg.Timeout,
		})
		session := placeholderSession
		if err == nil && resp.OK {
			if got := resp.Cookie("ci_session"); got != "" {
				session = got
			}
		} else {
			c.logger.Warn("session warmup failed, using placeholder session", zap.Error(err))
		}

		c.storeSession(session)
		return session, nil
	})
	return value.(string)
}

func (c *Channel) loadSession() string {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	return c.session
}

func (c *Channel) storeSession(session string) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	c.session = session
}
