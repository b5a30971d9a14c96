// Package mailtm 对接 mail.tm 的公开 REST API。
//
// 该上游有文档化的接口：创建账户后签发访问令牌，
// 后续读信都要携带 Bearer 令牌；邮件有稳定的上游 ID，
// 列表只含摘要，正文需要单独的内容接口。
package mailtm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmailhub/backend/internal/domain"
	"tempmailhub/backend/internal/httpclient"
	"tempmailhub/backend/internal/provider"
	"tempmailhub/backend/internal/utils"
)

const (
	// Name 渠道注册名。
	Name = "mailtm"

	defaultBaseURL = "https://api.mail.tm"

	// inboxPageSize 上游收件箱的固定页大小。
	inboxPageSize = 30
	// maxInboxPages 翻页安全上限，防止异常上游导致无限拉取。
	maxInboxPages = 20
)

var servedDomains = []string{"somoj.com"}

type contact struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type accountResponse struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type messageSummary struct {
	ID        string    `json:"id"`
	From      contact   `json:"from"`
	To        []contact `json:"to"`
	Subject   string    `json:"subject"`
	Intro     string    `json:"intro"`
	Seen      bool      `json:"seen"`
	Size      int       `json:"size"`
	CreatedAt string    `json:"createdAt"`
}

type messageDetail struct {
	messageSummary
	Text string   `json:"text"`
	HTML []string `json:"html"`
}

type listResponse struct {
	Member     []messageSummary `json:"hydra:member"`
	TotalItems int              `json:"hydra:totalItems"`
}

// Channel Mail.tm 适配器。
type Channel struct {
	cfg      domain.ChannelConfiguration
	baseURL  string
	password string // 配置的账户密码；为空时每次创建随机生成
	client   *httpclient.Client
	tracker  *provider.Tracker
	logger   *zap.Logger
}

// New 创建 Mail.tm 适配器。
func New(cfg domain.ChannelConfiguration, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Channel{
		cfg:      cfg,
		baseURL:  baseURL,
		password: cfg.Credentials["password"],
		client:   httpclient.New(),
		tracker:  provider.NewTracker(),
		logger:   logger.With(zap.String("channel", Name)),
	}
}

// Name 实现 provider.Provider。
func (c *Channel) Name() string { return Name }

// Capabilities 实现 provider.Provider。
// 前缀可以由调用方指定；域名只能在上游服务的固定集合内。
func (c *Channel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{
		CreateEmail:     true,
		ListEmails:      true,
		GetEmailContent: true,
		CustomPrefix:    true,
	}
}

// Domains 实现 provider.Provider。
func (c *Channel) Domains() []string {
	return append([]string(nil), servedDomains...)
}

// CreateEmail 创建账户并签发访问令牌。
//
// 返回的 AccessToken 是后续 GetEmails/GetEmailContent 的必要凭证，
// 调用方必须自行保管（进程内不持久化任何账户状态）。
func (c *Channel) CreateEmail(ctx context.Context, req domain.CreateEmailRequest) domain.ChannelResponse[domain.CreateEmailResponse] {
	start := time.Now()
	c.tracker.RecordRequest()

	prefix := strings.ToLower(strings.TrimSpace(req.Prefix))
	if prefix == "" {
		prefix = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	// 上游只服务固定域名，忽略不在集合内的域名偏好
	address := prefix + "@" + servedDomains[0]
	password := c.password
	if password == "" {
		password = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	opts := c.requestOptions("")
	resp, err := c.client.PostJSON(ctx, c.baseURL+"/accounts", map[string]string{
		"address":  address,
		"password": password,
	}, opts)
	if err != nil {
		c.tracker.RecordFailure()
		return domain.Fail[domain.CreateEmailResponse](Name,
			domain.NewChannelError(domain.ErrorTypeNetwork, Name, err.Error()), time.Since(start))
	}
	if !resp.OK {
		c.tracker.RecordFailure()
		errType := domain.ErrorTypeAPI
		if resp.StatusCode == 429 {
			errType = domain.ErrorTypeRateLimit
		}
		return domain.Fail[domain.CreateEmailResponse](Name,
			domain.NewChannelErrorWithStatus(errType, Name,
				fmt.Sprintf("mail.tm account creation returned %s", resp.Status), resp.StatusCode), time.Since(start))
	}

	var account accountResponse
	if err := resp.JSON(&account); err != nil || account.Address == "" {
		c.tracker.RecordFailure()
		return domain.Fail[domain.CreateEmailResponse](Name,
			domain.NewChannelError(domain.ErrorTypeAPI, Name, "invalid response: missing address"), time.Since(start))
	}

	token, chErr := c.issueToken(ctx, account.Address, password)
	if chErr != nil {
		c.tracker.RecordFailure()
		return domain.Fail[domain.CreateEmailResponse](Name, chErr, time.Since(start))
	}

	username, addrDomain, _ := domain.SplitAddress(account.Address)
	c.tracker.RecordSuccess(time.Since(start))
	return domain.OK(Name, domain.CreateEmailResponse{
		Address:     account.Address,
		Domain:      addrDomain,
		Username:    username,
		Provider:    Name,
		AccessToken: token,
	}, time.Since(start))
}

// GetEmails 读取收件箱摘要，先过滤后分页。需要创建时返回的访问令牌。
func (c *Channel) GetEmails(ctx context.Context, query domain.EmailListQuery) domain.ChannelResponse[[]domain.EmailMessage] {
	start := time.Now()
	c.tracker.RecordRequest()

	if query.AccessToken == "" {
		c.tracker.RecordFailure()
		return domain.Fail[[]domain.EmailMessage](Name,
			domain.NewChannelError(domain.ErrorTypeAuthentication, Name, "mail.tm requires the access token issued at creation"), time.Since(start))
	}

	emails, chErr := c.fetchMessages(ctx, query.Address, query.AccessToken)
	if chErr != nil {
		c.tracker.RecordFailure()
		return domain.Fail[[]domain.EmailMessage](Name, chErr, time.Since(start))
	}

	c.tracker.RecordSuccess(time.Since(start))
	return domain.OK(Name, domain.FilterAndPaginate(emails, query), time.Since(start))
}

// GetEmailContent 拉取单封邮件全文（独立内容接口，ID 为上游稳定 ID）。
func (c *Channel) GetEmailContent(ctx context.Context, address, id, accessToken string) domain.ChannelResponse[domain.EmailMessage] {
	start := time.Now()
	c.tracker.RecordRequest()

	if accessToken == "" {
		c.tracker.RecordFailure()
		return domain.Fail[domain.EmailMessage](Name,
			domain.NewChannelError(domain.ErrorTypeAuthentication, Name, "mail.tm requires the access token issued at creation"), time.Since(start))
	}

	resp, err := c.client.Get(ctx, c.baseURL+"/messages/"+id, c.requestOptions(accessToken))
	if err != nil {
		c.tracker.RecordFailure()
		return domain.Fail[domain.EmailMessage](Name,
			domain.NewChannelError(domain.ErrorTypeNetwork, Name, err.Error()), time.Since(start))
	}
	switch {
	case resp.StatusCode == 404:
		c.tracker.RecordFailure()
		return domain.Fail[domain.EmailMessage](Name,
			domain.NewChannelErrorWithStatus(domain.ErrorTypeAPI, Name,
				fmt.Sprintf("email with ID %s not found", id), resp.StatusCode), time.Since(start))
	case resp.StatusCode == 401:
		c.tracker.RecordFailure()
		return domain.Fail[domain.EmailMessage](Name,
			domain.NewChannelErrorWithStatus(domain.ErrorTypeAuthentication, Name, "access token rejected", resp.StatusCode), time.Since(start))
	case !resp.OK:
		c.tracker.RecordFailure()
		return domain.Fail[domain.EmailMessage](Name,
			domain.NewChannelErrorWithStatus(domain.ErrorTypeAPI, Name,
				fmt.Sprintf("mail.tm returned %s", resp.Status), resp.StatusCode), time.Since(start))
	}

	var detail messageDetail
	if err := resp.JSON(&detail); err != nil || detail.ID == "" {
		c.tracker.RecordFailure()
		return domain.Fail[domain.EmailMessage](Name,
			domain.NewChannelError(domain.ErrorTypeAPI, Name, "invalid message payload"), time.Since(start))
	}

	email := c.mapMessage(detail.messageSummary, address)
	email.HTMLContent = strings.Join(detail.HTML, "\n")
	if detail.Text != "" {
		email.TextContent = detail.Text
	} else if email.HTMLContent != "" {
		email.TextContent = utils.StripHTML(email.HTMLContent)
	}

	c.tracker.RecordSuccess(time.Since(start))
	return domain.OK(Name, email, time.Since(start))
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
			fmt.Sprintf("domain %s is not served by mail.tm", addrDomain)), time.Since(start))
}

// GetHealth 实现 provider.Provider。
func (c *Channel) GetHealth(ctx context.Context) domain.ChannelHealth {
	return provider.BuildHealth(c.tracker.Snapshot(), c.TestConnection(ctx))
}

// GetStats 实现 provider.Provider。
func (c *Channel) GetStats() domain.ChannelStats {
	return c.tracker.Snapshot()
}

// TestConnection 以域名列表接口作为最小探活。
func (c *Channel) TestConnection(ctx context.Context) domain.ChannelResponse[bool] {
	start := time.Now()

	resp, err := c.client.Get(ctx, c.baseURL+"/domains", httpclient.RequestOptions{
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
				fmt.Sprintf("mail.tm returned %s", resp.Status), resp.StatusCode), time.Since(start))
	}
	return domain.OK(Name, true, time.Since(start))
}

// issueToken 用账户凭证换取 Bearer 令牌。
func (c *Channel) issueToken(ctx context.Context, address, password string) (string, *domain.ChannelError) {
	resp, err := c.client.PostJSON(ctx, c.baseURL+"/token", map[string]string{
		"address":  address,
		"password": password,
	}, c.requestOptions(""))
	if err != nil {
		return "", domain.NewChannelError(domain.ErrorTypeNetwork, Name, err.Error())
	}
	if !resp.OK {
		return "", domain.NewChannelErrorWithStatus(domain.ErrorTypeAuthentication, Name,
			fmt.Sprintf("mail.tm token endpoint returned %s", resp.Status), resp.StatusCode)
	}

	var token tokenResponse
	if err := resp.JSON(&token); err != nil || token.Token == "" {
		return "", domain.NewChannelError(domain.ErrorTypeAPI, Name, "invalid response: missing token")
	}
	return token.Token, nil
}

// fetchMessages 逐页拉取完整收件箱摘要并归一化，不触碰统计计数。
//
// 上游每页固定 30 条，必须翻页到整个收件箱取完：过滤与分页
// 建立在完整快照之上，只拿第一页会让后面的分页窗口凭空变空。
func (c *Channel) fetchMessages(ctx context.Context, address, accessToken string) ([]domain.EmailMessage, *domain.ChannelError) {
	emails := make([]domain.EmailMessage, 0, inboxPageSize)
	for page := 1; page <= maxInboxPages; page++ {
		endpoint := fmt.Sprintf("%s/messages?page=%d", c.baseURL, page)
		resp, err := c.client.Get(ctx, endpoint, c.requestOptions(accessToken))
		if err != nil {
			return nil, domain.NewChannelError(domain.ErrorTypeNetwork, Name, err.Error())
		}
		if resp.StatusCode == 401 {
			return nil, domain.NewChannelErrorWithStatus(domain.ErrorTypeAuthentication, Name, "access token rejected", resp.StatusCode)
		}
		if !resp.OK {
			return nil, domain.NewChannelErrorWithStatus(domain.ErrorTypeAPI, Name,
				fmt.Sprintf("mail.tm returned %s", resp.Status), resp.StatusCode)
		}

		var list listResponse
		if err := resp.JSON(&list); err != nil {
			return nil, domain.NewChannelError(domain.ErrorTypeAPI, Name, "invalid inbox payload")
		}

		for _, summary := range list.Member {
			emails = append(emails, c.mapMessage(summary, address))
		}

		if len(list.Member) < inboxPageSize {
			break
		}
		if list.TotalItems > 0 && len(emails) >= list.TotalItems {
			break
		}
	}
	return emails, nil
}

// mapMessage 把上游摘要映射为归一化消息（正文留待内容接口补全）。
func (c *Channel) mapMessage(summary messageSummary, fallbackAddress string) domain.EmailMessage {
	to := make([]domain.EmailContact, 0, len(summary.To))
	for _, recipient := range summary.To {
		to = append(to, domain.EmailContact{Email: recipient.Address, Name: recipient.Name})
	}
	if len(to) == 0 {
		to = []domain.EmailContact{{Email: fallbackAddress}}
	}

	return domain.EmailMessage{
		ID:          summary.ID,
		From:        domain.EmailContact{Email: summary.From.Address, Name: summary.From.Name},
		To:          to,
		Subject:     summary.Subject,
		TextContent: summary.Intro,
		ReceivedAt:  utils.ParseDate(summary.CreatedAt),
		IsRead:      summary.Seen,
		Provider:    Name,
		Size:        summary.Size,
	}
}

// requestOptions 组装标准请求配置，token 非空时附加 Bearer 头。
func (c *Channel) requestOptions(accessToken string) httpclient.RequestOptions {
	headers := map[string]string{"Accept": "application/json"}
	if accessToken != "" {
		headers["Authorization"] = "Bearer " + accessToken
	}
	return httpclient.RequestOptions{
		Headers: headers,
		Timeout: c.cfg.Timeout,
		Retries: c.cfg.Retries,
	}
}
