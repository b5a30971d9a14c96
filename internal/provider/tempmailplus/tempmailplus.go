// Package tempmailplus 对接 tempmail.plus。
//
// 该上游无需注册：任意 前缀@服务域名 的地址收到邮件即自动生效，
// 因此建 箱是纯本地操作；读信接口可带可选的 epin 口令。
package tempmailplus

import (
	"context"
	"fmt"
	"net/url"
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
	Name = "tempmailplus"

	defaultBaseURL = "https://tempmail.plus"

	// inboxFetchLimit 单次列表请求的条目上限。上游没有翻页接口，
	// 超出上限的更早邮件取不到；临时邮箱的典型存量远低于此值。
	inboxFetchLimit = 100
)

var servedDomains = []string{
	"mailto.plus", "fexpost.com", "fexbox.org", "mailbox.in.ua",
	"rover.info", "chitthi.in", "fextemp.com", "any.pink", "merepost.com",
}

type mailSummary struct {
	MailID          int64  `json:"mail_id"`
	Subject         string `json:"subject"`
	FromMail        string `json:"from_mail"`
	FromName        string `json:"from_name"`
	Time            string `json:"time"`
	IsNew           bool   `json:"is_new"`
	AttachmentCount int    `json:"attachment_count"`
}

type mailListResponse struct {
	Result   bool          `json:"result"`
	Count    int           `json:"count"`
	MailList []mailSummary `json:"mail_list"`
}

type mailDetailResponse struct {
	Result   bool   `json:"result"`
	MailID   int64  `json:"mail_id"`
	Subject  string `json:"subject"`
	FromMail string `json:"from_mail"`
	FromName string `json:"from_name"`
	Date     string `json:"date"`
	Text     string `json:"text"`
	HTML     string `json:"html"`
}

// Channel TempMail Plus 适配器。
type Channel struct {
	cfg     domain.ChannelConfiguration
	baseURL string
	epin    string
	client  *httpclient.Client
	tracker *provider.Tracker
	logger  *zap.Logger
}

// New 创建 TempMail Plus 适配器。
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
		epin:    cfg.Credentials["epin"],
		client:  httpclient.New(),
		tracker: provider.NewTracker(),
		logger:  logger.With(zap.String("channel", Name)),
	}
}

// Name 实现 provider.Provider。
func (c *Channel) Name() string { return Name }

// Capabilities 实现 provider.Provider。
// 九个服务域名内可以自选域名与前缀，列表接口带已读标记和附件计数。
func (c *Channel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{
		CreateEmail:       true,
		ListEmails:        true,
		GetEmailContent:   true,
		CustomDomains:     true,
		CustomPrefix:      true,
		AttachmentSupport: true,
	}
}

// Domains 实现 provider.Provider。
func (c *Channel) Domains() []string {
	return append([]string(nil), servedDomains...)
}

// CreateEmail 组合地址。上游免注册，这里不产生网络调用。
func (c *Channel) CreateEmail(_ context.Context, req domain.CreateEmailRequest) domain.ChannelResponse[domain.CreateEmailResponse] {
	start := time.Now()
	c.tracker.RecordRequest()

	selected := servedDomains[0]
	if requested := strings.ToLower(strings.TrimSpace(req.Domain)); requested != "" {
		found := false
		for _, d := range servedDomains {
			if d == requested {
				selected = requested
				found = true
				break
			}
		}
		if !found {
			c.tracker.RecordFailure()
			return domain.Fail[domain.CreateEmailResponse](Name,
				domain.NewChannelError(domain.ErrorTypeAPI, Name,
					fmt.Sprintf("domain %s is not served by tempmail.plus", requested)), time.Since(start))
		}
	}

	prefix := strings.ToLower(strings.TrimSpace(req.Prefix))
	if prefix == "" {
		prefix = strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	}

	address := prefix + "@" + selected
	c.tracker.RecordSuccess(time.Since(start))
	return domain.OK(Name, domain.CreateEmailResponse{
		Address:  address,
		Domain:   selected,
		Username: prefix,
		Provider: Name,
	}, time.Since(start))
}

// GetEmails 拉取收件箱摘要，先过滤后分页。
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

// GetEmailContent 拉取邮件全文（mail_id 为上游稳定 ID）。
func (c *Channel) GetEmailContent(ctx context.Context, address, id, _ string) domain.ChannelResponse[domain.EmailMessage] {
	start := time.Now()
	c.tracker.RecordRequest()

	endpoint := fmt.Sprintf("%s/api/mails/%s?%s", c.baseURL, url.PathEscape(id), c.query(address))
	resp, err := c.client.Get(ctx, endpoint, c.requestOptions())
	if err != nil {
		c.tracker.RecordFailure()
		return domain.Fail[domain.EmailMessage](Name,
			domain.NewChannelError(domain.ErrorTypeNetwork, Name, err.Error()), time.Since(start))
	}
	if !resp.OK {
		c.tracker.RecordFailure()
		return domain.Fail[domain.EmailMessage](Name,
			domain.NewChannelErrorWithStatus(domain.ErrorTypeAPI, Name,
				fmt.Sprintf("tempmail.plus returned %s", resp.Status), resp.StatusCode), time.Since(start))
	}

	var detail mailDetailResponse
	if err := resp.JSON(&detail); err != nil || !detail.Result {
		c.tracker.RecordFailure()
		return domain.Fail[domain.EmailMessage](Name,
			domain.NewChannelError(domain.ErrorTypeAPI, Name,
				fmt.Sprintf("email with ID %s not found", id)), time.Since(start))
	}

	text := detail.Text
	if text == "" && detail.HTML != "" {
		text = utils.StripHTML(detail.HTML)
	}

	c.tracker.RecordSuccess(time.Since(start))
	return domain.OK(Name, domain.EmailMessage{
		ID:          fmt.Sprintf("%d", detail.MailID),
		From:        domain.EmailContact{Email: detail.FromMail, Name: detail.FromName},
		To:          []domain.EmailContact{{Email: address}},
		Subject:     detail.Subject,
		TextContent: text,
		HTMLContent: detail.HTML,
		ReceivedAt:  utils.ParseDate(detail.Date),
		Provider:    Name,
		Size:        len(detail.HTML) + len(detail.Text),
	}, time.Since(start))
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
			fmt.Sprintf("domain %s is not served by tempmail.plus", addrDomain)), time.Since(start))
}

// GetHealth 实现 provider.Provider。
func (c *Channel) GetHealth(ctx context.Context) domain.ChannelHealth {
	return provider.BuildHealth(c.tracker.Snapshot(), c.TestConnection(ctx))
}

// GetStats 实现 provider.Provider。
func (c *Channel) GetStats() domain.ChannelStats {
	return c.tracker.Snapshot()
}

// TestConnection 用一个探针邮箱的列表请求做最小探活。
func (c *Channel) TestConnection(ctx context.Context) domain.ChannelResponse[bool] {
	start := time.Now()

	endpoint := fmt.Sprintf("%s/api/mails?%s", c.baseURL, c.query("probe@"+servedDomains[0]))
	resp, err := c.client.Get(ctx, endpoint, httpclient.RequestOptions{
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
				fmt.Sprintf("tempmail.plus returned %s", resp.Status), resp.StatusCode), time.Since(start))
	}
	return domain.OK(Name, true, time.Since(start))
}

// fetchInbox 拉取收件箱摘要并归一化，不触碰统计计数。
func (c *Channel) fetchInbox(ctx context.Context, address string) ([]domain.EmailMessage, *domain.ChannelError) {
	endpoint := fmt.Sprintf("%s/api/mails?%s&limit=%d", c.baseURL, c.query(address), inboxFetchLimit)
	resp, err := c.client.Get(ctx, endpoint, c.requestOptions())
	if err != nil {
		return nil, domain.NewChannelError(domain.ErrorTypeNetwork, Name, err.Error())
	}
	if !resp.OK {
		return nil, domain.NewChannelErrorWithStatus(domain.ErrorTypeAPI, Name,
			fmt.Sprintf("tempmail.plus returned %s", resp.Status), resp.StatusCode)
	}

	var list mailListResponse
	if err := resp.JSON(&list); err != nil {
		return nil, domain.NewChannelError(domain.ErrorTypeAPI, Name, "invalid inbox payload")
	}

	emails := make([]domain.EmailMessage, 0, len(list.MailList))
	for _, summary := range list.MailList {
		emails = append(emails, domain.EmailMessage{
			ID:         fmt.Sprintf("%d", summary.MailID),
			From:       domain.EmailContact{Email: summary.FromMail, Name: summary.FromName},
			To:         []domain.EmailContact{{Email: address}},
			Subject:    summary.Subject,
			ReceivedAt: utils.ParseDate(summary.Time),
			IsRead:     !summary.IsNew,
			Provider:   Name,
		})
	}
	return emails, nil
}

// query 组装 email/epin 查询串。
func (c *Channel) query(address string) string {
	values := url.Values{}
	values.Set("email", address)
	values.Set("epin", c.epin)
	return values.Encode()
}

func (c *Channel) requestOptions() httpclient.RequestOptions {
	return httpclient.RequestOptions{
		Headers: map[string]string{"Accept": "application/json"},
		Timeout: c.cfg.Timeout,
		Retries: c.cfg.Retries,
	}
}
