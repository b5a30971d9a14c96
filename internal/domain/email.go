package domain

import (
	"strings"
	"time"
)

// DefaultLeaseTTL 上游只报告创建时间时的默认邮箱租期。
const DefaultLeaseTTL = 15 * time.Minute

// EmailAddress 表示一个已分配的临时邮箱地址。
type EmailAddress struct {
	Address   string     `json:"address"`
	Domain    string     `json:"domain"`
	Username  string     `json:"username"`
	Provider  string     `json:"provider"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	IsActive  bool       `json:"isActive"`
}

// EmailContact 邮件联系人，至少包含邮箱地址。
type EmailContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// EmailMessage 表示归一化后的一封邮件。
//
// 创建后不可变；所属邮箱过期后随之丢弃（无持久化）。
// ID 在单个邮箱内唯一：上游提供稳定 ID 时直接采用，
// 否则由适配器按列表位置合成（仅在同一次列表快照内可靠）。
type EmailMessage struct {
	ID          string         `json:"id"`
	From        EmailContact   `json:"from"`
	To          []EmailContact `json:"to"`
	Subject     string         `json:"subject"`
	TextContent string         `json:"textContent"`
	HTMLContent string         `json:"htmlContent"`
	ReceivedAt  time.Time      `json:"receivedAt"`
	IsRead      bool           `json:"isRead"`
	Provider    string         `json:"provider"`
	Size        int            `json:"size"`
}

// CreateEmailRequest 创建邮箱请求。
//
// Domain 与 Prefix 仅对声明了对应能力的渠道生效，
// 其余渠道必须静默忽略而不是报错。
type CreateEmailRequest struct {
	Domain   string `json:"domain,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// CreateEmailResponse 创建邮箱结果，回报上游实际分配的地址。
type CreateEmailResponse struct {
	Address     string     `json:"address"`
	Domain      string     `json:"domain"`
	Username    string     `json:"username"`
	Provider    string     `json:"provider"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	AccessToken string     `json:"accessToken,omitempty"` // 部分渠道（如 Mail.tm）后续读取邮件需携带
	RecoveryKey string     `json:"recoveryKey,omitempty"`
}

// EmailListQuery 邮件列表查询参数。
type EmailListQuery struct {
	Address     string     `json:"address"`
	Provider    string     `json:"provider,omitempty"`
	AccessToken string     `json:"accessToken,omitempty"`
	Limit       int        `json:"limit,omitempty"`
	Offset      int        `json:"offset,omitempty"`
	UnreadOnly  bool       `json:"unreadOnly,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
}

// Normalize 填充分页默认值（limit=20, offset=0）。
func (q *EmailListQuery) Normalize() {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}

// FilterAndPaginate 对完整邮箱快照先过滤、后分页。
//
// 过滤在分页之前执行，保证分页窗口在过滤条件下保持稳定。
func FilterAndPaginate(messages []EmailMessage, query EmailListQuery) []EmailMessage {
	query.Normalize()

	filtered := make([]EmailMessage, 0, len(messages))
	for _, msg := range messages {
		if query.UnreadOnly && msg.IsRead {
			continue
		}
		if query.Since != nil && msg.ReceivedAt.Before(*query.Since) {
			continue
		}
		filtered = append(filtered, msg)
	}

	if query.Offset >= len(filtered) {
		return []EmailMessage{}
	}
	end := query.Offset + query.Limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[query.Offset:end]
}

// SplitAddress 将邮箱地址拆为本地部分与域名（域名转小写）。
func SplitAddress(address string) (username, domain string, ok bool) {
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", false
	}
	return address[:at], strings.ToLower(address[at+1:]), true
}
