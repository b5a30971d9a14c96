package httptransport

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmailhub/backend/internal/domain"
	"tempmailhub/backend/internal/service"
)

// MailHandler 聚合网关的邮件处理器
type MailHandler struct {
	mail   *service.MailService
	logger *zap.Logger
}

// NewMailHandler 创建邮件处理器
func NewMailHandler(mail *service.MailService, logger *zap.Logger) *MailHandler {
	return &MailHandler{
		mail:   mail,
		logger: logger,
	}
}

type createMailRequest struct {
	Provider string `json:"provider"`
	Domain   string `json:"domain"`
	Prefix   string `json:"prefix"`
}

// createMail 创建临时邮箱地址
//
// POST /api/mail/create
func (h *MailHandler) createMail(c *gin.Context) {
	var req createMailRequest
	// 空请求体等价于全默认参数
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	result := h.mail.CreateEmail(c.Request.Context(), domain.CreateEmailRequest{
		Provider: req.Provider,
		Domain:   req.Domain,
		Prefix:   req.Prefix,
	})
	writeResult(c, result, http.StatusBadRequest)
}

type listMailRequest struct {
	Address     string     `json:"address"`
	Provider    string     `json:"provider"`
	AccessToken string     `json:"accessToken"`
	Limit       int        `json:"limit"`
	Offset      int        `json:"offset"`
	UnreadOnly  bool       `json:"unreadOnly"`
	Since       *time.Time `json:"since"`
}

// listMail 获取邮箱内的邮件列表
//
// POST /api/mail/list
func (h *MailHandler) listMail(c *gin.Context) {
	var req listMailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.Address == "" {
		badRequest(c, "email address is required")
		return
	}

	result := h.mail.GetEmails(c.Request.Context(), domain.EmailListQuery{
		Address:     req.Address,
		Provider:    req.Provider,
		AccessToken: tokenFrom(c, req.AccessToken),
		Limit:       req.Limit,
		Offset:      req.Offset,
		UnreadOnly:  req.UnreadOnly,
		Since:       req.Since,
	})
	writeResult(c, result, http.StatusBadRequest)
}

type mailContentRequest struct {
	Address     string `json:"address"`
	EmailID     string `json:"emailId"`
	Provider    string `json:"provider"`
	AccessToken string `json:"accessToken"`
}

// mailContent 获取单封邮件内容
//
// POST /api/mail/content
func (h *MailHandler) mailContent(c *gin.Context) {
	var req mailContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.Address == "" || req.EmailID == "" {
		badRequest(c, "email address and emailId are required")
		return
	}

	result := h.mail.GetEmailContent(c.Request.Context(), req.Address, req.EmailID, req.Provider, tokenFrom(c, req.AccessToken))
	writeResult(c, result, http.StatusNotFound)
}

// verifyMail 校验邮箱地址归属
//
// GET /api/mail/:address/verify
func (h *MailHandler) verifyMail(c *gin.Context) {
	address := c.Param("address")
	result := h.mail.VerifyEmail(c.Request.Context(), address, c.Query("provider"))
	writeResult(c, result, http.StatusNotFound)
}

// listMailCompat 兼容端点：地址在路径里，过滤参数走查询串
//
// GET /api/mail/:address/emails
func (h *MailHandler) listMailCompat(c *gin.Context) {
	query := domain.EmailListQuery{
		Address:     c.Param("address"),
		Provider:    c.Query("provider"),
		AccessToken: tokenFrom(c, c.Query("accessToken")),
		UnreadOnly:  c.Query("unreadOnly") == "true",
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			query.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			query.Offset = n
		}
	}
	if v := c.Query("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			query.Since = &t
		}
	}

	result := h.mail.GetEmails(c.Request.Context(), query)
	writeResult(c, result, http.StatusBadRequest)
}

// mailContentCompat 兼容端点：按路径参数取单封邮件
//
// GET /api/mail/:address/emails/:emailId
func (h *MailHandler) mailContentCompat(c *gin.Context) {
	result := h.mail.GetEmailContent(
		c.Request.Context(),
		c.Param("address"),
		c.Param("emailId"),
		c.Query("provider"),
		tokenFrom(c, c.Query("accessToken")),
	)
	writeResult(c, result, http.StatusNotFound)
}

// providersHealth 渠道健康快照（30 秒缓存）
//
// GET /api/mail/providers/health
func (h *MailHandler) providersHealth(c *gin.Context) {
	result := h.mail.GetProvidersHealth(c.Request.Context(), false)
	writeResult(c, result, http.StatusInternalServerError)
}

// testConnections 强制探活所有渠道，绕过健康缓存
//
// POST /api/mail/providers/test-connections
func (h *MailHandler) testConnections(c *gin.Context) {
	result := h.mail.GetProvidersHealth(c.Request.Context(), true)
	writeResult(c, result, http.StatusInternalServerError)
}

// providersStats 渠道调用统计
//
// GET /api/mail/providers/stats
func (h *MailHandler) providersStats(c *gin.Context) {
	result := h.mail.GetProvidersStats(c.Request.Context())
	writeResult(c, result, http.StatusInternalServerError)
}

// info 静态渠道信息（名称、域名、能力）
//
// GET /api/info
func (h *MailHandler) info(c *gin.Context) {
	providers, err := h.mail.ListProviders(c.Request.Context())
	if err != nil {
		h.logger.Error("list providers failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "channel registry unavailable",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"name":      "TempMailHub",
			"providers": providers,
		},
	})
}

// tokenFrom 按原始行为取访问令牌：请求体优先，其次 Bearer 头。
func tokenFrom(c *gin.Context, bodyToken string) string {
	if bodyToken != "" {
		return bodyToken
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
