package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmailhub/backend/internal/config"
	"tempmailhub/backend/internal/domain"
	"tempmailhub/backend/internal/monitoring"
	"tempmailhub/backend/internal/provider"
	"tempmailhub/backend/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// promauto 指标注册进程内只能发生一次，测试共用同一份
var testMetrics = monitoring.NewMetrics()

// stubChannel 固定行为的内存渠道，域名 stub.test。
type stubChannel struct {
	createErrType domain.ChannelErrorType
}

func (s *stubChannel) Name() string { return "stub" }
func (s *stubChannel) Capabilities() domain.ChannelCapabilities {
	return domain.ChannelCapabilities{CreateEmail: true, ListEmails: true, GetEmailContent: true}
}
func (s *stubChannel) Domains() []string { return []string{"stub.test"} }

func (s *stubChannel) CreateEmail(_ context.Context, req domain.CreateEmailRequest) domain.ChannelResponse[domain.CreateEmailResponse] {
	if s.createErrType != "" {
		return domain.Fail[domain.CreateEmailResponse]("stub",
			domain.NewChannelError(s.createErrType, "stub", "creation failed"), time.Millisecond)
	}
	prefix := req.Prefix
	if prefix == "" {
		prefix = "auto"
	}
	return domain.OK("stub", domain.CreateEmailResponse{
		Address: prefix + "@stub.test", Domain: "stub.test", Username: prefix, Provider: "stub",
	}, time.Millisecond)
}

func (s *stubChannel) GetEmails(_ context.Context, query domain.EmailListQuery) domain.ChannelResponse[[]domain.EmailMessage] {
	messages := []domain.EmailMessage{
		{ID: "1", Subject: "first", Provider: "stub"},
		{ID: "2", Subject: "second", Provider: "stub"},
	}
	return domain.OK("stub", domain.FilterAndPaginate(messages, query), time.Millisecond)
}

func (s *stubChannel) GetEmailContent(_ context.Context, _, id, _ string) domain.ChannelResponse[domain.EmailMessage] {
	if id == "missing" {
		return domain.Fail[domain.EmailMessage]("stub",
			domain.NewChannelError(domain.ErrorTypeAPI, "stub", "email with ID missing not found"), time.Millisecond)
	}
	return domain.OK("stub", domain.EmailMessage{ID: id, Subject: "found", Provider: "stub"}, time.Millisecond)
}

func (s *stubChannel) VerifyEmail(_ context.Context, address string) domain.ChannelResponse[domain.EmailAddress] {
	return domain.OK("stub", domain.EmailAddress{Address: address, Provider: "stub", IsActive: true}, time.Millisecond)
}

func (s *stubChannel) GetHealth(ctx context.Context) domain.ChannelHealth {
	return provider.BuildHealth(domain.ChannelStats{}, s.TestConnection(ctx))
}
func (s *stubChannel) GetStats() domain.ChannelStats { return domain.ChannelStats{} }
func (s *stubChannel) TestConnection(_ context.Context) domain.ChannelResponse[bool] {
	return domain.OK("stub", true, time.Millisecond)
}

func newTestRouter(apiKey string, ch *stubChannel) *gin.Engine {
	registry := provider.NewRegistry(
		[]provider.Factory{{
			Name: "stub",
			New:  func(domain.ChannelConfiguration) (provider.Provider, error) { return ch, nil },
		}},
		map[string]domain.ChannelConfiguration{"stub": {Enabled: true}},
		[]string{"stub"},
		nil,
	)
	mail := service.NewMailService(registry, nil, nil)

	return NewRouter(RouterDependencies{
		Config: &config.Config{
			CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
			Auth:      config.AuthConfig{APIKey: apiKey},
			RateLimit: config.RateLimitConfig{Enabled: false},
		},
		MailService: mail,
		Metrics:     testMetrics,
		Health:      healthcheck.NewHandler(),
		Logger:      zap.NewNop(),
	})
}

type envelope struct {
	Success  bool            `json:"success"`
	Error    json.RawMessage `json:"error"`
	Metadata struct {
		Provider string `json:"provider"`
	} `json:"metadata"`
}

func doJSON(router *gin.Engine, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestBannerAndHealth(t *testing.T) {
	router := newTestRouter("", &stubChannel{})

	t.Run("根路径返回服务横幅", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "TempMailHub")
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	})

	t.Run("注册表初始化前后健康状态变化", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "initializing")

		// 任意一次 API 调用触发惰性初始化
		doJSON(router, http.MethodPost, "/api/mail/create", "", nil)

		w = doJSON(router, http.MethodGet, "/health", "", nil)
		assert.Contains(t, w.Body.String(), `"ok"`)
	})

	t.Run("指标端点可抓取", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/metrics", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAPIKeyAuth(t *testing.T) {
	router := newTestRouter("secret-key", &stubChannel{})

	t.Run("缺失密钥被拒绝", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/info", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("错误密钥被拒绝", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/info", "", map[string]string{"Authorization": "Bearer wrong"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("正确密钥放行", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/info", "", map[string]string{"Authorization": "Bearer secret-key"})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("健康端点不受密钥保护", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestCreateMailEndpoint(t *testing.T) {
	t.Run("空请求体等价于全默认参数", func(t *testing.T) {
		router := newTestRouter("", &stubChannel{})
		w := doJSON(router, http.MethodPost, "/api/mail/create", "", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp envelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "stub", resp.Metadata.Provider)
	})

	t.Run("渠道失败映射为400", func(t *testing.T) {
		router := newTestRouter("", &stubChannel{createErrType: domain.ErrorTypeAPI})
		w := doJSON(router, http.MethodPost, "/api/mail/create", "", nil)

		require.Equal(t, http.StatusBadRequest, w.Code)
		var resp envelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.NotNil(t, resp.Error)
	})

	t.Run("未知错误类型映射为500", func(t *testing.T) {
		router := newTestRouter("", &stubChannel{createErrType: domain.ErrorTypeUnknown})
		w := doJSON(router, http.MethodPost, "/api/mail/create", "", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("畸形JSON返回400", func(t *testing.T) {
		router := newTestRouter("", &stubChannel{})
		w := doJSON(router, http.MethodPost, "/api/mail/create", "{not json", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListMailEndpoint(t *testing.T) {
	router := newTestRouter("", &stubChannel{})

	t.Run("缺失地址返回400", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/mail/list", `{}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "email address is required")
	})

	t.Run("按域名推断渠道并返回列表", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/mail/list", `{"address":"user@stub.test"}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"first"`)
	})

	t.Run("无渠道签发的域名返回400", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/mail/list", `{"address":"user@gmail.com"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "unsupported domain")
	})
}

func TestContentEndpoint(t *testing.T) {
	router := newTestRouter("", &stubChannel{})

	t.Run("命中返回200", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/mail/content",
			`{"address":"user@stub.test","emailId":"42"}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"found"`)
	})

	t.Run("未命中返回404", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/mail/content",
			`{"address":"user@stub.test","emailId":"missing"}`, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("缺失必填字段返回400", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/mail/content", `{"address":"user@stub.test"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCompatEndpoints(t *testing.T) {
	router := newTestRouter("", &stubChannel{})

	t.Run("查询串风格列表支持分页", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/mail/user@stub.test/emails?limit=1", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"first"`)
		assert.NotContains(t, w.Body.String(), `"second"`)
	})

	t.Run("查询串风格取单封邮件", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/mail/user@stub.test/emails/7", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"found"`)
	})

	t.Run("地址验证", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/mail/user@stub.test/verify", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"isActive":true`)
	})
}

func TestProvidersEndpoints(t *testing.T) {
	router := newTestRouter("", &stubChannel{})

	t.Run("健康快照", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/mail/providers/health", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"stub"`)
		assert.Contains(t, w.Body.String(), `"active"`)
	})

	t.Run("强制探活", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/api/mail/providers/test-connections", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("调用统计", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/mail/providers/stats", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"totalRequests"`)
	})

	t.Run("静态渠道信息", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/api/info", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"stub.test"`)
	})
}
