package mailtm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmailhub/backend/internal/domain"
)

func newChannel(baseURL string) *Channel {
	return New(domain.ChannelConfiguration{
		Name:    Name,
		Enabled: true,
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
	}, nil)
}

func TestCreateEmail(t *testing.T) {
	t.Run("创建账户并签发令牌", func(t *testing.T) {
		var accountBody map[string]string

		mux := http.NewServeMux()
		mux.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&accountBody))
			_ = json.NewEncoder(w).Encode(map[string]string{
				"id":      "acc-1",
				"address": accountBody["address"],
			})
		})
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "jwt-token"})
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		resp := newChannel(server.URL).CreateEmail(context.Background(), domain.CreateEmailRequest{Prefix: "Custom01"})
		require.True(t, resp.Success)
		assert.Equal(t, "custom01@somoj.com", resp.Data.Address)
		assert.Equal(t, "somoj.com", resp.Data.Domain)
		assert.Equal(t, "jwt-token", resp.Data.AccessToken)
		assert.NotEmpty(t, accountBody["password"])
	})

	t.Run("使用配置中的账户密码", func(t *testing.T) {
		var accountBody map[string]string

		mux := http.NewServeMux()
		mux.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&accountBody))
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "a", "address": accountBody["address"]})
		})
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "t"})
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		ch := New(domain.ChannelConfiguration{
			Name:        Name,
			Enabled:     true,
			BaseURL:     server.URL,
			Timeout:     2 * time.Second,
			Credentials: map[string]string{"password": "operator-secret"},
		}, nil)

		resp := ch.CreateEmail(context.Background(), domain.CreateEmailRequest{})
		require.True(t, resp.Success)
		assert.Equal(t, "operator-secret", accountBody["password"])
	})

	t.Run("未指定前缀时随机生成", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "a", "address": body["address"]})
		})
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "t"})
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		first := newChannel(server.URL).CreateEmail(context.Background(), domain.CreateEmailRequest{})
		second := newChannel(server.URL).CreateEmail(context.Background(), domain.CreateEmailRequest{})
		require.True(t, first.Success)
		require.True(t, second.Success)
		assert.NotEqual(t, first.Data.Address, second.Data.Address)
		assert.True(t, strings.HasSuffix(first.Data.Address, "@somoj.com"))
	})

	t.Run("上游限流归类为RATE_LIMIT", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		resp := newChannel(server.URL).CreateEmail(context.Background(), domain.CreateEmailRequest{})
		require.False(t, resp.Success)
		assert.Equal(t, domain.ErrorTypeRateLimit, resp.Error.Type)
		assert.True(t, resp.Error.Retryable)
	})

	t.Run("令牌签发失败归类为认证错误", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "a", "address": "x@somoj.com"})
		})
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		resp := newChannel(server.URL).CreateEmail(context.Background(), domain.CreateEmailRequest{})
		require.False(t, resp.Success)
		assert.Equal(t, domain.ErrorTypeAuthentication, resp.Error.Type)
		assert.False(t, resp.Error.Retryable)
	})
}

func TestGetEmails(t *testing.T) {
	t.Run("缺少访问令牌直接失败", func(t *testing.T) {
		ch := newChannel("http://unused.invalid")
		resp := ch.GetEmails(context.Background(), domain.EmailListQuery{Address: "x@somoj.com"})
		require.False(t, resp.Success)
		assert.Equal(t, domain.ErrorTypeAuthentication, resp.Error.Type)

		stats := ch.GetStats()
		assert.Equal(t, int64(1), stats.TotalRequests)
		assert.Equal(t, int64(1), stats.FailedRequests)
	})

	t.Run("携带令牌列出摘要", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"hydra:member":[
				{"id":"m1","from":{"address":"a@b.com"},"subject":"s1","intro":"preview","seen":false,"size":120,"createdAt":"2025-06-01T10:00:00Z"},
				{"id":"m2","from":{"address":"c@d.com"},"subject":"s2","seen":true,"createdAt":"2025-06-01T11:00:00Z"}
			]}`))
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		resp := newChannel(server.URL).GetEmails(context.Background(), domain.EmailListQuery{
			Address:     "x@somoj.com",
			AccessToken: "jwt-token",
		})
		require.True(t, resp.Success)
		require.Len(t, resp.Data, 2)
		assert.Equal(t, "m1", resp.Data[0].ID)
		assert.Equal(t, "preview", resp.Data[0].TextContent)
		assert.False(t, resp.Data[0].IsRead)
		assert.True(t, resp.Data[1].IsRead)
	})

	t.Run("多页收件箱翻页取完后再分页", func(t *testing.T) {
		const total = 45
		var calls int

		mux := http.NewServeMux()
		mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
			calls++
			start, end := 0, 30
			if r.URL.Query().Get("page") == "2" {
				start, end = 30, total
			}
			members := make([]map[string]any, 0, end-start)
			for i := start; i < end; i++ {
				members = append(members, map[string]any{
					"id":        fmt.Sprintf("m%d", i+1),
					"from":      map[string]string{"address": "a@b.com"},
					"subject":   fmt.Sprintf("s%d", i+1),
					"createdAt": "2025-06-01T10:00:00Z",
				})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"hydra:member":     members,
				"hydra:totalItems": total,
			})
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		// 分页窗口落在第二个上游页内，只取一页会让这里变空
		resp := newChannel(server.URL).GetEmails(context.Background(), domain.EmailListQuery{
			Address:     "x@somoj.com",
			AccessToken: "jwt-token",
			Offset:      30,
			Limit:       10,
		})
		require.True(t, resp.Success)
		require.Len(t, resp.Data, 10)
		assert.Equal(t, "m31", resp.Data[0].ID)
		assert.Equal(t, "m40", resp.Data[9].ID)
		assert.Equal(t, 2, calls)
	})

	t.Run("令牌被拒归类为认证错误", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		resp := newChannel(server.URL).GetEmails(context.Background(), domain.EmailListQuery{
			Address:     "x@somoj.com",
			AccessToken: "stale",
		})
		require.False(t, resp.Success)
		assert.Equal(t, domain.ErrorTypeAuthentication, resp.Error.Type)
	})
}

func TestGetEmailContent(t *testing.T) {
	t.Run("拼接HTML数组并补全正文", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/messages/m1", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{
				"id":"m1","from":{"address":"a@b.com"},"subject":"s1","createdAt":"2025-06-01T10:00:00Z",
				"html":["<p>part one</p>","<p>part two</p>"]
			}`))
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		resp := newChannel(server.URL).GetEmailContent(context.Background(), "x@somoj.com", "m1", "jwt")
		require.True(t, resp.Success)
		assert.Equal(t, "<p>part one</p>\n<p>part two</p>", resp.Data.HTMLContent)
		assert.Equal(t, "part one\n\npart two", resp.Data.TextContent)
	})

	t.Run("上游404返回API错误", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		resp := newChannel(server.URL).GetEmailContent(context.Background(), "x@somoj.com", "missing", "jwt")
		require.False(t, resp.Success)
		assert.Equal(t, domain.ErrorTypeAPI, resp.Error.Type)
		assert.Equal(t, 404, resp.Error.StatusCode)
	})
}

func TestVerifyEmail(t *testing.T) {
	ch := newChannel("http://unused.invalid")

	resp := ch.VerifyEmail(context.Background(), "user@somoj.com")
	require.True(t, resp.Success)
	assert.Equal(t, Name, resp.Data.Provider)

	resp = ch.VerifyEmail(context.Background(), "user@elsewhere.com")
	assert.False(t, resp.Success)
}
