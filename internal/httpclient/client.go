package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RequestOptions 单次出站请求的配置，由适配器按渠道配置传入。
type RequestOptions struct {
	Headers map[string]string
	Timeout time.Duration // 单次尝试的超时
	Retries int           // 传输层失败时的额外重试次数
}

// Response 出站请求的统一结果形态。
//
// HTTP 4xx/5xx 不视为传输失败：OK=false 返回给适配器自行分类，不自动重试。
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	OK         bool // 2xx
}

// JSON 将响应体解码到 v。
func (r *Response) JSON(v interface{}) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Cookie 从 Set-Cookie 头中提取指定名称的 cookie 值。
func (r *Response) Cookie(name string) string {
	prefix := name + "="
	for _, raw := range r.Headers.Values("Set-Cookie") {
		for _, part := range strings.Split(raw, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, prefix) {
				return strings.TrimPrefix(part, prefix)
			}
		}
	}
	return ""
}

// Client 出站 HTTP 客户端的薄封装。
//
// 只做两件事：固定超时 + 固定次数的传输层重试。
// 更细的状态码语义留给各适配器。
type Client struct {
	inner *http.Client
}

// New 创建出站客户端。超时逐调用控制，因此底层 client 不设全局超时。
func New() *Client {
	return &Client{
		inner: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
			// 上游常用 302 携带 Set-Cookie，重定向交给调用方语义
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Get 发起 GET 请求。
func (c *Client) Get(ctx context.Context, url string, opts RequestOptions) (*Response, error) {
	return c.do(ctx, http.MethodGet, url, nil, opts)
}

// Post 发起 POST 请求，body 为 nil 时发送空体。
func (c *Client) Post(ctx context.Context, url string, body []byte, opts RequestOptions) (*Response, error) {
	return c.do(ctx, http.MethodPost, url, body, opts)
}

// PostJSON 将 payload 编码为 JSON 后 POST。
func (c *Client) PostJSON(ctx context.Context, url string, payload interface{}, opts RequestOptions) (*Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	if opts.Headers == nil {
		opts.Headers = map[string]string{}
	}
	if _, ok := opts.Headers["Content-Type"]; !ok {
		opts.Headers["Content-Type"] = "application/json"
	}
	return c.do(ctx, http.MethodPost, url, data, opts)
}

// do 执行请求：每次尝试独立超时，仅传输层错误触发重试。
func (c *Client) do(ctx context.Context, method, url string, body []byte, opts RequestOptions) (*Response, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	var lastErr error
	attempts := opts.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := c.attempt(ctx, method, url, body, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// 调用方取消时立即放弃，不再消耗剩余重试
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte, opts RequestOptions) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.inner.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    resp.Header,
		Body:       data,
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
	}, nil
}
