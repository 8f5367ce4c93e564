package utils

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// HTTPClient 调用上游 JSON API 的客户端（向量服务、向量库、TMDB）
type HTTPClient struct {
	httpClient *http.Client
	userAgent  string
	headers    map[string]string
}

// NewHTTPClient 创建新的HTTP客户端
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		userAgent: "movierec/1.0",
		headers:   map[string]string{},
	}
}

// WithHeader 为所有请求附加固定请求头（如鉴权），返回自身便于链式调用
func (c *HTTPClient) WithHeader(key, value string) *HTTPClient {
	c.headers[key] = value
	return c
}

// StatusError 上游返回非 2xx 状态码
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: 状态码 %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IsRetryable 判断上游错误是否值得重试：网络错误、超时、429 与 5xx
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// GetJSON 发送GET请求并解析JSON响应
func (c *HTTPClient) GetJSON(ctx context.Context, url string, target interface{}) error {
	return c.DoJSON(ctx, http.MethodGet, url, nil, target)
}

// PostJSON 发送POST请求并解析JSON响应
func (c *HTTPClient) PostJSON(ctx context.Context, url string, body, target interface{}) error {
	return c.DoJSON(ctx, http.MethodPost, url, body, target)
}

// PutJSON 发送PUT请求并解析JSON响应
func (c *HTTPClient) PutJSON(ctx context.Context, url string, body, target interface{}) error {
	return c.DoJSON(ctx, http.MethodPut, url, body, target)
}

// DoJSON 发送请求，body 非空时编码为 JSON，target 非空时解码响应
func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, body, target interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("编码请求失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var reader io.ReadCloser
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		reader, err = gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("创建gzip读取器失败: %w", err)
		}
		defer reader.Close()
	case "deflate":
		reader = flate.NewReader(resp.Body)
		defer reader.Close()
	default:
		reader = resp.Body
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Method: method, URL: redactQuery(url), StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}

	if target == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("解析JSON失败: %w", err)
	}
	return nil
}

// redactQuery 去掉 URL 查询串，避免 api_key 出现在错误和日志里
func redactQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
