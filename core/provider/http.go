package provider

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"
)

// 默认值
const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "StreamResolve/1.0"
	maxBodyBytes     = 8 << 20
)

var (
	errRateLimited = errors.New("provider: rate limited")
	// ErrResponseTooLarge 响应体超过 maxBodyBytes
	ErrResponseTooLarge = errors.New("provider: response too large")
)

// Options 解析源 HTTP 客户端配置
type Options struct {
	BaseURL    string
	Timeout    time.Duration // 单次调用超时
	RateLimit  float64       // 每秒请求数，<=0 不限速
	Burst      int
	UserAgent  string
	HTTPClient *http.Client
}

// httpClient 三个解析源共用的 HTTP 封装：限速、单次超时、解压
type httpClient struct {
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	timeout   time.Duration
	userAgent string
}

// response 已读取并解压的响应
type response struct {
	StatusCode int
	Body       []byte
}

func newHTTPClient(opts Options) *httpClient {
	c := &httpClient{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		client:    opts.HTTPClient,
		timeout:   opts.Timeout,
		userAgent: opts.UserAgent,
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return c
}

// callContext 单次调用的超时上下文
func (c *httpClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// wait 等待限速令牌。返回的错误说明本次调用不应发出。
func (c *httpClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", errRateLimited, err)
	}
	return nil
}

func (c *httpClient) get(ctx context.Context, path string, header http.Header) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	return c.do(req, header)
}

func (c *httpClient) postJSON(ctx context.Context, path string, payload any, header http.Header) (*response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, header)
}

// do 发送请求。传输层错误原样返回，交给 ClassifyTransport 处理。
func (c *httpClient) do(req *http.Request, header http.Header) (*response, error) {
	if err := c.wait(req.Context()); err != nil {
		return nil, err
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	return &response{StatusCode: resp.StatusCode, Body: body}, nil
}

// readBody 按 Content-Encoding 解压，手动设置 Accept-Encoding 后标准库不会自动解压
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip 解压失败: %w", err)
		}
		defer gz.Close()
		r = gz
	case "br":
		r = brotli.NewReader(resp.Body)
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBodyBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, maxBodyBytes)
	}
	return body, nil
}
