package provider

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"

	"StreamResolve/model"
)

// Params 一次解析调用的参数
type Params struct {
	TrackID        string
	Quality        model.QualityTier
	IsMetered      bool
	MeteringPolicy bool // 计费网络节流策略是否开启
}

// Client 解析源统一接口。
// 解析源的业务状态通过 ResolutionOutcome 返回；error 只用于无法归类的传输错误和调用方取消。
type Client interface {
	Name() string
	Resolve(ctx context.Context, params Params) (model.ResolutionOutcome, error)
}

// Session 主解析源的登录状态，由外部会话管理提供
type Session interface {
	LoggedIn() bool
	// UseLoginForPlayback 播放请求是否带登录态
	UseLoginForPlayback() bool
	Cookie() string
}

// StaticSession 基于配置的会话
type StaticSession struct {
	IsLoggedIn         bool
	LoginEnabled       bool
	LoginOnlyForBrowse bool
	CookieValue        string
}

func (s StaticSession) LoggedIn() bool { return s.IsLoggedIn }

func (s StaticSession) UseLoginForPlayback() bool {
	return !s.LoginOnlyForBrowse && s.LoginEnabled && s.IsLoggedIn
}

func (s StaticSession) Cookie() string { return s.CookieValue }

// SignatureResolver 外部签名协作方：把带签名的编码还原成可播放地址
type SignatureResolver interface {
	StreamURL(ctx context.Context, trackID string, c model.EncodingCandidate) (string, error)
	// SignatureTimestamp 旧接口请求需要的签名时间戳，没有时返回 false
	SignatureTimestamp(ctx context.Context, trackID string) (int, bool)
}

// ErrSignatureRequired 编码只带 signatureCipher，需要签名协作方
var ErrSignatureRequired = errors.New("provider: format requires signature deciphering")

// PassthroughSignature 不做任何解密，只接受带明文 URL 的编码
type PassthroughSignature struct {
	Timestamp int
}

func (PassthroughSignature) StreamURL(_ context.Context, _ string, c model.EncodingCandidate) (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}
	if c.SignatureCipher != "" {
		return "", ErrSignatureRequired
	}
	return "", errors.New("provider: format has no url")
}

func (p PassthroughSignature) SignatureTimestamp(context.Context, string) (int, bool) {
	return p.Timestamp, p.Timestamp > 0
}

// PoTokenProvider 外部 proof-of-origin token 来源
type PoTokenProvider interface {
	PoToken(ctx context.Context, trackID string) (string, error)
}

// StaticPoToken 使用固定 token，空字符串表示不附加
type StaticPoToken string

func (t StaticPoToken) PoToken(context.Context, string) (string, error) {
	return string(t), nil
}

// Registry 解析源注册表，按名称查找
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry 创建注册表
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client)}
	for _, c := range clients {
		r.Register(c)
	}
	return r
}

// Register 注册解析源，同名覆盖
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Name()] = c
}

// Get 获取指定名称的解析源
func (r *Registry) Get(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// Names 已注册的名称，按字母序
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// appendQuery 在 URL 末尾追加查询参数，保持已有参数顺序不变
func appendQuery(rawURL, key, value string) string {
	sep := "&"
	if !strings.Contains(rawURL, "?") {
		sep = "?"
	}
	return rawURL + sep + key + "=" + url.QueryEscape(value)
}
