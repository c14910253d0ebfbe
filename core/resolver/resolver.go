// Package resolver 把一次播放请求解析为可播放地址：
// 先查本地缓存，再按 主解析源 -> 未登录路径重试 / 第一备用 -> 第二备用 的顺序回退。
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"StreamResolve/core/provider"
	"StreamResolve/logger"
	"StreamResolve/model"
)

// Persister 解析成功后的缓存写入，调用方不等待结果
type Persister interface {
	Persist(trackID string, c model.EncodingCandidate)
}

// Providers 回退链上的各个解析源
type Providers struct {
	Advanced  provider.Client // 已登录
	Plain     provider.Client // 未登录，主路径失败后也用它重试一次
	Secondary provider.Client
	Tertiary  provider.Client
}

func (p Providers) validate() error {
	switch {
	case p.Advanced == nil, p.Plain == nil:
		return errors.New("resolver: primary clients are required")
	case p.Secondary == nil, p.Tertiary == nil:
		return errors.New("resolver: fallback clients are required")
	}
	return nil
}

// Resolver 回退编排器。无共享可变状态，可并发使用。
type Resolver struct {
	guard          *Guard
	providers      Providers
	session        provider.Session
	writer         Persister
	meteringPolicy bool
}

// Options 编排器配置
type Options struct {
	Guard   *Guard
	Session provider.Session
	Writer  Persister
	// MeteringPolicy 计费网络节流策略是否开启
	MeteringPolicy bool
}

// New 创建编排器
func New(providers Providers, opts Options) (*Resolver, error) {
	if err := providers.validate(); err != nil {
		return nil, err
	}
	session := opts.Session
	if session == nil {
		session = provider.StaticSession{}
	}
	return &Resolver{
		guard:          opts.Guard,
		providers:      providers,
		session:        session,
		writer:         opts.Writer,
		meteringPolicy: opts.MeteringPolicy,
	}, nil
}

// Resolve 解析一次播放请求。
// 解析源的业务失败以 *ResolveError 返回；无法归类的传输错误和 ctx 取消原样返回。
func (r *Resolver) Resolve(ctx context.Context, req model.StreamRequest) (model.ResolvedStream, error) {
	if err := req.Validate(); err != nil {
		return model.ResolvedStream{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	start := time.Now()
	defer func() { resolveDuration.Observe(time.Since(start).Seconds()) }()

	if stream, ok := r.guard.Check(ctx, req); ok {
		recordOutcome(stream.Provider, model.StatusOk.String())
		return stream, nil
	}

	params := provider.Params{
		TrackID:        req.TrackID,
		Quality:        req.Quality,
		IsMetered:      req.IsMetered,
		MeteringPolicy: r.meteringPolicy,
	}

	primary := r.providers.Plain
	if r.session.LoggedIn() {
		primary = r.providers.Advanced
	}

	out, err := r.call(ctx, primary, params)
	if err != nil {
		return model.ResolvedStream{}, err
	}
	switch out.Status {
	case model.StatusOk:
		return r.succeed(req, primary.Name(), out, ChunkLength), nil
	case model.StatusLoginRequired:
		logger.Info("[Resolver] 主解析源需要登录，切换备用解析源",
			logger.String("trackId", req.TrackID),
			logger.String("provider", primary.Name()))
		return r.fallback(ctx, req, params)
	}

	logger.Warn("[Resolver] 主解析源失败，用未登录路径重试",
		logger.String("trackId", req.TrackID),
		logger.String("provider", primary.Name()),
		logger.String("status", out.Status.String()),
		logger.String("reason", out.Reason))

	retry := r.providers.Plain
	out, err = r.call(ctx, retry, params)
	if err != nil {
		return model.ResolvedStream{}, err
	}
	if out.Status == model.StatusOk {
		return r.succeed(req, retry.Name(), out, ChunkLength), nil
	}
	return model.ResolvedStream{}, newResolveError(retry.Name(), req.TrackID, out)
}

// fallback 备用解析源链，只有 NotFound 会继续往下走
func (r *Resolver) fallback(ctx context.Context, req model.StreamRequest, params provider.Params) (model.ResolvedStream, error) {
	for _, c := range []provider.Client{r.providers.Secondary, r.providers.Tertiary} {
		out, err := r.call(ctx, c, params)
		if err != nil {
			return model.ResolvedStream{}, err
		}
		switch out.Status {
		case model.StatusOk:
			return r.succeed(req, c.Name(), out, req.TotalLength), nil
		case model.StatusNotFound:
			logger.Info("[Resolver] 备用解析源未找到曲目",
				logger.String("trackId", req.TrackID),
				logger.String("provider", c.Name()))
			continue
		default:
			return model.ResolvedStream{}, newResolveError(c.Name(), req.TrackID, out)
		}
	}

	logger.Warn("[Resolver] 所有解析源均未找到可播放格式",
		logger.String("trackId", req.TrackID))
	return model.ResolvedStream{}, exhaustedError(req.TrackID)
}

func (r *Resolver) call(ctx context.Context, c provider.Client, params provider.Params) (model.ResolutionOutcome, error) {
	if err := ctx.Err(); err != nil {
		return model.ResolutionOutcome{}, err
	}
	out, err := c.Resolve(ctx, params)
	if err != nil {
		recordOutcome(c.Name(), "error")
		return model.ResolutionOutcome{}, err
	}
	// 客户端实现不规范时兜底，保证 Ok 一定带着编码
	if out.Status == model.StatusOk && out.Chosen == nil {
		out = model.FailedOutcome(model.StatusUnknown, "provider returned ok without a format")
	}
	recordOutcome(c.Name(), out.Status.String())
	return out, nil
}

func (r *Resolver) succeed(req model.StreamRequest, providerName string, out model.ResolutionOutcome, length int64) model.ResolvedStream {
	chosen := *out.Chosen
	logger.Info("[Resolver] 解析成功",
		logger.String("trackId", req.TrackID),
		logger.String("provider", providerName),
		logger.Int("itag", chosen.FormatTag))

	if r.writer != nil {
		r.writer.Persist(req.TrackID, chosen)
	}

	return model.ResolvedStream{
		TrackID:         req.TrackID,
		FinalURL:        chosen.URL,
		ByteRangeStart:  req.RangeStart,
		ByteRangeLength: length,
		Provider:        providerName,
	}
}
