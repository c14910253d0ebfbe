package server

import (
	"context"
	"errors"

	"StreamResolve/cache"
	"StreamResolve/config"
	"StreamResolve/core/local"
	"StreamResolve/core/persist"
	"StreamResolve/core/provider"
	"StreamResolve/core/resolver"
	"StreamResolve/db"
	"StreamResolve/logger"
	"StreamResolve/repository"
	"StreamResolve/storage"
)

// App 组装好的解析服务及其依赖
type App struct {
	Config   *config.Config
	Resolver *resolver.Resolver
	Registry *provider.Registry
	Ranges   resolver.RangeCache // Redis 不可用时为 nil

	closers []func(context.Context) error
}

// NewSession 由配置构造主解析源会话
func NewSession(cfg *config.Config) provider.StaticSession {
	return provider.StaticSession{
		IsLoggedIn:         cfg.LoggedIn,
		LoginEnabled:       cfg.LoginEnabled,
		LoginOnlyForBrowse: cfg.LoginOnlyForBrowse,
		CookieValue:        cfg.PrimaryCookie,
	}
}

func providerOptions(cfg *config.Config, base string) provider.Options {
	return provider.Options{
		BaseURL:   base,
		Timeout:   cfg.ProviderTimeout,
		RateLimit: cfg.ProviderRateLimit,
		Burst:     cfg.ProviderBurst,
	}
}

// NewPrimaryClient 由配置构造指定变体的主解析源
func NewPrimaryClient(cfg *config.Config, session provider.Session, v provider.Variant) provider.Client {
	return provider.NewPrimaryClient(provider.PrimaryConfig{
		Options:     providerOptions(cfg, cfg.PrimaryBaseURL),
		Variant:     v,
		Session:     session,
		PoTokens:    provider.StaticPoToken(cfg.PoToken),
		VisitorData: cfg.VisitorData,
	})
}

// NewProviders 由配置构造回退链上的全部解析源
func NewProviders(cfg *config.Config, session provider.Session) resolver.Providers {
	return resolver.Providers{
		Advanced:  NewPrimaryClient(cfg, session, provider.VariantAdvanced),
		Plain:     NewPrimaryClient(cfg, session, provider.VariantPlain),
		Secondary: provider.NewSecondaryClient(providerOptions(cfg, cfg.SecondaryBaseURL)),
		Tertiary:  provider.NewTertiaryClient(providerOptions(cfg, cfg.TertiaryBaseURL)),
	}
}

// NewRegistry 回退链上的解析源加上不参与回退的旧路径，供按名称单独调用
func NewRegistry(cfg *config.Config, session provider.Session, p resolver.Providers) *provider.Registry {
	return provider.NewRegistry(
		p.Advanced,
		p.Plain,
		NewPrimaryClient(cfg, session, provider.VariantLegacy),
		p.Secondary,
		p.Tertiary,
	)
}

// Build 连接外部依赖并组装解析器。
// Redis、MinIO、数据库、本地目录任一不可用时只记录警告，对应功能降级。
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}

	var (
		ranges    resolver.RangeCache
		downloads resolver.DownloadCache
		index     resolver.LocalIndex
		writer    resolver.Persister
	)

	if client, err := cache.NewRedisClient(ctx, cfg); err != nil {
		logger.Warn("[Bootstrap] Redis 不可用，范围缓存检查已关闭", logger.ErrorField(err))
	} else {
		rc := cache.NewRangeCache(client)
		ranges = rc
		app.Ranges = rc
		app.closers = append(app.closers, func(context.Context) error { return client.Close() })
	}

	if client, err := storage.NewMinioClient(ctx, cfg); err != nil {
		logger.Warn("[Bootstrap] MinIO 不可用，下载缓存检查已关闭", logger.ErrorField(err))
	} else {
		downloads = storage.NewDownloadCache(client, cfg.MinioBucket, cfg.DownloadPrefix)
	}

	if cfg.LocalMediaDir != "" {
		idx := local.NewIndex(cfg.LocalMediaDir)
		if err := idx.Start(); err != nil {
			logger.Warn("[Bootstrap] 本地媒体目录不可用", logger.String("dir", cfg.LocalMediaDir), logger.ErrorField(err))
		} else {
			index = idx
			app.closers = append(app.closers, func(context.Context) error { return idx.Close() })
		}
	}

	if gdb, err := db.Open(cfg); err != nil {
		logger.Warn("[Bootstrap] 数据库不可用，格式缓存写入已关闭", logger.ErrorField(err))
	} else {
		w, err := persist.NewWriter(repository.NewGormFormatRepository(gdb), persist.Options{
			PoolSize: cfg.WriterPoolSize,
			Timeout:  cfg.WriterTimeout,
		})
		if err != nil {
			_ = db.Close(gdb)
			return nil, err
		}
		writer = w
		// 先排空写入队列再关闭数据库
		app.closers = append(app.closers, func(context.Context) error { return db.Close(gdb) })
		app.closers = append(app.closers, w.Close)
	}

	session := NewSession(cfg)
	providers := NewProviders(cfg, session)
	r, err := resolver.New(providers, resolver.Options{
		Guard:          resolver.NewGuard(index, ranges, downloads),
		Session:        session,
		Writer:         writer,
		MeteringPolicy: cfg.MeteringPolicyEnabled,
	})
	if err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	app.Resolver = r
	app.Registry = NewRegistry(cfg, session, providers)
	return app, nil
}

// Close 按注册的逆序释放资源
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
