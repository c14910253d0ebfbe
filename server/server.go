package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"StreamResolve/config"
	"StreamResolve/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter 注册全部路由。jwtSecret 为空时接口不校验令牌。
func NewRouter(h *ResolveHandler, jwtSecret string) *mux.Router {
	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(corsMiddleware)

	router.HandleFunc("/healthz", HealthHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	protected := router.NewRoute().Subrouter()
	protected.Use(authMiddleware([]byte(jwtSecret)))
	protected.HandleFunc("/api/resolve/{track_id}", h.ResolveStreamHandler).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/stream/{track_id}", h.StreamRedirectHandler).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/api/cache/{track_id}", h.InvalidateCacheHandler).Methods(http.MethodDelete, http.MethodOptions)

	return router
}

// Start 组装依赖并启动 HTTP 服务，收到中断信号后优雅退出
func Start(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			logger.Error("[Server] 释放资源失败", logger.ErrorField(err))
		}
	}()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      NewRouter(NewResolveHandler(app.Resolver, app.Ranges), cfg.APIJWTSecret),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Server] 服务启动",
			logger.String("addr", cfg.HTTPAddr),
			logger.Bool("auth", cfg.APIJWTSecret != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("[Server] 正在关闭服务")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("[Server] 服务已停止")
	return nil
}
