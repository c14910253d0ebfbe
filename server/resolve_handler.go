package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"StreamResolve/core/resolver"
	"StreamResolve/logger"
	"StreamResolve/model"

	"github.com/gorilla/mux"
)

// StreamResolver 解析接口，*resolver.Resolver 满足
type StreamResolver interface {
	Resolve(ctx context.Context, req model.StreamRequest) (model.ResolvedStream, error)
}

// ResolveHandler 解析相关的 HTTP 处理器
type ResolveHandler struct {
	resolver StreamResolver
	ranges   resolver.RangeCache
}

// NewResolveHandler ranges 可以为 nil
func NewResolveHandler(r StreamResolver, ranges resolver.RangeCache) *ResolveHandler {
	return &ResolveHandler{resolver: r, ranges: ranges}
}

// statusClientClosed 客户端主动断开，沿用 nginx 的约定
const statusClientClosed = 499

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("[HTTP] 写入响应失败", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
		"status":  status,
	})
}

// parseStreamRequest 从路径和查询参数构造请求
func parseStreamRequest(r *http.Request) (model.StreamRequest, error) {
	q := r.URL.Query()
	trackID := mux.Vars(r)["track_id"]

	req := model.StreamRequest{
		TrackID:     trackID,
		URI:         q.Get("uri"),
		TotalLength: -1,
	}
	if req.URI == "" {
		req.URI = trackID
	}
	if v := q.Get("range_start"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, errors.New("range_start must be an integer")
		}
		req.RangeStart = n
	}
	if v := q.Get("total_length"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, errors.New("total_length must be an integer")
		}
		req.TotalLength = n
	}
	if v := q.Get("metered"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, errors.New("metered must be a boolean")
		}
		req.IsMetered = b
	}
	tier, err := model.ParseQualityTier(q.Get("quality"))
	if err != nil {
		return req, err
	}
	req.Quality = tier

	return req, req.Validate()
}

// httpStatus 解析错误对应的 HTTP 状态码
func httpStatus(err error) int {
	var re *resolver.ResolveError
	switch {
	case errors.Is(err, resolver.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return statusClientClosed
	case errors.Is(err, resolver.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, resolver.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, resolver.ErrNoInternet):
		return http.StatusServiceUnavailable
	case errors.As(err, &re):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *ResolveHandler) resolve(w http.ResponseWriter, r *http.Request) (model.ResolvedStream, bool) {
	req, err := parseStreamRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return model.ResolvedStream{}, false
	}

	stream, err := h.resolver.Resolve(r.Context(), req)
	if err != nil {
		status := httpStatus(err)
		logger.Warn("[ResolveHandler] 解析失败",
			logger.String("requestId", RequestIDFromContext(r.Context())),
			logger.String("trackId", req.TrackID),
			logger.Int("status", status),
			logger.ErrorField(err))
		writeError(w, status, err.Error())
		return model.ResolvedStream{}, false
	}
	return stream, true
}

// ResolveStreamHandler GET /api/resolve/{track_id}
func (h *ResolveHandler) ResolveStreamHandler(w http.ResponseWriter, r *http.Request) {
	stream, ok := h.resolve(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    stream,
	})
}

// StreamRedirectHandler GET /stream/{track_id}，重定向到可播放地址
func (h *ResolveHandler) StreamRedirectHandler(w http.ResponseWriter, r *http.Request) {
	stream, ok := h.resolve(w, r)
	if !ok {
		return
	}
	http.Redirect(w, r, stream.FinalURL, http.StatusFound)
}

// InvalidateCacheHandler DELETE /api/cache/{track_id}
func (h *ResolveHandler) InvalidateCacheHandler(w http.ResponseWriter, r *http.Request) {
	if h.ranges == nil {
		writeError(w, http.StatusServiceUnavailable, "range cache not configured")
		return
	}
	trackID := mux.Vars(r)["track_id"]
	if err := h.ranges.RemoveResource(r.Context(), trackID); err != nil {
		logger.Error("[ResolveHandler] 清除范围缓存失败",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to remove cached ranges")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"trackId": trackID,
	})
}

// HealthHandler GET /healthz
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}
