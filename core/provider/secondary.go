package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"StreamResolve/core/quality"
	"StreamResolve/logger"
	"StreamResolve/model"
)

// SecondaryName 第一备用解析源名称
const SecondaryName = "secondary"

// SecondaryClient 第一备用解析源（streams 接口，不需要登录）
type SecondaryClient struct {
	http   *httpClient
	policy quality.Policy
}

// NewSecondaryClient 创建第一备用解析源客户端
func NewSecondaryClient(opts Options) *SecondaryClient {
	return &SecondaryClient{
		http:   newHTTPClient(opts),
		policy: quality.FallbackPolicy,
	}
}

func (s *SecondaryClient) Name() string { return SecondaryName }

type streamsResponse struct {
	Error        string         `json:"error"`
	Message      string         `json:"message"`
	AudioStreams []secondaryFmt `json:"audioStreams"`
}

type secondaryFmt struct {
	URL           string  `json:"url"`
	Itag          flexInt `json:"itag"`
	MimeType      string  `json:"mimeType"`
	Bitrate       flexInt `json:"bitrate"`
	ContentLength flexInt `json:"contentLength"`
	Quality       string  `json:"quality"`
}

// Resolve 请求 streams 接口并选出一个音频流，忽略计费网络设置
func (s *SecondaryClient) Resolve(ctx context.Context, params Params) (model.ResolutionOutcome, error) {
	callCtx, cancel := s.http.callContext(ctx)
	defer cancel()

	resp, err := s.http.get(callCtx, "/streams/"+url.PathEscape(params.TrackID), nil)
	if err != nil {
		return transportOutcome(ctx, SecondaryName, params.TrackID, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return model.FailedOutcome(model.StatusNotFound, "track not found"), nil
	}

	var sr streamsResponse
	if err := json.Unmarshal(resp.Body, &sr); err != nil {
		if outcome, ok := httpStatusOutcome(resp.StatusCode); ok {
			return outcome, nil
		}
		logger.Error("[SecondaryClient] 解析响应失败",
			logger.String("trackId", params.TrackID),
			logger.ErrorField(err))
		return model.ResolutionOutcome{}, fmt.Errorf("%s: decode streams response: %w", SecondaryName, err)
	}

	msg := sr.Error
	if msg == "" {
		msg = sr.Message
	}
	if msg == "" {
		if outcome, ok := httpStatusOutcome(resp.StatusCode); ok {
			return outcome, nil
		}
	}
	if status := ClassifyStatus(statusFromMessage(msg)); status != model.StatusOk {
		logger.Info("[SecondaryClient] 解析源返回错误",
			logger.String("trackId", params.TrackID),
			logger.String("message", msg))
		return model.FailedOutcome(status, msg), nil
	}

	candidates := make([]model.EncodingCandidate, 0, len(sr.AudioStreams))
	for _, f := range sr.AudioStreams {
		if f.URL == "" || (f.MimeType != "" && !isAudioMime(f.MimeType)) {
			continue
		}
		candidates = append(candidates, model.EncodingCandidate{
			FormatTag:     f.Itag.Int(),
			MimeType:      f.MimeType,
			Bitrate:       f.Bitrate.Ptr(),
			ContentLength: f.ContentLength.Ptr(),
			URL:           f.URL,
			AudioQuality:  f.Quality,
		})
	}

	chosen, err := s.policy.Select(params.Quality, candidates, params.IsMetered, params.MeteringPolicy)
	if err != nil {
		logger.Info("[SecondaryClient] 没有音频流",
			logger.String("trackId", params.TrackID))
		return model.FailedOutcome(model.StatusNotFound, "no audio streams"), nil
	}

	logger.Info("[SecondaryClient] 选中音频流",
		logger.String("trackId", params.TrackID),
		logger.Int("itag", chosen.FormatTag))
	return model.OkOutcome(chosen), nil
}
