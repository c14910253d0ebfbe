package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"StreamResolve/core/quality"
	"StreamResolve/logger"
	"StreamResolve/model"
)

// TertiaryName 第二备用解析源名称
const TertiaryName = "tertiary"

// TertiaryClient 第二备用解析源（videos 接口）
type TertiaryClient struct {
	http   *httpClient
	policy quality.Policy
}

func NewTertiaryClient(opts Options) *TertiaryClient {
	return &TertiaryClient{
		http:   newHTTPClient(opts),
		policy: quality.FallbackPolicy,
	}
}

func (t *TertiaryClient) Name() string { return TertiaryName }

type videosResponse struct {
	Error           string        `json:"error"`
	AdaptiveFormats []tertiaryFmt `json:"adaptiveFormats"`
}

type tertiaryFmt struct {
	URL          string  `json:"url"`
	Itag         flexInt `json:"itag"`
	Type         string  `json:"type"`
	Bitrate      flexInt `json:"bitrate"`
	Clen         flexInt `json:"clen"`
	Lmt          flexInt `json:"lmt"`
	AudioQuality string  `json:"audioQuality"`
}

func (t *TertiaryClient) Resolve(ctx context.Context, params Params) (model.ResolutionOutcome, error) {
	callCtx, cancel := t.http.callContext(ctx)
	defer cancel()

	path := "/api/v1/videos/" + url.PathEscape(params.TrackID) + "?local=true"
	resp, err := t.http.get(callCtx, path, nil)
	if err != nil {
		return transportOutcome(ctx, TertiaryName, params.TrackID, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return model.FailedOutcome(model.StatusNotFound, "track not found"), nil
	}

	var vr videosResponse
	if err := json.Unmarshal(resp.Body, &vr); err != nil {
		if outcome, ok := httpStatusOutcome(resp.StatusCode); ok {
			return outcome, nil
		}
		logger.Error("[TertiaryClient] 解析响应失败",
			logger.String("trackId", params.TrackID),
			logger.ErrorField(err))
		return model.ResolutionOutcome{}, fmt.Errorf("%s: decode videos response: %w", TertiaryName, err)
	}
	if vr.Error == "" {
		if outcome, ok := httpStatusOutcome(resp.StatusCode); ok {
			return outcome, nil
		}
	}
	if status := ClassifyStatus(statusFromMessage(vr.Error)); status != model.StatusOk {
		logger.Info("[TertiaryClient] 解析源返回错误",
			logger.String("trackId", params.TrackID),
			logger.String("message", vr.Error))
		return model.FailedOutcome(status, vr.Error), nil
	}

	var candidates []model.EncodingCandidate
	for _, f := range vr.AdaptiveFormats {
		if f.URL == "" || !isAudioMime(f.Type) {
			continue
		}
		candidates = append(candidates, model.EncodingCandidate{
			FormatTag:     f.Itag.Int(),
			MimeType:      f.Type,
			Bitrate:       f.Bitrate.Ptr(),
			ContentLength: f.Clen.Ptr(),
			LastModified:  f.Lmt.Ptr(),
			URL:           t.absolute(f.URL),
			AudioQuality:  f.AudioQuality,
		})
	}

	chosen, err := t.policy.Select(params.Quality, candidates, params.IsMetered, params.MeteringPolicy)
	if err != nil {
		logger.Info("[TertiaryClient] 没有音频流",
			logger.String("trackId", params.TrackID))
		return model.FailedOutcome(model.StatusNotFound, "no audio formats"), nil
	}

	logger.Info("[TertiaryClient] 选中音频流",
		logger.String("trackId", params.TrackID),
		logger.Int("itag", chosen.FormatTag))
	return model.OkOutcome(chosen), nil
}

// absolute local=true 时实例返回的是相对地址
func (t *TertiaryClient) absolute(raw string) string {
	if strings.HasPrefix(raw, "/") {
		return t.http.baseURL + raw
	}
	return raw
}
