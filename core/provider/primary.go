package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"StreamResolve/core/quality"
	"StreamResolve/logger"
	"StreamResolve/model"

	"github.com/google/uuid"
)

// Variant 主解析源的调用路径
type Variant int

const (
	// VariantAdvanced 已登录时使用：签名还原 + cpn/range + po token
	VariantAdvanced Variant = iota
	// VariantPlain 未登录时使用：cpn/range
	VariantPlain
	// VariantLegacy 旧路径，只做签名还原，不在回退链上，只能按名称单独调用
	VariantLegacy
)

func (v Variant) String() string {
	switch v {
	case VariantAdvanced:
		return "primary-advanced"
	case VariantLegacy:
		return "primary-legacy"
	default:
		return "primary"
	}
}

// defaultContentLength 解析源没给 contentLength 时 range 的上限
const defaultContentLength = 10000000

type clientProfile struct {
	name    string
	version string
}

var profiles = map[Variant]clientProfile{
	VariantAdvanced: {name: "WEB_REMIX", version: "1.20250310.01.00"},
	VariantPlain:    {name: "ANDROID_MUSIC", version: "7.27.52"},
	VariantLegacy:   {name: "WEB_REMIX", version: "1.20250310.01.00"},
}

// PrimaryConfig 主解析源配置
type PrimaryConfig struct {
	Options
	Variant     Variant
	Session     Session
	Signer      SignatureResolver
	PoTokens    PoTokenProvider
	VisitorData string
}

// PrimaryClient 主解析源（player 接口）
type PrimaryClient struct {
	http        *httpClient
	variant     Variant
	policy      quality.Policy
	session     Session
	signer      SignatureResolver
	poTokens    PoTokenProvider
	visitorData string
	newCPN      func() string
}

// NewPrimaryClient 创建主解析源客户端
func NewPrimaryClient(cfg PrimaryConfig) *PrimaryClient {
	p := &PrimaryClient{
		http:        newHTTPClient(cfg.Options),
		variant:     cfg.Variant,
		policy:      quality.AdvancedPolicy,
		session:     cfg.Session,
		signer:      cfg.Signer,
		poTokens:    cfg.PoTokens,
		visitorData: cfg.VisitorData,
		newCPN:      newCPN,
	}
	if cfg.Variant == VariantLegacy {
		p.policy = quality.LegacyPolicy
	}
	if p.session == nil {
		p.session = StaticSession{}
	}
	if p.signer == nil {
		p.signer = PassthroughSignature{}
	}
	if p.poTokens == nil {
		p.poTokens = StaticPoToken("")
	}
	return p
}

// Name 返回解析源名称
func (p *PrimaryClient) Name() string {
	return p.variant.String()
}

// newCPN 16 位 client playback nonce
func newCPN() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:12])
}

type playerBody struct {
	VideoID                    string             `json:"videoId"`
	Context                    playerContext      `json:"context"`
	PlaybackContext            *playbackContext   `json:"playbackContext,omitempty"`
	ServiceIntegrityDimensions *integrityEnvelope `json:"serviceIntegrityDimensions,omitempty"`
	CPN                        string             `json:"cpn,omitempty"`
}

type playerContext struct {
	Client clientInfo `json:"client"`
}

type clientInfo struct {
	ClientName    string `json:"clientName"`
	ClientVersion string `json:"clientVersion"`
	HL            string `json:"hl"`
	GL            string `json:"gl"`
	VisitorData   string `json:"visitorData,omitempty"`
}

type playbackContext struct {
	ContentPlaybackContext struct {
		SignatureTimestamp int `json:"signatureTimestamp"`
	} `json:"contentPlaybackContext"`
}

type integrityEnvelope struct {
	PoToken string `json:"poToken"`
}

type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	StreamingData *struct {
		AdaptiveFormats []playerFormat `json:"adaptiveFormats"`
	} `json:"streamingData"`
}

type playerFormat struct {
	Itag            int      `json:"itag"`
	MimeType        string   `json:"mimeType"`
	Bitrate         flexInt  `json:"bitrate"`
	ContentLength   flexInt  `json:"contentLength"`
	LoudnessDB      *float64 `json:"loudnessDb"`
	LastModified    flexInt  `json:"lastModified"`
	URL             string   `json:"url"`
	SignatureCipher string   `json:"signatureCipher"`
	AudioQuality    string   `json:"audioQuality"`
}

func (f playerFormat) candidate() model.EncodingCandidate {
	return model.EncodingCandidate{
		FormatTag:       f.Itag,
		MimeType:        f.MimeType,
		Bitrate:         f.Bitrate.Ptr(),
		ContentLength:   f.ContentLength.Ptr(),
		LoudnessDB:      f.LoudnessDB,
		LastModified:    f.LastModified.Ptr(),
		URL:             f.URL,
		SignatureCipher: f.SignatureCipher,
		AudioQuality:    f.AudioQuality,
	}
}

// Resolve 调用 player 接口并选出一个编码
func (p *PrimaryClient) Resolve(ctx context.Context, params Params) (model.ResolutionOutcome, error) {
	name := p.Name()
	callCtx, cancel := p.http.callContext(ctx)
	defer cancel()

	cpn := ""
	if p.variant != VariantLegacy {
		cpn = p.newCPN()
	}
	body, poToken := p.buildBody(callCtx, params.TrackID, cpn)

	header := http.Header{}
	if cookie := p.session.Cookie(); cookie != "" {
		if p.variant == VariantAdvanced || p.session.UseLoginForPlayback() {
			header.Set("Cookie", cookie)
		}
	}

	logger.Debug("[PrimaryClient] 请求播放信息",
		logger.String("provider", name),
		logger.String("trackId", params.TrackID))

	resp, err := p.http.postJSON(callCtx, "/player", body, header)
	if err != nil {
		return transportOutcome(ctx, name, params.TrackID, err)
	}

	var pr playerResponse
	if err := json.Unmarshal(resp.Body, &pr); err != nil {
		if outcome, ok := httpStatusOutcome(resp.StatusCode); ok {
			return outcome, nil
		}
		logger.Error("[PrimaryClient] 解析响应失败",
			logger.String("provider", name),
			logger.String("trackId", params.TrackID),
			logger.ErrorField(err))
		return model.ResolutionOutcome{}, fmt.Errorf("%s: decode player response: %w", name, err)
	}
	if pr.PlayabilityStatus.Status == "" {
		if outcome, ok := httpStatusOutcome(resp.StatusCode); ok {
			return outcome, nil
		}
	}

	status := ClassifyStatus(pr.PlayabilityStatus.Status)
	logger.Info("[PrimaryClient] 播放状态",
		logger.String("provider", name),
		logger.String("trackId", params.TrackID),
		logger.String("status", pr.PlayabilityStatus.Status))
	if status != model.StatusOk {
		reason := pr.PlayabilityStatus.Reason
		if reason == "" {
			reason = pr.PlayabilityStatus.Status
		}
		return model.FailedOutcome(status, reason), nil
	}

	var candidates []model.EncodingCandidate
	if pr.StreamingData != nil {
		for _, f := range pr.StreamingData.AdaptiveFormats {
			if isAudioMime(f.MimeType) {
				candidates = append(candidates, f.candidate())
			}
		}
	}

	chosen, err := p.policy.Select(params.Quality, candidates, params.IsMetered, params.MeteringPolicy)
	if err != nil {
		// 状态 OK 但没有音频编码，按 Unknown 处理
		logger.Warn("[PrimaryClient] 没有可用的音频编码",
			logger.String("provider", name),
			logger.String("trackId", params.TrackID))
		return model.FailedOutcome(model.StatusUnknown, err.Error()), nil
	}

	streamURL, err := p.streamURL(callCtx, params.TrackID, chosen)
	if err != nil {
		if ctx.Err() != nil {
			return model.ResolutionOutcome{}, ctx.Err()
		}
		logger.Warn("[PrimaryClient] 获取播放地址失败",
			logger.String("provider", name),
			logger.String("trackId", params.TrackID),
			logger.ErrorField(err))
		return model.FailedOutcome(model.StatusUnknown, err.Error()), nil
	}

	if p.variant != VariantLegacy {
		if cpn != "" {
			streamURL = appendQuery(streamURL, "cpn", cpn)
		}
		length := int64(defaultContentLength)
		if chosen.ContentLength != nil {
			length = *chosen.ContentLength
		}
		streamURL = appendQuery(streamURL, "range", "0-"+strconv.FormatInt(length, 10))
	}
	if p.variant == VariantAdvanced && poToken != "" {
		streamURL = appendQuery(streamURL, "pot", poToken)
	}
	chosen.URL = streamURL

	logger.Info("[PrimaryClient] 选中编码",
		logger.String("provider", name),
		logger.String("trackId", params.TrackID),
		logger.Int("itag", chosen.FormatTag),
		logger.Int64("bitrate", chosen.BitrateOrZero()))
	return model.OkOutcome(chosen), nil
}

func (p *PrimaryClient) buildBody(ctx context.Context, trackID, cpn string) (playerBody, string) {
	profile := profiles[p.variant]
	body := playerBody{
		VideoID: trackID,
		Context: playerContext{Client: clientInfo{
			ClientName:    profile.name,
			ClientVersion: profile.version,
			HL:            "en",
			GL:            "US",
			VisitorData:   p.visitorData,
		}},
		CPN: cpn,
	}

	if p.variant == VariantLegacy {
		if ts, ok := p.signer.SignatureTimestamp(ctx, trackID); ok {
			body.PlaybackContext = &playbackContext{}
			body.PlaybackContext.ContentPlaybackContext.SignatureTimestamp = ts
		}
	}

	var poToken string
	if p.variant == VariantAdvanced {
		token, err := p.poTokens.PoToken(ctx, trackID)
		if err != nil {
			logger.Warn("[PrimaryClient] 获取 po token 失败，继续请求",
				logger.String("trackId", trackID),
				logger.ErrorField(err))
		} else if token != "" {
			poToken = token
			body.ServiceIntegrityDimensions = &integrityEnvelope{PoToken: token}
		}
	}
	return body, poToken
}

// streamURL 普通路径直接使用明文地址，其余路径交给签名协作方
func (p *PrimaryClient) streamURL(ctx context.Context, trackID string, c model.EncodingCandidate) (string, error) {
	if p.variant == VariantPlain {
		if c.URL == "" {
			return "", errors.New("format has no url")
		}
		return c.URL, nil
	}
	return p.signer.StreamURL(ctx, trackID, c)
}

// transportOutcome 把网络错误转换为结果；无法归类的错误原样返回
func transportOutcome(ctx context.Context, name, trackID string, err error) (model.ResolutionOutcome, error) {
	if errors.Is(err, errRateLimited) {
		logger.Warn("[Provider] 触发本地限速",
			logger.String("provider", name),
			logger.String("trackId", trackID))
		return model.FailedOutcome(model.StatusUnknown, "rate limited"), nil
	}

	status, fatal := ClassifyTransport(ctx, err)
	if fatal != nil {
		if ctx.Err() == nil {
			logger.Error("[Provider] 请求失败",
				logger.String("provider", name),
				logger.String("trackId", trackID),
				logger.ErrorField(fatal))
		}
		return model.ResolutionOutcome{}, fatal
	}

	logger.Warn("[Provider] 网络异常",
		logger.String("provider", name),
		logger.String("trackId", trackID),
		logger.String("status", status.String()),
		logger.ErrorField(err))
	return model.FailedOutcome(status, err.Error()), nil
}

// httpStatusOutcome 非 2xx 且响应体里没有状态字段时的处理
func httpStatusOutcome(code int) (model.ResolutionOutcome, bool) {
	switch {
	case code == http.StatusTooManyRequests:
		return model.FailedOutcome(model.StatusUnknown, "rate limited"), true
	case code < 200 || code >= 300:
		return model.FailedOutcome(model.StatusUnknown, fmt.Sprintf("http %d", code)), true
	}
	return model.ResolutionOutcome{}, false
}
