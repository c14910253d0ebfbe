package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// QualityTier 用户请求的音质档位
type QualityTier int

const (
	QualityAuto QualityTier = iota
	QualityLow
	QualityMedium
	QualityHigh
)

func (q QualityTier) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	default:
		return "auto"
	}
}

// ParseQualityTier 解析 auto/low/medium/high，空字符串视为 auto
func ParseQualityTier(s string) (QualityTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return QualityAuto, nil
	case "low":
		return QualityLow, nil
	case "medium":
		return QualityMedium, nil
	case "high":
		return QualityHigh, nil
	default:
		return QualityAuto, fmt.Errorf("unknown quality tier %q", s)
	}
}

// StreamRequest 一次播放尝试的解析请求，构造后不再修改
type StreamRequest struct {
	TrackID     string
	URI         string // 调用方原始 URI，命中本地缓存时原样返回
	RangeStart  int64
	TotalLength int64 // -1 表示未知
	IsMetered   bool
	Quality     QualityTier
}

// Validate 校验请求字段
func (r StreamRequest) Validate() error {
	if r.TrackID == "" {
		return errors.New("track id is required")
	}
	if r.RangeStart < 0 {
		return fmt.Errorf("range start must be non-negative, got %d", r.RangeStart)
	}
	if r.TotalLength < -1 {
		return fmt.Errorf("total length must be >= -1, got %d", r.TotalLength)
	}
	return nil
}

// TrackIDFromURI 从 URI 中提取曲目ID。
// 优先取 watch?v= 之后的部分，其次取 v 查询参数或最后一段路径。
func TrackIDFromURI(uri string) string {
	if i := strings.Index(uri, "watch?v="); i >= 0 {
		id := uri[i+len("watch?v="):]
		if j := strings.IndexByte(id, '&'); j >= 0 {
			id = id[:j]
		}
		return id
	}
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	if p := strings.Trim(u.Path, "/"); p != "" {
		if u.Scheme == "" && u.Host == "" && !strings.Contains(p, "/") {
			return p
		}
		parts := strings.Split(p, "/")
		return parts[len(parts)-1]
	}
	return uri
}

// EncodingCandidate 解析源返回的一个可播放编码
type EncodingCandidate struct {
	FormatTag       int      `json:"formatTag"`
	MimeType        string   `json:"mimeType"`
	Bitrate         *int64   `json:"bitrate,omitempty"`
	ContentLength   *int64   `json:"contentLength,omitempty"`
	LoudnessDB      *float64 `json:"loudnessDb,omitempty"`
	LastModified    *int64   `json:"lastModified,omitempty"`
	URL             string   `json:"url"`
	SignatureCipher string   `json:"-"` // URL 为空时需要签名协作方处理
	AudioQuality    string   `json:"audioQuality,omitempty"`
}

// BitrateOrZero 码率，缺失时返回 0
func (c EncodingCandidate) BitrateOrZero() int64 {
	if c.Bitrate == nil {
		return 0
	}
	return *c.Bitrate
}

// Status 单次解析的结果分类
type Status int

const (
	StatusOk Status = iota
	StatusLoginRequired
	StatusUnplayable
	StatusNoInternet
	StatusTimeout
	StatusUnknown
	// StatusNotFound 解析源正常应答，但没有任何可用编码
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusLoginRequired:
		return "login_required"
	case StatusUnplayable:
		return "unplayable"
	case StatusNoInternet:
		return "no_internet"
	case StatusTimeout:
		return "timeout"
	case StatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// ResolutionOutcome 单个解析源的一次结果。
// 只有 Status 为 StatusOk 时 Chosen 才非空，请用 OkOutcome / FailedOutcome 构造。
type ResolutionOutcome struct {
	Status Status
	Chosen *EncodingCandidate
	Reason string
}

// OkOutcome 成功结果
func OkOutcome(chosen EncodingCandidate) ResolutionOutcome {
	return ResolutionOutcome{Status: StatusOk, Chosen: &chosen}
}

// FailedOutcome 失败结果，StatusOk 会被改写为 StatusUnknown
func FailedOutcome(status Status, reason string) ResolutionOutcome {
	if status == StatusOk {
		status = StatusUnknown
	}
	return ResolutionOutcome{Status: status, Reason: reason}
}

// ResolvedStream 最终交给播放端的结果
type ResolvedStream struct {
	TrackID         string `json:"trackId"`
	FinalURL        string `json:"finalUrl"`
	ByteRangeStart  int64  `json:"byteRangeStart"`
	ByteRangeLength int64  `json:"byteRangeLength"`
	Provider        string `json:"provider,omitempty"`
	FromCache       bool   `json:"fromCache"`
}
