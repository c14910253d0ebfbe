package resolver

import (
	"errors"
	"fmt"

	"StreamResolve/model"
)

// 与结果分类一一对应的哨兵错误，配合 errors.Is 使用
var (
	ErrLoginRequired = errors.New("login required")
	ErrUnplayable    = errors.New("unplayable")
	ErrNoInternet    = errors.New("no internet")
	ErrTimeout       = errors.New("timeout")
	ErrUnknown       = errors.New("unknown provider failure")
	ErrNotFound      = errors.New("not found")

	// ErrInvalidRequest 请求参数不合法
	ErrInvalidRequest = errors.New("invalid stream request")
)

// ResolveError 解析链最终失败时返回的错误
type ResolveError struct {
	Provider string
	TrackID  string
	Status   model.Status
	Reason   string
}

func (e *ResolveError) Error() string {
	if e.Provider == "" {
		if e.Reason == "" {
			return fmt.Sprintf("%s for %s", e.Status, e.TrackID)
		}
		return e.Reason
	}
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s for %s", e.Provider, e.Status, e.TrackID)
	}
	return fmt.Sprintf("%s: %s for %s: %s", e.Provider, e.Status, e.TrackID, e.Reason)
}

// Is 支持 errors.Is(err, ErrTimeout) 这类判断
func (e *ResolveError) Is(target error) bool {
	return target == sentinelFor(e.Status)
}

func sentinelFor(s model.Status) error {
	switch s {
	case model.StatusLoginRequired:
		return ErrLoginRequired
	case model.StatusUnplayable:
		return ErrUnplayable
	case model.StatusNoInternet:
		return ErrNoInternet
	case model.StatusTimeout:
		return ErrTimeout
	case model.StatusNotFound:
		return ErrNotFound
	default:
		return ErrUnknown
	}
}

func newResolveError(providerName, trackID string, out model.ResolutionOutcome) *ResolveError {
	return &ResolveError{
		Provider: providerName,
		TrackID:  trackID,
		Status:   out.Status,
		Reason:   out.Reason,
	}
}

func exhaustedError(trackID string) *ResolveError {
	return &ResolveError{
		TrackID: trackID,
		Status:  model.StatusNotFound,
		Reason:  "no playable format found for " + trackID,
	}
}
