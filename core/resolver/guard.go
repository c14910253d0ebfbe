package resolver

import (
	"context"
	"net/url"
	"strings"

	"StreamResolve/logger"
	"StreamResolve/model"
)

// ChunkLength 播放器单次读取的字节数，范围缓存按这个长度判断是否命中
const ChunkLength int64 = 512 * 1024

// LocalTrackPrefix 本地曲目ID前缀
const LocalTrackPrefix = "local:"

// RangeCache 字节范围缓存
type RangeCache interface {
	IsCached(ctx context.Context, id string, offset, length int64) (bool, error)
	RemoveResource(ctx context.Context, id string) error
}

// DownloadCache 已完整下载的曲目
type DownloadCache interface {
	IsCached(ctx context.Context, id string, offset, length int64) (bool, error)
}

// LocalIndex 本地媒体目录索引
type LocalIndex interface {
	Contains(id string) bool
}

// Guard 本地缓存检查，只读。任何一个参数都可以为 nil。
type Guard struct {
	local     LocalIndex
	ranges    RangeCache
	downloads DownloadCache
}

// NewGuard 创建缓存检查器
func NewGuard(local LocalIndex, ranges RangeCache, downloads DownloadCache) *Guard {
	return &Guard{local: local, ranges: ranges, downloads: downloads}
}

// Check 判断请求能否直接由本地数据满足。命中时原样返回调用方的 URI。
func (g *Guard) Check(ctx context.Context, req model.StreamRequest) (model.ResolvedStream, bool) {
	if g == nil {
		return model.ResolvedStream{}, false
	}

	hit := func(source string) (model.ResolvedStream, bool) {
		logger.Debug("[Guard] 命中本地数据",
			logger.String("trackId", req.TrackID),
			logger.String("source", source),
			logger.Int64("rangeStart", req.RangeStart))
		return model.ResolvedStream{
			TrackID:         req.TrackID,
			FinalURL:        req.URI,
			ByteRangeStart:  req.RangeStart,
			ByteRangeLength: req.TotalLength,
			Provider:        source,
			FromCache:       true,
		}, true
	}

	if g.isLocal(req) {
		return hit("local")
	}

	if g.ranges != nil {
		ok, err := g.ranges.IsCached(ctx, req.TrackID, req.RangeStart, ChunkLength)
		if err != nil {
			logger.Warn("[Guard] 查询范围缓存失败，按未命中处理",
				logger.String("trackId", req.TrackID),
				logger.ErrorField(err))
		} else if ok {
			return hit("range-cache")
		}
	}

	if g.downloads != nil {
		length := req.TotalLength
		if length < 0 {
			length = 1
		}
		ok, err := g.downloads.IsCached(ctx, req.TrackID, req.RangeStart, length)
		if err != nil {
			logger.Warn("[Guard] 查询下载缓存失败，按未命中处理",
				logger.String("trackId", req.TrackID),
				logger.ErrorField(err))
		} else if ok {
			return hit("download-cache")
		}
	}

	return model.ResolvedStream{}, false
}

func (g *Guard) isLocal(req model.StreamRequest) bool {
	if strings.HasPrefix(req.TrackID, LocalTrackPrefix) {
		return true
	}
	if req.URI != "" {
		if u, err := url.Parse(req.URI); err == nil {
			switch strings.ToLower(u.Scheme) {
			case "file", "content":
				return true
			}
		}
	}
	return g.local != nil && g.local.Contains(req.TrackID)
}
