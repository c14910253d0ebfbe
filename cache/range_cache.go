package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"StreamResolve/logger"

	"github.com/go-redis/redis/v8"
)

const spanKeyPrefix = "span:"

// Span 已缓存的字节区间 [Start, End)
type Span struct {
	Start int64
	End   int64
}

// RangeCache 基于 Redis 有序集合的字节范围缓存索引。
// 每首曲目一个 key，score 为区间起点，member 为 "start-end"。
type RangeCache struct {
	client *redis.Client
}

// NewRangeCache 创建范围缓存索引
func NewRangeCache(client *redis.Client) *RangeCache {
	return &RangeCache{client: client}
}

func spanKey(id string) string {
	return spanKeyPrefix + id
}

// AddSpan 记录已缓存的区间 [start, end)
func (c *RangeCache) AddSpan(ctx context.Context, id string, start, end int64) error {
	if start < 0 || end <= start {
		return fmt.Errorf("invalid span %d-%d", start, end)
	}
	member := strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10)
	return c.client.ZAdd(ctx, spanKey(id), &redis.Z{Score: float64(start), Member: member}).Err()
}

// Spans 按起点升序返回起点不超过 maxStart 的区间
func (c *RangeCache) Spans(ctx context.Context, id string, maxStart int64) ([]Span, error) {
	members, err := c.client.ZRangeByScore(ctx, spanKey(id), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(maxStart, 10),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	spans := make([]Span, 0, len(members))
	for _, m := range members {
		s, ok := parseSpan(m)
		if !ok {
			logger.Warn("[RangeCache] 忽略无法解析的区间",
				logger.String("id", id),
				logger.String("member", m))
			continue
		}
		spans = append(spans, s)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })
	return spans, nil
}

// IsCached 判断 [offset, offset+length) 是否被已缓存区间完整覆盖
func (c *RangeCache) IsCached(ctx context.Context, id string, offset, length int64) (bool, error) {
	if length <= 0 {
		return false, nil
	}
	end := offset + length
	spans, err := c.Spans(ctx, id, end-1)
	if err != nil {
		return false, err
	}

	covered := offset
	for _, s := range spans {
		if s.Start > covered {
			break
		}
		if s.End > covered {
			covered = s.End
		}
		if covered >= end {
			return true, nil
		}
	}
	return false, nil
}

// RemoveResource 删除曲目的全部区间
func (c *RangeCache) RemoveResource(ctx context.Context, id string) error {
	return c.client.Del(ctx, spanKey(id)).Err()
}

func parseSpan(member string) (Span, bool) {
	a, b, ok := strings.Cut(member, "-")
	if !ok {
		return Span{}, false
	}
	start, err := strconv.ParseInt(a, 10, 64)
	if err != nil {
		return Span{}, false
	}
	end, err := strconv.ParseInt(b, 10, 64)
	if err != nil || end <= start {
		return Span{}, false
	}
	return Span{Start: start, End: end}, true
}
