// Package persist 在后台把解析结果写入格式缓存表，调用方不等待写入完成。
package persist

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"StreamResolve/logger"
	"StreamResolve/model"
	"StreamResolve/repository"

	"github.com/panjf2000/ants/v2"
)

const (
	lockStripes = 64

	DefaultPoolSize = 8
	DefaultTimeout  = 5 * time.Second
)

// ErrClosed 写入器已关闭
var ErrClosed = errors.New("persist: writer closed")

// Store 写入器需要的事务能力，repository.FormatRepository 满足该接口
type Store interface {
	WithinTransaction(ctx context.Context, fn func(tx repository.FormatStore) error) error
}

// Options 写入器配置
type Options struct {
	PoolSize int
	Timeout  time.Duration // 单次写入超时
}

// Writer 后台格式缓存写入器
type Writer struct {
	store   Store
	pool    *ants.Pool
	timeout time.Duration

	locks [lockStripes]sync.Mutex
	wg    sync.WaitGroup

	mu     sync.RWMutex // 保护 closed，保证 wg.Add 不会与 Close 中的 wg.Wait 并发
	closed bool
}

// NewWriter 创建写入器。池满时直接丢弃，不阻塞调用方。
func NewWriter(store Store, opts Options) (*Writer, error) {
	if store == nil {
		return nil, errors.New("persist: store is required")
	}
	size := opts.PoolSize
	if size <= 0 {
		size = DefaultPoolSize
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &Writer{store: store, pool: pool, timeout: timeout}, nil
}

// Persist 提交一次写入后立即返回，错误只记录日志
func (w *Writer) Persist(trackID string, c model.EncodingCandidate) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		logger.Warn("[Writer] 写入器已关闭，丢弃记录",
			logger.String("trackId", trackID))
		return
	}

	w.wg.Add(1)
	err := w.pool.Submit(func() {
		defer w.wg.Done()
		if err := w.write(trackID, c); err != nil {
			logger.Error("[Writer] 写入格式缓存失败",
				logger.String("trackId", trackID),
				logger.ErrorField(err))
		}
	})
	if err != nil {
		w.wg.Done()
		logger.Warn("[Writer] 写入队列已满，丢弃记录",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
	}
}

// write 同一曲目的写入串行执行，后写覆盖先写
func (w *Writer) write(trackID string, c model.EncodingCandidate) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	mu := w.lockFor(trackID)
	mu.Lock()
	defer mu.Unlock()

	return w.store.WithinTransaction(ctx, func(tx repository.FormatStore) error {
		exists, err := tx.SongExists(ctx, trackID)
		if err != nil {
			return err
		}
		if !exists {
			logger.Debug("[Writer] 曲目不在库中，跳过",
				logger.String("trackId", trackID))
			return nil
		}

		rec := model.NewCachedFormatRecord(trackID, c)
		if err := tx.UpsertFormat(ctx, &rec); err != nil {
			return err
		}
		logger.Debug("[Writer] 格式缓存已更新",
			logger.String("trackId", trackID),
			logger.Int("itag", c.FormatTag))
		return nil
	})
}

func (w *Writer) lockFor(trackID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(trackID))
	return &w.locks[h.Sum32()%lockStripes]
}

// Close 停止接收新任务并等待已提交的写入完成
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.closed = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
		logger.Warn("[Writer] 等待写入完成超时")
	}

	releaseTimeout := 3 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			releaseTimeout = remaining
		}
	}
	if err := w.pool.ReleaseTimeout(releaseTimeout); err != nil && waitErr == nil {
		return err
	}
	return waitErr
}
