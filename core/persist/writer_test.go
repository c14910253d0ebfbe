package persist

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"StreamResolve/model"
	"StreamResolve/repository"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type spyStore struct {
	mu      sync.Mutex
	songs   map[string]bool
	txs     int
	upserts []model.CachedFormatRecord

	started chan struct{}
	block   chan struct{}
}

func newSpyStore(songs ...string) *spyStore {
	s := &spyStore{songs: make(map[string]bool)}
	for _, id := range songs {
		s.songs[id] = true
	}
	return s
}

func (s *spyStore) WithinTransaction(_ context.Context, fn func(tx repository.FormatStore) error) error {
	s.mu.Lock()
	s.txs++
	s.mu.Unlock()
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	return fn(s)
}

func (s *spyStore) SongExists(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.songs[id], nil
}

func (s *spyStore) UpsertFormat(_ context.Context, rec *model.CachedFormatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, *rec)
	return nil
}

func (s *spyStore) Upserts() []model.CachedFormatRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.CachedFormatRecord(nil), s.upserts...)
}

func candidate(tag int) model.EncodingCandidate {
	bitrate := int64(tag * 1000)
	return model.EncodingCandidate{FormatTag: tag, MimeType: "audio/webm", Bitrate: &bitrate}
}

func TestPersistKnownTrack(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newSpyStore("abc123")
	w, err := NewWriter(store, Options{PoolSize: 2})
	require.NoError(t, err)

	w.Persist("abc123", candidate(251))
	require.NoError(t, w.Close(context.Background()))

	upserts := store.Upserts()
	require.Len(t, upserts, 1)
	assert.Equal(t, "abc123", upserts[0].SongID)
	require.NotNil(t, upserts[0].Itag)
	assert.Equal(t, 251, *upserts[0].Itag)
}

func TestPersistUnknownTrackWritesNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newSpyStore()
	w, err := NewWriter(store, Options{})
	require.NoError(t, err)

	w.Persist("ghost", candidate(140))
	require.NoError(t, w.Close(context.Background()))

	assert.Empty(t, store.Upserts())
	assert.Equal(t, 1, store.txs)
}

func TestPersistDoesNotBlockWhenSaturated(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newSpyStore("a", "b")
	store.started = make(chan struct{}, 1)
	store.block = make(chan struct{})
	w, err := NewWriter(store, Options{PoolSize: 1})
	require.NoError(t, err)

	w.Persist("a", candidate(251))
	<-store.started

	returned := make(chan struct{})
	go func() {
		w.Persist("b", candidate(140))
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Persist blocked on a saturated pool")
	}

	close(store.block)
	require.NoError(t, w.Close(context.Background()))

	upserts := store.Upserts()
	require.Len(t, upserts, 1)
	assert.Equal(t, "a", upserts[0].SongID)
}

func TestPersistAfterCloseIsDropped(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newSpyStore("abc123")
	w, err := NewWriter(store, Options{})
	require.NoError(t, err)
	require.NoError(t, w.Close(context.Background()))

	w.Persist("abc123", candidate(251))
	assert.Empty(t, store.Upserts())
	assert.ErrorIs(t, w.Close(context.Background()), ErrClosed)
}

func TestConcurrentWritesSameTrackLastOneWins(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newSpyStore("abc123")
	w, err := NewWriter(store, Options{PoolSize: 4})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(tag int) {
			defer wg.Done()
			w.Persist("abc123", candidate(tag))
		}(100 + i)
	}
	wg.Wait()
	require.NoError(t, w.Close(context.Background()))

	// 池满会丢弃部分记录，但至少写入一次且每次都是完整记录
	upserts := store.Upserts()
	require.NotEmpty(t, upserts)
	for _, rec := range upserts {
		require.NotNil(t, rec.Itag)
		assert.Equal(t, int64(*rec.Itag*1000), *rec.Bitrate)
	}
}

func TestNewWriterRequiresStore(t *testing.T) {
	_, err := NewWriter(nil, Options{})
	assert.Error(t, err)
}

func TestPersistWithSQLite(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()
	require.NoError(t, gdb.AutoMigrate(&model.Song{}, &model.CachedFormatRecord{}))

	repo := repository.NewGormFormatRepository(gdb)
	ctx := context.Background()
	require.NoError(t, repo.SaveSong(ctx, &model.Song{ID: "abc123", Title: "Known"}))

	w, err := NewWriter(repo, Options{PoolSize: 2, Timeout: 2 * time.Second})
	require.NoError(t, err)
	w.Persist("abc123", candidate(251))
	w.Persist("xyz999", candidate(140))
	require.NoError(t, w.Close(ctx))

	rec, err := repo.GetFormat(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 251, *rec.Itag)

	rec, err = repo.GetFormat(ctx, "xyz999")
	require.NoError(t, err)
	assert.Nil(t, rec, fmt.Sprintf("unknown track must not be written: %+v", rec))
}
