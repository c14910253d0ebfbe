package repository

import (
	"context"
	"errors"
	"testing"

	"StreamResolve/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// :memory: 每个连接都是独立的库
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, gdb.AutoMigrate(&model.Song{}, &model.CachedFormatRecord{}))
	return gdb
}

func int64p(v int64) *int64 { return &v }

func TestSongExists(t *testing.T) {
	repo := NewGormFormatRepository(newTestDB(t))
	ctx := context.Background()

	ok, err := repo.SongExists(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.SaveSong(ctx, &model.Song{ID: "abc123", Title: "Song"}))
	ok, err = repo.SongExists(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpsertFormatOverwrites(t *testing.T) {
	repo := NewGormFormatRepository(newTestDB(t))
	ctx := context.Background()

	first := model.NewCachedFormatRecord("abc123", model.EncodingCandidate{FormatTag: 140, MimeType: "audio/mp4", Bitrate: int64p(128000)})
	require.NoError(t, repo.UpsertFormat(ctx, &first))

	second := model.NewCachedFormatRecord("abc123", model.EncodingCandidate{FormatTag: 251, MimeType: "audio/webm", Bitrate: int64p(160000), ContentLength: int64p(4000000)})
	require.NoError(t, repo.UpsertFormat(ctx, &second))

	got, err := repo.GetFormat(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.Itag)
	assert.Equal(t, 251, *got.Itag)
	assert.Equal(t, "audio/webm", got.MimeType)
	assert.Equal(t, int64(4000000), *got.ContentLength)

	var count int64
	require.NoError(t, newCount(repo, &count))
	assert.Equal(t, int64(1), count)
}

func newCount(repo FormatRepository, count *int64) error {
	return repo.(*gormFormatRepository).db.Model(&model.CachedFormatRecord{}).Count(count).Error
}

func TestGetFormatMissing(t *testing.T) {
	repo := NewGormFormatRepository(newTestDB(t))
	got, err := repo.GetFormat(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWithinTransactionRollsBack(t *testing.T) {
	repo := NewGormFormatRepository(newTestDB(t))
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithinTransaction(ctx, func(tx FormatStore) error {
		rec := model.NewCachedFormatRecord("abc123", model.EncodingCandidate{FormatTag: 140})
		if err := tx.UpsertFormat(ctx, &rec); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetFormat(ctx, "abc123")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteFormat(t *testing.T) {
	repo := NewGormFormatRepository(newTestDB(t))
	ctx := context.Background()

	rec := model.NewCachedFormatRecord("abc123", model.EncodingCandidate{FormatTag: 140})
	require.NoError(t, repo.UpsertFormat(ctx, &rec))
	require.NoError(t, repo.DeleteFormat(ctx, "abc123"))

	got, err := repo.GetFormat(ctx, "abc123")
	require.NoError(t, err)
	assert.Nil(t, got)
}
