package repository

import (
	"context"
	"errors"
	"time"

	"StreamResolve/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FormatStore 曲目与格式缓存的数据访问接口
type FormatStore interface {
	SongExists(ctx context.Context, songID string) (bool, error)
	UpsertFormat(ctx context.Context, rec *model.CachedFormatRecord) error
}

// FormatRepository 在 FormatStore 基础上提供事务和查询
type FormatRepository interface {
	FormatStore

	// WithinTransaction 在同一个事务里执行 fn，fn 返回错误时回滚
	WithinTransaction(ctx context.Context, fn func(tx FormatStore) error) error

	SaveSong(ctx context.Context, song *model.Song) error
	GetFormat(ctx context.Context, songID string) (*model.CachedFormatRecord, error)
	DeleteFormat(ctx context.Context, songID string) error
}

// gormFormatRepository GORM 实现
type gormFormatRepository struct {
	db *gorm.DB
}

// NewGormFormatRepository 创建 GORM 格式缓存仓库
func NewGormFormatRepository(db *gorm.DB) FormatRepository {
	return &gormFormatRepository{db: db}
}

func (r *gormFormatRepository) WithinTransaction(ctx context.Context, fn func(tx FormatStore) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormFormatRepository{db: tx})
	})
}

// SongExists 检查曲目是否存在
func (r *gormFormatRepository) SongExists(ctx context.Context, songID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Song{}).
		Where("id = ?", songID).
		Count(&count).Error
	return count > 0, err
}

// UpsertFormat 按曲目ID插入或整行覆盖
func (r *gormFormatRepository) UpsertFormat(ctx context.Context, rec *model.CachedFormatRecord) error {
	rec.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(rec).Error
}

// SaveSong 写入曲目（已存在则更新）
func (r *gormFormatRepository) SaveSong(ctx context.Context, song *model.Song) error {
	return r.db.WithContext(ctx).Save(song).Error
}

// GetFormat 获取格式缓存，不存在时返回 nil
func (r *gormFormatRepository) GetFormat(ctx context.Context, songID string) (*model.CachedFormatRecord, error) {
	var rec model.CachedFormatRecord
	err := r.db.WithContext(ctx).
		Where("song_id = ?", songID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *gormFormatRepository) DeleteFormat(ctx context.Context, songID string) error {
	return r.db.WithContext(ctx).
		Where("song_id = ?", songID).
		Delete(&model.CachedFormatRecord{}).Error
}
