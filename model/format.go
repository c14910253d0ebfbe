package model

import "time"

// Song 已知曲目。格式记录只会写给这里存在的曲目
type Song struct {
	ID           string    `json:"id" gorm:"primaryKey;size:64"`
	Title        string    `json:"title" gorm:"size:255"`
	ArtistsText  string    `json:"artistsText" gorm:"size:255"`
	DurationText string    `json:"durationText" gorm:"size:32"`
	ThumbnailURL string    `json:"thumbnailUrl" gorm:"size:767"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName 指定表名
func (Song) TableName() string {
	return "songs"
}

// CachedFormatRecord 已解析编码的持久化投影，按曲目ID唯一
type CachedFormatRecord struct {
	SongID        string    `json:"songId" gorm:"primaryKey;size:64"`
	Itag          *int      `json:"itag"`
	MimeType      string    `json:"mimeType" gorm:"size:128"`
	Bitrate       *int64    `json:"bitrate"`
	ContentLength *int64    `json:"contentLength"`
	LastModified  *int64    `json:"lastModified"`
	LoudnessDB    *float64  `json:"loudnessDb"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (CachedFormatRecord) TableName() string {
	return "formats"
}

// NewCachedFormatRecord 把选中的编码投影成持久化记录
func NewCachedFormatRecord(songID string, c EncodingCandidate) CachedFormatRecord {
	tag := c.FormatTag
	return CachedFormatRecord{
		SongID:        songID,
		Itag:          &tag,
		MimeType:      c.MimeType,
		Bitrate:       c.Bitrate,
		ContentLength: c.ContentLength,
		LastModified:  c.LastModified,
		LoudnessDB:    c.LoudnessDB,
	}
}
