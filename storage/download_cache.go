package storage

import (
	"context"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
)

// ObjectStater *minio.Client 满足该接口
type ObjectStater interface {
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// DownloadCache 永久下载缓存：曲目完整下载后存放在 <prefix>/<id>
type DownloadCache struct {
	stater ObjectStater
	bucket string
	prefix string
}

// NewDownloadCache 创建下载缓存
func NewDownloadCache(stater ObjectStater, bucket, prefix string) *DownloadCache {
	return &DownloadCache{stater: stater, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// ObjectName 曲目对应的对象名
func (d *DownloadCache) ObjectName(id string) string {
	if d.prefix == "" {
		return id
	}
	return path.Join(d.prefix, id)
}

// IsCached 对象存在且大小覆盖 [offset, offset+length) 时视为命中
func (d *DownloadCache) IsCached(ctx context.Context, id string, offset, length int64) (bool, error) {
	info, err := d.stater.StatObject(ctx, d.bucket, d.ObjectName(id), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return info.Size >= offset+length, nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return false
}
