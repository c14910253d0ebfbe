package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"StreamResolve/storage"

	"github.com/spf13/cobra"
)

var minioPrefix string

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "查看下载缓存存储桶",
	Long:  `列出 MinIO 存储桶中的永久下载缓存对象及统计信息。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)
		client, err := storage.NewMinioClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("无法连接到MinIO: %w", err)
		}

		prefix := minioPrefix
		if !cmd.Flags().Changed("prefix") {
			prefix = cfg.DownloadPrefix
		}
		objects, stats, err := storage.ListBucketObjects(ctx, client, cfg.MinioBucket, prefix)
		if err != nil {
			return fmt.Errorf("列出文件失败: %w", err)
		}
		storage.PrintBucketStatus(os.Stdout, cfg.MinioBucket, prefix, objects, stats)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)
	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤，默认使用下载缓存前缀")

	minioCmd.Example = `  # 列出下载缓存
  streamresolve minio

  # 按前缀过滤
  streamresolve minio -p "downloads/abc"`
}
