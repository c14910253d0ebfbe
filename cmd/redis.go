package cmd

import (
	"context"
	"fmt"
	"math"
	"time"

	"StreamResolve/cache"

	"github.com/spf13/cobra"
)

var redisTrack string

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功并进行基本读写；指定 --track 时列出该曲目已缓存的字节范围。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)
		client, err := cache.NewRedisClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("无法连接到Redis: %w", err)
		}
		defer client.Close()
		fmt.Println("Redis连接成功！")

		if err := cache.CheckRedis(ctx, client); err != nil {
			return fmt.Errorf("Redis操作测试失败: %w", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		if redisTrack == "" {
			return nil
		}
		spans, err := cache.NewRangeCache(client).Spans(ctx, redisTrack, math.MaxInt64)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s 已缓存 %d 个范围:\n", redisTrack, len(spans))
		for _, s := range spans {
			fmt.Printf("  %d-%d\n", s.Start, s.End)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
	redisCmd.Flags().StringVarP(&redisTrack, "track", "t", "", "列出该曲目的缓存范围")
}
