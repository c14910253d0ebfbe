package cmd

import (
	"StreamResolve/logger"
	"StreamResolve/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动解析服务",
	Long:  `启动 HTTP 解析服务，提供解析接口、播放重定向和 Prometheus 指标`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := server.Start(cfg); err != nil {
			logger.Error("[Server] 服务异常退出", logger.ErrorField(err))
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
