package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"StreamResolve/core/provider"
	"StreamResolve/core/resolver"
	"StreamResolve/model"
	"StreamResolve/server"

	"github.com/spf13/cobra"
)

var (
	resolveProvider    string
	resolveQuality     string
	resolveMetered     bool
	resolveRangeStart  int64
	resolveTotalLength int64
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <trackId|uri>",
	Short: "解析一首曲目的播放地址",
	Long: `走完整回退链解析播放地址并以 JSON 输出。
指定 --provider 时只调用该解析源，输出原始解析结果。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := model.ParseQualityTier(resolveQuality)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		if resolveProvider != "" {
			session := server.NewSession(cfg)
			registry := server.NewRegistry(cfg, session, server.NewProviders(cfg, session))
			client, ok := registry.Get(resolveProvider)
			if !ok {
				return fmt.Errorf("unknown provider %q, available: %s", resolveProvider, strings.Join(registry.Names(), ", "))
			}
			out, err := client.Resolve(ctx, provider.Params{
				TrackID:        model.TrackIDFromURI(args[0]),
				Quality:        tier,
				IsMetered:      resolveMetered,
				MeteringPolicy: cfg.MeteringPolicyEnabled,
			})
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"provider": client.Name(),
				"status":   out.Status.String(),
				"reason":   out.Reason,
				"chosen":   out.Chosen,
			})
		}

		app, err := server.Build(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = app.Close(context.Background()) }()

		stream, err := app.Resolver.Resolve(ctx, model.StreamRequest{
			TrackID:     model.TrackIDFromURI(args[0]),
			URI:         args[0],
			RangeStart:  resolveRangeStart,
			TotalLength: resolveTotalLength,
			IsMetered:   resolveMetered,
			Quality:     tier,
		})
		if err != nil {
			var re *resolver.ResolveError
			if errors.As(err, &re) {
				fmt.Fprintf(os.Stderr, "解析失败 [%s]: %s\n", re.Status, err)
			}
			return err
		}
		return printJSON(stream)
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().StringVar(&resolveProvider, "provider", "", "只调用指定解析源 (primary, primary-advanced, primary-legacy, secondary, tertiary)")
	resolveCmd.Flags().StringVarP(&resolveQuality, "quality", "q", "auto", "音质档位 auto/low/medium/high")
	resolveCmd.Flags().BoolVar(&resolveMetered, "metered", false, "按计费网络处理")
	resolveCmd.Flags().Int64Var(&resolveRangeStart, "range-start", 0, "请求的起始字节")
	resolveCmd.Flags().Int64Var(&resolveTotalLength, "total-length", -1, "已知的总长度，-1 表示未知")
}
