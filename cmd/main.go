package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/httprunner/ActivityUploader/internal/env"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const envLogLevel = "LOG_LEVEL"

var rootCmd = &cobra.Command{
	Use:   "activityuploader",
	Short: "Publish activity photos to GitHub and record them in Feishu Bitable",
	Long:  `activityuploader CLI 将活动图片上传到 GitHub 仓库，并按活动名称在飞书多维表格中新建或更新记录；同时提供本地代理服务和提交历史查询。`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := resolveLogLevel(rootLogLevel)
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(level)
		return nil
	},
}

var rootLogLevel string

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Log level (default from LOG_LEVEL, info)")
	rootCmd.AddCommand(
		newServeCmd(),
		newUploadCmd(),
		newConfigCmd(),
		newHistoryCmd(),
	)
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("activityuploader command failed")
	}
}

// resolveLogLevel picks --log-level, then $LOG_LEVEL, then info.
func resolveLogLevel(flag string) (zerolog.Level, error) {
	raw := strings.ToLower(firstNonEmpty(flag, env.String(envLogLevel, ""), "info"))
	level, err := zerolog.ParseLevel(raw)
	if err != nil {
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
