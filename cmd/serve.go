package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/httprunner/ActivityUploader/internal/assets"
	"github.com/httprunner/ActivityUploader/internal/env"
	"github.com/httprunner/ActivityUploader/internal/feishusdk"
	"github.com/httprunner/ActivityUploader/internal/server"
	"github.com/httprunner/ActivityUploader/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var flagAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local API server and upload page",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := server.OptionsFromEnv()
			publisher, err := assets.NewPublisherFromEnv(opts.Config.GitHub)
			if err != nil {
				return err
			}
			journal, err := storage.OpenFromEnv()
			if err != nil {
				return err
			}
			defer journal.Close()

			feishu := feishusdk.NewClientFromEnv()
			opts.Feishu = feishu
			opts.Publisher = publisher
			if journal != nil {
				opts.Recorder = journal
			}

			addr := firstNonEmpty(flagAddr, ":"+env.String(server.EnvPort, server.DefaultPort))
			log.Info().
				Str("addr", addr).
				Str("feishu_transport", feishu.Transport()).
				Bool("redact_secrets", opts.RedactSecrets).
				Bool("journal", journal != nil).
				Str("dotenv", env.LoadedPath()).
				Msg("starting activity uploader server")
			return server.New(opts).Run(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (default :$PORT, :3000)")
	return cmd
}
