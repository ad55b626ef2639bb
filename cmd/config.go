package main

import (
	"encoding/json"
	"fmt"

	"github.com/httprunner/ActivityUploader/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	var flagShowSecrets bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the configuration the server would serve at /api/config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if !flagShowSecrets {
				cfg = cfg.Redacted()
			}
			raw, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagShowSecrets, "show-secrets", false, "Print the GitHub token and Feishu app secret in clear")
	return cmd
}
