package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/httprunner/ActivityUploader/internal/storage"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var flagLimit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent submissions from the SQLite journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := storage.OpenFromEnv()
			if err != nil {
				return err
			}
			if journal == nil {
				return fmt.Errorf("$%s is not set, no journal to read", storage.EnvDBPath)
			}
			defer journal.Close()

			entries, err := journal.List(cmd.Context(), flagLimit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTIVITY\tSTATE\tACTION\tRECORD\tIMAGES\tERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"),
					e.ActivityName, e.State, e.Action, e.RecordID, len(e.URLs),
					strings.ReplaceAll(e.Error, "\n", " "))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&flagLimit, "limit", 20, "Maximum number of submissions to list")
	return cmd
}
