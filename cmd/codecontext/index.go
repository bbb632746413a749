package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "index <path>",
		Short: "Index a source tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			a, cleanup, err := buildApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := a.Indexer.IndexPath(cmd.Context(), root)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, stats)
			}
			fmt.Fprintf(out, "Indexed %d files (%d skipped, %d failed, %d removed) in %v\n",
				stats.FilesIndexed, stats.FilesSkipped, stats.FilesFailed, stats.FilesRemoved, stats.Duration)
			fmt.Fprintf(out, "Chunks embedded: %d, removed: %d\n", stats.ChunksEmbedded, stats.ChunksRemoved)
			for _, msg := range stats.ErrorMessages {
				fmt.Fprintf(out, "  error: %s\n", msg)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print statistics as JSON")
	return cmd
}
