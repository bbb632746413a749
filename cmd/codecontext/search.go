package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/codecontext/internal/searcher"
	"github.com/dshills/codecontext/pkg/types"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		limit     int
		alpha     float64
		mode      string
		pattern   string
		languages []string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := buildApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			q := searcher.Query{
				Text:  strings.Join(args, " "),
				Limit: limit,
				Mode:  searcher.SearchMode(mode),
			}
			if cmd.Flags().Changed("alpha") {
				q.Alpha = &alpha
			}
			filters := &types.SearchFilters{FilePattern: pattern, Languages: languages}
			if !filters.IsEmpty() {
				q.Filters = filters
			}

			resp, err := a.Searcher.Search(cmd.Context(), q)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, resp)
			}
			if resp.Degraded {
				fmt.Fprintf(out, "warning: degraded results (%s)\n", resp.DegradedReason)
			}
			for _, r := range resp.Results {
				fmt.Fprintf(out, "%2d. %s  score=%.3f (lexical=%.3f vector=%.3f)\n",
					r.Rank, r.ChunkID, r.CompositeScore, r.LexicalScore, r.VectorScore)
			}
			fmt.Fprintf(out, "%d results in %v\n", len(resp.Results), resp.Duration)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&limit, "limit", "n", 0, "maximum results (default from config)")
	flags.Float64Var(&alpha, "alpha", 0.5, "vector weight in [0, 1] (default from config)")
	flags.StringVar(&mode, "mode", string(searcher.SearchModeHybrid), "hybrid, vector or keyword")
	flags.StringVar(&pattern, "file-pattern", "", "glob restricting file paths")
	flags.StringSliceVar(&languages, "lang", nil, "restrict to languages (repeatable)")
	flags.BoolVar(&asJSON, "json", false, "print the full response as JSON")
	return cmd
}
