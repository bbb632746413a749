package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/codecontext/internal/provider"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index statistics and provider state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := buildApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			status, err := a.Store.GetStatus(cmd.Context())
			if err != nil {
				return err
			}
			if probe {
				a.Health.ProbeAll(cmd.Context())
			}

			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"index": status,
				"providers": map[string]any{
					"embedding":    a.Router.ActiveProvider(provider.CapabilityEmbedding),
					"vector_store": a.Router.ActiveProvider(provider.CapabilityVectorStore),
					"candidates":   a.Registry.All(),
				},
				"breakers": a.Router.Breakers(),
				"health":   a.Router.Health(),
				"cache":    a.Embeddings.Stats(),
			})
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "probe provider health before reporting")
	return cmd
}
