package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/codecontext/internal/app"
	"github.com/dshills/codecontext/internal/config"
	"github.com/dshills/codecontext/internal/logging"
)

type rootOptions struct {
	configPath string
	dbPath     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "codecontext",
		Short:         "Hybrid code search with provider failover",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running without a subcommand serves MCP on stdio.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, "")
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default: ./codecontext.yaml or ~/.codecontext/codecontext.yaml)")
	flags.StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides storage.db_path)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newIndexCmd(opts),
		newSearchCmd(opts),
		newStatusCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig reads configuration and applies command-line overrides.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.dbPath != "" {
		cfg.Storage.DBPath = opts.dbPath
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}

// buildApp loads configuration, creates the logger and wires the
// application. The returned cleanup closes both.
func buildApp(ctx context.Context, opts *rootOptions) (*app.App, func(), error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, closeLog, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, nil, err
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_ = closeLog()
		return nil, nil, fmt.Errorf("failed to start: %w", err)
	}
	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
		_ = closeLog()
	}
	return a, cleanup, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
