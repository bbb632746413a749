package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP tools on stdio",
		Long: `Serve the search_code, index_codebase, get_status and switch_provider
tools over the Model Context Protocol on stdin/stdout. Logs go to stderr
or the configured log file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, metricsAddr string) error {
	a, cleanup, err := buildApp(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	a.Start(ctx)
	logger := a.Logger

	if metricsAddr == "" {
		metricsAddr = a.Config.Metrics.Addr
	}
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics.Handler())
		httpSrv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", zap.String("addr", metricsAddr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	srv, err := a.MCPServer()
	if err != nil {
		return err
	}
	err = srv.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("server stopped")
		return nil
	}
	return err
}
