package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	vhttp "github.com/fyrsmithlabs/vecsnap/internal/http"
)

func newServeCmd() *cobra.Command {
	var vectorOnly bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve similarity queries over HTTP",
		Long: `Serve the published snapshot over HTTP. The snapshot is cached for
query.ttl and reloaded on expiry or after POST /api/v1/reload.

Endpoints:
  GET  /health
  GET  /metrics
  POST /api/v1/search
  GET  /api/v1/stats
  POST /api/v1/reload`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), vectorOnly)
		},
	}
	cmd.Flags().BoolVar(&vectorOnly, "vector-only", false, "do not create an embedder; text queries are rejected")
	return cmd
}

func runServe(ctx context.Context, vectorOnly bool) error {
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	var embedder vhttp.Embedder
	if !vectorOnly {
		e, err := a.newEmbedder()
		if err != nil {
			a.logger.Warn(ctx, "embedder unavailable, serving vector queries only", zap.Error(err))
		} else {
			embedder = e
		}
	}

	srv, err := vhttp.NewServer(a.newStore(), embedder, a.zap(), &vhttp.Config{
		Host:     a.cfg.Server.Host,
		Port:     a.cfg.Server.Port,
		DefaultK: a.cfg.Query.DefaultK,
		Version:  version,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
