package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/secondbrain/internal/app"
	"github.com/ent0n29/secondbrain/internal/config"
)

func newServeCmd() *cobra.Command {
	var bindAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("bind") {
				cfg.BindAddr = bindAddr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&bindAddr, "bind", "", "listen address, overrides SECONDBRAIN_BIND_ADDR")
	return cmd
}

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	built, err := app.Build(runCtx, cfg)
	if err != nil {
		return err
	}
	log := built.Logger

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.BindAddr).Str("store", built.StoreMode).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-listenErr:
		if err != nil {
			_ = built.Cleanup()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}
	runCancel()
	if err := built.Cleanup(); err != nil {
		log.Warn().Err(err).Msg("cleanup failed")
	}

	log.Info().Msg("shutdown complete")
	return nil
}
