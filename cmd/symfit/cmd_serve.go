// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/symfit/pkg/logging"
	"github.com/AleutianAI/symfit/services/symfit/api"
	"github.com/AleutianAI/symfit/services/symfit/store"
	"github.com/AleutianAI/symfit/services/symfit/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	var noStorage bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ranking and evaluation API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
				if err := a.cfg.Validate(); err != nil {
					return err
				}
			}
			return a.runServe(cmd.Context(), noStorage)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&noStorage, "no-storage", false, "Run without the run store")
	return cmd
}

func (a *app) runServe(ctx context.Context, noStorage bool) error {
	if err := a.initTelemetry(ctx); err != nil {
		return err
	}

	var runs *store.RunStore
	if !noStorage {
		var err error
		if runs, err = a.openStore(); err != nil {
			return err
		}
	}

	if a.cfg.LogLevel() == logging.LevelDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	handlers := api.NewHandlers(a.pipeline(runs), version, a.logger.Slog())
	router := api.NewRouter(handlers, api.RouterOptions{
		ServiceName:  a.cfg.Telemetry.ServiceName,
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
		Metrics:      telemetry.MetricsHandler(),
	})
	srv := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting symfit server",
			"address", srv.Addr,
			"storage", runs != nil,
			"version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down symfit server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
