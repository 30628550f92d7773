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
	"io"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/symfit/pkg/logging"
	"github.com/AleutianAI/symfit/services/symfit/config"
	"github.com/AleutianAI/symfit/services/symfit/pipeline"
	"github.com/AleutianAI/symfit/services/symfit/report"
	"github.com/AleutianAI/symfit/services/symfit/store"
	"github.com/AleutianAI/symfit/services/symfit/telemetry"
)

// app holds the state shared by every subcommand: global flags, the
// resolved configuration and the resources opened for the command.
type app struct {
	configPath string
	format     string
	logLevel   string
	logJSON    bool
	quiet      bool

	cfg       *config.Config
	logger    *logging.Logger
	runs      *store.RunStore
	shutdowns []func(context.Context) error
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:   "symfit",
		Short: "Symbolic regression: fit, rank and evaluate candidate equations",
		Long: `symfit turns decoded skeleton beams into fitted equations, ranks them by
fit error and scores the winner against a ground-truth benchmark equation.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "Path to a YAML or JSON config file")
	pf.StringVarP(&a.format, "format", "o", "", "Output format: console, plain or json (default console on a terminal, plain otherwise)")
	pf.StringVar(&a.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	pf.BoolVar(&a.logJSON, "log-json", false, "Write logs as JSON")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "Suppress console logging")

	root.AddCommand(
		newFitCmd(a),
		newRankCmd(a),
		newEvaluateCmd(a),
		newServeCmd(a),
		newRunsCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root, a
}

// setup resolves configuration and logging before any subcommand runs.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logJSON {
		cfg.Log.JSON = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = logging.New(logging.Config{
		Level:   cfg.LogLevel(),
		LogDir:  cfg.Log.Dir,
		Service: "symfit-" + cmd.Name(),
		JSON:    cfg.Log.JSON,
		Quiet:   a.quiet,
		Output:  cmd.ErrOrStderr(),
	})
	return nil
}

// initTelemetry starts the configured exporters. Commands that do real work
// call it; config and version do not.
func (a *app) initTelemetry(ctx context.Context) error {
	tc := a.cfg.Telemetry
	if tc.ServiceVersion == "" {
		tc.ServiceVersion = version
	}
	shutdown, err := telemetry.Init(ctx, tc)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdowns = append(a.shutdowns, shutdown)
	return nil
}

// openStore opens the run store named by storage.*.
func (a *app) openStore() (*store.RunStore, error) {
	var dbc store.DBConfig
	if a.cfg.Storage.InMemory {
		dbc = store.InMemoryDBConfig()
	} else {
		dbc = store.DefaultDBConfig(a.cfg.Storage.Path)
	}
	runs, err := store.Open(dbc, a.logger.Slog())
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	a.runs = runs
	return runs, nil
}

// pipeline returns a pipeline over the resolved configuration. runs may be
// nil.
func (a *app) pipeline(runs *store.RunStore) *pipeline.Pipeline {
	return pipeline.New(a.cfg, runs, a.logger.Slog())
}

func (a *app) reporter(cmd *cobra.Command) (report.Reporter, error) {
	out := cmd.OutOrStdout()
	format := report.Format(a.format)
	if format == "" {
		format = defaultFormat(out)
	}
	return report.New(format, out)
}

// defaultFormat styles output only when w is a terminal.
func defaultFormat(w io.Writer) report.Format {
	f, ok := w.(interface{ Fd() uintptr })
	if ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return report.FormatConsole
	}
	return report.FormatPlain
}

// close releases everything opened by setup and the subcommand.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for _, shutdown := range a.shutdowns {
		errs = append(errs, shutdown(ctx))
	}
	if a.runs != nil {
		errs = append(errs, a.runs.Close())
	}
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn("Shutdown incomplete", "error", err)
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}
