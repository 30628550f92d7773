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
	"errors"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/symfit/services/symfit/predictor"
	"github.com/AleutianAI/symfit/services/symfit/store"
)

type fitOptions struct {
	benchmark  string
	index      int
	points     string
	model      string
	beam       string
	expression string
	outputDir  string
	noSave     bool
}

func newFitCmd(a *app) *cobra.Command {
	opts := &fitOptions{}
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a model to a benchmark equation or points file and evaluate it",
		Long: `Fit loads training data (sampled from a benchmark equation's support, or read
from a points CSV), fits the configured model, scores it against the benchmark
equation when there is one, stores the run and writes results.json.`,
		Example: `  symfit fit --benchmark nguyen.csv --index 3 --beam beams/nguyen3.yaml
  symfit fit --points data.csv --model linear --no-save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runFit(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.benchmark, "benchmark", "", "Benchmark CSV (overrides eval.benchmark)")
	f.IntVarP(&opts.index, "index", "i", -1, "Equation row in the benchmark (overrides eval.equation_index)")
	f.StringVar(&opts.points, "points", "", "Training points CSV, last column is y (overrides eval.points_path)")
	f.StringVarP(&opts.model, "model", "m", "", "Model: nesymres, equation or linear (overrides model.name)")
	f.StringVar(&opts.beam, "beam", "", "Beam file for the nesymres model (overrides model.beam_path)")
	f.StringVar(&opts.expression, "expression", "", "Expression for the equation model (overrides model.expression)")
	f.StringVar(&opts.outputDir, "out", "", "Directory for results.json (overrides storage.output_dir)")
	f.BoolVar(&opts.noSave, "no-save", false, "Do not record the run in the run store")
	return cmd
}

func (a *app) runFit(cmd *cobra.Command, opts *fitOptions) error {
	cfg := a.cfg
	if opts.benchmark != "" {
		cfg.Eval.Benchmark = opts.benchmark
	}
	if opts.index >= 0 {
		cfg.Eval.EquationIndex = opts.index
	}
	if opts.points != "" {
		cfg.Eval.PointsPath = opts.points
	}
	if opts.model != "" {
		cfg.Model.Name = opts.model
	}
	if opts.beam != "" {
		cfg.Model.BeamPath = opts.beam
	}
	if opts.expression != "" {
		cfg.Model.Expression = opts.expression
	}
	if opts.outputDir != "" {
		cfg.Storage.OutputDir = opts.outputDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := a.initTelemetry(ctx); err != nil {
		return err
	}
	rep, err := a.reporter(cmd)
	if err != nil {
		return err
	}

	var runs *store.RunStore
	if !opts.noSave {
		if runs, err = a.openStore(); err != nil {
			return err
		}
	}
	p := a.pipeline(runs)

	ds, err := p.LoadDataset()
	if err != nil {
		return err
	}
	model, err := p.Model(predictor.Kind(cfg.Model.Name), nil, ds.Variables)
	if err != nil {
		return err
	}

	a.logger.Info("Fitting",
		"model", model.Name(),
		"source", ds.Source,
		"points", len(ds.X),
		"variables", ds.Variables)

	run, _, err := p.Run(ctx, model, ds)
	if run == nil {
		return err
	}
	if rerr := rep.Run(run); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}
