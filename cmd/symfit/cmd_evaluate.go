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

	"github.com/AleutianAI/symfit/services/symfit/benchmark"
	"github.com/AleutianAI/symfit/services/symfit/expr"
	"github.com/AleutianAI/symfit/services/symfit/pipeline"
	"github.com/AleutianAI/symfit/services/symfit/predictor"
	"github.com/AleutianAI/symfit/services/symfit/store"
)

type evaluateOptions struct {
	equation   string
	support    string
	benchmark  string
	index      int
	prediction string
	numPoints  int
	rtol       float64
	atol       float64
	seed       uint64
	save       bool
}

func newEvaluateCmd(a *app) *cobra.Command {
	opts := &evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a predicted expression against a ground-truth equation",
		Long: `Evaluate samples test points from the ground truth's support and reports the
fraction where the prediction is within rtol/atol of the truth. Points where
either side is non-finite, or that fall outside the support, are excluded.`,
		Example: `  symfit evaluate --equation "x_1**2 + 1" --support "{'x_1': (-1, 1)}" --prediction "1 + x_1*x_1"
  symfit evaluate --benchmark nguyen.csv --index 0 --prediction "x_1**3 + x_1**2 + x_1"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runEvaluate(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.equation, "equation", "", "Ground-truth expression")
	f.StringVar(&opts.support, "support", "", "Support of the ground truth, e.g. \"{'x_1': (-1, 1)}\"")
	f.StringVar(&opts.benchmark, "benchmark", "", "Take the ground truth from this benchmark CSV instead")
	f.IntVarP(&opts.index, "index", "i", 0, "Equation row in the benchmark")
	f.StringVarP(&opts.prediction, "prediction", "p", "", "Predicted expression")
	f.IntVar(&opts.numPoints, "num-points", 0, "Test points (default eval.num_test_points)")
	f.Float64Var(&opts.rtol, "rtol", 0, "Relative tolerance (default eval.rtol)")
	f.Float64Var(&opts.atol, "atol", 0, "Absolute tolerance (default eval.atol)")
	f.Uint64Var(&opts.seed, "seed", 0, "Sampling seed (default eval.seed)")
	f.BoolVar(&opts.save, "save", false, "Record the evaluation in the run store")
	_ = cmd.MarkFlagRequired("prediction")
	cmd.MarkFlagsMutuallyExclusive("equation", "benchmark")
	cmd.MarkFlagsRequiredTogether("equation", "support")
	return cmd
}

func (a *app) runEvaluate(cmd *cobra.Command, opts *evaluateOptions) error {
	ctx := cmd.Context()
	if err := a.initTelemetry(ctx); err != nil {
		return err
	}
	rep, err := a.reporter(cmd)
	if err != nil {
		return err
	}

	eq, err := a.groundTruth(opts)
	if err != nil {
		return err
	}
	tree, err := expr.Parse(opts.prediction, eq.Variables)
	if err != nil {
		return err
	}
	pred, err := predictor.NewExprPredictor(tree, eq.Variables)
	if err != nil {
		return err
	}

	var evalOpts pipeline.EvalOptions
	evalOpts.NumPoints = opts.numPoints
	flags := cmd.Flags()
	if flags.Changed("rtol") {
		evalOpts.RTol = &opts.rtol
	}
	if flags.Changed("atol") {
		evalOpts.ATol = &opts.atol
	}
	if flags.Changed("seed") {
		evalOpts.Seed = &opts.seed
	}

	var runs *store.RunStore
	if opts.save {
		if runs, err = a.openStore(); err != nil {
			return err
		}
	}
	p := a.pipeline(runs)
	report, err := p.Evaluate(ctx, pred, eq, evalOpts)
	if err != nil {
		return err
	}
	if err := rep.Accuracy(report); err != nil {
		return err
	}

	if !opts.save {
		return nil
	}
	run := &store.Run{
		Model:         string(predictor.KindEquation),
		Benchmark:     opts.benchmark,
		EquationIndex: max(eq.Index, 0),
		GroundTruth:   eq.Expr,
		Equation:      pred.Equation(),
		PlatformNode:  store.PlatformNode(),
		Accuracy:      report,
	}
	if err := runs.Save(ctx, run); err != nil {
		return err
	}
	a.logger.Info("Evaluation saved", "run_id", run.ID)
	return nil
}

func (a *app) groundTruth(opts *evaluateOptions) (*benchmark.Equation, error) {
	switch {
	case opts.benchmark != "":
		return benchmark.LoadEquation(opts.benchmark, opts.index)
	case opts.equation != "":
		support, err := benchmark.ParseSupport(opts.support)
		if err != nil {
			return nil, err
		}
		n := opts.numPoints
		if n <= 0 {
			n = a.cfg.Eval.NumTestPoints
		}
		return benchmark.NewEquation(opts.equation, support, n)
	default:
		return nil, errors.New("one of --equation or --benchmark is required")
	}
}
