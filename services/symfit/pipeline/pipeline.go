// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline wires the fitting components together from a resolved
// configuration. Commands and HTTP handlers both go through it.
//
//	dataset ──► model.Fit ──► predictor ──► accuracy.Evaluate ──► store.Run
//	              │
//	              └─ nesymres: decoder ──► ranker (builder + fitter)
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/symfit/services/symfit/accuracy"
	"github.com/AleutianAI/symfit/services/symfit/benchmark"
	"github.com/AleutianAI/symfit/services/symfit/config"
	"github.com/AleutianAI/symfit/services/symfit/decoder"
	"github.com/AleutianAI/symfit/services/symfit/fitter"
	"github.com/AleutianAI/symfit/services/symfit/predictor"
	"github.com/AleutianAI/symfit/services/symfit/ranker"
	"github.com/AleutianAI/symfit/services/symfit/skeleton"
	"github.com/AleutianAI/symfit/services/symfit/store"
	"github.com/AleutianAI/symfit/services/symfit/telemetry"
)

const tracerName = "symfit.pipeline"

// ErrNoDataset is returned by LoadDataset when neither a benchmark nor a
// points file is configured.
var ErrNoDataset = errors.New("no dataset configured: set eval.benchmark or eval.points_path")

// maxStoredCandidates bounds the candidate list kept with a run.
const maxStoredCandidates = 10

// Pipeline builds components from configuration and runs them.
//
// Thread Safety: Safe for concurrent use. The configuration must not be
// mutated after New.
type Pipeline struct {
	cfg    *config.Config
	fitter *fitter.Fitter
	runs   *store.RunStore
	logger *slog.Logger
}

// New creates a Pipeline. runs may be nil to disable persistence; a nil
// logger uses slog.Default().
func New(cfg *config.Config, runs *store.RunStore, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		fitter: fitter.New(cfg.Fit, logger),
		runs:   runs,
		logger: logger,
	}
}

// Config returns the configuration the pipeline was built from.
func (p *Pipeline) Config() *config.Config { return p.cfg }

// Store returns the run store, or nil when persistence is disabled.
func (p *Pipeline) Store() *store.RunStore { return p.runs }

// Variables names the columns of a d-column dataset: the first d
// vocabulary variables when the vocabulary is large enough, x_1..x_d
// otherwise.
func (p *Pipeline) Variables(d int) []string {
	if vocab := p.cfg.Vocabulary.Variables; len(vocab) >= d {
		return append([]string(nil), vocab[:d]...)
	}
	out := make([]string, d)
	for i := range out {
		out[i] = fmt.Sprintf("x_%d", i+1)
	}
	return out
}

// Ranker returns a ranker whose builder accepts variables.
func (p *Pipeline) Ranker(variables []string) *ranker.Ranker {
	b := skeleton.NewBuilder(variables, p.cfg.BuilderOptions()...)
	return ranker.New(b, p.fitter, p.cfg.Model.Workers, p.logger)
}

// Rank builds, fits and orders a beam over (X, y).
func (p *Pipeline) Rank(ctx context.Context, beam []skeleton.TokenSequence, variables []string, X [][]float64, y []float64) (*ranker.RankedCandidates, error) {
	return p.Ranker(variables).Rank(ctx, beam, X, y)
}

// Model constructs the configured strategy for a dataset over variables.
// dec is required for nesymres; when nil the configured beam file is
// loaded.
func (p *Pipeline) Model(kind predictor.Kind, dec decoder.Decoder, variables []string) (predictor.Model, error) {
	deps := predictor.Deps{Logger: p.logger}
	switch kind {
	case predictor.KindNeSymReS:
		if dec == nil {
			if p.cfg.Model.BeamPath == "" {
				return nil, fmt.Errorf("%w: model.beam_path is not set", predictor.ErrMissingDependency)
			}
			static, err := decoder.LoadFile(p.cfg.Model.BeamPath)
			if err != nil {
				return nil, err
			}
			dec = static
		}
		deps.Decoder = dec
		deps.Ranker = p.Ranker(variables)
	case predictor.KindEquation:
		deps.Expression = p.cfg.Model.Expression
		deps.Variables = p.cfg.Model.Variables
		if len(deps.Variables) == 0 {
			deps.Variables = variables
		}
	}
	return predictor.New(kind, deps)
}

// -----------------------------------------------------------------------------
// Datasets
// -----------------------------------------------------------------------------

// Dataset is the training data for one run.
type Dataset struct {
	// Equation is the ground truth, nil for raw points files.
	Equation *benchmark.Equation

	X         [][]float64
	Y         []float64
	Variables []string

	// Source describes where the data came from.
	Source string
}

// LoadDataset loads the configured training data.
//
// Description:
//
//	With eval.benchmark set, loads the equation at eval.equation_index and
//	samples robust training data from its support (eval.num_train_points
//	overrides the benchmark's num_points; eval.mode picks iid or ood).
//	With eval.points_path set, the points file supplies X and y instead;
//	the benchmark equation, if any, is still used for evaluation.
//
// Outputs:
//
//	*Dataset - The data.
//	error - ErrNoDataset, a benchmark load error, or
//	        benchmark.ErrNoValidPoints.
func (p *Pipeline) LoadDataset() (*Dataset, error) {
	ec := p.cfg.Eval
	if ec.Benchmark == "" && ec.PointsPath == "" {
		return nil, ErrNoDataset
	}

	ds := &Dataset{}
	if ec.Benchmark != "" {
		eq, err := benchmark.LoadEquation(ec.Benchmark, ec.EquationIndex)
		if err != nil {
			return nil, err
		}
		ds.Equation = eq
		ds.Variables = eq.Variables
		ds.Source = fmt.Sprintf("%s#%d", ec.Benchmark, ec.EquationIndex)
	}

	if ec.PointsPath != "" {
		pts, err := benchmark.LoadPointsFile(ec.PointsPath)
		if err != nil {
			return nil, err
		}
		if pts.Skipped > 0 {
			p.logger.Warn("points skipped", slog.String("path", ec.PointsPath), slog.Int("skipped", pts.Skipped))
		}
		ds.X, ds.Y, ds.Source = pts.X, pts.Y, ec.PointsPath
		if ds.Equation == nil {
			ds.Variables = p.Variables(len(pts.Columns))
		}
		return ds, nil
	}

	n := ds.Equation.NumPoints
	if ec.NumTrainPoints > 0 {
		n = ec.NumTrainPoints
	}
	X, y, err := ds.Equation.RobustData(n, p.cfg.Fit.Seed, benchmark.Mode(ec.Mode))
	if err != nil {
		return nil, err
	}
	if len(X) < n {
		p.logger.Warn("fewer training points than requested",
			slog.Int("requested", n), slog.Int("accepted", len(X)))
	}
	ds.X, ds.Y = X, y
	return ds, nil
}

// -----------------------------------------------------------------------------
// Evaluation
// -----------------------------------------------------------------------------

// EvalOptions override the configured evaluation settings. Zero values
// keep the configuration.
type EvalOptions struct {
	NumPoints int
	RTol      *float64
	ATol      *float64
	Seed      *uint64
}

// Evaluate scores pred against eq.
func (p *Pipeline) Evaluate(ctx context.Context, pred predictor.Predictor, eq *benchmark.Equation, opts EvalOptions) (*accuracy.Report, error) {
	ec := p.cfg.Eval
	acfg := ec.Config
	n, rtol, atol := ec.NumTestPoints, ec.RTol, ec.ATol
	if opts.NumPoints > 0 {
		n = opts.NumPoints
	}
	if opts.RTol != nil {
		rtol = *opts.RTol
	}
	if opts.ATol != nil {
		atol = *opts.ATol
	}
	if opts.Seed != nil {
		acfg.Seed = *opts.Seed
	}
	return accuracy.New(acfg, p.logger).Evaluate(ctx, pred.Predict, eq, n, rtol, atol)
}

// -----------------------------------------------------------------------------
// Runs
// -----------------------------------------------------------------------------

// Run fits model to ds, evaluates the result when ds has a ground truth,
// and records the run.
//
// Description:
//
//	The record is saved to the run store when one is configured and
//	written to <storage.output_dir>/results.json when output_dir is set.
//	Persistence failures are returned; the fitted record is returned with
//	them so callers can still report it.
//
// Outputs:
//
//	*store.Run - The run record.
//	predictor.Predictor - The fitted model.
//	error - A fit or evaluation error (record nil), or a persistence error.
func (p *Pipeline) Run(ctx context.Context, model predictor.Model, ds *Dataset) (*store.Run, predictor.Predictor, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "Pipeline.Run",
		trace.WithAttributes(
			attribute.String("symfit.model", model.Name()),
			attribute.String("symfit.source", ds.Source),
			attribute.Int("symfit.points", len(ds.X)),
		),
	)
	defer span.End()

	start := time.Now()
	pred, err := model.Fit(ctx, ds.X, ds.Y)
	if err != nil {
		telemetry.RecordError(span, err, attribute.String("symfit.stage", "fit"))
		return nil, nil, fmt.Errorf("fit %s: %w", model.Name(), err)
	}
	elapsed := time.Since(start)

	run := &store.Run{
		Model:         model.Name(),
		EquationIndex: p.cfg.Eval.EquationIndex,
		Benchmark:     p.cfg.Eval.Benchmark,
		Equation:      pred.Equation(),
		Duration:      elapsed.Seconds(),
		PlatformNode:  store.PlatformNode(),
	}
	if mr, ok := pred.(predictor.MetricsReporter); ok {
		run.Metrics = mr.Metrics()
	}
	if bp, ok := pred.(*predictor.BeamPredictor); ok {
		run.Candidates = store.Summarize(bp.Ranked, maxStoredCandidates)
	}

	if ds.Equation != nil {
		run.GroundTruth = ds.Equation.Expr
		rep, err := p.Evaluate(ctx, pred, ds.Equation, EvalOptions{})
		if err != nil {
			telemetry.RecordError(span, err, attribute.String("symfit.stage", "evaluate"))
			return nil, nil, fmt.Errorf("evaluate: %w", err)
		}
		run.Accuracy = rep
	}

	telemetry.LoggerWithTrace(ctx, p.logger).Info("run complete",
		slog.String("model", run.Model),
		slog.String("equation", run.Equation),
		slog.Float64("duration_s", run.Duration))

	return run, pred, p.Record(ctx, run)
}

// Record persists run to the store and results.json as configured.
func (p *Pipeline) Record(ctx context.Context, run *store.Run) error {
	var errs []error
	if p.runs != nil {
		if err := p.runs.Save(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	if dir := p.cfg.Storage.OutputDir; dir != "" {
		path, err := store.WriteJSON(dir, run)
		if err != nil {
			errs = append(errs, err)
		} else {
			p.logger.Debug("results written", slog.String("path", path))
		}
	}
	return errors.Join(errs...)
}
