// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ranker fits every candidate of a decoded beam and orders the
// results best first.
//
// Ordering is total: converged fits come before non-converged ones, then
// ascending fit error (NaN sorts as +Inf), then ascending decode rank. The
// order depends only on the fit results, never on worker scheduling.
package ranker

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/symfit/services/symfit/fitter"
	"github.com/AleutianAI/symfit/services/symfit/skeleton"
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Entry is one fitted candidate.
type Entry struct {
	// Rank is the candidate's position in the decoded beam.
	Rank int `json:"rank"`

	// Score is the decoder score of the candidate.
	Score float64 `json:"score"`

	// Form is the skeleton with placeholder names, e.g. "c0*x_1 + c1".
	Form string `json:"skeleton"`

	*fitter.Result
}

// BuildFailure records a candidate that could not be turned into a skeleton.
type BuildFailure struct {
	Rank   int    `json:"rank"`
	Reason string `json:"reason"`
}

// RankedCandidates is an immutable snapshot of one ranking pass.
type RankedCandidates struct {
	// Entries are ordered best first.
	Entries []Entry `json:"entries"`

	// Candidates is the size of the input beam.
	Candidates int `json:"candidates"`

	// BuildFailures counts candidates dropped before fitting.
	BuildFailures int `json:"build_failures"`

	// BudgetFailures is the subset of BuildFailures rejected for exceeding
	// the constant budget.
	BudgetFailures int `json:"budget_failures"`

	// Failures lists the reason for each dropped candidate.
	Failures []BuildFailure `json:"failures,omitempty"`

	// ConvergenceFailures counts fitted entries with Converged=false.
	ConvergenceFailures int `json:"convergence_failures"`

	// Duration is the wall-clock time of the pass.
	Duration time.Duration `json:"duration"`
}

// Best returns the top entry, or false when no candidate survived.
func (r *RankedCandidates) Best() (Entry, bool) {
	if r == nil || len(r.Entries) == 0 {
		return Entry{}, false
	}
	return r.Entries[0], true
}

// -----------------------------------------------------------------------------
// Ranker
// -----------------------------------------------------------------------------

// Fitter is the subset of *fitter.Fitter the ranker needs.
type Fitter interface {
	Fit(ctx context.Context, sk *skeleton.Skeleton, X [][]float64, y []float64) (*fitter.Result, error)
}

// Ranker builds, fits and orders beam candidates.
//
// Thread Safety: Safe for concurrent use if the Fitter is.
type Ranker struct {
	builder *skeleton.Builder
	fitter  Fitter
	workers int
	logger  *slog.Logger
}

// New creates a Ranker.
//
// Inputs:
//
//	builder - Skeleton builder holding the variable set and constant budget.
//	f - Constant fitter.
//	workers - Maximum concurrent fits. Values below 1 use runtime.NumCPU().
//	logger - If nil, uses slog.Default().
func New(builder *skeleton.Builder, f Fitter, workers int, logger *slog.Logger) *Ranker {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{builder: builder, fitter: f, workers: workers, logger: logger}
}

type candidate struct {
	rank  int
	score float64
	sk    *skeleton.Skeleton
}

// Rank fits every buildable candidate of beam against (X, y).
//
// Description:
//
//	(X, y) is validated once against the builder's variable set before any
//	work starts. Candidates that fail to build are dropped and counted.
//	The rest are fitted by at most `workers` goroutines, each writing only
//	its own result slot, then sorted. An empty beam, or one where every
//	candidate fails to build, yields an empty snapshot and no error.
//
// Outputs:
//
//	*RankedCandidates - The ordered snapshot.
//	error - fitter.ErrEmptyData, fitter.ErrDataShape, or the context error.
func (r *Ranker) Rank(ctx context.Context, beam []skeleton.TokenSequence, X [][]float64, y []float64) (*RankedCandidates, error) {
	if err := fitter.ValidateData(X, y, len(r.builder.Variables())); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Ranker.Rank",
		trace.WithAttributes(
			attribute.Int("symfit.beam_size", len(beam)),
			attribute.Int("symfit.points", len(X)),
		),
	)
	defer span.End()
	start := time.Now()

	out := &RankedCandidates{Candidates: len(beam), Entries: []Entry{}}
	cands := make([]candidate, 0, len(beam))
	for i, ts := range beam {
		sk, err := r.builder.Build(ts)
		if err != nil {
			out.BuildFailures++
			if errors.Is(err, skeleton.ErrConstantBudgetExceeded) {
				out.BudgetFailures++
			}
			out.Failures = append(out.Failures, BuildFailure{Rank: i, Reason: err.Error()})
			r.logger.Debug("candidate dropped",
				slog.Int("rank", i),
				slog.String("error", err.Error()))
			continue
		}
		cands = append(cands, candidate{rank: i, score: ts.Score, sk: sk})
	}

	results := make([]*fitter.Result, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, c := range cands {
		g.Go(func() error {
			res, err := r.fitter.Fit(gctx, c.sk, X, y)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	for i, c := range cands {
		res := results[i]
		if !res.Converged {
			out.ConvergenceFailures++
		}
		out.Entries = append(out.Entries, Entry{
			Rank:   c.rank,
			Score:  c.score,
			Form:   c.sk.String(),
			Result: res,
		})
	}
	sortEntries(out.Entries)
	out.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("symfit.build_failures", out.BuildFailures),
		attribute.Int("symfit.convergence_failures", out.ConvergenceFailures),
	)
	recordRank(ctx, out)

	r.logger.Info("beam ranked",
		slog.Int("candidates", out.Candidates),
		slog.Int("fitted", len(out.Entries)),
		slog.Int("build_failures", out.BuildFailures),
		slog.Int("convergence_failures", out.ConvergenceFailures),
		slog.Duration("duration", out.Duration))
	return out, nil
}

// sortEntries applies the ranking order in place.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return less(entries[i], entries[j])
	})
}

func less(a, b Entry) bool {
	if a.Converged != b.Converged {
		return a.Converged
	}
	ea, eb := sortableError(a.FitError), sortableError(b.FitError)
	if ea != eb {
		return ea < eb
	}
	return a.Rank < b.Rank
}

func sortableError(e float64) float64 {
	if math.IsNaN(e) {
		return math.Inf(1)
	}
	return e
}
