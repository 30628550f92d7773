// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/symfit/services/symfit/accuracy"
	"github.com/AleutianAI/symfit/services/symfit/ranker"
)

var (
	// ErrNotFound is returned by Get for an unknown run id.
	ErrNotFound = errors.New("run not found")

	// ErrInvalidID is returned for ids that are not UUIDs.
	ErrInvalidID = errors.New("invalid run id")
)

// ResultsFile is the name WriteJSON writes inside its directory.
const ResultsFile = "results.json"

const runPrefix = "run/"

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// Run is the persisted record of one fit (and optional evaluation).
type Run struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// Model is the strategy name, e.g. "nesymres".
	Model string `json:"model"`

	// Benchmark and EquationIndex locate the ground truth, when there is one.
	Benchmark     string `json:"benchmark,omitempty"`
	EquationIndex int    `json:"equation_index"`
	GroundTruth   string `json:"ground_truth,omitempty"`

	// Equation is the fitted model.
	Equation string `json:"equation"`

	// Duration is the wall-clock fit time in seconds.
	Duration float64 `json:"duration"`

	// PlatformNode is the host that ran the fit.
	PlatformNode string `json:"platform_node"`

	Accuracy   *accuracy.Report   `json:"accuracy,omitempty"`
	Metrics    map[string]any     `json:"metrics,omitempty"`
	Candidates []CandidateSummary `json:"candidates,omitempty"`
}

// CandidateSummary is one ranked candidate as stored with a run.
type CandidateSummary struct {
	Rank      int      `json:"rank"`
	Skeleton  string   `json:"skeleton"`
	Equation  string   `json:"equation"`
	FitError  *float64 `json:"fit_error"`
	Converged bool     `json:"converged"`
}

// Summarize keeps the first limit entries of a ranking. limit <= 0 keeps all.
// Non-finite fit errors are stored as null.
func Summarize(ranked *ranker.RankedCandidates, limit int) []CandidateSummary {
	if ranked == nil {
		return nil
	}
	entries := ranked.Entries
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]CandidateSummary, len(entries))
	for i, e := range entries {
		out[i] = CandidateSummary{
			Rank:      e.Rank,
			Skeleton:  e.Form,
			Equation:  e.Equation,
			FitError:  finite(e.FitError),
			Converged: e.Converged,
		}
	}
	return out
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// sanitize replaces non-finite floats in metrics so the record encodes.
func sanitize(metrics map[string]any) map[string]any {
	if metrics == nil {
		return nil
	}
	out := make(map[string]any, len(metrics))
	for k, v := range metrics {
		if f, ok := v.(float64); ok {
			if p := finite(f); p == nil {
				out[k] = nil
				continue
			}
		}
		out[k] = v
	}
	return out
}

// PlatformNode returns the host name, or "unknown".
func PlatformNode() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

// -----------------------------------------------------------------------------
// RunStore
// -----------------------------------------------------------------------------

// RunStore persists Run records as JSON under time-ordered UUIDv7 keys, so
// key order is creation order.
//
// Thread Safety: Safe for concurrent use.
type RunStore struct {
	db     *db
	logger *slog.Logger
}

// Open opens a RunStore. A nil logger uses slog.Default().
func Open(cfg DBConfig, logger *slog.Logger) (*RunStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &RunStore{db: d, logger: logger}, nil
}

// Close stops GC and closes the database.
func (s *RunStore) Close() error {
	return s.db.close()
}

// Save stores run.
//
// Description:
//
//	Assigns a new UUIDv7 when run.ID is empty and CreatedAt when it is zero,
//	then writes the record. Saving an existing id overwrites it.
//
// Outputs:
//
//	error - ErrInvalidID for a malformed preset id, or an encode/commit
//	        failure.
func (s *RunStore) Save(ctx context.Context, run *Run) error {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate run id: %w", err)
		}
		run.ID = id.String()
	} else if _, err := uuid.Parse(run.ID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, run.ID)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.Metrics = sanitize(run.Metrics)

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	err = s.db.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(runPrefix+run.ID), data)
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	s.logger.Debug("run saved", slog.String("run_id", run.ID), slog.Int("bytes", len(data)))
	return nil
}

// Get loads one run.
func (s *RunStore) Get(ctx context.Context, id string) (*Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	var run Run
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(runPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (s *RunStore) List(ctx context.Context, limit int) ([]*Run, error) {
	runs := []*Run{}
	err := s.db.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks from just past the last key with the prefix.
		seek := append([]byte(runPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var run Run
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			runs = append(runs, &run)
			if limit > 0 && len(runs) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// -----------------------------------------------------------------------------
// results.json
// -----------------------------------------------------------------------------

// WriteJSON writes run as indented JSON to dir/results.json and returns the
// path. The directory is created if needed.
func WriteJSON(dir string, run *Run) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	cp := *run
	cp.Metrics = sanitize(run.Metrics)
	data, err := json.MarshalIndent(&cp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode run: %w", err)
	}
	path := filepath.Join(dir, ResultsFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
