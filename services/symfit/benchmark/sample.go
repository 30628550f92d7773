// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package benchmark

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Mode selects where points are drawn relative to the support.
type Mode string

const (
	// ModeIID draws every coordinate uniformly from its interval.
	ModeIID Mode = "iid"

	// ModeOOD draws every coordinate from the two flanks of width
	// Interval.Width() on either side of its interval, excluding the
	// interval itself.
	ModeOOD Mode = "ood"
)

// maxSampleRounds bounds the rejection loop of RobustData.
const maxSampleRounds = 10

// Sample draws n points for the equation's variables.
//
// Inputs:
//
//	n - Number of points.
//	seed - Seed of the PCG source.
//	stream - Second PCG word; different streams with the same seed give
//	         independent draws.
//	mode - ModeIID or ModeOOD.
//
// Outputs:
//
//	[][]float64 - n rows, columns in e.Variables order.
//	error - On an unknown mode.
func (e *Equation) Sample(n int, seed, stream uint64, mode Mode) ([][]float64, error) {
	if mode != ModeIID && mode != ModeOOD {
		return nil, fmt.Errorf("unknown sampling mode %q", mode)
	}
	src := rand.NewPCG(seed, stream)
	unit := distuv.Uniform{Min: 0, Max: 1, Src: src}

	dists := make([]distuv.Uniform, len(e.Variables))
	for j, name := range e.Variables {
		iv := e.Support[name]
		dists[j] = distuv.Uniform{Min: iv.Low, Max: iv.High, Src: src}
	}

	X := make([][]float64, n)
	for i := range X {
		row := make([]float64, len(e.Variables))
		for j, name := range e.Variables {
			if mode == ModeIID {
				row[j] = dists[j].Rand()
				continue
			}
			iv := e.Support[name]
			w := iv.Width()
			if unit.Rand() < 0.5 {
				row[j] = iv.Low - w*unit.Rand()
			} else {
				row[j] = iv.High + w*unit.Rand()
			}
		}
		X[i] = row
	}
	return X, nil
}

// RobustData draws n points whose ground-truth value is finite.
//
// Description:
//
//	Points with a non-finite target are rejected and the draw is repeated
//	on a fresh stream, for at most a fixed number of rounds. When the rounds
//	run out with some but fewer than n points, the points found are
//	returned.
//
// Outputs:
//
//	X, y - The accepted points and their targets.
//	error - ErrNoValidPoints when no point was accepted.
func (e *Equation) RobustData(n int, seed uint64, mode Mode) ([][]float64, []float64, error) {
	X := make([][]float64, 0, n)
	y := make([]float64, 0, n)
	for round := 0; round < maxSampleRounds && len(X) < n; round++ {
		batch, err := e.Sample(n, seed, uint64(round), mode)
		if err != nil {
			return nil, nil, err
		}
		for _, row := range batch {
			v := e.tree.Eval(row, nil)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			X = append(X, row)
			y = append(y, v)
			if len(X) == n {
				break
			}
		}
	}
	if len(X) == 0 {
		return nil, nil, fmt.Errorf("%w: %s over its support", ErrNoValidPoints, e.Expr)
	}
	return X, y, nil
}
