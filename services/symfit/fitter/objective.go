// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fitter

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"

	"github.com/AleutianAI/symfit/services/symfit/expr"
	"github.com/AleutianAI/symfit/services/symfit/skeleton"
)

// objective is the penalized mean squared residual of a skeleton over a
// fixed dataset, as a function of the constant vector. It is always finite.
type objective struct {
	root    *expr.Node
	X       [][]float64
	y       []float64
	penalty float64
	fdSet   *fd.Settings
}

func newObjective(sk *skeleton.Skeleton, X [][]float64, y []float64, penalty float64) *objective {
	return &objective{
		root:    sk.Root,
		X:       X,
		y:       y,
		penalty: penalty,
		fdSet:   &fd.Settings{Formula: fd.Central},
	}
}

// value returns the objective at consts.
func (o *objective) value(consts []float64) float64 {
	v, _ := o.evaluate(consts)
	return v
}

// evaluate returns the objective at consts and the number of points whose
// loss was replaced by the penalty.
func (o *objective) evaluate(consts []float64) (float64, int) {
	var (
		sum       float64
		penalized int
	)
	for i, row := range o.X {
		loss, capped := o.pointLoss(o.root.Eval(row, consts), o.y[i])
		sum += loss
		if capped {
			penalized++
		}
	}
	return sum / float64(len(o.X)), penalized
}

// degenerate reports whether every point is penalized at consts. The
// objective is flat there, so optimizer stopping criteria say nothing about
// the fit.
func (o *objective) degenerate(consts []float64) bool {
	_, penalized := o.evaluate(consts)
	return penalized == len(o.X)
}

// pointLoss is the squared residual of one point, capped at the penalty.
func (o *objective) pointLoss(pred, target float64) (float64, bool) {
	r := pred - target
	sq := r * r
	if math.IsNaN(sq) || math.IsInf(sq, 0) || sq > o.penalty {
		return o.penalty, true
	}
	return sq, false
}

// gradient fills grad with a central finite-difference estimate.
func (o *objective) gradient(grad, consts []float64) {
	fd.Gradient(grad, o.value, consts, o.fdSet)
	for i, g := range grad {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			grad[i] = 0
		}
	}
}
