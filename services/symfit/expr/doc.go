// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package expr provides the numeric expression tree shared by skeletons,
// fitted candidates and benchmark ground truths.
//
// A tree is built from five node kinds:
//
//	KindVariable  x[Index]
//	KindConstant  placeholder c[Index], value supplied at evaluation time
//	KindLiteral   fixed numeric value
//	KindUnary     Op(Left)
//	KindBinary    Op(Left, Right)
//
// Evaluation never panics on numeric faults. Division by zero, logarithms of
// negative numbers and overflow produce NaN or ±Inf exactly as package math
// does; callers decide how to treat non-finite values.
//
// # Parsing
//
// Parse reads infix strings in the syntax used by benchmark files and by
// Format, for example:
//
//	x_1**2 + sin(x_2)/3
//	2.5*exp(-x1) - log(x2)
//
// Both ** and ^ denote exponentiation (right associative). Unary minus binds
// tighter than * and looser than **, so -x**2 is -(x**2).
//
// # Thread Safety
//
// Nodes are immutable after construction and safe for concurrent evaluation.
package expr
