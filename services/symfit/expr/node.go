// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package expr

import (
	"fmt"
	"math"
)

// -----------------------------------------------------------------------------
// Node Kinds
// -----------------------------------------------------------------------------

// Kind identifies the role of a node in the tree.
type Kind uint8

const (
	// KindVariable reads an input column.
	KindVariable Kind = iota
	// KindConstant reads a free constant supplied at evaluation time.
	KindConstant
	// KindLiteral is a fixed numeric value.
	KindLiteral
	// KindUnary applies a one-argument operator to Left.
	KindUnary
	// KindBinary applies a two-argument operator to Left and Right.
	KindBinary
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindVariable:
		return "variable"
	case KindConstant:
		return "constant"
	case KindLiteral:
		return "literal"
	case KindUnary:
		return "unary"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// -----------------------------------------------------------------------------
// Operators
// -----------------------------------------------------------------------------

// Op is an arithmetic or elementary-function operator.
type Op uint8

const (
	// OpNone is the zero value for leaves.
	OpNone Op = iota

	OpNeg
	OpAbs
	OpSqrt
	OpExp
	OpLog
	OpSin
	OpCos
	OpTan
	OpAsin
	OpAcos
	OpAtan
	OpSinh
	OpCosh
	OpTanh
	OpPow2
	OpPow3
	OpPow4
	OpPow5
	OpInv

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpPow
)

var opNames = map[Op]string{
	OpNeg:  "neg",
	OpAbs:  "abs",
	OpSqrt: "sqrt",
	OpExp:  "exp",
	OpLog:  "ln",
	OpSin:  "sin",
	OpCos:  "cos",
	OpTan:  "tan",
	OpAsin: "asin",
	OpAcos: "acos",
	OpAtan: "atan",
	OpSinh: "sinh",
	OpCosh: "cosh",
	OpTanh: "tanh",
	OpPow2: "pow2",
	OpPow3: "pow3",
	OpPow4: "pow4",
	OpPow5: "pow5",
	OpInv:  "inv",
	OpAdd:  "add",
	OpSub:  "sub",
	OpMul:  "mul",
	OpDiv:  "div",
	OpPow:  "pow",
}

// opAliases maps alternative spellings (sympy and numpy names) to operators.
var opAliases = map[string]Op{
	"log":        OpLog,
	"Abs":        OpAbs,
	"arcsin":     OpAsin,
	"arccos":     OpAcos,
	"arctan":     OpAtan,
	"reciprocal": OpInv,
}

// String returns the canonical token name of the operator.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", o)
}

// Arity returns 1 for unary operators, 2 for binary operators and 0 for
// OpNone or unknown values.
func (o Op) Arity() int {
	switch {
	case o >= OpNeg && o <= OpInv:
		return 1
	case o >= OpAdd && o <= OpPow:
		return 2
	default:
		return 0
	}
}

// LookupOp resolves an operator by canonical name or alias.
//
// Outputs:
//
//	Op - The operator, OpNone when the name is unknown.
//	bool - True when the name resolved.
func LookupOp(name string) (Op, bool) {
	for op, n := range opNames {
		if n == name {
			return op, true
		}
	}
	if op, ok := opAliases[name]; ok {
		return op, true
	}
	return OpNone, false
}

// Ops returns every operator with the given arity in declaration order.
func Ops(arity int) []Op {
	var out []Op
	for op := OpNeg; op <= OpPow; op++ {
		if op.Arity() == arity {
			out = append(out, op)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Node
// -----------------------------------------------------------------------------

// Node is one vertex of an expression tree.
//
// Index is the variable column for KindVariable and the placeholder id for
// KindConstant. Value is only meaningful for KindLiteral. Unary nodes use
// Left as their single child.
type Node struct {
	Kind  Kind
	Op    Op
	Index int
	Value float64
	Left  *Node
	Right *Node
}

// Var returns a variable leaf reading column index.
func Var(index int) *Node { return &Node{Kind: KindVariable, Index: index} }

// Const returns a constant placeholder leaf with the given id.
func Const(id int) *Node { return &Node{Kind: KindConstant, Index: id} }

// Lit returns a literal leaf.
func Lit(v float64) *Node { return &Node{Kind: KindLiteral, Value: v} }

// Unary returns op(child).
func Unary(op Op, child *Node) *Node {
	return &Node{Kind: KindUnary, Op: op, Left: child}
}

// Binary returns op(left, right).
func Binary(op Op, left, right *Node) *Node {
	return &Node{Kind: KindBinary, Op: op, Left: left, Right: right}
}

// Eval evaluates the tree at one input point.
//
// Inputs:
//
//	x - Variable values; must cover every variable index in the tree.
//	consts - Constant values indexed by placeholder id; may be nil when the
//	         tree has no placeholders.
//
// Outputs:
//
//	float64 - The value, possibly NaN or ±Inf.
func (n *Node) Eval(x, consts []float64) float64 {
	switch n.Kind {
	case KindVariable:
		return x[n.Index]
	case KindConstant:
		return consts[n.Index]
	case KindLiteral:
		return n.Value
	case KindUnary:
		return applyUnary(n.Op, n.Left.Eval(x, consts))
	case KindBinary:
		return applyBinary(n.Op, n.Left.Eval(x, consts), n.Right.Eval(x, consts))
	default:
		return math.NaN()
	}
}

// EvalRows evaluates the tree at every row of X.
func (n *Node) EvalRows(X [][]float64, consts []float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = n.Eval(row, consts)
	}
	return out
}

func applyUnary(op Op, v float64) float64 {
	switch op {
	case OpNeg:
		return -v
	case OpAbs:
		return math.Abs(v)
	case OpSqrt:
		return math.Sqrt(v)
	case OpExp:
		return math.Exp(v)
	case OpLog:
		return math.Log(v)
	case OpSin:
		return math.Sin(v)
	case OpCos:
		return math.Cos(v)
	case OpTan:
		return math.Tan(v)
	case OpAsin:
		return math.Asin(v)
	case OpAcos:
		return math.Acos(v)
	case OpAtan:
		return math.Atan(v)
	case OpSinh:
		return math.Sinh(v)
	case OpCosh:
		return math.Cosh(v)
	case OpTanh:
		return math.Tanh(v)
	case OpPow2:
		return v * v
	case OpPow3:
		return v * v * v
	case OpPow4:
		return v * v * v * v
	case OpPow5:
		return v * v * v * v * v
	case OpInv:
		return 1 / v
	default:
		return math.NaN()
	}
}

func applyBinary(op Op, a, b float64) float64 {
	switch op {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return a / b
	case OpPow:
		return math.Pow(a, b)
	default:
		return math.NaN()
	}
}

// Walk visits the tree in prefix order until fn returns false.
func (n *Node) Walk(fn func(*Node) bool) {
	n.walk(fn)
}

func (n *Node) walk(fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	if !n.Left.walk(fn) {
		return false
	}
	return n.Right.walk(fn)
}

// NumConstants returns the number of constant placeholders in the tree.
func (n *Node) NumConstants() int {
	count := 0
	n.Walk(func(m *Node) bool {
		if m.Kind == KindConstant {
			count++
		}
		return true
	})
	return count
}

// MaxVariable returns the highest variable index used, or -1 when the tree
// reads no variables.
func (n *Node) MaxVariable() int {
	maxIdx := -1
	n.Walk(func(m *Node) bool {
		if m.Kind == KindVariable && m.Index > maxIdx {
			maxIdx = m.Index
		}
		return true
	})
	return maxIdx
}

// Size returns the number of nodes.
func (n *Node) Size() int {
	size := 0
	n.Walk(func(*Node) bool {
		size++
		return true
	})
	return size
}

// Depth returns the height of the tree; a single leaf has depth 1.
func (n *Node) Depth() int {
	if n == nil {
		return 0
	}
	return 1 + max(n.Left.Depth(), n.Right.Depth())
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Left = n.Left.Clone()
	c.Right = n.Right.Clone()
	return &c
}

// Bind returns a copy of the tree with every constant placeholder replaced
// by a literal holding its fitted value.
func (n *Node) Bind(consts []float64) *Node {
	if n == nil {
		return nil
	}
	if n.Kind == KindConstant {
		return Lit(consts[n.Index])
	}
	c := *n
	c.Left = n.Left.Bind(consts)
	c.Right = n.Right.Bind(consts)
	return &c
}
