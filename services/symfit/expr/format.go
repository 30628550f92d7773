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
	"strconv"
	"strings"
)

// Binding strengths used by both the printer and the parser.
const (
	precAdd   = 10
	precMul   = 20
	precUnary = 30
	precPow   = 40
	precAtom  = 100
)

// String renders the tree with default variable names (x_1, x_2, ...) and
// placeholder names (c0, c1, ...).
func (n *Node) String() string {
	return Format(n, nil, nil)
}

// Format renders the tree as an infix string that Parse accepts.
//
// Inputs:
//
//	n - The tree to render.
//	names - Variable names by index. Missing entries fall back to x_<i+1>.
//	consts - Fitted constant values by placeholder id. When nil, placeholders
//	         are rendered as c<id>.
//
// Outputs:
//
//	string - The rendered expression.
func Format(n *Node, names []string, consts []float64) string {
	var sb strings.Builder
	p := printer{sb: &sb, names: names, consts: consts}
	p.write(n, 0, false)
	return sb.String()
}

type printer struct {
	sb     *strings.Builder
	names  []string
	consts []float64
}

func precedence(n *Node) int {
	switch n.Kind {
	case KindBinary:
		switch n.Op {
		case OpAdd, OpSub:
			return precAdd
		case OpMul, OpDiv:
			return precMul
		case OpPow:
			return precPow
		}
	case KindUnary:
		switch n.Op {
		case OpNeg:
			return precUnary
		case OpPow2, OpPow3, OpPow4, OpPow5:
			return precPow
		case OpInv:
			return precMul
		}
	}
	return precAtom
}

func (p *printer) write(n *Node, parent int, wrapEqual bool) {
	prec := precedence(n)
	wrap := prec < parent || (wrapEqual && prec == parent)
	if wrap {
		p.sb.WriteByte('(')
	}

	switch n.Kind {
	case KindVariable:
		p.sb.WriteString(p.varName(n.Index))
	case KindConstant:
		if p.consts != nil && n.Index < len(p.consts) {
			p.number(p.consts[n.Index], parent > 0)
		} else {
			fmt.Fprintf(p.sb, "c%d", n.Index)
		}
	case KindLiteral:
		p.number(n.Value, parent > 0)
	case KindUnary:
		p.unary(n)
	case KindBinary:
		p.binary(n, prec)
	}

	if wrap {
		p.sb.WriteByte(')')
	}
}

func (p *printer) unary(n *Node) {
	switch n.Op {
	case OpNeg:
		p.sb.WriteByte('-')
		p.write(n.Left, precUnary, false)
	case OpPow2, OpPow3, OpPow4, OpPow5:
		p.write(n.Left, precPow, true)
		fmt.Fprintf(p.sb, "**%d", int(n.Op-OpPow2)+2)
	case OpInv:
		p.sb.WriteString("1/")
		p.write(n.Left, precMul, true)
	case OpLog:
		p.sb.WriteString("log(")
		p.write(n.Left, 0, false)
		p.sb.WriteByte(')')
	default:
		p.sb.WriteString(n.Op.String())
		p.sb.WriteByte('(')
		p.write(n.Left, 0, false)
		p.sb.WriteByte(')')
	}
}

func (p *printer) binary(n *Node, prec int) {
	var sym string
	switch n.Op {
	case OpAdd:
		sym = " + "
	case OpSub:
		sym = " - "
	case OpMul:
		sym = "*"
	case OpDiv:
		sym = "/"
	case OpPow:
		sym = "**"
	}
	// Left associative except **, which is right associative.
	if n.Op == OpPow {
		p.write(n.Left, prec, true)
		p.sb.WriteString(sym)
		p.write(n.Right, prec, false)
		return
	}
	p.write(n.Left, prec, false)
	p.sb.WriteString(sym)
	p.write(n.Right, prec, n.Op == OpSub || n.Op == OpDiv || n.Op == OpMul)
}

func (p *printer) number(v float64, nested bool) {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if nested && (v < 0 || strings.ContainsAny(s, "eE")) {
		p.sb.WriteByte('(')
		p.sb.WriteString(s)
		p.sb.WriteByte(')')
		return
	}
	p.sb.WriteString(s)
}

func (p *printer) varName(i int) string {
	if i < len(p.names) && p.names[i] != "" {
		return p.names[i]
	}
	return fmt.Sprintf("x_%d", i+1)
}
