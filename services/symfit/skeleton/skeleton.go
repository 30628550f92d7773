// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package skeleton turns decoded token sequences into expression skeletons.
//
// A skeleton is an expression tree whose free constants are placeholders
// (c0, c1, ...) still waiting for numeric values. Decoders emit skeletons in
// prefix (Polish) order:
//
//	S add mul c x_1 c F   →   c0*x_1 + c1
//
// The leading start token is optional. Parsing stops at the first end or
// pad token; anything after it is ignored.
package skeleton

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/AleutianAI/symfit/services/symfit/expr"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrMalformedSequence is returned when a token sequence does not encode
	// exactly one well-formed tree over the active variable set.
	ErrMalformedSequence = errors.New("malformed token sequence")

	// ErrConstantBudgetExceeded is returned when a sequence carries more
	// constant placeholders than the builder allows.
	ErrConstantBudgetExceeded = errors.New("constant budget exceeded")
)

// BuildError describes why a sequence was rejected.
//
// Err is one of the package sentinels, so errors.Is works on the result of
// Build directly.
type BuildError struct {
	Err      error
	Position int
	Token    string
	Detail   string
}

// Error implements error.
func (e *BuildError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("%v: %s (token %q at %d)", e.Err, e.Detail, e.Token, e.Position)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Detail)
}

// Unwrap returns the sentinel error.
func (e *BuildError) Unwrap() error { return e.Err }

func malformed(pos int, tok, format string, args ...any) error {
	return &BuildError{Err: ErrMalformedSequence, Position: pos, Token: tok, Detail: fmt.Sprintf(format, args...)}
}

// -----------------------------------------------------------------------------
// Token Sequences
// -----------------------------------------------------------------------------

// Grammar tokens shared with the decoder.
const (
	StartToken    = "S"
	EndToken      = "F"
	PadToken      = "P"
	ConstantToken = "c"
)

// UnlimitedConstants disables the constant budget.
const UnlimitedConstants = -1

// maxSequenceLength bounds recursion depth for untrusted input.
const maxSequenceLength = 4096

// TokenSequence is one decoded beam entry.
type TokenSequence struct {
	// Tokens are the decoded symbols in prefix order.
	Tokens []string `json:"tokens" yaml:"tokens"`

	// Score is the decoder's log-probability (higher is better).
	Score float64 `json:"score" yaml:"score"`
}

// -----------------------------------------------------------------------------
// Skeleton
// -----------------------------------------------------------------------------

// Skeleton is a validated expression tree with constant placeholders.
//
// Placeholder ids are dense and unique: 0..NumConstants-1 in order of first
// appearance in the token stream. A Skeleton is never mutated after Build.
type Skeleton struct {
	// Root is the expression tree.
	Root *expr.Node

	// Variables is the variable set the tree was validated against.
	Variables []string

	// NumConstants is the number of placeholders in Root.
	NumConstants int

	// Wrapped is true when Build added c*(...)+c around a constant-free tree.
	Wrapped bool
}

// String renders the skeleton with placeholder names.
func (s *Skeleton) String() string {
	return expr.Format(s.Root, s.Variables, nil)
}

// Format renders the skeleton with fitted constant values substituted.
func (s *Skeleton) Format(consts []float64) string {
	return expr.Format(s.Root, s.Variables, consts)
}

// ConstantName returns the placeholder name for id.
func ConstantName(id int) string {
	return "c" + strconv.Itoa(id)
}

// -----------------------------------------------------------------------------
// Builder
// -----------------------------------------------------------------------------

// Builder converts token sequences into skeletons.
//
// Thread Safety: Safe for concurrent use; Build has no side effects.
type Builder struct {
	variables    []string
	budget       int
	wrapConstant bool
}

// Option configures a Builder.
type Option func(*Builder)

// WithConstantBudget sets the maximum number of placeholders per skeleton.
// UnlimitedConstants disables the check.
func WithConstantBudget(n int) Option {
	return func(b *Builder) {
		b.budget = n
	}
}

// WithCoefficientWrapping makes Build wrap constant-free skeletons as
// c0*(skeleton)+c1 so that they still receive a scale and an offset. A
// constant budget below 2 leaves such skeletons unwrapped.
func WithCoefficientWrapping(enabled bool) Option {
	return func(b *Builder) {
		b.wrapConstant = enabled
	}
}

// NewBuilder creates a builder over the given variable set.
//
// The default constant budget is UnlimitedConstants.
func NewBuilder(variables []string, opts ...Option) *Builder {
	b := &Builder{
		variables: append([]string(nil), variables...),
		budget:    UnlimitedConstants,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Variables returns a copy of the builder's variable set.
func (b *Builder) Variables() []string {
	return append([]string(nil), b.variables...)
}

// Build parses one token sequence.
//
// Description:
//
//	Skips a leading start token, stops at the first end or pad token, and
//	parses the remaining prefix-order tokens into exactly one tree. Tokens
//	are: operator names understood by expr.LookupOp, the constant token "c",
//	variable names from the variable set (or x_<n> / x<n> forms, which are
//	range-checked), and numeric literals.
//
// Inputs:
//
//	tokens - The decoded sequence.
//
// Outputs:
//
//	*Skeleton - The validated skeleton.
//	error - *BuildError wrapping ErrMalformedSequence or
//	        ErrConstantBudgetExceeded.
func (b *Builder) Build(tokens TokenSequence) (*Skeleton, error) {
	body := trim(tokens.Tokens)
	if len(body) == 0 {
		return nil, malformed(0, "", "empty sequence")
	}
	if len(body) > maxSequenceLength {
		return nil, malformed(0, "", "sequence longer than %d tokens", maxSequenceLength)
	}

	p := &prefixParser{b: b, toks: body}
	root, err := p.node()
	if err != nil {
		return nil, err
	}
	if p.pos != len(body) {
		return nil, malformed(p.pos, body[p.pos], "trailing tokens after complete expression")
	}

	if b.budget != UnlimitedConstants && p.nextConst > b.budget {
		return nil, &BuildError{
			Err:    ErrConstantBudgetExceeded,
			Detail: fmt.Sprintf("%d placeholders, budget %d", p.nextConst, b.budget),
		}
	}

	// The budget bounds decoded placeholders. Wrapping adds two and is
	// skipped when they would not fit.
	wrapped := false
	if p.nextConst == 0 && b.wrapConstant && (b.budget == UnlimitedConstants || b.budget >= 2) {
		root = expr.Binary(expr.OpAdd, expr.Binary(expr.OpMul, expr.Const(0), root), expr.Const(1))
		p.nextConst = 2
		wrapped = true
	}

	return &Skeleton{
		Root:         root,
		Variables:    b.Variables(),
		NumConstants: p.nextConst,
		Wrapped:      wrapped,
	}, nil
}

func trim(tokens []string) []string {
	start := 0
	if len(tokens) > 0 && tokens[0] == StartToken {
		start = 1
	}
	end := len(tokens)
	for i := start; i < len(tokens); i++ {
		if tokens[i] == EndToken || tokens[i] == PadToken {
			end = i
			break
		}
	}
	return tokens[start:end]
}

var variablePattern = regexp.MustCompile(`^x_?(\d+)$`)

type prefixParser struct {
	b         *Builder
	toks      []string
	pos       int
	nextConst int
}

func (p *prefixParser) node() (*expr.Node, error) {
	if p.pos >= len(p.toks) {
		return nil, malformed(p.pos, "", "sequence ends before every operator has its operands")
	}
	pos, tok := p.pos, p.toks[p.pos]
	p.pos++

	if tok == ConstantToken {
		n := expr.Const(p.nextConst)
		p.nextConst++
		return n, nil
	}
	if op, ok := expr.LookupOp(tok); ok {
		left, err := p.node()
		if err != nil {
			return nil, err
		}
		if op.Arity() == 1 {
			return expr.Unary(op, left), nil
		}
		right, err := p.node()
		if err != nil {
			return nil, err
		}
		return expr.Binary(op, left, right), nil
	}
	if idx, ok := p.variable(tok); ok {
		if idx < 0 || idx >= len(p.b.variables) {
			return nil, malformed(pos, tok, "variable outside the active set of %d", len(p.b.variables))
		}
		return expr.Var(idx), nil
	}
	if v, err := strconv.ParseFloat(tok, 64); err == nil {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, malformed(pos, tok, "non-finite literal")
		}
		return expr.Lit(v), nil
	}
	return nil, malformed(pos, tok, "unknown token")
}

// variable resolves tok to a variable index. The boolean reports whether tok
// looks like a variable at all; the index may still be out of range.
func (p *prefixParser) variable(tok string) (int, bool) {
	for i, name := range p.b.variables {
		if name == tok {
			return i, true
		}
	}
	m := variablePattern.FindStringSubmatch(tok)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n - 1, true
}
