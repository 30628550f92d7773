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
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrSyntax is returned when the input is not a well-formed expression.
	ErrSyntax = errors.New("expression syntax error")

	// ErrUnknownIdentifier is returned for a name that is neither a declared
	// variable nor a known constant.
	ErrUnknownIdentifier = errors.New("unknown identifier")

	// ErrUnknownFunction is returned for a call to an unsupported function.
	ErrUnknownFunction = errors.New("unknown function")
)

// namedConstants are identifiers that parse to literals.
var namedConstants = map[string]float64{
	"pi": math.Pi,
	"E":  math.E,
}

// -----------------------------------------------------------------------------
// Lexer
// -----------------------------------------------------------------------------

type tokenType int

const (
	tokEOF tokenType = iota
	tokNumber
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPow
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	typ  tokenType
	text string
	num  float64
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && isDigit(src[j]) {
					i = j
					for i < len(src) && isDigit(src[i]) {
						i++
					}
				}
			}
			v, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q at %d", ErrSyntax, src[start:i], start)
			}
			toks = append(toks, token{typ: tokNumber, text: src[start:i], num: v, pos: start})
		case isAlpha(c):
			start := i
			for i < len(src) && (isAlpha(src[i]) || isDigit(src[i])) {
				i++
			}
			toks = append(toks, token{typ: tokIdent, text: src[start:i], pos: start})
		case c == '*' && i+1 < len(src) && src[i+1] == '*':
			toks = append(toks, token{typ: tokPow, text: "**", pos: i})
			i += 2
		default:
			typ, ok := singleCharTokens[c]
			if !ok {
				return nil, fmt.Errorf("%w: unexpected character %q at %d", ErrSyntax, c, i)
			}
			toks = append(toks, token{typ: typ, text: string(c), pos: i})
			i++
		}
	}
	toks = append(toks, token{typ: tokEOF, pos: len(src)})
	return toks, nil
}

var singleCharTokens = map[byte]tokenType{
	'+': tokPlus,
	'-': tokMinus,
	'*': tokStar,
	'/': tokSlash,
	'^': tokPow,
	'(': tokLParen,
	')': tokRParen,
	',': tokComma,
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
func isAlpha(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '_' }

// -----------------------------------------------------------------------------
// Parser
// -----------------------------------------------------------------------------

// Parse reads an infix expression.
//
// Description:
//
//	Identifiers resolve against variables by exact name first, then with
//	underscores removed, so "x1" matches a declared "x_1" and vice versa.
//	pi and E are literals. Function calls accept every unary operator name
//	(and the aliases log, Abs, arcsin, ...) plus pow(a, b).
//
// Inputs:
//
//	src - The expression text.
//	variables - Declared variable names; their positions become indices.
//
// Outputs:
//
//	*Node - The parsed tree.
//	error - ErrSyntax, ErrUnknownIdentifier or ErrUnknownFunction (wrapped).
func Parse(src string, variables []string) (*Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, vars: variables}
	n, err := p.expr(0)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.typ != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
	}
	return n, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level fixtures.
func MustParse(src string, variables []string) *Node {
	n, err := Parse(src, variables)
	if err != nil {
		panic(err)
	}
	return n
}

type parser struct {
	toks []token
	i    int
	vars []string
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.typ != tokEOF {
		p.i++
	}
	return t
}

// infixPower returns the left binding power of an infix token, or 0.
func infixPower(t tokenType) int {
	switch t {
	case tokPlus, tokMinus:
		return precAdd
	case tokStar, tokSlash:
		return precMul
	case tokPow:
		return precPow
	default:
		return 0
	}
}

func (p *parser) expr(minBP int) (*Node, error) {
	left, err := p.prefix()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		lbp := infixPower(t.typ)
		if lbp == 0 || lbp <= minBP {
			return left, nil
		}
		p.next()
		rbp := lbp
		if t.typ == tokPow {
			rbp = lbp - 1
		}
		right, err := p.expr(rbp)
		if err != nil {
			return nil, err
		}
		left = Binary(binaryFor(t.typ), left, right)
	}
}

func binaryFor(t tokenType) Op {
	switch t {
	case tokPlus:
		return OpAdd
	case tokMinus:
		return OpSub
	case tokStar:
		return OpMul
	case tokSlash:
		return OpDiv
	default:
		return OpPow
	}
}

func (p *parser) prefix() (*Node, error) {
	t := p.next()
	switch t.typ {
	case tokNumber:
		return Lit(t.num), nil
	case tokMinus:
		operand, err := p.expr(precUnary)
		if err != nil {
			return nil, err
		}
		if operand.Kind == KindLiteral {
			return Lit(-operand.Value), nil
		}
		return Unary(OpNeg, operand), nil
	case tokPlus:
		return p.expr(precUnary)
	case tokLParen:
		inner, err := p.expr(0)
		if err != nil {
			return nil, err
		}
		if r := p.next(); r.typ != tokRParen {
			return nil, fmt.Errorf("%w: expected ')' at %d", ErrSyntax, r.pos)
		}
		return inner, nil
	case tokIdent:
		if p.peek().typ == tokLParen {
			return p.call(t)
		}
		return p.identifier(t)
	case tokEOF:
		return nil, fmt.Errorf("%w: unexpected end of input", ErrSyntax)
	default:
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
	}
}

func (p *parser) identifier(t token) (*Node, error) {
	for i, name := range p.vars {
		if name == t.text {
			return Var(i), nil
		}
	}
	bare := strings.ReplaceAll(t.text, "_", "")
	for i, name := range p.vars {
		if strings.ReplaceAll(name, "_", "") == bare {
			return Var(i), nil
		}
	}
	if v, ok := namedConstants[t.text]; ok {
		return Lit(v), nil
	}
	return nil, fmt.Errorf("%w: %q at %d", ErrUnknownIdentifier, t.text, t.pos)
}

func (p *parser) call(name token) (*Node, error) {
	p.next() // (
	var args []*Node
	if p.peek().typ != tokRParen {
		for {
			arg, err := p.expr(0)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().typ != tokComma {
				break
			}
			p.next()
		}
	}
	if r := p.next(); r.typ != tokRParen {
		return nil, fmt.Errorf("%w: expected ')' at %d", ErrSyntax, r.pos)
	}

	op, ok := LookupOp(name.text)
	if !ok {
		return nil, fmt.Errorf("%w: %q at %d", ErrUnknownFunction, name.text, name.pos)
	}
	if op.Arity() != len(args) {
		return nil, fmt.Errorf("%w: %s takes %d argument(s), got %d", ErrSyntax, name.text, op.Arity(), len(args))
	}
	if op.Arity() == 1 {
		return Unary(op, args[0]), nil
	}
	return Binary(op, args[0], args[1]), nil
}
