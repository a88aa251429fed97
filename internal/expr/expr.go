// Package expr implements the small arithmetic expression language used by
// formula-derived model parameters, e.g. "num_screen/max(undx,num_screen)".
//
// The grammar covers the four basic operators, exponentiation ("^" or "**",
// right-associative), unary minus, parentheses, numeric literals, variable
// identifiers, the unary functions exp/floor/ceil and the binary functions
// min/max. Parsing also harvests the set of referenced variables, which the
// engine uses to wire parameter dependencies.
package expr

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Expr is a compiled expression ready for repeated evaluation.
type Expr struct {
	src  string
	root node
	vars []string
}

// Parse compiles src into an Expr.
func Parse(src string) (*Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("expr: empty expression")
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, vars: map[string]struct{}{}}
	root, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, fmt.Errorf("expr: unexpected %q", p.peek().text)
	}
	vars := make([]string, 0, len(p.vars))
	for v := range p.vars {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return &Expr{src: src, root: root, vars: vars}, nil
}

// MustParse is a test/constant convenience that panics on a parse error.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// Source returns the original expression text.
func (e *Expr) Source() string { return e.src }

// Vars returns the sorted set of variable names referenced by the expression.
func (e *Expr) Vars() []string { return e.vars }

// Eval evaluates the expression with the given variable bindings. Every
// variable reported by Vars must be present in vars.
func (e *Expr) Eval(vars map[string]float64) (float64, error) {
	return e.root.eval(vars)
}

// --- AST ---

type node interface {
	eval(vars map[string]float64) (float64, error)
}

type numNode float64

func (n numNode) eval(map[string]float64) (float64, error) { return float64(n), nil }

type varNode string

func (n varNode) eval(vars map[string]float64) (float64, error) {
	v, ok := vars[string(n)]
	if !ok {
		return 0, fmt.Errorf("expr: variable %q has no value", string(n))
	}
	return v, nil
}

type unaryNode struct {
	op    string // "-", "exp", "floor", "ceil"
	child node
}

func (n unaryNode) eval(vars map[string]float64) (float64, error) {
	v, err := n.child.eval(vars)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "-":
		return -v, nil
	case "exp":
		return math.Exp(v), nil
	case "floor":
		return math.Floor(v), nil
	case "ceil":
		return math.Ceil(v), nil
	}
	return 0, fmt.Errorf("expr: unknown function %q", n.op)
}

type binaryNode struct {
	op          string // "+", "-", "*", "/", "^", "min", "max"
	left, right node
}

func (n binaryNode) eval(vars map[string]float64) (float64, error) {
	a, err := n.left.eval(vars)
	if err != nil {
		return 0, err
	}
	b, err := n.right.eval(vars)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		return a / b, nil
	case "^":
		return math.Pow(a, b), nil
	case "min":
		return math.Min(a, b), nil
	case "max":
		return math.Max(a, b), nil
	}
	return 0, fmt.Errorf("expr: unknown operator %q", n.op)
}

// --- Lexer ---

type tokKind int

const (
	tokNum tokKind = iota
	tokIdent
	tokOp    // + - * / ^
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokKind
	text string
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '+' || c == '-' || c == '/':
			toks = append(toks, token{tokOp, string(c)})
			i++
		case c == '*':
			if i+1 < len(src) && src[i+1] == '*' {
				toks = append(toks, token{tokOp, "^"})
				i += 2
			} else {
				toks = append(toks, token{tokOp, "*"})
				i++
			}
		case c == '^':
			toks = append(toks, token{tokOp, "^"})
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			if _, err := strconv.ParseFloat(src[i:j], 64); err != nil {
				return nil, fmt.Errorf("expr: bad number %q", src[i:j])
			}
			toks = append(toks, token{tokNum, src[i:j]})
			i = j
		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, src[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("expr: unexpected character %q", string(c))
		}
	}
	return toks, nil
}

// --- Parser ---
//
// Precedence-climbing with levels: 1 for +/-, 2 for * and /, 3 for ^.
// Exponentiation binds right-to-left, so its right operand is parsed at the
// same level rather than one above.

type parser struct {
	toks []token
	pos  int
	vars map[string]struct{}
}

func (p *parser) eof() bool     { return p.pos >= len(p.toks) }
func (p *parser) peek() token   { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func precedence(op string) int {
	switch op {
	case "+", "-":
		return 1
	case "*", "/":
		return 2
	case "^":
		return 3
	}
	return 0
}

func (p *parser) parseExpr(minPrec int) (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for !p.eof() && p.peek().kind == tokOp {
		op := p.peek().text
		prec := precedence(op)
		if prec < minPrec {
			break
		}
		p.advance()
		next := prec + 1
		if op == "^" {
			next = prec // right-associative
		}
		right, err := p.parseExpr(next)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	if p.eof() {
		return nil, fmt.Errorf("expr: unexpected end of expression")
	}
	t := p.advance()
	switch t.kind {
	case tokOp:
		if t.text != "-" {
			return nil, fmt.Errorf("expr: unexpected operator %q", t.text)
		}
		// Unary minus binds tighter than multiplication but looser than ^,
		// so -x^2 parses as -(x^2).
		child, err := p.parseExpr(3)
		if err != nil {
			return nil, err
		}
		return unaryNode{op: "-", child: child}, nil
	case tokNum:
		v, _ := strconv.ParseFloat(t.text, 64)
		return numNode(v), nil
	case tokIdent:
		if !p.eof() && p.peek().kind == tokLParen {
			return p.parseCall(t.text)
		}
		p.vars[t.text] = struct{}{}
		return varNode(t.text), nil
	case tokLParen:
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, fmt.Errorf("expr: unexpected %q", t.text)
}

func (p *parser) parseCall(name string) (node, error) {
	if err := p.expect(tokLParen); err != nil {
		return nil, err
	}
	first, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	switch name {
	case "exp", "floor", "ceil":
		if err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return unaryNode{op: name, child: first}, nil
	case "min", "max":
		if err := p.expect(tokComma); err != nil {
			return nil, fmt.Errorf("expr: %s requires two arguments", name)
		}
		second, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return binaryNode{op: name, left: first, right: second}, nil
	}
	return nil, fmt.Errorf("expr: unknown function %q", name)
}

func (p *parser) expect(kind tokKind) error {
	if p.eof() || p.peek().kind != kind {
		got := "end of expression"
		if !p.eof() {
			got = fmt.Sprintf("%q", p.peek().text)
		}
		return fmt.Errorf("expr: unexpected %s", got)
	}
	p.advance()
	return nil
}

// Functions lists the reserved function names, which model code names must
// not shadow.
func Functions() []string {
	return []string{"exp", "floor", "ceil", "min", "max"}
}
