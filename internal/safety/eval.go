package safety

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"
	"strings"
)

// Evaluation errors. Callers branch with errors.Is.
var (
	ErrRejected       = errors.New("expression rejected")
	ErrDivisionByZero = errors.New("division by zero")
	ErrDomain         = errors.New("domain error")
	ErrOverflow       = errors.New("result out of range")
)

var evalFuncs = map[string]func(float64) (float64, error){
	"sqrt": func(x float64) (float64, error) {
		if x < 0 {
			return 0, fmt.Errorf("%w: sqrt of negative number", ErrDomain)
		}
		return math.Sqrt(x), nil
	},
	"sin": func(x float64) (float64, error) { return math.Sin(x), nil },
	"cos": func(x float64) (float64, error) { return math.Cos(x), nil },
	"tan": func(x float64) (float64, error) { return math.Tan(x), nil },
	"abs": func(x float64) (float64, error) { return math.Abs(x), nil },
	"exp": func(x float64) (float64, error) { return math.Exp(x), nil },
	"log": func(x float64) (float64, error) {
		if x <= 0 {
			return 0, fmt.Errorf("%w: log of non-positive number", ErrDomain)
		}
		return math.Log(x), nil
	},
	"log2": func(x float64) (float64, error) {
		if x <= 0 {
			return 0, fmt.Errorf("%w: log2 of non-positive number", ErrDomain)
		}
		return math.Log2(x), nil
	},
	"log10": func(x float64) (float64, error) {
		if x <= 0 {
			return 0, fmt.Errorf("%w: log10 of non-positive number", ErrDomain)
		}
		return math.Log10(x), nil
	},
	"floor": func(x float64) (float64, error) { return math.Floor(x), nil },
	"ceil":  func(x float64) (float64, error) { return math.Ceil(x), nil },
}

// Evaluator computes arithmetic expressions without ever handing the input
// to a general-purpose execution facility. The string is parsed into an
// expression tree and only an explicit allowlist of node kinds is walked:
// numeric literals, the four arithmetic operators, parentheses,
// exponentiation and a fixed set of unary math functions.
type Evaluator struct {
	maxMagnitude float64
}

// NewEvaluator builds an evaluator; maxMagnitude bounds the absolute value
// of any intermediate or final result.
func NewEvaluator(maxMagnitude float64) *Evaluator {
	if maxMagnitude <= 0 {
		maxMagnitude = 1e10
	}
	return &Evaluator{maxMagnitude: maxMagnitude}
}

// Evaluate parses and computes expr.
func (e *Evaluator) Evaluate(expr string) (float64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, fmt.Errorf("%w: empty expression", ErrRejected)
	}
	// Accept the common ** spelling for exponentiation.
	expr = strings.ReplaceAll(expr, "**", "^")

	node, err := parser.ParseExpr(expr)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	node = normalizePow(node)

	v, err := e.eval(node)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) {
		return 0, fmt.Errorf("%w: result is not a number", ErrDomain)
	}
	if math.IsInf(v, 0) || math.Abs(v) > e.maxMagnitude {
		return 0, ErrOverflow
	}
	return v, nil
}

// IsArithmetic reports whether expr looks like a pure arithmetic expression
// the evaluator could answer (digits and operators only, no letters outside
// the function allowlist).
func (e *Evaluator) IsArithmetic(expr string) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false
	}
	for _, r := range expr {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			// Letters are fine only when the whole thing still evaluates.
			_, err := e.Evaluate(expr)
			return err == nil
		}
	}
	if !strings.ContainsAny(expr, "0123456789") {
		return false
	}
	_, err := e.Evaluate(expr)
	return err == nil
}

// normalizePow rebinds exponentiation to its conventional precedence.
// The parser gives ^ the precedence of addition, so "2^3*4" arrives as
// 2^(3*4) and "2+3^2" as (2+3)^2; exponent must bind tighter than every
// other operator (including a leading minus) and associate to the right.
// Explicit parentheses survive as ParenExpr nodes and are never touched.
func normalizePow(node ast.Expr) ast.Expr {
	switch n := node.(type) {
	case *ast.ParenExpr:
		n.X = normalizePow(n.X)
		return n
	case *ast.UnaryExpr:
		n.X = normalizePow(n.X)
		return n
	case *ast.CallExpr:
		for i := range n.Args {
			n.Args[i] = normalizePow(n.Args[i])
		}
		return n
	case *ast.BinaryExpr:
		n.X = normalizePow(n.X)
		n.Y = normalizePow(n.Y)
		if n.Op != token.XOR {
			return n
		}
		if l, ok := n.X.(*ast.BinaryExpr); ok {
			// "a op b ^ c" parsed as (a op b)^c; rebuild as a op (b^c).
			// The rebuilt node can still hold a stolen right operand
			// (e.g. a^b^c*d), so it is normalised again.
			n.X = l.Y
			l.Y = normalizePow(n)
			return normalizePow(l)
		}
		if u, ok := n.X.(*ast.UnaryExpr); ok && u.Op == token.SUB {
			// "-a ^ b" parsed as (-a)^b; rebuild as -(a^b).
			n.X = u.X
			u.X = normalizePow(n)
			return u
		}
		if r, ok := n.Y.(*ast.BinaryExpr); ok && r.Op != token.XOR {
			// "a ^ b op c" parsed as a^(b op c); rebuild as (a^b) op c.
			n.Y = r.X
			r.X = normalizePow(n)
			return r
		}
		return n
	default:
		return node
	}
}

func (e *Evaluator) eval(node ast.Expr) (float64, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return 0, fmt.Errorf("%w: literal %q not numeric", ErrRejected, n.Value)
		}
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad number %q", ErrRejected, n.Value)
		}
		return v, nil

	case *ast.ParenExpr:
		return e.eval(n.X)

	case *ast.UnaryExpr:
		v, err := e.eval(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.SUB:
			return -v, nil
		case token.ADD:
			return v, nil
		default:
			return 0, fmt.Errorf("%w: unary operator %s", ErrRejected, n.Op)
		}

	case *ast.BinaryExpr:
		left, err := e.eval(n.X)
		if err != nil {
			return 0, err
		}
		right, err := e.eval(n.Y)
		if err != nil {
			return 0, err
		}
		return e.binary(n.Op, left, right)

	case *ast.CallExpr:
		ident, ok := n.Fun.(*ast.Ident)
		if !ok {
			return 0, fmt.Errorf("%w: only plain function calls allowed", ErrRejected)
		}
		fn, ok := evalFuncs[strings.ToLower(ident.Name)]
		if !ok {
			return 0, fmt.Errorf("%w: unknown function %q", ErrRejected, ident.Name)
		}
		if len(n.Args) != 1 {
			return 0, fmt.Errorf("%w: %s takes exactly one argument", ErrRejected, ident.Name)
		}
		arg, err := e.eval(n.Args[0])
		if err != nil {
			return 0, err
		}
		return fn(arg)

	default:
		return 0, fmt.Errorf("%w: construct %T not allowed", ErrRejected, node)
	}
}

func (e *Evaluator) binary(op token.Token, left, right float64) (float64, error) {
	switch op {
	case token.ADD:
		return left + right, nil
	case token.SUB:
		return left - right, nil
	case token.MUL:
		return left * right, nil
	case token.QUO:
		if right == 0 {
			return 0, ErrDivisionByZero
		}
		return left / right, nil
	case token.REM:
		if right == 0 {
			return 0, ErrDivisionByZero
		}
		return math.Mod(left, right), nil
	case token.XOR: // spelled ^ (or **) in the input grammar
		v := math.Pow(left, right)
		if math.IsNaN(v) {
			return 0, fmt.Errorf("%w: invalid exponentiation", ErrDomain)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("%w: operator %s not allowed", ErrRejected, op)
	}
}
