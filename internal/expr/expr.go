// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package expr implements the symbolic expression tree used for derived
// scan variables and filters. Construction applies algebraic identities
// eagerly; evaluation of a fully-bound expression is delegated to
// expr-lang/expr rather than hand-rolled, so arithmetic, string and method
// semantics match a real, tested expression language instead of a
// bespoke evaluator.
package expr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// Kind tags the node variants of Expr: Const | Symbol | Query |
// Unary(op, Expr) | Binary(op, Expr, Expr) | Method(obj, name, args...).
type Kind int

const (
	KindConst Kind = iota
	KindSymbol
	KindQuery
	KindUnary
	KindBinary
	KindMethod
)

// Expr is the symbolic expression tree. Leaves are Const/Symbol/Query;
// inner nodes are Unary/Binary operator applications or ObjectMethod
// calls. free-symbol names are cached at construction.
type Expr struct {
	kind Kind

	constVal any
	name     string // Symbol or Query name
	op       string // Unary/Binary operator
	method   string // Method name

	a, b *Expr   // Unary: a only. Binary: a, b. Method: a is the object.
	args []*Expr // Method arguments

	symbolCache []string
}

func Const(v any) *Expr {
	return &Expr{kind: KindConst, constVal: v}
}

func Symbol(name string) *Expr {
	return &Expr{kind: KindSymbol, name: name, symbolCache: []string{name}}
}

// Query is a prefix-dotted cross-reference into the config tree, e.g.
// "a.b.c". It behaves like a Symbol for dependency purposes but renders
// differently when compiled to expr-lang source.
func Query(name string) *Expr {
	return &Expr{kind: KindQuery, name: name, symbolCache: []string{name}}
}

// Unary builds a unary application, applying the algebraic identities
// construction must not skip (spec.md §4.1): none apply to a bare unary
// minus/not over a non-const operand, so this is mostly identity
// propagation when the operand is already Const.
func Unary(op string, a *Expr) *Expr {
	if a.kind == KindConst {
		if v, err := evalConstExpr(fmt.Sprintf("%s(%s)", unaryFuncName(op), constLiteral(a.constVal))); err == nil {
			return Const(v)
		}
	}
	return &Expr{kind: KindUnary, op: op, a: a, symbolCache: a.symbols()}
}

// Binary builds a binary application, applying the standard algebraic
// identities at construction time: 0+x→x, x+0→x, 1*x→x, x*1→x, x**0→1,
// x**1→x, 0*x→0 (only when x has no side effects, which holds here since
// Expr trees are pure).
func Binary(op string, a, b *Expr) *Expr {
	if simplified := simplifyBinary(op, a, b); simplified != nil {
		return simplified
	}
	if a.kind == KindConst && b.kind == KindConst {
		src := fmt.Sprintf("%s %s %s", constLiteral(a.constVal), op, constLiteral(b.constVal))
		if v, err := evalConstExpr(src); err == nil {
			return Const(v)
		}
	}
	return &Expr{kind: KindBinary, op: op, a: a, b: b, symbolCache: mergeSymbols(a.symbols(), b.symbols())}
}

func simplifyBinary(op string, a, b *Expr) *Expr {
	switch op {
	case "+":
		if isConstZero(a) {
			return b
		}
		if isConstZero(b) {
			return a
		}
	case "*":
		if isConstOne(a) {
			return b
		}
		if isConstOne(b) {
			return a
		}
		if isConstZero(a) || isConstZero(b) {
			return Const(0)
		}
	case "**":
		if isConstZero(b) {
			return Const(1)
		}
		if isConstOne(b) {
			return a
		}
	case "-":
		if isConstZero(b) {
			return a
		}
	}
	return nil
}

func isConstZero(e *Expr) bool {
	if e.kind != KindConst {
		return false
	}
	return numericEquals(e.constVal, 0)
}

func isConstOne(e *Expr) bool {
	if e.kind != KindConst {
		return false
	}
	return numericEquals(e.constVal, 1)
}

func numericEquals(v any, n float64) bool {
	switch x := v.(type) {
	case int:
		return float64(x) == n
	case int64:
		return float64(x) == n
	case float64:
		return x == n
	}
	return false
}

// Method builds an ObjectMethod(obj, name, args...) node.
func Method(obj *Expr, name string, args ...*Expr) *Expr {
	syms := obj.symbols()
	for _, arg := range args {
		syms = mergeSymbols(syms, arg.symbols())
	}
	return &Expr{kind: KindMethod, a: obj, method: name, args: args, symbolCache: syms}
}

// Symbols returns the free symbol/query names reachable from this node,
// deduplicated and sorted for determinism.
func (e *Expr) Symbols() []string {
	return append([]string(nil), e.symbols()...)
}

func (e *Expr) symbols() []string {
	return e.symbolCache
}

func mergeSymbols(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Eval performs one-shot evaluation against env. An expression with no
// free symbols evaluates to a concrete value; otherwise a residual Expr
// (with bound leaves substituted) is returned.
func (e *Expr) Eval(env *Env) (*Expr, error) {
	switch e.kind {
	case KindConst:
		return e, nil
	case KindSymbol, KindQuery:
		if v, ok, err := env.Read(e.name); err != nil {
			return nil, err
		} else if ok {
			return Const(v), nil
		}
		return e, nil
	case KindUnary:
		a, err := e.a.Eval(env)
		if err != nil {
			return nil, err
		}
		return Unary(e.op, a), nil
	case KindBinary:
		a, err := e.a.Eval(env)
		if err != nil {
			return nil, err
		}
		b, err := e.b.Eval(env)
		if err != nil {
			return nil, err
		}
		return Binary(e.op, a, b), nil
	case KindMethod:
		obj, err := e.a.Eval(env)
		if err != nil {
			return nil, err
		}
		args := make([]*Expr, len(e.args))
		for i, arg := range e.args {
			a, err := arg.Eval(env)
			if err != nil {
				return nil, err
			}
			args[i] = a
		}
		if obj.kind == KindConst && allConst(args) {
			return evalMethod(obj, e.method, args)
		}
		return Method(obj, e.method, args...), nil
	}
	return nil, fmt.Errorf("expr: unknown kind %d", e.kind)
}

func allConst(args []*Expr) bool {
	for _, a := range args {
		if a.kind != KindConst {
			return false
		}
	}
	return true
}

func evalMethod(obj *Expr, method string, args []*Expr) (*Expr, error) {
	var sb strings.Builder
	sb.WriteString(constLiteral(obj.constVal))
	sb.WriteByte('.')
	sb.WriteString(method)
	sb.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(constLiteral(a.constVal))
	}
	sb.WriteByte(')')
	v, err := evalConstExpr(sb.String())
	if err != nil {
		return nil, err
	}
	return Const(v), nil
}

// Value returns the memoized evaluation of e against env, recomputing
// only when a depended-on name has changed since the last call.
func (e *Expr) Value(env *Env) (any, error) {
	key := e.memoKey()
	gen := env.generation(e.symbols())
	if cached, ok := env.memo[key]; ok && cached.gen == gen {
		return cached.val, nil
	}

	res, err := e.Eval(env)
	if err != nil {
		return nil, err
	}
	if res.kind != KindConst {
		return nil, fmt.Errorf("expr: value: unresolved free symbols %v", res.symbols())
	}
	env.memo[key] = memoEntry{gen: gen, val: res.constVal}
	return res.constVal, nil
}

func (e *Expr) memoKey() string {
	return fmt.Sprintf("%p", e)
}

// compileSource renders e to expr-lang source, for leaves that are
// already fully bound (used by Method's numeric fallback and by the
// planner/iterator when evaluating derived functions expressed as
// Expr trees directly against a kwds map via expr-lang, rather than one
// symbol at a time through Eval).
func (e *Expr) compileSource() string {
	switch e.kind {
	case KindConst:
		return constLiteral(e.constVal)
	case KindSymbol, KindQuery:
		return e.name
	case KindUnary:
		return fmt.Sprintf("(%s(%s))", unaryFuncName(e.op), e.a.compileSource())
	case KindBinary:
		return fmt.Sprintf("(%s %s %s)", e.a.compileSource(), e.op, e.b.compileSource())
	case KindMethod:
		args := make([]string, len(e.args))
		for i, a := range e.args {
			args[i] = a.compileSource()
		}
		return fmt.Sprintf("%s.%s(%s)", e.a.compileSource(), e.method, strings.Join(args, ","))
	}
	return ""
}

func unaryFuncName(op string) string {
	switch op {
	case "-":
		return "__neg"
	case "!", "not":
		return "!"
	}
	return op
}

func constLiteral(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// evalConstExpr evaluates a fully-concrete expr-lang source snippet.
// "__neg" is the only custom function const folding needs; expr-lang's
// own builtins cover the rest.
func evalConstExpr(src string) (any, error) {
	env := map[string]any{"__neg": func(x float64) float64 { return -x }}
	return expr.Eval(src, env)
}

// Compile renders e to expr-lang source and compiles it once; callers
// that evaluate the same derived-variable body many times (once per scan
// iteration) should Compile once and Run repeatedly instead of calling
// Value per iteration.
func (e *Expr) Compile() (*CompiledExpr, error) {
	src := e.compileSource()
	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("expr: compile %q: %w", src, err)
	}
	return &CompiledExpr{program: program, symbols: e.symbols()}, nil
}
