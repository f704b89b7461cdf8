// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package expr

import (
	"fmt"

	"github.com/expr-lang/expr/vm"
)

type memoEntry struct {
	gen uint64
	val any
}

// Env holds constants, variables, a ref-chain map, and an allowed
// function registry (spec.md §4.1). Writes to const names are rejected;
// reads follow ref chains to their root; writes through a ref target the
// chain's root.
type Env struct {
	values    map[string]any
	consts    map[string]bool
	refs      map[string]string
	functions map[string]any

	memo map[string]memoEntry
	// generation counts writes per name, so Expr.Value can detect that a
	// depended-on name changed since the memoized evaluation.
	generations map[string]uint64
	genCounter  uint64
}

func NewEnv() *Env {
	return &Env{
		values:      map[string]any{},
		consts:      map[string]bool{},
		refs:        map[string]string{},
		functions:   map[string]any{},
		memo:        map[string]memoEntry{},
		generations: map[string]uint64{},
	}
}

// SetConst binds name to value and marks it immutable.
func (e *Env) SetConst(name string, value any) {
	e.values[name] = value
	e.consts[name] = true
	e.bump(name)
}

// Ref makes name a reference: reads of name resolve target's value, and
// writes to name are redirected to target.
func (e *Env) Ref(name, target string) {
	e.refs[name] = target
}

func (e *Env) root(name string) string {
	seen := map[string]bool{}
	for {
		target, ok := e.refs[name]
		if !ok || seen[name] {
			return name
		}
		seen[name] = true
		name = target
	}
}

// Write sets name's value, following any ref chain to its root and
// rejecting writes to a const-marked name.
func (e *Env) Write(name string, value any) error {
	root := e.root(name)
	if e.consts[root] {
		return fmt.Errorf("expr: cannot write to const %q", root)
	}
	e.values[root] = value
	e.bump(root)
	return nil
}

// Read returns name's value (following ref chains), whether it was bound.
func (e *Env) Read(name string) (any, bool, error) {
	root := e.root(name)
	v, ok := e.values[root]
	return v, ok, nil
}

func (e *Env) bump(name string) {
	e.genCounter++
	e.generations[name] = e.genCounter
}

// generation returns a combined change-counter over the given symbol
// names, used to invalidate Expr.Value's memo cache.
func (e *Env) generation(names []string) uint64 {
	var max uint64
	for _, n := range names {
		if g := e.generations[e.root(n)]; g > max {
			max = g
		}
	}
	return max
}

// RegisterFunction exposes fn under name to compiled expressions'
// ObjectMethod/function-call nodes.
func (e *Env) RegisterFunction(name string, fn any) {
	e.functions[name] = fn
}

// AsMap renders the currently-bound values (following ref chains) into a
// flat map suitable as an expr-lang evaluation environment.
func (e *Env) AsMap() map[string]any {
	out := make(map[string]any, len(e.values)+len(e.functions))
	for k := range e.values {
		out[k] = e.values[e.root(k)]
	}
	for k, fn := range e.functions {
		out[k] = fn
	}
	return out
}

// CompiledExpr is an Expr rendered to expr-lang byte code, ready to be run
// repeatedly against different environments without recompiling.
type CompiledExpr struct {
	program *vm.Program
	symbols []string
}

// Symbols returns the free names the compiled expression depends on.
func (c *CompiledExpr) Symbols() []string { return c.symbols }

// Run evaluates the compiled expression against env's currently bound
// values.
func (c *CompiledExpr) Run(env *Env) (any, error) {
	return vm.Run(c.program, env.AsMap())
}
