// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package optimize implements the three-method Optimizer polymorphism
// described in spec.md Design Note §9 (ask/tell/get_result instead of
// inheritance), grounded on qulab/scan/optimize.py and scan/space.py's
// Optimizer/OptimizeSpace shape. No Bayesian search algorithm (skopt) is
// ported — the planner/iterator only need the interface shape; a
// production search strategy plugs in behind the same Optimizer without
// iterator changes.
package optimize

import (
	"fmt"
	"math"
	"math/rand"
)

// Result is returned by Optimizer.GetResult: the best point found so far
// and its objective value.
type Result struct {
	X     []float64
	Value float64
}

// Optimizer is the ask/tell/get_result interface a loop may bind to
// instead of a plain iterable.
type Optimizer interface {
	// Ask returns the next coordinate to evaluate.
	Ask() ([]float64, error)
	// Tell reports the objective value observed for a previously asked
	// coordinate.
	Tell(x []float64, value float64) error
	// GetResult returns the best (point, value) pair seen so far.
	GetResult() (Result, error)
}

// Config mirrors spec.md §3 Optimizer config: {dimensions, factory,
// maxiter, minimize?}.
type Config struct {
	Dimensions []Dimension
	Factory    func(dims []Dimension) (Optimizer, error)
	MaxIter    int
	Minimize   bool
}

// Dimension bounds one coordinate of the search space.
type Dimension struct {
	Name string
	Low  float64
	High float64
}

// Create instantiates the optimizer for this loop via its factory.
func (c Config) Create() (Optimizer, error) {
	if c.Factory == nil {
		return nil, fmt.Errorf("optimize: config has no factory")
	}
	return c.Factory(c.Dimensions)
}

// NewRandomSearch returns a Factory producing a minimal random-search
// Optimizer: Ask draws uniformly within each dimension's bounds, Tell
// just tracks the best point seen, GetResult returns it — sufficient to
// exercise the ask/tell/get_result contract end to end.
func NewRandomSearch(minimize bool, rng *rand.Rand) func(dims []Dimension) (Optimizer, error) {
	return func(dims []Dimension) (Optimizer, error) {
		if len(dims) == 0 {
			return nil, fmt.Errorf("optimize: random search requires at least one dimension")
		}
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		return &randomSearch{dims: dims, minimize: minimize, rng: rng, bestValue: initialBest(minimize)}, nil
	}
}

func initialBest(minimize bool) float64 {
	if minimize {
		return math.Inf(1)
	}
	return math.Inf(-1)
}

type randomSearch struct {
	dims      []Dimension
	minimize  bool
	rng       *rand.Rand
	lastAsk   []float64
	bestX     []float64
	bestValue float64
	haveBest  bool
}

func (r *randomSearch) Ask() ([]float64, error) {
	x := make([]float64, len(r.dims))
	for i, d := range r.dims {
		x[i] = d.Low + r.rng.Float64()*(d.High-d.Low)
	}
	r.lastAsk = x
	return x, nil
}

func (r *randomSearch) Tell(x []float64, value float64) error {
	better := !r.haveBest
	if r.haveBest {
		if r.minimize {
			better = value < r.bestValue
		} else {
			better = value > r.bestValue
		}
	}
	if better {
		r.bestX = append([]float64(nil), x...)
		r.bestValue = value
		r.haveBest = true
	}
	return nil
}

func (r *randomSearch) GetResult() (Result, error) {
	if !r.haveBest {
		return Result{}, fmt.Errorf("optimize: no feedback received yet")
	}
	return Result{X: r.bestX, Value: r.bestValue}, nil
}
