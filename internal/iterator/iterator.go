// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package iterator implements the nested scan generator described in
// spec.md §4.3, grounded on qulab/scan/scan_iter.py's level-by-level
// opening and qulab/scan/scanner.py's optimizer/filter wiring. It walks a
// planner.Plan, opens one loop level at a time, evaluates each level's
// ready groups of functions, drains optimizer feedback, and reports one
// Step per Cartesian position via a callback — the Go analogue of the
// Python generator, following the stdlib's visitor idiom (filepath.WalkDir)
// rather than a channel/goroutine pipeline, since the recursion is
// strictly single-threaded and cooperative per the concurrency model.
package iterator

import (
	"fmt"
	"sort"

	"github.com/scanrec/scanrec/internal/optimize"
	"github.com/scanrec/scanrec/internal/planner"
)

// Kind distinguishes a real data Step from a level Begin/End marker.
type Kind int

const (
	KindStep Kind = iota
	KindBegin
	KindEnd
)

// Step is one emission from the iterator (spec.md §3).
type Step struct {
	Kind      Kind
	Level     int // meaningful for Begin/End; for KindStep it is the deepest level
	Iteration int
	Pos       []int
	Index     []int
	Kwds      map[string]any
	Vars      []string
	Unchanged int
}

// Sequence is a materialized per-level generator: repeated Next calls
// return one value (or, for a parallel-tuple loop, a slice of len(Names))
// until exhausted.
type Sequence interface {
	Next() (any, bool, error)
}

// SequenceFactory instantiates a Sequence given the variables bound so
// far, mirroring "calling each callable iter with the current kwds".
type SequenceFactory func(kwds map[string]any) (Sequence, error)

// Feedback is one (point, objective) pair destined for an optimizer's Tell.
type Feedback struct {
	X     []float64
	Value float64
}

// FeedbackPipe is drained once per innermost-level point (whether the filter
// keeps it or not) and its contents forwarded to the loop's optimizer via
// Tell.
type FeedbackPipe interface {
	Drain() []Feedback
}

// LoopDef declares one loops-map entry. Exactly one of NewSequence or
// Optimizer must be set.
type LoopDef struct {
	Names       []string
	NewSequence SequenceFactory
	Optimizer   *optimize.Config
	Feedback    FeedbackPipe
}

// FuncDef declares a derived variable, evaluated once per ready group.
type FuncDef struct {
	Name string
	Eval func(kwds map[string]any) (any, error)
}

// ConstDef declares a scan-wide constant, bound once before the scan.
type ConstDef struct {
	Name  string
	Value any
}

// Pool evaluates the members of one ready group, possibly in parallel.
// A nil Pool makes the iterator evaluate sequentially.
type Pool interface {
	EvalGroup(fns map[string]func() (any, error)) (map[string]any, error)
}

// Config bundles everything the iterator needs for one scan.
type Config struct {
	Plan        *planner.Plan
	Loops       []*LoopDef
	Funcs       map[string]*FuncDef
	Consts      []ConstDef
	Filter      func(kwds map[string]any) (bool, error)
	LevelMarker bool
	Pool        Pool
}

// sequentialPool runs every member of a ready group in sorted name order.
type sequentialPool struct{}

func (sequentialPool) EvalGroup(fns map[string]func() (any, error)) (map[string]any, error) {
	out := make(map[string]any, len(fns))
	names := make([]string, 0, len(fns))
	for n := range fns {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		v, err := fns[n]()
		if err != nil {
			return nil, fmt.Errorf("iterator: evaluating %q: %w", n, err)
		}
		out[n] = v
	}
	return out, nil
}

type optimizerState struct {
	loop *LoopDef
	opt  optimize.Optimizer
}

// run carries the mutable state of one in-progress scan walk.
type run struct {
	cfg      *Config
	pool     Pool
	yield    func(Step) error
	kwds     map[string]any
	pos      []int
	prevPos  []int
	havePrev bool
	iter     int
	active   []*optimizerState
	levelLoops map[int][]*LoopDef
	maxLevel   int
}

// Run walks the scan described by cfg, invoking yield once per Step (and,
// if cfg.LevelMarker is set, once per level Begin/End). yield returning an
// error aborts the walk and the error is propagated to the caller.
func Run(cfg *Config, yield func(Step) error) error {
	if cfg.Plan == nil {
		return fmt.Errorf("iterator: config has no plan")
	}
	pool := cfg.Pool
	if pool == nil {
		pool = sequentialPool{}
	}

	r := &run{
		cfg:        cfg,
		pool:       pool,
		yield:      yield,
		kwds:       map[string]any{},
		pos:        make([]int, cfg.Plan.MaxLevel+1),
		levelLoops: map[int][]*LoopDef{},
		maxLevel:   cfg.Plan.MaxLevel,
	}

	for _, c := range cfg.Consts {
		r.kwds[c.Name] = c.Value
	}
	for _, l := range cfg.Loops {
		lvl := cfg.Plan.Levels[l.Names[0]]
		r.levelLoops[lvl] = append(r.levelLoops[lvl], l)
	}

	// Level -1 (compute-once) loops and functions run before any nested
	// level opens.
	for _, l := range r.levelLoops[-1] {
		if err := r.drainOnceLoop(l); err != nil {
			return err
		}
	}
	if err := r.evalFuncsAtLevel(-1); err != nil {
		return err
	}

	if r.maxLevel < 0 {
		// No leveled loops at all: emit exactly one step (the level -1 body).
		return r.emitLeaf()
	}
	return r.openLevel(0)
}

// drainOnceLoop fully consumes a level -1 loop into a single bound value
// (callable loops that close over no loop names execute exactly once).
func (r *run) drainOnceLoop(l *LoopDef) error {
	seq, err := l.NewSequence(snapshot(r.kwds))
	if err != nil {
		return err
	}
	v, ok, err := seq.Next()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("iterator: level -1 loop %v produced no value", l.Names)
	}
	tuple, err := asTuple(v, len(l.Names))
	if err != nil {
		return err
	}
	for i, name := range l.Names {
		r.kwds[name] = tuple[i]
	}
	return nil
}

func (r *run) evalFuncsAtLevel(level int) error {
	for _, group := range r.cfg.Plan.Order[level] {
		fns := map[string]func() (any, error){}
		for _, name := range group {
			fd, ok := r.cfg.Funcs[name]
			if !ok {
				continue // sentinel or loop name, not a function
			}
			f := fd
			fns[name] = func() (any, error) { return f.Eval(snapshot(r.kwds)) }
		}
		if len(fns) == 0 {
			continue
		}
		results, err := r.pool.EvalGroup(fns)
		if err != nil {
			return err
		}
		for name, v := range results {
			r.kwds[name] = v
		}
	}
	return nil
}

func (r *run) openLevel(level int) error {
	loops := r.levelLoops[level]

	seqs := make([]Sequence, len(loops))
	pushed := 0
	for i, l := range loops {
		if l.Optimizer != nil {
			opt, err := l.Optimizer.Create()
			if err != nil {
				return err
			}
			r.active = append(r.active, &optimizerState{loop: l, opt: opt})
			pushed++
			seqs[i] = newOptimizerSequence(opt, l.Optimizer.MaxIter)
			continue
		}
		seq, err := l.NewSequence(snapshot(r.kwds))
		if err != nil {
			return err
		}
		seqs[i] = seq
	}
	defer func() {
		r.active = r.active[:len(r.active)-pushed]
	}()

	if r.cfg.LevelMarker {
		if err := r.yield(Step{Kind: KindBegin, Level: level, Iteration: r.iter}); err != nil {
			return err
		}
	}

	idx := 0
	for {
		allOK := true
		values := make([][]any, len(loops))
		for i, seq := range seqs {
			if seq == nil {
				allOK = false
				break
			}
			v, ok, err := seq.Next()
			if err != nil {
				return fmt.Errorf("iterator: level %d loop %v: %w", level, loops[i].Names, err)
			}
			if !ok {
				allOK = false
				break
			}
			tuple, err := asTuple(v, len(loops[i].Names))
			if err != nil {
				return err
			}
			values[i] = tuple
		}
		if !allOK {
			break
		}

		for i, l := range loops {
			for j, name := range l.Names {
				r.kwds[name] = values[i][j]
			}
		}
		r.pos[level] = idx

		if err := r.evalFuncsAtLevel(level); err != nil {
			return err
		}

		var err error
		if level == r.maxLevel {
			err = r.emitLeaf()
		} else {
			err = r.openLevel(level + 1)
		}
		if err != nil {
			return err
		}

		idx++
	}

	if r.cfg.LevelMarker {
		if err := r.yield(Step{Kind: KindEnd, Level: level, Iteration: r.iter}); err != nil {
			return err
		}
	}
	return nil
}

// emitLeaf applies the filter, computes pos/index/unchanged bookkeeping,
// yields the Step, and drains every active optimizer's feedback pipe.
func (r *run) emitLeaf() error {
	keep := true
	if r.cfg.Filter != nil {
		var err error
		keep, err = r.cfg.Filter(snapshot(r.kwds))
		if err != nil {
			return fmt.Errorf("iterator: filter: %w", err)
		}
	}

	if keep {
		pos := append([]int(nil), r.pos...)
		unchanged := -1
		if r.havePrev {
			for i := 0; i < len(pos) && i < len(r.prevPos); i++ {
				if pos[i] != r.prevPos[i] {
					break
				}
				unchanged = i
			}
		}
		index := make([]int, len(pos))
		for j := range pos {
			if j > unchanged {
				index[j] = pos[j]
			}
		}

		r.iter++
		step := Step{
			Kind:      KindStep,
			Level:     r.maxLevel,
			Iteration: r.iter,
			Pos:       pos,
			Index:     index,
			Kwds:      snapshot(r.kwds),
			Unchanged: unchanged,
		}
		if err := r.yield(step); err != nil {
			return err
		}
		r.prevPos = pos
		r.havePrev = true
	}

	for _, st := range r.active {
		for _, fb := range st.loop.drainSafe() {
			if err := st.opt.Tell(fb.X, fb.Value); err != nil {
				return fmt.Errorf("iterator: optimizer tell: %w", err)
			}
		}
	}
	return nil
}

func (l *LoopDef) drainSafe() []Feedback {
	if l.Feedback == nil {
		return nil
	}
	return l.Feedback.Drain()
}

type optimizerSequence struct {
	opt     optimize.Optimizer
	maxIter int
	count   int
}

func newOptimizerSequence(opt optimize.Optimizer, maxIter int) Sequence {
	return &optimizerSequence{opt: opt, maxIter: maxIter}
}

func (s *optimizerSequence) Next() (any, bool, error) {
	if s.maxIter <= 0 || s.count >= s.maxIter {
		return nil, false, nil
	}
	s.count++
	if s.count == s.maxIter {
		res, err := s.opt.GetResult()
		if err != nil {
			return nil, false, err
		}
		return toAnySlice(res.X), true, nil
	}
	x, err := s.opt.Ask()
	if err != nil {
		return nil, false, err
	}
	return toAnySlice(x), true, nil
}

func toAnySlice(xs []float64) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

// asTuple normalizes one Sequence value into a slice of length n, the
// arity of the loop's Names. A single-name loop accepts a bare scalar.
func asTuple(v any, n int) ([]any, error) {
	if n == 1 {
		if tuple, ok := v.([]any); ok {
			if len(tuple) != 1 {
				return nil, fmt.Errorf("iterator: expected 1-tuple, got %d elements", len(tuple))
			}
			return tuple, nil
		}
		return []any{v}, nil
	}
	tuple, ok := v.([]any)
	if !ok || len(tuple) != n {
		return nil, fmt.Errorf("iterator: parallel-tuple loop expects %d-tuple, got %T", n, v)
	}
	return tuple, nil
}

func snapshot(kwds map[string]any) map[string]any {
	out := make(map[string]any, len(kwds))
	for k, v := range kwds {
		out[k] = v
	}
	return out
}
