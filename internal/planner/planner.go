// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package planner builds the dependency DAG described in spec.md §4.2
// from a scan's loop, function and constant declarations, and produces a
// per-level topological group order plus each variable's axis.
//
// Grounded on qulab/scan/scan_iter.py's level/dependency bookkeeping;
// no available graph library is sized for a few dozen short-lived nodes
// rebuilt once per scan assembly, so the graph itself is a small
// hand-rolled Kahn's-algorithm topological sort (see DESIGN.md).
package planner

import (
	"fmt"
	"sort"
)

// LoopSpec declares one entry in the scan's loops map. Names has more
// than one element for a parallel-tuple (zip-style) binding.
type LoopSpec struct {
	Names     []string
	DependsOn []string // names (usually other loop vars) this loop's generator factory closes over
}

// FuncSpec declares a derived variable. DependsOn is inferred from the
// function's signature or its Expr's free symbols by the caller.
type FuncSpec struct {
	Name      string
	DependsOn []string
}

// ConstSpec declares a scan-wide constant.
type ConstSpec struct {
	Name string
}

// Plan is the planner's output: §4.2(a) ready groups per level, §4.2(b)
// the level assigned to every loop/function, §4.2(c) each variable's axis.
type Plan struct {
	// Levels maps every loop/function/constant name to its assigned
	// level. Level -1 means "compute once before the scan".
	Levels map[string]int

	// Order maps level -> ordered list of ready groups; each group is
	// the set of names computable in parallel once earlier groups (and
	// earlier levels) have been evaluated.
	Order map[int][][]string

	// Axis maps every variable name to the sorted tuple of levels
	// reachable from its dependency closure, intersected with 0..MaxLevel.
	Axis map[string][]int

	MaxLevel int
}

func sentinel(level int) string { return fmt.Sprintf("#loop_%d", level) }

// Build constructs the Plan. A cycle among functions is reported as an
// error, per spec.md §4.2 ("a fatal error reported before the scan
// starts").
func Build(loops []LoopSpec, funcs []FuncSpec, consts []ConstSpec) (*Plan, error) {
	levels := map[string]int{}

	// Assign loop levels: every declared loop is a real nesting level,
	// consecutive in declaration order. DependsOn never changes a loop's
	// own level — it only adds graph edges below, so a function or a
	// deeper loop waits for the right value before it runs.
	nextLevel := 0
	loopLevelOf := make([]int, len(loops))
	for i, l := range loops {
		lvl := nextLevel
		nextLevel++
		loopLevelOf[i] = lvl
		for _, n := range l.Names {
			levels[n] = lvl
		}
	}
	maxLevel := nextLevel - 1

	for _, c := range consts {
		levels[c.Name] = -1
	}

	// Functions are classified by the highest level of any name they
	// depend on.
	for _, f := range funcs {
		lvl := -1
		for _, dep := range f.DependsOn {
			if dl, ok := levels[dep]; ok && dl > lvl {
				lvl = dl
			}
		}
		levels[f.Name] = lvl
	}

	g := newGraph()
	for i, l := range loops {
		lvl := loopLevelOf[i]
		for _, n := range l.Names {
			g.addNode(n)
			if lvl > 0 {
				g.addEdge(sentinel(lvl-1), n) // n depends on #loop_{lvl-1}
			}
			for _, dep := range l.DependsOn {
				g.addEdge(dep, n)
			}
		}
		if lvl >= 0 {
			sn := sentinel(lvl)
			g.addNode(sn)
			for _, n := range l.Names {
				g.addEdge(n, sn) // sentinel depends on its loop variables
			}
		}
	}
	for _, c := range consts {
		g.addNode(c.Name)
	}
	for _, f := range funcs {
		g.addNode(f.Name)
		for _, dep := range f.DependsOn {
			g.addNode(dep)
			g.addEdge(dep, f.Name)
		}
	}

	groupsByLevel, err := g.topologicalGroupsByLevel(levels)
	if err != nil {
		return nil, err
	}

	axis := map[string][]int{}
	for name := range levels {
		axis[name] = g.axisOf(name, levels, maxLevel)
	}

	return &Plan{Levels: levels, Order: groupsByLevel, Axis: axis, MaxLevel: maxLevel}, nil
}

// graph is a simple adjacency-list DAG: edge a->b means "b depends on a",
// i.e. a must be ready before b.
type graph struct {
	nodes    map[string]bool
	deps     map[string]map[string]bool // node -> set of names it depends on
	dependOf map[string]map[string]bool // node -> set of names that depend on it
}

func newGraph() *graph {
	return &graph{
		nodes:    map[string]bool{},
		deps:     map[string]map[string]bool{},
		dependOf: map[string]map[string]bool{},
	}
}

func (g *graph) addNode(n string) {
	if g.nodes[n] {
		return
	}
	g.nodes[n] = true
	g.deps[n] = map[string]bool{}
	g.dependOf[n] = map[string]bool{}
}

func (g *graph) addEdge(dependency, dependent string) {
	g.addNode(dependency)
	g.addNode(dependent)
	g.deps[dependent][dependency] = true
	g.dependOf[dependency][dependent] = true
}

// topologicalGroupsByLevel runs Kahn's algorithm once globally (so
// cross-level sentinel edges are honored) and then buckets each
// discovered ready-group by the level of its members.
func (g *graph) topologicalGroupsByLevel(levelOf map[string]int) (map[int][][]string, error) {
	remaining := map[string]int{}
	for n := range g.nodes {
		remaining[n] = len(g.deps[n])
	}

	out := map[int][][]string{}
	processed := 0
	for processed < len(g.nodes) {
		var ready []string
		for n, c := range remaining {
			if c == 0 {
				ready = append(ready, n)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("planner: dependency cycle detected among remaining nodes: %v", remainingNames(remaining))
		}
		sort.Strings(ready)

		byLevel := map[int][]string{}
		for _, n := range ready {
			byLevel[levelOf[n]] = append(byLevel[levelOf[n]], n)
			delete(remaining, n)
			processed++
		}
		for lvl, names := range byLevel {
			out[lvl] = append(out[lvl], names)
		}

		for _, n := range ready {
			for dependent := range g.dependOf[n] {
				if _, ok := remaining[dependent]; ok {
					remaining[dependent]--
				}
			}
		}
	}
	return out, nil
}

func remainingNames(remaining map[string]int) []string {
	names := make([]string, 0, len(remaining))
	for n := range remaining {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// axisOf computes the sorted tuple of non-negative levels reachable from
// name's transitive dependency closure (including name's own level).
func (g *graph) axisOf(name string, levelOf map[string]int, maxLevel int) []int {
	seen := map[string]bool{}
	var walk func(n string)
	levels := map[int]bool{}
	walk = func(n string) {
		if seen[n] {
			return
		}
		seen[n] = true
		if lvl, ok := levelOf[n]; ok && lvl >= 0 && lvl <= maxLevel {
			levels[lvl] = true
		}
		for dep := range g.deps[n] {
			walk(dep)
		}
	}
	walk(name)

	out := make([]int, 0, len(levels))
	for lvl := range levels {
		out = append(out, lvl)
	}
	sort.Ints(out)
	return out
}
