// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package iterator_test

import (
	"testing"

	"github.com/scanrec/scanrec/internal/iterator"
	"github.com/scanrec/scanrec/internal/optimize"
	"github.com/scanrec/scanrec/internal/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rangeSeq(n int) iterator.SequenceFactory {
	return func(map[string]any) (iterator.Sequence, error) {
		i := 0
		return seqFunc(func() (any, bool, error) {
			if i >= n {
				return nil, false, nil
			}
			v := i
			i++
			return v, true, nil
		}), nil
	}
}

type seqFunc func() (any, bool, error)

func (f seqFunc) Next() (any, bool, error) { return f() }

func TestCartesianCoverage(t *testing.T) {
	plan, err := planner.Build(
		[]planner.LoopSpec{
			{Names: []string{"a"}},
			{Names: []string{"b"}, DependsOn: []string{"a"}},
		},
		nil, nil,
	)
	require.NoError(t, err)

	cfg := &iterator.Config{
		Plan: plan,
		Loops: []*iterator.LoopDef{
			{Names: []string{"a"}, NewSequence: rangeSeq(2)},
			{Names: []string{"b"}, NewSequence: rangeSeq(3)},
		},
	}

	var kwds []map[string]any
	var pos [][]int
	err = iterator.Run(cfg, func(s iterator.Step) error {
		if s.Kind != iterator.KindStep {
			return nil
		}
		kwds = append(kwds, s.Kwds)
		pos = append(pos, s.Pos)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, kwds, 6)
	want := [][2]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}}
	for i, w := range want {
		assert.Equal(t, w[0], kwds[i]["a"])
		assert.Equal(t, w[1], kwds[i]["b"])
		assert.Equal(t, []int{w[0], w[1]}, pos[i])
	}
}

func TestFilterCorrectness(t *testing.T) {
	plan, err := planner.Build(
		[]planner.LoopSpec{{Names: []string{"a"}}},
		nil, nil,
	)
	require.NoError(t, err)

	cfg := &iterator.Config{
		Plan: plan,
		Loops: []*iterator.LoopDef{
			{Names: []string{"a"}, NewSequence: rangeSeq(4)},
		},
		Filter: func(kwds map[string]any) (bool, error) {
			return kwds["a"].(int)%2 == 0, nil
		},
	}

	var got []int
	err = iterator.Run(cfg, func(s iterator.Step) error {
		if s.Kind == iterator.KindStep {
			got = append(got, s.Kwds["a"].(int))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, got)
}

func TestOptimizerSubstitutionYieldsExactlyN(t *testing.T) {
	plan, err := planner.Build(
		[]planner.LoopSpec{{Names: []string{"x"}}},
		nil, nil,
	)
	require.NoError(t, err)

	pipe := &fakePipe{}
	cfg := &iterator.Config{
		Plan: plan,
		Loops: []*iterator.LoopDef{
			{
				Names: []string{"x"},
				Optimizer: &optimize.Config{
					Dimensions: []optimize.Dimension{{Name: "x", Low: 0, High: 1}},
					Factory:    optimize.NewRandomSearch(true, nil),
					MaxIter:    3,
				},
				Feedback: pipe,
			},
		},
	}

	var xs []float64
	err = iterator.Run(cfg, func(s iterator.Step) error {
		if s.Kind != iterator.KindStep {
			return nil
		}
		x := s.Kwds["x"].(float64)
		xs = append(xs, x)
		pipe.push(x, x*x)
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, xs, 3)
}

type fakePipe struct {
	pending []iterator.Feedback
}

func (p *fakePipe) push(x, v float64) {
	p.pending = append(p.pending, iterator.Feedback{X: []float64{x}, Value: v})
}

func (p *fakePipe) Drain() []iterator.Feedback {
	out := p.pending
	p.pending = nil
	return out
}
