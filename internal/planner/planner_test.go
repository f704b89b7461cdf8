// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package planner_test

import (
	"testing"

	"github.com/scanrec/scanrec/internal/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDependentLoopsGetConsecutiveLevels(t *testing.T) {
	plan, err := planner.Build(
		[]planner.LoopSpec{
			{Names: []string{"a"}},
			{Names: []string{"b"}, DependsOn: []string{"a"}},
		},
		nil, nil,
	)
	require.NoError(t, err)
	assert.Equal(t, 0, plan.Levels["a"])
	assert.Equal(t, 1, plan.Levels["b"])
	assert.Equal(t, []int{0}, plan.Axis["a"])
	assert.Equal(t, []int{0, 1}, plan.Axis["b"])
}

func TestBuildFunctionDependsOnLoopVar(t *testing.T) {
	plan, err := planner.Build(
		[]planner.LoopSpec{{Names: []string{"a"}}},
		[]planner.FuncSpec{{Name: "x", DependsOn: []string{"a"}}},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, 0, plan.Levels["x"])
}

func TestBuildDetectsCycle(t *testing.T) {
	_, err := planner.Build(
		nil,
		[]planner.FuncSpec{
			{Name: "x", DependsOn: []string{"y"}},
			{Name: "y", DependsOn: []string{"x"}},
		},
		nil,
	)
	assert.Error(t, err)
}

func TestCallableLoopWithNoLoopDepsFloatsToMinusOne(t *testing.T) {
	plan, err := planner.Build(
		[]planner.LoopSpec{
			{Names: []string{"once"}},
			{Names: []string{"a"}, DependsOn: []string{"once"}},
		},
		nil, nil,
	)
	require.NoError(t, err)
	assert.Equal(t, -1, plan.Levels["once"])
	assert.Equal(t, 0, plan.Levels["a"])
}
