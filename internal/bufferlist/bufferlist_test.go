// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package bufferlist_test

import (
	"math"
	"testing"

	"github.com/scanrec/scanrec/internal/bufferlist"
	"github.com/scanrec/scanrec/pkg/chunkstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendIterRoundTrip(t *testing.T) {
	bl := bufferlist.New(nil, "", nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, bl.Append([]int{i}, float64(i*i), nil))
	}

	entries, err := bl.Iter()
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, []int{i}, e.Pos)
		assert.EqualValues(t, i*i, e.Value)
	}

	arr, err := bl.Array()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		v, err := arr.Get(i)
		require.NoError(t, err)
		assert.EqualValues(t, i*i, v)
	}
}

func TestArrayFillsNaNForUnwrittenPositions(t *testing.T) {
	bl := bufferlist.New(nil, "", nil)
	require.NoError(t, bl.Append([]int{0}, 1.0, nil))
	require.NoError(t, bl.Append([]int{3}, 4.0, nil))

	arr, err := bl.Array()
	require.NoError(t, err)
	v1, _ := arr.Get(1)
	assert.True(t, math.IsNaN(v1.(float64)))
	v0, _ := arr.Get(0)
	assert.EqualValues(t, 1.0, v0)
}

func TestFlushIsIdempotent(t *testing.T) {
	fs, err := chunkstore.NewFSBackend(t.TempDir())
	require.NoError(t, err)
	bl := bufferlist.New(fs, "chunk-a", nil)
	require.NoError(t, bl.Append([]int{0}, 1.0, nil))

	require.NoError(t, bl.Flush())
	require.NoError(t, bl.Flush())

	entries, err := bl.Iter()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestProjectionNoOpWhenOutsideDims(t *testing.T) {
	bl := bufferlist.New(nil, "", nil)
	require.NoError(t, bl.Append([]int{0, 5}, 1.0, []int{0}))

	entries, err := bl.Iter()
	require.NoError(t, err)
	assert.Len(t, entries, 0)
}

func TestNegativeStepSliceReversesOuterAxis(t *testing.T) {
	bl := bufferlist.New(nil, "", nil)
	for i := 0; i < 4; i++ {
		require.NoError(t, bl.Append([]int{i}, float64(i), nil))
	}

	reversed, err := bl.GetItem([]bufferlist.AxisSelector{bufferlist.Range(0, false, 0, false, -1)})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		v, err := reversed.Get(i)
		require.NoError(t, err)
		assert.EqualValues(t, 3-i, v)
	}
}
