// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package optimize_test

import (
	"math/rand"
	"testing"

	"github.com/scanrec/scanrec/internal/optimize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomSearchAskWithinBounds(t *testing.T) {
	cfg := optimize.Config{
		Dimensions: []optimize.Dimension{{Name: "x", Low: -1, High: 1}},
		Factory:    optimize.NewRandomSearch(true, rand.New(rand.NewSource(7))),
		MaxIter:    5,
	}
	opt, err := cfg.Create()
	require.NoError(t, err)

	for i := 0; i < cfg.MaxIter; i++ {
		x, err := opt.Ask()
		require.NoError(t, err)
		require.Len(t, x, 1)
		assert.GreaterOrEqual(t, x[0], -1.0)
		assert.LessOrEqual(t, x[0], 1.0)
		require.NoError(t, opt.Tell(x, x[0]*x[0]))
	}
}

func TestRandomSearchGetResultTracksBestMinimize(t *testing.T) {
	cfg := optimize.Config{
		Dimensions: []optimize.Dimension{{Name: "x", Low: 0, High: 10}},
		Factory:    optimize.NewRandomSearch(true, rand.New(rand.NewSource(1))),
		MaxIter:    3,
		Minimize:   true,
	}
	opt, err := cfg.Create()
	require.NoError(t, err)

	require.NoError(t, opt.Tell([]float64{5}, 5))
	require.NoError(t, opt.Tell([]float64{1}, 1))
	require.NoError(t, opt.Tell([]float64{9}, 9))

	res, err := opt.GetResult()
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, res.X)
	assert.EqualValues(t, 1, res.Value)
}

func TestRandomSearchGetResultBeforeTellErrors(t *testing.T) {
	cfg := optimize.Config{
		Dimensions: []optimize.Dimension{{Name: "x", Low: 0, High: 1}},
		Factory:    optimize.NewRandomSearch(false, nil),
	}
	opt, err := cfg.Create()
	require.NoError(t, err)
	_, err = opt.GetResult()
	assert.Error(t, err)
}

func TestRandomSearchRequiresDimensions(t *testing.T) {
	cfg := optimize.Config{Factory: optimize.NewRandomSearch(true, nil)}
	_, err := cfg.Create()
	assert.Error(t, err)
}
