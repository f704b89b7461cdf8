// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package record_test

import (
	"bytes"
	"testing"

	"github.com/scanrec/scanrec/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDescription() record.Description {
	return record.Description{
		App: "demo.sweep",
		Order: map[int][][]string{
			-1: {{"gain"}},
			0:  {{"freq"}},
		},
		Consts: map[string]any{"gain": 10.0},
	}
}

func TestAppendTracksScalarAndBufferedVariables(t *testing.T) {
	r := record.NewCache("rec-1", newTestDescription())

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Append(0, i, []int{i}, map[string]any{"power": float64(i) * 2}))
	}
	require.NoError(t, r.Append(-1, 0, nil, nil))

	keys, err := r.Keys()
	require.NoError(t, err)
	assert.Contains(t, keys, "power")

	v, err := r.Get("power", nil)
	require.NoError(t, err)
	assert.NotNil(t, v)

	gain, err := r.Get("gain", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 10.0, gain)
}

func TestExportLoadRoundTrip(t *testing.T) {
	r := record.NewCache("rec-2", newTestDescription())
	for i := 0; i < 4; i++ {
		require.NoError(t, r.Append(0, i, []int{i}, map[string]any{"power": float64(i)}))
	}

	var buf bytes.Buffer
	require.NoError(t, r.Export(&buf))

	loaded, err := record.Load(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	keys, err := loaded.Keys()
	require.NoError(t, err)
	assert.Contains(t, keys, "power")

	v, err := loaded.Get("power", nil)
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestDeleteResetsLocalState(t *testing.T) {
	r := record.NewCache("rec-3", newTestDescription())
	require.NoError(t, r.Append(0, 0, []int{0}, map[string]any{"power": 1.0}))
	require.NoError(t, r.Delete())

	keys, err := r.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}
