// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package recorder_test

import (
	"bytes"
	"encoding/gob"
	"path/filepath"
	"testing"
	"time"

	"github.com/scanrec/scanrec/internal/record"
	"github.com/scanrec/scanrec/internal/recorder"
	"github.com/scanrec/scanrec/internal/recorderdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDaemon(t *testing.T) *recorder.Daemon {
	t.Helper()
	dir := t.TempDir()
	d, err := recorder.NewDaemon(dir, filepath.Join(dir, "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func encodeDescription(t *testing.T, desc record.Description) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(desc))
	return buf.Bytes()
}

func TestRecordCreateAppendGetItem(t *testing.T) {
	d := newTestDaemon(t)

	desc := record.Description{App: "demo.sweep", Tags: []string{"cryo"}, Ctime: time.Now().UTC()}
	id, err := d.RecordCreate(encodeDescription(t, desc))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, d.RecordAppend(id, 0, 0, []int{0}, map[string]any{"amp": 1.0}))
	require.NoError(t, d.RecordAppend(id, 0, 1, []int{1}, map[string]any{"amp": 2.0}))
	require.NoError(t, d.RecordAppend(id, -1, 0, nil, nil))

	keys, err := d.RecordKeys(id)
	require.NoError(t, err)
	assert.Contains(t, keys, "amp")

	entries, err := d.BufferListSlice(id, "amp", nil)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRecordQueryAndDelete(t *testing.T) {
	d := newTestDaemon(t)

	desc := record.Description{App: "demo.sweep", Ctime: time.Now().UTC()}
	id, err := d.RecordCreate(encodeDescription(t, desc))
	require.NoError(t, err)

	total, rows, err := d.RecordQuery(recorderdb.QueryFilter{App: "demo.*", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, rows, 1)

	require.NoError(t, d.RecordDelete(id))
	_, _, err = d.RecordQuery(recorderdb.QueryFilter{App: "demo.*"})
	require.NoError(t, err)

	_, err = d.RecordKeys(id)
	assert.Error(t, err)
}
