// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package query_test

import (
	"bytes"
	"encoding/gob"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/scanrec/scanrec/internal/query"
	"github.com/scanrec/scanrec/internal/record"
	"github.com/scanrec/scanrec/internal/recorder"
	"github.com/scanrec/scanrec/internal/recorderdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeDescription(t *testing.T, desc record.Description) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(desc))
	return buf.Bytes()
}

// seedRecords creates three records through a recorder daemon, flushes
// them, and returns the datapath/dbDSN a fresh query.LocalSession can
// reopen them from — mirroring a CLI run after the daemon has exited.
func seedRecords(t *testing.T) (datapath, dbDSN string) {
	t.Helper()
	dir := t.TempDir()
	datapath = dir
	dbDSN = filepath.Join(dir, "data.db")

	d, err := recorder.NewDaemon(datapath, dbDSN)
	require.NoError(t, err)
	defer d.Close()

	apps := []struct {
		app  string
		tags []string
	}{
		{"demo.sweep.alpha", []string{"cryo"}},
		{"demo.sweep.beta", []string{"cryo", "calibration"}},
		{"demo.other", []string{"bench"}},
	}
	for _, a := range apps {
		desc := record.Description{App: a.app, Tags: a.tags, Ctime: time.Now().UTC()}
		id, err := d.RecordCreate(encodeDescription(t, desc))
		require.NoError(t, err)
		require.NoError(t, d.RecordAppend(id, 0, 0, []int{0}, map[string]any{"x": 1.0}))
		require.NoError(t, d.RecordAppend(id, -1, 0, nil, nil))
	}
	return datapath, dbDSN
}

func TestLocalSessionGetRecordReopensHeaderAndData(t *testing.T) {
	datapath, dbDSN := seedRecords(t)

	s, err := query.OpenLocal(datapath, dbDSN)
	require.NoError(t, err)
	defer s.Close()

	res, err := s.QueryRecord(recorderdb.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, 3, res.Total)

	rec, err := s.GetRecord(strconv.FormatInt(res.Rows[0].ID, 10))
	require.NoError(t, err)
	keys, err := rec.Keys()
	require.NoError(t, err)
	assert.Contains(t, keys, "x")
}

func TestLocalSessionQueryRecordFiltersByAppPrefix(t *testing.T) {
	datapath, dbDSN := seedRecords(t)

	s, err := query.OpenLocal(datapath, dbDSN)
	require.NoError(t, err)
	defer s.Close()

	res, err := s.QueryRecord(recorderdb.QueryFilter{App: "demo.sweep.*"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
}

func TestLocalSessionQueryRecordBuildsAppTree(t *testing.T) {
	datapath, dbDSN := seedRecords(t)

	s, err := query.OpenLocal(datapath, dbDSN)
	require.NoError(t, err)
	defer s.Close()

	res, err := s.QueryRecord(recorderdb.QueryFilter{})
	require.NoError(t, err)

	demo, ok := res.Tree["demo"]
	require.True(t, ok)
	sweep, ok := demo["sweep"]
	require.True(t, ok)
	assert.Contains(t, sweep, "alpha")
	assert.Contains(t, sweep, "beta")
	assert.Contains(t, demo, "other")
}

func TestOpenDispatchesOnURLScheme(t *testing.T) {
	datapath, dbDSN := seedRecords(t)

	s, err := query.Open(dbDSN, "", datapath)
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*query.LocalSession)
	assert.True(t, ok)
}
