// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package transport_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/scanrec/scanrec/internal/bufferlist"
	"github.com/scanrec/scanrec/internal/recorderdb"
	"github.com/scanrec/scanrec/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireNATS skips the test unless a broker answers on nats.DefaultURL.
// The protocol itself has no in-memory fake (the wire framing is the thing
// under test), so these are integration tests against a real nats-server.
func requireNATS(t *testing.T) string {
	t.Helper()
	conn, err := nats.Connect(nats.DefaultURL, nats.Timeout(500*time.Millisecond))
	if err != nil {
		t.Skipf("no NATS broker reachable on %s: %v", nats.DefaultURL, err)
	}
	conn.Close()
	return nats.DefaultURL
}

type fakeHandler struct {
	descriptions map[string][]byte
	keys         map[string][]string
	items        map[string]any
	appended     []fakeAppend
	rows         []recorderdb.RecordRow
}

type fakeAppend struct {
	recordID string
	level    int
	step     int
	pos      []int
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		descriptions: map[string][]byte{},
		keys:         map[string][]string{},
		items:        map[string]any{},
	}
}

func (f *fakeHandler) Ping() error { return nil }

func (f *fakeHandler) RecordCreate(description []byte) (string, error) {
	id := uuid.New().String()
	f.descriptions[id] = description
	return id, nil
}

func (f *fakeHandler) RecordAppend(recordID string, level, step int, pos []int, variables map[string]any) error {
	f.appended = append(f.appended, fakeAppend{recordID, level, step, pos})
	return nil
}

func (f *fakeHandler) RecordDescription(recordID string) ([]byte, error) {
	d, ok := f.descriptions[recordID]
	if !ok {
		return nil, fmt.Errorf("no such record %q", recordID)
	}
	return d, nil
}

func (f *fakeHandler) RecordGetItem(recordID, key string, slice *bufferlist.Slice) (any, error) {
	v, ok := f.items[recordID+"/"+key]
	if !ok {
		return nil, fmt.Errorf("no such key %q", key)
	}
	return v, nil
}

func (f *fakeHandler) RecordKeys(recordID string) ([]string, error) {
	return f.keys[recordID], nil
}

func (f *fakeHandler) BufferListSlice(recordID, key string, slice *bufferlist.Slice) ([]bufferlist.Entry, error) {
	return nil, nil
}

func (f *fakeHandler) RecordQuery(filter recorderdb.QueryFilter) (int, []recorderdb.RecordRow, error) {
	return len(f.rows), f.rows, nil
}

func (f *fakeHandler) RecordDelete(recordID string) error {
	delete(f.descriptions, recordID)
	return nil
}

func serveFake(t *testing.T, natsURL, subject string, handler *fakeHandler) {
	t.Helper()
	server, err := transport.NewServer(natsURL, subject)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Serve(ctx, handler)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		server.Close()
	})

	// wait for the subscription to be live before the client calls.
	require.Eventually(t, func() bool {
		probe, err := transport.NewClient(natsURL, subject)
		if err != nil {
			return false
		}
		defer probe.Close()
		return probe.Ping() == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatchOrSpawnOnlyOneServes(t *testing.T) {
	natsURL := requireNATS(t)
	subject := "scanrec.test." + uuid.New().String()

	should, err := transport.WatchOrSpawn(natsURL, subject, 200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, should, "first caller on an empty subject should serve")

	serveFake(t, natsURL, subject, newFakeHandler())

	should, err = transport.WatchOrSpawn(natsURL, subject, 500*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, should, "second caller should find the first already serving")
}

func TestClientRecordCreateAppendGetItem(t *testing.T) {
	natsURL := requireNATS(t)
	subject := "scanrec.test." + uuid.New().String()

	handler := newFakeHandler()
	serveFake(t, natsURL, subject, handler)

	client, err := transport.NewClient(natsURL, subject)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	id, err := client.RecordCreate([]byte("description-bytes"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.NoError(t, client.RecordAppend(id, 0, 0, []int{0}, map[string]any{"x": 1.0}))
	require.Len(t, handler.appended, 1)
	assert.Equal(t, id, handler.appended[0].recordID)

	got, err := client.RecordDescription(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("description-bytes"), got)

	handler.items[id+"/amp"] = transport.ArrayDTO{Shape: []int{2}, Data: []any{1.0, 2.0}}
	value, err := client.RecordGetItem(id, "amp", nil)
	require.NoError(t, err)
	dto, ok := value.(transport.ArrayDTO)
	require.True(t, ok, "expected ArrayDTO, got %T", value)
	assert.Equal(t, []int{2}, dto.Shape)

	require.NoError(t, client.RecordDelete(id))
}

func TestClientRecordQuery(t *testing.T) {
	natsURL := requireNATS(t)
	subject := "scanrec.test." + uuid.New().String()

	handler := newFakeHandler()
	handler.rows = []recorderdb.RecordRow{
		{ID: 1, App: "demo.sweep", Tags: []string{"cryo"}},
	}
	serveFake(t, natsURL, subject, handler)

	client, err := transport.NewClient(natsURL, subject)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	total, rows, err := client.RecordQuery(recorderdb.QueryFilter{App: "demo.*"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "demo.sweep", rows[0].App)
}
