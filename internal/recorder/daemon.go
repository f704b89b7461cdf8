// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package recorder implements the recorder daemon (spec.md §4.6/§4.7): a
// transport.Handler that keeps a bounded set of open Records in memory,
// backed by a chunkstore object tree and a recorderdb metadata database.
// Grounded on qulab/scan/recorder.py's Recorder server object.
package recorder

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strconv"
	"time"

	"github.com/scanrec/scanrec/internal/bufferlist"
	"github.com/scanrec/scanrec/internal/record"
	"github.com/scanrec/scanrec/internal/recorderdb"
	"github.com/scanrec/scanrec/internal/transport"
	"github.com/scanrec/scanrec/pkg/chunkstore"
	"github.com/scanrec/scanrec/pkg/log"
	"github.com/scanrec/scanrec/pkg/lrucache"
	"github.com/scanrec/scanrec/pkg/metrics"
)

// maxOpenRecords bounds how many Records stay resident at once; beyond
// this the least-recently-touched record is evicted and reopened lazily
// from its header chunk on next use.
const maxOpenRecords = 1024

// recordTTL is effectively "never expires on its own" — eviction here is
// driven entirely by maxOpenRecords, not wall-clock age.
const recordTTL = 365 * 24 * time.Hour

// Daemon answers every transport.Handler request against a local
// chunkstore object tree and recorderdb database.
type Daemon struct {
	store   *recorderdb.Store
	backend chunkstore.AppendableBackend
	cache   *lrucache.Cache
}

var _ transport.Handler = (*Daemon)(nil)

// NewDaemon opens (creating if necessary) the object tree at datapath and
// the metadata database at dbDSN.
func NewDaemon(datapath, dbDSN string) (*Daemon, error) {
	be, err := chunkstore.New(datapath)
	if err != nil {
		return nil, fmt.Errorf("recorder: opening object store: %w", err)
	}
	appendable, ok := be.(chunkstore.AppendableBackend)
	if !ok {
		return nil, fmt.Errorf("recorder: backend at %q does not support append", datapath)
	}

	store, err := recorderdb.Connect(dbDSN)
	if err != nil {
		return nil, fmt.Errorf("recorder: opening database: %w", err)
	}

	return &Daemon{store: store, backend: appendable, cache: lrucache.New(maxOpenRecords)}, nil
}

// Close releases the underlying database connection. Open BufferList
// batches below flushThreshold that were never explicitly flushed are
// lost, per the flush-on-signal durability model.
func (d *Daemon) Close() error { return d.store.Close() }

func (d *Daemon) Ping() error { return nil }

// RecordCreate registers a new record from its gob-encoded Description.
func (d *Daemon) RecordCreate(description []byte) (string, error) {
	var desc record.Description
	if err := gob.NewDecoder(bytes.NewReader(description)).Decode(&desc); err != nil {
		return "", fmt.Errorf("recorder: decoding description: %w", err)
	}
	if desc.Ctime.IsZero() {
		desc.Ctime = time.Now()
	}

	rec := record.NewLocal("", d.backend, desc)
	id, err := d.store.CreateRecord(desc.App, desc.Tags, desc.Ctime, rec.File())
	if err != nil {
		return "", fmt.Errorf("recorder: creating record row: %w", err)
	}
	recordID := strconv.FormatInt(id, 10)
	rec.ID = recordID

	d.cache.Get(recordID, func() (any, time.Duration, int) { return rec, recordTTL, 1 })
	log.Infof("recorder: created record %s (app=%s)", recordID, desc.App)
	metrics.RecordsCreated.Inc()
	d.reportOpenRecords()
	return recordID, nil
}

// reportOpenRecords refreshes the open-records gauge from the cache's
// current key count.
func (d *Daemon) reportOpenRecords() {
	n := 0
	d.cache.Keys(func(string, any) { n++ })
	metrics.OpenRecords.Set(float64(n))
}

// RecordAppend pushes one step's worth of variables into recordID.
func (d *Daemon) RecordAppend(recordID string, level, step int, pos []int, variables map[string]any) error {
	rec, err := d.open(recordID)
	if err != nil {
		metrics.Appends.WithLabelValues("error").Inc()
		return err
	}
	if err := rec.Append(level, step, pos, variables); err != nil {
		metrics.Appends.WithLabelValues("error").Inc()
		return err
	}
	metrics.Appends.WithLabelValues("ok").Inc()
	return nil
}

// RecordDescription returns recordID's gob-encoded Description.
func (d *Daemon) RecordDescription(recordID string) ([]byte, error) {
	rec, err := d.open(recordID)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec.Description); err != nil {
		return nil, fmt.Errorf("recorder: encoding description: %w", err)
	}
	return buf.Bytes(), nil
}

// RecordGetItem fetches one key's materialized value. Array-valued
// results are flattened to an ArrayDTO, since bufferlist.NDArray itself
// carries unexported fields and cannot cross the wire directly.
func (d *Daemon) RecordGetItem(recordID, key string, slice *bufferlist.Slice) (any, error) {
	rec, err := d.open(recordID)
	if err != nil {
		return nil, err
	}
	value, err := rec.Get(key, slice)
	if err != nil {
		return nil, err
	}
	if arr, ok := value.(*bufferlist.NDArray); ok {
		return transport.ArrayDTO{Shape: arr.Shape(), Data: arr.ToSlice()}, nil
	}
	return value, nil
}

// RecordKeys lists every variable name recordID has recorded.
func (d *Daemon) RecordKeys(recordID string) ([]string, error) {
	rec, err := d.open(recordID)
	if err != nil {
		return nil, err
	}
	return rec.Keys()
}

// BufferListSlice returns the raw (pos, value) entries backing one
// level-bound key, rather than a dense materialized array.
func (d *Daemon) BufferListSlice(recordID, key string, slice *bufferlist.Slice) ([]bufferlist.Entry, error) {
	rec, err := d.open(recordID)
	if err != nil {
		return nil, err
	}
	bl, ok := rec.BufferList(key)
	if !ok {
		return nil, fmt.Errorf("recorder: %q is not a buffered key on record %s", key, recordID)
	}
	if slice != nil {
		bl = bl.WithSlice(slice)
	}
	return bl.Iter()
}

// RecordQuery lists records matching filter, paginated.
func (d *Daemon) RecordQuery(filter recorderdb.QueryFilter) (int, []recorderdb.RecordRow, error) {
	metrics.QueryRequests.Inc()
	return d.store.QueryRecords(filter)
}

// RecordDelete removes a record's chunks, database row, and cache entry.
func (d *Daemon) RecordDelete(recordID string) error {
	rec, err := d.open(recordID)
	if err != nil {
		return err
	}
	if err := rec.Delete(); err != nil {
		return err
	}
	id, err := strconv.ParseInt(recordID, 10, 64)
	if err != nil {
		return fmt.Errorf("recorder: invalid record id %q: %w", recordID, err)
	}
	if err := d.store.DeleteRecord(id); err != nil {
		return err
	}
	d.cache.Del(recordID)
	metrics.RecordsDeleted.Inc()
	d.reportOpenRecords()
	return nil
}

// open returns recordID's Record, reopening it from its header chunk if
// it fell out of the cache.
func (d *Daemon) open(recordID string) (*record.Record, error) {
	var loadErr error
	value := d.cache.Get(recordID, func() (any, time.Duration, int) {
		rec, err := d.load(recordID)
		if err != nil {
			loadErr = err
			return nil, 0, 0
		}
		return rec, recordTTL, 1
	})
	if loadErr != nil {
		d.cache.Del(recordID)
		return nil, loadErr
	}
	rec, ok := value.(*record.Record)
	if !ok {
		return nil, fmt.Errorf("recorder: no such record %q", recordID)
	}
	return rec, nil
}

func (d *Daemon) load(recordID string) (*record.Record, error) {
	id, err := strconv.ParseInt(recordID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("recorder: invalid record id %q: %w", recordID, err)
	}
	file, err := d.store.GetRecordFile(id)
	if err != nil {
		return nil, err
	}
	rec, err := record.LoadLocal(d.backend, recordID, file)
	if err != nil {
		return nil, err
	}
	log.Debugf("recorder: reopened record %s from %s", recordID, file)
	return rec, nil
}
