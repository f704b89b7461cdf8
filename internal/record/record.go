// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package record implements the Record and its BufferList-backed variable
// storage described in spec.md §3/§4.5/§4.7, grounded on
// qulab/scan/recorder.py's Record class. A Record accumulates variables
// emitted by the scan runner's record_append calls, classifying each as a
// scalar (level -1, bound once) or a per-step BufferList keyed by the
// level it was first observed at.
package record

import (
	"context"
	"fmt"
	"sync"

	"github.com/scanrec/scanrec/internal/bufferlist"
	"github.com/scanrec/scanrec/pkg/chunkstore"
)

// Mode distinguishes where a Record's data lives, replacing qulab's
// database-is-None/string duck typing with an explicit enum.
type Mode int

const (
	ModeLocal Mode = iota
	ModeCache
	ModeRemote
)

// RemoteClient is implemented by internal/transport's client for routing
// Get/Keys calls through the recorder daemon instead of local storage.
type RemoteClient interface {
	GetItem(recordID, key string, slice *bufferlist.Slice) (any, error)
	Keys(recordID string) ([]string, error)
}

// Record is one scan's accumulated variable store.
type Record struct {
	mu sync.Mutex

	ID          string
	Mode        Mode
	Description Description

	backend chunkstore.AppendableBackend // local mode only
	file    string                       // this record's own header chunk path, local mode only

	remote   RemoteClient // remote mode only
	remoteID string

	items    map[string]any // scalar value or *bufferlist.BufferList
	levels   map[string]int
	lastVars map[string]bool
	keys     map[string]bool

	index []int
	pos   []int
}

// NewLocal creates a Record persisted under backend at a freshly allocated
// header path.
func NewLocal(id string, backend chunkstore.AppendableBackend, desc Description) *Record {
	r := newRecord(id, ModeLocal, desc)
	r.backend = backend
	r.file = chunkstore.NewLocationAddress()
	return r
}

// NewCache creates a Record that is never persisted to a backend — all
// data lives only in process memory for the scan's lifetime.
func NewCache(id string, desc Description) *Record {
	return newRecord(id, ModeCache, desc)
}

// NewRemoteView creates a client-side Record whose reads route through a
// recorder daemon via client.
func NewRemoteView(id string, client RemoteClient, desc Description) *Record {
	r := newRecord(id, ModeRemote, desc)
	r.remote = client
	r.remoteID = id
	return r
}

func newRecord(id string, mode Mode, desc Description) *Record {
	r := &Record{
		ID:          id,
		Mode:        mode,
		Description: desc,
		items:       map[string]any{},
		levels:      desc.levelOf(),
		lastVars:    map[string]bool{},
		keys:        map[string]bool{},
	}
	for name, v := range desc.Consts {
		if _, ok := r.items[name]; !ok {
			r.items[name] = v
		}
	}
	for _, entries := range desc.Loops {
		for _, e := range entries {
			for i, name := range e.Names {
				vals := make([]any, len(e.Values))
				for j, tuple := range e.Values {
					if t, ok := tuple.([]any); ok && len(e.Names) > 1 {
						vals[j] = t[i]
					} else {
						vals[j] = tuple
					}
				}
				r.items[name] = vals
			}
		}
	}
	return r
}

func (r *Record) IsLocal() bool  { return r.Mode == ModeLocal }
func (r *Record) IsCache() bool  { return r.Mode == ModeCache }
func (r *Record) IsRemote() bool { return r.Mode == ModeRemote }

// File returns the backend path of this record's own header chunk. Only
// meaningful for a local record; callers use it to populate the
// recorderdb `file` column at record_create time.
func (r *Record) File() string { return r.file }

// Append records one record_append event: level is the nesting depth the
// emission came from (negative means "flush signal"), step is the
// iterator's monotone counter, pos the outer position tuple at the time
// of emission, and variables the newly-bound name->value map.
func (r *Record) Append(level, step int, pos []int, variables map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if level < 0 {
		return r.flushLocked()
	}

	for key := range variables {
		if !r.lastVars[key] {
			if _, ok := r.levels[key]; !ok {
				r.levels[key] = level
			}
		}
	}
	r.lastVars = map[string]bool{}
	for key := range variables {
		r.lastVars[key] = true
		r.keys[key] = true
	}

	fullPos := r.trackPosition(level, step, pos)

	for key, value := range variables {
		lvl, ok := r.levels[key]
		if !ok || lvl != level {
			if ok && lvl == -1 {
				if _, exists := r.items[key]; !exists {
					r.items[key] = value
				}
			}
			continue
		}
		bl, ok := r.items[key].(*bufferlist.BufferList)
		if !ok {
			var backend chunkstore.AppendableBackend
			var path string
			if r.IsLocal() {
				backend = r.backend
				path = chunkstore.NewLocationAddress()
			}
			bl = bufferlist.New(backend, path, nil)
			r.items[key] = bl
		}
		if err := bl.Append(fullPos, value, nil); err != nil {
			return fmt.Errorf("record: appending %q: %w", key, err)
		}
	}
	return nil
}

// trackPosition reproduces qulab's pos/index bookkeeping: self._pos grows
// or truncates to length level+1 depending on whether this emission
// extends, replaces, or backtracks relative to the previous one.
func (r *Record) trackPosition(level, step int, pos []int) []int {
	switch {
	case level >= len(r.pos):
		grow := level + 1 - len(r.pos)
		for i := 0; i < grow-1; i++ {
			r.index = append(r.index, 0)
			r.pos = append(r.pos, 0)
		}
		r.index = append(r.index, step)
		r.pos = append(r.pos, posLast(pos))
	case level == len(r.pos)-1:
		r.index[len(r.index)-1] = step
		r.pos[len(r.pos)-1] = posLast(pos)
	default:
		r.index = r.index[:level+1]
		r.pos = r.pos[:level+1]
		r.index[len(r.index)-1] = step + 1
		r.pos[len(r.pos)-1] = posLast(pos)
	}
	return append([]int(nil), r.pos...)
}

func posLast(pos []int) int {
	if len(pos) == 0 {
		return 0
	}
	return pos[len(pos)-1]
}

// Flush pushes every open BufferList's pending batch to its backend and,
// for a local record, persists the record header itself. A no-op for
// cache and remote records.
func (r *Record) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Record) flushLocked() error {
	if r.IsRemote() || r.IsCache() {
		return nil
	}
	for _, v := range r.items {
		if bl, ok := v.(*bufferlist.BufferList); ok {
			if err := bl.Flush(); err != nil {
				return err
			}
		}
	}
	return r.persistHeader()
}

// Get returns a variable's current value: a scalar as stored, or a dense
// array materialization of a BufferList (optionally sliced).
func (r *Record) Get(key string, slice *bufferlist.Slice) (any, error) {
	if r.IsRemote() {
		return r.remote.GetItem(r.remoteID, key, slice)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[key]
	if !ok {
		return nil, nil
	}
	bl, ok := v.(*bufferlist.BufferList)
	if !ok {
		return v, nil
	}
	if slice != nil {
		bl = bl.WithSlice(slice)
	}
	return bl.Array()
}

// BufferList returns the raw BufferList backing key, if key was bound at
// a level rather than as a scalar. Used by the recorder daemon's
// bufferlist_slice request, which answers with entries rather than a
// dense materialization.
func (r *Record) BufferList(key string) (*bufferlist.BufferList, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bl, ok := r.items[key].(*bufferlist.BufferList)
	return bl, ok
}

// Keys lists every variable name ever appended, local or remote.
func (r *Record) Keys() ([]string, error) {
	if r.IsRemote() {
		return r.remote.Keys(r.remoteID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.keys))
	for k := range r.keys {
		out = append(out, k)
	}
	return out, nil
}

// Delete removes every BufferList chunk and, for a local record, the
// persisted record header from the backend, then resets in-memory state.
// A cache record only has its in-memory state reset; a remote view returns
// an error.
func (r *Record) Delete() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.IsRemote() {
		return fmt.Errorf("record: delete is not supported on a remote view")
	}
	for _, v := range r.items {
		if bl, ok := v.(*bufferlist.BufferList); ok {
			if err := bl.Delete(); err != nil {
				return err
			}
		}
	}
	if r.IsLocal() && r.backend != nil && r.file != "" && r.backend.Exists(context.Background(), r.file) {
		if err := r.backend.Delete(context.Background(), r.file); err != nil {
			return err
		}
	}
	r.items = map[string]any{}
	r.keys = map[string]bool{}
	return nil
}
