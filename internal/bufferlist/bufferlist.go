// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bufferlist implements the ragged N-D append-only value store
// described in spec.md §4.5, grounded on qulab/scan/recorder.py's
// BufferList and structurally on internal/memorystore/buffer.go's mutex-
// guarded in-memory batch with threshold flush to a backing file.
package bufferlist

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"reflect"
	"sync"

	"github.com/scanrec/scanrec/pkg/chunkstore"
)

// flushThreshold mirrors qulab's ~1000-entry batch flush.
const flushThreshold = 1000

// Entry is one (position, value) pair in append order.
type Entry struct {
	Pos   []int
	Value any
}

// BufferList accumulates ragged N-D entries, flushing to a content-store
// backend once the in-memory batch crosses flushThreshold.
type BufferList struct {
	mu sync.Mutex

	lu []int
	rd []int

	innerShape []int
	shapeSet   bool
	entries    []Entry
	batch      []Entry

	backend chunkstore.AppendableBackend
	path    string

	slice *Slice
}

// New creates an empty BufferList. backend/path may be zero values for a
// cache-only (non-persisted) list.
func New(backend chunkstore.AppendableBackend, path string, innerShape []int) *BufferList {
	return &BufferList{
		backend:    backend,
		path:       path,
		innerShape: append([]int(nil), innerShape...),
		shapeSet:   innerShape != nil,
	}
}

// Lu and Rd report the current outer bounds: lu[i] <= pos[i] < rd[i] holds
// for every appended position on axis i.
func (b *BufferList) Lu() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.lu...)
}

func (b *BufferList) Rd() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.rd...)
}

// Shape returns (rd - lu) concatenated with the inner value shape.
func (b *BufferList) Shape() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	shape := make([]int, 0, len(b.lu)+len(b.innerShape))
	for i := range b.lu {
		shape = append(shape, b.rd[i]-b.lu[i])
	}
	return append(shape, b.innerShape...)
}

// Append records one (pos, value) pair. If dims is non-empty, pos entries
// whose axis index is not in dims must be zero or the call is a silent
// no-op, per spec.md's projection contract.
func (b *BufferList) Append(pos []int, value any, dims []int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(dims) > 0 {
		allowed := map[int]bool{}
		for _, d := range dims {
			allowed[d] = true
		}
		for i, p := range pos {
			if !allowed[i] && p != 0 {
				return nil // projection mismatch: no-op, not an error
			}
		}
	}

	if b.lu == nil {
		b.lu = append([]int(nil), pos...)
		b.rd = make([]int, len(pos))
		for i, p := range pos {
			b.rd[i] = p + 1
		}
	} else {
		if len(pos) != len(b.lu) {
			return fmt.Errorf("bufferlist: append shape mismatch: got %d axes, want %d", len(pos), len(b.lu))
		}
		for i, p := range pos {
			if p < b.lu[i] {
				b.lu[i] = p
			}
			if p+1 > b.rd[i] {
				b.rd[i] = p + 1
			}
		}
	}

	shape := valueShape(value)
	if !b.shapeSet {
		b.innerShape = shape
		b.shapeSet = true
	} else if !intSliceEqual(b.innerShape, shape) {
		b.innerShape = nil
	}

	e := Entry{Pos: append([]int(nil), pos...), Value: value}
	b.entries = append(b.entries, e)
	b.batch = append(b.batch, e)

	if len(b.batch) >= flushThreshold {
		return b.flushLocked()
	}
	return nil
}

// valueShape reports the rectangular shape of an appended value: nil for
// a scalar, or the nested-slice dimension sizes for array-like values
// (only the first element of each level is inspected, mirroring numpy's
// asarray on a ragged-at-your-own-risk list).
func valueShape(value any) []int {
	v := reflect.ValueOf(value)
	var shape []int
	for v.IsValid() && v.Kind() == reflect.Slice {
		n := v.Len()
		shape = append(shape, n)
		if n == 0 {
			break
		}
		v = v.Index(0)
	}
	return shape
}

func intSliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Flush appends the pending in-memory batch to the backing chunk and
// clears it. Idempotent: a Flush with an empty batch is a no-op.
func (b *BufferList) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}

func (b *BufferList) flushLocked() error {
	if len(b.batch) == 0 {
		return nil
	}
	if b.backend == nil || b.path == "" {
		b.batch = nil
		return nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b.batch); err != nil {
		return fmt.Errorf("bufferlist: encoding flush batch: %w", err)
	}
	if err := b.backend.Append(context.Background(), b.path, buf.Bytes()); err != nil {
		return fmt.Errorf("bufferlist: flushing to backend: %w", err)
	}
	b.batch = nil
	return nil
}

// Path returns the backend key this list flushes to ("" for a cache-only
// list), so a caller that persists per-key metadata elsewhere (the
// record header) can find its way back to the right chunk on reload.
func (b *BufferList) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}

// Restore reconstructs a BufferList already holding entries — read back
// from its backend chunk after a process restart — without replaying
// them through Append, so no redundant flush is triggered.
func Restore(backend chunkstore.AppendableBackend, path string, innerShape []int, entries []Entry) *BufferList {
	b := &BufferList{
		backend:    backend,
		path:       path,
		innerShape: append([]int(nil), innerShape...),
		shapeSet:   innerShape != nil,
	}
	for _, e := range entries {
		b.entries = append(b.entries, e)
		if b.lu == nil {
			b.lu = append([]int(nil), e.Pos...)
			b.rd = make([]int, len(e.Pos))
			for i, p := range e.Pos {
				b.rd[i] = p + 1
			}
		} else {
			for i, p := range e.Pos {
				if p < b.lu[i] {
					b.lu[i] = p
				}
				if p+1 > b.rd[i] {
					b.rd[i] = p + 1
				}
			}
		}

		shape := valueShape(e.Value)
		if !b.shapeSet {
			b.innerShape = shape
			b.shapeSet = true
		} else if !intSliceEqual(b.innerShape, shape) {
			b.innerShape = nil
		}
	}
	return b
}

// Delete unlinks the backing chunk (a no-op if there is none) and resets
// in-memory state.
func (b *BufferList) Delete() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.backend != nil && b.path != "" {
		if err := b.backend.Delete(context.Background(), b.path); err != nil {
			return err
		}
	}
	b.lu, b.rd, b.entries, b.batch = nil, nil, nil, nil
	return nil
}

// Iter returns every stored entry in append order, filtered by the outer
// axes of the currently attached slice, if any. Values are not re-sliced
// on their inner axes.
func (b *BufferList) Iter() ([]Entry, error) {
	b.mu.Lock()
	all := append([]Entry(nil), b.entries...)
	slice := b.slice
	innerShape := append([]int(nil), b.innerShape...)
	b.mu.Unlock()

	if slice == nil {
		return all, nil
	}
	return slice.apply(all, innerShape)
}

// Values returns just the value half of Iter().
func (b *BufferList) Values() ([]any, error) {
	entries, err := b.Iter()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out, nil
}

// Positions returns just the position half of Iter().
func (b *BufferList) Positions() ([][]int, error) {
	entries, err := b.Iter()
	if err != nil {
		return nil, err
	}
	out := make([][]int, len(entries))
	for i, e := range entries {
		out[i] = e.Pos
	}
	return out, nil
}

// WithSlice returns a shallow copy of b with the given slice attached as a
// transient view; it never mutates the receiver.
func (b *BufferList) WithSlice(s *Slice) *BufferList {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &BufferList{
		lu:         b.lu,
		rd:         b.rd,
		innerShape: b.innerShape,
		shapeSet:   b.shapeSet,
		entries:    b.entries,
		batch:      b.batch,
		backend:    b.backend,
		path:       b.path,
		slice:      s,
	}
}

// Array materializes a dense N-D array over the outer bounds and inner
// shape, filled with NaN (math.NaN(), whatever the values' type) where no
// entry exists for a position.
func (b *BufferList) Array() (*NDArray, error) {
	b.mu.Lock()
	lu := append([]int(nil), b.lu...)
	rd := append([]int(nil), b.rd...)
	innerShape := append([]int(nil), b.innerShape...)
	entries := append([]Entry(nil), b.entries...)
	slice := b.slice
	b.mu.Unlock()

	shape := make([]int, 0, len(lu)+len(innerShape))
	for i := range lu {
		shape = append(shape, rd[i]-lu[i])
	}
	shape = append(shape, innerShape...)

	arr := newNDArray(shape, math.NaN())
	for _, e := range entries {
		idx := make([]int, len(e.Pos))
		for i, p := range e.Pos {
			idx[i] = p - lu[i]
		}
		if err := arr.set(idx, e.Value); err != nil {
			return nil, err
		}
	}

	if slice == nil {
		return arr, nil
	}
	return slice.applyToArray(arr, len(lu))
}

// GetItem normalizes idx against the current bounds and returns the dense
// sub-array it selects, reversing the result for a negative-step outer
// slice.
func (b *BufferList) GetItem(idx []AxisSelector) (*NDArray, error) {
	arr, err := b.Array()
	if err != nil {
		return nil, err
	}
	s := &Slice{Axes: idx}
	return s.applyToArray(arr, len(arr.shape))
}
