// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport implements the recorder daemon's wire protocol
// (spec.md §4.6/§6), grounded structurally on pkg/nats/client.go's
// connection/option wiring. qulab's ZMQ ROUTER/DEALER transport and
// pickle framing are redesigned here to NATS request-reply and
// encoding/gob — see DESIGN.md's "Explicit redesign decisions" for why.
package transport

import (
	"encoding/gob"
	"time"

	"github.com/scanrec/scanrec/internal/bufferlist"
)

// ArrayDTO is the wire form of a *bufferlist.NDArray: bufferlist.NDArray
// carries only unexported fields (it is not itself gob-safe), so
// RecordGetItem flattens any array result to shape+row-major data before
// it crosses the wire.
type ArrayDTO struct {
	Shape []int
	Data  []any
}

// QueryResult is the wire form of a record_query reply.
type QueryResult struct {
	Total int
	Rows  []QueryRow
}

// QueryRow mirrors recorderdb.RecordRow without requiring the transport
// package to import the database layer's time-indexed row type directly
// into the gob interface registry under a different name per caller.
type QueryRow struct {
	ID    int64
	App   string
	Ctime time.Time
	File  string
	Tags  []string
}

// Method names the recorder daemon's request vocabulary.
type Method string

const (
	MethodPing              Method = "ping"
	MethodRecordCreate      Method = "record_create"
	MethodRecordAppend      Method = "record_append"
	MethodRecordDescription Method = "record_description"
	MethodRecordGetItem     Method = "record_getitem"
	MethodRecordKeys        Method = "record_keys"
	MethodBufferListSlice   Method = "bufferlist_slice"
	MethodRecordQuery       Method = "record_query"
	MethodRecordDelete      Method = "record_delete"
)

// Request is the single gob-encoded payload sent on every call, mirroring
// the method + method-specific keys framing of spec.md §6.
type Request struct {
	Method Method

	RecordID string
	Level    int
	Step     int
	Pos      []int
	Variables map[string]any

	Key   string
	Slice *SliceSpec

	Description []byte

	App    string
	Tags   []string
	Offset int
	Limit  int
	Before *time.Time
	After  *time.Time
}

// SliceSpec is the wire representation of a bufferlist.Slice: a tuple of
// per-axis selectors, either an integer index or a start/stop/step range.
type SliceSpec struct {
	Axes []AxisSpec
}

type AxisSpec struct {
	IsIndex  bool
	Index    int
	Start    int
	HasStart bool
	Stop     int
	HasStop  bool
	Step     int
}

// Reply is the single gob-encoded payload sent back. A failed handler
// invocation sets Error instead of Payload, so the client fails fast
// (spec.md §7) rather than receiving an opaque sentinel string — Go error
// values carry more than the literal "error" the wire-level spec uses
// between non-Go peers.
type Reply struct {
	Error   string
	Payload []byte
}

func init() {
	gob.Register(map[string]any{})
	gob.Register(ArrayDTO{})
	gob.Register(QueryResult{})
	gob.Register([]string{})
	gob.Register(float64(0))
	gob.Register(int(0))
	gob.Register(string(""))
	gob.Register(bool(false))
	gob.Register([]any{})
	gob.Register([]float64{})
	gob.Register([]int{})
	gob.Register([]bufferlist.Entry{})
}
