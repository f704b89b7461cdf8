// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package transport

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/scanrec/scanrec/internal/bufferlist"
	"github.com/scanrec/scanrec/internal/recorderdb"
	"github.com/scanrec/scanrec/pkg/log"
)

// queueGroup is the NATS queue group name recorder daemons subscribe
// under. Only one daemon instance should ever actually be serving at a
// time (enforced by the watch-or-spawn handshake below), so the queue
// group exists to make that invariant explicit rather than to load-
// balance across peers.
const queueGroup = "recorder"

// Handler implements the recorder daemon's request vocabulary
// (spec.md §4.6). internal/recorder provides the concrete implementation.
type Handler interface {
	Ping() error
	RecordCreate(description []byte) (string, error)
	RecordAppend(recordID string, level, step int, pos []int, variables map[string]any) error
	RecordDescription(recordID string) ([]byte, error)
	RecordGetItem(recordID, key string, slice *bufferlist.Slice) (any, error)
	RecordKeys(recordID string) ([]string, error)
	BufferListSlice(recordID, key string, slice *bufferlist.Slice) ([]bufferlist.Entry, error)
	RecordQuery(filter recorderdb.QueryFilter) (int, []recorderdb.RecordRow, error)
	RecordDelete(recordID string) error
}

// Server binds a Handler to a NATS subject.
type Server struct {
	conn    *nats.Conn
	subject string
}

// NewServer connects to natsURL without yet subscribing.
func NewServer(natsURL, subject string) (*Server, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("transport: connect %s: %w", natsURL, err)
	}
	return &Server{conn: conn, subject: subject}, nil
}

// WatchOrSpawn implements spec.md §4.6's idempotent startup handshake: if
// a ping on subject succeeds within pingTimeout, an existing daemon is
// already serving and this call returns shouldServe=false; otherwise the
// caller is expected to call Serve.
func WatchOrSpawn(natsURL, subject string, pingTimeout time.Duration) (shouldServe bool, err error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return false, fmt.Errorf("transport: connect %s: %w", natsURL, err)
	}
	defer conn.Close()

	var req bytes.Buffer
	if err := gob.NewEncoder(&req).Encode(Request{Method: MethodPing}); err != nil {
		return false, err
	}
	_, err = conn.Request(subject, req.Bytes(), pingTimeout)
	if err != nil {
		log.Infof("transport: no live recorder on %q (%v), this process will serve", subject, err)
		return true, nil
	}
	log.Infof("transport: recorder already serving %q, exiting idempotently", subject)
	return false, nil
}

// Serve subscribes under the shared queue group and dispatches every
// request to handler until ctx is cancelled. Each request is handled
// independently; a handler error is caught and answered so the client
// never hangs (spec.md §7).
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	sub, err := s.conn.QueueSubscribe(s.subject, queueGroup, func(msg *nats.Msg) {
		go s.dispatch(handler, msg)
	})
	if err != nil {
		return fmt.Errorf("transport: subscribe %s: %w", s.subject, err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return ctx.Err()
}

func (s *Server) dispatch(handler Handler, msg *nats.Msg) {
	var req Request
	if err := gob.NewDecoder(bytes.NewReader(msg.Data)).Decode(&req); err != nil {
		respondError(msg, fmt.Errorf("transport: decoding request: %w", err))
		return
	}

	payload, err := handle(handler, req)
	if err != nil {
		log.Errorf("transport: handler error for %s: %v", req.Method, err)
		respondError(msg, err)
		return
	}
	respondOK(msg, payload)
}

func handle(h Handler, req Request) (any, error) {
	switch req.Method {
	case MethodPing:
		return "pong", h.Ping()
	case MethodRecordCreate:
		return h.RecordCreate(req.Description)
	case MethodRecordAppend:
		return nil, h.RecordAppend(req.RecordID, req.Level, req.Step, req.Pos, req.Variables)
	case MethodRecordDescription:
		return h.RecordDescription(req.RecordID)
	case MethodRecordGetItem:
		return h.RecordGetItem(req.RecordID, req.Key, DecodeSlice(req.Slice))
	case MethodRecordKeys:
		return h.RecordKeys(req.RecordID)
	case MethodBufferListSlice:
		return h.BufferListSlice(req.RecordID, req.Key, DecodeSlice(req.Slice))
	case MethodRecordQuery:
		total, rows, err := h.RecordQuery(recorderdb.QueryFilter{
			App: req.App, Tags: req.Tags, Before: req.Before, After: req.After,
			Offset: req.Offset, Limit: req.Limit,
		})
		if err != nil {
			return nil, err
		}
		return QueryResult{Total: total, Rows: encodeRows(rows)}, nil
	case MethodRecordDelete:
		return nil, h.RecordDelete(req.RecordID)
	default:
		return nil, fmt.Errorf("transport: unknown method %q", req.Method)
	}
}

func encodeRows(rows []recorderdb.RecordRow) []QueryRow {
	out := make([]QueryRow, len(rows))
	for i, r := range rows {
		out[i] = QueryRow{ID: r.ID, App: r.App, Ctime: r.Ctime, File: r.File, Tags: r.Tags}
	}
	return out
}

func respondError(msg *nats.Msg, err error) {
	reply := Reply{Error: err.Error()}
	var buf bytes.Buffer
	if encErr := gob.NewEncoder(&buf).Encode(reply); encErr != nil {
		log.Errorf("transport: encoding error reply: %v", encErr)
		return
	}
	if err := msg.Respond(buf.Bytes()); err != nil {
		log.Errorf("transport: responding: %v", err)
	}
}

func respondOK(msg *nats.Msg, payload any) {
	var payloadBuf bytes.Buffer
	if payload != nil {
		if err := gob.NewEncoder(&payloadBuf).Encode(payload); err != nil {
			respondError(msg, fmt.Errorf("transport: encoding payload: %w", err))
			return
		}
	}
	reply := Reply{Payload: payloadBuf.Bytes()}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(reply); err != nil {
		log.Errorf("transport: encoding reply: %v", err)
		return
	}
	if err := msg.Respond(buf.Bytes()); err != nil {
		log.Errorf("transport: responding: %v", err)
	}
}

// Close closes the underlying NATS connection.
func (s *Server) Close() { s.conn.Close() }
