// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scansrv implements the "server" scan-submission daemon
// (spec.md §6): a single process holds running Scan objects keyed by a
// UUID, so a separate process can later ask whether a submission is
// finished and, if so, which record it produced.
//
// [REDESIGN] qulab's submit() accepts an arbitrary in-process scan
// definition — itself Python code handed directly to the server object.
// Go has no equivalent of shipping a closure across a wire boundary, so
// Submit here stays an in-process Go API call (the caller already holds
// a fully built *runner.Scan in the same process); only the two methods
// a separate status-checking process actually needs, get_record_id and
// ping, are exposed over the wire, grounded on internal/transport's NATS
// request-reply idiom applied to a much smaller method vocabulary.
package scansrv

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/scanrec/scanrec/internal/runner"
	"github.com/scanrec/scanrec/pkg/log"
)

const queueGroup = "scansrv"

type submission struct {
	recordID string
	err      error
	done     bool
}

// Server tracks every scan submitted to this process for the lifetime of
// the process.
type Server struct {
	mu   sync.Mutex
	runs map[string]*submission

	conn    *nats.Conn
	subject string
}

// New connects to natsURL without yet subscribing; call Serve to start
// answering get_record_id/ping requests.
func New(natsURL, subject string) (*Server, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("scansrv: connect %s: %w", natsURL, err)
	}
	return &Server{runs: map[string]*submission{}, conn: conn, subject: subject}, nil
}

func (s *Server) Close() { s.conn.Close() }

// Submit runs scan against target in its own goroutine and returns a UUID
// a later get_record_id call can poll for completion.
func (s *Server) Submit(ctx context.Context, scan *runner.Scan, target runner.Target) string {
	id := uuid.NewString()
	sub := &submission{}
	s.mu.Lock()
	s.runs[id] = sub
	s.mu.Unlock()

	go func() {
		recordID, err := scan.Run(ctx, target)
		s.mu.Lock()
		sub.recordID, sub.err, sub.done = recordID, err, true
		s.mu.Unlock()
		if err != nil {
			log.Errorf("scansrv: submission %s failed: %s", id, err.Error())
		} else {
			log.Infof("scansrv: submission %s completed as record %s", id, recordID)
		}
	}()
	return id
}

// GetRecordID reports whether submission id has finished and, if so, the
// record it produced (or the error it failed with).
func (s *Server) GetRecordID(id string) (recordID string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, found := s.runs[id]
	if !found {
		return "", false, fmt.Errorf("scansrv: unknown submission %q", id)
	}
	if !sub.done {
		return "", false, nil
	}
	return sub.recordID, true, sub.err
}

func (s *Server) Ping() error { return nil }

// Serve subscribes under the shared queue group and answers ping/
// get_record_id requests until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	sub, err := s.conn.QueueSubscribe(s.subject, queueGroup, func(msg *nats.Msg) {
		go s.dispatch(msg)
	})
	if err != nil {
		return fmt.Errorf("scansrv: subscribe %s: %w", s.subject, err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return ctx.Err()
}

func (s *Server) dispatch(msg *nats.Msg) {
	var req request
	if err := gob.NewDecoder(bytes.NewReader(msg.Data)).Decode(&req); err != nil {
		s.respondError(msg, fmt.Errorf("scansrv: decoding request: %w", err))
		return
	}

	switch req.Method {
	case methodPing:
		s.respond(msg, reply{})
	case methodGetRecordID:
		recordID, ok, err := s.GetRecordID(req.SubmissionID)
		if err != nil {
			s.respondError(msg, err)
			return
		}
		s.respond(msg, reply{RecordID: recordID, Ready: ok})
	default:
		s.respondError(msg, fmt.Errorf("scansrv: unknown method %q", req.Method))
	}
}

func (s *Server) respond(msg *nats.Msg, r reply) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		log.Errorf("scansrv: encoding reply: %s", err.Error())
		return
	}
	if err := msg.Respond(buf.Bytes()); err != nil {
		log.Errorf("scansrv: responding: %s", err.Error())
	}
}

func (s *Server) respondError(msg *nats.Msg, err error) {
	s.respond(msg, reply{Error: err.Error()})
}
