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
)

// DefaultPingTimeout and DefaultCallTimeout are the request timeouts
// spec.md §5 assigns to the watch-or-spawn ping versus every other
// recorder call.
const (
	DefaultPingTimeout = 1 * time.Second
	DefaultCallTimeout = 10 * time.Second
)

// Client calls a recorder daemon over NATS request-reply, grounded on
// pkg/nats/client.go's connection wiring (narrowed to the single
// synchronous Request path the recorder protocol needs).
type Client struct {
	conn        *nats.Conn
	subject     string
	callTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithCallTimeout overrides DefaultCallTimeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// NewClient connects to natsURL and returns a Client bound to subject.
func NewClient(natsURL, subject string, opts ...Option) (*Client, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("transport: connect %s: %w", natsURL, err)
	}
	c := &Client{conn: conn, subject: subject, callTimeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes the underlying NATS connection.
func (c *Client) Close() { c.conn.Close() }

func (c *Client) call(ctx context.Context, req Request) (*Reply, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(req); err != nil {
		return nil, fmt.Errorf("transport: encoding request: %w", err)
	}

	msg, err := c.conn.RequestWithContext(ctx, c.subject, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("transport: request %s: %w", req.Method, err)
	}

	var reply Reply
	if err := gob.NewDecoder(bytes.NewReader(msg.Data)).Decode(&reply); err != nil {
		return nil, fmt.Errorf("transport: decoding reply: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("transport: %s: %s", req.Method, reply.Error)
	}
	return &reply, nil
}

func (c *Client) callWithTimeout(req Request, timeout time.Duration) (*Reply, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.call(ctx, req)
}

func decodePayload(reply *Reply, out any) error {
	if len(reply.Payload) == 0 {
		return nil
	}
	return gob.NewDecoder(bytes.NewReader(reply.Payload)).Decode(out)
}

// Ping checks whether a recorder daemon is serving Subject, using
// DefaultPingTimeout rather than the client's configured call timeout —
// this is the handshake WatchOrSpawn performs on the daemon side, exposed
// here for callers that want to probe liveness themselves.
func (c *Client) Ping() error {
	_, err := c.callWithTimeout(Request{Method: MethodPing}, DefaultPingTimeout)
	return err
}

// RecordCreate registers a new record from its gob-encoded description and
// returns the allocated record id.
func (c *Client) RecordCreate(description []byte) (string, error) {
	reply, err := c.callWithTimeout(Request{Method: MethodRecordCreate, Description: description}, c.callTimeout)
	if err != nil {
		return "", err
	}
	var id string
	if err := decodePayload(reply, &id); err != nil {
		return "", err
	}
	return id, nil
}

// RecordAppend pushes one step's worth of variables into recordID.
func (c *Client) RecordAppend(recordID string, level, step int, pos []int, variables map[string]any) error {
	_, err := c.callWithTimeout(Request{
		Method: MethodRecordAppend, RecordID: recordID,
		Level: level, Step: step, Pos: pos, Variables: variables,
	}, c.callTimeout)
	return err
}

// RecordDescription fetches a record's gob-encoded Description.
func (c *Client) RecordDescription(recordID string) ([]byte, error) {
	reply, err := c.callWithTimeout(Request{Method: MethodRecordDescription, RecordID: recordID}, c.callTimeout)
	if err != nil {
		return nil, err
	}
	var description []byte
	if err := decodePayload(reply, &description); err != nil {
		return nil, err
	}
	return description, nil
}

// RecordGetItem fetches one key's value, sliced if slice is non-nil.
// Array-valued results decode as an ArrayDTO; scalar results decode as
// their native Go type.
func (c *Client) RecordGetItem(recordID, key string, slice *bufferlist.Slice) (any, error) {
	reply, err := c.callWithTimeout(Request{
		Method: MethodRecordGetItem, RecordID: recordID, Key: key, Slice: EncodeSlice(slice),
	}, c.callTimeout)
	if err != nil {
		return nil, err
	}
	var value any
	if err := decodePayload(reply, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// RecordKeys lists the variable names recordID has recorded.
func (c *Client) RecordKeys(recordID string) ([]string, error) {
	reply, err := c.callWithTimeout(Request{Method: MethodRecordKeys, RecordID: recordID}, c.callTimeout)
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := decodePayload(reply, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// BufferListSlice fetches the raw (pos, value) entries backing one
// ragged-array key, rather than a dense materialized array.
func (c *Client) BufferListSlice(recordID, key string, slice *bufferlist.Slice) ([]bufferlist.Entry, error) {
	reply, err := c.callWithTimeout(Request{
		Method: MethodBufferListSlice, RecordID: recordID, Key: key, Slice: EncodeSlice(slice),
	}, c.callTimeout)
	if err != nil {
		return nil, err
	}
	var entries []bufferlist.Entry
	if err := decodePayload(reply, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// RecordQuery lists records matching filter, paginated.
func (c *Client) RecordQuery(filter recorderdb.QueryFilter) (int, []recorderdb.RecordRow, error) {
	reply, err := c.callWithTimeout(Request{
		Method: MethodRecordQuery,
		App:    filter.App, Tags: filter.Tags,
		Before: filter.Before, After: filter.After,
		Offset: filter.Offset, Limit: filter.Limit,
	}, c.callTimeout)
	if err != nil {
		return 0, nil, err
	}
	var result QueryResult
	if err := decodePayload(reply, &result); err != nil {
		return 0, nil, err
	}
	rows := make([]recorderdb.RecordRow, len(result.Rows))
	for i, r := range result.Rows {
		rows[i] = recorderdb.RecordRow{ID: r.ID, App: r.App, Ctime: r.Ctime, File: r.File, Tags: r.Tags}
	}
	return result.Total, rows, nil
}

// RecordDelete removes a record and its on-disk chunks.
func (c *Client) RecordDelete(recordID string) error {
	_, err := c.callWithTimeout(Request{Method: MethodRecordDelete, RecordID: recordID}, c.callTimeout)
	return err
}
