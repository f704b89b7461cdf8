// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scansrv

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Client queries a running Server's get_record_id/ping methods from a
// separate process.
type Client struct {
	conn    *nats.Conn
	subject string
}

func NewClient(natsURL, subject string) (*Client, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("scansrv: connect %s: %w", natsURL, err)
	}
	return &Client{conn: conn, subject: subject}, nil
}

func (c *Client) Close() { c.conn.Close() }

func (c *Client) call(req request, timeout time.Duration) (reply, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(req); err != nil {
		return reply{}, err
	}
	msg, err := c.conn.Request(c.subject, buf.Bytes(), timeout)
	if err != nil {
		return reply{}, fmt.Errorf("scansrv: request %s: %w", req.Method, err)
	}
	var rep reply
	if err := gob.NewDecoder(bytes.NewReader(msg.Data)).Decode(&rep); err != nil {
		return reply{}, fmt.Errorf("scansrv: decoding reply: %w", err)
	}
	if rep.Error != "" {
		return reply{}, fmt.Errorf("scansrv: %s", rep.Error)
	}
	return rep, nil
}

func (c *Client) Ping() error {
	_, err := c.call(request{Method: methodPing}, 1*time.Second)
	return err
}

// GetRecordID returns (recordID, true, nil) once submissionID has
// finished, or (_, false, nil) while it is still running.
func (c *Client) GetRecordID(submissionID string) (string, bool, error) {
	rep, err := c.call(request{Method: methodGetRecordID, SubmissionID: submissionID}, 10*time.Second)
	if err != nil {
		return "", false, err
	}
	return rep.RecordID, rep.Ready, nil
}
