// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package scansrv

type method string

const (
	methodPing        method = "ping"
	methodGetRecordID method = "get_record_id"
)

type request struct {
	Method       method
	SubmissionID string
}

type reply struct {
	Error    string
	RecordID string
	Ready    bool
}
