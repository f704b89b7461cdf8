// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package schema

// RecorderConfig is the format of the on-disk configuration file read by
// both the `record` and `server` commands. See below for the defaults
// applied by internal/config.
type RecorderConfig struct {
	// Directory holding data.db and the objects/ chunk tree, or an
	// s3://bucket/prefix URL to use the S3 chunk backend instead.
	Datapath string `json:"datapath"`

	// Port the recorder daemon's NATS request subject is namespaced by
	// (recorder.<port>.request).
	Port int `json:"port"`

	// URL of the NATS server used for the recorder wire protocol.
	NatsURL string `json:"nats-url"`

	// Database driver name. Accepted but not read: internal/recorderdb
	// always opens sqlite3.
	DBDriver string `json:"db-driver"`

	// sqlite3 database filename, relative to Datapath unless absolute.
	DB string `json:"db"`

	// Accepted but not read: the recorder daemon holds at most 1024 open
	// Records in its in-memory LRU (internal/recorder's maxOpenRecords).
	RecorderLRUSize int `json:"recorder-lru-size"`

	// Drop root permissions once the port is bound.
	User  string `json:"user"`
	Group string `json:"group"`

	LogLevel string `json:"log-level"`

	// Expose a google/gops diagnostics agent.
	Gops bool `json:"gops"`

	// If non-empty, serve Prometheus metrics and the read-only HTTP
	// query mirror on this address (for example "localhost:8090").
	MetricsAddr string `json:"metrics-addr"`

	// Accepted but not read: recorder client requests other than ping use
	// internal/transport's DefaultCallTimeout (10 seconds).
	RequestTimeout int `json:"request-timeout"`

	// Recv timeout in seconds for the recorder client's ping.
	PingTimeout int `json:"ping-timeout"`
}
