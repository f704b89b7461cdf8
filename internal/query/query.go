// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package query implements get_record/query_record (spec.md §4.7),
// grounded on qulab/storage/models/dataset.py's query_datasets: a session
// opens either against a local object store + recorderdb database, or
// against a running recorder daemon, and both answer the same GetRecord/
// QueryRecord calls so a caller sees identical results regardless of
// which one backed the scan (spec.md's remote/local transparency
// guarantee).
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/scanrec/scanrec/internal/bufferlist"
	"github.com/scanrec/scanrec/internal/record"
	"github.com/scanrec/scanrec/internal/recorderdb"
	"github.com/scanrec/scanrec/internal/transport"
	"github.com/scanrec/scanrec/pkg/chunkstore"
)

// Session answers the two read paths a CLI or UI needs against either a
// local store or a remote recorder.
type Session interface {
	// GetRecord reopens a previously recorded scan by its id string.
	GetRecord(id string) (*record.Record, error)
	// QueryRecord lists records matching f, with pagination.
	QueryRecord(f recorderdb.QueryFilter) (Result, error)
	Close() error
}

// AppTree is a nested grouping of app names split on ".", used by a UI to
// render a tree of scan applications instead of a flat list.
type AppTree map[string]AppTree

// Result is query_record's (total, app-tree, rows) triple.
type Result struct {
	Total int
	Tree  AppTree
	Rows  []recorderdb.RecordRow
}

// Open dispatches to a remote session if database looks like a URL
// (contains "://"), otherwise to a local session rooted at datapath with
// the sqlite database at database.
func Open(database, subject, datapath string) (Session, error) {
	if strings.Contains(database, "://") {
		return OpenRemote(database, subject)
	}
	return OpenLocal(datapath, database)
}

// LocalSession reads directly out of the object store and database a
// recorder daemon would otherwise own, for offline inspection when no
// daemon is running.
type LocalSession struct {
	store   *recorderdb.Store
	backend chunkstore.AppendableBackend
}

func OpenLocal(datapath, dbDSN string) (*LocalSession, error) {
	be, err := chunkstore.New(datapath)
	if err != nil {
		return nil, fmt.Errorf("query: opening object store: %w", err)
	}
	appendable, ok := be.(chunkstore.AppendableBackend)
	if !ok {
		return nil, fmt.Errorf("query: backend at %q does not support append", datapath)
	}
	store, err := recorderdb.Connect(dbDSN)
	if err != nil {
		return nil, fmt.Errorf("query: opening database: %w", err)
	}
	return &LocalSession{store: store, backend: appendable}, nil
}

func (s *LocalSession) Close() error { return s.store.Close() }

func (s *LocalSession) GetRecord(id string) (*record.Record, error) {
	rowID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("query: invalid record id %q: %w", id, err)
	}
	file, err := s.store.GetRecordFile(rowID)
	if err != nil {
		return nil, err
	}
	return record.LoadLocal(s.backend, id, file)
}

func (s *LocalSession) QueryRecord(f recorderdb.QueryFilter) (Result, error) {
	total, rows, err := s.store.QueryRecords(f)
	if err != nil {
		return Result{}, err
	}
	return Result{Total: total, Tree: buildAppTree(rows), Rows: rows}, nil
}

// RemoteSession routes both calls through a running recorder daemon.
type RemoteSession struct {
	client *transport.Client
}

func OpenRemote(natsURL, subject string) (*RemoteSession, error) {
	client, err := transport.NewClient(natsURL, subject)
	if err != nil {
		return nil, fmt.Errorf("query: connecting to recorder at %s: %w", natsURL, err)
	}
	return &RemoteSession{client: client}, nil
}

func (s *RemoteSession) Close() error { s.client.Close(); return nil }

func (s *RemoteSession) GetRecord(id string) (*record.Record, error) {
	descBytes, err := s.client.RecordDescription(id)
	if err != nil {
		return nil, err
	}
	desc, err := record.DecodeDescription(descBytes)
	if err != nil {
		return nil, err
	}
	return record.NewRemoteView(id, remoteClient{s.client}, desc), nil
}

func (s *RemoteSession) QueryRecord(f recorderdb.QueryFilter) (Result, error) {
	total, rows, err := s.client.RecordQuery(f)
	if err != nil {
		return Result{}, err
	}
	return Result{Total: total, Tree: buildAppTree(rows), Rows: rows}, nil
}

// remoteClient adapts internal/transport.Client's RecordGetItem/RecordKeys
// pair to record.RemoteClient's narrower GetItem/Keys vocabulary.
type remoteClient struct{ c *transport.Client }

func (r remoteClient) GetItem(recordID, key string, slice *bufferlist.Slice) (any, error) {
	return r.c.RecordGetItem(recordID, key, slice)
}

func (r remoteClient) Keys(recordID string) ([]string, error) {
	return r.c.RecordKeys(recordID)
}

// buildAppTree groups app names into a nested dict of dot-separated
// fragments, the selector-tree idiom internal/memorystore/level.go uses
// for its host/metric hierarchy, applied here to app-name fragments
// instead of selector components.
func buildAppTree(rows []recorderdb.RecordRow) AppTree {
	root := AppTree{}
	for _, row := range rows {
		node := root
		for _, part := range strings.Split(row.App, ".") {
			child, ok := node[part]
			if !ok {
				child = AppTree{}
				node[part] = child
			}
			node = child
		}
	}
	return root
}
