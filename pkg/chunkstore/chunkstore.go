// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package chunkstore implements the content- and location-addressed
// object tree under datapath/objects/xx/yy/zz/<rest>, with a local
// filesystem backend and an optional S3-compatible backend.
package chunkstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Backend stores and retrieves immutable byte blobs by key. Keys are
// either content addresses (ContentAddress) or location addresses
// (NewLocationAddress) that have already been sharded by ShardedPath.
type Backend interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
}

// AppendableBackend is implemented by backends that can append to a chunk
// without the caller rewriting it wholesale. BufferList writes its chunks
// through Append: the local filesystem backend appends in place, the S3
// backend implements Append as get-modify-put.
type AppendableBackend interface {
	Backend
	Append(ctx context.Context, path string, data []byte) error
}

// ContentAddress returns the 40-char hex SHA-1 of data, used as the key
// for immutable content-addressed chunks.
func ContentAddress(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// NewLocationAddress returns a fresh random hex key for payloads that are
// not content-addressed (BufferList chunk files, Record headers).
func NewLocationAddress() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ShardedPath splits key into a 2/2/2-char prefix fan-out (3x2 per Design
// Note §9) followed by the remainder, so that no single directory holds
// more than a handful of thousand entries.
func ShardedPath(key string) string {
	if len(key) < 6 {
		return "00/00/00/" + key
	}
	return key[0:2] + "/" + key[2:4] + "/" + key[4:6] + "/" + key[6:]
}

// New opens the backend appropriate for datapath: an S3 backend when
// datapath has an "s3://" scheme, otherwise a local filesystem tree
// rooted at datapath/objects.
func New(datapath string) (Backend, error) {
	if strings.HasPrefix(datapath, "s3://") {
		return NewS3Backend(strings.TrimPrefix(datapath, "s3://"))
	}
	return NewFSBackend(datapath)
}
