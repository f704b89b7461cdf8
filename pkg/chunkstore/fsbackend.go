// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package chunkstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/scanrec/scanrec/pkg/log"
)

// FSBackend stores chunks as plain files under root/objects/<sharded path>.
// Grounded on pkg/archive/fsBackend.go's getDirectory/getPath sharding
// helpers, adapted from job-id sharding to hex-prefix sharding.
type FSBackend struct {
	root string
}

var _ AppendableBackend = (*FSBackend)(nil)

func NewFSBackend(datapath string) (*FSBackend, error) {
	root := filepath.Join(datapath, "objects")
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("chunkstore: create object root: %w", err)
	}
	return &FSBackend{root: root}, nil
}

func (b *FSBackend) fullPath(path string) string {
	return filepath.Join(b.root, ShardedPath(path))
}

func (b *FSBackend) Put(_ context.Context, path string, data []byte) error {
	full := b.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("chunkstore: mkdir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o640); err != nil {
		return fmt.Errorf("chunkstore: write %s: %w", path, err)
	}
	return nil
}

// Append writes additional bytes to the end of the chunk file at path,
// creating it (and its parent directories) if necessary. BufferList uses
// this for its incremental (pos, value) batch flushes.
func (b *FSBackend) Append(_ context.Context, path string, data []byte) error {
	full := b.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("chunkstore: mkdir: %w", err)
	}
	f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("chunkstore: open %s for append: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("chunkstore: append %s: %w", path, err)
	}
	return nil
}

func (b *FSBackend) Get(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(b.fullPath(path))
	if err != nil {
		return nil, fmt.Errorf("chunkstore: read %s: %w", path, err)
	}
	return data, nil
}

func (b *FSBackend) Exists(_ context.Context, path string) bool {
	_, err := os.Stat(b.fullPath(path))
	return err == nil
}

func (b *FSBackend) Delete(_ context.Context, path string) error {
	if err := os.Remove(b.fullPath(path)); err != nil && !os.IsNotExist(err) {
		log.Errorf("chunkstore: delete %s: %v", path, err)
		return err
	}
	return nil
}
