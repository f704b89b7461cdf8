// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package record

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/scanrec/scanrec/internal/bufferlist"
	"github.com/scanrec/scanrec/pkg/chunkstore"
)

type exportHeader struct {
	ID          string
	Description Description
	ScalarItems map[string]any
	BufferKeys  []string
	// BufferPaths maps each BufferKeys entry to its own backend chunk, so
	// a reopened local record (persistHeader/LoadLocal) knows which chunk
	// backs which key. Unused by Export/Load, whose BufferLists are
	// always cache-only (no backend path to remember).
	BufferPaths map[string]string
}

// Export writes a zip archive containing record.gob (the header: every
// scalar item plus the set of BufferList keys) and one <key>.buf entry per
// BufferList holding its full append-ordered entries, gob-encoded. This is
// the Go analogue of qulab's record.pkl + <key>.buf export format.
func (r *Record) Export(w io.Writer) error {
	if r.IsRemote() {
		return fmt.Errorf("record: export requires a local or cache record")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	zw := zip.NewWriter(w)

	header := exportHeader{ID: r.ID, Description: r.Description, ScalarItems: map[string]any{}}
	buffers := map[string][]bufferlist.Entry{}
	for key, v := range r.items {
		switch val := v.(type) {
		case *bufferlist.BufferList:
			entries, err := val.Iter()
			if err != nil {
				return fmt.Errorf("record: export: reading %q: %w", key, err)
			}
			buffers[key] = entries
			header.BufferKeys = append(header.BufferKeys, key)
		default:
			header.ScalarItems[key] = v
		}
	}

	hw, err := zw.Create("record.gob")
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(hw).Encode(header); err != nil {
		return fmt.Errorf("record: export: encoding header: %w", err)
	}

	for key, entries := range buffers {
		fw, err := zw.Create(key + ".buf")
		if err != nil {
			return err
		}
		if err := gob.NewEncoder(fw).Encode(entries); err != nil {
			return fmt.Errorf("record: export: encoding %q: %w", key, err)
		}
	}

	return zw.Close()
}

// persistHeader writes the record's scalar items and buffer-key set to
// its own backend chunk, overwriting any prior version. Called by
// flushLocked for local records so a daemon restart can rediscover which
// keys exist without replaying every BufferList's entries.
func (r *Record) persistHeader() error {
	if !r.IsLocal() {
		return nil
	}
	header := exportHeader{
		ID: r.ID, Description: r.Description,
		ScalarItems: map[string]any{}, BufferPaths: map[string]string{},
	}
	for key, v := range r.items {
		if bl, ok := v.(*bufferlist.BufferList); ok {
			header.BufferKeys = append(header.BufferKeys, key)
			header.BufferPaths[key] = bl.Path()
			continue
		}
		header.ScalarItems[key] = v
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(header); err != nil {
		return fmt.Errorf("record: persisting header: %w", err)
	}
	return r.backend.Put(context.Background(), r.file, buf.Bytes())
}

// LoadLocal reopens a local record from its persisted header chunk: the
// recorder daemon calls this when a record falls out of its in-memory
// cache and a later request needs it again. BufferLists are rebuilt from
// their own flushed chunks; any batch still unflushed at the moment the
// daemon last touched this record is not recoverable, matching the
// explicit flush-on-signal durability model (spec.md §4.7).
func LoadLocal(backend chunkstore.AppendableBackend, id, file string) (*Record, error) {
	data, err := backend.Get(context.Background(), file)
	if err != nil {
		return nil, fmt.Errorf("record: loading header %s: %w", file, err)
	}
	var header exportHeader
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&header); err != nil {
		return nil, fmt.Errorf("record: decoding header %s: %w", file, err)
	}

	rec := &Record{
		ID: id, Mode: ModeLocal, Description: header.Description,
		backend: backend, file: file,
		items: map[string]any{}, levels: header.Description.levelOf(),
		lastVars: map[string]bool{}, keys: map[string]bool{},
	}
	for k, v := range header.ScalarItems {
		rec.items[k] = v
		rec.keys[k] = true
	}
	for _, key := range header.BufferKeys {
		path := header.BufferPaths[key]
		entries, err := readBufferEntries(backend, path)
		if err != nil {
			return nil, fmt.Errorf("record: loading %q: %w", key, err)
		}
		rec.items[key] = bufferlist.Restore(backend, path, nil, entries)
		rec.keys[key] = true
	}
	return rec, nil
}

func readBufferEntries(backend chunkstore.AppendableBackend, path string) ([]bufferlist.Entry, error) {
	if path == "" || !backend.Exists(context.Background(), path) {
		return nil, nil
	}
	data, err := backend.Get(context.Background(), path)
	if err != nil {
		return nil, err
	}
	var all []bufferlist.Entry
	dec := gob.NewDecoder(bytes.NewReader(data))
	for {
		var batch []bufferlist.Entry
		if err := dec.Decode(&batch); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		all = append(all, batch...)
	}
	return all, nil
}

// Load reconstructs an in-memory cache Record from an Export archive,
// sufficient for offline inspection without a recorder daemon or SQLite
// database.
func Load(r io.ReaderAt, size int64) (*Record, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("record: load: %w", err)
	}

	var header exportHeader
	headerFound := false
	buffers := map[string][]bufferlist.Entry{}

	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		switch {
		case f.Name == "record.gob":
			err = gob.NewDecoder(rc).Decode(&header)
			headerFound = true
		default:
			key := f.Name[:len(f.Name)-len(".buf")]
			var entries []bufferlist.Entry
			err = gob.NewDecoder(rc).Decode(&entries)
			buffers[key] = entries
		}
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("record: load: decoding %s: %w", f.Name, err)
		}
	}
	if !headerFound {
		return nil, fmt.Errorf("record: load: archive has no record.gob entry")
	}

	rec := NewCache(header.ID, header.Description)
	for k, v := range header.ScalarItems {
		rec.items[k] = v
	}
	for key, entries := range buffers {
		bl := bufferlist.New(nil, "", nil)
		for _, e := range entries {
			if err := bl.Append(e.Pos, e.Value, nil); err != nil {
				return nil, fmt.Errorf("record: load: replaying %q: %w", key, err)
			}
		}
		rec.items[key] = bl
		rec.keys[key] = true
	}
	return rec, nil
}
