// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package record

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"
)

// LoopEntry captures one independent variable's declared values, when
// they are a concrete finite sequence (as opposed to a callable or
// optimizer-backed loop, which has no fixed axis to snapshot).
type LoopEntry struct {
	Names  []string
	Values []any
}

// Description is the scan metadata captured at record_create time:
// app/tags for the query layer, the dependency order from the planner,
// consts, independent-variable loop axes, and an environment snapshot.
// Captured once and never mutated, per spec.md's Record lifecycle.
type Description struct {
	App   string
	Tags  []string
	Ctime time.Time

	// Order mirrors planner.Plan.Order: level -> ready groups of names.
	Order map[int][][]string

	Consts map[string]any
	Loops  map[int][]LoopEntry

	// EntryScripts captures the source of the scan's entry point(s), and
	// Env the process environment, both snapshotted at scan start.
	EntryScripts map[string]string
	Env          map[string]string

	// HidePatterns is the *source text* of the hidden-variable regexes in
	// effect for this scan, snapshotted so a replay of the same record is
	// reproducible even if the live scan's patterns later change. See
	// DESIGN.md's "Explicit redesign decisions" for why this is captured
	// here instead of re-derived at read time.
	HidePatterns []string
}

// DecodeDescription reverses the gob encoding a client or runner applies
// before handing a Description across the wire or into RecordCreate.
func DecodeDescription(data []byte) (Description, error) {
	var desc Description
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&desc); err != nil {
		return Description{}, fmt.Errorf("record: decoding description: %w", err)
	}
	return desc, nil
}

// levelOf returns, for every name appearing in Order or Consts, the level
// at which it is first bound (-1 for consts and level -1 loops).
func (d Description) levelOf() map[string]int {
	levels := map[string]int{}
	for level, groups := range d.Order {
		for _, names := range groups {
			for _, n := range names {
				levels[n] = level
			}
		}
	}
	for name := range d.Consts {
		if _, ok := levels[name]; !ok {
			levels[name] = -1
		}
	}
	return levels
}
