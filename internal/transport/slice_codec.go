// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package transport

import "github.com/scanrec/scanrec/internal/bufferlist"

// EncodeSlice converts a bufferlist.Slice into its wire representation.
func EncodeSlice(s *bufferlist.Slice) *SliceSpec {
	if s == nil {
		return nil
	}
	out := &SliceSpec{Axes: make([]AxisSpec, len(s.Axes))}
	for i, a := range s.Axes {
		out.Axes[i] = AxisSpec{
			IsIndex: a.IsIndex, Index: a.Index,
			Start: a.Start, HasStart: a.HasStart,
			Stop: a.Stop, HasStop: a.HasStop,
			Step: a.Step,
		}
	}
	return out
}

// DecodeSlice reverses EncodeSlice.
func DecodeSlice(s *SliceSpec) *bufferlist.Slice {
	if s == nil {
		return nil
	}
	out := &bufferlist.Slice{Axes: make([]bufferlist.AxisSelector, len(s.Axes))}
	for i, a := range s.Axes {
		if a.IsIndex {
			out.Axes[i] = bufferlist.Index(a.Index)
			continue
		}
		out.Axes[i] = bufferlist.Range(a.Start, a.HasStart, a.Stop, a.HasStop, a.Step)
	}
	return out
}
