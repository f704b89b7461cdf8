// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package bufferlist

import "fmt"

// NDArray is a flat, row-major dense array standing in for the numpy
// array the Python implementation materializes. Unwritten cells hold the
// fill value passed to newNDArray (math.NaN() for float64 data).
type NDArray struct {
	shape  []int
	stride []int
	data   []any
}

func newNDArray(shape []int, fill any) *NDArray {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if n == 0 {
		n = 0
	}
	data := make([]any, n)
	for i := range data {
		data[i] = fill
	}
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return &NDArray{shape: shape, stride: strides, data: data}
}

// Shape returns the array's dimension sizes.
func (a *NDArray) Shape() []int { return append([]int(nil), a.shape...) }

func (a *NDArray) flatIndex(idx []int) (int, error) {
	if len(idx) != len(a.shape) {
		return 0, fmt.Errorf("bufferlist: index arity %d does not match shape arity %d", len(idx), len(a.shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= a.shape[i] {
			return 0, fmt.Errorf("bufferlist: index %d out of bounds for axis %d of size %d", v, i, a.shape[i])
		}
		off += v * a.stride[i]
	}
	return off, nil
}

func (a *NDArray) get(idx []int) (any, error) {
	off, err := a.flatIndex(idx)
	if err != nil {
		return nil, err
	}
	return a.data[off], nil
}

// Get is the exported form of get, for callers outside the package.
func (a *NDArray) Get(idx ...int) (any, error) { return a.get(idx) }

func (a *NDArray) set(idx []int, v any) error {
	off, err := a.flatIndex(idx)
	if err != nil {
		return err
	}
	a.data[off] = v
	return nil
}

// ToSlice flattens the array in row-major order, for tests and export.
func (a *NDArray) ToSlice() []any { return append([]any(nil), a.data...) }

// reverseAxis returns a copy of a with the given axis's elements reversed.
func (a *NDArray) reverseAxis(axis int) *NDArray {
	out := newNDArray(a.shape, nil)
	idx := make([]int, len(a.shape))
	var walk func(d int)
	walk = func(d int) {
		if d == len(a.shape) {
			src := append([]int(nil), idx...)
			src[axis] = a.shape[axis] - 1 - idx[axis]
			v, _ := a.get(src)
			_ = out.set(idx, v)
			return
		}
		for i := 0; i < a.shape[d]; i++ {
			idx[d] = i
			walk(d + 1)
		}
	}
	walk(0)
	return out
}
