// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package roi provides regions of interest: rectangular sub-ranges of
// an N-dimensional integer coordinate space. ROIs are immutable
// values; all operations return new ROIs. ROIs are half-open: an ROI
// with offset o and shape s spans coordinates [o, o+s) in each
// dimension.
package roi

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
)

// An ROI describes a rectangular region of an N-dimensional
// coordinate space by its offset (lower corner) and shape (extent in
// each dimension). The zero ROI is the empty, zero-dimensional
// region.
type ROI struct {
	offset []int64
	shape  []int64
}

// New returns the ROI with the provided offset and shape. New
// returns an error with kind errors.Invalid if the offset and shape
// have mismatched lengths or if any shape component is negative.
func New(offset, shape []int64) (ROI, error) {
	if len(offset) != len(shape) {
		return ROI{}, errors.E(errors.Invalid,
			fmt.Sprintf("roi.New: offset has %d dimensions, shape has %d", len(offset), len(shape)))
	}
	for i, s := range shape {
		if s < 0 {
			return ROI{}, errors.E(errors.Invalid,
				fmt.Sprintf("roi.New: negative shape %d in dimension %d", s, i))
		}
	}
	r := ROI{
		offset: make([]int64, len(offset)),
		shape:  make([]int64, len(shape)),
	}
	copy(r.offset, offset)
	copy(r.shape, shape)
	return r
}

// Box is a version of New that panics if the offset and shape do not
// describe a valid ROI. It is intended for ROI literals.
func Box(offset, shape []int64) ROI {
	r, err := New(offset, shape)
	if err != nil {
		panic(err)
	}
	return r
}

// Dims returns the dimensionality of the ROI.
func (r ROI) Dims() int { return len(r.shape) }

// Offset returns the i'th component of the ROI's offset.
func (r ROI) Offset(i int) int64 { return r.offset[i] }

// Shape returns the i'th component of the ROI's shape.
func (r ROI) Shape(i int) int64 { return r.shape[i] }

// End returns the (exclusive) upper bound of the ROI in the i'th
// dimension.
func (r ROI) End(i int) int64 { return r.offset[i] + r.shape[i] }

// Size returns the number of coordinates contained in the ROI: the
// product of its shape. The zero ROI has size 0.
func (r ROI) Size() int64 {
	if len(r.shape) == 0 {
		return 0
	}
	size := int64(1)
	for _, s := range r.shape {
		size *= s
	}
	return size
}

// Empty tells whether the ROI contains no coordinates.
func (r ROI) Empty() bool { return r.Size() == 0 }

// Eq tells whether the ROIs r and s describe the same region.
func (r ROI) Eq(s ROI) bool {
	if len(r.shape) != len(s.shape) {
		return false
	}
	for i := range r.shape {
		if r.offset[i] != s.offset[i] || r.shape[i] != s.shape[i] {
			return false
		}
	}
	return true
}

// Intersect returns the intersection of ROIs r and s. If the regions
// are disjoint, the zero ROI is returned. Intersect panics if the
// ROIs have different dimensionality.
func (r ROI) Intersect(s ROI) ROI {
	if len(r.shape) != len(s.shape) {
		panic(fmt.Sprintf("roi.Intersect: mismatched dimensions: %d vs %d", len(r.shape), len(s.shape)))
	}
	t := ROI{
		offset: make([]int64, len(r.shape)),
		shape:  make([]int64, len(r.shape)),
	}
	for i := range r.shape {
		lo := max64(r.offset[i], s.offset[i])
		hi := min64(r.End(i), s.End(i))
		if hi <= lo {
			return ROI{}
		}
		t.offset[i] = lo
		t.shape[i] = hi - lo
	}
	return t
}

// Contains tells whether the ROI s lies entirely within r. The empty
// ROI is contained by every ROI of the same dimensionality, and by
// the zero ROI.
func (r ROI) Contains(s ROI) bool {
	if s.Empty() {
		return len(r.shape) == len(s.shape) || len(s.shape) == 0
	}
	if len(r.shape) != len(s.shape) {
		return false
	}
	for i := range r.shape {
		if s.offset[i] < r.offset[i] || s.End(i) > r.End(i) {
			return false
		}
	}
	return true
}

// ContainsPoint tells whether the coordinate p lies within r.
func (r ROI) ContainsPoint(p []int64) bool {
	if len(p) != len(r.shape) {
		return false
	}
	for i := range p {
		if p[i] < r.offset[i] || p[i] >= r.End(i) {
			return false
		}
	}
	return true
}

// Grow returns the ROI r expanded by lo coordinates below the offset
// and hi coordinates beyond the end in each dimension. Grow is used
// to add context (halo) around an ROI. Grow panics on mismatched
// dimensions.
func (r ROI) Grow(lo, hi []int64) ROI {
	if len(lo) != len(r.shape) || len(hi) != len(r.shape) {
		panic(fmt.Sprintf("roi.Grow: mismatched dimensions: %d vs (%d, %d)", len(r.shape), len(lo), len(hi)))
	}
	t := ROI{
		offset: make([]int64, len(r.shape)),
		shape:  make([]int64, len(r.shape)),
	}
	for i := range r.shape {
		t.offset[i] = r.offset[i] - lo[i]
		t.shape[i] = r.shape[i] + lo[i] + hi[i]
	}
	return t
}

// Shift returns the ROI r translated by the provided delta.
func (r ROI) Shift(by []int64) ROI {
	if len(by) != len(r.shape) {
		panic(fmt.Sprintf("roi.Shift: mismatched dimensions: %d vs %d", len(r.shape), len(by)))
	}
	t := ROI{
		offset: make([]int64, len(r.shape)),
		shape:  make([]int64, len(r.shape)),
	}
	for i := range r.shape {
		t.offset[i] = r.offset[i] + by[i]
		t.shape[i] = r.shape[i]
	}
	return t
}

// String returns the ROI formatted as its per-dimension half-open
// intervals, e.g., "[0:100, 25:75]".
func (r ROI) String() string {
	if len(r.shape) == 0 {
		return "[]"
	}
	intervals := make([]string, len(r.shape))
	for i := range r.shape {
		intervals[i] = fmt.Sprintf("%d:%d", r.offset[i], r.End(i))
	}
	return "[" + strings.Join(intervals, ", ") + "]"
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
