// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package blockwise

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/blockwise/roi"
)

// A Process is the function invoked by a worker for each block of a
// task. It receives the block's read and write ROIs; the data
// addressed by these regions is owned by the caller (e.g., a chunked
// array store), never by the scheduler. A Process should be
// idempotent: it may be re-invoked on the same block when the block
// is retried after a fault.
type Process func(ctx context.Context, read, write roi.ROI) error

// A Check is an optional predicate that tells whether a block's write
// region has already been produced, for example by a previous run.
// Blocks for which Check returns true are skipped rather than
// processed. Errors from Check are logged and treated as false.
type Check func(ctx context.Context, write roi.ROI) (bool, error)

// A Task describes one blockwise processing step over a total ROI.
// The total ROI is tiled into blocks of shape WriteShape; each
// block's read region is its write region grown by Context in every
// dimension (and clipped to the total ROI). Tasks may require other
// tasks; requirements are resolved at the block level by ROI overlap.
//
// Tasks are immutable once passed to a session's Run.
type Task struct {
	// Name uniquely identifies the task within a run.
	Name string

	// Total is the task's total ROI: the union of all block write
	// regions.
	Total roi.ROI

	// WriteShape is the shape in which Total is tiled into block write
	// regions. Boundary blocks are clipped to Total, so write regions
	// may be smaller than WriteShape at the upper bounds.
	WriteShape []int64

	// Context is the per-dimension halo added symmetrically to each
	// block's write region to form its read region. A nil Context
	// means the read region equals the write region.
	Context []int64

	// Do is the process function invoked once per block.
	Do Process

	// Check, if non-nil, is consulted before Do; blocks whose write
	// region Check reports as already produced are skipped.
	Check Check

	// NumWorkers is the number of workers that may process this task's
	// blocks concurrently. Zero means 1.
	NumWorkers int

	// MaxRetries is the number of times a faulted block is returned to
	// the ready queue before it is recorded as failed. Zero means
	// blocks get a single attempt.
	MaxRetries int

	// Requires lists the tasks whose output this task reads. A block
	// of this task becomes ready only when every block of a required
	// task whose write region intersects this block's read region has
	// completed.
	Requires []*Task
}

// Workers returns the task's effective worker count.
func (t *Task) Workers() int {
	if t.NumWorkers <= 0 {
		return 1
	}
	return t.NumWorkers
}

// Validate checks that the task is well formed: it has a name, a
// process function, and block shapes that match the dimensionality of
// its total ROI. Validate returns errors of kind errors.Invalid.
func (t *Task) Validate() error {
	if t.Name == "" {
		return errors.E(errors.Invalid, "task has no name")
	}
	if t.Do == nil {
		return errors.E(errors.Invalid, fmt.Sprintf("task %s: no process function", t.Name))
	}
	dims := t.Total.Dims()
	if dims == 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("task %s: empty total ROI", t.Name))
	}
	if len(t.WriteShape) != dims {
		return errors.E(errors.Invalid,
			fmt.Sprintf("task %s: write shape has %d dimensions, total ROI has %d", t.Name, len(t.WriteShape), dims))
	}
	for i, s := range t.WriteShape {
		if s <= 0 {
			return errors.E(errors.Invalid,
				fmt.Sprintf("task %s: non-positive write shape %d in dimension %d", t.Name, s, i))
		}
	}
	if t.Context != nil {
		if len(t.Context) != dims {
			return errors.E(errors.Invalid,
				fmt.Sprintf("task %s: context has %d dimensions, total ROI has %d", t.Name, len(t.Context), dims))
		}
		for i, c := range t.Context {
			if c < 0 {
				return errors.E(errors.Invalid,
					fmt.Sprintf("task %s: negative context %d in dimension %d", t.Name, c, i))
			}
		}
	}
	if t.MaxRetries < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("task %s: negative retry budget", t.Name))
	}
	return nil
}
