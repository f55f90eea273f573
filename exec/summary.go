// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import "fmt"

// A Summary aggregates the final disposition of one task's blocks.
// Summaries are folded by the dispatcher as blocks reach terminal
// states (single-writer discipline) and returned by Run.
type Summary struct {
	// Blocks is the total number of blocks the task was partitioned
	// into.
	Blocks int
	// Completed counts blocks whose process function returned without
	// fault.
	Completed int
	// Skipped counts blocks whose check function reported their output
	// as already produced; skipped blocks satisfy dependants like
	// completed ones.
	Skipped int
	// Failed counts blocks whose process function faulted with no
	// retry budget remaining.
	Failed int
	// Orphaned counts blocks that could never run because an upstream
	// block failed permanently.
	Orphaned int
	// Cancelled counts blocks abandoned by an external stop before
	// they started running.
	Cancelled int
}

// Done tells whether every block is accounted for by a terminal
// state.
func (s Summary) Done() bool {
	return s.Completed+s.Skipped+s.Failed+s.Orphaned+s.Cancelled == s.Blocks
}

// OK tells whether the task ran to completion without failed or
// orphaned blocks.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Orphaned == 0
}

// String returns an abbreviated rendering of the summary counts.
func (s Summary) String() string {
	return fmt.Sprintf("blocks:%d completed:%d skipped:%d failed:%d orphaned:%d cancelled:%d",
		s.Blocks, s.Completed, s.Skipped, s.Failed, s.Orphaned, s.Cancelled)
}

// Summaries holds the per-task summaries of a run, keyed by task
// name.
type Summaries map[string]Summary

// OK tells whether every task in the run completed without failed or
// orphaned blocks.
func (s Summaries) OK() bool {
	for _, summary := range s {
		if !summary.OK() {
			return false
		}
	}
	return true
}

// A RunError reports a run that terminated with failed or orphaned
// blocks. The per-task breakdown is available in the summaries
// returned alongside it.
type RunError struct {
	// Failed and Orphaned are counts across all tasks of the run.
	Failed, Orphaned int
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed: %d failed blocks, %d orphaned blocks", e.Failed, e.Orphaned)
}
