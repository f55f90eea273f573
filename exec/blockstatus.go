// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
)

// stateCounts is a snapshot of the counts of blocks in the states
// that we display in status.
type stateCounts struct {
	// task is the name of the task to which these counts apply.
	task      string
	pending   int32
	ready     int32
	running   int32
	done      int32
	failed    int32
	orphaned  int32
	cancelled int32
}

// Adds n to the count for state. n may be negative.
func (c *stateCounts) add(state BlockState, n int32) {
	switch state {
	case BlockPending:
		c.pending += n
	case BlockReady, BlockClaimed:
		c.ready += n
	case BlockRunning:
		c.running += n
	case BlockOk:
		c.done += n
	case BlockErr:
		c.failed += n
	case BlockOrphaned:
		c.orphaned += n
	case BlockCancelled:
		c.cancelled += n
	default:
		log.Panicf("unhandled block state: %v", state)
	}
}

// printTo prints the counts of c to t.
func (c stateCounts) printTo(t *status.Task) {
	if c.failed > 0 || c.orphaned > 0 || c.cancelled > 0 {
		// Provide a more detailed view if there are blocks that
		// failed, were orphaned, or were cancelled.
		t.Printf("blocks pending/ready/running/done/failed/orphaned/cancelled: %d/%d/%d/%d/%d/%d/%d",
			c.pending, c.ready, c.running, c.done, c.failed, c.orphaned, c.cancelled)
		return
	}
	t.Printf("blocks pending/ready/running/done: %d/%d/%d/%d", c.pending, c.ready, c.running, c.done)
}

// maintainTaskGroup maintains a status.Group with one entry per task,
// tracking the evaluation progress of the task's blocks. This is
// usually called in a goroutine and returns only when ctx is done.
func maintainTaskGroup(ctx context.Context, g *graph, group *status.Group) {
	taskToStatusTask := make(map[string]*status.Task, len(g.tasks))
	for _, task := range g.tasks {
		taskToStatusTask[task.Name] = group.Start(task.Name)
	}
	group.Printf("count: %d", len(taskToStatusTask))
	cCounts := make(chan stateCounts)
	go monitorStateCounts(ctx, g, cCounts)
	for counts := range cCounts {
		counts.printTo(taskToStatusTask[counts.task])
	}
	for _, statusTask := range taskToStatusTask {
		statusTask.Printf("blocks done")
		statusTask.Done()
	}
	group.Printf("count: %d; done", len(taskToStatusTask))
}

// monitorStateCounts continually sends stateCounts to out as the
// states of blocks are updated.
func monitorStateCounts(ctx context.Context, g *graph, out chan<- stateCounts) {
	sub := NewBlockSubscriber()
	blockToLastState := make(map[*Block]BlockState, len(g.all))
	taskToCounts := make(map[string]stateCounts, len(g.tasks))
	for _, b := range g.all {
		// Subscribe to updates before we grab the initial state so
		// that we are guaranteed to see every subsequent update.
		b.Subscribe(sub)
		state := b.State()
		blockToLastState[b] = state
		counts := taskToCounts[b.Name.Task]
		counts.task = b.Name.Task
		counts.add(state, 1)
		taskToCounts[b.Name.Task] = counts
		out <- counts
	}
	defer func() {
		for _, b := range g.all {
			b.Unsubscribe(sub)
		}
	}()
loop:
	for {
		select {
		case <-sub.Ready():
			for _, b := range sub.Blocks() {
				lastState := blockToLastState[b]
				state := b.State()
				counts := taskToCounts[b.Name.Task]
				counts.add(lastState, -1)
				counts.add(state, 1)
				taskToCounts[b.Name.Task] = counts
				blockToLastState[b] = state
				out <- counts
			}
		case <-ctx.Done():
			break loop
		}
	}
	close(out)
}
