// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec implements partitioning, dependency resolution, and
// evaluation of blockwise tasks. Tasks are compiled into graphs of
// blocks; a single dispatcher owns all block scheduling state and
// hands ready blocks to an executor, whose workers report outcomes
// back through block state broadcasts.
package exec

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
)

// Executor defines an interface used to provide implementations of
// block runners. An Executor is responsible for running single
// blocks: invoking the task's check and process functions and
// reporting the outcome on the block itself.
type Executor interface {
	// Start starts the executor. It is called before evaluation has
	// started.
	Start(*Session) (shutdown func())

	// Runnable hands a claimed block to the executor. The dispatcher
	// never hands a task more blocks than its worker count. After a
	// call to Runnable, the executor owns the block until it
	// broadcasts a BlockOk, BlockErr, or BlockCancelled state; the
	// provided context governs the block's check and process
	// functions.
	Runnable(ctx context.Context, block *Block)
}

// A dispatcher owns all scheduling state for one evaluation: the
// ready queue, per-block dependency accounting, and the per-task
// summaries. Only the dispatching goroutine mutates this state;
// workers communicate with it exclusively through block state
// broadcasts (claim hand-off via Executor.Runnable, outcome reports
// via the block subscriber).
type dispatcher struct {
	graph     *graph
	executor  Executor
	group     *status.Group
	summaries map[string]*Summary

	queue   []*Block       // FIFO of ready blocks, in discovery order
	waiting map[*Block]int // remaining dependency count per pending block
	// resolved marks blocks that have reached their final terminal
	// state and been folded into a summary.
	resolved map[*Block]bool

	// inflight counts blocks claimed per task; a ready block is
	// claimed only when its task has an idle worker slot.
	inflight map[string]int

	outstanding int // blocks handed to the executor and not yet reported
	remaining   int // blocks not yet resolved
	cancelled   bool
}

// evalGraph evaluates the block graph g using the provided executor.
// Blocks are dispatched in global FIFO order: the initial ready
// blocks in task-topological then block-index order, later ones in
// the order their readiness is discovered. A block is claimed only
// when its task has fewer than Workers() blocks in flight; the oldest
// dispatchable block wins. evalGraph returns when every block is in a
// terminal state.
//
// ctx cancellation stops the run: blocks not yet claimed are marked
// cancelled, while in-flight blocks are allowed to finish. workerCtx
// is the context under which workers execute; a session configured
// for hard cancellation passes the run context itself so that
// in-flight process functions are interrupted too.
func evalGraph(ctx, workerCtx context.Context, executor Executor, g *graph, group *status.Group) (Summaries, error) {
	sub := NewBlockSubscriber()
	for _, b := range g.all {
		b.Subscribe(sub)
	}
	defer func() {
		for _, b := range g.all {
			b.Unsubscribe(sub)
		}
	}()

	d := &dispatcher{
		graph:     g,
		executor:  executor,
		group:     group,
		summaries: make(map[string]*Summary, len(g.tasks)),
		waiting:   make(map[*Block]int),
		resolved:  make(map[*Block]bool),
		inflight:  make(map[string]int),
		remaining: len(g.all),
	}
	for _, task := range g.tasks {
		d.summaries[task.Name] = &Summary{Blocks: len(g.blocks[task.Name])}
	}
	for _, b := range g.all {
		if len(b.Deps) == 0 {
			b.Set(BlockReady)
			d.queue = append(d.queue, b)
		} else {
			d.waiting[b] = len(b.Deps)
		}
	}

	for d.remaining > 0 {
		d.dispatch(workerCtx)
		d.printStateCounts()
		if d.remaining == 0 {
			break
		}
		if d.outstanding == 0 && len(d.queue) == 0 {
			// The graph is acyclic and nothing is in flight, so the
			// remaining blocks can never progress. This indicates a
			// scheduling bug.
			log.Panicf("exec: %d blocks unschedulable with no work in flight", d.remaining)
		}
		if d.cancelled {
			<-sub.Ready()
		} else {
			select {
			case <-sub.Ready():
			case <-ctx.Done():
				d.cancel()
				continue
			}
			// Both arms may be ready at once: under hard cancellation,
			// workers report their interrupted blocks just as the run
			// context is cancelled. Observe the cancellation first so
			// that those reports are classified under it.
			select {
			case <-ctx.Done():
				d.cancel()
			default:
			}
		}
		batch := sub.Blocks()
		// Subscriber batches are unordered; fix the order so that
		// same-batch readiness is enqueued deterministically.
		sortBlocks(batch)
		for _, b := range batch {
			d.report(b)
		}
	}

	summaries := make(Summaries, len(d.summaries))
	var failed, orphaned int
	for name, summary := range d.summaries {
		summaries[name] = *summary
		failed += summary.Failed
		orphaned += summary.Orphaned
	}
	if err := ctx.Err(); err != nil {
		return summaries, err
	}
	if failed > 0 || orphaned > 0 {
		return summaries, &RunError{Failed: failed, Orphaned: orphaned}
	}
	return summaries, nil
}

// dispatch claims queued blocks for which worker slots are idle and
// hands them to the executor, preserving queue order among blocks of
// the same task.
func (d *dispatcher) dispatch(ctx context.Context) {
	if d.cancelled {
		return
	}
	var stalled []*Block
	for _, b := range d.queue {
		if d.inflight[b.Name.Task] >= b.Task.Workers() {
			stalled = append(stalled, b)
			continue
		}
		d.claim(b)
		d.inflight[b.Name.Task]++
		d.outstanding++
		log.Debug.Printf("dispatch: %s", b)
		d.executor.Runnable(ctx, b)
	}
	d.queue = stalled
}

// claim transitions a ready block to claimed and charges an attempt.
func (d *dispatcher) claim(b *Block) {
	b.Lock()
	b.state = BlockClaimed
	b.attempts++
	b.Broadcast()
	b.Unlock()
}

// report folds a block state broadcast into scheduling state. Workers
// only ever broadcast BlockRunning, BlockOk, BlockErr, and
// BlockCancelled; broadcasts of the dispatcher's own transitions
// arrive here too and are ignored.
func (d *dispatcher) report(b *Block) {
	if d.resolved[b] {
		return
	}
	b.Lock()
	state, err, skipped, attempts := b.state, b.err, b.skipped, b.attempts
	b.Unlock()
	summary := d.summaries[b.Name.Task]
	switch state {
	case BlockOk:
		d.release(b)
		d.resolve(b)
		if skipped {
			log.Debug.Printf("skip %s: output already produced", b.Name)
			summary.Skipped++
		} else {
			summary.Completed++
		}
		d.unblock(b)
	case BlockErr:
		d.release(b)
		if !d.cancelled && attempts <= b.Task.MaxRetries {
			log.Error.Printf("block %s faulted (attempt %d of %d), retrying: %v",
				b.Name, attempts, b.Task.MaxRetries+1, err)
			b.Set(BlockReady)
			d.queue = append(d.queue, b)
			return
		}
		d.resolve(b)
		if d.cancelled && isCtxErr(err) {
			// A hard cancellation interrupted the process function.
			b.Set(BlockCancelled)
			summary.Cancelled++
			return
		}
		log.Error.Printf("block %s failed permanently after %d attempts: %v", b.Name, attempts, err)
		summary.Failed++
		d.orphan(b)
	case BlockCancelled:
		// The worker abandoned the block before it started running.
		d.release(b)
		d.resolve(b)
		summary.Cancelled++
	}
}

// release returns the worker slot held by a reported block.
func (d *dispatcher) release(b *Block) {
	d.outstanding--
	d.inflight[b.Name.Task]--
}

// isCtxErr tells whether err is, or wraps, a context cancellation or
// deadline error.
func isCtxErr(err error) bool {
	for err != nil {
		if err == context.Canceled || err == context.DeadlineExceeded {
			return true
		}
		wrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = wrapper.Unwrap()
	}
	return false
}

// unblock credits the completion of b to its dependants, enqueueing
// those that become ready.
func (d *dispatcher) unblock(b *Block) {
	for _, dep := range b.Dependants {
		if d.resolved[dep] {
			continue
		}
		d.waiting[dep]--
		if d.waiting[dep] > 0 {
			continue
		}
		delete(d.waiting, dep)
		if d.cancelled {
			dep.Set(BlockCancelled)
			d.resolve(dep)
			d.summaries[dep.Name.Task].Cancelled++
			continue
		}
		dep.Set(BlockReady)
		d.queue = append(d.queue, dep)
	}
}

// orphan marks every unresolved transitive dependant of b orphaned.
// Such blocks are all still pending: a dependant of a failed block
// can never have become ready.
func (d *dispatcher) orphan(b *Block) {
	for _, dep := range b.Dependants {
		if d.resolved[dep] {
			continue
		}
		dep.Set(BlockOrphaned)
		d.resolve(dep)
		d.summaries[dep.Name.Task].Orphaned++
		d.orphan(dep)
	}
}

// cancel abandons all pending and ready blocks. Claimed and running
// blocks stay with their workers; their reports are folded as they
// arrive.
func (d *dispatcher) cancel() {
	d.cancelled = true
	d.queue = nil
	for _, b := range d.graph.all {
		if d.resolved[b] {
			continue
		}
		switch b.State() {
		case BlockPending, BlockReady:
			b.Set(BlockCancelled)
			d.resolve(b)
			d.summaries[b.Name.Task].Cancelled++
		}
	}
}

func (d *dispatcher) resolve(b *Block) {
	d.resolved[b] = true
	d.remaining--
}

// printStateCounts reports an aggregate census of block states to the
// run's status group.
func (d *dispatcher) printStateCounts() {
	if d.group == nil {
		return
	}
	var stateCounts [maxState]int
	for _, b := range d.graph.all {
		stateCounts[b.State()]++
	}
	states := make([]string, maxState)
	for state, count := range stateCounts {
		states[state] = fmt.Sprintf("%s=%d", BlockState(state), count)
	}
	d.group.Printf("blocks: %s", strings.Join(states, " "))
}
