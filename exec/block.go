// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/sync/ctxsync"
	"github.com/grailbio/blockwise"
	"github.com/grailbio/blockwise/roi"
	"github.com/spaolacci/murmur3"
)

func init() {
	close(closedc)
}

// closedc is closed in init which can be used any time we just want a closed
// channel (i.e. a channel that is always ready and receives a zero value).
var closedc = make(chan struct{})

// BlockState represents the runtime state of a Block.
type BlockState int

const (
	// BlockPending is the initial state of a block: one or more of its
	// dependencies have not yet completed.
	BlockPending BlockState = iota
	// BlockReady indicates that all of the block's dependencies have
	// completed and the block is queued for dispatch.
	BlockReady
	// BlockClaimed indicates that the dispatcher has handed the block
	// to an executor but a worker has not yet begun processing it.
	BlockClaimed
	// BlockRunning is the state of a block whose process function is
	// currently being invoked by a worker.
	BlockRunning

	// BlockOk indicates that the block completed: its process function
	// returned without fault, or its check function reported the
	// block's output as already produced (the block was skipped).
	BlockOk
	// BlockErr indicates that the block's process function faulted.
	// The dispatcher returns the block to BlockReady while its task's
	// retry budget lasts; otherwise BlockErr is terminal.
	BlockErr
	// BlockOrphaned indicates that the block can never run because a
	// block it depends on, directly or transitively, failed
	// permanently.
	BlockOrphaned
	// BlockCancelled indicates that the block was abandoned by an
	// external stop before it started running.
	BlockCancelled

	maxState
)

var states = [...]string{
	BlockPending:   "PENDING",
	BlockReady:     "READY",
	BlockClaimed:   "CLAIMED",
	BlockRunning:   "RUNNING",
	BlockOk:        "OK",
	BlockErr:       "ERROR",
	BlockOrphaned:  "ORPHANED",
	BlockCancelled: "CANCELLED",
}

// String returns the block's state as an upper-case string.
func (s BlockState) String() string {
	return states[s]
}

// Terminal tells whether s is a resting state from which the
// dispatcher performs no further transitions. Note that BlockErr is
// terminal only once the block's retry budget is exhausted; the
// dispatcher resolves this.
func (s BlockState) Terminal() bool {
	switch s {
	case BlockOk, BlockErr, BlockOrphaned, BlockCancelled:
		return true
	}
	return false
}

// A BlockName uniquely names a block by its task and its row-major
// position in the task's block grid. Names are stable across runs:
// re-running a task addresses the same block identities, which is
// what makes retries and precheck-skips meaningful.
type BlockName struct {
	// Task is the name of the task that owns the block.
	Task string
	// Index is the block's row-major index in the task's grid.
	Index int
}

// String returns a canonical representation of the block name,
// formatted as:
//
//	{n.Task}@{n.Index}
func (n BlockName) String() string {
	return fmt.Sprintf("%s@%d", n.Task, n.Index)
}

// Hash returns a stable 64-bit hash of the block's name, used to
// address per-block artifacts (e.g., chunk paths in a store).
func (n BlockName) Hash() uint64 {
	return murmur3.Sum64([]byte(n.String()))
}

// A BlockSubscriber is subscribed to a Block using Subscribe. It is then
// notified whenever the Block's state changes. This is useful for
// efficiently observing the state changes of many blocks.
type BlockSubscriber struct {
	sync.Mutex
	cond *ctxsync.Cond

	// blocks holds the set of blocks that have changed since the last
	// call to Blocks.
	blocks map[*Block]struct{}
}

// NewBlockSubscriber returns a new BlockSubscriber. It needs to be
// subscribed to a Block with Subscribe for it to be notified of block
// state changes.
func NewBlockSubscriber() *BlockSubscriber {
	s := &BlockSubscriber{blocks: make(map[*Block]struct{})}
	s.cond = ctxsync.NewCond(s)
	return s
}

// Notify notifies s of a block whose state has changed.
func (s *BlockSubscriber) Notify(block *Block) {
	s.Lock()
	defer s.Unlock()
	s.blocks[block] = struct{}{}
	s.cond.Broadcast()
}

// Ready returns a channel that is closed if a subsequent call to
// Blocks will return a non-nil slice.
func (s *BlockSubscriber) Ready() <-chan struct{} {
	s.Lock()
	if len(s.blocks) > 0 {
		s.Unlock()
		return closedc
	}
	return s.cond.Done()
}

// Blocks returns the blocks whose state has changed since the last
// call to Blocks.
func (s *BlockSubscriber) Blocks() []*Block {
	s.Lock()
	defer s.Unlock()
	blocks := make([]*Block, 0, len(s.blocks))
	for block := range s.blocks {
		blocks = append(blocks, block)
	}
	s.blocks = make(map[*Block]struct{})
	return blocks
}

// A Block is the unit of schedulable work: one tile of a task's total
// ROI. Blocks are created by the partitioner and coordinate execution
// between the dispatcher (which owns scheduling state) and workers
// (which report execution outcomes). Blocks embed a mutex for
// coordination and provide a context-aware conditional variable to
// coordinate runtime state changes.
type Block struct {
	// Name is the block's stable identity.
	Name BlockName
	// Task is the task that owns this block.
	Task *blockwise.Task
	// ReadROI is the region the block's process function may read:
	// the write region grown by the task's context, clipped to the
	// task's total ROI.
	ReadROI roi.ROI
	// WriteROI is the region the block's process function produces.
	// Write regions of a task's blocks are pairwise disjoint and
	// together cover the task's total ROI.
	WriteROI roi.ROI

	// Deps are the upstream blocks gating this block's readiness:
	// every block of a required task whose write region intersects
	// this block's read region.
	Deps []*Block
	// Dependants are the downstream blocks whose Deps include this
	// block. Used for readiness accounting and orphan propagation.
	Dependants []*Block

	// subs is the set of subscribers to which this block is reported
	// whenever its state changes.
	subs []*BlockSubscriber

	// The following are used to coordinate runtime execution.

	sync.Mutex
	waitc chan struct{}

	// state is the block's state. It is protected by the block's lock
	// and state changes are also broadcast on the block's condition
	// variable.
	state BlockState
	// err is defined when state == BlockErr.
	err error
	// skipped is set when the block's check function reported its
	// output as already produced; such blocks reach BlockOk without
	// running the process function.
	skipped bool
	// attempts counts how many times the block has been dispatched.
	attempts int
}

// String returns a short, human-readable string describing the
// block's state.
func (b *Block) String() string {
	// We play fast-and-loose with concurrency here (we read state and
	// err without holding the block's mutex) so that it is safe to call
	// String even when the lock is held.
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "block %s %s %s", b.Name, b.WriteROI, b.state)
	if b.err != nil {
		fmt.Fprintf(&buf, ": %v", b.err)
	}
	return buf.String()
}

// Set sets the block's state to the provided state and notifies any
// waiters.
func (b *Block) Set(state BlockState) {
	b.Lock()
	b.state = state
	b.Broadcast()
	b.Unlock()
}

// Error sets the block's state to BlockErr and its error to the
// provided error. Waiters are notified.
func (b *Block) Error(err error) {
	b.Lock()
	b.state = BlockErr
	b.err = err
	b.Broadcast()
	b.Unlock()
}

// Errorf formats an error message using fmt.Errorf, sets the block's
// state to BlockErr and its err to the resulting error message.
func (b *Block) Errorf(format string, v ...interface{}) {
	b.Error(fmt.Errorf(format, v...))
}

// Err returns the block's error, if the block is in state BlockErr.
func (b *Block) Err() error {
	b.Lock()
	defer b.Unlock()
	if b.state == BlockErr {
		if b.err == nil {
			panic("BlockErr without an err")
		}
		return b.err
	}
	return nil
}

// State returns the block's current state.
func (b *Block) State() BlockState {
	b.Lock()
	state := b.state
	b.Unlock()
	return state
}

// Skipped tells whether the block reached BlockOk by way of its check
// function rather than by running its process function.
func (b *Block) Skipped() bool {
	b.Lock()
	skipped := b.skipped
	b.Unlock()
	return skipped
}

// Attempts returns the number of times the block has been dispatched
// to a worker.
func (b *Block) Attempts() int {
	b.Lock()
	attempts := b.attempts
	b.Unlock()
	return attempts
}

// skip marks the block skipped and completed in a single transition.
func (b *Block) skip() {
	b.Lock()
	b.skipped = true
	b.state = BlockOk
	b.Broadcast()
	b.Unlock()
}

// Broadcast notifies waiters of a state change. Broadcast must only
// be called while the block's lock is held.
func (b *Block) Broadcast() {
	if b.waitc != nil {
		close(b.waitc)
		b.waitc = nil
	}
	for _, sub := range b.subs {
		sub.Notify(b)
	}
}

// Wait returns after the next call to Broadcast, or if the context
// is complete. The block's lock must be held when calling Wait.
func (b *Block) Wait(ctx context.Context) error {
	if b.waitc == nil {
		b.waitc = make(chan struct{})
	}
	waitc := b.waitc
	b.Unlock()
	var err error
	select {
	case <-waitc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	b.Lock()
	return err
}

// WaitState returns when the block's state is at least the provided
// state, or else when the context is done. Note that a block's state
// is not monotone: a faulted block with retry budget left returns to
// BlockReady, so waiters for BlockOk may observe BlockErr of an
// attempt that is later retried.
func (b *Block) WaitState(ctx context.Context, state BlockState) (BlockState, error) {
	b.Lock()
	defer b.Unlock()
	var err error
	for b.state < state && err == nil {
		err = b.Wait(ctx)
	}
	return b.state, err
}

// Subscribe subscribes s to be notified of any changes to b's state.
// If s has already been subscribed, no-op.
func (b *Block) Subscribe(s *BlockSubscriber) {
	b.Lock()
	defer b.Unlock()
	for _, sub := range b.subs {
		if s == sub {
			return
		}
	}
	b.subs = append(b.subs, s)
}

// Unsubscribe unsubscribes previously subscribed s. s will no longer
// receive block state change notifications. No-op if s was never
// subscribed.
func (b *Block) Unsubscribe(s *BlockSubscriber) {
	b.Lock()
	defer b.Unlock()
	subs := b.subs[:0]
	for _, sub := range b.subs {
		if s == sub {
			continue
		}
		subs = append(subs, sub)
	}
	b.subs = subs
}
