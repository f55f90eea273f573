// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/diagnostic/dump"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"
	"github.com/grailbio/blockwise"
)

// Session represents a blockwise compute session. A session shares an
// executor and is valid for the run of the binary; a session can run
// multiple task graphs, allowing for iterative computing.
//
// A session is started by the Start method:
//
//	sess := exec.Start(exec.Local)
//	defer sess.Shutdown()
//	summaries, err := sess.Run(ctx, tasks...)
type Session struct {
	context.Context
	index    int32
	shutdown func()
	// p caps the total number of concurrently running blocks across
	// all tasks; 0 means no cap beyond the per-task worker counts.
	p          int
	hardCancel bool
	executor   Executor
	status     *status.Status
	eventer    eventlog.Eventer

	mu sync.Mutex
	// graphs stores all block graphs run by this session; used for
	// debugging.
	graphs []*graph
}

func newSession() *Session {
	return &Session{
		Context: backgroundcontext.Get(),
		index:   atomic.AddInt32(&nextSessionIndex, 1) - 1,
		eventer: eventlog.Nop{},
	}
}

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// Local configures a session with the local in-process executor.
var Local Option = func(s *Session) {
	s.executor = newLocalExecutor()
}

// Parallelism configures the session with a cap on the total number
// of blocks running concurrently across all tasks. Without it, total
// concurrency is the sum of the worker counts of the tasks that have
// ready blocks.
func Parallelism(p int) Option {
	must.True(p > 0, "exec.Parallelism: p <= 0")
	return func(s *Session) {
		s.p = p
	}
}

// Status configures the session with a status object to which run
// progress is reported.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status

		name := fmt.Sprintf("blockwise-%02d-status", s.index)
		dump.Register(name, func(ctx context.Context, w io.Writer) error {
			return status.Marshal(w)
		})
	}
}

// Eventer configures the session with an Eventer that will be used to
// log session events (for analytics).
func Eventer(e eventlog.Eventer) Option {
	return func(s *Session) {
		s.eventer = e
	}
}

// HardCancel configures the session so that cancelling a run's
// context also interrupts in-flight process functions. By default
// cancellation is graceful: blocks that have already started are
// allowed to finish.
var HardCancel Option = func(s *Session) {
	s.hardCancel = true
}

// nextSessionIndex is the index of the next session that will be
// started by Start. In general, there should be only one session per
// process, but we violate this in some tests.
var nextSessionIndex int32

// Start creates and starts a new blockwise session, configuring it
// according to the provided options. The returned session remains
// valid for the lifetime of the binary. If no executor is configured,
// the session uses the local in-process executor.
func Start(options ...Option) *Session {
	s := newSession()
	for _, opt := range options {
		opt(s)
	}
	if s.executor == nil {
		s.executor = newLocalExecutor()
	}
	s.start()
	return s
}

func (s *Session) start() {
	s.shutdown = s.executor.Start(s)
	s.eventer.Event("blockwise:sessionStart",
		"parallelism", s.p,
		"hardCancel", s.hardCancel)
}

// Run evaluates the provided tasks (and, transitively, the tasks they
// require). Run returns when every block of every task has reached a
// terminal state, or else when the task graph is rejected before
// execution (cycles, invalid shapes, duplicate names).
//
// Run returns the per-task summaries along with an error that is
// non-nil if the run's context was cancelled or if any block failed
// or was orphaned. It is safe to make concurrent calls to Run; the
// underlying evaluations proceed independently.
func (s *Session) Run(ctx context.Context, tasks ...*blockwise.Task) (Summaries, error) {
	g, err := newGraph(tasks)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.graphs = append(s.graphs, g)
	runIndex := len(s.graphs) - 1
	s.mu.Unlock()

	var group *status.Group
	if s.status != nil {
		group = s.status.Groupf("run %d blocks", runIndex)
		taskGroup := s.status.Groupf("run %d tasks", runIndex)
		maintainCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go maintainTaskGroup(maintainCtx, g, taskGroup)
	}

	workerCtx := backgroundcontext.Get()
	if s.hardCancel {
		workerCtx = ctx
	}
	summaries, err := evalGraph(ctx, workerCtx, s.executor, g, group)
	s.eventer.Event("blockwise:runDone",
		"run", runIndex,
		"tasks", len(g.tasks),
		"blocks", len(g.all),
		"ok", err == nil)
	return summaries, err
}

// Must is a version of Run that panics if the run fails.
func (s *Session) Must(ctx context.Context, tasks ...*blockwise.Task) Summaries {
	summaries, err := s.Run(ctx, tasks...)
	if err != nil {
		log.Panicf("exec.Run: %v", err)
	}
	return summaries
}

// Shutdown tears down resources associated with this session. It
// should be called when the session is discarded.
func (s *Session) Shutdown() {
	if s.shutdown != nil {
		s.shutdown()
	}
}

// Status returns the session's status aggregator.
func (s *Session) Status() *status.Status {
	return s.status
}

// HandleDebug adds handlers for debug endpoints to the provided
// ServeMux, under /debug.
func (s *Session) HandleDebug(handler *http.ServeMux) {
	handler.Handle("/debug", http.HandlerFunc(s.handleDebug))
	handler.Handle("/debug/blocks", http.HandlerFunc(s.handleBlocks))
	if s.status != nil {
		handler.Handle("/debug/status", status.Handler(s.status))
	}
}
