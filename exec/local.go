// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
)

// LocalExecutor is an executor that runs blocks in-process in
// separate goroutines. The dispatcher already bounds concurrency per
// task by the task's worker count; if the session configures a
// parallelism cap, the executor additionally bounds total concurrency
// across tasks with a session-wide limiter.
type localExecutor struct {
	// global bounds total concurrency across tasks; nil means the
	// session imposes no cap beyond the per-task worker counts.
	global *limiter.Limiter
	sess   *Session
}

func newLocalExecutor() *localExecutor {
	return &localExecutor{}
}

func (l *localExecutor) Start(sess *Session) (shutdown func()) {
	l.sess = sess
	if sess.p > 0 {
		l.global = limiter.New()
		l.global.Release(sess.p)
	}
	return func() {}
}

func (l *localExecutor) Runnable(ctx context.Context, b *Block) {
	go l.run(ctx, b)
}

func (l *localExecutor) run(ctx context.Context, b *Block) {
	if l.global != nil {
		if err := l.global.Acquire(ctx, 1); err != nil {
			// Worker contexts are cancelled only under hard
			// cancellation, in which case the block never ran.
			b.Set(BlockCancelled)
			return
		}
		defer l.global.Release(1)
	}
	b.Set(BlockRunning)
	if check := b.Task.Check; check != nil {
		done, err := check(ctx, b.WriteROI)
		if err != nil {
			// Precheck faults are not block faults: log and process
			// the block as usual.
			log.Error.Printf("precheck %s: %v", b.Name, err)
		} else if done {
			b.skip()
			return
		}
	}
	if err := runProcess(ctx, b); err != nil {
		b.Error(err)
	} else {
		b.Set(BlockOk)
	}
}

// runProcess invokes the block's process function, converting panics
// into fatal errors so that a faulty process function can never take
// down the dispatcher.
func runProcess(ctx context.Context, b *Block) (err error) {
	defer func() {
		if e := recover(); e != nil {
			stack := debug.Stack()
			err = fmt.Errorf("panic while processing %s: %v\n%s", b.Name, e, string(stack))
			err = errors.E(err, errors.Fatal)
		}
	}()
	return b.Task.Do(ctx, b.ReadROI, b.WriteROI)
}
