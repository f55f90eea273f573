// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"errors"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"
)

// TestBlockSubscriber verifies that block subscribers receive all blocks
// whose state changes.
func TestBlockSubscriber(t *testing.T) {
	const (
		numBlocks  = 10000
		numWriters = 8
	)
	var (
		sub    = NewBlockSubscriber()
		unsub  = NewBlockSubscriber()
		blocks = make([]*Block, numBlocks)
	)
	for i := range blocks {
		blocks[i] = &Block{}
		blocks[i].Subscribe(sub)
		// Throw in a subscriber that is immediately unsubscribed to make sure
		// it doesn't gum up the works.
		blocks[i].Subscribe(unsub)
		blocks[i].Unsubscribe(unsub)
	}
	var (
		mu      sync.Mutex
		want    = make(map[*Block]bool)
		writeWG sync.WaitGroup
	)
	for i := 0; i < numWriters; i++ {
		writeWG.Add(1)
		go func() {
			defer writeWG.Done()
			for j := 0; j < numBlocks/numWriters/2; j++ {
				block := blocks[rand.Intn(len(blocks))]
				newState := BlockState(1 + rand.Intn(int(maxState)-1))
				block.Set(newState)
				mu.Lock()
				want[block] = true
				mu.Unlock()
			}
		}()
	}
	var (
		got    = make(map[*Block]bool)
		donec  = make(chan struct{})
		readWG sync.WaitGroup
	)
	readWG.Add(1)
	go func() {
		defer readWG.Done()
		for {
			select {
			case <-sub.Ready():
				for _, block := range sub.Blocks() {
					got[block] = true
				}
			case <-donec:
				// Drain.
				for {
					select {
					case <-sub.Ready():
						for _, block := range sub.Blocks() {
							got[block] = true
						}
					default:
						return
					}
				}
			}
		}
	}()
	writeWG.Wait()
	close(donec)
	readWG.Wait()
	if !reflect.DeepEqual(got, want) {
		t.Logf("len(got), len(want): %d, %d", len(got), len(want))
		t.Errorf("modified block was not seen by subscriber")
	}
	// The unsubscribed subscriber should see nothing.
	if got, want := len(unsub.Blocks()), 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBlockWaitState(t *testing.T) {
	b := &Block{}
	go func() {
		b.Set(BlockReady)
		b.Set(BlockRunning)
		b.Set(BlockOk)
	}()
	ctx := context.Background()
	state, err := b.WaitState(ctx, BlockOk)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := state, BlockOk; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBlockWaitCancel(t *testing.T) {
	b := &Block{}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := b.WaitState(ctx, BlockOk)
	if got, want := err, context.DeadlineExceeded; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBlockErr(t *testing.T) {
	b := &Block{}
	if err := b.Err(); err != nil {
		t.Fatal(err)
	}
	fault := errors.New("process fault")
	b.Error(fault)
	if got, want := b.State(), BlockErr; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := b.Err(), fault; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
