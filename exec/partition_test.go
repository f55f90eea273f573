// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/blockwise"
	"github.com/grailbio/blockwise/roi"
)

func nop(ctx context.Context, read, write roi.ROI) error { return nil }

func TestPartition(t *testing.T) {
	task := &blockwise.Task{
		Name:       "bench",
		Total:      roi.Box([]int64{0}, []int64{4096000}),
		WriteShape: []int64{16384},
		Do:         nop,
	}
	blocks, err := partition(task)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(blocks), 250; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	var size int64
	for i, b := range blocks {
		if got, want := b.Name, (BlockName{Task: "bench", Index: i}); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if !b.ReadROI.Eq(b.WriteROI) {
			t.Errorf("block %d: read %s != write %s without context", i, b.ReadROI, b.WriteROI)
		}
		if !task.Total.Contains(b.WriteROI) {
			t.Errorf("block %d: write %s overflows total", i, b.WriteROI)
		}
		if i > 0 && !blocks[i-1].WriteROI.Intersect(b.WriteROI).Empty() {
			t.Errorf("blocks %d and %d overlap", i-1, i)
		}
		size += b.WriteROI.Size()
	}
	if got, want := size, task.Total.Size(); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPartitionContext(t *testing.T) {
	task := &blockwise.Task{
		Name:       "smooth",
		Total:      roi.Box([]int64{0, 0}, []int64{100, 100}),
		WriteShape: []int64{50, 50},
		Context:    []int64{10, 10},
		Do:         nop,
	}
	blocks, err := partition(task)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(blocks), 4; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	// The first block's halo is clipped at the total's lower bound.
	if got, want := blocks[0].ReadROI, roi.Box([]int64{0, 0}, []int64{60, 60}); !got.Eq(want) {
		t.Errorf("got %s, want %s", got, want)
	}
	// An interior-corner block extends in both directions but is
	// clipped at the upper bound.
	if got, want := blocks[3].ReadROI, roi.Box([]int64{40, 40}, []int64{60, 60}); !got.Eq(want) {
		t.Errorf("got %s, want %s", got, want)
	}
	for _, b := range blocks {
		if !b.ReadROI.Contains(b.WriteROI) {
			t.Errorf("block %v: read %s does not contain write %s", b.Name, b.ReadROI, b.WriteROI)
		}
		if !task.Total.Contains(b.ReadROI) {
			t.Errorf("block %v: read %s overflows total", b.Name, b.ReadROI)
		}
	}
}

func TestPartitionBoundary(t *testing.T) {
	task := &blockwise.Task{
		Name:       "clip",
		Total:      roi.Box([]int64{5}, []int64{95}),
		WriteShape: []int64{30},
		Do:         nop,
	}
	blocks, err := partition(task)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(blocks), 4; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got, want := blocks[3].WriteROI, roi.Box([]int64{95}, []int64{5}); !got.Eq(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestPartitionInvalid(t *testing.T) {
	task := &blockwise.Task{
		Name:       "bad",
		Total:      roi.Box([]int64{0}, []int64{100}),
		WriteShape: []int64{0},
		Do:         nop,
	}
	_, err := partition(task)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBlockNameHash(t *testing.T) {
	a := BlockName{Task: "a", Index: 1}
	if got, want := a.String(), "a@1"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if a.Hash() != (BlockName{Task: "a", Index: 1}).Hash() {
		t.Error("hash not stable")
	}
	if a.Hash() == (BlockName{Task: "a", Index: 2}).Hash() {
		t.Error("hash collision between adjacent blocks")
	}
}
