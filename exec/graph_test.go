// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/blockwise"
	"github.com/grailbio/blockwise/roi"
)

func TestGraphTopoSort(t *testing.T) {
	a := &blockwise.Task{
		Name:       "a",
		Total:      roi.Box([]int64{0}, []int64{100}),
		WriteShape: []int64{10},
		Do:         nop,
	}
	b := &blockwise.Task{
		Name:       "b",
		Total:      roi.Box([]int64{0}, []int64{100}),
		WriteShape: []int64{10},
		Do:         nop,
		Requires:   []*blockwise.Task{a},
	}
	c := &blockwise.Task{
		Name:       "c",
		Total:      roi.Box([]int64{0}, []int64{100}),
		WriteShape: []int64{10},
		Do:         nop,
		Requires:   []*blockwise.Task{b, a},
	}
	// Only the sink is passed; the graph includes the transitive
	// closure.
	g, err := newGraph([]*blockwise.Task{c})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(g.tasks), 3; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	index := make(map[string]int)
	for i, task := range g.tasks {
		index[task.Name] = i
	}
	if index["a"] > index["b"] || index["b"] > index["c"] {
		t.Errorf("not topologically sorted: %v", index)
	}
	if got, want := len(g.all), 30; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGraphCycle(t *testing.T) {
	a := &blockwise.Task{
		Name:       "a",
		Total:      roi.Box([]int64{0}, []int64{100}),
		WriteShape: []int64{10},
		Do:         nop,
	}
	b := &blockwise.Task{
		Name:       "b",
		Total:      roi.Box([]int64{0}, []int64{100}),
		WriteShape: []int64{10},
		Do:         nop,
		Requires:   []*blockwise.Task{a},
	}
	a.Requires = []*blockwise.Task{b}
	_, err := newGraph([]*blockwise.Task{a})
	if got, want := err, ErrCyclicDependency; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGraphDuplicateName(t *testing.T) {
	a1 := &blockwise.Task{
		Name:       "a",
		Total:      roi.Box([]int64{0}, []int64{100}),
		WriteShape: []int64{10},
		Do:         nop,
	}
	a2 := &blockwise.Task{
		Name:       "a",
		Total:      roi.Box([]int64{0}, []int64{100}),
		WriteShape: []int64{10},
		Do:         nop,
	}
	_, err := newGraph([]*blockwise.Task{a1, a2})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGraphBlockDeps(t *testing.T) {
	up := &blockwise.Task{
		Name:       "up",
		Total:      roi.Box([]int64{0}, []int64{100}),
		WriteShape: []int64{10},
		Do:         nop,
	}
	// Each downstream block reads one block of halo on either side,
	// so interior blocks depend on three upstream blocks.
	down := &blockwise.Task{
		Name:       "down",
		Total:      roi.Box([]int64{0}, []int64{100}),
		WriteShape: []int64{10},
		Context:    []int64{10},
		Do:         nop,
		Requires:   []*blockwise.Task{up},
	}
	g, err := newGraph([]*blockwise.Task{down})
	if err != nil {
		t.Fatal(err)
	}
	blocks := g.blocks["down"]
	if got, want := len(blocks), 10; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, b := range blocks {
		want := 3
		if i == 0 || i == len(blocks)-1 {
			want = 2 // halo clipped at the boundary
		}
		if got := len(b.Deps); got != want {
			t.Errorf("block %d: got %v deps, want %v", i, got, want)
		}
		for _, dep := range b.Deps {
			if dep.WriteROI.Intersect(b.ReadROI).Empty() {
				t.Errorf("block %d: dep %v does not overlap read region", i, dep.Name)
			}
		}
	}
	// Upstream blocks know their dependants, in deterministic order.
	upBlocks := g.blocks["up"]
	if got, want := len(upBlocks[5].Dependants), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	for i := 1; i < len(upBlocks[5].Dependants); i++ {
		prev, cur := upBlocks[5].Dependants[i-1], upBlocks[5].Dependants[i]
		if prev.Name.Index >= cur.Name.Index {
			t.Errorf("dependants out of order: %v then %v", prev.Name, cur.Name)
		}
	}
	// Upstream blocks have no deps of their own.
	for _, b := range upBlocks {
		if len(b.Deps) != 0 {
			t.Errorf("unexpected deps on root block %v", b.Name)
		}
	}
}

func TestGraphDisjointTotals(t *testing.T) {
	// The downstream task reads a region disjoint from the upstream
	// total; no dependency edges result, which makes all of its
	// blocks immediately ready.
	up := &blockwise.Task{
		Name:       "up",
		Total:      roi.Box([]int64{0}, []int64{100}),
		WriteShape: []int64{10},
		Do:         nop,
	}
	down := &blockwise.Task{
		Name:       "down",
		Total:      roi.Box([]int64{1000}, []int64{100}),
		WriteShape: []int64{10},
		Do:         nop,
		Requires:   []*blockwise.Task{up},
	}
	g, err := newGraph([]*blockwise.Task{down})
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range g.blocks["down"] {
		if len(b.Deps) != 0 {
			t.Errorf("unexpected deps on block %v", b.Name)
		}
	}
}
