// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"errors"
	"fmt"
	"sort"

	baseerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/blockwise"
	"github.com/grailbio/blockwise/roi"
	"golang.org/x/sync/errgroup"
)

// ErrCyclicDependency indicates that the task graph passed to Run
// contains a dependency cycle. Cycles are detected before any block
// is executed.
var ErrCyclicDependency = errors.New("task graph contains a cycle")

// A graph is a compiled run: the transitive closure of the requested
// tasks in topological order, their blocks, and the block-level
// dependency edges between them. Graphs are immutable once built;
// only block runtime state changes during evaluation.
type graph struct {
	// tasks is the transitive closure of the requested tasks, in
	// topological order (requirements before dependants).
	tasks []*blockwise.Task
	// blocks maps each task name to the task's ordered blocks.
	blocks map[string][]*Block
	// all is the global block order: tasks in topological order, and
	// within a task, ascending block index. This order defines the
	// initial FIFO discovery order used by the dispatcher.
	all []*Block
}

// newGraph compiles the transitive closure of the provided tasks into
// a block graph. It validates and topologically sorts the tasks
// (returning ErrCyclicDependency on a cycle and an Invalid error on
// duplicate task names), partitions each task into blocks, and
// resolves block dependencies: a block depends on every block of a
// required task whose write region intersects the block's read
// region.
func newGraph(tasks []*blockwise.Task) (*graph, error) {
	sorted, err := toposort(tasks)
	if err != nil {
		return nil, err
	}
	g := &graph{
		tasks:  sorted,
		blocks: make(map[string][]*Block, len(sorted)),
	}
	for _, task := range sorted {
		blocks, err := partition(task)
		if err != nil {
			return nil, err
		}
		g.blocks[task.Name] = blocks
		g.all = append(g.all, blocks...)
	}
	// Resolve cross-task block dependencies. Tasks are independent of
	// one another here, so fan out.
	var group errgroup.Group
	for _, task := range sorted {
		task := task
		group.Go(func() error {
			return g.resolve(task)
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	// Dependant edges are appended from multiple resolve calls; fix a
	// deterministic order for scheduling and tests.
	for _, b := range g.all {
		sortBlocks(b.Dependants)
	}
	return g, nil
}

// resolve computes the dependency edges for every block of the given
// task. For each required task, the blocks whose write regions
// intersect a given read region are found by grid-range arithmetic
// over the required task's tiling rather than by scanning all blocks.
func (g *graph) resolve(task *blockwise.Task) error {
	if len(task.Requires) == 0 {
		return nil
	}
	for _, up := range task.Requires {
		if up.Total.Dims() != task.Total.Dims() {
			return baseerrors.E(baseerrors.Invalid,
				fmt.Sprintf("task %s requires %s: mismatched dimensions %d vs %d",
					task.Name, up.Name, task.Total.Dims(), up.Total.Dims()))
		}
		grid, err := roi.GridShape(up.Total, up.WriteShape)
		if err != nil {
			return err
		}
		upBlocks := g.blocks[up.Name]
		for _, b := range g.blocks[task.Name] {
			lo, hi, err := roi.GridRange(up.Total, up.WriteShape, b.ReadROI)
			if err != nil {
				return err
			}
			b := b
			eachCoord(lo, hi, func(coord []int64) {
				dep := upBlocks[gridIndex(grid, coord)]
				b.Deps = append(b.Deps, dep)
				dep.Lock()
				dep.Dependants = append(dep.Dependants, b)
				dep.Unlock()
			})
		}
	}
	return nil
}

// toposort returns the transitive closure of tasks in topological
// order: every task appears after all tasks it requires. It rejects
// graphs with duplicate task names and returns ErrCyclicDependency
// if the requirement edges form a cycle.
func toposort(tasks []*blockwise.Task) ([]*blockwise.Task, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	var (
		sorted []*blockwise.Task
		marks  = make(map[*blockwise.Task]int)
		names  = make(map[string]*blockwise.Task)
		visit  func(*blockwise.Task) error
	)
	visit = func(task *blockwise.Task) error {
		switch marks[task] {
		case done:
			return nil
		case visiting:
			return ErrCyclicDependency
		}
		if prev, ok := names[task.Name]; ok && prev != task {
			return baseerrors.E(baseerrors.Invalid, fmt.Sprintf("duplicate task name %s", task.Name))
		}
		names[task.Name] = task
		marks[task] = visiting
		for _, up := range task.Requires {
			if err := visit(up); err != nil {
				return err
			}
		}
		marks[task] = done
		sorted = append(sorted, task)
		return nil
	}
	for _, task := range tasks {
		if err := visit(task); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}

// eachCoord invokes f for each coordinate in the half-open grid range
// [lo, hi), in row-major order. The coordinate slice passed to f is
// reused between calls.
func eachCoord(lo, hi []int64, f func(coord []int64)) {
	for i := range lo {
		if lo[i] >= hi[i] {
			return
		}
	}
	coord := make([]int64, len(lo))
	copy(coord, lo)
	for {
		f(coord)
		i := len(coord) - 1
		for ; i >= 0; i-- {
			coord[i]++
			if coord[i] < hi[i] {
				break
			}
			coord[i] = lo[i]
		}
		if i < 0 {
			return
		}
	}
}

// gridIndex returns the row-major index of coord in a grid of the
// provided shape.
func gridIndex(grid, coord []int64) int {
	index := int64(0)
	for i := range grid {
		index = index*grid[i] + coord[i]
	}
	return int(index)
}

// sortBlocks orders blocks by task name, then block index.
func sortBlocks(blocks []*Block) {
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].Name.Task != blocks[j].Name.Task {
			return blocks[i].Name.Task < blocks[j].Name.Task
		}
		return blocks[i].Name.Index < blocks[j].Name.Index
	})
}
