// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"github.com/grailbio/blockwise"
	"github.com/grailbio/blockwise/roi"
)

// partition computes the ordered block sequence for the provided
// task: the row-major tiling of the task's total ROI by its write
// shape. Each block's read region is its write region grown by the
// task's context and clipped to the total ROI. Block indices are
// grid positions, so re-partitioning the same task always produces
// the same block identities.
func partition(task *blockwise.Task) ([]*Block, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	tiles, err := roi.Tile(task.Total, task.WriteShape)
	if err != nil {
		return nil, err
	}
	context := task.Context
	if context == nil {
		context = make([]int64, task.Total.Dims())
	}
	blocks := make([]*Block, len(tiles))
	for i, write := range tiles {
		read := write.Grow(context, context).Intersect(task.Total)
		blocks[i] = &Block{
			Name:     BlockName{Task: task.Name, Index: i},
			Task:     task,
			ReadROI:  read,
			WriteROI: write,
		}
	}
	return blocks, nil
}
