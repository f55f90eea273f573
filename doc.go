// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package blockwise implements a blockwise task scheduler over
	regioned N-dimensional arrays. Users define tasks that describe a
	total region of interest (ROI), the block shape in which the region
	is processed, and a process function that is invoked once per
	block. The scheduler partitions each task's total ROI into a grid
	of blocks, resolves block-level dependencies between tasks by ROI
	overlap, and dispatches ready blocks to a bounded pool of workers.

	Tasks form a directed acyclic graph: a task lists the tasks it
	requires, and a block of a downstream task becomes runnable only
	once every upstream block whose write region overlaps the block's
	read region has completed. Blocks may carry context (a halo): the
	region read by a block can extend beyond the region it writes, so
	that the process function can see neighboring data.

	Computations are run through an execution session:

		sess := exec.Start(exec.Local)
		defer sess.Shutdown()
		summaries, err := sess.Run(ctx, task)

	The process function is an opaque capability: the scheduler never
	interprets array contents, only ROIs. Array I/O is typically
	performed against a store (see package store), but any storage that
	can read and write rectangular regions will do.
*/
package blockwise
