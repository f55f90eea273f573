// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package example

import (
	"context"

	"github.com/grailbio/blockwise"
	"github.com/grailbio/blockwise/roi"
	"github.com/grailbio/blockwise/store"
)

// Fill returns a task that writes the provided byte value over every
// block of total, storing one chunk per block in dst. Its check
// function consults dst so that re-runs skip blocks whose chunks were
// already produced. We will use this trivial pipeline to illustrate
// testing facilities. See pipeline_test.go.
func Fill(dst store.Store, total roi.ROI, block []int64, value byte) *blockwise.Task {
	return &blockwise.Task{
		Name:       "fill",
		Total:      total,
		WriteShape: block,
		Do: func(ctx context.Context, read, write roi.ROI) error {
			p := make([]byte, write.Size())
			for i := range p {
				p[i] = value
			}
			return dst.Write(ctx, write, p)
		},
		Check: func(ctx context.Context, write roi.ROI) (bool, error) {
			return dst.Exists(ctx, write)
		},
	}
}

// Threshold returns a task that reads the chunks produced by src and
// writes chunks of the same shape to dst, mapping each byte to 1 if
// it is at least cutoff and 0 otherwise.
func Threshold(src *blockwise.Task, from, dst store.Store, cutoff byte) *blockwise.Task {
	return &blockwise.Task{
		Name:       "threshold",
		Total:      src.Total,
		WriteShape: src.WriteShape,
		Requires:   []*blockwise.Task{src},
		Do: func(ctx context.Context, read, write roi.ROI) error {
			p, err := from.Read(ctx, read)
			if err != nil {
				return err
			}
			for i := range p {
				if p[i] >= cutoff {
					p[i] = 1
				} else {
					p[i] = 0
				}
			}
			return dst.Write(ctx, write, p)
		},
	}
}
