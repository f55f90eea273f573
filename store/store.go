// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package store provides chunked storage for regioned array data.
// Chunks are addressed by ROI; their contents are opaque to the
// scheduler, which only ever traffics in regions. Process functions
// typically read their input from and write their output to a Store,
// and check functions use Exists to skip blocks whose output was
// produced by an earlier run.
package store

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/blockwise/roi"
)

// A Store persists chunks of array data addressed by region. Write
// overwrites any chunk previously stored for the same region:
// process functions are expected to be idempotent, and retries
// rewrite their block's output.
type Store interface {
	// Read returns the chunk stored for the provided region. If no
	// chunk is stored, an error with kind errors.NotExist is returned.
	Read(ctx context.Context, r roi.ROI) ([]byte, error)

	// Write stores a chunk for the provided region, replacing any
	// previous chunk for the same region.
	Write(ctx context.Context, r roi.ROI, p []byte) error

	// Exists tells whether a chunk is stored for the provided region.
	Exists(ctx context.Context, r roi.ROI) (bool, error)
}

// Memory returns a Store implementation that maintains chunks in
// in-memory buffers.
func Memory() Store {
	return &memoryStore{chunks: make(map[string][]byte)}
}

type memoryStore struct {
	mu     sync.Mutex
	chunks map[string][]byte
}

func (m *memoryStore) Read(_ context.Context, r roi.ROI) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.chunks[r.String()]
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("read %s", r))
	}
	q := make([]byte, len(p))
	copy(q, p)
	return q, nil
}

func (m *memoryStore) Write(_ context.Context, r roi.ROI, p []byte) error {
	q := make([]byte, len(p))
	copy(q, p)
	m.mu.Lock()
	m.chunks[r.String()] = q
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Exists(_ context.Context, r roi.ROI) (bool, error) {
	m.mu.Lock()
	_, ok := m.chunks[r.String()]
	m.mu.Unlock()
	return ok, nil
}

// chunkKey renders a region in the canonical chunk key format,
// "o{offsets}-s{shapes}", used by path-based stores.
func chunkKey(r roi.ROI) string {
	var b bytes.Buffer
	b.WriteString("o")
	for i := 0; i < r.Dims(); i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%d", r.Offset(i))
	}
	b.WriteString("-s")
	for i := 0; i < r.Dims(); i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%d", r.Shape(i))
	}
	return b.String()
}
