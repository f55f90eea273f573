// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"context"
	"strings"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/blockwise/roi"
	"github.com/grailbio/testutil"
)

func testStore(t *testing.T, store Store) {
	t.Helper()
	fz := fuzz.New()
	fz.NumElements(1e3, 1e6)
	var data []byte
	fz.Fuzz(&data)
	ctx := context.Background()
	chunk := roi.Box([]int64{100, 200}, []int64{10, 20})

	ok, err := store.Exists(ctx, chunk)
	if err != nil {
		t.Error(err)
		return
	}
	if ok {
		t.Error("chunk exists before write")
	}
	if _, err = store.Read(ctx, chunk); err == nil {
		t.Error("expected error reading unwritten chunk")
	}

	if err = store.Write(ctx, chunk, data); err != nil {
		t.Error(err)
		return
	}
	ok, err = store.Exists(ctx, chunk)
	if err != nil {
		t.Error(err)
	} else if !ok {
		t.Error("chunk missing after write")
	}
	got, err := store.Read(ctx, chunk)
	if err != nil {
		t.Error(err)
		return
	}
	if !bytes.Equal(data, got) {
		t.Error("data do not match")
	}

	// A retried block rewrites its chunk; the last write wins.
	if err = store.Write(ctx, chunk, []byte("rewritten")); err != nil {
		t.Error(err)
		return
	}
	got, err = store.Read(ctx, chunk)
	if err != nil {
		t.Error(err)
		return
	}
	if want := []byte("rewritten"); !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}

	// An overlapping but distinct region addresses a distinct chunk.
	other := roi.Box([]int64{100, 200}, []int64{10, 21})
	ok, err = store.Exists(ctx, other)
	if err != nil {
		t.Error(err)
	} else if ok {
		t.Error("distinct region aliases a stored chunk")
	}
}

func TestStoreImpls(t *testing.T) {
	testStore(t, Memory())
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	testStore(t, File(dir))
}

func TestMemoryNotExist(t *testing.T) {
	ctx := context.Background()
	_, err := Memory().Read(ctx, roi.Box([]int64{0}, []int64{10}))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(errors.NotExist, err) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestChunkKey(t *testing.T) {
	key := chunkKey(roi.Box([]int64{0, 40}, []int64{10, 20}))
	if got, want := key, "o0,40-s10,20"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if strings.ContainsAny(key, "/ []:") {
		t.Errorf("key %q contains unsafe characters", key)
	}
}

func TestFilePath(t *testing.T) {
	s := &fileStore{prefix: "s3://bucket/array"}
	chunk := roi.Box([]int64{0}, []int64{10})
	path := s.path(chunk)
	if !strings.HasPrefix(path, "s3://bucket/array/") {
		t.Errorf("path %q does not extend prefix", path)
	}
	if !strings.HasSuffix(path, "/"+chunkKey(chunk)) {
		t.Errorf("path %q does not end in chunk key", path)
	}
	// Paths are stable across processes.
	if got, want := s.path(chunk), path; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
