// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"fmt"
	"io/ioutil"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	_ "github.com/grailbio/base/file/s3file" // registers the s3:// scheme
	"github.com/grailbio/blockwise/roi"
	"github.com/spaolacci/murmur3"
)

// File returns a Store implementation that uses grailfiles; thus
// chunks can be stored at any URL supported by grailfile (e.g., S3).
// A chunk for a region is stored at
// "{prefix}/{keyhash}/o{offsets}-s{shapes}".
func File(prefix string) Store {
	return &fileStore{prefix}
}

type fileStore struct {
	// prefix is the grailfile prefix under which chunks are stored.
	prefix string
}

func (s *fileStore) path(r roi.ROI) string {
	key := chunkKey(r)
	// A short hash prefix spreads chunks across key ranges, which
	// matters for stores (like S3) that shard by key prefix.
	h := murmur3.Sum64([]byte(key))
	return file.Join(s.prefix, fmt.Sprintf("%02x", byte(h)), key)
}

func (s *fileStore) Read(ctx context.Context, r roi.ROI) ([]byte, error) {
	f, err := file.Open(ctx, s.path(r))
	if err != nil {
		return nil, err
	}
	p, err := ioutil.ReadAll(f.Reader(ctx))
	if err != nil {
		_ = closeFile(ctx, f)
		return nil, err
	}
	return p, closeFile(ctx, f)
}

func (s *fileStore) Write(ctx context.Context, r roi.ROI, p []byte) error {
	f, err := file.Create(ctx, s.path(r))
	if err != nil {
		return err
	}
	if _, err := f.Writer(ctx).Write(p); err != nil {
		_ = closeFile(ctx, f)
		return err
	}
	return closeFile(ctx, f)
}

func (s *fileStore) Exists(ctx context.Context, r roi.ROI) (bool, error) {
	_, err := file.Stat(ctx, s.path(r))
	if err != nil {
		if errors.Is(errors.NotExist, err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

type closeNoSyncer interface {
	CloseNoSync(context.Context) error
}

// closeFile closes the provided file. It avoids syncing if the
// implementation supports it.
func closeFile(ctx context.Context, f file.File) error {
	if closer, ok := f.(closeNoSyncer); ok {
		return closer.CloseNoSync(ctx)
	}
	return f.Close(ctx)
}
