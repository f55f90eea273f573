// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package roi

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// GridShape returns the number of tiles of the provided shape needed
// to cover the ROI total in each dimension: the ceiling of
// total.Shape(i)/tile[i]. GridShape returns an error with kind
// errors.Invalid if tile has mismatched dimensions or any
// non-positive component.
func GridShape(total ROI, tile []int64) ([]int64, error) {
	if len(tile) != total.Dims() {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("roi.GridShape: total has %d dimensions, tile has %d", total.Dims(), len(tile)))
	}
	grid := make([]int64, len(tile))
	for i, t := range tile {
		if t <= 0 {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("roi.GridShape: non-positive tile shape %d in dimension %d", t, i))
		}
		grid[i] = (total.Shape(i) + t - 1) / t
	}
	return grid, nil
}

// Tile divides the ROI total into a row-major ordered grid of
// sub-ROIs of the provided tile shape. Tiles at the upper boundary of
// a dimension are clipped to total's bound, so boundary tiles may be
// smaller than the requested shape; tiles never extend past total.
// The returned tiles are pairwise disjoint and their union is exactly
// total.
func Tile(total ROI, tile []int64) ([]ROI, error) {
	grid, err := GridShape(total, tile)
	if err != nil {
		return nil, err
	}
	n := int64(1)
	for _, g := range grid {
		n *= g
	}
	if n == 0 {
		return nil, nil
	}
	tiles := make([]ROI, 0, n)
	coord := make([]int64, len(grid))
	for {
		tiles = append(tiles, TileAt(total, tile, coord))
		// Advance the row-major coordinate, last dimension fastest.
		i := len(coord) - 1
		for ; i >= 0; i-- {
			coord[i]++
			if coord[i] < grid[i] {
				break
			}
			coord[i] = 0
		}
		if i < 0 {
			break
		}
	}
	return tiles, nil
}

// TileAt returns the tile of the grid coordinate coord in the
// row-major tiling of total by the provided tile shape. The tile is
// clipped to total's bounds. TileAt does not validate its arguments;
// callers are expected to derive coord from GridShape.
func TileAt(total ROI, tile, coord []int64) ROI {
	offset := make([]int64, total.Dims())
	shape := make([]int64, total.Dims())
	for i := range offset {
		offset[i] = total.Offset(i) + coord[i]*tile[i]
		shape[i] = min64(tile[i], total.End(i)-offset[i])
	}
	return ROI{offset: offset, shape: shape}
}

// GridRange returns the half-open range [lo, hi) of grid coordinates
// whose tiles intersect the ROI r, in the row-major tiling of total
// by the provided tile shape. If r does not intersect total, the
// returned range is empty (lo == hi in some dimension).
func GridRange(total ROI, tile []int64, r ROI) (lo, hi []int64, err error) {
	grid, err := GridShape(total, tile)
	if err != nil {
		return nil, nil, err
	}
	r = r.Intersect(total)
	lo = make([]int64, len(grid))
	hi = make([]int64, len(grid))
	if r.Empty() {
		return lo, hi, nil
	}
	for i := range grid {
		lo[i] = (r.Offset(i) - total.Offset(i)) / tile[i]
		hi[i] = (r.End(i)-1-total.Offset(i))/tile[i] + 1
		if hi[i] > grid[i] {
			hi[i] = grid[i]
		}
	}
	return lo, hi, nil
}
