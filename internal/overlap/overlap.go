// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package overlap computes which modules (placements of the filter's receptive field) can touch a
// pixel, or a small square region of pixels, of the input image.
//
// Only these modules contribute to the gradient of the pixel, so the kernels iterate over this
// range instead of the whole numModulesY x numModulesX grid.
package overlap

// Planner holds the geometry of the convolution along both spatial axes (modules and filters are square).
type Planner struct {
	NumModules   int // Number of modules per axis.
	FilterSize   int
	PaddingStart int // <= 0
	ModuleStride int
}

// Range of modules [StartY, EndY) x [StartX, EndX). It may be empty.
type Range struct {
	StartY, EndY, StartX, EndX int
}

// Empty returns whether the range contains no module.
func (r Range) Empty() bool {
	return r.StartY >= r.EndY || r.StartX >= r.EndX
}

// Len returns the number of modules in the range.
func (r Range) Len() int {
	if r.Empty() {
		return 0
	}
	return (r.EndY - r.StartY) * (r.EndX - r.StartX)
}

// start returns the first module whose receptive field ends after coord.
func (p Planner) start(coord int) int {
	if coord-p.PaddingStart < p.FilterSize {
		return 0
	}
	return 1 + (coord-p.PaddingStart-p.FilterSize)/p.ModuleStride
}

// end returns one past the last module whose receptive field starts at or before coord+extent.
func (p Planner) end(coord, extent int) int {
	return min(p.NumModules, 1+(coord+extent-p.PaddingStart)/p.ModuleStride)
}

// Axis returns the module range [start, end) along one axis for the pixels [coord, coord+extent].
func (p Planner) Axis(coord, extent int) (start, end int) {
	return p.start(coord), p.end(coord, extent)
}

// Pixel returns the modules that cover the pixel (pxY, pxX).
func (p Planner) Pixel(pxY, pxX int) Range {
	return p.Region(pxY, pxX, 0)
}

// Region returns the modules that may cover any pixel of the square region with top-left corner
// (top, left) and side extent+1. Modules in the range may not cover every pixel of the region:
// use PixelInFilter to check individual pixels.
func (p Planner) Region(top, left, extent int) Range {
	var r Range
	r.StartY, r.EndY = p.Axis(top, extent)
	r.StartX, r.EndX = p.Axis(left, extent)
	return r
}

// ModuleStart returns the image coordinate of the first pixel of the module along one axis.
// It can be negative, if the module starts in the padding.
func (p Planner) ModuleStart(module int) int {
	return p.PaddingStart + module*p.ModuleStride
}

// PixelInFilter returns the position of pixel (pxY, pxX) within the filter placed at module (my, mx),
// as a flat index pxInFilterY*FilterSize + pxInFilterX, and whether the pixel is covered by the module.
func (p Planner) PixelInFilter(pxY, pxX, my, mx int) (pxIdxInFilter int, covered bool) {
	pxInFilterY := pxY - p.ModuleStart(my)
	pxInFilterX := pxX - p.ModuleStart(mx)
	covered = pxInFilterY >= 0 && pxInFilterY < p.FilterSize && pxInFilterX >= 0 && pxInFilterX < p.FilterSize
	return pxInFilterY*p.FilterSize + pxInFilterX, covered
}
