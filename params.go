// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imgacts

import (
	"github.com/gomlx/imgacts/internal/dispatch"
	"github.com/gomlx/imgacts/internal/overlap"
)

// Params describe the shape of an image-acts problem and how the result is combined with the targets.
//
// Buffers are flat, row-major float32 slices:
//
//   - hidActs: (NumFilters, NumModulesY, NumModulesX, NumImages)
//   - filters: (NumFilterColors, FilterPixels, NumFilters) if Conv, or
//     (NumModulesY, NumModulesX, NumFilterColors, FilterPixels, NumFilters) otherwise.
//   - targets: (NumImgColors, ImgSizeY, ImgSizeX, NumImages)
type Params struct {
	NumImgColors       int
	ImgSizeY, ImgSizeX int
	NumImages          int
	NumFilters         int

	// NumModulesY and NumModulesX must be equal.
	NumModulesY, NumModulesX int

	// FilterSizeY and FilterSizeX must be equal.
	FilterSizeY, FilterSizeX int

	// PaddingStart is the image coordinate of the first module, it must be <= 0.
	PaddingStart int
	ModuleStride int

	// NumGroups partitions colors and filters in independent groups. If 0, it is taken as 1.
	NumGroups int

	// ScaleTargets weights the previous contents of the targets. If 0 they are overwritten and ignored.
	ScaleTargets float32

	// ScaleOutput weights the computed gradient.
	ScaleOutput float32

	// Conv selects filters shared by all modules (a convolution), as opposed to one set of filters
	// per module (a locally-connected layer).
	Conv bool
}

// sanitized returns a copy of the params with defaults filled in.
func (p Params) sanitized() Params {
	p.NumGroups = max(p.NumGroups, 1)
	return p
}

// NumFilterColors returns the number of colors per group.
func (p Params) NumFilterColors() int { return p.NumImgColors / max(p.NumGroups, 1) }

// NumModules returns the total number of modules.
func (p Params) NumModules() int { return p.NumModulesY * p.NumModulesX }

// FilterPixels returns the number of pixels of one filter.
func (p Params) FilterPixels() int { return p.FilterSizeY * p.FilterSizeX }

// ImgPixels returns the number of pixels of one image.
func (p Params) ImgPixels() int { return p.ImgSizeY * p.ImgSizeX }

// HidActsSize returns the number of elements of the hidActs buffer.
func (p Params) HidActsSize() int { return p.NumFilters * p.NumModules() * p.NumImages }

// FiltersSize returns the number of elements of the filters buffer.
func (p Params) FiltersSize() int {
	size := p.NumFilterColors() * p.FilterPixels() * p.NumFilters
	if !p.Conv {
		size *= p.NumModules()
	}
	return size
}

// TargetsSize returns the number of elements of the targets buffer.
func (p Params) TargetsSize() int { return p.NumImgColors * p.ImgPixels() * p.NumImages }

// NewTargets allocates a zeroed targets buffer for the params.
func (p Params) NewTargets() []float32 { return make([]float32, p.TargetsSize()) }

// Validate checks every precondition of the params and, if the lengths are >= 0, that the buffers have
// the right number of elements. Pass -1 to skip a length check.
//
// The error returned, if any, wraps ErrShapeViolation.
func (p Params) Validate(lenHidActs, lenFilters, lenTargets int) error {
	p = p.sanitized()
	for _, dim := range []struct {
		name  string
		value int
	}{
		{"numImgColors", p.NumImgColors},
		{"imgSizeY", p.ImgSizeY},
		{"imgSizeX", p.ImgSizeX},
		{"numImages", p.NumImages},
		{"numFilters", p.NumFilters},
		{"numModulesY", p.NumModulesY},
		{"numModulesX", p.NumModulesX},
		{"filterSizeY", p.FilterSizeY},
		{"filterSizeX", p.FilterSizeX},
		{"moduleStride", p.ModuleStride},
	} {
		if dim.value <= 0 {
			return shapeViolationf("%s must be > 0, got %d", dim.name, dim.value)
		}
	}
	if p.FilterSizeX != p.FilterSizeY {
		return shapeViolationf("filters must be square, got filterSizeY=%d, filterSizeX=%d", p.FilterSizeY, p.FilterSizeX)
	}
	if p.NumModulesX != p.NumModulesY {
		return shapeViolationf("modules grid must be square, got numModulesY=%d, numModulesX=%d",
			p.NumModulesY, p.NumModulesX)
	}
	if p.NumImgColors%p.NumGroups != 0 {
		return shapeViolationf("numImgColors=%d must be divisible by numGroups=%d", p.NumImgColors, p.NumGroups)
	}
	if p.NumFilters%(dispatch.FiltersPerChunk*p.NumGroups) != 0 {
		return shapeViolationf("numFilters=%d must be divisible by %d*numGroups=%d",
			p.NumFilters, dispatch.FiltersPerChunk, dispatch.FiltersPerChunk*p.NumGroups)
	}
	numFilterColors := p.NumFilterColors()
	if p.NumGroups == 1 && p.NumImgColors > 3 && p.NumImgColors%2 != 0 {
		return shapeViolationf("with a single group, numImgColors=%d must be <= 3 or even", p.NumImgColors)
	}
	if p.NumGroups > 1 && numFilterColors%4 != 0 {
		return shapeViolationf("with numGroups=%d, colors per group (%d) must be divisible by 4", p.NumGroups, numFilterColors)
	}
	if p.PaddingStart > 0 {
		return shapeViolationf("paddingStart=%d must be <= 0", p.PaddingStart)
	}
	filterSize := p.FilterSizeY
	for _, axis := range []struct {
		name              string
		numModules, image int
	}{
		{"Y", p.NumModulesY, p.ImgSizeY},
		{"X", p.NumModulesX, p.ImgSizeX},
	} {
		if covered := p.PaddingStart + (axis.numModules-1)*p.ModuleStride + filterSize; covered < axis.image {
			return shapeViolationf("modules don't cover the image along axis %s: paddingStart + (numModules-1)*moduleStride "+
				"+ filterSize = %d < imgSize%s = %d", axis.name, covered, axis.name, axis.image)
		}
	}
	if p.ModuleStride > filterSize {
		return shapeViolationf("moduleStride=%d must be <= filterSize=%d", p.ModuleStride, filterSize)
	}

	for _, buf := range []struct {
		name      string
		got, want int
	}{
		{"hidActs", lenHidActs, p.HidActsSize()},
		{"filters", lenFilters, p.FiltersSize()},
		{"targets", lenTargets, p.TargetsSize()},
	} {
		if buf.got >= 0 && buf.got != buf.want {
			return shapeViolationf("%s buffer has %d elements, %d expected", buf.name, buf.got, buf.want)
		}
	}
	return nil
}

func (p Params) problem() dispatch.Problem {
	return dispatch.Problem{
		NumImgColors: p.NumImgColors,
		NumGroups:    p.NumGroups,
		NumImages:    p.NumImages,
		ImgSizeY:     p.ImgSizeY,
		ImgSizeX:     p.ImgSizeX,
		ScaleTargets: p.ScaleTargets,
		Conv:         p.Conv,
	}
}

func (p Params) planner() overlap.Planner {
	return overlap.Planner{
		NumModules:   p.NumModulesY,
		FilterSize:   p.FilterSizeY,
		PaddingStart: p.PaddingStart,
		ModuleStride: p.ModuleStride,
	}
}
