// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layout provides strided views over the flat float32 buffers used by the image-acts kernels.
//
// Each view carries the logical shape of its tensor and converts multi-dimensional coordinates into
// flat indices, so layout invariants can be checked up-front instead of being implicit in pointer
// arithmetic:
//
//   - HidActs: (numFilters, numModulesY, numModulesX, numImages)
//   - Filters: (numFilterColors, filterPixels, numFilters) if shared ("conv"), or
//     (numModulesY, numModulesX, numFilterColors, filterPixels, numFilters) if per-location ("local").
//   - Targets: (numImgColors, imgSizeY, imgSizeX, numImages)
package layout

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Shape is the logical shape of a row-major tensor.
type Shape struct {
	Dimensions []int
}

// Make returns a Shape with the given dimensions.
func Make(dimensions ...int) Shape {
	return Shape{Dimensions: dimensions}
}

// Rank of the shape, the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// Size returns the number of elements of the shape.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// Strides returns the number of elements to skip to move one position in each axis.
func (s Shape) Strides() []int {
	strides := make([]int, len(s.Dimensions))
	stride := 1
	for axis := len(s.Dimensions) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= s.Dimensions[axis]
	}
	return strides
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	parts := make([]string, len(s.Dimensions))
	for ii, dim := range s.Dimensions {
		parts[ii] = fmt.Sprintf("%d", dim)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func checkSize(name string, data []float32, shape Shape) error {
	for axis, dim := range shape.Dimensions {
		if dim <= 0 {
			return errors.Errorf("%s: invalid shape %s, axis %d must be > 0", name, shape, axis)
		}
	}
	if len(data) != shape.Size() {
		return errors.Errorf("%s: buffer has %d elements, but shape %s requires %d", name, len(data), shape, shape.Size())
	}
	return nil
}

// HidActs is a view over the gradient with respect to the outputs of the layer.
type HidActs struct {
	Data []float32

	NumFilters, NumModules, NumImages int

	filterStride int
}

// NewHidActs returns a view over data, checking that its length matches the shape.
func NewHidActs(data []float32, numFilters, numModules, numImages int) (HidActs, error) {
	h := HidActs{Data: data, NumFilters: numFilters, NumModules: numModules, NumImages: numImages,
		filterStride: numModules * numImages}
	if err := checkSize("hidActs", data, h.Shape()); err != nil {
		return HidActs{}, err
	}
	return h, nil
}

// Shape returns (numFilters, numModules, numImages).
func (h HidActs) Shape() Shape { return Make(h.NumFilters, h.NumModules, h.NumImages) }

// Index returns the flat index of (filter, module, image).
func (h HidActs) Index(filter, module, image int) int {
	return filter*h.filterStride + module*h.NumImages + image
}

// At returns the value at (filter, module, image).
func (h HidActs) At(filter, module, image int) float32 {
	return h.Data[h.Index(filter, module, image)]
}

// Filters is a view over the filter weights, either shared by all modules (Conv) or one set per module.
type Filters struct {
	Data []float32
	Conv bool

	NumModules, NumColors, FilterPixels, NumFilters int

	moduleStride, colorStride int
}

// NewFilters returns a view over data, checking that its length matches the shape.
// numModules is only used if conv is false.
func NewFilters(data []float32, conv bool, numModules, numColors, filterPixels, numFilters int) (Filters, error) {
	f := Filters{Data: data, Conv: conv, NumModules: numModules, NumColors: numColors,
		FilterPixels: filterPixels, NumFilters: numFilters}
	f.colorStride = filterPixels * numFilters
	if !conv {
		f.moduleStride = numColors * f.colorStride
	}
	if err := checkSize("filters", data, f.Shape()); err != nil {
		return Filters{}, err
	}
	return f, nil
}

// Shape returns (numColors, filterPixels, numFilters) for shared filters, and
// (numModules, numColors, filterPixels, numFilters) for per-location filters.
func (f Filters) Shape() Shape {
	if f.Conv {
		return Make(f.NumColors, f.FilterPixels, f.NumFilters)
	}
	return Make(f.NumModules, f.NumColors, f.FilterPixels, f.NumFilters)
}

// Index returns the flat index of the weight connecting filter to (color, pixel) as seen from module.
// For shared filters the module is ignored.
func (f Filters) Index(module, color, pixel, filter int) int {
	return module*f.moduleStride + color*f.colorStride + pixel*f.NumFilters + filter
}

// At returns the weight at (module, color, pixel, filter).
func (f Filters) At(module, color, pixel, filter int) float32 {
	return f.Data[f.Index(module, color, pixel, filter)]
}

// Targets is a view over the gradient with respect to the inputs of the layer (the result).
type Targets struct {
	Data []float32

	NumColors, NumPixels, NumImages int

	colorStride int
}

// NewTargets returns a view over data, checking that its length matches the shape.
func NewTargets(data []float32, numColors, numPixels, numImages int) (Targets, error) {
	t := Targets{Data: data, NumColors: numColors, NumPixels: numPixels, NumImages: numImages,
		colorStride: numPixels * numImages}
	if err := checkSize("targets", data, t.Shape()); err != nil {
		return Targets{}, err
	}
	return t, nil
}

// Shape returns (numColors, numPixels, numImages).
func (t Targets) Shape() Shape { return Make(t.NumColors, t.NumPixels, t.NumImages) }

// Index returns the flat index of (color, pixel, image).
func (t Targets) Index(color, pixel, image int) int {
	return color*t.colorStride + pixel*t.NumImages + image
}
