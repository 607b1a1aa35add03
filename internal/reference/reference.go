// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reference implements a direct, unblocked computation of the image-acts gradient, used as an
// oracle by tests and by the command-line tool.
//
// It computes, in float64, for every module and group, the product of the module's filters
// (colors*filterPixels x filtersPerGroup) with the module's hidActs (filtersPerGroup x numImages),
// using gonum, and scatters the result over the pixels covered by the module.
package reference

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Shape of the problem. The fields have the same meaning as in imgacts.Params.
type Shape struct {
	NumImgColors, ImgSizeY, ImgSizeX, NumImages int
	NumFilters, NumModulesY, NumModulesX        int
	FilterSize, PaddingStart, ModuleStride      int
	NumGroups                                   int
	Conv                                        bool
}

func (s Shape) numFilterColors() int { return s.NumImgColors / s.NumGroups }
func (s Shape) filterPixels() int    { return s.FilterSize * s.FilterSize }
func (s Shape) numModules() int      { return s.NumModulesY * s.NumModulesX }

// RawSum returns, for every (color, pixel, image) of the targets, in the targets layout:
//
//	sum_{module m covering pixel} sum_{filter f of the color's group} filters[c, pixelInModule(m), f] * hidActs[f, m, i]
//
// where filters is indexed by module as well if shape.Conv is false.
func RawSum(shape Shape, hidActs, filters []float32) ([]float64, error) {
	if shape.NumGroups <= 0 || shape.NumImgColors%shape.NumGroups != 0 || shape.NumFilters%shape.NumGroups != 0 {
		return nil, errors.Errorf("reference: invalid number of groups %d for %d colors and %d filters",
			shape.NumGroups, shape.NumImgColors, shape.NumFilters)
	}
	numFilterColors := shape.numFilterColors()
	numFiltersPerGroup := shape.NumFilters / shape.NumGroups
	filterPixels := shape.filterPixels()
	numModules := shape.numModules()
	numImages := shape.NumImages
	imgPixels := shape.ImgSizeY * shape.ImgSizeX

	if len(hidActs) != shape.NumFilters*numModules*numImages {
		return nil, errors.Errorf("reference: hidActs has %d elements, wanted %d",
			len(hidActs), shape.NumFilters*numModules*numImages)
	}
	filterModules := 1
	if !shape.Conv {
		filterModules = numModules
	}
	if len(filters) != filterModules*numFilterColors*filterPixels*shape.NumFilters {
		return nil, errors.Errorf("reference: filters has %d elements, wanted %d",
			len(filters), filterModules*numFilterColors*filterPixels*shape.NumFilters)
	}

	targets := make([]float64, shape.NumImgColors*imgPixels*numImages)
	weights := mat.NewDense(numFilterColors*filterPixels, numFiltersPerGroup, nil)
	grads := mat.NewDense(numFiltersPerGroup, numImages, nil)
	var product mat.Dense
	for group := range shape.NumGroups {
		firstFilter := group * numFiltersPerGroup
		for my := range shape.NumModulesY {
			for mx := range shape.NumModulesX {
				module := my*shape.NumModulesX + mx
				filtersModule := 0
				if !shape.Conv {
					filtersModule = module
				}
				for c := range numFilterColors {
					for p := range filterPixels {
						base := ((filtersModule*numFilterColors+c)*filterPixels+p)*shape.NumFilters + firstFilter
						for f := range numFiltersPerGroup {
							weights.Set(c*filterPixels+p, f, float64(filters[base+f]))
						}
					}
				}
				for f := range numFiltersPerGroup {
					base := ((firstFilter+f)*numModules + module) * numImages
					for i := range numImages {
						grads.Set(f, i, float64(hidActs[base+i]))
					}
				}
				product.Mul(weights, grads)

				// Scatter the (color, filter pixel) rows over the image pixels covered by the module.
				top := shape.PaddingStart + my*shape.ModuleStride
				left := shape.PaddingStart + mx*shape.ModuleStride
				for c := range numFilterColors {
					color := group*numFilterColors + c
					for py := range shape.FilterSize {
						pxY := top + py
						if pxY < 0 || pxY >= shape.ImgSizeY {
							continue
						}
						for px := range shape.FilterSize {
							pxX := left + px
							if pxX < 0 || pxX >= shape.ImgSizeX {
								continue
							}
							row := product.RawRowView(c*filterPixels + py*shape.FilterSize + px)
							base := (color*imgPixels + pxY*shape.ImgSizeX + pxX) * numImages
							for i, v := range row {
								targets[base+i] += v
							}
						}
					}
				}
			}
		}
	}
	return targets, nil
}

// Blend combines the raw sums with the previous targets the same way the kernels do:
// scaleTargets*old + scaleOutput*raw if scaleTargets != 0, or scaleOutput*raw otherwise.
func Blend(raw []float64, old []float32, scaleTargets, scaleOutput float32) []float32 {
	result := make([]float32, len(raw))
	for ii, v := range raw {
		if scaleTargets != 0 {
			result[ii] = float32(float64(scaleTargets)*float64(old[ii]) + float64(scaleOutput)*v)
		} else {
			result[ii] = float32(float64(scaleOutput) * v)
		}
	}
	return result
}
