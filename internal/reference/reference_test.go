// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// naiveRawSum computes RawSum without gonum, one output element at a time.
func naiveRawSum(s Shape, hidActs, filters []float32) []float64 {
	numFilterColors := s.numFilterColors()
	numFiltersPerGroup := s.NumFilters / s.NumGroups
	numModules := s.numModules()
	imgPixels := s.ImgSizeY * s.ImgSizeX
	out := make([]float64, s.NumImgColors*imgPixels*s.NumImages)
	for color := range s.NumImgColors {
		group, c := color/numFilterColors, color%numFilterColors
		for pxY := range s.ImgSizeY {
			for pxX := range s.ImgSizeX {
				for i := range s.NumImages {
					var sum float64
					for my := range s.NumModulesY {
						for mx := range s.NumModulesX {
							py := pxY - (s.PaddingStart + my*s.ModuleStride)
							px := pxX - (s.PaddingStart + mx*s.ModuleStride)
							if py < 0 || py >= s.FilterSize || px < 0 || px >= s.FilterSize {
								continue
							}
							module := my*s.NumModulesX + mx
							fm := 0
							if !s.Conv {
								fm = module
							}
							for f := range numFiltersPerGroup {
								filter := group*numFiltersPerGroup + f
								w := filters[((fm*numFilterColors+c)*s.filterPixels()+py*s.FilterSize+px)*s.NumFilters+filter]
								h := hidActs[(filter*numModules+module)*s.NumImages+i]
								sum += float64(w) * float64(h)
							}
						}
					}
					out[(color*imgPixels+pxY*s.ImgSizeX+pxX)*s.NumImages+i] = sum
				}
			}
		}
	}
	return out
}

func sequence(n, mod int) []float32 {
	s := make([]float32, n)
	for ii := range s {
		s[ii] = float32(ii%mod) - float32(mod/2)
	}
	return s
}

func TestRawSum(t *testing.T) {
	for _, shape := range []Shape{
		{NumImgColors: 3, ImgSizeY: 5, ImgSizeX: 5, NumImages: 4, NumFilters: 16, NumModulesY: 3, NumModulesX: 3,
			FilterSize: 3, PaddingStart: 0, ModuleStride: 1, NumGroups: 1, Conv: true},
		{NumImgColors: 8, ImgSizeY: 6, ImgSizeX: 6, NumImages: 3, NumFilters: 32, NumModulesY: 3, NumModulesX: 3,
			FilterSize: 4, PaddingStart: -1, ModuleStride: 2, NumGroups: 2, Conv: true},
		{NumImgColors: 2, ImgSizeY: 4, ImgSizeX: 4, NumImages: 2, NumFilters: 16, NumModulesY: 2, NumModulesX: 2,
			FilterSize: 3, PaddingStart: -1, ModuleStride: 2, NumGroups: 1, Conv: false},
	} {
		filterModules := 1
		if !shape.Conv {
			filterModules = shape.numModules()
		}
		hidActs := sequence(shape.NumFilters*shape.numModules()*shape.NumImages, 7)
		filters := sequence(filterModules*shape.numFilterColors()*shape.filterPixels()*shape.NumFilters, 5)
		got, err := RawSum(shape, hidActs, filters)
		require.NoError(t, err)
		want := naiveRawSum(shape, hidActs, filters)
		require.Equal(t, len(want), len(got))
		for ii := range want {
			require.InDeltaf(t, want[ii], got[ii], 1e-9, "element #%d of %+v", ii, shape)
		}
	}
}

func TestRawSum_Errors(t *testing.T) {
	shape := Shape{NumImgColors: 3, ImgSizeY: 5, ImgSizeX: 5, NumImages: 4, NumFilters: 16, NumModulesY: 3,
		NumModulesX: 3, FilterSize: 3, ModuleStride: 1, NumGroups: 1, Conv: true}
	_, err := RawSum(shape, make([]float32, 3), make([]float32, 3*9*16))
	require.Error(t, err)
	_, err = RawSum(shape, make([]float32, 16*9*4), make([]float32, 5))
	require.Error(t, err)
	shape.NumGroups = 2
	_, err = RawSum(shape, make([]float32, 16*9*4), make([]float32, 3*9*16))
	require.Error(t, err)
}

func TestBlend(t *testing.T) {
	raw := []float64{1, 2, 3}
	old := []float32{10, 20, 30}
	assert.Equal(t, []float32{7, 14, 21}, Blend(raw, old, 0.5, 2))
	assert.Equal(t, []float32{2, 4, 6}, Blend(raw, old, 0, 2))
}
