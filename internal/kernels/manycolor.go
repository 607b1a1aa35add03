// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import "github.com/gomlx/imgacts/internal/dispatch"

func init() {
	register(dispatch.RegimeMany, manyColorProgram)
}

// manyColorProgram handles multiples of 8 colors per group: each block reconstructs
// LanesY*ColorsPerThread colors of one pixel for ImgsPerBlock images.
//
// Lanes are 32x4: lane.x selects the images x, x+32, ... of the tile, lane.y the colors y, y+4, ....
// Grid: blockIdx.x enumerates (image tile, color tile) with the image tile varying fastest;
// blockIdx.y is the pixel.
//
// Since a block handles one pixel, every module in its overlap range covers it, and all lanes load
// the filters cooperatively: lane tidx loads filter tidx%16 of the colors tidx/16, tidx/16 + numLanes/16, ....
func manyColorProgram(l *launch, blk *block) laneFunc {
	args, plan := l.args, l.plan
	numImgBlocks := plan.NumImgBlocks
	blockCaseIdx := (blk.idxX % numImgBlocks) * plan.ImgsPerBlock
	imgColorIdx := (blk.idxX / numImgBlocks) * plan.ColorsPerBlock
	numFilterColors := args.numFilterColors()
	filterColorIdx := imgColorIdx % numFilterColors
	blockFilterIdx := (imgColorIdx / numFilterColors) * args.numFiltersPerGroup()

	pixel := blk.idxY
	pxY, pxX := pixel/args.ImgSizeX, pixel%args.ImgSizeX
	modules := args.Planner.Pixel(pxY, pxX)

	shFilters := blk.getScratch(plan.ColorsPerBlock, dispatch.FiltersPerChunk)
	loader := newHidActsLoader(l, blk, blockCaseIdx, blockFilterIdx)
	shHidActs := loader.sh
	filterRowStep := plan.NumLanes() / dispatch.FiltersPerChunk

	return func(ln lane) {
		filters := args.Filters
		filtersLoadY, filtersLoadX := ln.tidx/dispatch.FiltersPerChunk, ln.tidx%dispatch.FiltersPerChunk
		acc := newAccumulator(plan.ColorsPerThread, plan.ImgsPerThread)
		defer acc.release()

		for my := modules.StartY; my < modules.EndY; my++ {
			for mx := modules.StartX; mx < modules.EndX; mx++ {
				moduleIdx := args.moduleIdx(my, mx)
				pxIdxInFilter, _ := args.Planner.PixelInFilter(pxY, pxX, my, mx)

				for f := 0; f < args.numFiltersPerGroup(); f += dispatch.FiltersPerChunk {
					loader.load(ln.tidx, moduleIdx, f)
					filterIdx := blockFilterIdx + f + filtersLoadX
					for c := filtersLoadY; c < plan.ColorsPerBlock; c += filterRowStep {
						shFilters.set(c, filtersLoadX, filters.At(moduleIdx, filterColorIdx+c, pxIdxInFilter, filterIdx))
					}
					if !ln.sync() {
						return
					}
					acc.multiplyChunk(shFilters, ln.y, plan.LanesY, shHidActs, ln.x, plan.LanesX)
					if !ln.sync() {
						return
					}
				}
			}
		}
		l.writer.write(acc, pixel, imgColorIdx+ln.y, plan.LanesY, blockCaseIdx+ln.x, plan.LanesX)
	}
}
