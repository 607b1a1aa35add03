// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/imgacts/internal/dispatch"
	"github.com/gomlx/imgacts/internal/overlap"
	"github.com/gomlx/imgacts/pkg/support/xslices"
)

// regionBlock is a block of the few and medium color kernels: it reconstructs a 4x4 pixel region for
// ColorsPerThread colors and ImgsPerBlock images.
//
// Lanes are 16x16: lane.x selects the images x, x+16, ... of the tile and lane.y the pixel in the region.
// A lane also loads the weights of filter lane.x of the current chunk for its pixel, so LanesX must be
// equal to dispatch.FiltersPerChunk.
type regionBlock struct {
	l       *launch
	modules overlap.Range

	regionTop, regionLeft int

	blockCaseIdx   int // First image of the block.
	imgColorIdx    int // First color of the block in the targets.
	filterColorIdx int // First color of the block within its group.
	blockFilterIdx int // First filter of the block's group.

	shFilters *scratch // [colorsPerThread * LanesY][FiltersPerChunk]
	loader    *hidActsLoader
}

func newRegionBlock(l *launch, blk *block, blockCaseIdx, imgColorIdx int) *regionBlock {
	args, plan := l.args, l.plan
	numRegionsX := xslices.CeilDiv(args.ImgSizeX, dispatch.RegionSize)
	rb := &regionBlock{
		l:              l,
		regionTop:      (blk.idxY / numRegionsX) * dispatch.RegionSize,
		regionLeft:     (blk.idxY % numRegionsX) * dispatch.RegionSize,
		blockCaseIdx:   blockCaseIdx,
		imgColorIdx:    imgColorIdx,
		filterColorIdx: imgColorIdx % args.numFilterColors(),
	}
	blockGroupIdx := imgColorIdx / args.numFilterColors()
	rb.blockFilterIdx = blockGroupIdx * args.numFiltersPerGroup()
	rb.modules = args.Planner.Region(rb.regionTop, rb.regionLeft, dispatch.RegionExtent)
	rb.shFilters = blk.getScratch(plan.ColorsPerThread*plan.LanesY, dispatch.FiltersPerChunk)
	rb.loader = newHidActsLoader(l, blk, blockCaseIdx, rb.blockFilterIdx)
	return rb
}

// run is the laneFunc of a region block.
func (rb *regionBlock) run(ln lane) {
	args, plan := rb.l.args, rb.l.plan
	planner := args.Planner
	filters := args.Filters
	shFilters, shHidActs := rb.shFilters, rb.loader.sh
	colorsPerThread := plan.ColorsPerThread

	pxY := rb.regionTop + ln.y/dispatch.RegionSize
	pxX := rb.regionLeft + ln.y%dispatch.RegionSize
	isPxInImg := pxY < args.ImgSizeY && pxX < args.ImgSizeX
	acc := newAccumulator(colorsPerThread, plan.ImgsPerThread)
	defer acc.release()

	for my := rb.modules.StartY; my < rb.modules.EndY; my++ {
		for mx := rb.modules.StartX; mx < rb.modules.EndX; mx++ {
			moduleIdx := args.moduleIdx(my, mx)
			pxIdxInFilter, isPxInModule := planner.PixelInFilter(pxY, pxX, my, mx)
			interested := isPxInImg && isPxInModule

			for f := 0; f < args.numFiltersPerGroup(); f += dispatch.FiltersPerChunk {
				rb.loader.load(ln.tidx, moduleIdx, f)
				if interested {
					// Weights of filter f+lane.x connecting the module to this lane's pixel.
					filterIdx := rb.blockFilterIdx + f + ln.x
					for c := range colorsPerThread {
						shFilters.set(c*plan.LanesY+ln.y, ln.x,
							filters.At(moduleIdx, rb.filterColorIdx+c, pxIdxInFilter, filterIdx))
					}
				}
				if !ln.sync() {
					return
				}
				if interested {
					acc.multiplyChunk(shFilters, ln.y, plan.LanesY, shHidActs, ln.x, plan.LanesX)
				}
				if !ln.sync() {
					return
				}
			}
		}
	}

	if isPxInImg {
		pixel := pxY*args.ImgSizeX + pxX
		rb.l.writer.write(acc, pixel, rb.imgColorIdx, 1, rb.blockCaseIdx+ln.x, plan.LanesX)
	}
}
