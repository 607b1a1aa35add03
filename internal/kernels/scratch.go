// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"sync"

	"github.com/gomlx/imgacts/internal/dispatch"
	"github.com/gomlx/imgacts/pkg/layout"
)

// scratch is a block-local 2D buffer, sized when the block is prepared and reused across all
// module/filter-chunk iterations of the block.
type scratch struct {
	data       []float32
	rows, cols int
}

func newScratch(rows, cols int) *scratch {
	return &scratch{data: make([]float32, rows*cols), rows: rows, cols: cols}
}

type scratchPoolKey struct {
	rows, cols int
}

// scratchPools holds one *sync.Pool of scratch buffers per size, shared by all launches.
var scratchPools sync.Map

// getScratchPool for the given size.
func getScratchPool(rows, cols int) *sync.Pool {
	key := scratchPoolKey{rows: rows, cols: cols}
	poolInterface, ok := scratchPools.Load(key)
	if !ok {
		poolInterface, _ = scratchPools.LoadOrStore(key, &sync.Pool{
			New: func() any { return newScratch(rows, cols) },
		})
	}
	return poolInterface.(*sync.Pool)
}

// getScratch returns a scratch buffer from the pool. Its contents are not cleared.
func getScratch(rows, cols int) *scratch {
	return getScratchPool(rows, cols).Get().(*scratch)
}

// putScratch returns the buffer to the pool. After this any references to it should be dropped.
func putScratch(s *scratch) {
	if s == nil {
		return
	}
	getScratchPool(s.rows, s.cols).Put(s)
}

func (s *scratch) set(row, col int, value float32) {
	s.data[row*s.cols+col] = value
}

func (s *scratch) row(row int) []float32 {
	return s.data[row*s.cols : (row+1)*s.cols]
}

// hidActsLoader cooperatively copies a chunk of dispatch.FiltersPerChunk filters x imgsPerBlock images of
// hidActs, for one module, into the block's scratch.
//
// Lanes are laid out in rows of dispatch.LoadWidth: lane tidx loads the images
// loadX, loadX+LoadWidth, ... of the filters loadY, loadY+rowStep, ..., where loadX = tidx % LoadWidth,
// loadY = tidx / LoadWidth and rowStep = numLanes / LoadWidth. Consecutive lanes read consecutive images.
type hidActsLoader struct {
	hidActs         layout.HidActs
	sh              *scratch
	blockCaseIdx    int // First image of the block.
	blockFilterIdx  int // First filter of the block's group.
	imgsPerBlock    int
	rowStep         int
	checkCaseBounds bool
}

// newHidActsLoader creates the loader and its scratch buffer, owned by blk.
func newHidActsLoader(l *launch, blk *block, blockCaseIdx, blockFilterIdx int) *hidActsLoader {
	return &hidActsLoader{
		hidActs:         l.args.HidActs,
		sh:              blk.getScratch(dispatch.FiltersPerChunk, l.plan.ImgsPerBlock),
		blockCaseIdx:    blockCaseIdx,
		blockFilterIdx:  blockFilterIdx,
		imgsPerBlock:    l.plan.ImgsPerBlock,
		rowStep:         l.plan.NumLanes() / dispatch.LoadWidth,
		checkCaseBounds: l.plan.CheckCaseBounds,
	}
}

// load the share of lane tidx of the chunk starting at filter f (relative to the group) for module moduleIdx.
// Images past the end of the batch are zero-filled.
func (h *hidActsLoader) load(tidx, moduleIdx, f int) {
	loadY, loadX := tidx/dispatch.LoadWidth, tidx%dispatch.LoadWidth
	filterIdx := h.blockFilterIdx + f
	for col := loadX; col < h.imgsPerBlock; col += dispatch.LoadWidth {
		img := h.blockCaseIdx + col
		if h.checkCaseBounds && img >= h.hidActs.NumImages {
			for w := loadY; w < dispatch.FiltersPerChunk; w += h.rowStep {
				h.sh.set(w, col, 0)
			}
			continue
		}
		for w := loadY; w < dispatch.FiltersPerChunk; w += h.rowStep {
			h.sh.set(w, col, h.hidActs.At(filterIdx+w, moduleIdx, img))
		}
	}
}

// accumulator holds the partial sums of one lane, indexed by (color, image) of the lane's tile.
type accumulator struct {
	prod           []float32
	colors, images int
	buf            *scratch
}

// newAccumulator returns a zeroed accumulator, backed by a pooled buffer: call release when done.
func newAccumulator(colors, images int) *accumulator {
	buf := getScratch(colors, images)
	clear(buf.data)
	return &accumulator{prod: buf.data, colors: colors, images: images, buf: buf}
}

// release the accumulator's buffer back to the pool.
func (a *accumulator) release() {
	putScratch(a.buf)
	a.buf, a.prod = nil, nil
}

func (a *accumulator) at(c, i int) float32 {
	return a.prod[c*a.images+i]
}

// multiplyChunk adds the contribution of one chunk of filters: for each color c and image i of the lane,
//
//	prod[c][i] += sum_w shFilters[rowBase + c*rowStride][w] * shHidActs[w][colBase + i*colStride]
func (a *accumulator) multiplyChunk(shFilters *scratch, rowBase, rowStride int, shHidActs *scratch, colBase, colStride int) {
	for c := range a.colors {
		weights := shFilters.row(rowBase + c*rowStride)
		prod := a.prod[c*a.images : (c+1)*a.images]
		for w, weight := range weights {
			grads := shHidActs.row(w)
			for i := range prod {
				prod[i] += weight * grads[colBase+i*colStride]
			}
		}
	}
}
