// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import "github.com/gomlx/imgacts/internal/dispatch"

func init() {
	register(dispatch.RegimeMedium, mediumColorProgram)
}

// mediumColorProgram handles 4 to 15 colors per group: each block reconstructs ColorsPerThread colors of
// a 4x4 pixel region for ImgsPerBlock images.
//
// Grid: blockIdx.x enumerates (image tile, color tile) with the image tile varying fastest;
// blockIdx.y selects the 4x4 region. Color tiles never straddle groups, since the number of colors
// per group is a multiple of ColorsPerThread.
func mediumColorProgram(l *launch, blk *block) laneFunc {
	numImgBlocks := l.plan.NumImgBlocks
	blockCaseIdx := (blk.idxX % numImgBlocks) * l.plan.ImgsPerBlock
	imgColorIdx := (blk.idxX / numImgBlocks) * l.plan.ColorsPerThread
	return newRegionBlock(l, blk, blockCaseIdx, imgColorIdx).run
}
