// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import "github.com/gomlx/imgacts/internal/dispatch"

func init() {
	register(dispatch.RegimeFew, fewColorProgram)
}

// fewColorProgram handles 1 to 3 colors and a single group: each block reconstructs all the colors of a
// 4x4 pixel region for ImgsPerBlock images.
//
// Grid: blockIdx.x selects the image tile, blockIdx.y the 4x4 region.
func fewColorProgram(l *launch, blk *block) laneFunc {
	blockCaseIdx := blk.idxX * l.plan.ImgsPerBlock
	return newRegionBlock(l, blk, blockCaseIdx, 0).run
}
