// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import "github.com/gomlx/imgacts/pkg/layout"

// resultWriter stores the accumulated sums of a lane into the targets:
//
//   - scale: targets = scaleTargets*targets + scaleOutputs*sum
//   - otherwise: targets = scaleOutputs*sum, the previous contents are ignored.
//
// Images past the end of the batch are never written.
type resultWriter struct {
	targets                    layout.Targets
	scale                      bool
	scaleTargets, scaleOutputs float32
	numImages                  int
	checkCaseBounds            bool
}

// write the accumulator of one lane. Color c of the accumulator goes to colorBase+c*colorStride,
// and image i to imgBase+i*imgStride.
func (w *resultWriter) write(acc *accumulator, pixel, colorBase, colorStride, imgBase, imgStride int) {
	data := w.targets.Data
	for i := range acc.images {
		img := imgBase + i*imgStride
		if w.checkCaseBounds && img >= w.numImages {
			continue
		}
		for c := range acc.colors {
			idx := w.targets.Index(colorBase+c*colorStride, pixel, img)
			if w.scale {
				data[idx] = w.scaleTargets*data[idx] + w.scaleOutputs*acc.at(c, i)
			} else {
				data[idx] = w.scaleOutputs * acc.at(c, i)
			}
		}
	}
}
