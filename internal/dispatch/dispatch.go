// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dispatch selects the kernel specialization and the launch geometry for an image-acts problem.
//
// The decision is a pure function of the problem shape: the number of colors per group, the divisibility
// of the number of images by the candidate tile widths, and the conv/scale flags.
package dispatch

import (
	"fmt"

	"github.com/gomlx/imgacts/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Regime is the kernel specialization, selected by the number of colors per group.
//
// Its String and RegimeString (parse) methods are generated by enumer, using the snake-case
// name without the "Regime" prefix (e.g. "medium").
type Regime int

//go:generate go tool enumer -type=Regime -trimprefix=Regime -transform=snake -text -output=gen_regime_enumer.go dispatch.go

const (
	// RegimeAuto lets the dispatcher choose the regime from the shape.
	RegimeAuto Regime = iota

	// RegimeFew handles 1 to 3 colors: each block reconstructs a 4x4 pixel region for all colors.
	RegimeFew

	// RegimeMedium handles 4 to 15 colors: each block reconstructs a 4x4 pixel region for a slice of colors.
	RegimeMedium

	// RegimeMany handles multiples of 8 colors: each block reconstructs one pixel for a slice of colors.
	RegimeMany
)

const (
	// FiltersPerChunk is the number of filters loaded at a time into the block's scratch buffers.
	// The number of filters per group must be a multiple of it.
	FiltersPerChunk = 16

	// LoadWidth is the number of consecutive images loaded by a row of lanes from hidActs.
	// The image tile of a block (LanesX * ImgsPerThread) must be a multiple of it.
	LoadWidth = 32

	// RegionSize is the side of the square pixel region reconstructed by the few/medium-color blocks.
	RegionSize = 4

	// RegionExtent is the extent passed to the overlap planner for a region.
	RegionExtent = RegionSize - 1
)

// Key identifies one kernel variant: the registry maps the Regime to an entry point, and the
// remaining fields are runtime parameters of that entry point.
type Key struct {
	Regime          Regime
	ImgsPerThread   int
	ColorsPerThread int
	CheckCaseBounds bool
	Scale           bool
	Conv            bool
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("%s(imgsPerThread=%d, colorsPerThread=%d, checkCaseBounds=%t, scale=%t, conv=%t)",
		k.Regime, k.ImgsPerThread, k.ColorsPerThread, k.CheckCaseBounds, k.Scale, k.Conv)
}

// Geometry of a launch: lanes ("threads") per block and blocks per grid.
type Geometry struct {
	// LanesX indexes images (cases) in all regimes. LanesY indexes pixels of the 4x4 region for the
	// few/medium regimes, and colors for the many regime.
	LanesX, LanesY int

	// GridX enumerates (image tile, color tile) pairs, GridY enumerates pixels (many) or 4x4 regions.
	GridX, GridY int
}

// NumLanes returns the number of lanes per block.
func (g Geometry) NumLanes() int { return g.LanesX * g.LanesY }

// NumBlocks returns the number of blocks of the grid.
func (g Geometry) NumBlocks() int { return g.GridX * g.GridY }

// String implements fmt.Stringer.
func (g Geometry) String() string {
	return fmt.Sprintf("grid=%dx%d, lanes=%dx%d", g.GridX, g.GridY, g.LanesX, g.LanesY)
}

// Problem holds the shape parameters the dispatcher depends on.
type Problem struct {
	NumImgColors, NumGroups int
	NumImages               int
	ImgSizeY, ImgSizeX      int
	ScaleTargets            float32
	Conv                    bool
}

// NumFilterColors returns the number of colors per group.
func (p Problem) NumFilterColors() int { return p.NumImgColors / p.NumGroups }

// Options can override the dispatcher decisions. The zero value lets the dispatcher decide everything.
type Options struct {
	// Regime forces a kernel specialization, if different from RegimeAuto.
	Regime Regime

	// ForceCheckCaseBounds selects the boundary-checked code path even if the tile width divides numImages.
	ForceCheckCaseBounds bool
}

// Plan is the result of the dispatcher: which kernel to run and how to launch it.
type Plan struct {
	Key
	Geometry

	// ImgsPerBlock is the image tile of one block: LanesX * ImgsPerThread.
	ImgsPerBlock int

	// NumImgBlocks is the number of image tiles: GridX is NumImgBlocks times the number of color tiles.
	NumImgBlocks int

	// ColorsPerBlock is the number of colors reconstructed by one block.
	ColorsPerBlock int
}

// String implements fmt.Stringer.
func (p Plan) String() string {
	return fmt.Sprintf("%s, %s, imgsPerBlock=%d, colorsPerBlock=%d", p.Key, p.Geometry, p.ImgsPerBlock, p.ColorsPerBlock)
}

// imgsPerThreadFor returns the largest candidate whose tile (lanesX * candidate) divides numImages,
// or the smallest candidate if none does.
func imgsPerThreadFor(numImages, lanesX int, candidates ...int) int {
	for _, candidate := range candidates {
		if numImages%(lanesX*candidate) == 0 {
			return candidate
		}
	}
	return candidates[len(candidates)-1]
}

// Supports returns nil if the regime can handle the problem, or an error explaining why not.
func Supports(regime Regime, problem Problem) error {
	numFilterColors := problem.NumFilterColors()
	switch regime {
	case RegimeFew:
		if problem.NumGroups != 1 {
			return errors.Errorf("regime %s requires numGroups == 1, got %d", regime, problem.NumGroups)
		}
	case RegimeMedium:
		if numFilterColors%2 != 0 {
			return errors.Errorf("regime %s requires an even number of colors per group, got %d", regime, numFilterColors)
		}
	case RegimeMany:
		if numFilterColors%8 != 0 {
			return errors.Errorf("regime %s requires colors per group to be a multiple of 8, got %d", regime, numFilterColors)
		}
	default:
		return errors.Errorf("invalid regime %s", regime)
	}
	return nil
}

// New returns the plan for the given problem.
//
// It assumes the problem was already validated (see the root package), except for regimes forced by options.
func New(problem Problem, options Options) (Plan, error) {
	numFilterColors := problem.NumFilterColors()
	regime := options.Regime
	if regime == RegimeAuto {
		switch {
		case numFilterColors%8 == 0:
			regime = RegimeMany
		case numFilterColors > 3:
			regime = RegimeMedium
		default:
			regime = RegimeFew
		}
	} else if err := Supports(regime, problem); err != nil {
		return Plan{}, err
	}

	var plan Plan
	plan.Regime = regime
	plan.Conv = problem.Conv
	plan.Scale = problem.ScaleTargets != 0
	numRegions := xslices.CeilDiv(problem.ImgSizeY, RegionSize) * xslices.CeilDiv(problem.ImgSizeX, RegionSize)
	switch regime {
	case RegimeMany:
		plan.LanesX, plan.LanesY = 32, 4
		plan.ImgsPerThread = imgsPerThreadFor(problem.NumImages, plan.LanesX, 4, 2, 1)
		if numFilterColors%16 == 0 {
			plan.ColorsPerThread = 4
		} else {
			plan.ColorsPerThread = 2
		}
		plan.ColorsPerBlock = plan.LanesY * plan.ColorsPerThread
		plan.GridY = problem.ImgSizeY * problem.ImgSizeX

	case RegimeMedium:
		plan.LanesX, plan.LanesY = 16, 16
		plan.ImgsPerThread = imgsPerThreadFor(problem.NumImages, plan.LanesX, 8, 4, 2)
		if numFilterColors%4 == 0 {
			plan.ColorsPerThread = 4
		} else {
			plan.ColorsPerThread = 2
		}
		plan.ColorsPerBlock = plan.ColorsPerThread
		plan.GridY = numRegions

	case RegimeFew:
		plan.LanesX, plan.LanesY = 16, 16
		plan.ImgsPerThread = imgsPerThreadFor(problem.NumImages, plan.LanesX, 8, 4, 2)
		plan.ColorsPerThread = numFilterColors
		plan.ColorsPerBlock = numFilterColors
		plan.GridY = numRegions
	}
	plan.ImgsPerBlock = plan.LanesX * plan.ImgsPerThread
	plan.NumImgBlocks = xslices.CeilDiv(problem.NumImages, plan.ImgsPerBlock)
	plan.GridX = plan.NumImgBlocks * (problem.NumImgColors / plan.ColorsPerBlock)
	plan.CheckCaseBounds = options.ForceCheckCaseBounds || problem.NumImages%plan.ImgsPerBlock != 0
	return plan, nil
}
