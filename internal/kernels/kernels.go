// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels implements the blocked accumulation kernels that compute the gradient of a convolution
// with respect to its input images ("image acts").
//
// A launch is a grid of independent blocks. Each block owns a disjoint tile of
// (pixel or 4x4 pixel region) x (image slice) x (color slice) of the targets, and is executed by a group
// of lanes (goroutines) that cooperatively stage chunks of hidActs and filters into block-local scratch
// buffers, synchronizing on a barrier before and after consuming them. Blocks never communicate.
//
// There are three specializations, one per dispatch.Regime, registered at init time.
package kernels

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/imgacts/internal/dispatch"
	"github.com/gomlx/imgacts/internal/overlap"
	"github.com/gomlx/imgacts/internal/workerspool"
	"github.com/gomlx/imgacts/pkg/layout"
	"github.com/pkg/errors"
)

// Args are the buffers and shape parameters of one launch. They are assumed to be already validated.
type Args struct {
	HidActs layout.HidActs
	Filters layout.Filters
	Targets layout.Targets

	// Planner holds the module geometry, shared by both spatial axes.
	Planner overlap.Planner

	ImgSizeY, ImgSizeX      int
	NumImgColors, NumGroups int
	NumFilters, NumImages   int

	ScaleTargets, ScaleOutputs float32
}

func (a *Args) numFilterColors() int    { return a.NumImgColors / a.NumGroups }
func (a *Args) numFiltersPerGroup() int { return a.NumFilters / a.NumGroups }

// moduleIdx returns the flat index of module (my, mx).
func (a *Args) moduleIdx(my, mx int) int { return my*a.Planner.NumModules + mx }

// program prepares one block of a launch: it allocates the block's scratch buffers, computes the
// block-wide indices and returns the function executed by each of its lanes.
type program func(l *launch, blk *block) laneFunc

var registry = make(map[dispatch.Regime]program)

// register a program for a regime. It's called from init() functions, one per specialization.
func register(regime dispatch.Regime, prog program) {
	if _, found := registry[regime]; found {
		panic(errors.Errorf("kernels: program for regime %s registered twice", regime))
	}
	registry[regime] = prog
}

// IsRegistered returns whether there is a kernel for the regime.
func IsRegistered(regime dispatch.Regime) bool {
	_, found := registry[regime]
	return found
}

// launch holds the state shared by all blocks of one launch. It's read-only during the execution.
type launch struct {
	args   *Args
	plan   dispatch.Plan
	writer resultWriter
}

// Launch runs the kernel selected by plan over the whole grid and returns when all blocks finished.
//
// Blocks are scheduled on pool. If any block fails, the blocks not yet started are skipped and the
// first error is returned: in this case the contents of the targets are undefined.
func Launch(pool *workerspool.Pool, plan dispatch.Plan, args *Args) error {
	prog, found := registry[plan.Regime]
	if !found {
		return errors.Errorf("no kernel registered for regime %s", plan.Regime)
	}
	if plan.NumLanes()%dispatch.LoadWidth != 0 || plan.ImgsPerBlock%dispatch.LoadWidth != 0 {
		return errors.Errorf("invalid launch geometry %s for %s: lanes and image tile must be multiples of %d",
			plan.Geometry, plan.Key, dispatch.LoadWidth)
	}
	l := &launch{
		args: args,
		plan: plan,
		writer: resultWriter{
			targets:         args.Targets,
			scale:           plan.Scale,
			scaleTargets:    args.ScaleTargets,
			scaleOutputs:    args.ScaleOutputs,
			numImages:       args.NumImages,
			checkCaseBounds: plan.CheckCaseBounds,
		},
	}

	var (
		failed   atomic.Bool
		mu       sync.Mutex
		firstErr error
	)
	pool.Run(plan.NumBlocks(), func(blockIdx int) {
		if failed.Load() {
			return
		}
		if err := l.runBlock(prog, blockIdx); err != nil {
			failed.Store(true)
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	})
	return firstErr
}
