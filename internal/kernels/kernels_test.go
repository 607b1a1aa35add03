// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/imgacts/internal/dispatch"
	"github.com/gomlx/imgacts/internal/overlap"
	"github.com/gomlx/imgacts/internal/reference"
	"github.com/gomlx/imgacts/internal/workerspool"
	"github.com/gomlx/imgacts/pkg/layout"
	"github.com/gomlx/imgacts/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testProblem struct {
	shape                      reference.Shape
	scaleTargets, scaleOutputs float32
	options                    dispatch.Options
}

func (p testProblem) String() string {
	s := p.shape
	return fmt.Sprintf("colors=%d/groups=%d/img=%dx%dx%d/filters=%d/modules=%d/fs=%d/pad=%d/stride=%d/conv=%t/scale=%g,%g/%+v",
		s.NumImgColors, s.NumGroups, s.ImgSizeY, s.ImgSizeX, s.NumImages, s.NumFilters, s.NumModulesY,
		s.FilterSize, s.PaddingStart, s.ModuleStride, s.Conv, p.scaleTargets, p.scaleOutputs, p.options)
}

func randomSlice(rng *rand.Rand, size int) []float32 {
	data := make([]float32, size)
	for ii := range data {
		data[ii] = rng.Float32()*2 - 1
	}
	return data
}

func (p testProblem) buffers(rng *rand.Rand) (hidActs, filters, targets []float32) {
	s := p.shape
	numModules := s.NumModulesY * s.NumModulesX
	filterModules := 1
	if !s.Conv {
		filterModules = numModules
	}
	hidActs = randomSlice(rng, s.NumFilters*numModules*s.NumImages)
	filters = randomSlice(rng, filterModules*(s.NumImgColors/s.NumGroups)*s.FilterSize*s.FilterSize*s.NumFilters)
	targets = randomSlice(rng, s.NumImgColors*s.ImgSizeY*s.ImgSizeX*s.NumImages)
	return
}

func (p testProblem) args(hidActs, filters, targets []float32) *Args {
	s := p.shape
	numModules := s.NumModulesY * s.NumModulesX
	return &Args{
		HidActs: must.M1(layout.NewHidActs(hidActs, s.NumFilters, numModules, s.NumImages)),
		Filters: must.M1(layout.NewFilters(filters, s.Conv, numModules, s.NumImgColors/s.NumGroups,
			s.FilterSize*s.FilterSize, s.NumFilters)),
		Targets: must.M1(layout.NewTargets(targets, s.NumImgColors, s.ImgSizeY*s.ImgSizeX, s.NumImages)),
		Planner: overlap.Planner{
			NumModules:   s.NumModulesY,
			FilterSize:   s.FilterSize,
			PaddingStart: s.PaddingStart,
			ModuleStride: s.ModuleStride,
		},
		ImgSizeY:     s.ImgSizeY,
		ImgSizeX:     s.ImgSizeX,
		NumImgColors: s.NumImgColors,
		NumGroups:    s.NumGroups,
		NumFilters:   s.NumFilters,
		NumImages:    s.NumImages,
		ScaleTargets: p.scaleTargets,
		ScaleOutputs: p.scaleOutputs,
	}
}

func (p testProblem) plan(t *testing.T) dispatch.Plan {
	s := p.shape
	plan, err := dispatch.New(dispatch.Problem{
		NumImgColors: s.NumImgColors,
		NumGroups:    s.NumGroups,
		NumImages:    s.NumImages,
		ImgSizeY:     s.ImgSizeY,
		ImgSizeX:     s.ImgSizeX,
		ScaleTargets: p.scaleTargets,
		Conv:         s.Conv,
	}, p.options)
	require.NoError(t, err)
	return plan
}

// runAndCompare launches the kernel for the problem and compares it with the reference implementation.
func runAndCompare(t *testing.T, pool *workerspool.Pool, p testProblem) dispatch.Plan {
	rng := rand.New(rand.NewPCG(42, uint64(p.shape.NumImgColors)))
	hidActs, filters, targets := p.buffers(rng)
	raw := must.M1(reference.RawSum(p.shape, hidActs, filters))
	old := targets
	if p.scaleTargets == 0 {
		// Previous contents must be ignored, even if NaN.
		old = make([]float32, len(targets))
		for ii := range targets {
			targets[ii] = float32(math.NaN())
		}
	} else {
		old = xslices.Map(targets, func(v float32) float32 { return v })
	}
	want := reference.Blend(raw, old, p.scaleTargets, p.scaleOutputs)

	plan := p.plan(t)
	require.NoError(t, Launch(pool, plan, p.args(hidActs, filters, targets)))
	maxErr, pos := xslices.MaxRelativeError(targets, want)
	require.Lessf(t, maxErr, xslices.Epsilon, "plan %s: mismatch at position %d: got %g, wanted %g",
		plan, pos, targets[max(pos, 0)], want[max(pos, 0)])
	return plan
}

func TestLaunch(t *testing.T) {
	pool := workerspool.NewWithParallelism(4)
	testCases := []struct {
		problem testProblem
		regime  dispatch.Regime
	}{
		{
			problem: testProblem{
				shape: reference.Shape{NumImgColors: 3, ImgSizeY: 5, ImgSizeX: 5, NumImages: 32, NumFilters: 16,
					NumModulesY: 3, NumModulesX: 3, FilterSize: 3, PaddingStart: -1, ModuleStride: 2, NumGroups: 1, Conv: true},
				scaleOutputs: 1,
			},
			regime: dispatch.RegimeFew,
		},
		{
			problem: testProblem{
				shape: reference.Shape{NumImgColors: 1, ImgSizeY: 6, ImgSizeX: 7, NumImages: 20, NumFilters: 32,
					NumModulesY: 3, NumModulesX: 3, FilterSize: 4, PaddingStart: -1, ModuleStride: 2, NumGroups: 1},
				scaleTargets: 0.5, scaleOutputs: 2,
			},
			regime: dispatch.RegimeFew,
		},
		{
			problem: testProblem{
				shape: reference.Shape{NumImgColors: 6, ImgSizeY: 5, ImgSizeX: 5, NumImages: 64, NumFilters: 16,
					NumModulesY: 2, NumModulesX: 2, FilterSize: 4, PaddingStart: -1, ModuleStride: 3, NumGroups: 1, Conv: true},
				scaleTargets: 1, scaleOutputs: 1,
			},
			regime: dispatch.RegimeMedium,
		},
		{
			problem: testProblem{
				shape: reference.Shape{NumImgColors: 8, ImgSizeY: 6, ImgSizeX: 6, NumImages: 40, NumFilters: 32,
					NumModulesY: 3, NumModulesX: 3, FilterSize: 4, PaddingStart: -1, ModuleStride: 2, NumGroups: 2},
				scaleOutputs: 1,
			},
			regime: dispatch.RegimeMedium,
		},
		{
			problem: testProblem{
				shape: reference.Shape{NumImgColors: 16, ImgSizeY: 4, ImgSizeX: 5, NumImages: 128, NumFilters: 16,
					NumModulesY: 3, NumModulesX: 3, FilterSize: 3, PaddingStart: -1, ModuleStride: 2, NumGroups: 1, Conv: true},
				scaleOutputs: 1,
			},
			regime: dispatch.RegimeMany,
		},
		{
			problem: testProblem{
				shape: reference.Shape{NumImgColors: 16, ImgSizeY: 5, ImgSizeX: 5, NumImages: 50, NumFilters: 32,
					NumModulesY: 2, NumModulesX: 2, FilterSize: 4, PaddingStart: 0, ModuleStride: 1, NumGroups: 2},
				scaleTargets: 0.25, scaleOutputs: -1,
			},
			regime: dispatch.RegimeMany,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.problem.String(), func(t *testing.T) {
			plan := runAndCompare(t, pool, tc.problem)
			assert.Equal(t, tc.regime, plan.Regime)
		})
	}
}

func TestLaunchCrossRegime(t *testing.T) {
	shape := reference.Shape{NumImgColors: 16, ImgSizeY: 6, ImgSizeX: 5, NumImages: 32, NumFilters: 32,
		NumModulesY: 3, NumModulesX: 3, FilterSize: 3, PaddingStart: -1, ModuleStride: 2, NumGroups: 1, Conv: true}
	pool := workerspool.New()
	for _, regime := range []dispatch.Regime{dispatch.RegimeFew, dispatch.RegimeMedium, dispatch.RegimeMany} {
		for _, checkBounds := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/checkBounds=%t", regime, checkBounds), func(t *testing.T) {
				plan := runAndCompare(t, pool, testProblem{
					shape:        shape,
					scaleTargets: 1,
					scaleOutputs: 1,
					options:      dispatch.Options{Regime: regime, ForceCheckCaseBounds: checkBounds},
				})
				assert.Equal(t, regime, plan.Regime)
				assert.Equal(t, checkBounds, plan.CheckCaseBounds)
			})
		}
	}
}

func TestLaunchInline(t *testing.T) {
	// Parallelism disabled: blocks run one at a time in the caller's goroutine.
	runAndCompare(t, workerspool.NewWithParallelism(0), testProblem{
		shape: reference.Shape{NumImgColors: 2, ImgSizeY: 3, ImgSizeX: 3, NumImages: 16, NumFilters: 16,
			NumModulesY: 1, NumModulesX: 1, FilterSize: 3, PaddingStart: 0, ModuleStride: 1, NumGroups: 1},
		scaleOutputs: 3,
	})
}

func TestLaunchBoundary(t *testing.T) {
	// 33 images: the second image tile has a single valid image. Images past the end must contribute
	// nothing and never be written: the buffers are sub-slices of larger buffers whose tails are NaN.
	p := testProblem{
		shape: reference.Shape{NumImgColors: 2, ImgSizeY: 4, ImgSizeX: 4, NumImages: 33, NumFilters: 16,
			NumModulesY: 2, NumModulesX: 2, FilterSize: 3, PaddingStart: 0, ModuleStride: 1, NumGroups: 1, Conv: true},
		scaleTargets: 1,
		scaleOutputs: 1,
	}
	rng := rand.New(rand.NewPCG(7, 11))
	hidActs, filters, targets := p.buffers(rng)
	raw := must.M1(reference.RawSum(p.shape, hidActs, filters))
	want := reference.Blend(raw, targets, p.scaleTargets, p.scaleOutputs)

	const tail = 64
	withTail := func(data []float32) []float32 {
		buf := make([]float32, len(data)+tail)
		copy(buf, data)
		for ii := len(data); ii < len(buf); ii++ {
			buf[ii] = float32(math.NaN())
		}
		return buf[:len(data)]
	}
	hidActs, targets = withTail(hidActs), withTail(targets)

	plan := p.plan(t)
	require.True(t, plan.CheckCaseBounds)
	require.NoError(t, Launch(workerspool.New(), plan, p.args(hidActs, filters, targets)))
	maxErr, pos := xslices.MaxRelativeError(targets, want)
	require.Lessf(t, maxErr, xslices.Epsilon, "mismatch at position %d", pos)
	for _, v := range targets[:cap(targets)][len(targets):] {
		require.True(t, math.IsNaN(float64(v)), "tail of targets buffer was written")
	}
}

func TestLaunchFailure(t *testing.T) {
	p := testProblem{
		shape: reference.Shape{NumImgColors: 16, ImgSizeY: 3, ImgSizeX: 3, NumImages: 32, NumFilters: 16,
			NumModulesY: 1, NumModulesX: 1, FilterSize: 3, PaddingStart: 0, ModuleStride: 1, NumGroups: 1, Conv: true},
		scaleOutputs: 1,
	}
	rng := rand.New(rand.NewPCG(1, 2))
	hidActs, filters, targets := p.buffers(rng)

	t.Run("LanePanic", func(t *testing.T) {
		args := p.args(hidActs, filters, targets)
		// Truncated filters make some lanes panic with an out-of-range index: the launch must return an
		// error instead of crashing or deadlocking the other lanes waiting on the barrier.
		args.Filters.Data = args.Filters.Data[:len(args.Filters.Data)/2]
		err := Launch(workerspool.New(), p.plan(t), args)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lane")
	})

	t.Run("InvalidGeometry", func(t *testing.T) {
		plan := p.plan(t)
		plan.LanesX = 10
		require.Error(t, Launch(workerspool.New(), plan, p.args(hidActs, filters, targets)))
	})

	t.Run("UnknownRegime", func(t *testing.T) {
		plan := p.plan(t)
		plan.Regime = dispatch.RegimeAuto
		assert.False(t, IsRegistered(dispatch.RegimeAuto))
		require.Error(t, Launch(workerspool.New(), plan, p.args(hidActs, filters, targets)))
	})
}

func TestScratchPools(t *testing.T) {
	s := getScratch(3, 5)
	require.Equal(t, 3, s.rows)
	require.Equal(t, 5, s.cols)
	require.Len(t, s.data, 15)
	putScratch(s)
	putScratch(nil)

	// Accumulators are always zeroed, even when their buffer is reused.
	for range 3 {
		acc := newAccumulator(4, 2)
		require.Len(t, acc.prod, 8)
		for ii, v := range acc.prod {
			require.Zerof(t, v, "accumulator element %d not cleared", ii)
			acc.prod[ii] = float32(ii + 1)
		}
		acc.release()
		require.Nil(t, acc.prod)
	}

	// Dirty scratch buffers don't leak into later launches.
	for range 2 {
		dirty := getScratch(dispatch.FiltersPerChunk, 32)
		for ii := range dirty.data {
			dirty.data[ii] = float32(math.NaN())
		}
		putScratch(dirty)
	}
	p := testProblem{
		shape: reference.Shape{NumImgColors: 2, ImgSizeY: 4, ImgSizeX: 4, NumImages: 20, NumFilters: 16,
			NumModulesY: 2, NumModulesX: 2, FilterSize: 3, PaddingStart: 0, ModuleStride: 1, NumGroups: 1},
		scaleOutputs: 1,
	}
	pool := workerspool.NewWithParallelism(2)
	for range 3 {
		runAndCompare(t, pool, p)
	}
}

func TestLaunchAfterFailure(t *testing.T) {
	// Aborted barriers are never reused: a failed launch doesn't affect following launches with the
	// same block geometry.
	p := testProblem{
		shape: reference.Shape{NumImgColors: 16, ImgSizeY: 3, ImgSizeX: 3, NumImages: 32, NumFilters: 16,
			NumModulesY: 1, NumModulesX: 1, FilterSize: 3, PaddingStart: 0, ModuleStride: 1, NumGroups: 1, Conv: true},
		scaleOutputs: 1,
	}
	pool := workerspool.New()
	for range 2 {
		rng := rand.New(rand.NewPCG(3, 4))
		hidActs, filters, targets := p.buffers(rng)
		args := p.args(hidActs, filters, targets)
		args.Filters.Data = args.Filters.Data[:len(args.Filters.Data)/2]
		require.Error(t, Launch(pool, p.plan(t), args))
		runAndCompare(t, pool, p)
	}
}

func TestRegistry(t *testing.T) {
	for _, regime := range []dispatch.Regime{dispatch.RegimeFew, dispatch.RegimeMedium, dispatch.RegimeMany} {
		assert.True(t, IsRegistered(regime), "regime %s", regime)
	}
	require.Panics(t, func() { register(dispatch.RegimeFew, fewColorProgram) })
}

func BenchmarkLaunch(b *testing.B) {
	shape := reference.Shape{NumImgColors: 32, ImgSizeY: 16, ImgSizeX: 16, NumImages: 128, NumFilters: 32,
		NumModulesY: 8, NumModulesX: 8, FilterSize: 4, PaddingStart: -1, ModuleStride: 2, NumGroups: 1, Conv: true}
	pool := workerspool.New()
	for _, regime := range []dispatch.Regime{dispatch.RegimeMedium, dispatch.RegimeMany} {
		p := testProblem{shape: shape, scaleOutputs: 1, options: dispatch.Options{Regime: regime}}
		rng := rand.New(rand.NewPCG(0, 0))
		hidActs, filters, targets := p.buffers(rng)
		args := p.args(hidActs, filters, targets)
		plan, err := dispatch.New(dispatch.Problem{NumImgColors: shape.NumImgColors, NumGroups: 1,
			NumImages: shape.NumImages, ImgSizeY: shape.ImgSizeY, ImgSizeX: shape.ImgSizeX, Conv: true}, p.options)
		if err != nil {
			b.Fatal(err)
		}
		b.Run(regime.String(), func(b *testing.B) {
			for b.Loop() {
				if err := Launch(pool, plan, args); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
