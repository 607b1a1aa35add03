// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imgacts

import (
	"time"

	"github.com/gomlx/imgacts/internal/dispatch"
	"github.com/gomlx/imgacts/internal/kernels"
	"github.com/gomlx/imgacts/internal/workerspool"
	"github.com/gomlx/imgacts/pkg/layout"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Engine executes image-acts computations. It owns the pool of workers where the blocks of the kernels
// are scheduled.
//
// It's safe for concurrent use, as long as concurrent calls don't share the targets buffer.
type Engine struct {
	config Config
	pool   *workerspool.Pool
}

// New returns an Engine with the given configuration.
func New(config Config) *Engine {
	return &Engine{
		config: config,
		pool:   workerspool.NewWithParallelism(config.Parallelism),
	}
}

// NewWithConfig returns an Engine configured by a configuration string. See ParseConfig for its format.
func NewWithConfig(config string) (*Engine, error) {
	cfg, err := ParseConfig(config)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

// Config returns the configuration of the engine.
func (e *Engine) Config() Config {
	config := e.config
	config.Parallelism = e.pool.MaxParallelism()
	return config
}

// Plan returns the kernel variant and geometry that ImgActs would use for the params.
//
// The error returned, if any, wraps ErrShapeViolation.
func (e *Engine) Plan(p Params) (Plan, error) {
	p = p.sanitized()
	if err := p.Validate(-1, -1, -1); err != nil {
		return Plan{}, err
	}
	return e.plan(p)
}

func (e *Engine) plan(p Params) (Plan, error) {
	plan, err := dispatch.New(p.problem(), dispatch.Options{
		Regime:               e.config.Regime,
		ForceCheckCaseBounds: e.config.CheckBounds,
	})
	if err != nil {
		return Plan{}, asShapeViolation(errors.WithMessagef(err, "engine configured with %q", e.config))
	}
	return plan, nil
}

// ImgActs computes the gradient of a convolution (or of a locally-connected layer, if p.Conv is false)
// with respect to its input images, and stores it in targets:
//
//	targets = p.ScaleTargets * targets + p.ScaleOutput * rawSum,   if p.ScaleTargets != 0
//	targets = p.ScaleOutput * rawSum,                              otherwise
//
// Where rawSum[c, pixel, i] is the sum, over every module covering pixel and every filter f of the group
// of color c, of filters[c, pixel position in the module, f] * hidActs[f, module, i].
//
// If p.ScaleTargets is 0 the previous contents of targets are ignored (even NaNs).
//
// It returns an error wrapping ErrShapeViolation if the params or the buffers are invalid, in which case
// targets is not touched. Or an error wrapping ErrExecutionFailure if the computation failed, in which
// case the contents of targets are undefined.
func (e *Engine) ImgActs(hidActs, filters, targets []float32, p Params) error {
	p = p.sanitized()
	if err := p.Validate(len(hidActs), len(filters), len(targets)); err != nil {
		return err
	}
	plan, err := e.plan(p)
	if err != nil {
		return err
	}
	args, err := p.kernelArgs(hidActs, filters, targets)
	if err != nil {
		return asShapeViolation(err)
	}
	return e.launch(plan, args)
}

// launch runs the kernels and converts a failure into an ErrExecutionFailure.
func (e *Engine) launch(plan Plan, args *kernels.Args) error {
	klog.V(1).Infof("imgacts: %s", plan)
	var (
		launchID string
		start    time.Time
	)
	if klog.V(2).Enabled() {
		launchID = uuid.NewString()
		start = time.Now()
		klog.Infof("imgacts: launch %s started: %d blocks of %d lanes", launchID, plan.NumBlocks(), plan.NumLanes())
	}
	if err := kernels.Launch(e.pool, plan, args); err != nil {
		klog.Errorf("imgacts: launch of %s failed: %+v", plan, err)
		return asExecutionFailure(err)
	}
	if launchID != "" {
		klog.Infof("imgacts: launch %s finished in %s", launchID, time.Since(start))
	}
	return nil
}

// kernelArgs builds the strided views and arguments of the kernels. The params must be valid.
func (p Params) kernelArgs(hidActs, filters, targets []float32) (*kernels.Args, error) {
	hidActsView, err := layout.NewHidActs(hidActs, p.NumFilters, p.NumModules(), p.NumImages)
	if err != nil {
		return nil, err
	}
	filtersView, err := layout.NewFilters(filters, p.Conv, p.NumModules(), p.NumFilterColors(), p.FilterPixels(), p.NumFilters)
	if err != nil {
		return nil, err
	}
	targetsView, err := layout.NewTargets(targets, p.NumImgColors, p.ImgPixels(), p.NumImages)
	if err != nil {
		return nil, err
	}
	return &kernels.Args{
		HidActs:      hidActsView,
		Filters:      filtersView,
		Targets:      targetsView,
		Planner:      p.planner(),
		ImgSizeY:     p.ImgSizeY,
		ImgSizeX:     p.ImgSizeX,
		NumImgColors: p.NumImgColors,
		NumGroups:    p.NumGroups,
		NumFilters:   p.NumFilters,
		NumImages:    p.NumImages,
		ScaleTargets: p.ScaleTargets,
		ScaleOutputs: p.ScaleOutput,
	}, nil
}
