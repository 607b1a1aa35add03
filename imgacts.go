// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imgacts computes the gradient of a convolutional (or locally-connected) layer with respect to
// its input images, also known as "image acts" or the backward-data pass.
//
// Given the gradients of the layer's outputs (hidActs) and its filters, it accumulates into every input
// pixel the contributions of all the modules (output positions) whose receptive field covers it:
//
//	hidActs := ...  // [numFilters][numModulesY][numModulesX][numImages]
//	filters := ...  // [numColors][filterSize][filterSize][numFilters]
//	p := imgacts.Params{NumImgColors: 3, ImgSizeY: 32, ImgSizeX: 32, NumImages: 128, NumFilters: 64,
//		NumModulesY: 16, NumModulesX: 16, FilterSizeY: 5, FilterSizeX: 5, PaddingStart: -2, ModuleStride: 2,
//		ScaleOutput: 1}
//	targets := p.NewTargets()
//	err := imgacts.ConvImgActs(hidActs, filters, targets, p)
//
// The computation is split in independent blocks, each reconstructing a tile of pixels x images x colors,
// scheduled on a pool of goroutines. The kernel variant and the blocks geometry are selected from the
// shape, see Explain.
//
// The package-level functions use a default Engine, configured by the environment variable IMGACTS_CONFIG.
// See ParseConfig.
package imgacts

import (
	"sync"

	"github.com/gomlx/exceptions"
)

var (
	defaultEngine     *Engine
	defaultEngineOnce sync.Once
)

// Default returns the default Engine, created on first use with the configuration in the environment
// variable IMGACTS_CONFIG, or DefaultConfig if not set.
//
// It panics if the configuration is invalid.
func Default() *Engine {
	defaultEngineOnce.Do(func() {
		config := defaultConfigString()
		var err error
		defaultEngine, err = NewWithConfig(config)
		if err != nil {
			exceptions.Panicf("imgacts: invalid default configuration %q (from $%s or DefaultConfig): %+v",
				config, IMGACTS_CONFIG, err)
		}
	})
	return defaultEngine
}

// ImgActs computes the image acts with the default engine. See Engine.ImgActs.
func ImgActs(hidActs, filters, targets []float32, p Params) error {
	return Default().ImgActs(hidActs, filters, targets, p)
}

// ConvImgActs is like ImgActs with filters shared by all modules (p.Conv = true).
func ConvImgActs(hidActs, filters, targets []float32, p Params) error {
	p.Conv = true
	return ImgActs(hidActs, filters, targets, p)
}

// LocalImgActs is like ImgActs for a locally-connected layer, with one set of filters per module (p.Conv = false).
func LocalImgActs(hidActs, filters, targets []float32, p Params) error {
	p.Conv = false
	return ImgActs(hidActs, filters, targets, p)
}

// MustImgActs is like ImgActs, but panics on error.
func MustImgActs(hidActs, filters, targets []float32, p Params) {
	panicOnError(ImgActs(hidActs, filters, targets, p))
}

func panicOnError(err error) {
	if err != nil {
		exceptions.Panicf("imgacts: %+v", err)
	}
}

// Explain returns the kernel variant and launch geometry the default engine selects for the params.
func Explain(p Params) (Plan, error) {
	return Default().Plan(p)
}
