// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// imgacts runs the image-acts (convolution backward-data) kernels on random data for a given shape,
// verifies the result against a direct float64 computation and benchmarks repeated launches.
//
// Example:
//
//	imgacts -colors=32 -img_size=32 -images=128 -filters=64 -modules=16 -filter_size=5 -padding=-2 -stride=2 -reps=20
//
// The engine configuration comes from -config, or from $IMGACTS_CONFIG if -config is not given.
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/imgacts"
	"github.com/gomlx/imgacts/internal/reference"
	"github.com/gomlx/imgacts/pkg/support/xslices"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", fmt.Sprintf("Engine configuration, see imgacts.ParseConfig. "+
		"If empty, $%s is used.", imgacts.IMGACTS_CONFIG))

	flagColors       = flag.Int("colors", 3, "Number of image colors (channels).")
	flagImgSize      = flag.Int("img_size", 32, "Image height and width.")
	flagImages       = flag.Int("images", 128, "Number of images in the batch.")
	flagFilters      = flag.Int("filters", 64, "Number of filters, it must be a multiple of 16*groups.")
	flagModules      = flag.Int("modules", 0, "Number of modules per axis. If 0 it's the smallest number covering the image.")
	flagFilterSize   = flag.Int("filter_size", 5, "Filter height and width.")
	flagPadding      = flag.Int("padding", -2, "Padding start, the position of the first module (<= 0).")
	flagStride       = flag.Int("stride", 1, "Module stride.")
	flagGroups       = flag.Int("groups", 1, "Number of groups of colors and filters.")
	flagLocal        = flag.Bool("local", false, "Use one set of filters per module (locally-connected layer) instead of a convolution.")
	flagScaleTargets = flag.Float64("scale_targets", 0, "Weight of the previous contents of the targets, 0 to overwrite them.")
	flagScaleOutput  = flag.Float64("scale_output", 1, "Weight of the computed gradient.")
	flagSeed         = flag.Uint64("seed", 42, "Seed of the random inputs.")
	flagCheck        = flag.Bool("check", true, "Verify the result against a direct float64 computation.")
	flagReps         = flag.Int("reps", 10, "Number of repeated launches to benchmark. Set to 0 to skip the benchmark.")
	flagNoColor      = flag.Bool("no_color", false, "Disable colors in the output.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagNoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	defer klog.Flush()
	if err := run(); err != nil {
		klog.Errorf("imgacts: %+v", err)
		klog.Flush()
		os.Exit(1)
	}
}

// paramsFromFlags builds the problem parameters from the flags.
func paramsFromFlags() imgacts.Params {
	numModules := *flagModules
	if numModules <= 0 && *flagStride > 0 {
		// Smallest number of modules covering the image.
		numModules = max(1, xslices.CeilDiv(*flagImgSize-*flagPadding-*flagFilterSize, *flagStride)+1)
	}
	return imgacts.Params{
		NumImgColors: *flagColors,
		ImgSizeY:     *flagImgSize,
		ImgSizeX:     *flagImgSize,
		NumImages:    *flagImages,
		NumFilters:   *flagFilters,
		NumModulesY:  numModules,
		NumModulesX:  numModules,
		FilterSizeY:  *flagFilterSize,
		FilterSizeX:  *flagFilterSize,
		PaddingStart: *flagPadding,
		ModuleStride: *flagStride,
		NumGroups:    *flagGroups,
		ScaleTargets: float32(*flagScaleTargets),
		ScaleOutput:  float32(*flagScaleOutput),
		Conv:         !*flagLocal,
	}
}

func run() error {
	p := paramsFromFlags()
	if err := p.Validate(-1, -1, -1); err != nil {
		return err
	}
	var (
		engine *imgacts.Engine
		err    error
	)
	if *flagConfig != "" {
		engine, err = imgacts.NewWithConfig(*flagConfig)
		if err != nil {
			return err
		}
	} else {
		engine = imgacts.Default()
	}
	plan, err := engine.Plan(p)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(*flagSeed, 0))
	hidActs := randomSlice(rng, p.HidActsSize())
	filters := randomSlice(rng, p.FiltersSize())
	initial := randomSlice(rng, p.TargetsSize())
	targets := make([]float32, len(initial))
	copy(targets, initial)

	r := &report{params: p, config: engine.Config(), plan: plan}
	if *flagCheck {
		start := time.Now()
		if err := engine.ImgActs(hidActs, filters, targets, p); err != nil {
			return err
		}
		r.firstRun = time.Since(start)
		raw, err := reference.RawSum(referenceShape(p), hidActs, filters)
		if err != nil {
			return errors.WithMessage(err, "computing reference")
		}
		want := reference.Blend(raw, initial, p.ScaleTargets, p.ScaleOutput)
		r.maxRelErr, r.maxRelErrPos = xslices.MaxRelativeError(targets, want)
		r.checked = true
	}

	if *flagReps > 0 {
		r.durations, err = benchmark(engine, p, hidActs, filters, targets, *flagReps)
		if err != nil {
			return err
		}
	}
	r.print()
	if r.checked && !(r.maxRelErr < xslices.Epsilon) {
		return errors.Errorf("result differs from the reference: max relative error %g at position %d",
			r.maxRelErr, r.maxRelErrPos)
	}
	return nil
}

func randomSlice(rng *rand.Rand, size int) []float32 {
	data := make([]float32, size)
	for ii := range data {
		data[ii] = rng.Float32()*2 - 1
	}
	return data
}

func referenceShape(p imgacts.Params) reference.Shape {
	return reference.Shape{
		NumImgColors: p.NumImgColors,
		ImgSizeY:     p.ImgSizeY,
		ImgSizeX:     p.ImgSizeX,
		NumImages:    p.NumImages,
		NumFilters:   p.NumFilters,
		NumModulesY:  p.NumModulesY,
		NumModulesX:  p.NumModulesX,
		FilterSize:   p.FilterSizeY,
		PaddingStart: p.PaddingStart,
		ModuleStride: p.ModuleStride,
		NumGroups:    max(p.NumGroups, 1),
		Conv:         p.Conv,
	}
}

// benchmark launches the kernel reps times, showing a progress bar, and returns the duration of each launch.
func benchmark(engine *imgacts.Engine, p imgacts.Params, hidActs, filters, targets []float32, reps int) ([]time.Duration, error) {
	output := termenv.NewOutput(os.Stderr)
	output.HideCursor()
	defer output.ShowCursor()

	bar := progressbar.NewOptions(reps,
		progressbar.OptionSetDescription("benchmarking"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("launches"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionClearOnFinish(),
	)
	durations := make([]time.Duration, 0, reps)
	for range reps {
		start := time.Now()
		if err := engine.ImgActs(hidActs, filters, targets, p); err != nil {
			return nil, err
		}
		durations = append(durations, time.Since(start))
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	return durations, nil
}
