// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/imgacts"
	"github.com/gomlx/imgacts/pkg/support/xslices"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	redRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

// tableWithReds is a 2 columns table (name, value) where some rows can be highlighted in red.
type tableWithReds struct {
	table *lgtable.Table
	count int
	reds  map[int]bool
}

func newTableWithReds() *tableWithReds {
	t := &tableWithReds{reds: make(map[int]bool)}
	t.table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row == lgtable.HeaderRow:
				return headerRowStyle
			case t.reds[row]:
				s = redRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
	return t
}

func (t *tableWithReds) row(isRed bool, cells ...string) {
	if isRed {
		t.reds[t.count] = true
	}
	t.table.Row(cells...)
	t.count++
}

// report of one execution of the tool.
type report struct {
	params imgacts.Params
	config imgacts.Config
	plan   imgacts.Plan

	checked      bool
	firstRun     time.Duration
	maxRelErr    float64
	maxRelErrPos int

	durations []time.Duration
}

// flops returns the number of floating point operations (multiply and add) of one launch.
// It counts every (module, filter pixel) pair, including those falling in the padding.
func (r *report) flops() float64 {
	p := r.params
	return 2 * float64(p.NumModules()) * float64(p.FilterPixels()) * float64(p.NumImgColors) *
		float64(p.NumFilters/max(p.NumGroups, 1)) * float64(p.NumImages)
}

func (r *report) print() {
	p := r.params
	fmt.Println(titleStyle.Render("Problem"))
	table := newTableWithReds()
	table.row(false, "colors", fmt.Sprintf("%d (%d groups of %d)", p.NumImgColors, max(p.NumGroups, 1), p.NumFilterColors()))
	table.row(false, "images", fmt.Sprintf("%d x %dx%d", p.NumImages, p.ImgSizeY, p.ImgSizeX))
	table.row(false, "filters", fmt.Sprintf("%d of %dx%d", p.NumFilters, p.FilterSizeY, p.FilterSizeX))
	table.row(false, "modules", fmt.Sprintf("%dx%d, padding=%d, stride=%d", p.NumModulesY, p.NumModulesX, p.PaddingStart, p.ModuleStride))
	table.row(false, "conv", fmt.Sprintf("%t", p.Conv))
	table.row(false, "blend", fmt.Sprintf("%g * targets + %g * gradient", p.ScaleTargets, p.ScaleOutput))
	const bytesPerValue = 4
	table.row(false, "hidActs", humanize.Bytes(uint64(p.HidActsSize()*bytesPerValue)))
	table.row(false, "filters size", humanize.Bytes(uint64(p.FiltersSize()*bytesPerValue)))
	table.row(false, "targets", humanize.Bytes(uint64(p.TargetsSize()*bytesPerValue)))
	fmt.Println(table.table.Render())

	fmt.Println(titleStyle.Render("Launch"))
	table = newTableWithReds()
	table.row(false, "config", r.config.String())
	table.row(false, "kernel", r.plan.Key.String())
	table.row(false, "grid", fmt.Sprintf("%d x %d = %s blocks", r.plan.GridX, r.plan.GridY, humanize.Comma(int64(r.plan.NumBlocks()))))
	table.row(false, "lanes", fmt.Sprintf("%d x %d", r.plan.LanesX, r.plan.LanesY))
	table.row(false, "tile", fmt.Sprintf("%d images x %d colors", r.plan.ImgsPerBlock, r.plan.ColorsPerBlock))
	fmt.Println(table.table.Render())

	if !r.checked && len(r.durations) == 0 {
		return
	}
	fmt.Println(titleStyle.Render("Results"))
	table = newTableWithReds()
	table.table.Headers("", "value")
	if r.checked {
		table.row(false, "first run", r.firstRun.String())
		isRed := !(r.maxRelErr < xslices.Epsilon)
		table.row(isRed, "max relative error", fmt.Sprintf("%.3g (position %d)", r.maxRelErr, r.maxRelErrPos))
	}
	if len(r.durations) > 0 {
		sorted := slices.Clone(r.durations)
		slices.Sort(sorted)
		var total time.Duration
		for _, d := range sorted {
			total += d
		}
		mean := total / time.Duration(len(sorted))
		table.row(false, "repetitions", humanize.Comma(int64(len(sorted))))
		table.row(false, "mean", mean.String())
		table.row(false, "min", sorted[0].String())
		table.row(false, "median", sorted[len(sorted)/2].String())
		value, prefix := humanize.ComputeSI(r.flops() / mean.Seconds())
		table.row(false, "throughput", fmt.Sprintf("%.2f %sFLOP/s", value, prefix))
	}
	fmt.Println(table.table.Render())
}
