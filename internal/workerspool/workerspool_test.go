// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Run(t *testing.T) {
	for _, parallelism := range []int{-1, 0, 1, 3, 8} {
		pool := NewWithParallelism(parallelism)
		const numTasks = 100
		var visited [numTasks]atomic.Int32
		pool.Run(numTasks, func(idx int) {
			visited[idx].Add(1)
		})
		for idx := range numTasks {
			require.Equalf(t, int32(1), visited[idx].Load(), "parallelism=%d, task #%d", parallelism, idx)
		}
	}
}

func TestPool_RespectsMaxParallelism(t *testing.T) {
	const maxParallelism = 3
	pool := NewWithParallelism(maxParallelism)
	var running, maxRunning atomic.Int32
	pool.Run(20, func(_ int) {
		current := running.Add(1)
		for {
			seen := maxRunning.Load()
			if current <= seen || maxRunning.CompareAndSwap(seen, current) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
	})
	assert.LessOrEqual(t, int(maxRunning.Load()), maxParallelism)
	assert.Equal(t, int32(0), running.Load())
}

func TestPool_Disabled(t *testing.T) {
	pool := NewWithParallelism(0)
	assert.False(t, pool.IsEnabled())
	assert.False(t, pool.IsUnlimited())
	assert.Equal(t, 0, pool.MaxParallelism())
	// With parallelism disabled tasks run inline, in order.
	var order []int
	pool.Run(5, func(idx int) { order = append(order, idx) })
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
