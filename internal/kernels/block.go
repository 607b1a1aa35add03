// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/imgacts/pkg/support/xsync"
	"github.com/pkg/errors"
)

// block is the execution context shared by the lanes of one block.
type block struct {
	idxX, idxY int
	barrier    *xsync.Barrier

	// buffers taken from the scratch pools, returned when the block finishes.
	buffers []*scratch
}

// getScratch returns a block-local scratch buffer. It must only be called while preparing the block.
func (blk *block) getScratch(rows, cols int) *scratch {
	s := getScratch(rows, cols)
	blk.buffers = append(blk.buffers, s)
	return s
}

// barrierPools holds one *sync.Pool of barriers per number of parties.
var barrierPools sync.Map

func getBarrierPool(parties int) *sync.Pool {
	poolInterface, ok := barrierPools.Load(parties)
	if !ok {
		poolInterface, _ = barrierPools.LoadOrStore(parties, &sync.Pool{
			New: func() any { return xsync.NewBarrier(parties) },
		})
	}
	return poolInterface.(*sync.Pool)
}

// release returns the block's buffers and barrier to their pools. Aborted barriers are not reused.
func (blk *block) release() {
	for _, s := range blk.buffers {
		putScratch(s)
	}
	blk.buffers = nil
	if !blk.barrier.IsAborted() {
		getBarrierPool(blk.barrier.Parties()).Put(blk.barrier)
	}
	blk.barrier = nil
}

// lane is one execution lane ("thread") of a block.
type lane struct {
	x, y int

	// tidx is the flat index of the lane in the block: y*LanesX + x.
	tidx int

	blk *block
}

// sync waits for all lanes of the block. Scratch writes done before sync are visible to all lanes after it.
// It returns false if the block was aborted, in which case the lane must return immediately.
func (ln lane) sync() bool {
	return ln.blk.barrier.Wait()
}

// laneFunc is the code executed by every lane of a block.
//
// All lanes of a block must call lane.sync the same number of times: the loops around
// synchronization points can only depend on block-wide values.
type laneFunc func(ln lane)

// catch runs fn and converts a panic into an error.
func catch(fn func()) error {
	exception := exceptions.Try(fn)
	if exception == nil {
		return nil
	}
	if err, ok := exception.(error); ok {
		return errors.WithStack(err)
	}
	return errors.Errorf("%v", exception)
}

// runBlock executes block blockIdx of the grid: it starts one goroutine per lane and waits for all of them.
func (l *launch) runBlock(prog program, blockIdx int) error {
	blk := &block{
		idxX:    blockIdx % l.plan.GridX,
		idxY:    blockIdx / l.plan.GridX,
		barrier: getBarrierPool(l.plan.NumLanes()).Get().(*xsync.Barrier),
	}
	defer blk.release()
	var fn laneFunc
	if err := catch(func() { fn = prog(l, blk) }); err != nil {
		return errors.WithMessagef(err, "preparing block (%d, %d) of %s", blk.idxX, blk.idxY, l.plan.Key)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for y := range l.plan.LanesY {
		for x := range l.plan.LanesX {
			ln := lane{x: x, y: y, tidx: y*l.plan.LanesX + x, blk: blk}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := catch(func() { fn(ln) }); err != nil {
					// Release the lanes waiting for this one.
					blk.barrier.Abort()
					mu.Lock()
					if firstErr == nil {
						firstErr = errors.WithMessagef(err, "lane (%d, %d) of block (%d, %d) of %s",
							ln.x, ln.y, blk.idxX, blk.idxY, l.plan.Key)
					}
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()
	return firstErr
}
