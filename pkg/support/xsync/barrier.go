// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements synchronization primitives missing from the standard sync package.
package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// Barrier is a reusable rendezvous point for a fixed number of parties (goroutines).
//
// Every call to Wait blocks until all parties have called Wait, at which point all of them are released
// and the barrier resets itself for the next round (a new "generation").
//
// A Barrier can be aborted, in which case every current and future call to Wait returns false immediately.
// This is used to unblock the surviving parties when one of them fails.
//
// It uses sync.Cond to coordinate changes.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	parties    int
	waiting    int
	generation uint64
	aborted    bool
}

// NewBarrier creates a new Barrier for the given number of parties.
// It panics if parties <= 0.
func NewBarrier(parties int) *Barrier {
	if parties <= 0 {
		panic(errors.Errorf("Barrier: invalid number of parties %d", parties))
	}
	b := &Barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Parties returns the number of goroutines that must call Wait for the barrier to open.
func (b *Barrier) Parties() int {
	return b.parties
}

// Wait blocks until all parties reached the barrier.
//
// It returns true when the barrier opened normally, and false if the barrier was aborted, in which
// case the caller should stop its work.
//
// Writes done by any party before Wait are visible to all parties after Wait returns true.
func (b *Barrier) Wait() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.aborted {
		return false
	}
	generation := b.generation
	b.waiting++
	if b.waiting == b.parties {
		// Last one to arrive opens the barrier for everyone.
		b.waiting = 0
		b.generation++
		b.cond.Broadcast()
		return true
	}
	// The loop is necessary because sync.Cond.Wait() can have spurious wakeups.
	for generation == b.generation && !b.aborted {
		b.cond.Wait()
	}
	return !b.aborted
}

// Abort releases all parties currently blocked in Wait, and makes any future Wait return false.
// It's safe to call Abort more than once.
func (b *Barrier) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aborted = true
	b.cond.Broadcast()
}

// IsAborted returns whether Abort was called.
func (b *Barrier) IsAborted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted
}
