// Package pcpu provides per-processor slots: short exclusive sections that
// a caller holds for the duration of a non-blocking fast path.
/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 */
package pcpu

import (
	"math/rand/v2"
	"runtime"

	"github.com/NVIDIA/objcache/cmn/atomic"
	"github.com/NVIDIA/objcache/sys"
	"golang.org/x/sys/cpu"
)

// Pinner hands out exclusive slots in the range [0, NumSlots()).
// The section between Pin and Unpin must never block.
type Pinner interface {
	Pin() int
	PinSlot(slot int)
	Unpin(slot int)
	NumSlots() int
}

type (
	slot struct {
		busy atomic.Int32
		_    cpu.CacheLinePad
	}
	Slots struct {
		slots []slot
		n     uint32
	}
)

// interface guard
var _ Pinner = (*Slots)(nil)

// New returns n slots; n <= 0 defaults to the number of available CPUs.
func New(n int) *Slots {
	if n <= 0 {
		n = sys.NumCPU()
	}
	return &Slots{slots: make([]slot, n), n: uint32(n)}
}

func (s *Slots) NumSlots() int { return int(s.n) }

// Pin starts at a random slot to spread goroutines; yields after a full
// unsuccessful scan.
func (s *Slots) Pin() int {
	if s.n == 1 {
		s.PinSlot(0)
		return 0
	}
	for {
		start := rand.Uint32N(s.n)
		for i := range s.n {
			idx := start + i
			if idx >= s.n {
				idx -= s.n
			}
			if s.slots[idx].busy.CAS(0, 1) {
				return int(idx)
			}
		}
		runtime.Gosched()
	}
}

// PinSlot pins the given slot, waiting for the current holder (if any).
func (s *Slots) PinSlot(idx int) {
	sl := &s.slots[idx]
	for !sl.busy.CAS(0, 1) {
		runtime.Gosched()
	}
}

func (s *Slots) Unpin(idx int) { s.slots[idx].busy.Store(0) }
