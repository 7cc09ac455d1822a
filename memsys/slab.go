// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"unsafe"

	"github.com/NVIDIA/objcache/cmn/atomic"
)

type slabState uint8

const (
	slabEmpty slabState = iota // all objects free
	slabPartial
	slabFull // no free objects
)

var stateText = [...]string{"empty", "partial", "full"}

func (st slabState) String() string { return stateText[st] }

type (
	// contiguous page-aligned chunk subdivided into nobjs equal-size slots
	slab struct {
		mem        []byte
		live       []atomic.Uint64 // allocated (vended) objects
		stack      []uint32        // out-of-band free-slot stack
		prev, next *slab
		base       uintptr
		nobjs      uint32
		nfree      uint32
		head       uint32 // in-object free list
		state      slabState
	}
	slabList struct {
		head *slab
		n    int
	}

	// object reference: (slab, slot index)
	ref struct {
		s *slab
		i uint32
	}
)

func newSlab(chunk []byte, nobjs uint32) *slab {
	return &slab{
		mem:   chunk,
		base:  uintptr(unsafe.Pointer(unsafe.SliceData(chunk))),
		nobjs: nobjs,
		live:  make([]atomic.Uint64, (nobjs+63)/64),
	}
}

func (s *slab) pages(pageSize int64) (first, last uint64) {
	first = uint64(s.base) / uint64(pageSize)
	last = (uint64(s.base) + uint64(len(s.mem)) - 1) / uint64(pageSize)
	return
}

func (s *slab) obj(i uint32, g *geometry) []byte {
	off := int64(i) * g.stride
	return s.mem[off : off+g.size : off+g.size]
}

// mark vended; false if already live
func (s *slab) setLive(i uint32) bool {
	w, bit := &s.live[i>>6], uint64(1)<<(i&63)
	for {
		old := w.Load()
		if old&bit != 0 {
			return false
		}
		if w.CAS(old, old|bit) {
			return true
		}
	}
}

// mark returned; false if not live (double free)
func (s *slab) clearLive(i uint32) bool {
	w, bit := &s.live[i>>6], uint64(1)<<(i&63)
	for {
		old := w.Load()
		if old&bit == 0 {
			return false
		}
		if w.CAS(old, old&^bit) {
			return true
		}
	}
}

func (s *slab) nlive() (n int) {
	for i := range s.live {
		v := s.live[i].Load()
		for ; v != 0; v &= v - 1 {
			n++
		}
	}
	return
}

//////////////
// slabList //
//////////////

func (l *slabList) push(s *slab) {
	s.prev, s.next = nil, l.head
	if l.head != nil {
		l.head.prev = s
	}
	l.head = s
	l.n++
}

func (l *slabList) remove(s *slab) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		l.head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	}
	s.prev, s.next = nil, nil
	l.n--
}
