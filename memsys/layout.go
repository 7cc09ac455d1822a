// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"encoding/binary"

	"github.com/NVIDIA/objcache/cmn/debug"
)

// Free-slot tracking within a slab. Selected once per cache by object size:
// - small objects: out-of-band stack of free slot indices (side array);
// - large objects: free slots linked through the object memory itself.
type (
	layout interface {
		init(s *slab)
		pop(s *slab) uint32
		push(s *slab, i uint32)
		name() string
	}
	inObjLayout struct {
		stride int64
	}
	oobLayout struct{}
)

// interface guard
var (
	_ layout = (*inObjLayout)(nil)
	_ layout = (*oobLayout)(nil)
)

const noSlot = ^uint32(0)

//
// in-object: the first 4 bytes of a free slot hold the next free index
//

func (*inObjLayout) name() string { return "in-object" }

func (l *inObjLayout) init(s *slab) {
	for i := range s.nobjs {
		next := i + 1
		if next == s.nobjs {
			next = noSlot
		}
		l.setNext(s, i, next)
	}
	s.head, s.nfree = 0, s.nobjs
}

func (l *inObjLayout) next(s *slab, i uint32) uint32 {
	return binary.LittleEndian.Uint32(s.mem[int64(i)*l.stride:])
}

func (l *inObjLayout) setNext(s *slab, i, next uint32) {
	binary.LittleEndian.PutUint32(s.mem[int64(i)*l.stride:], next)
}

func (l *inObjLayout) pop(s *slab) (i uint32) {
	i = s.head
	debug.Assert(i != noSlot && s.nfree > 0)
	s.head = l.next(s, i)
	s.nfree--
	return
}

func (l *inObjLayout) push(s *slab, i uint32) {
	l.setNext(s, i, s.head)
	s.head = i
	s.nfree++
}

//
// out-of-band: LIFO stack of free indices
//

func (*oobLayout) name() string { return "out-of-band" }

func (*oobLayout) init(s *slab) {
	s.stack = make([]uint32, s.nobjs)
	for i := range s.nobjs {
		s.stack[i] = s.nobjs - 1 - i // pop in address order
	}
	s.nfree = s.nobjs
}

func (*oobLayout) pop(s *slab) (i uint32) {
	debug.Assert(s.nfree > 0)
	s.nfree--
	i = s.stack[s.nfree]
	return
}

func (*oobLayout) push(s *slab, i uint32) {
	s.stack[s.nfree] = i
	s.nfree++
}
