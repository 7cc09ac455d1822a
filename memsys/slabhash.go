// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// page number => owning slab; chained, grows by doubling
type (
	hentry struct {
		s    *slab
		next *hentry
		page uint64
	}
	slabHash struct {
		buckets []*hentry
		n       int
	}
)

const hashMinBuckets = 64

func (*slabHash) hash(page uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], page)
	return xxhash.Sum64(b[:])
}

func (h *slabHash) get(page uint64) *slab {
	if len(h.buckets) == 0 {
		return nil
	}
	for e := h.buckets[h.hash(page)&uint64(len(h.buckets)-1)]; e != nil; e = e.next {
		if e.page == page {
			return e.s
		}
	}
	return nil
}

func (h *slabHash) insert(page uint64, s *slab) {
	if h.n >= 2*len(h.buckets) {
		h.grow()
	}
	idx := h.hash(page) & uint64(len(h.buckets)-1)
	h.buckets[idx] = &hentry{page: page, s: s, next: h.buckets[idx]}
	h.n++
}

func (h *slabHash) remove(page uint64) {
	if len(h.buckets) == 0 {
		return
	}
	idx := h.hash(page) & uint64(len(h.buckets)-1)
	for pe := &h.buckets[idx]; *pe != nil; pe = &(*pe).next {
		if (*pe).page == page {
			*pe = (*pe).next
			h.n--
			return
		}
	}
}

func (h *slabHash) grow() {
	nb := max(hashMinBuckets, 2*len(h.buckets))
	buckets := make([]*hentry, nb)
	for _, e := range h.buckets {
		for e != nil {
			next := e.next
			idx := h.hash(e.page) & uint64(nb-1)
			e.next = buckets[idx]
			buckets[idx] = e
			e = next
		}
	}
	h.buckets = buckets
}

// all pages spanned by the slab
func (h *slabHash) add(s *slab, pageSize int64) {
	first, last := s.pages(pageSize)
	for page := first; page <= last; page++ {
		h.insert(page, s)
	}
}

func (h *slabHash) del(s *slab, pageSize int64) {
	first, last := s.pages(pageSize)
	for page := first; page <= last; page++ {
		h.remove(page)
	}
}
