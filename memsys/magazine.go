// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import "golang.org/x/sys/cpu"

type (
	// bounded stack of free objects; len(rounds) is the round count
	magazine struct {
		rounds []ref
	}

	// per-processor pair; `previous` is always either full or empty
	cpuCache struct {
		loaded   *magazine
		previous *magazine
		_        cpu.CacheLinePad
	}
)

func newMagazine(capacity int) *magazine { return &magazine{rounds: make([]ref, 0, capacity)} }

func (m *magazine) isEmpty() bool { return m == nil || len(m.rounds) == 0 }
func (m *magazine) isFull() bool  { return m != nil && len(m.rounds) == cap(m.rounds) }

func (m *magazine) pop() (r ref) {
	n := len(m.rounds) - 1
	r, m.rounds[n] = m.rounds[n], ref{}
	m.rounds = m.rounds[:n]
	return
}

func (m *magazine) push(r ref) { m.rounds = append(m.rounds, r) }

// return all rounds to the slab pool
func (m *magazine) drain(p *slabPool) {
	p.put(m.rounds)
	clear(m.rounds)
	m.rounds = m.rounds[:0]
}

// (pinned)
func (cc *cpuCache) canAlloc() bool {
	return !cc.loaded.isEmpty() || cc.previous.isFull()
}

// (pinned)
func (cc *cpuCache) alloc() ref {
	if cc.loaded.isEmpty() {
		cc.loaded, cc.previous = cc.previous, cc.loaded
	}
	return cc.loaded.pop()
}

// (pinned)
func (cc *cpuCache) canFree() bool {
	return (cc.loaded != nil && !cc.loaded.isFull()) || (cc.previous != nil && cc.previous.isEmpty())
}

// (pinned)
func (cc *cpuCache) free(r ref) {
	if cc.loaded == nil || cc.loaded.isFull() {
		cc.loaded, cc.previous = cc.previous, cc.loaded
	}
	cc.loaded.push(r)
}
