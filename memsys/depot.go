// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"sync"

	"github.com/NVIDIA/objcache/cmn/atomic"
	"github.com/NVIDIA/objcache/cmn/config"
	"github.com/NVIDIA/objcache/cmn/nlog"
)

// Depot: per-cache full and empty magazine lists shared by all processors.
// The lock protects list manipulation only and is never held across
// slab pool or provider calls.
type depot struct {
	c        *Cache
	tuning   config.DepotTuning
	full     []*magazine
	empty    []*magazine
	capacity int // for new magazines
	maxFull  int
	nmags    int // in existence: depot + processors
	mu       sync.Mutex

	contention atomic.Int64 // since the last tune()
	contTotal  atomic.Int64
}

func (d *depot) init(c *Cache, tuning config.DepotTuning) {
	d.c, d.tuning = c, tuning
	d.capacity = c.magCapacity
	d.maxFull = tuning.MaxFull
}

// contention: failed first attempt to acquire the depot lock
func (d *depot) lock() {
	if d.mu.TryLock() {
		return
	}
	d.contention.Inc()
	d.contTotal.Inc()
	d.mu.Lock()
}

// getFull returns, in order of preference: a full magazine from the list, an
// empty one loaded with objects already in the slab pool, a magazine taken
// from another processor, or an empty one refilled by growing the pool.
// (nil, nil) when no magazine can be had.
func (d *depot) getFull(flags Flags) (*magazine, error) {
	d.lock()
	if l := len(d.full); l > 0 {
		m := d.full[l-1]
		d.full[l-1] = nil
		d.full = d.full[:l-1]
		d.mu.Unlock()
		return m, nil
	}
	d.mu.Unlock()

	m := d.getEmpty()
	if m == nil {
		return nil, nil
	}
	if m.rounds = d.c.pool.tryTake(m.rounds, cap(m.rounds)); len(m.rounds) > 0 {
		return m, nil
	}
	if stolen := d.c.steal(); stolen != nil {
		d.putEmpty(m)
		return stolen, nil
	}
	var err error
	m.rounds, err = d.c.pool.refill(m.rounds, cap(m.rounds), flags)
	if err != nil {
		d.putEmpty(m)
		return nil, err
	}
	return m, nil
}

// putFull keeps up to maxFull magazines, otherwise returns the rounds
// to the slab pool and keeps the magazine as empty
func (d *depot) putFull(m *magazine) {
	d.lock()
	if len(d.full) < d.maxFull {
		d.full = append(d.full, m)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	m.drain(&d.c.pool)
	d.putEmpty(m)
}

// getEmpty returns an empty magazine from the list or a new one (bounded by MaxMagazines)
func (d *depot) getEmpty() *magazine {
	d.lock()
	if l := len(d.empty); l > 0 {
		m := d.empty[l-1]
		d.empty[l-1] = nil
		d.empty = d.empty[:l-1]
		d.mu.Unlock()
		return m
	}
	if d.c.maxMags > 0 && d.nmags >= d.c.maxMags {
		d.mu.Unlock()
		return nil
	}
	d.nmags++
	capacity := d.capacity
	d.mu.Unlock()
	return newMagazine(capacity)
}

// magazines of an outdated capacity are dropped
func (d *depot) putEmpty(m *magazine) {
	d.lock()
	if cap(m.rounds) != d.capacity {
		d.nmags--
	} else {
		d.empty = append(d.empty, m)
	}
	d.mu.Unlock()
}

// drop drained magazines that are not on any list
func (d *depot) discard(n int) {
	d.lock()
	d.nmags -= n
	d.mu.Unlock()
}

// tune grows magazine capacity (and the number of full magazines kept)
// when contention since the previous call reaches the threshold
func (d *depot) tune() (grown bool) {
	cont := d.contention.Swap(0)
	t := &d.tuning
	if t.GrowStep <= 0 || t.ContentionThreshold <= 0 || cont < t.ContentionThreshold {
		return false
	}
	d.mu.Lock()
	if d.capacity < t.MaxMagazineCapacity {
		d.capacity = min(d.capacity+t.GrowStep, t.MaxMagazineCapacity)
		d.maxFull = min(d.maxFull+1, 2*t.MaxFull)
		grown = true
	}
	capacity := d.capacity
	d.mu.Unlock()
	if grown && nlog.V(4) {
		nlog.Infoln(d.c.name, "depot: contention", cont, "=> magazine capacity", capacity)
	}
	return grown
}

// reclaim returns depot-held magazines: at Note all empty and half of the full
// ones, otherwise all of them; reset restores the configured capacity
func (d *depot) reclaim(level Level, reset bool) {
	d.lock()
	var (
		full  []*magazine
		nfull = len(d.full)
	)
	if level == LevelNote {
		nfull /= 2
	}
	full = append(full, d.full[len(d.full)-nfull:]...)
	clear(d.full[len(d.full)-nfull:])
	d.full = d.full[:len(d.full)-nfull]

	d.nmags -= len(d.empty) + len(full)
	clear(d.empty)
	d.empty = d.empty[:0]
	if reset {
		d.capacity = d.c.magCapacity
		d.maxFull = d.tuning.MaxFull
	}
	d.mu.Unlock()

	for _, m := range full {
		m.drain(&d.c.pool)
	}
}

func (d *depot) stats(st *Stats) {
	d.mu.Lock()
	st.FullMagazines = int64(len(d.full))
	st.EmptyMagazines = int64(len(d.empty))
	st.Magazines = int64(d.nmags)
	st.MagazineCapacity = int64(d.capacity)
	d.mu.Unlock()
	st.Contention = d.contTotal.Load()
}
