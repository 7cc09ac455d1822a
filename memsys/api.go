// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// priority flags (alloc, free, reserve, provider)
type Flags uint32

const (
	// fail fast rather than wait for memory (in-flight slab growth, blocking provider)
	DontWaitForMemory Flags = 1 << iota
	// provider may serve only from memory it has already mapped
	DontLockKernelSpace
	// exempt from the cache byte budget (allocations that relieve pressure)
	PriorityVIP
)

// creation flags
type CacheFlags uint32

const (
	// no magazines and no depot: alloc and free go straight to the slab pool
	NoDepot CacheFlags = 1 << iota
	// multi-page slabs with more objects each
	LargeSlab

	// internal: cache not registered with any Registry
	cacheBootstrap
)

// memory pressure level passed to Reclaim and to reclaimer callbacks
type Level int

const (
	LevelNone Level = iota
	LevelNote
	LevelWarning
	LevelCritical
)

type (
	// Provider supplies page-aligned chunks of backing memory. Alloc must honor
	// DontWaitForMemory (never block) and DontLockKernelSpace (pre-mapped only).
	Provider interface {
		Alloc(size int64, flags Flags) ([]byte, error)
		Free(chunk []byte)
	}

	// callbacks, each with the cache's opaque cookie
	Ctor func(cookie any, obj []byte) error
	Dtor func(cookie any, obj []byte)

	// Reclaimer runs first thing in a cache's reclaim, with no cache locks
	// held: it may Free, Flush, and even Destroy its own cache (the rest of
	// that cache's reclaim is then skipped).
	Reclaimer func(cookie any, level Level)

	// Ext is the full set of cache creation parameters;
	// zero values select defaults from config.
	Ext struct {
		Provider         Provider // nil: shared HeapProvider
		Cookie           any
		Ctor             Ctor
		Dtor             Dtor
		Reclaimer        Reclaimer
		Name             string
		ObjectSize       int64
		Alignment        int64 // power of two <= page size (0: 8)
		MaxBytes         int64 // slab-backed bytes budget (0: unlimited)
		MagazineCapacity int
		MaxMagazines     int
		Flags            CacheFlags
	}
)

var (
	ErrNoMemory      = errors.New("out of memory")
	ErrWouldBlock    = errors.New("would block")
	ErrBudget        = errors.New("cache budget exceeded")
	ErrInvalidConfig = errors.New("invalid cache config")
)

const defaultAlignment = 8

var levelText = [...]string{"none", "note", "warning", "critical"}

func (l Level) String() string {
	if l < LevelNone || l > LevelCritical {
		return "level(" + strconv.Itoa(int(l)) + ")"
	}
	return levelText[l]
}

func ParseLevel(s string) (Level, error) {
	for i, t := range levelText {
		if strings.EqualFold(s, t) {
			return Level(i), nil
		}
	}
	return LevelNone, errors.Errorf("invalid pressure level %q", s)
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	if f&DontWaitForMemory != 0 {
		parts = append(parts, "dont-wait")
	}
	if f&DontLockKernelSpace != 0 {
		parts = append(parts, "dont-lock-kernel")
	}
	if f&PriorityVIP != 0 {
		parts = append(parts, "vip")
	}
	return strings.Join(parts, "|")
}
