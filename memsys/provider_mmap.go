//go:build linux || darwin

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
	"github.com/NVIDIA/objcache/cmn/nlog"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MmapProvider maps anonymous private memory outside of the Go heap.
// Freed chunks are kept (up to ReserveMax per size) in a reserve that
// serves DontLockKernelSpace allocations without calling into the kernel.
type MmapProvider struct {
	reserve    map[int64][][]byte
	ReserveMax int
	mu         sync.Mutex
	mapped     atomic.Int64
}

// interface guard
var _ Provider = (*MmapProvider)(nil)

func NewMmapProvider(reserveMax int) *MmapProvider {
	return &MmapProvider{reserve: make(map[int64][][]byte), ReserveMax: reserveMax}
}

func (p *MmapProvider) Alloc(size int64, flags Flags) ([]byte, error) {
	if chunk := p.fromReserve(size); chunk != nil {
		return chunk, nil
	}
	if flags&DontLockKernelSpace != 0 {
		return nil, errors.Wrapf(ErrWouldBlock, "mmap: no pre-mapped %d-byte chunk", size)
	}
	return p.mmap(size)
}

func (p *MmapProvider) mmap(size int64) ([]byte, error) {
	chunk, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(ErrNoMemory, "mmap(%d): %v", size, err)
	}
	p.mapped.Add(size)
	return chunk, nil
}

func (p *MmapProvider) fromReserve(size int64) (chunk []byte) {
	p.mu.Lock()
	if l := len(p.reserve[size]); l > 0 {
		chunk = p.reserve[size][l-1]
		p.reserve[size] = p.reserve[size][:l-1]
	}
	p.mu.Unlock()
	return
}

// Prefault maps `count` chunks of the given size into the reserve
// (to subsequently serve DontLockKernelSpace allocations).
func (p *MmapProvider) Prefault(size int64, count int) error {
	for range count {
		chunk, err := p.mmap(size)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.reserve[size] = append(p.reserve[size], chunk)
		p.mu.Unlock()
	}
	return nil
}

func (p *MmapProvider) Free(chunk []byte) {
	size := int64(len(chunk))
	p.mu.Lock()
	if len(p.reserve[size]) < p.ReserveMax {
		p.reserve[size] = append(p.reserve[size], chunk)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.munmap(chunk)
}

func (p *MmapProvider) munmap(chunk []byte) {
	if err := unix.Munmap(chunk); err != nil {
		nlog.Errorln("munmap:", err)
		return
	}
	p.mapped.Sub(int64(len(chunk)))
}

// Mapped returns the total number of mapped bytes (reserve included).
func (p *MmapProvider) Mapped() int64 { return p.mapped.Load() }

// Close unmaps the reserve.
func (p *MmapProvider) Close() {
	p.mu.Lock()
	reserve := p.reserve
	p.reserve = make(map[int64][][]byte)
	p.mu.Unlock()
	for _, chunks := range reserve {
		for _, chunk := range chunks {
			p.munmap(chunk)
		}
	}
}
