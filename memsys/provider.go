// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"os"
	"unsafe"

	"github.com/NVIDIA/objcache/cmn/atomic"
	"github.com/NVIDIA/objcache/cmn/cos"
	"github.com/pkg/errors"
)

type (
	// HeapProvider carves page-aligned chunks out of the Go heap.
	// Free is a no-op: chunks are garbage-collected once unreferenced.
	HeapProvider struct {
		PageSize int64
		used     atomic.Int64
	}

	// LimitProvider caps the total number of bytes handed out by the wrapped provider.
	LimitProvider struct {
		Provider
		Limit int64
		used  atomic.Int64
	}
)

// interface guard
var (
	_ Provider = (*HeapProvider)(nil)
	_ Provider = (*LimitProvider)(nil)
)

var defaultProvider = NewHeapProvider(0)

func NewHeapProvider(pageSize int64) *HeapProvider {
	if pageSize <= 0 {
		pageSize = int64(os.Getpagesize())
	}
	return &HeapProvider{PageSize: pageSize}
}

func (p *HeapProvider) Alloc(size int64, _ Flags) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrNoMemory, "invalid chunk size %d", size)
	}
	buf := make([]byte, size+p.PageSize)
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	off := cos.CeilAlignI64(int64(addr), p.PageSize) - int64(addr)
	p.used.Add(size)
	return buf[off : off+size : off+size], nil
}

func (p *HeapProvider) Free(chunk []byte) { p.used.Sub(int64(len(chunk))) }

func (p *HeapProvider) Used() int64 { return p.used.Load() }

func NewLimitProvider(p Provider, limit int64) *LimitProvider {
	return &LimitProvider{Provider: p, Limit: limit}
}

func (p *LimitProvider) Alloc(size int64, flags Flags) ([]byte, error) {
	if used := p.used.Add(size); used > p.Limit {
		p.used.Sub(size)
		return nil, errors.Wrapf(ErrNoMemory, "provider limit %s exceeded (used %s, requested %s)",
			cos.ToSizeIEC(p.Limit, 1), cos.ToSizeIEC(used-size, 1), cos.ToSizeIEC(size, 1))
	}
	chunk, err := p.Provider.Alloc(size, flags)
	if err != nil {
		p.used.Sub(size)
	}
	return chunk, err
}

func (p *LimitProvider) Free(chunk []byte) {
	p.used.Sub(int64(len(chunk)))
	p.Provider.Free(chunk)
}

func (p *LimitProvider) Used() int64 { return p.used.Load() }
