// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys_test

import (
	"sync/atomic"
	"unsafe"

	"github.com/NVIDIA/objcache/cmn/config"
	"github.com/NVIDIA/objcache/memsys"
	"github.com/NVIDIA/objcache/pcpu"
)

// single-slot registry: deterministic magazine and depot behavior
func newTestRegistry(provider memsys.Provider) *memsys.Registry {
	reg := memsys.NewRegistry(config.Default(), provider, nil)
	reg.SetPinner(pcpu.New(1))
	return reg
}

// slotPinner pins the slot selected by the test (`on`), making magazine
// and depot exchange across processors deterministic
type slotPinner struct {
	*pcpu.Slots
	cur atomic.Int32
}

func newSlotPinner(n int) *slotPinner { return &slotPinner{Slots: pcpu.New(n)} }

func (p *slotPinner) on(slot int) { p.cur.Store(int32(slot)) }

func (p *slotPinner) Pin() int {
	slot := int(p.cur.Load())
	p.PinSlot(slot)
	return slot
}

func newSlotRegistry(provider memsys.Provider, pinner pcpu.Pinner) *memsys.Registry {
	reg := memsys.NewRegistry(config.Default(), provider, nil)
	reg.SetPinner(pinner)
	return reg
}

func addr(obj []byte) uintptr { return uintptr(unsafe.Pointer(unsafe.SliceData(obj))) }

// blocks without DontWaitForMemory until released
type blockingProvider struct {
	inner   memsys.Provider
	release chan struct{}
	calls   atomic.Int32
}

func newBlockingProvider() *blockingProvider {
	return &blockingProvider{inner: memsys.NewHeapProvider(0), release: make(chan struct{})}
}

func (p *blockingProvider) Alloc(size int64, flags memsys.Flags) ([]byte, error) {
	p.calls.Add(1)
	if flags&memsys.DontWaitForMemory != 0 {
		return nil, memsys.ErrWouldBlock
	}
	<-p.release
	return p.inner.Alloc(size, flags)
}

func (p *blockingProvider) Free(chunk []byte) { p.inner.Free(chunk) }
