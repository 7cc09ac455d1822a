//go:build linux || darwin

// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys_test

import (
	"errors"
	"testing"

	"github.com/NVIDIA/objcache/memsys"
	"github.com/NVIDIA/objcache/tools/tassert"
)

func TestMmapProvider(t *testing.T) {
	provider := memsys.NewMmapProvider(1)
	defer provider.Close()

	c, err := memsys.CreateExt(memsys.Ext{Name: "mmap", ObjectSize: 512, Provider: provider, Flags: memsys.NoDepot})
	tassert.CheckFatal(t, err)
	slabSize := c.Stats().SlabSize

	// nothing pre-mapped
	_, err = c.Alloc(memsys.DontLockKernelSpace)
	tassert.Fatalf(t, errors.Is(err, memsys.ErrWouldBlock), "expected ErrWouldBlock, got %v", err)

	tassert.CheckFatal(t, provider.Prefault(slabSize, 1))
	tassert.Errorf(t, provider.Mapped() == slabSize, "expected %d mapped, got %d", slabSize, provider.Mapped())

	obj, err := c.Alloc(memsys.DontLockKernelSpace)
	tassert.CheckFatal(t, err)
	copy(obj, "mmap")
	tassert.Errorf(t, string(obj[:4]) == "mmap", "object not writable")

	// regular allocations map on demand
	objs := [][]byte{obj}
	for range c.Stats().ObjsPerSlab {
		obj, err := c.Alloc(0)
		tassert.CheckFatal(t, err)
		objs = append(objs, obj)
	}
	tassert.Errorf(t, provider.Mapped() == 2*slabSize, "expected %d mapped, got %d", 2*slabSize, provider.Mapped())

	for _, obj := range objs {
		c.Free(obj, 0)
	}
	c.Destroy()
	// one slab kept in the reserve, the other unmapped
	tassert.Errorf(t, provider.Mapped() == slabSize, "expected %d mapped, got %d", slabSize, provider.Mapped())
}
