// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys_test

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NVIDIA/objcache/cmn/cos"
	"github.com/NVIDIA/objcache/memsys"
	"github.com/NVIDIA/objcache/tools/tassert"
	"github.com/NVIDIA/objcache/tools/trand"
)

func TestCreateInvalid(t *testing.T) {
	tests := []struct {
		name  string
		size  int64
		align int64
	}{
		{"zero-size", 0, 8},
		{"negative-size", -1, 8},
		{"align-not-pow2", 64, 24},
		{"align-above-page", 64, int64(os.Getpagesize()) * 2},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := memsys.Create(test.name, test.size, test.align, nil, nil, nil)
			tassert.Fatalf(t, errors.Is(err, memsys.ErrInvalidConfig), "expected ErrInvalidConfig, got %v", err)
		})
	}
}

func TestAlignmentIdentity(t *testing.T) {
	tests := []struct {
		size  int64
		align int64
	}{
		{size: 8, align: 8},
		{size: 24, align: 16},
		{size: 64, align: 64},
		{size: 100, align: 4},
		{size: 300, align: 8},
		{size: 1000, align: 256},
		{size: 5000, align: 512},
		{size: 256 * cos.KiB, align: 8},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("size=%d,align=%d", test.size, test.align), func(t *testing.T) {
			c, err := memsys.Create(t.Name(), test.size, test.align, nil, nil, nil)
			tassert.CheckFatal(t, err)

			const num = 100
			var (
				objs = make([][]byte, 0, num)
				seen = make(map[uintptr]struct{}, num)
			)
			for range num {
				obj, err := c.Alloc(0)
				tassert.CheckFatal(t, err)
				tassert.Fatalf(t, int64(len(obj)) == test.size && int64(cap(obj)) == test.size,
					"expected len = cap = %d, got %d/%d", test.size, len(obj), cap(obj))
				a := addr(obj)
				tassert.Fatalf(t, a%uintptr(test.align) == 0, "object %#x is not %d-aligned", a, test.align)
				_, dup := seen[a]
				tassert.Fatalf(t, !dup, "object %#x vended twice", a)
				seen[a] = struct{}{}
				trand.Fill(obj) // must stay within the object
				objs = append(objs, obj)
			}
			st := c.Stats()
			tassert.Errorf(t, st.Live == num, "expected %d live, got %d", num, st.Live)
			tassert.Errorf(t, st.Slabs >= 1 && st.Usage >= st.SlabSize, "no slabs: %s", st.String())

			for _, obj := range objs {
				c.Free(obj, 0)
			}
			tassert.Errorf(t, c.Stats().Live == 0, "expected zero live objects")
			c.Destroy()
			tassert.Errorf(t, c.Usage() == 0, "expected zero usage after destroy, got %d", c.Usage())
		})
	}
}

func TestLayoutSelection(t *testing.T) {
	small, err := memsys.Create("small", 32, 8, nil, nil, nil)
	tassert.CheckFatal(t, err)
	large, err := memsys.Create("large", 512, 8, nil, nil, nil)
	tassert.CheckFatal(t, err)
	huge, err := memsys.CreateExt(memsys.Ext{Name: "huge", ObjectSize: 2 * cos.KiB, Flags: memsys.LargeSlab})
	tassert.CheckFatal(t, err)
	defer func() {
		small.Destroy()
		large.Destroy()
		huge.Destroy()
	}()

	tassert.Errorf(t, small.Stats().Layout == "out-of-band", "small: %q", small.Stats().Layout)
	tassert.Errorf(t, large.Stats().Layout == "in-object", "large: %q", large.Stats().Layout)

	st := huge.Stats()
	tassert.Errorf(t, st.ObjsPerSlab == 64, "large slab: expected 64 objects per slab, got %d", st.ObjsPerSlab)
	tassert.Errorf(t, st.SlabSize == 128*cos.KiB, "large slab: expected 128KiB, got %d", st.SlabSize)
}

// for N consecutive alloc/free cycles ctor and dtor run exactly N times each, alternating
func TestLifecycleExactlyOnce(t *testing.T) {
	type lifecycle struct {
		ctors, dtors int
		last         byte // 'c' or 'd'
	}
	const (
		magic = 0xfeedface
		num   = 1000
	)
	var (
		lc   = &lifecycle{}
		ctor = func(cookie any, obj []byte) error {
			l := cookie.(*lifecycle)
			if l.last == 'c' {
				t.Errorf("constructor invoked twice in a row")
			}
			l.ctors++
			l.last = 'c'
			binary.LittleEndian.PutUint32(obj, magic)
			return nil
		}
		dtor = func(cookie any, obj []byte) {
			l := cookie.(*lifecycle)
			if l.last != 'c' {
				t.Errorf("destructor without constructor")
			}
			if binary.LittleEndian.Uint32(obj) != magic {
				t.Errorf("destructor: object not constructed")
			}
			l.dtors++
			l.last = 'd'
		}
	)
	for _, size := range []int64{64, 1024} { // both layouts
		*lc = lifecycle{}
		c, err := newTestRegistry(nil).Create("lifecycle", size, 8, lc, ctor, dtor)
		tassert.CheckFatal(t, err)
		for range num {
			obj, err := c.Alloc(0)
			tassert.CheckFatal(t, err)
			tassert.Fatalf(t, binary.LittleEndian.Uint32(obj) == magic, "constructor did not run on the vended object")
			c.Free(obj, 0)
		}
		tassert.Errorf(t, lc.ctors == num && lc.dtors == num, "size %d: expected %d/%d, got ctors %d, dtors %d",
			size, num, num, lc.ctors, lc.dtors)
		c.Destroy()
	}
}

func TestConstructorFailure(t *testing.T) {
	var (
		errCtor = errors.New("ctor failed")
		fail    atomic.Bool
		dtors   atomic.Int32
		ctor    = func(_ any, _ []byte) error {
			if fail.Load() {
				return errCtor
			}
			return nil
		}
		dtor = func(_ any, _ []byte) { dtors.Add(1) }
	)
	c, err := memsys.Create("ctor-failure", 128, 8, nil, ctor, dtor)
	tassert.CheckFatal(t, err)

	fail.Store(true)
	obj, err := c.Alloc(0)
	tassert.Fatalf(t, obj == nil && errors.Is(err, errCtor), "expected constructor error, got %v", err)
	tassert.Errorf(t, dtors.Load() == 0, "destructor must not run on a failed construction")
	tassert.Errorf(t, c.Stats().Live == 0, "failed construction must not leave a live object")

	fail.Store(false)
	obj, err = c.Alloc(0)
	tassert.CheckFatal(t, err)
	c.Free(obj, 0)
	tassert.Errorf(t, dtors.Load() == 1, "expected one destructor call, got %d", dtors.Load())
	c.Destroy()
}

// concurrent allocations never return the same object before it is freed
func TestNoAliasing(t *testing.T) {
	const (
		numGo   = 16
		numIter = 2000
		size    = 48
	)
	c, err := memsys.CreateExt(memsys.Ext{Name: "no-aliasing", ObjectSize: size, MagazineCapacity: 4})
	tassert.CheckFatal(t, err)

	var (
		live sync.Map
		wg   sync.WaitGroup
	)
	for g := range numGo {
		wg.Add(1)
		go func() {
			defer wg.Done()
			held := make([][]byte, 0, 8)
			for i := range numIter {
				obj, err := c.Alloc(0)
				if err != nil {
					t.Error(err)
					return
				}
				if _, loaded := live.LoadOrStore(addr(obj), g); loaded {
					t.Errorf("object %#x vended while live", addr(obj))
					return
				}
				token := uint64(g)<<32 | uint64(i)
				binary.LittleEndian.PutUint64(obj, token)
				binary.LittleEndian.PutUint64(obj[size-8:], token)
				held = append(held, obj)
				if len(held) < cap(held) && i%3 != 0 {
					continue
				}
				runtime.Gosched()
				for _, h := range held {
					if binary.LittleEndian.Uint64(h) != binary.LittleEndian.Uint64(h[size-8:]) {
						t.Errorf("object %#x clobbered", addr(h))
					}
					live.Delete(addr(h))
					c.Free(h, 0)
				}
				held = held[:0]
			}
			for _, h := range held {
				live.Delete(addr(h))
				c.Free(h, 0)
			}
		}()
	}
	wg.Wait()
	st := c.Stats()
	tassert.Errorf(t, st.Live == 0, "expected zero live objects, got %d", st.Live)
	tassert.Errorf(t, st.Allocs == numGo*numIter && st.Frees == numGo*numIter,
		"allocs %d, frees %d", st.Allocs, st.Frees)
	c.Destroy()
}

// free(alloc()) leaves slab count, usage, and magazines unchanged
func TestRoundTrip(t *testing.T) {
	c, err := newTestRegistry(nil).Create("round-trip", 96, 8, nil, nil, nil)
	tassert.CheckFatal(t, err)

	warm, err := c.Alloc(0)
	tassert.CheckFatal(t, err)
	c.Free(warm, 0)
	before := c.Stats()

	for range 10_000 {
		obj, err := c.Alloc(0)
		tassert.CheckFatal(t, err)
		c.Free(obj, 0)
	}
	after := c.Stats()
	tassert.Errorf(t, before.Slabs == after.Slabs && before.Usage == after.Usage,
		"slabs %d => %d, usage %d => %d", before.Slabs, after.Slabs, before.Usage, after.Usage)
	tassert.Errorf(t, before.Magazines == after.Magazines && before.FullMagazines == after.FullMagazines,
		"magazines %d => %d (full %d => %d)", before.Magazines, after.Magazines, before.FullMagazines, after.FullMagazines)
	tassert.Errorf(t, after.Grows == before.Grows, "unexpected slab growth")
	c.Destroy()
}

func TestReserve(t *testing.T) {
	provider := memsys.NewLimitProvider(memsys.NewHeapProvider(0), 64*cos.MiB)
	c, err := newTestRegistry(provider).Create("reserve", 200, 8, nil, nil, nil)
	tassert.CheckFatal(t, err)

	tassert.CheckFatal(t, c.Reserve(50, 0))
	st := c.Stats()
	tassert.Fatalf(t, st.FreeInPool >= 50, "expected at least 50 free objects, got %d", st.FreeInPool)

	// reserved objects are served without calling the provider
	used := provider.Used()
	objs := make([][]byte, 0, 50)
	for range 50 {
		obj, err := c.Alloc(memsys.DontWaitForMemory)
		tassert.CheckFatal(t, err)
		objs = append(objs, obj)
	}
	tassert.Errorf(t, provider.Used() == used, "provider called while serving reserved objects")
	for _, obj := range objs {
		c.Free(obj, 0)
	}
	c.Destroy()
	tassert.Errorf(t, provider.Used() == 0, "expected all chunks back, %d bytes outstanding", provider.Used())
}

func TestMinimumReserveFloor(t *testing.T) {
	reg := newTestRegistry(nil)
	c, err := reg.Create("floor", 64, 8, nil, nil, nil)
	tassert.CheckFatal(t, err)

	const floor = 100
	tassert.CheckFatal(t, c.SetMinimumReserve(floor))
	tassert.Fatalf(t, c.Stats().Capacity >= floor, "capacity %d below the floor", c.Stats().Capacity)

	objs := make([][]byte, 0, 300)
	for range 300 {
		obj, err := c.Alloc(0)
		tassert.CheckFatal(t, err)
		objs = append(objs, obj)
	}
	for _, obj := range objs {
		c.Free(obj, 0)
	}
	ctrl := memsys.NewController(reg)
	for _, level := range []memsys.Level{memsys.LevelNote, memsys.LevelWarning, memsys.LevelCritical} {
		_, err := ctrl.Reclaim(context.Background(), level)
		tassert.CheckFatal(t, err)
		st := c.Stats()
		tassert.Errorf(t, st.Capacity >= floor, "%s: capacity %d below the floor %d", level, st.Capacity, floor)
	}
	tassert.Errorf(t, c.Stats().Capacity < 300, "expected reclaim to release some slabs")
	c.Destroy()
}

// with an always-blocking provider, DontWaitForMemory fails fast - also while
// another (blocking) allocation is growing the pool
func TestFailFast(t *testing.T) {
	provider := newBlockingProvider()
	c, err := newTestRegistry(provider).Create("fail-fast", 64, 8, nil, nil, nil)
	tassert.CheckFatal(t, err)

	started := time.Now()
	_, err = c.Alloc(memsys.DontWaitForMemory)
	tassert.Fatalf(t, errors.Is(err, memsys.ErrWouldBlock), "expected ErrWouldBlock, got %v", err)

	// blocked grower in flight
	var (
		blocked []byte
		done    = make(chan error, 1)
	)
	go func() {
		var err error
		blocked, err = c.Alloc(0)
		done <- err
	}()
	for provider.calls.Load() < 2 {
		time.Sleep(time.Millisecond)
	}

	_, err = c.Alloc(memsys.DontWaitForMemory)
	tassert.Fatalf(t, errors.Is(err, memsys.ErrWouldBlock), "expected ErrWouldBlock, got %v", err)
	tassert.Errorf(t, time.Since(started) < 5*time.Second, "fail-fast took %v", time.Since(started))

	select {
	case <-done:
		t.Fatal("blocking allocation returned while the provider is blocked")
	default:
	}
	close(provider.release)
	tassert.CheckFatal(t, <-done)
	c.Free(blocked, 0)
	c.Destroy()
}

func TestBudget(t *testing.T) {
	c, err := memsys.CreateExt(memsys.Ext{
		Name:       "budget",
		ObjectSize: 512,
		MaxBytes:   int64(os.Getpagesize()),
		Flags:      memsys.NoDepot,
	})
	tassert.CheckFatal(t, err)

	var objs [][]byte
	for {
		obj, err := c.Alloc(0)
		if err != nil {
			tassert.Fatalf(t, errors.Is(err, memsys.ErrBudget), "expected ErrBudget, got %v", err)
			break
		}
		objs = append(objs, obj)
		tassert.Fatalf(t, len(objs) < 1000, "budget not enforced")
	}
	tassert.Errorf(t, c.Usage() <= int64(os.Getpagesize()), "usage %d exceeds budget", c.Usage())

	// VIP is exempt
	obj, err := c.Alloc(memsys.PriorityVIP)
	tassert.CheckFatal(t, err)
	objs = append(objs, obj)

	for _, obj := range objs {
		c.Free(obj, 0)
	}
	c.Destroy()
}

func TestProviderExhaustion(t *testing.T) {
	const limit = 64 * cos.KiB
	provider := memsys.NewLimitProvider(memsys.NewHeapProvider(0), limit)
	c, err := memsys.CreateExt(memsys.Ext{
		Name:       "exhaustion",
		ObjectSize: cos.KiB,
		Provider:   provider,
		Flags:      memsys.NoDepot,
	})
	tassert.CheckFatal(t, err)

	var objs [][]byte
	for {
		obj, err := c.Alloc(0)
		if err != nil {
			tassert.Fatalf(t, errors.Is(err, memsys.ErrNoMemory), "expected ErrNoMemory, got %v", err)
			break
		}
		objs = append(objs, obj)
		tassert.Fatalf(t, len(objs) <= limit/cos.KiB, "provider limit not enforced")
	}
	tassert.Errorf(t, len(objs) == limit/cos.KiB, "expected %d objects, got %d", limit/cos.KiB, len(objs))
	for _, obj := range objs {
		c.Free(obj, 0)
	}
	// recoverable
	obj, err := c.Alloc(0)
	tassert.CheckFatal(t, err)
	c.Free(obj, 0)
	c.Destroy()
	tassert.Errorf(t, provider.Used() == 0, "expected all chunks back, %d bytes outstanding", provider.Used())
}

// NoDepot caches never touch magazines
func TestNoDepot(t *testing.T) {
	c, err := memsys.CreateExt(memsys.Ext{Name: "no-depot", ObjectSize: 8 * cos.KiB, Flags: memsys.NoDepot})
	tassert.CheckFatal(t, err)

	const num = 50
	objs := make([][]byte, 0, num)
	for range num {
		obj, err := c.Alloc(0)
		tassert.CheckFatal(t, err)
		objs = append(objs, obj)
	}
	for _, obj := range objs {
		c.Free(obj, 0)
	}
	st := c.Stats()
	tassert.Errorf(t, st.MagazineOps == 0, "expected zero magazine operations, got %d", st.MagazineOps)
	tassert.Errorf(t, st.Magazines == 0, "expected no magazines, got %d", st.Magazines)
	tassert.Errorf(t, st.PoolCalls >= 2*num, "expected at least %d slab pool calls, got %d", 2*num, st.PoolCalls)
	tassert.Errorf(t, st.EmptySlabs == st.Slabs, "all slabs must be empty: %s", st.String())
	c.Destroy()
}

func TestDestroyWithLivePanics(t *testing.T) {
	c, err := memsys.Create("destroy-live", 64, 8, nil, nil, nil)
	tassert.CheckFatal(t, err)
	obj, err := c.Alloc(0)
	tassert.CheckFatal(t, err)

	tassert.CheckPanic(t, c.Destroy, "destroy with a live object")

	c.Free(obj, 0)
	c.Destroy()
}

func TestInvalidFreePanics(t *testing.T) {
	c, err := memsys.Create("invalid-free", 64, 8, nil, nil, nil)
	tassert.CheckFatal(t, err)
	other, err := memsys.Create("other", 64, 8, nil, nil, nil)
	tassert.CheckFatal(t, err)

	obj, err := c.Alloc(0)
	tassert.CheckFatal(t, err)
	foreign, err := other.Alloc(0)
	tassert.CheckFatal(t, err)

	tassert.CheckPanic(t, func() { c.Free(foreign, 0) }, "free of another cache's object")
	tassert.CheckPanic(t, func() { c.Free(make([]byte, 64), 0) }, "free of a heap object")
	tassert.CheckPanic(t, func() { c.Free(obj[8:], 0) }, "free of an interior pointer")

	c.Free(obj, 0)
	tassert.CheckPanic(t, func() { c.Free(obj, 0) }, "double free")

	other.Free(foreign, 0)
	c.Destroy()
	other.Destroy()
}

func TestStatsMsgpack(t *testing.T) {
	reg := newTestRegistry(nil)
	for i, size := range []int64{16, 333, 4096} {
		c, err := reg.Create(fmt.Sprintf("msgp-%d", i), size, 8, nil, nil, nil)
		tassert.CheckFatal(t, err)
		obj, err := c.Alloc(0)
		tassert.CheckFatal(t, err)
		defer func() {
			c.Free(obj, 0)
			c.Destroy()
		}()
	}
	snap := reg.Snapshot()
	b, err := snap.MarshalMsg(nil)
	tassert.CheckFatal(t, err)

	var out memsys.Snapshot
	rest, err := out.UnmarshalMsg(b)
	tassert.CheckFatal(t, err)
	tassert.Errorf(t, len(rest) == 0, "%d trailing bytes", len(rest))
	tassert.Fatalf(t, len(out.Caches) == 3, "expected 3 caches, got %d", len(out.Caches))
	tassert.Errorf(t, out.Time == snap.Time && out.Usage == snap.Usage, "snapshot header mismatch")
	for i := range out.Caches {
		tassert.Errorf(t, out.Caches[i] == snap.Caches[i], "cache %d: %+v != %+v", i, out.Caches[i], snap.Caches[i])
	}
}
