// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"fmt"
	"sync"
	"time"

	"github.com/NVIDIA/objcache/cmn/atomic"
	"github.com/NVIDIA/objcache/cmn/config"
	"github.com/NVIDIA/objcache/cmn/cos"
	"github.com/NVIDIA/objcache/cmn/nlog"
	"github.com/NVIDIA/objcache/hk"
	"github.com/NVIDIA/objcache/pcpu"
	"github.com/pkg/errors"
)

// Cache vends fixed-size objects. Alloc and Free are safe for concurrent use.
type Cache struct {
	cookie    any
	ctor      Ctor
	dtor      Dtor
	reclaimer Reclaimer
	reg       *Registry
	pinner    pcpu.Pinner
	slots     []cpuCache // nil with NoDepot
	g         geometry
	pool      slabPool
	depot     depot
	name      string
	id        string
	hkName    string
	tuneIval  time.Duration
	align     int64
	maxBytes  int64

	magCapacity int
	maxMags     int
	flags       CacheFlags

	minReserve atomic.Int64
	live       atomic.Int64
	allocs     atomic.Int64
	frees      atomic.Int64
	magOps     atomic.Int64
	steals     atomic.Int64
	pressure   atomic.Int64 // slabs grown since the last reclaim (decays)

	rmu       sync.Mutex // reclaim vs destroy
	destroyed atomic.Bool
}

// Create returns an unregistered cache with default tuning.
func Create(name string, objectSize, alignment int64, cookie any, ctor Ctor, dtor Dtor) (*Cache, error) {
	return CreateExt(Ext{
		Name:       name,
		ObjectSize: objectSize,
		Alignment:  alignment,
		Cookie:     cookie,
		Ctor:       ctor,
		Dtor:       dtor,
	})
}

// CreateExt returns an unregistered cache with explicit tuning.
func CreateExt(ext Ext) (*Cache, error) {
	ext.Flags |= cacheBootstrap
	return newCache(&ext, config.GCO(), nil, nil)
}

func newCache(ext *Ext, cfg *config.Config, reg *Registry, pinner pcpu.Pinner) (*Cache, error) {
	if ext.ObjectSize <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "cache %q: object size %d", ext.Name, ext.ObjectSize)
	}
	align := ext.Alignment
	if align == 0 {
		align = defaultAlignment
	}
	if !cos.IsPow2(align) || align > int64(cfg.Memsys.PageSize) {
		return nil, errors.Wrapf(ErrInvalidConfig, "cache %q: alignment %d (must be a power of two <= %s)",
			ext.Name, ext.Alignment, cfg.Memsys.PageSize)
	}
	if ext.MaxBytes < 0 || ext.MagazineCapacity < 0 || ext.MaxMagazines < 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "cache %q: max-bytes %d, magazine capacity %d, max magazines %d",
			ext.Name, ext.MaxBytes, ext.MagazineCapacity, ext.MaxMagazines)
	}
	c := &Cache{
		cookie:      ext.Cookie,
		ctor:        ext.Ctor,
		dtor:        ext.Dtor,
		reclaimer:   ext.Reclaimer,
		reg:         reg,
		name:        ext.Name,
		id:          cos.GenUUID(),
		align:       align,
		maxBytes:    ext.MaxBytes,
		magCapacity: ext.MagazineCapacity,
		maxMags:     ext.MaxMagazines,
		flags:       ext.Flags,
		tuneIval:    cfg.Depot.TuneIval.D(),
	}
	if c.name == "" {
		c.name = "cache-" + c.id
	}
	if c.magCapacity == 0 {
		c.magCapacity = cfg.Memsys.MagazineCapacity
	}
	if c.maxMags == 0 {
		c.maxMags = cfg.Memsys.MaxMagazines
	}
	c.hkName = c.name + "." + c.id + hk.NameSuffix
	c.g = newGeometry(ext.ObjectSize, align, ext.Flags, &cfg.Memsys)

	provider := ext.Provider
	if provider == nil {
		switch {
		case reg != nil:
			provider = reg.provider
		case c.g.pageSize == defaultProvider.PageSize:
			provider = defaultProvider
		default:
			provider = NewHeapProvider(c.g.pageSize)
		}
	}
	c.pool.init(c, &c.g, provider)

	if c.flags&NoDepot == 0 {
		if pinner == nil {
			pinner = pcpu.New(0)
		}
		c.pinner = pinner
		c.slots = make([]cpuCache, pinner.NumSlots())
		c.depot.init(c, cfg.Depot)
	}
	if nlog.V(4) {
		nlog.Infoln("new cache", c.String())
	}
	return c, nil
}

func (c *Cache) Name() string { return c.name }
func (c *Cache) ID() string   { return c.id }

func (c *Cache) String() string {
	return fmt.Sprintf("cache[%s(%s), %s, align %d]", c.name, c.id, c.g.String(), c.align)
}

// ObjectSize returns the (requested) object size.
func (c *Cache) ObjectSize() int64 { return c.g.size }

// Usage returns slab-backed bytes (not just live objects).
func (c *Cache) Usage() int64 { return c.pool.usage.Load() }

// Alloc vends one object: processor's magazine, depot, slab pool, provider - in
// that order. The constructor runs after the object leaves all free lists; upon
// its failure the object goes back unused (no destructor) and Alloc returns the error.
func (c *Cache) Alloc(flags Flags) ([]byte, error) {
	r, err := c.get(flags)
	if err != nil {
		return nil, err
	}
	cos.Assertf(r.s.setLive(r.i), "%s: object %d vended twice", c.name, r.i)
	c.live.Inc()

	obj := r.s.obj(r.i, &c.g)
	if c.ctor != nil {
		if err := c.ctor(c.cookie, obj); err != nil {
			r.s.clearLive(r.i)
			c.live.Dec()
			c.put(r)
			return nil, err
		}
	}
	c.allocs.Inc()
	return obj, nil
}

// Free returns an object vended by this cache. Freeing a foreign, interior,
// or already freed object panics. The destructor runs exactly once, before
// the object becomes available to other callers.
func (c *Cache) Free(obj []byte, _ Flags) {
	r := c.pool.lookup(obj)
	if !r.s.clearLive(r.i) {
		cos.AssertMsg(false, fmt.Sprintf("%s: double free of object %d (slab %#x)", c.name, r.i, r.s.base))
	}
	c.live.Dec()
	if c.dtor != nil {
		c.dtor(c.cookie, obj)
	}
	deadbeef(obj)
	c.frees.Inc()
	c.put(r)
}

func (c *Cache) get(flags Flags) (ref, error) {
	if c.slots == nil {
		return c.get1(flags)
	}
	slot := c.pinner.Pin()
	if cc := &c.slots[slot]; cc.canAlloc() {
		r := cc.alloc()
		c.pinner.Unpin(slot)
		c.magOps.Inc()
		return r, nil
	}
	c.pinner.Unpin(slot)

	// magazine miss
	full, err := c.depot.getFull(flags)
	if err != nil {
		return ref{}, err
	}
	if full == nil {
		return c.get1(flags) // no magazines left
	}

	slot = c.pinner.Pin()
	cc := &c.slots[slot]
	if cc.canAlloc() {
		// refilled by someone else meanwhile
		r := cc.alloc()
		c.pinner.Unpin(slot)
		c.magOps.Inc()
		c.depot.putFull(full)
		return r, nil
	}
	evicted := cc.previous // empty or nil
	cc.previous, cc.loaded = cc.loaded, full
	r := cc.alloc()
	c.pinner.Unpin(slot)
	c.magOps.Inc()
	if evicted != nil {
		c.depot.putEmpty(evicted)
	}
	return r, nil
}

// straight from the slab pool (with magazines: unless the pool would have to
// grow while other processors hold free objects)
func (c *Cache) get1(flags Flags) (ref, error) {
	var buf [1]ref
	if c.slots != nil {
		if refs := c.pool.tryTake(buf[:0], 1); len(refs) > 0 {
			return refs[0], nil
		}
		if m := c.steal(); m != nil {
			r := m.pop()
			if m.isEmpty() {
				c.depot.putEmpty(m)
			} else {
				c.depot.putFull(m)
			}
			return r, nil
		}
	}
	refs, err := c.pool.refill(buf[:0], 1, flags)
	if err != nil {
		return ref{}, err
	}
	return refs[0], nil
}

func (c *Cache) put(r ref) {
	if c.slots == nil {
		c.put1(r)
		return
	}
	slot := c.pinner.Pin()
	if cc := &c.slots[slot]; cc.canFree() {
		cc.free(r)
		c.pinner.Unpin(slot)
		c.magOps.Inc()
		return
	}
	c.pinner.Unpin(slot)

	// both full (or none yet)
	empty := c.depot.getEmpty()
	if empty == nil {
		c.put1(r)
		return
	}

	slot = c.pinner.Pin()
	cc := &c.slots[slot]
	if cc.canFree() {
		cc.free(r)
		c.pinner.Unpin(slot)
		c.magOps.Inc()
		c.depot.putEmpty(empty)
		return
	}
	evicted := cc.previous // full or nil
	cc.previous, cc.loaded = cc.loaded, empty
	cc.loaded.push(r)
	c.pinner.Unpin(slot)
	c.magOps.Inc()
	if evicted != nil {
		c.depot.putFull(evicted)
	}
}

func (c *Cache) put1(r ref) {
	buf := [1]ref{r}
	c.pool.put(buf[:])
}

// Reserve grows the slab pool until at least `count` free objects sit in it.
func (c *Cache) Reserve(count int, flags Flags) error {
	if count < 0 {
		return errors.Wrapf(ErrInvalidConfig, "%s: reserve %d", c.name, count)
	}
	return c.pool.reserve(int64(count), flags)
}

// SetMinimumReserve sets the floor below which reclaim never shrinks the cache
// (in objects) and then attempts a non-blocking Reserve. The floor is set
// regardless; the returned error reports the failed pre-population, if any.
func (c *Cache) SetMinimumReserve(count int) error {
	if count < 0 {
		return errors.Wrapf(ErrInvalidConfig, "%s: minimum reserve %d", c.name, count)
	}
	c.minReserve.Store(int64(count))
	if count == 0 {
		return nil
	}
	return c.Reserve(count, DontWaitForMemory)
}

func (c *Cache) MinimumReserve() int { return int(c.minReserve.Load()) }

// Tune applies the depot heuristic (see config.DepotTuning) right away.
func (c *Cache) Tune() bool {
	if c.slots == nil {
		return false
	}
	return c.depot.tune()
}

// housekeeping callback
func (c *Cache) housekeep(int64) time.Duration {
	if c.destroyed.Load() {
		return hk.UnregInterval
	}
	c.depot.tune()
	return c.tuneIval
}

// Destroy releases all slabs and magazines; panics if any object is still live.
func (c *Cache) Destroy() {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	if n := c.live.Load(); n != 0 {
		cos.AssertMsg(false, fmt.Sprintf("%s: cannot destroy with %d live object(s)", c.name, n))
	}
	if !c.destroyed.CAS(false, true) {
		cos.AssertMsg(false, c.name+": already destroyed")
	}
	if c.flags&cacheBootstrap == 0 {
		c.reg.unregister(c)
	}
	if c.slots != nil {
		c.drainSlots()
		c.depot.reclaim(LevelCritical, true)
	}
	c.pool.destroy()
	if nlog.V(4) {
		nlog.Infoln(c.name, "destroyed")
	}
}

// Flush returns all magazine-held objects (processors' and depot's) to the
// slab pool; slabs are retained.
func (c *Cache) Flush() {
	if c.slots == nil {
		return
	}
	c.rmu.Lock()
	c.drainSlots()
	c.depot.reclaim(LevelWarning, false)
	c.rmu.Unlock()
}

// steal takes a non-empty magazine parked on some processor. Called with the
// slab pool out of free objects: the cache grows only when none is left anywhere.
func (c *Cache) steal() (m *magazine) {
	for i := range c.slots {
		c.pinner.PinSlot(i)
		cc := &c.slots[i]
		switch {
		case !cc.previous.isEmpty():
			m, cc.previous = cc.previous, nil
		case !cc.loaded.isEmpty():
			m, cc.loaded = cc.loaded, nil
		}
		c.pinner.Unpin(i)
		if m != nil {
			c.steals.Inc()
			return m
		}
	}
	return nil
}

// return per-processor magazines (Critical reclaim, flush, destroy)
func (c *Cache) drainSlots() {
	for i := range c.slots {
		c.pinner.PinSlot(i)
		cc := &c.slots[i]
		loaded, previous := cc.loaded, cc.previous
		cc.loaded, cc.previous = nil, nil
		c.pinner.Unpin(i)

		n := 0
		for _, m := range [2]*magazine{loaded, previous} {
			if m != nil {
				m.drain(&c.pool)
				n++
			}
		}
		if n > 0 {
			c.depot.discard(n)
		}
	}
}

// reclaim: reclaimer callback, depot (and, at Critical, processors' magazines),
// then EMPTY slabs; never below the minimum reserve
func (c *Cache) reclaim(level Level) (released int) {
	if c.destroyed.Load() || level <= LevelNone {
		return 0
	}
	// not holding rmu: the reclaimer may Flush or Destroy its own cache
	if c.reclaimer != nil {
		c.callReclaimer(level)
	}
	c.rmu.Lock()
	defer c.rmu.Unlock()
	if c.destroyed.Load() {
		return 0
	}
	if c.slots != nil {
		c.depot.reclaim(level, level >= LevelCritical)
		if level >= LevelCritical {
			c.drainSlots()
		}
	}
	var keep int
	switch pressure := c.pressure.Load(); level {
	case LevelNote:
		keep = int(pressure/2 + 1)
		c.pressure.Sub(pressure / 2)
	case LevelWarning:
		c.pressure.Store(pressure / 2)
	default:
		c.pressure.Store(0)
	}
	released = c.pool.releaseEmpty(keep, c.minReserve.Load())
	if released > 0 && nlog.V(4) {
		nlog.Infoln(c.name, "reclaim", level.String()+":", "released", released, "slab(s)")
	}
	return released
}

// reclaim is best-effort: a panicking reclaimer is logged and otherwise ignored
func (c *Cache) callReclaimer(level Level) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorln(c.name, "reclaimer panicked at level", level.String()+":", r)
		}
	}()
	c.reclaimer(c.cookie, level)
}

// Stats returns a diagnostic snapshot.
func (c *Cache) Stats() (st Stats) {
	st.Name, st.ID = c.name, c.id
	st.ObjectSize, st.Stride = c.g.size, c.g.stride
	st.SlabSize, st.ObjsPerSlab = c.g.slabSize, int64(c.g.nobjs)
	st.Layout = c.g.layout.name()
	st.Live = c.live.Load()
	st.Allocs, st.Frees = c.allocs.Load(), c.frees.Load()
	st.MagazineOps = c.magOps.Load()
	st.Steals = c.steals.Load()
	st.MinReserve = c.minReserve.Load()
	c.pool.stats(&st)
	if c.slots != nil {
		c.depot.stats(&st)
	}
	return st
}
