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
	"unsafe"

	"github.com/NVIDIA/objcache/cmn/atomic"
	"github.com/NVIDIA/objcache/cmn/config"
	"github.com/NVIDIA/objcache/cmn/cos"
	"github.com/NVIDIA/objcache/cmn/debug"
	"github.com/NVIDIA/objcache/cmn/nlog"
	"github.com/pkg/errors"
)

type (
	// slab geometry, fixed at cache creation
	geometry struct {
		layout   layout
		size     int64 // object size
		stride   int64 // size rounded up to alignment
		slabSize int64
		pageSize int64
		nobjs    uint32
	}

	slabPool struct {
		provider Provider
		c        *Cache
		g        *geometry
		cond     sync.Cond
		hash     slabHash
		empty    slabList
		partial  slabList
		full     slabList
		nfree    int64 // free objects in all slabs
		nslabs   int64
		pending  int64 // bytes being grown
		growing  int
		mu       sync.Mutex
		hmu      sync.RWMutex // hash
		usage    atomic.Int64
		calls    atomic.Int64 // pool entries (refill, put, reserve)
		grows    atomic.Int64
		releases atomic.Int64
	}
)

func newGeometry(size, align int64, flags CacheFlags, conf *config.MemsysConf) (g geometry) {
	var (
		pageSize = int64(conf.PageSize)
		perSlab  = int64(conf.ObjectsPerSlab)
		maxSlab  = int64(conf.MaxSlabSize)
	)
	if flags&LargeSlab != 0 {
		perSlab, maxSlab = int64(conf.LargeObjectsPerSlab), int64(conf.MaxLargeSlabSize)
	}
	g.size, g.pageSize = size, pageSize
	g.stride = cos.CeilAlignI64(size, align)

	g.slabSize = cos.CeilAlignI64(g.stride*perSlab, pageSize)
	g.slabSize = max(min(g.slabSize, cos.CeilAlignI64(maxSlab, pageSize)), pageSize)
	if g.slabSize < g.stride {
		g.slabSize = cos.CeilAlignI64(g.stride, pageSize) // at least one
	}
	g.nobjs = uint32(g.slabSize / g.stride)

	if size < int64(conf.SmallObjectMax) || g.stride < 4 {
		g.layout = &oobLayout{}
	} else {
		g.layout = &inObjLayout{stride: g.stride}
	}
	return
}

func (g *geometry) String() string {
	return fmt.Sprintf("size %d, stride %d, slab %s (%d objs, %s)", g.size, g.stride,
		cos.ToSizeIEC(g.slabSize, 0), g.nobjs, g.layout.name())
}

func (p *slabPool) init(c *Cache, g *geometry, provider Provider) {
	p.c, p.g, p.provider = c, g, provider
	p.cond.L = &p.mu
}

func (p *slabPool) list(st slabState) *slabList {
	switch st {
	case slabEmpty:
		return &p.empty
	case slabPartial:
		return &p.partial
	default:
		return &p.full
	}
}

func (p *slabPool) relist(s *slab) {
	var st slabState
	switch s.nfree {
	case s.nobjs:
		st = slabEmpty
	case 0:
		st = slabFull
	default:
		st = slabPartial
	}
	if st != s.state {
		p.list(s.state).remove(s)
		s.state = st
		p.list(st).push(s)
	}
}

// refill appends up to n objects to dst: from PARTIAL, then EMPTY slabs,
// otherwise from exactly one new slab.
func (p *slabPool) refill(dst []ref, n int, flags Flags) ([]ref, error) {
	p.calls.Inc()
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.nfree > 0 {
			return p.take(dst, n), nil
		}
		if err := p.grow(flags); err != nil {
			return dst, err
		}
	}
}

// tryTake is refill that never grows
func (p *slabPool) tryTake(dst []ref, n int) []ref {
	p.calls.Inc()
	p.mu.Lock()
	dst = p.take(dst, n)
	p.mu.Unlock()
	return dst
}

func (p *slabPool) take(dst []ref, n int) []ref {
	for n > 0 {
		s := p.partial.head
		if s == nil {
			if s = p.empty.head; s == nil {
				break
			}
		}
		for ; n > 0 && s.nfree > 0; n-- {
			dst = append(dst, ref{s: s, i: p.g.layout.pop(s)})
			p.nfree--
		}
		p.relist(s)
	}
	return dst
}

// grow adds one EMPTY slab; is called and returns with p.mu held.
// Without DontWaitForMemory waits for an in-flight grow instead (and returns nil
// for the caller to re-check).
func (p *slabPool) grow(flags Flags) error {
	if p.growing > 0 && flags&DontWaitForMemory == 0 {
		p.cond.Wait()
		return nil
	}
	if err := p.budget(flags); err != nil {
		return err
	}
	p.growing++
	p.pending += p.g.slabSize
	p.mu.Unlock()

	s, err := p.newSlab(flags)

	p.mu.Lock()
	p.growing--
	p.pending -= p.g.slabSize
	p.cond.Broadcast()
	if err != nil {
		return err
	}
	s.state = slabEmpty
	p.empty.push(s)
	p.nslabs++
	p.nfree += int64(s.nobjs)
	p.c.pressure.Inc()
	return nil
}

func (p *slabPool) budget(flags Flags) error {
	maxBytes := p.c.maxBytes
	if maxBytes <= 0 || flags&PriorityVIP != 0 {
		return nil
	}
	if usage := p.usage.Load() + p.pending; usage+p.g.slabSize > maxBytes {
		return errors.Wrapf(ErrBudget, "%s: usage %s, budget %s", p.c.name,
			cos.ToSizeIEC(usage, 1), cos.ToSizeIEC(maxBytes, 1))
	}
	return nil
}

// (no locks held)
func (p *slabPool) newSlab(flags Flags) (*slab, error) {
	chunk, err := p.provider.Alloc(p.g.slabSize, flags)
	if err != nil {
		if !errors.Is(err, ErrNoMemory) && !errors.Is(err, ErrWouldBlock) {
			err = errors.Wrap(ErrNoMemory, err.Error())
		}
		return nil, errors.WithMessagef(err, "%s: failed to grow", p.c.name)
	}
	cos.Assertf(int64(len(chunk)) >= p.g.slabSize, "%s: provider returned %d bytes, expected %d",
		p.c.name, len(chunk), p.g.slabSize)
	s := newSlab(chunk[:p.g.slabSize:p.g.slabSize], p.g.nobjs)
	cos.Assertf(int64(s.base)%p.g.pageSize == 0, "%s: chunk %#x is not page-aligned", p.c.name, s.base)
	p.g.layout.init(s)

	p.hmu.Lock()
	p.hash.add(s, p.g.pageSize)
	p.hmu.Unlock()

	p.usage.Add(p.g.slabSize)
	p.grows.Inc()
	if nlog.V(4) {
		nlog.Infoln(p.c.name, "grow:", p.g.String())
	}
	return s, nil
}

// put returns objects to their slabs; EMPTY slabs are retained
func (p *slabPool) put(refs []ref) {
	if len(refs) == 0 {
		return
	}
	p.calls.Inc()
	p.mu.Lock()
	for _, r := range refs {
		debug.Assert(r.s.nfree < r.s.nobjs)
		p.g.layout.push(r.s, r.i)
		p.nfree++
		p.relist(r.s)
	}
	p.mu.Unlock()
}

// reserve grows slabs until at least `count` free objects sit in the pool
func (p *slabPool) reserve(count int64, flags Flags) error {
	p.calls.Inc()
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.nfree < count {
		if err := p.grow(flags); err != nil {
			return err
		}
	}
	return nil
}

// releaseEmpty frees EMPTY slabs back to the provider, retaining `keep` of them
// and keeping total capacity (objects) at or above `floor`.
func (p *slabPool) releaseEmpty(keep int, floor int64) (n int) {
	var (
		victims []*slab
		nobjs   = int64(p.g.nobjs)
	)
	p.mu.Lock()
	for p.empty.n > keep && (p.nslabs-1)*nobjs >= floor {
		s := p.empty.head
		p.empty.remove(s)
		p.nslabs--
		p.nfree -= nobjs
		victims = append(victims, s)
	}
	p.mu.Unlock()

	p.free(victims)
	return len(victims)
}

// (no locks held)
func (p *slabPool) free(victims []*slab) {
	if len(victims) == 0 {
		return
	}
	p.hmu.Lock()
	for _, s := range victims {
		p.hash.del(s, p.g.pageSize)
	}
	p.hmu.Unlock()
	for _, s := range victims {
		p.provider.Free(s.mem)
		p.usage.Sub(p.g.slabSize)
		p.releases.Inc()
	}
}

// lookup resolves an object to its (slab, index); panics on a foreign or
// misaligned (interior) pointer
func (p *slabPool) lookup(obj []byte) ref {
	cos.AssertMsg(len(obj) > 0, p.c.name+": free of a zero-length object")
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(obj)))

	p.hmu.RLock()
	s := p.hash.get(uint64(addr) / uint64(p.g.pageSize))
	p.hmu.RUnlock()

	if s == nil {
		cos.AssertMsg(false, fmt.Sprintf("%s: foreign object %#x", p.c.name, addr))
	}
	off := int64(addr) - int64(s.base)
	if off < 0 || off%p.g.stride != 0 || off/p.g.stride >= int64(s.nobjs) {
		cos.AssertMsg(false, fmt.Sprintf("%s: misaligned object %#x (slab %#x, offset %d, stride %d)",
			p.c.name, addr, s.base, off, p.g.stride))
	}
	return ref{s: s, i: uint32(off / p.g.stride)}
}

// capacity in objects
func (p *slabPool) capacity() int64 {
	p.mu.Lock()
	n := p.nslabs * int64(p.g.nobjs)
	p.mu.Unlock()
	return n
}

// destroy releases all slabs; all must be EMPTY
func (p *slabPool) destroy() {
	p.mu.Lock()
	cos.Assertf(p.partial.n == 0 && p.full.n == 0, "%s: destroying with %d partial and %d full slabs",
		p.c.name, p.partial.n, p.full.n)
	victims := make([]*slab, 0, p.empty.n)
	for s := p.empty.head; s != nil; s = p.empty.head {
		cos.Assertf(s.nlive() == 0, "%s: EMPTY slab %#x with %d live object(s)", p.c.name, s.base, s.nlive())
		p.empty.remove(s)
		victims = append(victims, s)
	}
	p.nslabs, p.nfree = 0, 0
	p.mu.Unlock()
	p.free(victims)
}

func (p *slabPool) stats(st *Stats) {
	p.mu.Lock()
	st.Slabs = p.nslabs
	st.EmptySlabs = int64(p.empty.n)
	st.PartialSlabs = int64(p.partial.n)
	st.FullSlabs = int64(p.full.n)
	st.FreeInPool = p.nfree
	st.Capacity = p.nslabs * int64(p.g.nobjs)
	p.mu.Unlock()
	st.Usage = p.usage.Load()
	st.PoolCalls = p.calls.Load()
	st.Grows = p.grows.Load()
	st.Releases = p.releases.Load()
}
