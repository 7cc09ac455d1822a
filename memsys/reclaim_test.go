// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys_test

import (
	"context"
	"sync"

	"github.com/NVIDIA/objcache/cmn/config"
	"github.com/NVIDIA/objcache/cmn/cos"
	"github.com/NVIDIA/objcache/memsys"
	"github.com/NVIDIA/objcache/sys"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func allocN(c *memsys.Cache, n int) [][]byte {
	objs := make([][]byte, 0, n)
	for range n {
		obj, err := c.Alloc(0)
		Expect(err).NotTo(HaveOccurred())
		objs = append(objs, obj)
	}
	return objs
}

func freeAll(c *memsys.Cache, objs [][]byte) {
	for _, obj := range objs {
		c.Free(obj, 0)
	}
}

var _ = Describe("Reclaim", func() {
	var (
		reg  *memsys.Registry
		ctrl *memsys.Controller
		c    *memsys.Cache
	)

	BeforeEach(func() {
		reg = newTestRegistry(nil)
		ctrl = memsys.NewController(reg)
		var err error
		c, err = reg.CreateExt(memsys.Ext{Name: "reclaim-64", ObjectSize: 64, MagazineCapacity: 8})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if reg.Get(c.ID()) != nil {
			c.Destroy()
		}
	})

	It("should retain freed slabs until reclaimed", func() {
		objs := allocN(c, 100)
		st := c.Stats()
		Expect(st.Slabs).To(BeEquivalentTo(2)) // 64 objects per 4KiB slab
		Expect(st.Live).To(BeEquivalentTo(100))
		usage := st.Usage

		freeAll(c, objs)
		st = c.Stats()
		Expect(st.Live).To(BeZero())
		Expect(st.Slabs).To(BeEquivalentTo(2))
		Expect(st.Usage).To(Equal(usage))

		// magazines hold on to objects until flushed
		c.Flush()
		st = c.Stats()
		Expect(st.EmptySlabs).To(Equal(st.Slabs))
		Expect(st.FreeInPool).To(Equal(st.Capacity))
		Expect(st.Usage).To(Equal(usage))

		released, err := ctrl.Reclaim(context.Background(), memsys.LevelCritical)
		Expect(err).NotTo(HaveOccurred())
		Expect(released).To(Equal(2))
		st = c.Stats()
		Expect(st.Slabs).To(BeZero())
		Expect(st.Usage).To(BeZero())
		Expect(ctrl.Released()).To(BeEquivalentTo(2))
	})

	It("should drain all magazines at critical level", func() {
		freeAll(c, allocN(c, 100))

		_, err := ctrl.Reclaim(context.Background(), memsys.LevelCritical)
		Expect(err).NotTo(HaveOccurred())
		st := c.Stats()
		Expect(st.Slabs).To(BeZero())
		Expect(st.Magazines).To(BeZero())
		Expect(reg.Usage()).To(BeZero())

		// and keep working afterwards
		freeAll(c, allocN(c, 10))
		Expect(c.Stats().Live).To(BeZero())
	})

	It("should be less aggressive at lower levels", func() {
		freeAll(c, allocN(c, 100))

		_, err := ctrl.Reclaim(context.Background(), memsys.LevelNote)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Stats().Slabs).To(BeEquivalentTo(2))

		_, err = ctrl.Reclaim(context.Background(), memsys.LevelCritical)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Stats().Slabs).To(BeZero())
		Expect(ctrl.Passes()).To(BeEquivalentTo(2))
	})

	It("should do nothing at level none", func() {
		freeAll(c, allocN(c, 100))
		c.Flush()
		released, err := ctrl.Reclaim(context.Background(), memsys.LevelNone)
		Expect(err).NotTo(HaveOccurred())
		Expect(released).To(BeZero())
		Expect(c.Stats().Slabs).To(BeEquivalentTo(2))
	})

	It("should never release in-use slabs", func() {
		objs := allocN(c, 100)
		_, err := ctrl.Reclaim(context.Background(), memsys.LevelCritical)
		Expect(err).NotTo(HaveOccurred())
		st := c.Stats()
		Expect(st.Slabs).To(BeNumerically(">=", 2))
		Expect(st.Live).To(BeEquivalentTo(100))
		for _, obj := range objs {
			obj[0] = 0xab // still writable
		}
		freeAll(c, objs)
	})

	It("should keep the minimum reserve", func() {
		Expect(c.SetMinimumReserve(100)).To(Succeed())
		freeAll(c, allocN(c, 500))

		_, err := ctrl.Reclaim(context.Background(), memsys.LevelCritical)
		Expect(err).NotTo(HaveOccurred())
		st := c.Stats()
		Expect(st.Capacity).To(BeNumerically(">=", 100))
		Expect(st.Capacity).To(BeNumerically("<", 500))
	})

	It("should stop when the context is canceled", func() {
		freeAll(c, allocN(c, 100))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		released, err := ctrl.Reclaim(ctx, memsys.LevelCritical)
		Expect(err).To(MatchError(context.Canceled))
		Expect(released).To(BeZero())
		Expect(c.Stats().Slabs).To(BeEquivalentTo(2))
	})

	It("should skip destroyed caches", func() {
		freeAll(c, allocN(c, 10))
		c.Destroy()
		Expect(reg.Len()).To(BeZero())
		released, err := ctrl.Reclaim(context.Background(), memsys.LevelCritical)
		Expect(err).NotTo(HaveOccurred())
		Expect(released).To(BeZero())
	})
})

// application-level cache of constructed objects, emptied on demand
type appCache struct {
	c      *memsys.Cache
	levels []memsys.Level
	held   [][]byte
	mu     sync.Mutex
}

func (a *appCache) reclaim(level memsys.Level) {
	a.mu.Lock()
	a.levels = append(a.levels, level)
	if level >= memsys.LevelWarning {
		freeAll(a.c, a.held)
		a.held = nil
	}
	a.mu.Unlock()
}

var _ = Describe("Reclaimer", func() {
	var (
		reg  *memsys.Registry
		ctrl *memsys.Controller
	)

	BeforeEach(func() {
		reg = newTestRegistry(nil)
		ctrl = memsys.NewController(reg)
	})

	It("should let the owner free its objects first", func() {
		app := &appCache{}
		c, err := reg.CreateExt(memsys.Ext{
			Name:       "app",
			ObjectSize: 200,
			Cookie:     app,
			Reclaimer:  func(cookie any, level memsys.Level) { cookie.(*appCache).reclaim(level) },
		})
		Expect(err).NotTo(HaveOccurred())
		app.c = c
		app.held = allocN(c, 100)

		_, err = ctrl.Reclaim(context.Background(), memsys.LevelNote)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Stats().Live).To(BeEquivalentTo(100))

		_, err = ctrl.Reclaim(context.Background(), memsys.LevelCritical)
		Expect(err).NotTo(HaveOccurred())
		st := c.Stats()
		Expect(st.Live).To(BeZero())
		Expect(st.Slabs).To(BeZero())
		Expect(app.levels).To(Equal([]memsys.Level{memsys.LevelNote, memsys.LevelCritical}))
		c.Destroy()
	})

	It("should let the reclaimer flush and destroy its own cache", func() {
		var (
			c    *memsys.Cache
			held [][]byte
			err  error
		)
		c, err = reg.CreateExt(memsys.Ext{
			Name:       "self",
			ObjectSize: 64,
			Reclaimer: func(_ any, level memsys.Level) {
				c.Flush()
				if level == memsys.LevelCritical {
					freeAll(c, held)
					c.Destroy()
				}
			},
		})
		Expect(err).NotTo(HaveOccurred())
		held = allocN(c, 20)
		freeAll(c, allocN(c, 40))

		_, err = ctrl.Reclaim(context.Background(), memsys.LevelWarning)
		Expect(err).NotTo(HaveOccurred())
		st := c.Stats()
		Expect(st.FullMagazines).To(BeZero())
		Expect(st.Live).To(BeEquivalentTo(20))

		released, err := ctrl.Reclaim(context.Background(), memsys.LevelCritical)
		Expect(err).NotTo(HaveOccurred())
		Expect(released).To(BeZero())
		Expect(reg.Len()).To(BeZero())
		Expect(c.Usage()).To(BeZero())
	})

	It("should tolerate a panicking reclaimer", func() {
		bad, err := reg.CreateExt(memsys.Ext{
			Name:       "bad",
			ObjectSize: 64,
			Reclaimer:  func(any, memsys.Level) { panic("reclaimer") },
		})
		Expect(err).NotTo(HaveOccurred())
		good, err := reg.Create("good", 64, 8, nil, nil, nil)
		Expect(err).NotTo(HaveOccurred())
		freeAll(bad, allocN(bad, 100))
		freeAll(good, allocN(good, 100))

		_, err = ctrl.Reclaim(context.Background(), memsys.LevelCritical)
		Expect(err).NotTo(HaveOccurred())
		Expect(bad.Stats().Slabs).To(BeZero())
		Expect(good.Stats().Slabs).To(BeZero())
		bad.Destroy()
		good.Destroy()
	})

	It("should reclaim many caches in parallel", func() {
		caches := make([]*memsys.Cache, 0, 20)
		for i := range 20 {
			c, err := reg.Create("many", int64(16*(i+1)), 8, nil, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			freeAll(c, allocN(c, 50))
			caches = append(caches, c)
		}
		released, err := ctrl.Reclaim(context.Background(), memsys.LevelCritical)
		Expect(err).NotTo(HaveOccurred())
		Expect(released).To(BeNumerically(">=", 20))
		Expect(reg.Usage()).To(BeZero())
		for _, c := range caches {
			c.Destroy()
		}
	})
})

var _ = Describe("Level", func() {
	It("should parse and print", func() {
		for _, level := range []memsys.Level{memsys.LevelNone, memsys.LevelNote, memsys.LevelWarning, memsys.LevelCritical} {
			parsed, err := memsys.ParseLevel(level.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(parsed).To(Equal(level))
		}
		_, err := memsys.ParseLevel("extreme")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Monitor", func() {
	const (
		total   = 16 * cos.GiB
		minFree = cos.GiB
	)
	var m *memsys.Monitor

	BeforeEach(func() {
		if _, err := sys.Mem(); err != nil {
			Skip(err.Error())
		}
		conf := config.Default().Monitor
		conf.MinFree = minFree
		conf.MinPctTotal, conf.MinPctFree = 0, 0

		var err error
		m, err = memsys.NewMonitor(memsys.NewController(newTestRegistry(nil)), &conf)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Calibrate(&sys.MemStat{Total: total, Free: total / 2, ActualFree: total / 2})).To(Succeed())
	})

	It("should calibrate watermarks", func() {
		Expect(m.MinFree()).To(BeEquivalentTo(minFree))
		Expect(m.LowWM()).To(BeEquivalentTo(4 * cos.GiB))
	})

	DescribeTable("should map free memory to levels",
		func(free, actualFree uint64, expected memsys.Level) {
			level := m.Level(&sys.MemStat{Total: total, Free: free, ActualFree: actualFree})
			Expect(level).To(Equal(expected), "got %s", level)
		},
		Entry("plenty", uint64(5*cos.GiB), uint64(6*cos.GiB), memsys.LevelNone),
		Entry("at low watermark", uint64(4*cos.GiB), uint64(4*cos.GiB), memsys.LevelNone),
		Entry("moderate", uint64(3*cos.GiB), uint64(3*cos.GiB), memsys.LevelNote),
		Entry("high", uint64(3*cos.GiB/2), uint64(2*cos.GiB), memsys.LevelWarning),
		Entry("free at min", uint64(minFree), uint64(2*cos.GiB), memsys.LevelWarning),
		Entry("actual free at min", uint64(minFree/2), uint64(minFree/2), memsys.LevelCritical),
	)

	It("should escalate while swapping", func() {
		mem := sys.MemStat{Total: total, Free: 5 * cos.GiB, ActualFree: 5 * cos.GiB, SwapUsed: cos.MiB}
		Expect(m.Level(&mem)).To(Equal(memsys.LevelWarning))
		mem.SwapUsed *= 2
		Expect(m.Level(&mem)).To(Equal(memsys.LevelCritical))
		// swap usage stops growing
		Expect(m.Level(&mem)).To(Equal(memsys.LevelWarning))
		Expect(m.Level(&mem)).To(Equal(memsys.LevelNone))
	})

	It("should check host memory", func() {
		Expect(m.Check(context.Background())).To(BeNumerically(">", 0))
	})
})
