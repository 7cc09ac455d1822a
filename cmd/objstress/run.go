// Package main is objstress: a load generator and inspection tool for object caches
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/NVIDIA/objcache/cmn/atomic"
	"github.com/NVIDIA/objcache/cmn/cos"
	"github.com/NVIDIA/objcache/cmn/mono"
	"github.com/NVIDIA/objcache/cmn/nlog"
	"github.com/NVIDIA/objcache/hk"
	"github.com/NVIDIA/objcache/memsys"
	"github.com/NVIDIA/objcache/sys"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"
)

const stampSize = 8

type (
	// stress run state shared by all workers
	stress struct {
		reg      *memsys.Registry
		ctrl     *memsys.Controller
		caches   []*memsys.Cache
		flags    memsys.Flags
		held     int
		verify   bool
		allocs   atomic.Int64
		frees    atomic.Int64
		failures atomic.Int64
		corrupt  atomic.Int64
	}
	// per-worker
	worker struct {
		s    *stress
		rnd  *rand.Rand
		objs []held
		id   uint32
	}
	held struct {
		c   *memsys.Cache
		obj []byte
	}
)

// object stamp: ctor writes, dtor checks
func stamp(_ any, obj []byte) error {
	if len(obj) >= stampSize {
		binary.LittleEndian.PutUint64(obj, uint64(len(obj))^0xdeadbeefcafe)
	}
	return nil
}

func runHandler(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	sizes, err := parseSizes(c.String(sizeFlag.Name))
	if err != nil {
		return err
	}
	provider, closeProvider, err := newProvider(c)
	if err != nil {
		return err
	}
	defer closeProvider()

	h := hk.New(true)
	runErr := make(chan error, 1)
	go func() { runErr <- h.Run() }()
	h.WaitStarted()
	defer h.Stop(nil)

	s := &stress{
		held:   max(c.Int(numObjsFlag.Name), 1),
		verify: c.Bool(verifyFlag.Name),
	}
	if c.Bool(dontWaitFlag.Name) {
		s.flags |= memsys.DontWaitForMemory
	}
	s.reg = memsys.NewRegistry(cfg, provider, h)
	s.ctrl = memsys.NewController(s.reg)
	if err := s.createCaches(c, sizes); err != nil {
		return err
	}
	defer s.destroyCaches()

	if c.Bool(monitorFlag.Name) || cfg.Monitor.Enabled {
		mon, err := memsys.NewMonitor(s.ctrl, &cfg.Monitor)
		if err != nil {
			return err
		}
		nlog.Infoln("memory monitor: min-free", cos.ToSizeIEC(int64(mon.MinFree()), 1),
			"low watermark", cos.ToSizeIEC(int64(mon.LowWM()), 1))
		mon.Reg(h)
		defer mon.Unreg(h)
	}
	if addr := c.String(metricsFlag.Name); addr != "" {
		srv, err := serveMetrics(addr, s.reg)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	level, err := memsys.ParseLevel(c.String(levelFlag.Name))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.Duration(durationFlag.Name))
	defer cancel()

	// SIGINT and friends terminate the housekeeper
	sigCh := make(chan error, 1)
	go func() {
		if err := <-runErr; err != nil {
			sigCh <- err
			cancel()
		}
	}()

	numWorkers := c.Int(workersFlag.Name)
	if numWorkers <= 0 {
		numWorkers = sys.NumCPU()
	}
	nlog.Infoln("running", numWorkers, "worker(s) against", len(s.caches), "cache(s) for",
		c.Duration(durationFlag.Name).String())

	started := mono.NanoTime()
	g, gctx := errgroup.WithContext(ctx)
	for i := range numWorkers {
		w := &worker{s: s, id: uint32(i), rnd: rand.New(rand.NewPCG(uint64(i), uint64(started)))}
		g.Go(func() error { return w.run(gctx) })
	}
	if ival := c.Duration(reclaimFlag.Name); ival > 0 {
		g.Go(func() error { return s.reclaimLoop(gctx, ival, level) })
	}
	if ival := c.Duration(statsIvalFlag.Name); ival > 0 {
		g.Go(func() error { return s.statsLoop(gctx, ival) })
	}
	err = g.Wait()
	elapsed := mono.Since(started)
	var sigErr error
	select {
	case sigErr = <-sigCh:
	default:
	}
	if sigErr != nil {
		nlog.Warningln("interrupted:", sigErr)
	}
	if err != nil {
		return err
	}

	nlog.Infof("done in %v: %d allocs, %d frees, %d failures, %d reclaim passes (%d slabs released)",
		elapsed, s.allocs.Load(), s.frees.Load(), s.failures.Load(), s.ctrl.Passes(), s.ctrl.Released())
	if n := s.corrupt.Load(); n > 0 {
		return fmt.Errorf("detected %d corrupted object(s)", n)
	}
	if err := writeSnapshot(c, s.reg.Snapshot()); err != nil {
		return err
	}
	return sigErr
}

func newProvider(c *cli.Context) (memsys.Provider, func(), error) {
	var (
		provider memsys.Provider
		closer   = func() {}
	)
	switch kind := c.String(providerFlag.Name); kind {
	case providerHeap:
		provider = memsys.NewHeapProvider(0)
	case providerMmap:
		var err error
		if provider, closer, err = mmapProvider(); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("invalid --%s %q", providerFlag.Name, kind)
	}
	limit, err := parseSizeFlag(c, limitFlag)
	if err != nil {
		return nil, nil, err
	}
	if limit > 0 {
		provider = memsys.NewLimitProvider(provider, limit)
	}
	return provider, closer, nil
}

func (s *stress) createCaches(c *cli.Context, sizes []int64) error {
	budget, err := parseSizeFlag(c, budgetFlag)
	if err != nil {
		return err
	}
	var flags memsys.CacheFlags
	if c.Bool(noDepotFlag.Name) {
		flags |= memsys.NoDepot
	}
	if c.Bool(largeSlabFlag.Name) {
		flags |= memsys.LargeSlab
	}
	ext := memsys.Ext{
		Alignment:        c.Int64(alignFlag.Name),
		MaxBytes:         budget,
		MagazineCapacity: c.Int(magazineFlag.Name),
		Flags:            flags,
	}
	if s.verify {
		ext.Ctor, ext.Dtor = stamp, s.check
	}
	reserve := c.Int(reserveFlag.Name)
	for _, size := range sizes {
		for i := range max(c.Int(cachesFlag.Name), 1) {
			ext.Name = fmt.Sprintf("stress-%s-%d", cos.ToSizeIEC(size, 0), i)
			ext.ObjectSize = size
			cache, err := s.reg.CreateExt(ext)
			if err != nil {
				return err
			}
			s.caches = append(s.caches, cache)
			if reserve > 0 {
				if err := cache.SetMinimumReserve(reserve); err != nil {
					nlog.Warningln(cache.Name()+": failed to pre-populate minimum reserve:", err)
				}
			}
			nlog.Infoln("created", cache.String())
		}
	}
	return nil
}

func (s *stress) destroyCaches() {
	for _, cache := range s.caches {
		if st := cache.Stats(); st.Live > 0 {
			nlog.Errorln(cache.Name()+": not destroying with", st.Live, "live object(s)")
			continue
		}
		cache.Destroy()
	}
}

func (s *stress) check(_ any, obj []byte) {
	if len(obj) >= stampSize && binary.LittleEndian.Uint64(obj) != uint64(len(obj))^0xdeadbeefcafe {
		s.corrupt.Inc()
	}
}

func (s *stress) reclaimLoop(ctx context.Context, ival time.Duration, level memsys.Level) error {
	ticker := time.NewTicker(ival)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.ctrl.Reclaim(ctx, level); err != nil && !errors.Is(err, context.Canceled) &&
				!errors.Is(err, context.DeadlineExceeded) {
				return err
			}
		}
	}
}

func (s *stress) statsLoop(ctx context.Context, ival time.Duration) error {
	ticker := time.NewTicker(ival)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, cache := range s.reg.Caches() {
				st := cache.Stats()
				nlog.Infoln(st.String())
			}
		}
	}
}

////////////
// worker //
////////////

func (w *worker) run(ctx context.Context) error {
	w.objs = make([]held, 0, w.s.held)
	defer w.freeAll()
	for i := 0; ; i++ {
		if i&0xff == 0 && ctx.Err() != nil {
			return nil
		}
		if len(w.objs) < w.s.held && (len(w.objs) == 0 || w.rnd.IntN(2) == 0) {
			w.alloc()
		} else {
			w.free(w.rnd.IntN(len(w.objs)))
		}
	}
}

func (w *worker) alloc() {
	cache := w.s.caches[w.rnd.IntN(len(w.s.caches))]
	obj, err := cache.Alloc(w.s.flags)
	if err != nil {
		if w.s.failures.Inc() == 1 {
			nlog.Warningln(cache.Name()+": alloc failed:", err)
		}
		return
	}
	if w.marks(obj) {
		obj[len(obj)-1] = byte(w.id)
	}
	w.objs = append(w.objs, held{c: cache, obj: obj})
	w.s.allocs.Inc()
}

func (w *worker) free(i int) {
	h := w.objs[i]
	if w.marks(h.obj) && h.obj[len(h.obj)-1] != byte(w.id) {
		w.s.corrupt.Inc()
	}
	h.c.Free(h.obj, 0)
	w.objs[i] = w.objs[len(w.objs)-1]
	w.objs[len(w.objs)-1] = held{}
	w.objs = w.objs[:len(w.objs)-1]
	w.s.frees.Inc()
}

// the last byte carries the owner's id unless it overlaps the stamp
func (w *worker) marks(obj []byte) bool { return !w.s.verify || len(obj) > stampSize }

func (w *worker) freeAll() {
	for len(w.objs) > 0 {
		w.free(len(w.objs) - 1)
	}
}

/////////////
// metrics //
/////////////

func serveMetrics(addr string, reg *memsys.Registry) (*http.Server, error) {
	promReg := prometheus.NewRegistry()
	if err := promReg.Register(reg); err != nil {
		return nil, err
	}
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			nlog.Errorln("metrics server:", err)
		}
	}()
	nlog.Infoln("serving metrics at", addr+"/metrics")
	return srv, nil
}
