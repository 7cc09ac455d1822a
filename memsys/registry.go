// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"sort"
	"sync"
	"time"

	"github.com/NVIDIA/objcache/cmn/config"
	"github.com/NVIDIA/objcache/hk"
	"github.com/NVIDIA/objcache/pcpu"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all caches subject to reclaim. It is created once, passed
// explicitly to the reclaim Controller, and exports per-cache metrics.
type Registry struct {
	cfg      *config.Config
	provider Provider
	hk       *hk.Housekeeper // optional: periodic depot tuning
	pinner   pcpu.Pinner     // optional: shared by all caches
	caches   map[string]*Cache
	mu       sync.RWMutex
}

const metricsNamespace = "objcache"

var (
	descUsage = prometheus.NewDesc(metricsNamespace+"_cache_usage_bytes",
		"slab-backed memory", []string{"cache", "id"}, nil)
	descLive = prometheus.NewDesc(metricsNamespace+"_cache_live_objects",
		"allocated and not yet freed objects", []string{"cache", "id"}, nil)
	descSlabs = prometheus.NewDesc(metricsNamespace+"_cache_slabs",
		"number of slabs by state", []string{"cache", "id", "state"}, nil)
	descMagazines = prometheus.NewDesc(metricsNamespace+"_cache_magazines",
		"number of magazines in existence", []string{"cache", "id"}, nil)
	descMagCap = prometheus.NewDesc(metricsNamespace+"_cache_magazine_capacity",
		"current capacity of new magazines", []string{"cache", "id"}, nil)
	descAllocs = prometheus.NewDesc(metricsNamespace+"_cache_allocs_total",
		"successful allocations", []string{"cache", "id"}, nil)
	descFrees = prometheus.NewDesc(metricsNamespace+"_cache_frees_total",
		"frees", []string{"cache", "id"}, nil)
	descContention = prometheus.NewDesc(metricsNamespace+"_cache_depot_contention_total",
		"depot lock contention events", []string{"cache", "id"}, nil)
)

// interface guard
var _ prometheus.Collector = (*Registry)(nil)

// NewRegistry creates a registry; nil provider selects the Go-heap provider;
// nil housekeeper disables periodic depot tuning.
func NewRegistry(cfg *config.Config, provider Provider, h *hk.Housekeeper) *Registry {
	if cfg == nil {
		cfg = config.GCO()
	}
	if provider == nil {
		provider = defaultProvider
		if pageSize := int64(cfg.Memsys.PageSize); pageSize != defaultProvider.PageSize {
			provider = NewHeapProvider(pageSize)
		}
	}
	return &Registry{cfg: cfg, provider: provider, hk: h, caches: make(map[string]*Cache, 16)}
}

// SetPinner makes all subsequently created caches share the given pinner.
func (r *Registry) SetPinner(p pcpu.Pinner) { r.pinner = p }

func (r *Registry) Config() *config.Config { return r.cfg }

// Create creates and registers a cache with default tuning.
func (r *Registry) Create(name string, objectSize, alignment int64, cookie any, ctor Ctor, dtor Dtor) (*Cache, error) {
	return r.CreateExt(Ext{
		Name:       name,
		ObjectSize: objectSize,
		Alignment:  alignment,
		Cookie:     cookie,
		Ctor:       ctor,
		Dtor:       dtor,
	})
}

// CreateExt creates and registers a cache with explicit tuning.
func (r *Registry) CreateExt(ext Ext) (*Cache, error) {
	ext.Flags &^= cacheBootstrap
	c, err := newCache(&ext, r.cfg, r, r.pinner)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.caches[c.id] = c
	r.mu.Unlock()

	if r.hk != nil && c.slots != nil && c.tuneIval > 0 {
		r.hk.Reg(c.hkName, c.housekeep, c.tuneIval)
	}
	return c, nil
}

func (r *Registry) unregister(c *Cache) {
	r.mu.Lock()
	delete(r.caches, c.id)
	r.mu.Unlock()
	if r.hk != nil && c.slots != nil && c.tuneIval > 0 {
		r.hk.UnregIf(c.hkName, c.housekeep)
	}
}

// Caches returns registered caches sorted by name.
func (r *Registry) Caches() []*Cache {
	r.mu.RLock()
	caches := make([]*Cache, 0, len(r.caches))
	for _, c := range r.caches {
		caches = append(caches, c)
	}
	r.mu.RUnlock()
	sort.Slice(caches, func(i, j int) bool {
		if caches[i].name != caches[j].name {
			return caches[i].name < caches[j].name
		}
		return caches[i].id < caches[j].id
	})
	return caches
}

func (r *Registry) Get(id string) *Cache {
	r.mu.RLock()
	c := r.caches[id]
	r.mu.RUnlock()
	return c
}

func (r *Registry) Len() int {
	r.mu.RLock()
	l := len(r.caches)
	r.mu.RUnlock()
	return l
}

// Usage returns slab-backed bytes across all registered caches.
func (r *Registry) Usage() (usage int64) {
	for _, c := range r.Caches() {
		usage += c.Usage()
	}
	return
}

func (r *Registry) Snapshot() *Snapshot {
	caches := r.Caches()
	snap := &Snapshot{Time: time.Now().UnixNano(), Caches: make([]Stats, 0, len(caches))}
	for _, c := range caches {
		st := c.Stats()
		snap.Usage += st.Usage
		snap.Caches = append(snap.Caches, st)
	}
	return snap
}

//
// prometheus.Collector
//

func (*Registry) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range []*prometheus.Desc{descUsage, descLive, descSlabs, descMagazines, descMagCap,
		descAllocs, descFrees, descContention} {
		ch <- desc
	}
}

func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for _, c := range r.Caches() {
		st := c.Stats()
		name, id := st.Name, st.ID
		ch <- prometheus.MustNewConstMetric(descUsage, prometheus.GaugeValue, float64(st.Usage), name, id)
		ch <- prometheus.MustNewConstMetric(descLive, prometheus.GaugeValue, float64(st.Live), name, id)
		ch <- prometheus.MustNewConstMetric(descSlabs, prometheus.GaugeValue, float64(st.EmptySlabs), name, id, slabEmpty.String())
		ch <- prometheus.MustNewConstMetric(descSlabs, prometheus.GaugeValue, float64(st.PartialSlabs), name, id, slabPartial.String())
		ch <- prometheus.MustNewConstMetric(descSlabs, prometheus.GaugeValue, float64(st.FullSlabs), name, id, slabFull.String())
		ch <- prometheus.MustNewConstMetric(descMagazines, prometheus.GaugeValue, float64(st.Magazines), name, id)
		ch <- prometheus.MustNewConstMetric(descMagCap, prometheus.GaugeValue, float64(st.MagazineCapacity), name, id)
		ch <- prometheus.MustNewConstMetric(descAllocs, prometheus.CounterValue, float64(st.Allocs), name, id)
		ch <- prometheus.MustNewConstMetric(descFrees, prometheus.CounterValue, float64(st.Frees), name, id)
		ch <- prometheus.MustNewConstMetric(descContention, prometheus.CounterValue, float64(st.Contention), name, id)
	}
}
