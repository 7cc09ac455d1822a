// Package config provides objcache configuration: defaults, loading
// from JSON or YAML, environment overrides, and validation.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/NVIDIA/objcache/cmn/cos"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// environment overrides
const (
	EnvMinFree     = "OBJCACHE_MINMEM_FREE"
	EnvMinPctTotal = "OBJCACHE_MINMEM_PCT_TOTAL"
	EnvMinPctFree  = "OBJCACHE_MINMEM_PCT_FREE"
)

type (
	Config struct {
		Memsys  MemsysConf  `json:"memsys" yaml:"memsys"`
		Depot   DepotTuning `json:"depot" yaml:"depot"`
		Reclaim ReclaimConf `json:"reclaim" yaml:"reclaim"`
		Monitor MonitorConf `json:"monitor" yaml:"monitor"`
		Log     LogConf     `json:"log" yaml:"log"`
	}

	// slab geometry and default cache tuning
	MemsysConf struct {
		// page size: slab alignment and granularity (0: use the OS page size)
		PageSize cos.SizeIEC `json:"page_size" yaml:"page_size"`

		// objects smaller than this use out-of-band free-slot indexing;
		// larger ones link free slots through the object memory itself
		SmallObjectMax cos.SizeIEC `json:"small_object_max" yaml:"small_object_max"`

		// target number of objects per slab (regular and LargeSlab caches)
		ObjectsPerSlab      int `json:"objects_per_slab" yaml:"objects_per_slab"`
		LargeObjectsPerSlab int `json:"large_objects_per_slab" yaml:"large_objects_per_slab"`

		// slab size caps
		MaxSlabSize      cos.SizeIEC `json:"max_slab_size" yaml:"max_slab_size"`
		MaxLargeSlabSize cos.SizeIEC `json:"max_large_slab_size" yaml:"max_large_slab_size"`

		// defaults for caches created without explicit tuning
		MagazineCapacity int `json:"magazine_capacity" yaml:"magazine_capacity"`
		MaxMagazines     int `json:"max_magazines" yaml:"max_magazines"` // 0: unlimited
	}

	// Depot grow/shrink heuristic. Contention is the number of times
	// a caller failed to acquire the depot lock on the first try.
	DepotTuning struct {
		// depot keeps at most MaxFull full magazines; beyond that, putFull
		// returns the rounds to the slab pool
		MaxFull int `json:"max_full" yaml:"max_full"`

		// grow magazine capacity by GrowStep when contention observed since
		// the previous tune() reaches ContentionThreshold
		ContentionThreshold int64 `json:"contention_threshold" yaml:"contention_threshold"`
		GrowStep            int   `json:"grow_step" yaml:"grow_step"`
		MaxMagazineCapacity int   `json:"max_magazine_capacity" yaml:"max_magazine_capacity"`

		// housekeeping interval (0: tune only on demand)
		TuneIval cos.Duration `json:"tune_interval" yaml:"tune_interval"`
	}

	ReclaimConf struct {
		// number of caches reclaimed in parallel
		Concurrency int `json:"concurrency" yaml:"concurrency"`
	}

	// host memory-pressure monitor
	MonitorConf struct {
		Interval cos.Duration `json:"interval" yaml:"interval"`

		// must remain free at all times; the smallest of the configured
		// (non-zero) values wins
		MinFree     cos.SizeIEC `json:"min_free" yaml:"min_free"`
		MinPctTotal int         `json:"min_pct_total" yaml:"min_pct_total"`
		MinPctFree  int         `json:"min_pct_free" yaml:"min_pct_free"`
		Enabled     bool        `json:"enabled" yaml:"enabled"`
	}

	LogConf struct {
		Dir     string `json:"dir" yaml:"dir"`
		Level   int    `json:"level" yaml:"level"`
		ToFiles bool   `json:"to_files" yaml:"to_files"`
	}
)

const (
	DefaultSmallObjectMax   = 256
	DefaultObjectsPerSlab   = 8
	DefaultLargeObjsPerSlab = 64
	DefaultMaxSlabSize      = 128 * cos.KiB
	DefaultMaxLargeSlabSize = 2 * cos.MiB
	DefaultMagazineCapacity = 16
	DefaultMaxMagazines     = 0

	DefaultMaxFull             = 16
	DefaultContentionThreshold = 64
	DefaultGrowStep            = 4
	DefaultMaxMagazineCapacity = 128
	DefaultTuneIval            = 10 * time.Second

	DefaultMonitorIval = 20 * time.Second
	DefaultMinFree     = 256 * cos.MiB
	MinMinFree         = 32 * cos.MiB // absolute minimum
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Default returns a validated configuration with all defaults in place.
func Default() *Config {
	return &Config{
		Memsys: MemsysConf{
			PageSize:            cos.SizeIEC(os.Getpagesize()),
			SmallObjectMax:      DefaultSmallObjectMax,
			ObjectsPerSlab:      DefaultObjectsPerSlab,
			LargeObjectsPerSlab: DefaultLargeObjsPerSlab,
			MaxSlabSize:         DefaultMaxSlabSize,
			MaxLargeSlabSize:    DefaultMaxLargeSlabSize,
			MagazineCapacity:    DefaultMagazineCapacity,
			MaxMagazines:        DefaultMaxMagazines,
		},
		Depot: DepotTuning{
			MaxFull:             DefaultMaxFull,
			ContentionThreshold: DefaultContentionThreshold,
			GrowStep:            DefaultGrowStep,
			MaxMagazineCapacity: DefaultMaxMagazineCapacity,
			TuneIval:            cos.Duration(DefaultTuneIval),
		},
		Reclaim: ReclaimConf{Concurrency: 4},
		Monitor: MonitorConf{
			Interval: cos.Duration(DefaultMonitorIval),
			MinFree:  DefaultMinFree,
		},
	}
}

// Load reads JSON or YAML (by extension: .yaml, .yml) on top of defaults,
// applies environment overrides, and validates.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: failed to read")
	}
	config := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, config)
	default:
		err = json.Unmarshal(b, config)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "config: failed to parse %q", path)
	}
	if err := config.Env(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Env applies environment overrides (monitor thresholds).
func (c *Config) Env() error {
	if a := os.Getenv(EnvMinFree); a != "" {
		minfree, err := cos.ParseSize(a)
		if err != nil {
			return errors.Errorf("config: cannot parse %s %q", EnvMinFree, a)
		}
		c.Monitor.MinFree = cos.SizeIEC(minfree)
	}
	if a := os.Getenv(EnvMinPctTotal); a != "" {
		pct, err := envPct(EnvMinPctTotal, a)
		if err != nil {
			return err
		}
		c.Monitor.MinPctTotal = pct
	}
	if a := os.Getenv(EnvMinPctFree); a != "" {
		pct, err := envPct(EnvMinPctFree, a)
		if err != nil {
			return err
		}
		c.Monitor.MinPctFree = pct
	}
	return nil
}

func envPct(name, a string) (int, error) {
	pct, err := strconv.Atoi(a)
	if err != nil {
		return 0, errors.Errorf("config: cannot parse %s %q", name, a)
	}
	if pct < 0 || pct > 100 {
		return 0, errors.Errorf("config: invalid %s %q", name, a)
	}
	return pct, nil
}

func (c *Config) Validate() error {
	if err := c.Memsys.Validate(); err != nil {
		return err
	}
	if err := c.Depot.Validate(); err != nil {
		return err
	}
	if c.Reclaim.Concurrency <= 0 {
		return errors.Errorf("config: invalid reclaim.concurrency %d", c.Reclaim.Concurrency)
	}
	return c.Monitor.Validate()
}

func (c *MemsysConf) Validate() error {
	if c.PageSize == 0 {
		c.PageSize = cos.SizeIEC(os.Getpagesize())
	}
	if !cos.IsPow2(int64(c.PageSize)) {
		return errors.Errorf("config: page_size %d must be a power of two", c.PageSize)
	}
	if c.ObjectsPerSlab <= 0 || c.LargeObjectsPerSlab <= 0 {
		return errors.Errorf("config: invalid objects-per-slab (%d, %d)", c.ObjectsPerSlab, c.LargeObjectsPerSlab)
	}
	if c.MaxSlabSize < c.PageSize || c.MaxLargeSlabSize < c.MaxSlabSize {
		return errors.Errorf("config: invalid slab size caps (page %s, max %s, large %s)",
			c.PageSize, c.MaxSlabSize, c.MaxLargeSlabSize)
	}
	if c.SmallObjectMax < 0 || c.SmallObjectMax > c.PageSize {
		return errors.Errorf("config: invalid small_object_max %s", c.SmallObjectMax)
	}
	if c.MagazineCapacity <= 0 || c.MaxMagazines < 0 {
		return errors.Errorf("config: invalid magazine tuning (capacity %d, max %d)", c.MagazineCapacity, c.MaxMagazines)
	}
	return nil
}

func (c *DepotTuning) Validate() error {
	if c.MaxFull < 0 || c.ContentionThreshold < 0 || c.GrowStep < 0 {
		return errors.Errorf("config: invalid depot tuning %+v", *c)
	}
	if c.GrowStep > 0 && c.MaxMagazineCapacity <= 0 {
		return errors.Errorf("config: depot grow_step %d requires positive max_magazine_capacity", c.GrowStep)
	}
	return nil
}

func (c *MonitorConf) Validate() error {
	if c.MinPctTotal < 0 || c.MinPctTotal > 100 || c.MinPctFree < 0 || c.MinPctFree > 100 {
		return errors.Errorf("config: invalid monitor percentages (%d, %d)", c.MinPctTotal, c.MinPctFree)
	}
	if c.Enabled && c.Interval <= 0 {
		return errors.Errorf("config: invalid monitor interval %v", c.Interval)
	}
	return nil
}

// global config (read-mostly)
var gco atomic.Pointer[Config]

func init() { gco.Store(Default()) }

func GCO() *Config  { return gco.Load() }
func Put(c *Config) { gco.Store(c) }

func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
