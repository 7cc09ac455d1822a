// Package main is objstress: a load generator and inspection tool for object caches
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"os"
	"strings"
	"time"

	"github.com/NVIDIA/objcache/cmn/config"
	"github.com/NVIDIA/objcache/cmn/cos"
	"github.com/NVIDIA/objcache/cmn/nlog"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

const (
	fmtText    = "text"
	fmtJSON    = "json"
	fmtYAML    = "yaml"
	fmtMsgpack = "msgpack"

	providerHeap = "heap"
	providerMmap = "mmap"
)

// global
var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "configuration file (.json, .yaml, or .yml); environment overrides apply either way",
	}
	verbosityFlag = cli.IntFlag{Name: "v", Usage: "log verbosity (4: allocator internals)"}
	logDirFlag    = cli.StringFlag{Name: "log-dir", Usage: "write logs to files in this directory instead of stderr"}
)

// commands
var (
	cachesFlag  = cli.IntFlag{Name: "caches", Usage: "number of caches per object size", Value: 1}
	sizeFlag    = cli.StringFlag{Name: "size", Usage: "comma-separated object sizes, e.g.: 64,1KiB,16KiB", Value: "64,512,4KiB"}
	alignFlag   = cli.Int64Flag{Name: "align", Usage: "object alignment (power of two)", Value: 8}
	numObjsFlag = cli.IntFlag{Name: "objects", Usage: "objects held per worker (reclaim: per cache)", Value: 256}
	workersFlag = cli.IntFlag{Name: "workers", Usage: "number of concurrent workers (0: number of CPUs)"}
	formatFlag  = cli.StringFlag{
		Name:  "format",
		Usage: "output format: " + strings.Join([]string{fmtText, fmtJSON, fmtYAML, fmtMsgpack}, ", "),
		Value: fmtText,
	}
	outputFlag   = cli.StringFlag{Name: "output", Usage: "write final stats to file (default: stdout)"}
	durationFlag = cli.DurationFlag{Name: "duration", Usage: "how long to run", Value: 10 * time.Second}
	providerFlag = cli.StringFlag{
		Name:  "provider",
		Usage: "backing memory: " + providerHeap + " (Go heap) or " + providerMmap + " (anonymous mappings)",
		Value: providerHeap,
	}
	limitFlag     = cli.StringFlag{Name: "limit", Usage: "cap total provider memory, e.g.: 512MiB (default: unlimited)"}
	budgetFlag    = cli.StringFlag{Name: "budget", Usage: "per-cache max bytes, e.g.: 64MiB (default: unlimited)"}
	reserveFlag   = cli.IntFlag{Name: "reserve", Usage: "per-cache minimum reserve (objects)"}
	magazineFlag  = cli.IntFlag{Name: "magazine", Usage: "magazine capacity (0: configured default)"}
	noDepotFlag   = cli.BoolFlag{Name: "no-depot", Usage: "bypass magazines and depot (slab pool only)"}
	largeSlabFlag = cli.BoolFlag{Name: "large-slab", Usage: "larger slabs (fewer provider calls)"}
	dontWaitFlag  = cli.BoolFlag{Name: "dont-wait", Usage: "allocate with DontWaitForMemory and count failures"}
	verifyFlag    = cli.BoolFlag{Name: "verify", Usage: "stamp objects upon construction and verify them upon free"}
	reclaimFlag   = cli.DurationFlag{Name: "reclaim-every", Usage: "trigger reclaim periodically (0: never)"}
	levelFlag     = cli.StringFlag{Name: "level", Usage: "reclaim level for --reclaim-every", Value: "warning"}
	monitorFlag   = cli.BoolFlag{Name: "monitor", Usage: "enable the host memory-pressure monitor"}
	metricsFlag   = cli.StringFlag{Name: "metrics", Usage: "serve Prometheus metrics at this address, e.g.: :9090"}
	statsIvalFlag = cli.DurationFlag{Name: "stats-every", Usage: "log per-cache stats periodically (0: never)"}
)

var runFlags = []cli.Flag{
	cachesFlag, sizeFlag, alignFlag, numObjsFlag, workersFlag, durationFlag, providerFlag, limitFlag,
	budgetFlag, reserveFlag, magazineFlag, noDepotFlag, largeSlabFlag, dontWaitFlag, verifyFlag,
	reclaimFlag, levelFlag, monitorFlag, metricsFlag, statsIvalFlag, formatFlag, outputFlag,
}

func loadConfig(c *cli.Context) (cfg *config.Config, err error) {
	if path := c.GlobalString(configFlag.Name); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg = config.Default()
		if err = cfg.Env(); err == nil {
			err = cfg.Validate()
		}
	}
	if err != nil {
		return nil, err
	}
	if cfg.Log.Level > 0 && !c.GlobalIsSet(verbosityFlag.Name) {
		nlog.SetVerbosity(cfg.Log.Level)
	}
	if cfg.Log.ToFiles && cfg.Log.Dir != "" && !c.GlobalIsSet(logDirFlag.Name) {
		if err := os.MkdirAll(cfg.Log.Dir, 0o755); err != nil {
			return nil, err
		}
		nlog.SetLogDir(cfg.Log.Dir)
		nlog.SetToStderr(false)
	}
	config.Put(cfg)
	return cfg, nil
}

func parseSizes(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	sizes := make([]int64, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		size, err := cos.ParseSize(part)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid object size %q", part)
		}
		if size <= 0 {
			return nil, errors.Errorf("invalid object size %q", part)
		}
		sizes = append(sizes, size)
	}
	if len(sizes) == 0 {
		return nil, errors.Errorf("missing object sizes (see --%s)", sizeFlag.Name)
	}
	return sizes, nil
}

// empty string is zero
func parseSizeFlag(c *cli.Context, flag cli.StringFlag) (int64, error) {
	size, err := cos.ParseSize(c.String(flag.Name))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid --%s", flag.Name)
	}
	return size, nil
}
