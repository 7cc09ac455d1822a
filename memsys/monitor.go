// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"context"
	"fmt"
	"time"

	"github.com/NVIDIA/objcache/cmn/atomic"
	"github.com/NVIDIA/objcache/cmn/config"
	"github.com/NVIDIA/objcache/cmn/cos"
	"github.com/NVIDIA/objcache/cmn/nlog"
	"github.com/NVIDIA/objcache/hk"
	"github.com/NVIDIA/objcache/sys"
)

// memory _pressure_

const (
	highLowThreshold = 40
	swappingMax      = 4
	monitorName      = "memsys.monitor" + hk.NameSuffix
	minMonitorIval   = 2 * time.Second
)

// Monitor is the default pressure notifier: samples host memory,
// maps it to a Level, and runs the Controller.
type Monitor struct {
	ctrl    *Controller
	conf    config.MonitorConf
	minFree uint64 // must remain free at all times
	lowWM   uint64 // no pressure at or above
	swap    struct {
		size atomic.Uint64
		crit atomic.Int32
	}
	last atomic.Int32 // last observed Level
	errs atomic.Int64
}

func NewMonitor(ctrl *Controller, conf *config.MonitorConf) (*Monitor, error) {
	m := &Monitor{ctrl: ctrl, conf: *conf}
	if m.conf.Interval <= 0 {
		m.conf.Interval = cos.Duration(config.DefaultMonitorIval)
	}
	mem, err := sys.Mem()
	if err != nil {
		return nil, err
	}
	if err := m.Calibrate(&mem); err != nil {
		return nil, err
	}
	return m, nil
}

// Calibrate computes min-free and the low watermark given current memory stats.
func (m *Monitor) Calibrate(mem *sys.MemStat) error {
	m.minFree = uint64(m.conf.MinFree)
	if m.conf.MinPctTotal > 0 {
		x := mem.Total * uint64(m.conf.MinPctTotal) / 100
		m.minFree = minNonZero(m.minFree, x)
	}
	if m.conf.MinPctFree > 0 {
		x := mem.Free * uint64(m.conf.MinPctFree) / 100
		m.minFree = minNonZero(m.minFree, x)
	}
	if m.minFree == 0 {
		m.minFree = config.MinMinFree
	} else if m.minFree < config.MinMinFree {
		nlog.Warningln("configured min-free memory", cos.ToSizeIEC(int64(m.minFree), 2),
			"is below the absolute minimum", cos.ToSizeIEC(config.MinMinFree, 0))
	}
	m.lowWM = max(m.minFree*2, mem.Free/2) // hysteresis
	if m.lowWM <= m.minFree {
		return fmt.Errorf("memsys: invalid memory watermarks: min-free %s, low %s",
			cos.ToSizeIEC(int64(m.minFree), 2), cos.ToSizeIEC(int64(m.lowWM), 2))
	}
	m.swap.size.Store(mem.SwapUsed)
	return nil
}

func minNonZero(a, b uint64) uint64 {
	if a == 0 {
		return b
	}
	return min(a, b)
}

func (m *Monitor) MinFree() uint64 { return m.minFree }
func (m *Monitor) LowWM() uint64   { return m.lowWM }
func (m *Monitor) Last() Level     { return Level(m.last.Load()) }

// Level maps memory stats to a pressure level; tracks swapping
// (growth in used swap raises criticality, no growth lowers it).
func (m *Monitor) Level(mem *sys.MemStat) Level {
	var ncrit int32
	swapping, crit := mem.SwapUsed > m.swap.size.Load(), m.swap.crit.Load()
	if swapping {
		ncrit = min(swappingMax, crit+1)
	} else {
		ncrit = max(0, crit-1)
	}
	m.swap.crit.Store(ncrit)
	m.swap.size.Store(mem.SwapUsed)

	switch {
	case ncrit > 1 || mem.ActualFree <= m.minFree:
		return LevelCritical
	case ncrit > 0 || mem.Free <= m.minFree:
		return LevelWarning
	case mem.Free >= m.lowWM:
		return LevelNone
	}
	x := (mem.Free - m.minFree) * 100 / (m.lowWM - m.minFree)
	if x < highLowThreshold {
		return LevelWarning
	}
	return LevelNote
}

// Check samples host memory once and reclaims if need be;
// returns the next interval (shorter under pressure).
func (m *Monitor) Check(ctx context.Context) time.Duration {
	ival := m.conf.Interval.D()
	mem, err := sys.Mem()
	if err != nil {
		if m.errs.Inc() == 1 {
			nlog.Errorln("memsys monitor:", err)
		}
		return ival
	}
	level := m.Level(&mem)
	if prev := Level(m.last.Swap(int32(level))); prev != level {
		nlog.Infoln("memory pressure", prev.String(), "=>", level.String()+",", mem.String())
	}
	if level == LevelNone {
		return ival
	}
	_, _ = m.ctrl.Reclaim(ctx, level)
	return max(ival/4, minMonitorIval)
}

// Reg starts periodic monitoring with the given housekeeper.
func (m *Monitor) Reg(h *hk.Housekeeper) {
	h.Reg(monitorName, m.housekeep, m.conf.Interval.D())
}

func (*Monitor) Unreg(h *hk.Housekeeper) { h.Unreg(monitorName) }

func (m *Monitor) housekeep(int64) time.Duration { return m.Check(context.Background()) }
