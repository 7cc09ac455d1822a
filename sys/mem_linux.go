// Package sys provides methods to read system information
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const procMeminfo = "/proc/meminfo"

func (mem *MemStat) Get() error {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return err
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	mem.Total = uint64(si.Totalram) * unit
	mem.Free = uint64(si.Freeram) * unit
	mem.Used = mem.Total - mem.Free
	mem.SwapTotal = uint64(si.Totalswap) * unit
	mem.SwapFree = uint64(si.Freeswap) * unit
	mem.SwapUsed = mem.SwapTotal - mem.SwapFree

	// MemAvailable, if present, accounts for reclaimable page cache
	mem.ActualFree = mem.Free + uint64(si.Bufferram)*unit
	if avail, ok := memAvailable(); ok {
		mem.ActualFree = avail
	}
	if mem.ActualFree > mem.Total {
		mem.ActualFree = mem.Total
	}
	mem.ActualUsed = mem.Total - mem.ActualFree
	return nil
}

func memAvailable() (uint64, bool) {
	f, err := os.Open(procMeminfo)
	if err != nil {
		return 0, false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
