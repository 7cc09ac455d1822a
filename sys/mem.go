// Package sys provides methods to read system information
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"errors"
	"fmt"

	"github.com/NVIDIA/objcache/cmn/cos"
)

var ErrNotSupported = errors.New("sys: not supported on this platform")

// host memory, bytes
type MemStat struct {
	Total      uint64
	Used       uint64
	Free       uint64
	ActualFree uint64 // free + reclaimable (page cache, buffers)
	ActualUsed uint64
	SwapTotal  uint64
	SwapFree   uint64
	SwapUsed   uint64
}

func Mem() (mem MemStat, err error) {
	err = mem.Get()
	return
}

func (mem *MemStat) String() string {
	var (
		used  = cos.ToSizeIEC(int64(mem.Used), 0)
		free  = cos.ToSizeIEC(int64(mem.Free), 0)
		avail = cos.ToSizeIEC(int64(mem.ActualFree), 0)
	)
	if mem.SwapUsed == 0 {
		return fmt.Sprintf("used %s, free %s, avail %s", used, free, avail)
	}
	return fmt.Sprintf("used %s, free %s, avail %s, swap %s", used, free, avail,
		cos.ToSizeIEC(int64(mem.SwapUsed), 0))
}
