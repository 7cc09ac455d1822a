// Package cos provides common low-level types and utilities for all objcache packages.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import "github.com/NVIDIA/objcache/cmn/debug"

func DivCeil(a, b int64) int64 {
	d, r := a/b, a%b
	if r > 0 {
		return d + 1
	}
	return d
}

// returns smallest number divisible by `align` that is greater or equal `val`
func CeilAlignI64(val, align int64) int64 {
	mod := val % align
	if mod != 0 {
		val += align - mod
	}
	return val
}

func IsPow2(n int64) bool { return n > 0 && n&(n-1) == 0 }

// smallest power of two >= n
func CeilPow2(n int64) int64 {
	debug.Assert(n > 0)
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}

func RatioPct(high, low, curr int64) int64 {
	debug.Assert(high > low && low >= 0)
	if curr <= low {
		return 0
	}
	if curr >= high {
		return 100
	}
	return (curr - low) * 100 / (high - low)
}
