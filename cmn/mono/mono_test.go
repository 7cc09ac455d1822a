// Package mono provides low-level monotonic time
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package mono_test

import (
	"testing"
	"time"

	"github.com/NVIDIA/objcache/cmn/mono"
	"github.com/NVIDIA/objcache/tools/tassert"
)

func TestNanoTimeMonotonic(t *testing.T) {
	prev := mono.NanoTime()
	for range 1000 {
		now := mono.NanoTime()
		tassert.Fatalf(t, now >= prev, "went backwards: %d < %d", now, prev)
		prev = now
	}
	started := mono.NanoTime()
	time.Sleep(10 * time.Millisecond)
	tassert.Errorf(t, mono.Since(started) >= 10*time.Millisecond, "elapsed %v", mono.Since(started))
}
