// Package mono provides low-level monotonic time
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

// process-wide reference point; time.Since reads the monotonic clock
var started = time.Now()

func NanoTime() int64 { return int64(time.Since(started)) }

func Since(started int64) time.Duration { return time.Duration(NanoTime() - started) }
