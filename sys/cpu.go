// Package sys provides methods to read system information
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"fmt"
	"os"
	"runtime"
)

type LoadAvg struct {
	One, Five, Fifteen float64
}

var (
	contCPUs      int
	containerized bool
)

func init() {
	contCPUs = runtime.NumCPU()
	if c, ok, err := containerNumCPU(); err != nil {
		fmt.Fprintln(os.Stderr, err) // (cannot nlog yet)
	} else if ok {
		contCPUs, containerized = c, true
	}
}

func Containerized() bool { return containerized }

// number of CPUs available to this process (container limits included)
func NumCPU() int { return contCPUs }

// return max(1 minute, 5 minute) load average
func MaxLoad() (load float64) {
	avg, err := LoadAverage()
	if err != nil {
		return 100
	}
	return max(avg.One, avg.Five)
}
