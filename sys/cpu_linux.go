// Package sys provides methods to read system information
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const cgroupCPUMax = "/sys/fs/cgroup/cpu.max" // cgroup v2: "<quota> <period>" or "max <period>"

// Returns an approximate (rounded up) number of CPUs allocated for the container;
// ok == false when not limited
func containerNumCPU() (n int, ok bool, err error) {
	b, err := os.ReadFile(cgroupCPUMax)
	if err != nil {
		return 0, false, nil // not cgroup v2 or not containerized
	}
	fields := strings.Fields(string(b))
	if len(fields) != 2 || fields[0] == "max" {
		return 0, false, nil
	}
	quota, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, false, err
	}
	period, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, false, err
	}
	if period == 0 {
		return 0, false, errors.New("failed to read container CPU info")
	}
	approx := (quota + period - 1) / period
	return int(max(approx, 1)), true, nil
}

// LoadAverage returns the system load average
func LoadAverage() (avg LoadAvg, err error) {
	var si unix.Sysinfo_t
	if err = unix.Sysinfo(&si); err != nil {
		return
	}
	const scale = float64(1 << unix.SI_LOAD_SHIFT)
	avg.One = float64(si.Loads[0]) / scale
	avg.Five = float64(si.Loads[1]) / scale
	avg.Fifteen = float64(si.Loads[2]) / scale
	return
}
