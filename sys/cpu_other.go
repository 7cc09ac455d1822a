//go:build !linux

// Package sys provides methods to read system information
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package sys

func containerNumCPU() (int, bool, error) { return 0, false, nil }

func LoadAverage() (LoadAvg, error) { return LoadAvg{}, ErrNotSupported }
