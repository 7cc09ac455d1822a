//go:build !linux

// Package sys provides methods to read system information
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package sys

func (*MemStat) Get() error { return ErrNotSupported }
