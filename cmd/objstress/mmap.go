//go:build linux || darwin

// Package main is objstress: a load generator and inspection tool for object caches
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package main

import "github.com/NVIDIA/objcache/memsys"

const mmapReserve = 64 // recycled chunks per slab size

func mmapProvider() (memsys.Provider, func(), error) {
	p := memsys.NewMmapProvider(mmapReserve)
	return p, p.Close, nil
}
