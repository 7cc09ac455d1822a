//go:build !deadbeef

// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

func deadbeef([]byte) {}
