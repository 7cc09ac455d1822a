//go:build !linux && !darwin

// Package main is objstress: a load generator and inspection tool for object caches
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"github.com/NVIDIA/objcache/memsys"
	"github.com/NVIDIA/objcache/sys"
	"github.com/pkg/errors"
)

func mmapProvider() (memsys.Provider, func(), error) {
	return nil, nil, errors.Wrap(sys.ErrNotSupported, "mmap provider")
}
