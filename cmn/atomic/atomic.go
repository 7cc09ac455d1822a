// Package atomic provides simple wrappers around numerics to enforce atomic
// access.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package atomic

import (
	"sync/atomic"
)

// Structure which will detect copies of atomic
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

type (
	Bool struct {
		_ noCopy
		v atomic.Bool
	}
	Int32 struct {
		_ noCopy
		v atomic.Int32
	}
	Int64 struct {
		_ noCopy
		v atomic.Int64
	}
	Uint32 struct {
		_ noCopy
		v atomic.Uint32
	}
	Uint64 struct {
		_ noCopy
		v atomic.Uint64
	}
)

//
// Bool
//

func NewBool(b bool) *Bool {
	v := &Bool{}
	v.v.Store(b)
	return v
}

func (b *Bool) Load() bool             { return b.v.Load() }
func (b *Bool) Store(n bool)           { b.v.Store(n) }
func (b *Bool) CAS(old, n bool) bool   { return b.v.CompareAndSwap(old, n) }
func (b *Bool) Swap(n bool) (old bool) { return b.v.Swap(n) }

//
// Int32
//

func (i *Int32) Load() int32           { return i.v.Load() }
func (i *Int32) Store(n int32)         { i.v.Store(n) }
func (i *Int32) Add(n int32) int32     { return i.v.Add(n) }
func (i *Int32) Inc() int32            { return i.v.Add(1) }
func (i *Int32) Dec() int32            { return i.v.Add(-1) }
func (i *Int32) CAS(old, n int32) bool { return i.v.CompareAndSwap(old, n) }
func (i *Int32) Swap(n int32) int32    { return i.v.Swap(n) }

//
// Int64
//

func NewInt64(n int64) *Int64 {
	v := &Int64{}
	v.v.Store(n)
	return v
}

func (i *Int64) Load() int64              { return i.v.Load() }
func (i *Int64) Store(n int64)            { i.v.Store(n) }
func (i *Int64) Add(n int64) int64        { return i.v.Add(n) }
func (i *Int64) Sub(n int64) int64        { return i.v.Add(-n) }
func (i *Int64) Inc() int64               { return i.v.Add(1) }
func (i *Int64) Dec() int64               { return i.v.Add(-1) }
func (i *Int64) CAS(old, n int64) bool    { return i.v.CompareAndSwap(old, n) }
func (i *Int64) Swap(n int64) (old int64) { return i.v.Swap(n) }

//
// Uint32
//

func (u *Uint32) Load() uint32           { return u.v.Load() }
func (u *Uint32) Store(n uint32)         { u.v.Store(n) }
func (u *Uint32) Add(n uint32) uint32    { return u.v.Add(n) }
func (u *Uint32) CAS(old, n uint32) bool { return u.v.CompareAndSwap(old, n) }

//
// Uint64
//

func (u *Uint64) Load() uint64               { return u.v.Load() }
func (u *Uint64) Store(n uint64)             { u.v.Store(n) }
func (u *Uint64) Add(n uint64) uint64        { return u.v.Add(n) }
func (u *Uint64) Inc() uint64                { return u.v.Add(1) }
func (u *Uint64) CAS(old, n uint64) bool     { return u.v.CompareAndSwap(old, n) }
func (u *Uint64) Swap(n uint64) (old uint64) { return u.v.Swap(n) }
