// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"github.com/tinylib/msgp/msgp"
)

// msgpack (map-encoded) codec for stats snapshots.
// Hand-maintained, not generated: Stats encodes its counters via the ints()
// table below, so a new counter needs a field, an ints() entry and a key.

// interface guard
var (
	_ msgp.Marshaler   = (*Stats)(nil)
	_ msgp.Unmarshaler = (*Stats)(nil)
	_ msgp.Marshaler   = (*Snapshot)(nil)
	_ msgp.Unmarshaler = (*Snapshot)(nil)
)

const numStatsInts = 25

func (st *Stats) ints() [numStatsInts]*int64 {
	return [numStatsInts]*int64{
		&st.ObjectSize, &st.Stride, &st.SlabSize, &st.ObjsPerSlab, &st.Usage,
		&st.Slabs, &st.EmptySlabs, &st.PartialSlabs, &st.FullSlabs, &st.Capacity,
		&st.FreeInPool, &st.Live, &st.MinReserve, &st.Magazines, &st.FullMagazines,
		&st.EmptyMagazines, &st.MagazineCapacity, &st.Allocs, &st.Frees, &st.MagazineOps,
		&st.PoolCalls, &st.Grows, &st.Releases, &st.Contention, &st.Steals,
	}
}

var statsKeys = [numStatsInts]string{
	"object_size", "stride", "slab_size", "objs_per_slab", "usage",
	"slabs", "empty_slabs", "partial_slabs", "full_slabs", "capacity",
	"free_in_pool", "live", "min_reserve", "magazines", "full_magazines",
	"empty_magazines", "magazine_capacity", "allocs", "frees", "magazine_ops",
	"pool_calls", "grows", "releases", "contention", "steals",
}

func (st *Stats) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, st.Msgsize())
	o = msgp.AppendMapHeader(o, 3+numStatsInts)
	o = msgp.AppendString(o, "name")
	o = msgp.AppendString(o, st.Name)
	o = msgp.AppendString(o, "id")
	o = msgp.AppendString(o, st.ID)
	o = msgp.AppendString(o, "layout")
	o = msgp.AppendString(o, st.Layout)
	for i, v := range st.ints() {
		o = msgp.AppendString(o, statsKeys[i])
		o = msgp.AppendInt64(o, *v)
	}
	return o, nil
}

func (st *Stats) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var (
		field []byte
		sz    uint32
		ints  = st.ints()
	)
	sz, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err)
	}
outer:
	for ; sz > 0; sz-- {
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err)
		}
		key := msgp.UnsafeString(field)
		switch key {
		case "name":
			st.Name, bts, err = msgp.ReadStringBytes(bts)
		case "id":
			st.ID, bts, err = msgp.ReadStringBytes(bts)
		case "layout":
			st.Layout, bts, err = msgp.ReadStringBytes(bts)
		default:
			for i, k := range statsKeys {
				if k == key {
					*ints[i], bts, err = msgp.ReadInt64Bytes(bts)
					if err != nil {
						return bts, msgp.WrapError(err, k)
					}
					continue outer
				}
			}
			bts, err = msgp.Skip(bts) // unknown (newer) field
		}
		if err != nil {
			return bts, msgp.WrapError(err, key)
		}
	}
	return bts, nil
}

func (st *Stats) Msgsize() int {
	s := msgp.MapHeaderSize + 3*msgp.StringPrefixSize + len("nameidlayout") +
		3*msgp.StringPrefixSize + len(st.Name) + len(st.ID) + len(st.Layout)
	for _, k := range statsKeys {
		s += msgp.StringPrefixSize + len(k) + msgp.Int64Size
	}
	return s
}

func (snap *Snapshot) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, snap.Msgsize())
	o = msgp.AppendMapHeader(o, 3)
	o = msgp.AppendString(o, "time")
	o = msgp.AppendInt64(o, snap.Time)
	o = msgp.AppendString(o, "usage")
	o = msgp.AppendInt64(o, snap.Usage)
	o = msgp.AppendString(o, "caches")
	o = msgp.AppendArrayHeader(o, uint32(len(snap.Caches)))
	for i := range snap.Caches {
		if o, err = snap.Caches[i].MarshalMsg(o); err != nil {
			return o, msgp.WrapError(err, "caches", i)
		}
	}
	return o, nil
}

func (snap *Snapshot) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var (
		field []byte
		sz    uint32
	)
	sz, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err)
	}
	for ; sz > 0; sz-- {
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err)
		}
		switch msgp.UnsafeString(field) {
		case "time":
			snap.Time, bts, err = msgp.ReadInt64Bytes(bts)
		case "usage":
			snap.Usage, bts, err = msgp.ReadInt64Bytes(bts)
		case "caches":
			var n uint32
			if n, bts, err = msgp.ReadArrayHeaderBytes(bts); err != nil {
				return bts, msgp.WrapError(err, "caches")
			}
			snap.Caches = make([]Stats, n)
			for i := range snap.Caches {
				if bts, err = snap.Caches[i].UnmarshalMsg(bts); err != nil {
					return bts, msgp.WrapError(err, "caches", i)
				}
			}
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

func (snap *Snapshot) Msgsize() int {
	s := msgp.MapHeaderSize + 3*msgp.StringPrefixSize + len("timeusagecaches") + 2*msgp.Int64Size +
		msgp.ArrayHeaderSize
	for i := range snap.Caches {
		s += snap.Caches[i].Msgsize()
	}
	return s
}
