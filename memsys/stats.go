// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"fmt"
	"strings"

	"github.com/NVIDIA/objcache/cmn/cos"
)

type (
	Stats struct {
		Name             string `json:"name" yaml:"name"`
		ID               string `json:"id" yaml:"id"`
		Layout           string `json:"layout" yaml:"layout"`
		ObjectSize       int64  `json:"object_size" yaml:"object_size"`
		Stride           int64  `json:"stride" yaml:"stride"`
		SlabSize         int64  `json:"slab_size" yaml:"slab_size"`
		ObjsPerSlab      int64  `json:"objs_per_slab" yaml:"objs_per_slab"`
		Usage            int64  `json:"usage" yaml:"usage"` // slab-backed bytes
		Slabs            int64  `json:"slabs" yaml:"slabs"`
		EmptySlabs       int64  `json:"empty_slabs" yaml:"empty_slabs"`
		PartialSlabs     int64  `json:"partial_slabs" yaml:"partial_slabs"`
		FullSlabs        int64  `json:"full_slabs" yaml:"full_slabs"`
		Capacity         int64  `json:"capacity" yaml:"capacity"` // objects in all slabs
		FreeInPool       int64  `json:"free_in_pool" yaml:"free_in_pool"`
		Live             int64  `json:"live" yaml:"live"`
		MinReserve       int64  `json:"min_reserve" yaml:"min_reserve"`
		Magazines        int64  `json:"magazines" yaml:"magazines"`
		FullMagazines    int64  `json:"full_magazines" yaml:"full_magazines"`
		EmptyMagazines   int64  `json:"empty_magazines" yaml:"empty_magazines"`
		MagazineCapacity int64  `json:"magazine_capacity" yaml:"magazine_capacity"`
		Allocs           int64  `json:"allocs" yaml:"allocs"`
		Frees            int64  `json:"frees" yaml:"frees"`
		MagazineOps      int64  `json:"magazine_ops" yaml:"magazine_ops"` // served by processors' magazines
		PoolCalls        int64  `json:"pool_calls" yaml:"pool_calls"`     // slab pool entries
		Grows            int64  `json:"grows" yaml:"grows"`
		Releases         int64  `json:"releases" yaml:"releases"`
		Contention       int64  `json:"contention" yaml:"contention"`
		Steals           int64  `json:"steals" yaml:"steals"` // magazines taken from other processors
	}

	Snapshot struct {
		Caches []Stats `json:"caches" yaml:"caches"`
		Time   int64   `json:"time" yaml:"time"` // unix nanoseconds
		Usage  int64   `json:"usage" yaml:"usage"`
	}
)

func (st *Stats) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: usage %s, slabs %d (e/p/f %d/%d/%d), live %d", st.Name,
		cos.ToSizeIEC(st.Usage, 1), st.Slabs, st.EmptySlabs, st.PartialSlabs, st.FullSlabs, st.Live)
	if st.Magazines > 0 {
		fmt.Fprintf(&sb, ", magazines %d (full %d, empty %d, cap %d)", st.Magazines,
			st.FullMagazines, st.EmptyMagazines, st.MagazineCapacity)
	}
	return sb.String()
}
