// Package main is objstress: a load generator and inspection tool for object caches
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/NVIDIA/objcache/cmn/cos"
	"github.com/NVIDIA/objcache/memsys"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"
)

func writeSnapshot(c *cli.Context, snap *memsys.Snapshot) error {
	w := io.Writer(os.Stdout)
	if path := c.String(outputFlag.Name); path != "" {
		fh, err := os.Create(path)
		if err != nil {
			return err
		}
		defer fh.Close()
		w = fh
	}
	return dump(w, snap, c.String(formatFlag.Name))
}

func dump(w io.Writer, v any, format string) error {
	switch format {
	case fmtJSON:
		b, err := jsoniter.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case fmtYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case fmtMsgpack:
		snap, ok := v.(*memsys.Snapshot)
		if !ok {
			return errors.Errorf("%s format is only supported for stats", fmtMsgpack)
		}
		b, err := snap.MarshalMsg(nil)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case fmtText, "":
		snap, ok := v.(*memsys.Snapshot)
		if !ok {
			return dump(w, v, fmtYAML)
		}
		return dumpText(w, snap)
	default:
		return errors.Errorf("invalid --%s %q", formatFlag.Name, format)
	}
}

func dumpText(w io.Writer, snap *memsys.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "CACHE\tLAYOUT\tSIZE\tSLAB\tUSAGE\tSLABS(E/P/F)\tLIVE\tMAGAZINES\tALLOCS\tFREES\tCONTENTION")
	for i := range snap.Caches {
		st := &snap.Caches[i]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%d/%d/%d\t%d\t%d(%d)\t%d\t%d\t%d\n",
			st.Name, st.Layout, st.ObjectSize, cos.ToSizeIEC(st.SlabSize, 0), cos.ToSizeIEC(st.Usage, 1),
			st.EmptySlabs, st.PartialSlabs, st.FullSlabs, st.Live, st.Magazines, st.MagazineCapacity,
			st.Allocs, st.Frees, st.Contention)
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t\t%s\n", cos.ToSizeIEC(snap.Usage, 1))
	return tw.Flush()
}

func configHandler(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return dump(os.Stdout, cfg, c.String(formatFlag.Name))
}

// reclaim [LEVEL]: populate, free, reclaim, show
func reclaimHandler(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	level := memsys.LevelCritical
	if c.NArg() > 0 {
		if level, err = memsys.ParseLevel(c.Args().First()); err != nil {
			return err
		}
	}
	sizes, err := parseSizes(c.String(sizeFlag.Name))
	if err != nil {
		return err
	}
	var (
		reg  = memsys.NewRegistry(cfg, nil, nil)
		ctrl = memsys.NewController(reg)
		num  = max(c.Int(numObjsFlag.Name), 1)
	)
	for _, size := range sizes {
		for i := range max(c.Int(cachesFlag.Name), 1) {
			cache, err := reg.Create(fmt.Sprintf("reclaim-%s-%d", cos.ToSizeIEC(size, 0), i), size, 0, nil, nil, nil)
			if err != nil {
				return err
			}
			objs := make([][]byte, 0, num)
			for range num {
				obj, err := cache.Alloc(0)
				if err != nil {
					return err
				}
				objs = append(objs, obj)
			}
			for _, obj := range objs {
				cache.Free(obj, 0)
			}
		}
	}

	format := c.String(formatFlag.Name)
	fmt.Fprintln(os.Stdout, "before:")
	if err := dump(os.Stdout, reg.Snapshot(), format); err != nil {
		return err
	}
	released, err := ctrl.Reclaim(context.Background(), level)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "\nafter %s reclaim (%d slabs released):\n", level, released)
	if err := dump(os.Stdout, reg.Snapshot(), format); err != nil {
		return err
	}
	for _, cache := range reg.Caches() {
		cache.Destroy()
	}
	return nil
}
