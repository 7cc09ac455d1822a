// Package main is objstress: a load generator and inspection tool for object caches
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/NVIDIA/objcache/cmn/cos"
	"github.com/NVIDIA/objcache/cmn/nlog"
	"github.com/urfave/cli"
)

const (
	appName  = "objstress"
	appUsage = "exercise object caches: concurrent alloc/free, pressure-driven reclaim, stats and metrics"
)

var (
	version   = "1.0"
	build     string
	buildtime string
)

func main() {
	app := cli.NewApp()
	app.Name = appName
	app.Usage = appUsage
	app.Version = version
	if build != "" {
		app.Version += "." + build
	}
	if t, err := time.Parse(time.RFC3339, buildtime); err == nil {
		app.Compiled = t
	}
	app.Flags = []cli.Flag{configFlag, verbosityFlag, logDirFlag}
	app.Before = initLogging
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run a stress workload against one or more caches and dump final stats",
			Flags:  runFlags,
			Action: runHandler,
		},
		{
			Name:      "reclaim",
			Usage:     "populate caches, free everything, reclaim at the given level, and show what remains",
			ArgsUsage: "[none|note|warning|critical]",
			Flags:     []cli.Flag{cachesFlag, sizeFlag, numObjsFlag, formatFlag},
			Action:    reclaimHandler,
		},
		{
			Name:   "config",
			Usage:  "show effective configuration (defaults, config file, environment)",
			Flags:  []cli.Flag{formatFlag},
			Action: configHandler,
		},
	}
	err := app.Run(os.Args)
	nlog.Flush(true)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var errSig *cos.ErrSignal
		if errors.As(err, &errSig) {
			os.Exit(errSig.ExitCode())
		}
		os.Exit(1)
	}
}

func initLogging(c *cli.Context) error {
	nlog.SetTitle(appName)
	nlog.SetVerbosity(c.GlobalInt(verbosityFlag.Name))
	if dir := c.GlobalString(logDirFlag.Name); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		nlog.SetLogDir(dir)
		nlog.SetToStderr(false)
	}
	return nil
}
