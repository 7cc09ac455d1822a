// Package nlog - objcache logger, provides buffering, timestamping, and writing
// to either standard error or a log file
/*
 * Copyright (c) 2023-2025, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"flag"
	"sync/atomic"
)

var verbosity atomic.Int32

func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", true, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
	flset.StringVar(&logDir, "log_dir", "", "directory to write log files (ignored when logging to stderr)")
}

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }

// verbosity gates allocator-internal chatter (grow, reduce, reclaim)
func SetVerbosity(level int) { verbosity.Store(int32(level)) }
func V(level int) bool       { return int(verbosity.Load()) >= level }

func SetLogDir(dir string) { logDir = dir }
func SetToStderr(v bool)   { toStderr = v }
func SetTitle(s string)    { title = s }
func Stopping() bool       { return stopping.Load() }
func SetStopping()         { stopping.Store(true) }

func Flush(exit ...bool) {
	mu.Lock()
	if out != nil {
		out.flush()
	}
	if len(exit) > 0 && exit[0] && out != nil {
		out.close()
		out = nil
	}
	mu.Unlock()
}
