// Package nlog - objcache logger, provides buffering, timestamping, and writing
// to either standard error or a log file
/*
 * Copyright (c) 2023-2025, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	bufSize    = 64 * 1024
	flushAfter = 10 * time.Second
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

type logfile struct {
	file *os.File
	w    *bufio.Writer
	last time.Time
}

var (
	toStderr     = true
	alsoToStderr bool
	logDir       string
	title        string

	mu       sync.Mutex // protects `out` and serializes writes
	out      *logfile
	stopping atomic.Bool

	arg0 = filepath.Base(os.Args[0])
	pid  = os.Getpid()
)

func log(sev severity, depth int, format string, args ...any) {
	var sb strings.Builder
	formatHdr(sev, depth+1, &sb)
	if format == "" {
		fmt.Fprintln(&sb, args...)
	} else {
		fmt.Fprintf(&sb, format, args...)
		if !strings.HasSuffix(format, "\n") {
			sb.WriteByte('\n')
		}
	}
	line := sb.String()

	if toStderr {
		os.Stderr.WriteString(line)
		return
	}
	if alsoToStderr || sev >= sevErr {
		os.Stderr.WriteString(line)
	}
	mu.Lock()
	if out == nil {
		if err := open(); err != nil {
			mu.Unlock()
			os.Stderr.WriteString("Error: [nlog] " + err.Error() + "\n" + line)
			return
		}
	}
	out.w.WriteString(line)
	if sev >= sevWarn || time.Since(out.last) > flushAfter {
		out.flush()
	}
	mu.Unlock()
}

// under lock
func open() error {
	dir := logDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "objcache")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	now := time.Now()
	fname := filepath.Join(dir, fmt.Sprintf("%s.%02d%02d-%02d%02d%02d.%d.log",
		arg0, now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second(), pid))
	f, err := os.OpenFile(fname, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	out = &logfile{file: f, w: bufio.NewWriterSize(f, bufSize), last: now}
	hdr := "Started up at " + now.Format("2006/01/02 15:04:05") + ", " +
		runtime.Version() + " for " + runtime.GOOS + "/" + runtime.GOARCH + "\n"
	out.w.WriteString(hdr)
	if title != "" {
		out.w.WriteString(title + "\n")
	}
	return nil
}

func (lf *logfile) flush() {
	if err := lf.w.Flush(); err != nil {
		os.Stderr.WriteString("Error: [nlog] flush: " + err.Error() + "\n")
	}
	lf.last = time.Now()
}

func (lf *logfile) close() {
	lf.file.Sync()
	lf.file.Close()
}

func formatHdr(s severity, depth int, sb *strings.Builder) {
	const char = "IWE"
	sb.WriteByte(char[s])
	sb.WriteByte(' ')
	sb.WriteString(time.Now().Format("15:04:05.000000"))
	sb.WriteByte(' ')
	_, fn, ln, ok := runtime.Caller(2 + depth)
	if !ok {
		return
	}
	if idx := strings.LastIndexByte(fn, filepath.Separator); idx > 0 {
		fn = fn[idx+1:]
	}
	fn = strings.TrimSuffix(fn, ".go")
	sb.WriteString(fn)
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(ln))
	sb.WriteByte(' ')
}
