// Package cos provides common low-level types and utilities for all objcache packages.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
)

type (
	ErrSignal struct {
		signal syscall.Signal
	}
	// Errs collects up to `cap` distinct errors, counts all.
	Errs struct {
		errs []error
		cnt  int64
		cap  int
		mu   sync.Mutex
	}
)

//
// ErrSignal
//

// https://tldp.org/LDP/abs/html/exitcodes.html
func (e *ErrSignal) ExitCode() int               { return 128 + int(e.signal) }
func NewSignalError(s syscall.Signal) *ErrSignal { return &ErrSignal{signal: s} }
func (e *ErrSignal) Error() string               { return fmt.Sprintf("Signal %d", e.signal) }

//
// Errs
//

const defaultMaxErrs = 4

func NewErrs(maxErrs ...int) Errs {
	l := defaultMaxErrs
	if len(maxErrs) > 0 && maxErrs[0] > 0 {
		l = maxErrs[0]
	}
	return Errs{cap: l}
}

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	if e.cap == 0 {
		e.cap = defaultMaxErrs
	}
	if len(e.errs) < e.cap {
		dup := false
		for _, added := range e.errs {
			if added.Error() == err.Error() {
				dup = true
				break
			}
		}
		if !dup {
			e.errs = append(e.errs, err)
		}
	}
	e.cnt++
	e.mu.Unlock()
}

func (e *Errs) Cnt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.cnt)
}

// JoinErr returns the total count and the joined (distinct) errors, if any.
func (e *Errs) JoinErr() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cnt == 0 {
		return 0, nil
	}
	return int(e.cnt), errors.Join(e.errs...)
}
