// Package hk provides mechanism for registering periodic callbacks
// (depot tuning, memory-pressure polling) invoked at specified intervals.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NVIDIA/objcache/cmn/atomic"
	"github.com/NVIDIA/objcache/cmn/cos"
	"github.com/NVIDIA/objcache/cmn/debug"
	"github.com/NVIDIA/objcache/cmn/mono"
	"github.com/NVIDIA/objcache/cmn/nlog"
)

const workChanCap = 48

const NameSuffix = ".hk" // reg name suffix

const (
	DayInterval   = 24 * time.Hour
	UnregInterval = 365 * DayInterval // to unregister upon return from the callback
)

type (
	Func func(now int64) time.Duration
	op   struct {
		f        Func
		name     string
		interval time.Duration
	}
	timedAction struct {
		f          Func
		name       string
		updateTime int64
	}
	timedActions []timedAction

	Housekeeper struct {
		stopCh  *cos.StopCh
		sigCh   chan os.Signal
		actions *timedActions
		timer   *time.Timer
		workCh  chan op
		running atomic.Bool
		signals bool
	}
)

// default instance
var HK *Housekeeper

// interface guard
var _ cos.Runner = (*Housekeeper)(nil)

// TestInit creates the default instance that does not listen to OS signals.
func TestInit() { HK = New(false) }

func Init() { HK = New(true) }

// New creates a housekeeper; with signals == true Run terminates
// upon SIGINT, SIGTERM, or SIGQUIT.
func New(signals bool) *Housekeeper {
	hk := &Housekeeper{
		stopCh:  cos.NewStopCh(),
		workCh:  make(chan op, workChanCap),
		actions: &timedActions{},
		timer:   time.NewTimer(time.Hour),
		signals: signals,
	}
	hk.timer.Stop()
	if signals {
		hk.sigCh = make(chan os.Signal, 1)
	}
	heap.Init(hk.actions)
	return hk
}

// shortcuts: default instance
func Reg(name string, f Func, interval time.Duration) { HK.Reg(name, f, interval) }
func Unreg(name string)                               { HK.Unreg(name) }
func UnregIf(name string, f Func)                     { HK.UnregIf(name, f) }

func (hk *Housekeeper) WaitStarted() {
	for !hk.running.Load() {
		time.Sleep(10 * time.Millisecond)
	}
}

// Reg schedules f to run after the interval (zero: right away, upon
// registration). The callback returns the next interval, or UnregInterval.
func (hk *Housekeeper) Reg(name string, f Func, interval time.Duration) {
	debug.Assert(interval != UnregInterval)

	hk.workCh <- op{name: name, f: f, interval: interval}

	if l, c := len(hk.workCh), workChanCap; l >= (c - c>>3) {
		nlog.Errorln("hk: work channel is full, len", l, "cap", c)
	}
}

func (hk *Housekeeper) Unreg(name string) {
	hk.workCh <- op{name: name, interval: UnregInterval}
}

// non-presence is fine
func (hk *Housekeeper) UnregIf(name string, f Func) {
	hk.workCh <- op{name: name, f: f, interval: UnregInterval}
}

func (*Housekeeper) Name() string { return "hk" }

func (hk *Housekeeper) IsRunning() bool { return hk.running.Load() }

func (hk *Housekeeper) Stop(error) { hk.stopCh.Close() }

func (hk *Housekeeper) Run() (err error) {
	if hk.signals {
		signal.Notify(hk.sigCh,
			syscall.SIGINT,  // kill -SIGINT (Ctrl-C)
			syscall.SIGTERM, // kill -SIGTERM
			syscall.SIGQUIT, // kill -SIGQUIT
		)
	}
	hk.running.Store(true)
	err = hk._run()
	hk.timer.Stop()
	hk.running.Store(false)
	return
}

func (hk *Housekeeper) _run() error {
	for {
		select {
		case <-hk.stopCh.Listen():
			return nil

		case <-hk.timer.C:
			if hk.actions.Len() == 0 {
				break
			}
			// call and update the heap
			var (
				item    = hk.actions.Peek()
				started = mono.NanoTime()
				ival    = item.f(started)
			)
			if ival == UnregInterval {
				heap.Remove(hk.actions, 0)
			} else {
				now := mono.NanoTime()
				item.updateTime = now + ival.Nanoseconds()
				heap.Fix(hk.actions, 0)

				// lock/sleep type contention inside the callback
				if d := time.Duration(now - started); d > time.Second {
					nlog.Warningln("call[", item.name, "] duration exceeds 1s:", d.String())
				}
			}
			hk.updateTimer()

		case op := <-hk.workCh:
			idx := hk.byName(op.name)
			if op.interval != UnregInterval {
				if idx >= 0 {
					nlog.Errorln("duplicated name [", op.name, "] - not registering")
					break
				}
				ival := op.interval
				now := mono.NanoTime()
				if op.interval == 0 {
					// calling right away
					ival = op.f(now)
					if ival == UnregInterval {
						break
					}
				}
				// next time
				nt := now + ival.Nanoseconds()
				heap.Push(hk.actions, timedAction{name: op.name, f: op.f, updateTime: nt})
			} else {
				if idx >= 0 {
					heap.Remove(hk.actions, idx)
				} else if op.f == nil {
					nlog.Warningln(op.name, "not found (already removed?)")
				}
				// op.f != nil via UnregIf()
			}
			hk.updateTimer()

		case s, ok := <-hk.sigCh:
			if ok {
				signal.Stop(hk.sigCh)
				err := cos.NewSignalError(s.(syscall.Signal))
				hk.Stop(err)
				return err
			}
		}
	}
}

func (hk *Housekeeper) updateTimer() {
	if hk.actions.Len() == 0 {
		hk.timer.Stop()
		return
	}
	d := hk.actions.Peek().updateTime - mono.NanoTime()
	hk.timer.Reset(time.Duration(d))
}

func (hk *Housekeeper) byName(name string) int {
	for i, tc := range *hk.actions {
		if tc.name == name {
			return i
		}
	}
	return -1
}

//////////////////
// timedActions //
//////////////////

func (tc timedActions) Len() int           { return len(tc) }
func (tc timedActions) Less(i, j int) bool { return tc[i].updateTime < tc[j].updateTime }
func (tc timedActions) Swap(i, j int)      { tc[i], tc[j] = tc[j], tc[i] }
func (tc timedActions) Peek() *timedAction { return &tc[0] }
func (tc *timedActions) Push(x any)        { *tc = append(*tc, x.(timedAction)) }

func (tc *timedActions) Pop() any {
	old := *tc
	n := len(old)
	item := old[n-1]
	*tc = old[0 : n-1]
	return item
}
