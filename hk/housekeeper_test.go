// Package hk provides mechanism for registering periodic callbacks
// (depot tuning, memory-pressure polling) invoked at specified intervals.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package hk_test

import (
	"sync/atomic"
	"time"

	"github.com/NVIDIA/objcache/hk"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Housekeeper", func() {
	var h *hk.Housekeeper

	BeforeEach(func() {
		h = hk.New(false)
		go h.Run()
		h.WaitStarted()
	})

	AfterEach(func() {
		h.Stop(nil)
	})

	It("should call the callback periodically", func() {
		var cnt atomic.Int32
		h.Reg("foo"+hk.NameSuffix, func(int64) time.Duration {
			cnt.Add(1)
			return 20 * time.Millisecond
		}, 20*time.Millisecond)

		Eventually(cnt.Load, time.Second, 10*time.Millisecond).Should(BeNumerically(">=", 3))
	})

	It("should call right away when registered with zero interval", func() {
		var cnt atomic.Int32
		h.Reg("now"+hk.NameSuffix, func(int64) time.Duration {
			cnt.Add(1)
			return time.Hour
		}, 0)

		Eventually(cnt.Load, time.Second, 5*time.Millisecond).Should(BeEquivalentTo(1))
		Consistently(cnt.Load, 100*time.Millisecond, 10*time.Millisecond).Should(BeEquivalentTo(1))
	})

	It("should stop calling after unregister", func() {
		var cnt atomic.Int32
		name := "bar" + hk.NameSuffix
		h.Reg(name, func(int64) time.Duration {
			cnt.Add(1)
			return 10 * time.Millisecond
		}, 10*time.Millisecond)

		Eventually(cnt.Load, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 1))
		h.Unreg(name)
		time.Sleep(50 * time.Millisecond)
		last := cnt.Load()
		Consistently(cnt.Load, 100*time.Millisecond, 10*time.Millisecond).Should(Equal(last))
	})

	It("should unregister when the callback returns UnregInterval", func() {
		var cnt atomic.Int32
		h.Reg("once"+hk.NameSuffix, func(int64) time.Duration {
			cnt.Add(1)
			return hk.UnregInterval
		}, 10*time.Millisecond)

		Eventually(cnt.Load, time.Second, 5*time.Millisecond).Should(BeEquivalentTo(1))
		Consistently(cnt.Load, 100*time.Millisecond, 10*time.Millisecond).Should(BeEquivalentTo(1))
	})

	It("should order callbacks by next time", func() {
		var (
			order = make(chan string, 2)
			once  = func(name string) hk.Func {
				return func(int64) time.Duration {
					order <- name
					return hk.UnregInterval
				}
			}
		)
		h.Reg("slow"+hk.NameSuffix, once("slow"), 80*time.Millisecond)
		h.Reg("fast"+hk.NameSuffix, once("fast"), 10*time.Millisecond)

		Eventually(order, time.Second).Should(Receive(Equal("fast")))
		Eventually(order, time.Second).Should(Receive(Equal("slow")))
	})
})
