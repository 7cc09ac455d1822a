// Package memsys provides fixed-size object caches: per-processor magazines
// on top of a per-cache depot on top of a slab pool carved out of memory
// obtained from a backing Provider, plus a pressure-driven reclaim protocol.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package memsys

import (
	"context"

	"github.com/NVIDIA/objcache/cmn/atomic"
	"github.com/NVIDIA/objcache/cmn/mono"
	"github.com/NVIDIA/objcache/cmn/nlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/NVIDIA/objcache/memsys"

// Controller returns idle cache memory to the providers upon memory pressure.
// Reclaim is best-effort: reclaimer failures are logged and tolerated.
type Controller struct {
	reg         *Registry
	tracer      trace.Tracer
	concurrency int
	passes      atomic.Int64
	released    atomic.Int64
}

func NewController(reg *Registry) *Controller {
	concurrency := reg.cfg.Reclaim.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Controller{reg: reg, tracer: otel.Tracer(tracerName), concurrency: concurrency}
}

// Reclaim runs one pass over all registered caches at the given level and
// returns the number of released slabs. The only error is the context's.
func (rc *Controller) Reclaim(ctx context.Context, level Level) (int, error) {
	if level <= LevelNone {
		return 0, nil
	}
	ctx, span := rc.tracer.Start(ctx, "memsys.reclaim",
		trace.WithAttributes(attribute.String("level", level.String())))
	defer span.End()

	var (
		released atomic.Int64
		started  = mono.NanoTime()
		caches   = rc.reg.Caches()
		g, gctx  = errgroup.WithContext(ctx)
	)
	g.SetLimit(rc.concurrency)
	for _, c := range caches {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			released.Add(int64(c.reclaim(level)))
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	n := released.Load()
	rc.passes.Inc()
	rc.released.Add(n)
	span.SetAttributes(attribute.Int("caches", len(caches)), attribute.Int64("released", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reclaim interrupted")
		nlog.Warningln("reclaim", level.String(), "interrupted:", err)
	} else if nlog.V(4) || (n > 0 && level >= LevelWarning) {
		nlog.Infoln("reclaim", level.String()+":", len(caches), "caches, released", n, "slab(s) in",
			mono.Since(started).String())
	}
	return int(n), err
}

// Passes and Released report totals since creation.
func (rc *Controller) Passes() int64   { return rc.passes.Load() }
func (rc *Controller) Released() int64 { return rc.released.Load() }
