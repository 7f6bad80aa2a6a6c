// Package poolmetrics adapts the trace hooks of a redline.Pool into
// VictoriaMetrics counters and histograms, for scraping alongside the rest
// of an application's metrics.
package poolmetrics

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"

	"github.com/redline-io/redline/trace"
)

// Trace returns a PoolTrace which records pool events into the given metrics
// Set. The pool label distinguishes multiple pools feeding one Set. Pass the
// result to redline.NewPool via redline.PoolWithTrace.
func Trace(set *metrics.Set, pool string) trace.PoolTrace {
	created := func(reason trace.PoolConnCreatedReason) *metrics.Counter {
		return set.GetOrCreateCounter(fmt.Sprintf(
			`redline_pool_conns_created_total{pool=%q,reason=%q}`, pool, reason))
	}
	closed := func(reason trace.PoolConnClosedReason) *metrics.Counter {
		return set.GetOrCreateCounter(fmt.Sprintf(
			`redline_pool_conns_closed_total{pool=%q,reason=%q}`, pool, reason))
	}
	createErrs := set.GetOrCreateCounter(fmt.Sprintf(
		`redline_pool_conn_create_errors_total{pool=%q}`, pool))
	acquires := set.GetOrCreateCounter(fmt.Sprintf(
		`redline_pool_acquires_total{pool=%q}`, pool))
	acquireErrs := set.GetOrCreateCounter(fmt.Sprintf(
		`redline_pool_acquire_errors_total{pool=%q}`, pool))
	acquireWait := set.GetOrCreateHistogram(fmt.Sprintf(
		`redline_pool_acquire_wait_seconds{pool=%q}`, pool))
	initSeconds := set.GetOrCreateHistogram(fmt.Sprintf(
		`redline_pool_init_seconds{pool=%q}`, pool))

	return trace.PoolTrace{
		ConnCreated: func(e trace.PoolConnCreated) {
			if e.Err != nil {
				createErrs.Inc()
				return
			}
			created(e.Reason).Inc()
		},
		ConnClosed: func(e trace.PoolConnClosed) {
			closed(e.Reason).Inc()
		},
		AcquireDone: func(e trace.PoolAcquireDone) {
			acquires.Inc()
			if e.Err != nil {
				acquireErrs.Inc()
				return
			}
			acquireWait.Update(e.WaitTime.Seconds())
		},
		InitCompleted: func(e trace.PoolInitCompleted) {
			initSeconds.Update(e.ElapsedTime.Seconds())
		},
	}
}
