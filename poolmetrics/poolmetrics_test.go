package poolmetrics

import (
	"bytes"
	"errors"
	"strings"
	. "testing"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redline-io/redline/trace"
)

func TestTrace(t *T) {
	set := metrics.NewSet()
	pt := Trace(set, "main")
	require.NotNil(t, pt.ConnCreated)
	require.NotNil(t, pt.ConnClosed)
	require.NotNil(t, pt.AcquireDone)
	require.NotNil(t, pt.InitCompleted)

	pt.ConnCreated(trace.PoolConnCreated{
		Reason:      trace.PoolConnCreatedReasonInitialization,
		ConnectTime: time.Millisecond,
	})
	pt.ConnCreated(trace.PoolConnCreated{
		Reason: trace.PoolConnCreatedReasonDemand,
	})
	pt.ConnCreated(trace.PoolConnCreated{
		Reason: trace.PoolConnCreatedReasonDemand,
		Err:    errors.New("dial failed"),
	})
	pt.ConnClosed(trace.PoolConnClosed{
		Reason: trace.PoolConnClosedReasonPoolClosed,
	})
	pt.AcquireDone(trace.PoolAcquireDone{WaitTime: time.Millisecond})
	pt.AcquireDone(trace.PoolAcquireDone{Err: errors.New("pool closed")})
	pt.InitCompleted(trace.PoolInitCompleted{ElapsedTime: time.Millisecond})

	var buf bytes.Buffer
	set.WritePrometheus(&buf)
	out := buf.String()

	for _, line := range []string{
		`redline_pool_conns_created_total{pool="main",reason="initialization"} 1`,
		`redline_pool_conns_created_total{pool="main",reason="demand"} 1`,
		`redline_pool_conn_create_errors_total{pool="main"} 1`,
		`redline_pool_conns_closed_total{pool="main",reason="pool closed"} 1`,
		`redline_pool_acquires_total{pool="main"} 2`,
		`redline_pool_acquire_errors_total{pool="main"} 1`,
	} {
		assert.True(t, strings.Contains(out, line), "missing %q in:\n%s", line, out)
	}
}
