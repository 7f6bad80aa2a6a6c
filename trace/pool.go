package trace

import (
	"context"
	"time"
)

// PoolTrace is passed into redline.NewPool via redline.PoolWithTrace, and
// contains callbacks which can be triggered for specific events during the
// Pool's runtime.
//
// All callbacks are called synchronously.
type PoolTrace struct {
	// ConnCreated is called when the Pool creates a new Conn.
	ConnCreated func(PoolConnCreated)

	// ConnClosed is called when the Pool closes a Conn.
	ConnClosed func(PoolConnClosed)

	// AcquireDone is called when an Acquire call finishes, successfully or
	// not.
	AcquireDone func(PoolAcquireDone)

	// InitCompleted is called after the Pool creates its initial Conns
	// during initialization.
	InitCompleted func(PoolInitCompleted)
}

// PoolCommon contains information which is passed into all Pool-related
// callbacks.
type PoolCommon struct {
	// Network and Addr indicate the network/address the Pool was created
	// with.
	Network, Addr string

	// MinSize and MaxSize indicate the bounds the Pool was initialized with.
	MinSize, MaxSize int

	// AvailCount indicates the number of free Conns the Pool is holding on
	// to at the moment the trace occurs.
	AvailCount int
}

// PoolConnCreatedReason enumerates all the different reasons a Conn might be
// created and trigger a ConnCreated trace.
type PoolConnCreatedReason string

// All possible values of PoolConnCreatedReason.
const (
	// PoolConnCreatedReasonInitialization indicates a Conn was created during
	// initialization of the Pool (i.e. within NewPool).
	PoolConnCreatedReasonInitialization PoolConnCreatedReason = "initialization"

	// PoolConnCreatedReasonDemand indicates a Conn was created because an
	// Acquire found no free Conn and the Pool had room to grow.
	PoolConnCreatedReasonDemand PoolConnCreatedReason = "demand"

	// PoolConnCreatedReasonRefill indicates a Conn was created to bring the
	// Pool back up to its minimum size.
	PoolConnCreatedReasonRefill PoolConnCreatedReason = "refill"

	// PoolConnCreatedReasonPubSub indicates a Conn was created to carry
	// subscriptions.
	PoolConnCreatedReasonPubSub PoolConnCreatedReason = "pubsub"
)

// PoolConnCreated is passed into the PoolTrace.ConnCreated callback whenever
// the Pool creates a new Conn.
type PoolConnCreated struct {
	PoolCommon

	// Context is the Context used when creating the Conn.
	Context context.Context

	// Reason describes why the Conn was created.
	Reason PoolConnCreatedReason

	// ConnectTime is how long it took to create the Conn.
	ConnectTime time.Duration

	// Err will be filled if creating the Conn failed.
	Err error
}

// PoolConnClosedReason enumerates all the different reasons a Conn might be
// closed and trigger a ConnClosed trace.
type PoolConnClosedReason string

// All possible values of PoolConnClosedReason.
const (
	// PoolConnClosedReasonPoolClosed indicates a Conn was closed because the
	// Close method was called on Pool.
	PoolConnClosedReasonPoolClosed PoolConnClosedReason = "pool closed"

	// PoolConnClosedReasonPoolFull indicates a Conn was dropped on release
	// because the free list was already full.
	PoolConnClosedReasonPoolFull PoolConnClosedReason = "pool full"

	// PoolConnClosedReasonDbMismatch indicates a Conn was dropped on release
	// because its selected database no longer matches the Pool's.
	PoolConnClosedReasonDbMismatch PoolConnClosedReason = "db mismatch"

	// PoolConnClosedReasonConnFailed indicates the Conn had already failed
	// by the time it came back to the Pool.
	PoolConnClosedReasonConnFailed PoolConnClosedReason = "conn failed"
)

// PoolConnClosed is passed into the PoolTrace.ConnClosed callback whenever
// the Pool closes a Conn.
type PoolConnClosed struct {
	PoolCommon

	// Reason describes why the Conn was closed.
	Reason PoolConnClosedReason
}

// PoolAcquireDone is passed into the PoolTrace.AcquireDone callback whenever
// an Acquire call finishes.
type PoolAcquireDone struct {
	PoolCommon

	// WaitTime is how long the caller queued for admission.
	WaitTime time.Duration

	// Err will be filled if the Acquire failed.
	Err error
}

// PoolInitCompleted is passed into the PoolTrace.InitCompleted callback
// whenever Pool is done initializing.
type PoolInitCompleted struct {
	PoolCommon

	// ElapsedTime is how long it took to finish initialization.
	ElapsedTime time.Duration
}
