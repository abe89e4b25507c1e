package ingest

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultQueueSize is the ingress queue capacity when none is configured.
const DefaultQueueSize = 1000

// RawMessage is one message as delivered by the subscription.
type RawMessage struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Queue is the bounded FIFO between the subscription callback and the
// worker pool.
//
// Enqueue never blocks: when the queue is full the incoming message is
// rejected and counted. Losing a reading is preferred to stalling the
// MQTT router goroutine, which would eventually miss keepalives.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Queue struct {
	ch      chan RawMessage
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most capacity messages.
// A non-positive capacity uses DefaultQueueSize.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{ch: make(chan RawMessage, capacity)}
}

// Enqueue adds msg without blocking.
//
// Returns:
//   - bool: false if the queue was full and msg was dropped
func (q *Queue) Enqueue(msg RawMessage) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Dequeue blocks until a message is available or ctx is done.
//
// Returns:
//   - RawMessage: The oldest queued message
//   - bool: false if ctx was cancelled first
func (q *Queue) Dequeue(ctx context.Context) (RawMessage, bool) {
	// Shutdown wins over a ready message.
	if ctx.Err() != nil {
		return RawMessage{}, false
	}
	select {
	case msg := <-q.ch:
		return msg, true
	case <-ctx.Done():
		return RawMessage{}, false
	}
}

// Discard empties the queue and returns how many messages were thrown away.
func (q *Queue) Discard() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Dropped returns the number of messages rejected since creation.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
