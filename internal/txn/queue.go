package txn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrQueueFull is returned by Enqueue when the queue stays at capacity for
// the whole enqueue bound. It is a backpressure signal: the caller should
// back off and retry, or drop this cycle.
var ErrQueueFull = errors.New("txn: queue full")

// Stats is a point-in-time snapshot of queue counters. CurrentDepth never
// exceeds the configured capacity.
type Stats struct {
	TotalEnqueued  int64 `json:"total_enqueued"`
	TotalProcessed int64 `json:"total_processed"`
	TotalFailed    int64 `json:"total_failed"`
	CurrentDepth   int64 `json:"current_depth"`
}

// Queue is a bounded multi-producer, single-consumer buffer of transactions.
// One instance exists per open kiln. Ordering is FIFO per producer only; the
// consumer's single-writer discipline provides the serialization the storage
// backend actually needs.
type Queue struct {
	ch             chan Transaction
	enqueueTimeout time.Duration

	recvOnce sync.Once
	recvDone bool

	totalEnqueued  atomic.Int64
	totalProcessed atomic.Int64
	totalFailed    atomic.Int64
}

// NewQueue creates a queue with the given capacity and enqueue bound.
func NewQueue(capacity int, enqueueTimeout time.Duration) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	if enqueueTimeout <= 0 {
		enqueueTimeout = 100 * time.Millisecond
	}
	return &Queue{
		ch:             make(chan Transaction, capacity),
		enqueueTimeout: enqueueTimeout,
	}
}

// Enqueue hands tx to the queue, waiting up to the enqueue bound for space.
// It returns ErrQueueFull when capacity and bound are both exhausted. Once
// Enqueue succeeds the transaction is owned by the queue and will eventually
// be applied regardless of the caller's fate.
func (q *Queue) Enqueue(ctx context.Context, tx Transaction) error {
	select {
	case q.ch <- tx:
		q.totalEnqueued.Add(1)
		return nil
	default:
	}

	timer := time.NewTimer(q.enqueueTimeout)
	defer timer.Stop()

	select {
	case q.ch <- tx:
		q.totalEnqueued.Add(1)
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receiver yields the single consumption handle for the queue. Calling it a
// second time is a programming error and panics: a queue has exactly one
// consumer, by construction.
func (q *Queue) Receiver() *Receiver {
	var r *Receiver
	q.recvOnce.Do(func() {
		q.recvDone = true
		r = &Receiver{q: q}
	})
	if r == nil {
		panic("txn: Receiver called twice on the same queue")
	}
	return r
}

// Stats returns a snapshot of the queue counters. Depth is read off the
// channel itself, so it can never overshoot the configured capacity.
func (q *Queue) Stats() Stats {
	return Stats{
		TotalEnqueued:  q.totalEnqueued.Load(),
		TotalProcessed: q.totalProcessed.Load(),
		TotalFailed:    q.totalFailed.Load(),
		CurrentDepth:   int64(len(q.ch)),
	}
}

// Receiver is the consumption side of a Queue, held by exactly one consumer.
type Receiver struct {
	q *Queue
}

// Next blocks until a transaction is available or ctx is done.
func (r *Receiver) Next(ctx context.Context) (Transaction, error) {
	select {
	case tx := <-r.q.ch:
		return tx, nil
	case <-ctx.Done():
		return Transaction{}, ctx.Err()
	}
}

// TryNext returns immediately with ok=false when the queue is empty.
func (r *Receiver) TryNext() (Transaction, bool) {
	select {
	case tx := <-r.q.ch:
		return tx, true
	default:
		return Transaction{}, false
	}
}

func (q *Queue) noteProcessed(n int) { q.totalProcessed.Add(int64(n)) }
func (q *Queue) noteFailed(n int)    { q.totalFailed.Add(int64(n)) }
