package txn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEnqueue_QueueFullAfterCapacity(t *testing.T) {
	q := NewQueue(2, 20*time.Millisecond)
	ctx := context.Background()

	// No consumer running: first two fit, the third hits backpressure.
	for i := 0; i < 2; i++ {
		if err := q.Enqueue(ctx, NewDelete("/kiln", "a.md")); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	err := q.Enqueue(ctx, NewDelete("/kiln", "b.md"))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third enqueue: err = %v, want ErrQueueFull", err)
	}

	stats := q.Stats()
	if stats.CurrentDepth != 2 {
		t.Errorf("current depth = %d, want 2", stats.CurrentDepth)
	}
	if stats.TotalEnqueued != 2 {
		t.Errorf("total enqueued = %d, want 2", stats.TotalEnqueued)
	}
}

func TestEnqueue_RespectsContextCancellation(t *testing.T) {
	q := NewQueue(1, time.Second)
	_ = q.Enqueue(context.Background(), NewDelete("/kiln", "a.md"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := q.Enqueue(ctx, NewDelete("/kiln", "b.md"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestReceiver_FIFOPerProducer(t *testing.T) {
	q := NewQueue(8, 50*time.Millisecond)
	ctx := context.Background()

	paths := []string{"1.md", "2.md", "3.md", "4.md"}
	for _, p := range paths {
		if err := q.Enqueue(ctx, NewDelete("/kiln", p)); err != nil {
			t.Fatalf("enqueue %s: %v", p, err)
		}
	}

	r := q.Receiver()
	for i, want := range paths {
		tx, err := r.Next(ctx)
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if tx.Path != want {
			t.Errorf("position %d: path = %q, want %q", i, tx.Path, want)
		}
	}

	if q.Stats().CurrentDepth != 0 {
		t.Errorf("depth after draining = %d, want 0", q.Stats().CurrentDepth)
	}
}

func TestReceiver_SecondCallPanics(t *testing.T) {
	q := NewQueue(1, 10*time.Millisecond)
	_ = q.Receiver()

	defer func() {
		if recover() == nil {
			t.Fatal("second Receiver call did not panic")
		}
	}()
	_ = q.Receiver()
}

func TestTryNext_EmptyQueue(t *testing.T) {
	q := NewQueue(1, 10*time.Millisecond)
	r := q.Receiver()
	if _, ok := r.TryNext(); ok {
		t.Fatal("TryNext on empty queue returned ok")
	}
}

func TestTransactionSize_CountsThroughBatches(t *testing.T) {
	inner := NewBatch("/kiln", []Transaction{
		NewDelete("/kiln", "a.md"),
		NewDelete("/kiln", "b.md"),
	})
	outer := NewBatch("/kiln", []Transaction{inner, NewDelete("/kiln", "c.md")})
	if got := outer.Size(); got != 3 {
		t.Errorf("size = %d, want 3", got)
	}
}

func TestStats_DepthNeverExceedsCapacity(t *testing.T) {
	const capacity = 4
	q := NewQueue(capacity, 20*time.Millisecond)
	recv := q.Receiver()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var producers sync.WaitGroup
	for p := 0; p < 4; p++ {
		producers.Add(1)
		go func() {
			defer producers.Done()
			for i := 0; i < 25; i++ {
				// Backpressure is expected here; only the depth bound matters.
				_ = q.Enqueue(ctx, NewDelete("/kiln", "n.md"))
			}
		}()
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			if _, err := recv.Next(ctx); err != nil {
				return
			}
		}
	}()

	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if d := q.Stats().CurrentDepth; d > capacity {
				t.Errorf("current depth = %d, exceeds capacity %d", d, capacity)
				return
			}
		}
	}()

	producers.Wait()
	cancel()
	<-drained
	<-sampled
}
