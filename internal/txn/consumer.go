package txn

import (
	"context"
	"log/slog"
	"time"
)

// Applier is the narrow storage capability the consumer depends on.
// Concrete backends implement it; tests swap in doubles.
type Applier interface {
	Apply(ctx context.Context, tx Transaction) error
}

// ConsumerConfig tunes batching and retry behavior.
type ConsumerConfig struct {
	// Batching accumulates transactions and applies them as one backend
	// call, which is what collapses N concurrent pipeline runs into a
	// single writer making far fewer backend calls.
	Batching           bool
	MaxBatchSize       int
	BatchTimeout       time.Duration
	TransactionTimeout time.Duration
	MaxRetries         int
}

// DefaultConsumerConfig returns the batching defaults.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Batching:           true,
		MaxBatchSize:       32,
		BatchTimeout:       250 * time.Millisecond,
		TransactionTimeout: 5 * time.Second,
		MaxRetries:         3,
	}
}

// Consumer is the sole writer for one kiln. It drains the queue until the
// run context is cancelled, finishing any in-flight batch before stopping.
// Transactions still sitting in the queue at shutdown are lost.
type Consumer struct {
	recv    *Receiver
	backend Applier
	cfg     ConsumerConfig
	logger  *slog.Logger
	done    chan struct{}
}

// NewConsumer claims the queue's single receiver, so constructing a second
// consumer for the same queue panics.
func NewConsumer(q *Queue, backend Applier, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 250 * time.Millisecond
	}
	if cfg.TransactionTimeout <= 0 {
		cfg.TransactionTimeout = 5 * time.Second
	}
	return &Consumer{
		recv:    q.Receiver(),
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Done is closed once the consumer has fully stopped.
func (c *Consumer) Done() <-chan struct{} { return c.done }

// Run processes transactions until ctx is cancelled. It never returns a
// terminal error: apply failures are retried, counted, logged, and dropped,
// so one bad transaction cannot halt the consumer.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.done)

	if !c.cfg.Batching {
		c.runSingle(ctx)
		return
	}

	var batch []Transaction

	timer := time.NewTimer(c.cfg.BatchTimeout)
	if !timer.Stop() {
		<-timer.C
	}
	var timerCh <-chan time.Time

	flush := func() {
		if timerCh != nil {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timerCh = nil
		}
		if len(batch) == 0 {
			return
		}
		c.apply(batch)
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case <-timerCh:
			timerCh = nil
			flush()

		case tx := <-c.recv.q.ch:
			batch = append(batch, tx)
			if len(batch) >= c.cfg.MaxBatchSize {
				flush()
				continue
			}
			if timerCh == nil {
				timer.Reset(c.cfg.BatchTimeout)
				timerCh = timer.C
			}
		}
	}
}

func (c *Consumer) runSingle(ctx context.Context) {
	for {
		tx, err := c.recv.Next(ctx)
		if err != nil {
			return
		}
		c.apply([]Transaction{tx})
	}
}

// apply writes one batch to the backend with retries. The apply context is
// detached from the run context so an in-flight batch always finishes
// cleanly during shutdown.
func (c *Consumer) apply(batch []Transaction) {
	tx := batch[0]
	if len(batch) > 1 {
		tx = NewBatch(batch[0].KilnRoot, batch)
	}
	count := tx.Size()

	var err error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		applyCtx, cancel := context.WithTimeout(context.Background(), c.cfg.TransactionTimeout)
		err = c.backend.Apply(applyCtx, tx)
		cancel()
		if err == nil {
			c.recv.q.noteProcessed(count)
			return
		}
		c.logger.Warn("consumer: apply failed",
			slog.String("transaction_id", tx.ID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}

	// Retries exhausted: count, log, drop. There is no dead-letter path.
	c.recv.q.noteFailed(count)
	c.logger.Error("consumer: transaction dropped after retries",
		slog.String("transaction_id", tx.ID),
		slog.Int("transactions", count),
		slog.String("error", err.Error()))
}
