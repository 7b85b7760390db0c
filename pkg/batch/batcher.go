// Package batch coalesces high-frequency events into periodic flushes.
// The forwarding hot path emits per-packet and per-keyframe accounting at
// RTP rates; batching keeps those emissions off the downstream metrics
// I/O path.
package batch

import (
	"context"
	"sync"
	"time"
)

// Batcher accumulates items of one type and hands them to a flush
// function when enough have gathered or the flush interval elapses,
// whichever comes first.
type Batcher[T any] struct {
	size     int
	interval time.Duration
	flush    func(ctx context.Context, items []T) error

	mu      sync.Mutex
	pending []T

	kick chan struct{}
	stop chan struct{}
	once sync.Once
}

// New creates a batcher and starts its flush loop.
func New[T any](size int, interval time.Duration, flush func(ctx context.Context, items []T) error) *Batcher[T] {
	b := &Batcher[T]{
		size:     size,
		interval: interval,
		flush:    flush,
		pending:  make([]T, 0, size),
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}

	go b.run()

	return b
}

// Add enqueues one item. It never blocks on the flush function: when the
// batch fills, the flush loop is nudged and Add returns immediately.
func (b *Batcher[T]) Add(item T) {
	b.mu.Lock()
	b.pending = append(b.pending, item)
	full := len(b.pending) >= b.size
	b.mu.Unlock()

	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
}

// Flush immediately hands all pending items to the flush function.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	items := b.pending
	b.pending = make([]T, 0, b.size)
	b.mu.Unlock()

	return b.flush(ctx, items)
}

func (b *Batcher[T]) run() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = b.Flush(context.Background())
		case <-b.kick:
			_ = b.Flush(context.Background())
		case <-b.stop:
			_ = b.Flush(context.Background())
			return
		}
	}
}

// Stop ends the flush loop after one final flush. Safe to call more than
// once.
func (b *Batcher[T]) Stop() {
	b.once.Do(func() { close(b.stop) })
}

// PendingCount returns the number of items awaiting flush.
func (b *Batcher[T]) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
