package batch

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	total int
	calls int
}

func (r *recorder) flush(ctx context.Context, items []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	for _, n := range items {
		r.total += n
	}
	return nil
}

func (r *recorder) snapshot() (total, calls int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total, r.calls
}

func TestBatcher_FlushesWhenBatchFills(t *testing.T) {
	rec := &recorder{}
	b := New(5, time.Hour, rec.flush)
	defer b.Stop()

	for i := 0; i < 5; i++ {
		b.Add(1)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if total, _ := rec.snapshot(); total == 5 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	total, _ := rec.snapshot()
	t.Fatalf("expected 5 flushed items, got %d", total)
}

func TestBatcher_FlushesOnInterval(t *testing.T) {
	rec := &recorder{}
	b := New(1000, 20*time.Millisecond, rec.flush)
	defer b.Stop()

	b.Add(3)
	b.Add(4)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if total, _ := rec.snapshot(); total == 7 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	total, _ := rec.snapshot()
	t.Fatalf("expected interval flush of 7, got %d", total)
}

func TestBatcher_ExplicitFlush(t *testing.T) {
	rec := &recorder{}
	b := New(100, time.Hour, rec.flush)
	defer b.Stop()

	b.Add(1)
	b.Add(2)

	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	total, calls := rec.snapshot()
	if total != 3 || calls != 1 {
		t.Fatalf("expected one flush totalling 3, got total=%d calls=%d", total, calls)
	}
	if b.PendingCount() != 0 {
		t.Fatalf("expected empty pending queue, got %d", b.PendingCount())
	}
}

func TestBatcher_FlushOnEmptyIsNoop(t *testing.T) {
	rec := &recorder{}
	b := New(100, time.Hour, rec.flush)
	defer b.Stop()

	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if _, calls := rec.snapshot(); calls != 0 {
		t.Fatalf("expected no flush call for empty batch, got %d", calls)
	}
}

func TestBatcher_StopFlushesRemainder(t *testing.T) {
	rec := &recorder{}
	b := New(100, time.Hour, rec.flush)

	b.Add(9)
	b.Stop()
	b.Stop() // idempotent

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if total, _ := rec.snapshot(); total == 9 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	total, _ := rec.snapshot()
	t.Fatalf("expected final flush of 9 on stop, got %d", total)
}
