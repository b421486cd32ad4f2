package event

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBusOrder(t *testing.T) {
	b := NewBus()
	for i := 0; i < 100; i++ {
		b.Publish(New(TypeInfo, "s1", map[string]any{"seq": i}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 100; i++ {
		e, err := b.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed at %d: %v", i, err)
		}
		if got := e.Data["seq"].(int); got != i {
			t.Fatalf("expected seq %d, got %d", i, got)
		}
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	b := NewBus()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			b.Publish(New(TypeLogLine, "s1", nil))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked with no consumer")
	}
	if b.Len() != 10000 {
		t.Fatalf("expected 10000 queued events, got %d", b.Len())
	}
}

func TestBusNextBlocksUntilPublish(t *testing.T) {
	b := NewBus()
	go func() {
		time.Sleep(50 * time.Millisecond)
		b.Publish(New(TypeStatus, "s1", map[string]any{"status": "running"}))
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e, err := b.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if e.Type != TypeStatus {
		t.Fatalf("expected status event, got %q", e.Type)
	}
}

func TestBusNextContextCancel(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := b.Next(ctx); err == nil {
		t.Fatal("expected context error from Next on empty bus")
	}
}

func TestBusConcurrentProducers(t *testing.T) {
	b := NewBus()
	const producers = 8
	const perProducer = 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Publish(New(TypeLogLine, fmt.Sprintf("s%d", p), map[string]any{"n": i}))
			}
		}(p)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	perSource := make(map[string]int)
	for i := 0; i < producers*perProducer; i++ {
		e, err := b.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed after %d events: %v", i, err)
		}
		// Per-producer order must be preserved even when producers race.
		if got := e.Data["n"].(int); got != perSource[e.ServerID] {
			t.Fatalf("producer %s: expected n=%d, got %d", e.ServerID, perSource[e.ServerID], got)
		}
		perSource[e.ServerID]++
	}
}

func TestEventDefaults(t *testing.T) {
	before := float64(time.Now().UnixNano()) / float64(time.Second)
	e := New(TypeCrash, "a", nil)
	after := float64(time.Now().UnixNano()) / float64(time.Second)
	if e.Data == nil {
		t.Fatal("expected non-nil data map")
	}
	if e.TS < before || e.TS > after {
		t.Fatalf("timestamp %f outside [%f, %f]", e.TS, before, after)
	}
}
