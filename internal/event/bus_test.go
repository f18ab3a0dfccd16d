package event

import (
	"testing"
	"time"
)

func TestBus_FIFOOrder(t *testing.T) {
	b := NewBus()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	b.Enqueue(Market{At: t0})
	b.Enqueue(Signal{})
	b.Enqueue(Market{At: t0.AddDate(0, 0, 1)})

	first, ok := b.Dequeue()
	if !ok || first.Kind() != KindMarket {
		t.Fatalf("expected first MARKET event, got %v ok=%v", first, ok)
	}
	second, _ := b.Dequeue()
	if second.Kind() != KindSignal {
		t.Errorf("expected second SIGNAL event, got %v", second.Kind())
	}
	third, _ := b.Dequeue()
	if third.Kind() != KindMarket {
		t.Errorf("expected third MARKET event, got %v", third.Kind())
	}
	if m, ok := third.(Market); !ok || !m.At.Equal(t0.AddDate(0, 0, 1)) {
		t.Errorf("third event lost its payload: %+v", third)
	}
}

func TestBus_DequeueEmpty(t *testing.T) {
	b := NewBus()
	if e, ok := b.Dequeue(); ok || e != nil {
		t.Errorf("expected empty dequeue to return (nil, false), got (%v, %v)", e, ok)
	}
}

func TestBus_EnqueueNilIgnored(t *testing.T) {
	b := NewBus()
	b.Enqueue(nil)
	if b.Len() != 0 {
		t.Errorf("nil event should not be queued, len=%d", b.Len())
	}
}

func TestBus_Len(t *testing.T) {
	b := NewBus()
	for i := 0; i < 5; i++ {
		b.Enqueue(Signal{})
	}
	if b.Len() != 5 {
		t.Fatalf("expected len 5, got %d", b.Len())
	}
	b.Dequeue()
	if b.Len() != 4 {
		t.Errorf("expected len 4 after dequeue, got %d", b.Len())
	}
}
