package capture

import (
	"context"
	"testing"
	"time"

	"graphdoctor/src/contracts"
)

func item(text string, p Priority) Item {
	return Item{Report: contracts.ErrorReport{RawText: text, Complete: true}, Priority: p}
}

func TestQueue_FIFOWithinCapacity(t *testing.T) {
	q := NewQueue(4)
	for _, s := range []string{"a", "b", "c"} {
		if dropped := q.Push(item(s, PriorityNormal)); dropped {
			t.Fatalf("Push(%s) dropped under capacity", s)
		}
	}

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Pop(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got.Report.RawText != want {
			t.Errorf("Pop() = %q, want %q", got.Report.RawText, want)
		}
	}
}

func TestQueue_ShedsLowestPriorityFirst(t *testing.T) {
	q := NewQueue(3)
	q.Push(item("high-1", PriorityNormal))
	q.Push(item("low", PriorityLow))
	q.Push(item("high-2", PriorityNormal))

	// Queue full; a normal-priority push must evict the low entry.
	if dropped := q.Push(item("high-3", PriorityNormal)); !dropped {
		t.Error("Push on full queue reported no drop")
	}

	var texts []string
	for i := 0; i < 3; i++ {
		it, err := q.Pop(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		texts = append(texts, it.Report.RawText)
	}
	for _, s := range texts {
		if s == "low" {
			t.Errorf("low-priority entry survived shedding: %v", texts)
		}
	}
}

func TestQueue_NewcomerShedWhenOutranked(t *testing.T) {
	q := NewQueue(2)
	q.Push(item("a", PriorityHigh))
	q.Push(item("b", PriorityHigh))

	if dropped := q.Push(item("partial", PriorityLow)); !dropped {
		t.Error("low-priority push onto full high-priority queue must drop")
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

// Flooding the queue far past capacity must never block the producer.
func TestQueue_ProducerNeverBlocks(t *testing.T) {
	q := NewQueue(8)
	done := make(chan int)

	go func() {
		drops := 0
		for i := 0; i < 10_000; i++ {
			if q.Push(item("flood", PriorityNormal)) {
				drops++
			}
		}
		done <- drops
	}()

	select {
	case drops := <-done:
		if drops == 0 {
			t.Error("flood produced no drops")
		}
		if q.Len() != 8 {
			t.Errorf("Len() = %d, want capacity 8", q.Len())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("producer blocked on a full queue")
	}
}

func TestQueue_PopHonorsCancellation(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := q.Pop(ctx); err == nil {
		t.Error("Pop on empty queue returned without error after cancellation")
	}
}

func TestQueue_PopWakesOnPush(t *testing.T) {
	q := NewQueue(1)
	got := make(chan Item, 1)

	go func() {
		it, err := q.Pop(context.Background())
		if err == nil {
			got <- it
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(item("wake", PriorityNormal))

	select {
	case it := <-got:
		if it.Report.RawText != "wake" {
			t.Errorf("Pop() = %q, want wake", it.Report.RawText)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop never woke after Push")
	}
}
