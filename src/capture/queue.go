package capture

import (
	"context"
	"sync"

	"graphdoctor/src/contracts"
)

// Priority orders queue entries for shedding: when the queue is full the
// lowest-priority entry goes first.
type Priority int

const (
	PriorityLow    Priority = iota // partial captures
	PriorityNormal                 // complete reports
	PriorityHigh                   // reserved for explicit caller requests
)

// Item is one queued error report awaiting classification.
type Item struct {
	Report   contracts.ErrorReport
	Priority Priority
}

// Queue is a bounded, priority-aware delivery queue between the capture side
// and the pipeline worker. Push never blocks: when full, the oldest entry of
// the lowest priority is shed (or the new entry itself, if everything queued
// outranks it).
type Queue struct {
	mu       sync.Mutex
	items    []Item
	capacity int
	notify   chan struct{}
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push enqueues item, shedding a lower-priority entry when full. The return
// value reports whether anything was dropped.
func (q *Queue) Push(item Item) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) < q.capacity {
		q.items = append(q.items, item)
		q.signal()
		return false
	}

	// Full: find the oldest entry with the lowest priority.
	victim := 0
	for i, it := range q.items {
		if it.Priority < q.items[victim].Priority {
			victim = i
		}
	}

	if q.items[victim].Priority > item.Priority {
		// Everything queued outranks the newcomer; shed the newcomer.
		return true
	}

	q.items = append(q.items[:victim], q.items[victim+1:]...)
	q.items = append(q.items, item)
	q.signal()
	return true
}

// Pop removes the oldest entry, blocking until one is available or ctx is
// cancelled.
func (q *Queue) Pop(ctx context.Context) (Item, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return Item{}, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
