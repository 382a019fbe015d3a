package sched

import "container/heap"

// Entry is a dispatchable segment keyed by its re-based deadline.
type Entry struct {
	Deadline float64
	Task     int
	Segment  int
}

// Less orders by deadline, then task, then segment.
func (e Entry) Less(o Entry) bool {
	if e.Deadline != o.Deadline {
		return e.Deadline < o.Deadline
	}
	if e.Task != o.Task {
		return e.Task < o.Task
	}
	return e.Segment < o.Segment
}

type entryHeap []Entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(Entry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// ReadyQueue is a min-priority queue of entries.
type ReadyQueue struct {
	h entryHeap
}

// NewReadyQueue returns an empty queue.
func NewReadyQueue(capacity int) *ReadyQueue {
	return &ReadyQueue{h: make(entryHeap, 0, capacity)}
}

func (q *ReadyQueue) Push(e Entry) {
	heap.Push(&q.h, e)
}

// Pop removes the minimum entry. ok is false when the queue is empty.
func (q *ReadyQueue) Pop() (e Entry, ok bool) {
	if len(q.h) == 0 {
		return Entry{}, false
	}
	return heap.Pop(&q.h).(Entry), true
}

func (q *ReadyQueue) Len() int {
	return len(q.h)
}
