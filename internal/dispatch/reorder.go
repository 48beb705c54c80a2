package dispatch

import "container/heap"

// eventHeap is a min-heap of completed events ordered by Seq.
type eventHeap []Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].Seq < h[j].Seq }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

// Push is called by [container/heap.Push]; callers must not invoke it directly.
func (h *eventHeap) Push(x any) { *h = append(*h, x.(Event)) }

// Pop is called by [container/heap.Pop]; callers must not invoke it directly.
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = Event{}
	*h = old[:n-1]
	return e
}

// reorder releases events strictly in sequence order. It is not safe for
// concurrent use; the dispatcher guards it with its mutex.
type reorder struct {
	next    uint64
	pending eventHeap
}

func newReorder(first uint64) *reorder {
	return &reorder{next: first}
}

// add buffers ev and returns every event that is now releasable, in order.
func (r *reorder) add(ev Event) []Event {
	heap.Push(&r.pending, ev)
	var ready []Event
	for r.pending.Len() > 0 && r.pending[0].Seq == r.next {
		ready = append(ready, heap.Pop(&r.pending).(Event))
		r.next++
	}
	return ready
}

// waiting returns the number of completed events held back by a gap.
func (r *reorder) waiting() int { return r.pending.Len() }
