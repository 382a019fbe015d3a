package sched

import (
	"sort"

	"github.com/EHPCL/RTHeter/internal/graph"
)

// FIFO dispatches never-started segments in release order of their current
// period instance, ties broken by task id then segment index. It does not
// preempt.
type FIFO struct{}

func NewFIFO() *FIFO { return &FIFO{} }

func (f *FIFO) Name() string     { return "fifo" }
func (f *FIFO) Preemptive() bool { return false }

// Queue returns every candidate of type t, first in first.
func (f *FIFO) Queue(snap *Snapshot, t graph.ProcessorType) []Decision {
	type entry struct {
		release, task, seg int
	}
	var q []entry
	for i, ts := range snap.Tasks {
		if ts.Period <= 0 {
			continue
		}
		release := snap.Time / ts.Period * ts.Period
		for j, seg := range ts.Segments {
			if candidate(seg, t) {
				q = append(q, entry{release, i, j})
			}
		}
	}
	sort.Slice(q, func(a, b int) bool {
		if q[a].release != q[b].release {
			return q[a].release < q[b].release
		}
		if q[a].task != q[b].task {
			return q[a].task < q[b].task
		}
		return q[a].seg < q[b].seg
	})

	out := make([]Decision, len(q))
	for k, e := range q {
		out[k] = Place(e.task, e.seg, -1)
	}
	return out
}

// Decide places the oldest candidate. The driver records each placement in
// snap, so successive requests in one epoch walk down the queue.
func (f *FIFO) Decide(snap *Snapshot, req Request) Decision {
	if q := f.Queue(snap, req.Type); len(q) > 0 {
		return q[0]
	}
	return Skip
}
