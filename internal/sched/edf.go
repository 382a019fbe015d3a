package sched

import (
	"github.com/EHPCL/RTHeter/internal/deadline"
	"github.com/EHPCL/RTHeter/internal/engine"
	"github.com/EHPCL/RTHeter/internal/graph"
)

// EDF dispatches never-started segments in order of internal deadline
// re-based to the current period instance. It does not preempt.
type EDF struct {
	deadlines []deadline.Table

	// decisions for the current (time, type) batch of requests
	batch     []Decision
	batchTime int
	batchType graph.ProcessorType
}

// NewEDF builds an EDF scheduler over per-task deadline tables, indexed by
// task id.
func NewEDF(deadlines []deadline.Table) *EDF {
	return &EDF{deadlines: deadlines}
}

func (e *EDF) Name() string     { return "edf" }
func (e *EDF) Preemptive() bool { return false }

// Plan returns the decisions for n idle processors of type t: the n earliest
// candidates, padded with Skip once the queue runs dry. It depends only on
// the snapshot.
func (e *EDF) Plan(snap *Snapshot, t graph.ProcessorType, n int) []Decision {
	q := NewReadyQueue(n)
	for i, ts := range snap.Tasks {
		if i >= len(e.deadlines) || ts.Period <= 0 {
			continue
		}
		offset := float64(snap.Time / ts.Period * ts.Period)
		for j, seg := range ts.Segments {
			if !candidate(seg, t) || j >= len(e.deadlines[i]) {
				continue
			}
			q.Push(Entry{Deadline: e.deadlines[i][j] + offset, Task: i, Segment: j})
		}
	}

	out := make([]Decision, n)
	for k := range out {
		entry, ok := q.Pop()
		if !ok {
			for ; k < n; k++ {
				out[k] = Skip
			}
			break
		}
		out[k] = Place(entry.Task, entry.Segment, -1)
	}
	return out
}

// candidate: right affinity, ready, unassigned and not yet started.
func candidate(seg engine.SegmentState, t graph.ProcessorType) bool {
	return seg.Type == t &&
		seg.Ready &&
		seg.Processor == engine.Unassigned &&
		seg.Remaining > 0 &&
		seg.Remaining == seg.Length
}

// Decide plans a batch on the first request of a (time, type) group and
// hands out one decision per request.
func (e *EDF) Decide(snap *Snapshot, req Request) Decision {
	if req.Index == 0 || e.batch == nil || len(e.batch) != req.Count ||
		e.batchTime != snap.Time || e.batchType != req.Type {
		e.batch = e.Plan(snap, req.Type, req.Count)
		e.batchTime, e.batchType = snap.Time, req.Type
	}
	if req.Index < 0 || req.Index >= len(e.batch) {
		return Skip
	}
	return e.batch[req.Index]
}
