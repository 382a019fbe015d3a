// Package sched holds the scheduling policies that turn a live snapshot into
// placement decisions, one request at a time.
package sched

import (
	"fmt"

	"github.com/EHPCL/RTHeter/internal/engine"
	"github.com/EHPCL/RTHeter/internal/graph"
)

// Snapshot is the driver's view of the engine at one decision epoch.
type Snapshot struct {
	Time       int
	Processors []engine.ProcessorState
	Tasks      []engine.TaskState
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Time:       s.Time,
		Processors: append([]engine.ProcessorState(nil), s.Processors...),
		Tasks:      make([]engine.TaskState, len(s.Tasks)),
	}
	for i, ts := range s.Tasks {
		c.Tasks[i] = engine.TaskState{
			Period:   ts.Period,
			Segments: append([]engine.SegmentState(nil), ts.Segments...),
		}
	}
	return c
}

// IdleCount counts idle processors of type t.
func (s *Snapshot) IdleCount(t graph.ProcessorType) int {
	n := 0
	for _, p := range s.Processors {
		if p.Type == t && !p.Busy() {
			n++
		}
	}
	return n
}

// FirstIdle returns the lowest-numbered idle processor of type t, or -1.
func (s *Snapshot) FirstIdle(t graph.ProcessorType) int {
	for i, p := range s.Processors {
		if p.Type == t && !p.Busy() {
			return i
		}
	}
	return -1
}

// Assign records a placement the engine accepted, unassigning any segment
// it preempted, so later requests in the same epoch see it.
func (s *Snapshot) Assign(proc, task, seg int) {
	p := &s.Processors[proc]
	if p.Busy() && p.Task >= 0 && p.Task < len(s.Tasks) {
		if old := s.Tasks[p.Task].Segments; p.Segment >= 0 && p.Segment < len(old) {
			old[p.Segment].Processor = engine.Unassigned
		}
	}
	p.Task, p.Segment = task, seg
	p.Status = engine.BusyNonPreemptive
	if p.Type.Preemptive() {
		p.Status = engine.BusyPreemptive
	}
	s.Tasks[task].Segments[seg].Processor = proc
}

// Request asks a scheduler to fill one processor of a type.
type Request struct {
	Type  graph.ProcessorType
	Index int // position among this epoch's requests of Type
	Count int // number of requests of Type this epoch
	// Processor is the global id of the offered processor in preemptive
	// mode, or -1 when any idle processor of Type may be used.
	Processor int
}

// Decision is a scheduler's answer to a Request.
type Decision struct {
	Task      int
	Segment   int
	Processor int // -1: first idle processor of the requested type
}

// Skip is the no-op decision.
var Skip = Decision{Task: -1, Segment: -1, Processor: -1}

// Place builds a placement decision.
func Place(task, seg, proc int) Decision {
	return Decision{Task: task, Segment: seg, Processor: proc}
}

// IsSkip reports whether d places nothing.
func (d Decision) IsSkip() bool {
	return d.Task < 0
}

func (d Decision) String() string {
	if d.IsSkip() {
		return "skip"
	}
	return fmt.Sprintf("task %d seg %d", d.Task, d.Segment)
}

// Scheduler decides one request at a time. Preemptive schedulers are offered
// busy-preemptive processors too, and ignore type locks.
type Scheduler interface {
	Name() string
	Preemptive() bool
	Decide(snap *Snapshot, req Request) Decision
}
