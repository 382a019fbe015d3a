package sched

import (
	"sort"

	"github.com/EHPCL/RTHeter/internal/engine"
)

// RM is rate-monotonic scheduling: shorter period means higher priority,
// ties broken by task id. The non-preemptive variant only fills idle
// processors and is subject to the driver's type locks.
type RM struct {
	periods    []int
	order      []int // task ids, highest priority first
	preemptive bool
}

// NewRM fixes the priority order from the task periods, indexed by task id.
func NewRM(periods []int, preemptive bool) *RM {
	order := make([]int, len(periods))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return periods[order[a]] < periods[order[b]]
	})
	return &RM{periods: periods, order: order, preemptive: preemptive}
}

func (r *RM) Name() string {
	if r.preemptive {
		return "rm"
	}
	return "rm-np"
}

func (r *RM) Preemptive() bool { return r.preemptive }

// Order returns task ids from highest to lowest priority.
func (r *RM) Order() []int {
	return append([]int(nil), r.order...)
}

// Decide offers the requested processor to the highest-priority eligible
// segment. A busy processor is only taken from a strictly lower-priority
// task.
func (r *RM) Decide(snap *Snapshot, req Request) Decision {
	proc := req.Processor
	if proc < 0 {
		proc = snap.FirstIdle(req.Type)
	}
	if proc < 0 || proc >= len(snap.Processors) {
		return Skip
	}
	p := snap.Processors[proc]
	if p.Status == engine.BusyNonPreemptive || p.Busy() && !r.preemptive {
		return Skip
	}

	for _, ti := range r.order {
		if ti >= len(snap.Tasks) {
			continue
		}
		if p.Busy() && !r.higher(ti, p.Task) {
			// every remaining task ranks no higher than the running one
			return Skip
		}
		for j, seg := range snap.Tasks[ti].Segments {
			if seg.Type != p.Type || seg.Remaining <= 0 || !seg.Ready || seg.Processor != engine.Unassigned {
				continue
			}
			return Place(ti, j, proc)
		}
	}
	return Skip
}

// higher reports whether task a strictly outranks task b: a shorter period.
// Equal periods never preempt each other.
func (r *RM) higher(a, b int) bool {
	if b < 0 || b >= len(r.periods) {
		return true
	}
	return r.periods[a] < r.periods[b]
}
