// Package driver runs the decision loop between a scheduler and an
// execution engine: requests, dispatch, advance, locks, termination.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/EHPCL/RTHeter/internal/ctxlog"
	"github.com/EHPCL/RTHeter/internal/engine"
	"github.com/EHPCL/RTHeter/internal/graph"
	"github.com/EHPCL/RTHeter/internal/planner"
	"github.com/EHPCL/RTHeter/internal/sched"
	"github.com/EHPCL/RTHeter/internal/taskset"
)

// Driver owns one run: its engine session, scheduler and per-type locks.
type Driver struct {
	Engine  engine.Engine
	TaskSet *taskset.TaskSet
	Plan    *planner.Plan
	Config  Config
	Horizon int

	scheduler sched.Scheduler
	locks     [graph.NumProcessorTypes]bool
}

// New validates the task set, derives deadlines and builds the scheduler.
func New(eng engine.Engine, ts *taskset.TaskSet, cfg Config) (*Driver, error) {
	if cfg.HorizonFactor == 0 {
		cfg.HorizonFactor = DefaultHorizonFactor
	}
	if cfg.HorizonFactor < 0 || cfg.Horizon < 0 {
		return nil, &graph.ConfigError{Field: "horizon", Reason: "must not be negative"}
	}
	if err := ts.Validate(); err != nil {
		return nil, err
	}

	plan, err := planner.Generate(ts.Tasks, planner.PlanConfig{
		Name:      ts.Name,
		Strategy:  cfg.Strategy,
		Precision: cfg.Precision,
	})
	if err != nil {
		return nil, err
	}
	cfg.Precision = plan.Config.Precision

	d := &Driver{
		Engine:  eng,
		TaskSet: ts,
		Plan:    plan,
		Config:  cfg,
		Horizon: cfg.Horizon,
	}
	if d.Horizon == 0 {
		d.Horizon = ts.MinPeriod() * cfg.HorizonFactor
	}

	switch cfg.Policy {
	case EDF:
		d.scheduler = sched.NewEDF(plan.Deadlines())
	case RM:
		d.scheduler = sched.NewRM(plan.Periods(), true)
	case RMNonPreemptive:
		d.scheduler = sched.NewRM(plan.Periods(), false)
	case FIFO:
		d.scheduler = sched.NewFIFO()
	default:
		return nil, &graph.ConfigError{Field: "policy", Reason: cfg.Policy.String()}
	}
	return d, nil
}

// Scheduler returns the policy in use.
func (d *Driver) Scheduler() sched.Scheduler {
	return d.scheduler
}

// Run sets the engine up and loops epochs until a deadline miss, the horizon
// or cancellation. The error is non-nil only for setup failures, transport
// failures and cancellation; the Result is always returned.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	log := ctxlog.FromContext(ctx).With("taskset", d.TaskSet.Name, "policy", d.scheduler.Name())
	res := &Result{
		TaskSet:  d.TaskSet.Name,
		Policy:   d.Config.Policy.String(),
		Strategy: d.Config.Strategy.String(),
		Horizon:  d.Horizon,
		Outcome:  OutcomeAborted,
	}
	defer func() { res.OutcomeName = res.Outcome.String() }()

	if err := d.setup(); err != nil {
		return res, fmt.Errorf("engine setup: %w", err)
	}
	log.Info("run started",
		"tasks", len(d.TaskSet.Tasks),
		"processors", d.TaskSet.ProcessorCount(),
		"utilization", d.TaskSet.Utilization(),
		"horizon", d.Horizon)

	snap, err := d.refresh()
	if err != nil {
		return res, err
	}

	// time advances once per epoch; the cap only trips on an engine that
	// stops advancing
	maxEpochs := 2*d.Horizon + 16
	for {
		if err := ctx.Err(); err != nil {
			log.Warn("run cancelled", "t", snap.Time)
			return res, fmt.Errorf("cancelled: %w", err)
		}
		if res.Stats.Epochs >= maxEpochs {
			return res, fmt.Errorf("engine stalled at t=%d after %d epochs", snap.Time, res.Stats.Epochs)
		}
		res.Stats.Epochs++

		if err := d.dispatch(log, snap, res); err != nil {
			return res, err
		}

		executed, err := d.Engine.Advance()
		if err != nil {
			if !d.absorb(log, err, res) {
				return res, err
			}
		}
		res.Stats.Executed += executed

		next, err := d.refresh()
		if err != nil {
			return res, err
		}
		log.Debug("advanced", "t", next.Time, "executed", executed)
		d.updateLocks(snap, next)
		snap = next
		res.Time = snap.Time

		missed, err := d.Engine.Missed()
		if err != nil && !d.absorb(log, err, res) {
			return res, err
		}
		if missed {
			res.Outcome = OutcomeUnschedulable
			d.progress(log, res)
			log.Info("deadline missed", "t", snap.Time, "placements", res.Stats.Placements, "progress", res.Progress)
			return res, nil
		}

		completed, err := d.Engine.Completed()
		if err != nil && !d.absorb(log, err, res) {
			return res, err
		}
		if completed {
			res.Outcome = OutcomeSchedulable
			d.progress(log, res)
			log.Info("horizon reached", "t", snap.Time, "placements", res.Stats.Placements)
			return res, nil
		}
	}
}

// setup creates processors in ascending type order with their speed
// settings, then the tasks, then bounds and starts the simulation. Speed
// commands are only sent when a group sets them.
func (d *Driver) setup() error {
	next := 0
	for _, g := range d.TaskSet.Processors {
		if err := d.Engine.CreateProcessors(g.Type, g.Count); err != nil {
			return err
		}
		if g.ParallelFactor > 0 {
			if err := d.Engine.SetParallelFactor(g.Type, g.ParallelFactor); err != nil {
				return err
			}
		}
		if g.Variation > 0 {
			for proc := next; proc < next+g.Count; proc++ {
				if err := d.Engine.SetVariation(proc, g.Variation); err != nil {
					return err
				}
			}
		}
		next += g.Count
	}
	for _, t := range d.TaskSet.Tasks {
		if err := d.Engine.CreateDAGTask(t); err != nil {
			return err
		}
	}
	if err := d.Engine.SetTimeBound(d.Horizon); err != nil {
		return err
	}
	return d.Engine.Start()
}

// progress records how far each task got in its current instance. An engine
// that does not answer the query leaves Progress empty.
func (d *Driver) progress(log *slog.Logger, res *Result) {
	executed, err := d.Engine.ExecutionStates()
	if err != nil {
		if !d.absorb(log, err, res) {
			log.Warn("progress query failed", "err", err)
		}
		return
	}
	res.Progress = executed
}

// absorb counts and logs a protocol error. It reports false for any other
// error, which must end the run.
func (d *Driver) absorb(log *slog.Logger, err error, res *Result) bool {
	var pe *engine.ProtocolError
	if !errors.As(err, &pe) {
		return false
	}
	res.Stats.ProtocolErrors++
	log.Warn("engine error response", "cmd", pe.Command, "resp", pe.Response)
	return true
}

// refresh pulls a full snapshot. A segment is only ready when the engine says
// so and every predecessor has no remaining work.
func (d *Driver) refresh() (*sched.Snapshot, error) {
	now, err := d.Engine.CurrentTime()
	if err != nil {
		return nil, fmt.Errorf("query time: %w", err)
	}
	procs, err := d.Engine.ProcessorStates()
	if err != nil {
		return nil, fmt.Errorf("query processors: %w", err)
	}

	snap := &sched.Snapshot{Time: now, Processors: procs, Tasks: make([]engine.TaskState, len(d.TaskSet.Tasks))}
	for i, task := range d.TaskSet.Tasks {
		ts, err := d.Engine.TaskState(i)
		if err != nil {
			return nil, fmt.Errorf("query task %d: %w", i, err)
		}
		if len(ts.Segments) != len(task.Segments) {
			return nil, fmt.Errorf("query task %d: engine reports %d segments, want %d", i, len(ts.Segments), len(task.Segments))
		}
		for j := range ts.Segments {
			if !ts.Segments[j].Ready {
				continue
			}
			for _, p := range task.Pred[j] {
				if ts.Segments[p].Remaining > 0 {
					ts.Segments[j].Ready = false
					break
				}
			}
		}
		snap.Tasks[i] = ts
	}
	return snap, nil
}

// requests enumerates this epoch's requests, types ascending. Non-preemptive
// policies get one per idle processor of an unlocked type; preemptive ones
// get one per processor that is not running non-preemptive work.
func (d *Driver) requests(snap *sched.Snapshot) []sched.Request {
	preemptive := d.scheduler.Preemptive()
	var out []sched.Request
	for t := 0; t < graph.NumProcessorTypes; t++ {
		pt := graph.ProcessorType(t)
		if !preemptive && d.locks[pt] {
			continue
		}
		var procs []int
		for i, p := range snap.Processors {
			if p.Type != pt {
				continue
			}
			if preemptive && p.Status != engine.BusyNonPreemptive || !preemptive && !p.Busy() {
				procs = append(procs, i)
			}
		}
		for k, proc := range procs {
			req := sched.Request{Type: pt, Index: k, Count: len(procs), Processor: -1}
			if preemptive {
				req.Processor = proc
			}
			out = append(out, req)
		}
	}
	return out
}

// dispatch asks the scheduler once per request and applies each decision to
// the engine and to snap. A skip locks the type for non-preemptive policies.
func (d *Driver) dispatch(log *slog.Logger, snap *sched.Snapshot, res *Result) error {
	preemptive := d.scheduler.Preemptive()
	for _, req := range d.requests(snap) {
		if !preemptive && d.locks[req.Type] {
			continue
		}

		dec := d.scheduler.Decide(snap, req)
		if dec.IsSkip() {
			res.Stats.Skips++
			if !preemptive {
				d.locks[req.Type] = true
			}
			d.record(res, Step{Time: snap.Time, Kind: StepSkip, Type: req.Type.String(), Processor: req.Processor, Task: -1, Segment: -1})
			log.Debug("skipped", "t", snap.Time, "type", req.Type.String(), "proc", req.Processor)
			continue
		}

		proc := dec.Processor
		if proc < 0 {
			proc = snap.FirstIdle(req.Type)
		}
		if proc < 0 {
			res.Stats.InvalidSchedules++
			continue
		}

		preempting := snap.Processors[proc].Busy()
		if err := d.Engine.Schedule(proc, dec.Task, dec.Segment); err != nil {
			var pe *engine.ProtocolError
			if !errors.As(err, &pe) {
				return fmt.Errorf("schedule: %w", err)
			}
			res.Stats.InvalidSchedules++
			d.record(res, Step{Time: snap.Time, Kind: StepReject, Type: req.Type.String(), Processor: proc, Task: dec.Task, Segment: dec.Segment})
			log.Debug("rejected", "t", snap.Time, "type", req.Type.String(), "proc", proc, "task", dec.Task, "seg", dec.Segment, "resp", pe.Response)
			continue
		}

		kind := StepPlace
		if preempting {
			kind = StepPreempt
			res.Stats.Preemptions++
			log.Debug("preempted", "t", snap.Time, "type", req.Type.String(), "proc", proc,
				"task", snap.Processors[proc].Task, "seg", snap.Processors[proc].Segment)
		}
		snap.Assign(proc, dec.Task, dec.Segment)
		res.Stats.Placements++
		d.record(res, Step{Time: snap.Time, Kind: kind, Type: req.Type.String(), Processor: proc, Task: dec.Task, Segment: dec.Segment})
		log.Debug("placed", "t", snap.Time, "type", req.Type.String(), "proc", proc, "task", dec.Task, "seg", dec.Segment)
	}
	return nil
}

// updateLocks unlocks a type when its idle count grew, when one of its
// segments became ready, or at any task's period boundary.
func (d *Driver) updateLocks(prev, next *sched.Snapshot) {
	if d.scheduler.Preemptive() {
		return
	}
	boundary := false
	for _, t := range d.TaskSet.Tasks {
		if next.Time%t.Period == 0 {
			boundary = true
			break
		}
	}
	for t := range d.locks {
		if !d.locks[t] {
			continue
		}
		pt := graph.ProcessorType(t)
		if boundary || next.IdleCount(pt) > prev.IdleCount(pt) || becameReady(prev, next, pt) {
			d.locks[t] = false
		}
	}
}

func becameReady(prev, next *sched.Snapshot, t graph.ProcessorType) bool {
	for i := range next.Tasks {
		for j, seg := range next.Tasks[i].Segments {
			if seg.Type != t || !seg.Ready {
				continue
			}
			if i >= len(prev.Tasks) || j >= len(prev.Tasks[i].Segments) || !prev.Tasks[i].Segments[j].Ready {
				return true
			}
		}
	}
	return false
}

func (d *Driver) record(res *Result, s Step) {
	if d.Config.Trace {
		res.Trace = append(res.Trace, s)
	}
}

// Locked reports whether requests of type t are currently suppressed.
func (d *Driver) Locked(t graph.ProcessorType) bool {
	return d.locks[t]
}
