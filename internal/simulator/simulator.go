// Package simulator is an in-process execution engine: it owns simulated
// time, segment progress, periodic release and deadline detection.
package simulator

import (
	"fmt"
	"math/rand"

	"github.com/EHPCL/RTHeter/internal/engine"
	"github.com/EHPCL/RTHeter/internal/graph"
)

// Work is tracked in hundredths of a tick so slowed processors make
// fractional progress.
const scale = 100

// ticks rounds work up to whole ticks.
func ticks(work int) int {
	return (work + scale - 1) / scale
}

type processor struct {
	typ       graph.ProcessorType
	task      int
	seg       int
	variation int // percent
}

func (p *processor) idle() bool { return p.task == engine.Unassigned }

type segment struct {
	remaining int // hundredths
	proc      int
	done      bool
}

type task struct {
	def      *graph.Task
	segs     []segment
	deadline int // absolute deadline of the current instance
	released bool
}

func (t *task) finished() bool {
	for i := range t.segs {
		if !t.segs[i].done {
			return false
		}
	}
	return true
}

// remaining is the task's unfinished work in whole ticks.
func (t *task) remaining() int {
	total := 0
	for i := range t.segs {
		total += ticks(t.segs[i].remaining)
	}
	return total
}

// executed is the work done on the current instance in whole ticks.
func (t *task) executed() int {
	done := 0
	for j := range t.segs {
		done += t.def.Segments[j].Length*scale - t.segs[j].remaining
	}
	return done / scale
}

func newSegment(length int) segment {
	return segment{remaining: length * scale, proc: engine.Unassigned, done: length == 0}
}

func (t *task) ready(j int) bool {
	if !t.released || t.segs[j].done {
		return false
	}
	for _, p := range t.def.Pred[j] {
		if !t.segs[p].done {
			return false
		}
	}
	return true
}

// Simulator implements engine.Engine in memory.
type Simulator struct {
	procs   []*processor
	tasks   []*task
	factors [graph.NumProcessorTypes]int
	time    int
	bound   int
	started bool
	missed  bool

	seed int64
	rng  *rand.Rand
}

var _ engine.Engine = (*Simulator)(nil)

// Option configures a Simulator.
type Option func(*Simulator)

// WithSeed seeds the execution-time variation. Runs with the same seed and
// the same decisions are identical.
func WithSeed(seed int64) Option {
	return func(s *Simulator) { s.seed = seed }
}

// New returns an empty simulator.
func New(opts ...Option) *Simulator {
	s := &Simulator{seed: 1}
	for _, opt := range opts {
		opt(s)
	}
	s.rng = rand.New(rand.NewSource(s.seed))
	return s
}

func reject(command, reason string) error {
	return &engine.ProtocolError{Command: command, Response: reason}
}

func (s *Simulator) CreateProcessors(t graph.ProcessorType, count int) error {
	if !t.Valid() || count <= 0 {
		return reject("createProcessor", fmt.Sprintf("Error Occurred: %d of type %v", count, t))
	}
	for i := 0; i < count; i++ {
		s.procs = append(s.procs, &processor{typ: t, task: engine.Unassigned, seg: engine.Unassigned})
	}
	return nil
}

// CreateDAGTask registers a task under the next sequential id, ignoring t.ID.
func (s *Simulator) CreateDAGTask(t *graph.Task) error {
	if t == nil || t.Period <= 0 || len(t.Segments) == 0 {
		return reject("createDAGTask", "Error Occurred: invalid task")
	}
	nt := &task{def: t, segs: make([]segment, len(t.Segments))}
	for j := range nt.segs {
		nt.segs[j] = newSegment(t.Segments[j].Length)
		nt.segs[j].done = false
	}
	s.tasks = append(s.tasks, nt)
	return nil
}

func (s *Simulator) SetTimeBound(ticks int) error {
	if ticks < 0 {
		return reject("setSimulationTimeBound", "Argument Error: negative bound")
	}
	s.bound = ticks
	return nil
}

// Start releases every task whose period divides the current time.
func (s *Simulator) Start() error {
	s.started = true
	s.release()
	return nil
}

func (s *Simulator) CurrentTime() (int, error) {
	return s.time, nil
}

func (s *Simulator) ProcessorStates() ([]engine.ProcessorState, error) {
	out := make([]engine.ProcessorState, len(s.procs))
	for i, p := range s.procs {
		st := engine.ProcessorState{Type: p.typ, Status: engine.Idle, Task: engine.Unassigned, Segment: engine.Unassigned}
		if !p.idle() {
			st.Task, st.Segment = p.task, p.seg
			st.Status = engine.BusyNonPreemptive
			if p.typ.Preemptive() {
				st.Status = engine.BusyPreemptive
			}
		}
		out[i] = st
	}
	return out, nil
}

func (s *Simulator) TaskState(id int) (engine.TaskState, error) {
	if id < 0 || id >= len(s.tasks) {
		return engine.TaskState{}, reject("queryTaskState", fmt.Sprintf("Argument Error: task %d out of range", id))
	}
	t := s.tasks[id]
	ts := engine.TaskState{Period: t.def.Period, Segments: make([]engine.SegmentState, len(t.segs))}
	for j, seg := range t.segs {
		ts.Segments[j] = engine.SegmentState{
			Type:      t.def.Segments[j].Type,
			Processor: seg.proc,
			Ready:     t.ready(j),
			Length:    t.def.Segments[j].Length,
			Remaining: ticks(seg.remaining),
		}
	}
	return ts, nil
}

// Schedule places segment seg of task on processor proc. A preemptive
// occupant is unassigned with its progress kept.
func (s *Simulator) Schedule(proc, taskID, seg int) error {
	const command = "scheduleSegmentOnProcessor"
	if proc < 0 || proc >= len(s.procs) || taskID < 0 || taskID >= len(s.tasks) {
		return reject(command, "Schedule Error! id out of range")
	}
	t := s.tasks[taskID]
	if seg < 0 || seg >= len(t.segs) {
		return reject(command, "Schedule Error! segment out of range")
	}
	p := s.procs[proc]
	sg := &t.segs[seg]
	switch {
	case sg.proc != engine.Unassigned:
		return reject(command, "Schedule Error! segment already assigned")
	case t.def.Segments[seg].Type != p.typ:
		return reject(command, "Schedule Error! affinity mismatch")
	case !t.ready(seg):
		return reject(command, "Schedule Error! segment not ready")
	case !p.idle() && !p.typ.Preemptive():
		return reject(command, "Schedule Error! processor busy")
	}

	if !p.idle() {
		s.tasks[p.task].segs[p.seg].proc = engine.Unassigned
	}
	p.task, p.seg = taskID, seg
	sg.proc = proc
	return nil
}

// SetParallelFactor sets the slowdown of type t under parallel load.
func (s *Simulator) SetParallelFactor(t graph.ProcessorType, factor int) error {
	if !t.Valid() || factor < 0 || factor > 100 {
		return reject("setProcessorParallelFactor", fmt.Sprintf("Argument Error: factor %d for type %v", factor, t))
	}
	s.factors[t] = factor
	return nil
}

// SetVariation sets how much slower than nominal processor proc may run.
func (s *Simulator) SetVariation(proc, variation int) error {
	if proc < 0 || proc >= len(s.procs) || variation < 0 || variation > 100 {
		return reject("setProcessorVariation", fmt.Sprintf("Argument Error: variation %d for processor %d", variation, proc))
	}
	s.procs[proc].variation = variation
	return nil
}

func (s *Simulator) ExecutionStates() ([]int, error) {
	out := make([]int, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = t.executed()
	}
	return out, nil
}

// rate is the work, in hundredths, p completes this tick while busy
// processors of its type are running.
func (s *Simulator) rate(p *processor, busy int) int {
	r := scale - (busy-1)*s.factors[p.typ]
	if p.variation > 0 {
		r = r * (scale - s.rng.Intn(p.variation+1)) / scale
	}
	if r < 0 {
		return 0
	}
	return r
}

// Advance executes one tick on every busy processor, moves time forward,
// checks deadlines and releases the tasks whose period boundary is reached.
// It returns the number of busy processors.
func (s *Simulator) Advance() (int, error) {
	if !s.started {
		return 0, reject("updateProcessorAndTask", "Simulation Error: not started")
	}

	var busy [graph.NumProcessorTypes]int
	for _, p := range s.procs {
		if !p.idle() {
			busy[p.typ]++
		}
	}

	executed := 0
	for _, p := range s.procs {
		if p.idle() {
			continue
		}
		sg := &s.tasks[p.task].segs[p.seg]
		sg.remaining -= s.rate(p, busy[p.typ])
		executed++
		if sg.remaining <= 0 {
			sg.remaining = 0
			sg.done = true
			sg.proc = engine.Unassigned
			p.task, p.seg = engine.Unassigned, engine.Unassigned
		}
	}

	s.time++

	for _, t := range s.tasks {
		if !t.released || t.finished() {
			continue
		}
		parallelism := len(s.procs)
		if t.def.SelfSuspending || parallelism < 1 {
			parallelism = 1
		}
		if s.time > t.deadline || s.time+t.remaining()/parallelism > t.deadline {
			s.missed = true
		}
	}

	s.release()
	return executed, nil
}

// release starts a new instance of every task at its period boundary. An
// unfinished previous instance is a deadline miss.
func (s *Simulator) release() {
	for _, t := range s.tasks {
		if s.time%t.def.Period != 0 {
			continue
		}
		if t.released && !t.finished() {
			s.missed = true
		}
		for j := range t.segs {
			if p := t.segs[j].proc; p != engine.Unassigned {
				s.procs[p].task, s.procs[p].seg = engine.Unassigned, engine.Unassigned
			}
			t.segs[j] = newSegment(t.def.Segments[j].Length)
		}
		t.released = true
		t.deadline = s.time + t.def.Period
	}
}

func (s *Simulator) Completed() (bool, error) {
	return s.started && s.time >= s.bound, nil
}

func (s *Simulator) Missed() (bool, error) {
	return s.missed, nil
}

// Reset rewinds to t=0, frees every processor, reseeds the variation and
// re-releases a started run. Speed settings are kept.
func (s *Simulator) Reset() error {
	s.time = 0
	s.missed = false
	s.rng = rand.New(rand.NewSource(s.seed))
	for _, p := range s.procs {
		p.task, p.seg = engine.Unassigned, engine.Unassigned
	}
	for _, t := range s.tasks {
		t.released = false
		for j := range t.segs {
			t.segs[j] = newSegment(t.def.Segments[j].Length)
			t.segs[j].done = false
		}
	}
	if s.started {
		s.release()
	}
	return nil
}

func (s *Simulator) Close() error {
	return nil
}
