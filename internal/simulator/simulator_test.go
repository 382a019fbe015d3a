package simulator

import (
	"errors"
	"testing"

	"github.com/EHPCL/RTHeter/internal/engine"
	"github.com/EHPCL/RTHeter/internal/graph"
)

func mustTask(t *testing.T, id, period int, segs []graph.Segment, edges []graph.Edge) *graph.Task {
	t.Helper()
	task, err := graph.New(id, "", period, segs, edges)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return task
}

// newChainSim sets up one CPU, one GPU and a CPU-only chain A->B with
// lengths 2 and 3, period 20.
func newChainSim(t *testing.T) *Simulator {
	t.Helper()
	s := New()
	if err := s.CreateProcessors(graph.CPU, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateProcessors(graph.GPU, 1); err != nil {
		t.Fatal(err)
	}
	task := mustTask(t, 0, 20, []graph.Segment{{Type: graph.CPU, Length: 2}, {Type: graph.CPU, Length: 3}}, []graph.Edge{{From: 0, To: 1}})
	if err := s.CreateDAGTask(task); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTimeBound(40); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	return s
}

func assertRejected(t *testing.T, err error) {
	t.Helper()
	var pe *engine.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *engine.ProtocolError, got %v", err)
	}
}

func TestStart_ReleasesRoots(t *testing.T) {
	s := newChainSim(t)
	ts, err := s.TaskState(0)
	if err != nil {
		t.Fatal(err)
	}
	if !ts.Segments[0].Ready || ts.Segments[1].Ready {
		t.Errorf("expected only segment 0 ready, got %+v", ts.Segments)
	}
	if ts.Segments[0].Processor != engine.Unassigned || ts.Segments[0].Remaining != 2 {
		t.Errorf("unexpected segment 0 state %+v", ts.Segments[0])
	}
}

func TestSchedule_Rejections(t *testing.T) {
	s := newChainSim(t)

	assertRejected(t, s.Schedule(1, 0, 0)) // GPU for a CPU segment
	assertRejected(t, s.Schedule(0, 0, 1)) // not ready
	assertRejected(t, s.Schedule(5, 0, 0)) // no such processor
	assertRejected(t, s.Schedule(0, 3, 0)) // no such task

	if err := s.Schedule(0, 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertRejected(t, s.Schedule(0, 0, 0)) // already assigned

	states, _ := s.ProcessorStates()
	if states[0].Status != engine.BusyPreemptive || states[0].Task != 0 || states[0].Segment != 0 {
		t.Errorf("unexpected CPU state %+v", states[0])
	}
	if states[1].Busy() {
		t.Errorf("GPU should be idle, got %+v", states[1])
	}
}

func TestAdvance_CompletesAndReadiesSuccessor(t *testing.T) {
	s := newChainSim(t)
	if err := s.Schedule(0, 0, 0); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		n, err := s.Advance()
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("tick %d: expected 1 unit executed, got %d", i, n)
		}
	}

	now, _ := s.CurrentTime()
	if now != 2 {
		t.Errorf("expected time 2, got %d", now)
	}
	states, _ := s.ProcessorStates()
	if states[0].Busy() {
		t.Error("CPU should be idle after segment 0 completes")
	}
	ts, _ := s.TaskState(0)
	if ts.Segments[0].Ready || ts.Segments[0].Remaining != 0 {
		t.Errorf("segment 0 should be complete, got %+v", ts.Segments[0])
	}
	if !ts.Segments[1].Ready {
		t.Error("segment 1 should be ready")
	}
}

func TestSchedule_PreemptionKeepsProgress(t *testing.T) {
	s := New()
	s.CreateProcessors(graph.CPU, 1)
	long := mustTask(t, 0, 30, []graph.Segment{{Type: graph.CPU, Length: 4}}, nil)
	short := mustTask(t, 1, 30, []graph.Segment{{Type: graph.CPU, Length: 1}}, nil)
	s.CreateDAGTask(long)
	s.CreateDAGTask(short)
	s.SetTimeBound(30)
	s.Start()

	if err := s.Schedule(0, 0, 0); err != nil {
		t.Fatal(err)
	}
	s.Advance()
	if err := s.Schedule(0, 1, 0); err != nil {
		t.Fatalf("preemption rejected: %v", err)
	}

	ts, _ := s.TaskState(0)
	if ts.Segments[0].Processor != engine.Unassigned || ts.Segments[0].Remaining != 3 {
		t.Errorf("preempted segment should be unassigned with 3 left, got %+v", ts.Segments[0])
	}
	if !ts.Segments[0].Ready {
		t.Error("preempted segment should stay ready")
	}
}

func TestSchedule_NonPreemptiveProcessorRejects(t *testing.T) {
	s := New()
	s.CreateProcessors(graph.GPU, 1)
	s.CreateDAGTask(mustTask(t, 0, 30, []graph.Segment{{Type: graph.GPU, Length: 4}}, nil))
	s.CreateDAGTask(mustTask(t, 1, 30, []graph.Segment{{Type: graph.GPU, Length: 1}}, nil))
	s.SetTimeBound(30)
	s.Start()

	if err := s.Schedule(0, 0, 0); err != nil {
		t.Fatal(err)
	}
	assertRejected(t, s.Schedule(0, 1, 0))

	states, _ := s.ProcessorStates()
	if states[0].Status != engine.BusyNonPreemptive {
		t.Errorf("expected busy-nonpreemptive, got %v", states[0].Status)
	}
}

func TestAdvance_OverloadMisses(t *testing.T) {
	s := New()
	s.CreateProcessors(graph.CPU, 1)
	s.CreateDAGTask(mustTask(t, 0, 5, []graph.Segment{{Type: graph.CPU, Length: 3}, {Type: graph.CPU, Length: 3}}, []graph.Edge{{From: 0, To: 1}}))
	s.SetTimeBound(1000)
	s.Start()

	s.Schedule(0, 0, 0)
	s.Advance()
	missed, _ := s.Missed()
	if !missed {
		t.Error("expected a pessimistic miss at t=1 (1 + 5 > 5)")
	}
}

func TestAdvance_UnfinishedAtReleaseMisses(t *testing.T) {
	s := New()
	s.CreateProcessors(graph.CPU, 2)
	s.CreateDAGTask(mustTask(t, 0, 3, []graph.Segment{{Type: graph.CPU, Length: 1}}, nil))
	s.SetTimeBound(100)
	s.Start()

	// never scheduled: remaining 1 / 2 processors rounds to 0, so only the
	// release at t=3 notices
	for i := 0; i < 2; i++ {
		s.Advance()
		if missed, _ := s.Missed(); missed {
			t.Fatalf("unexpected miss at t=%d", i+1)
		}
	}
	s.Advance()
	if missed, _ := s.Missed(); !missed {
		t.Error("expected a miss when the unfinished instance is re-released")
	}
}

func TestCompletedAndReset(t *testing.T) {
	s := New()
	s.CreateProcessors(graph.CPU, 1)
	s.CreateDAGTask(mustTask(t, 0, 2, []graph.Segment{{Type: graph.CPU, Length: 1}}, nil))
	s.SetTimeBound(4)
	s.Start()

	for now := 0; now < 4; now++ {
		if done, _ := s.Completed(); done {
			t.Fatalf("completed early at t=%d", now)
		}
		if now%2 == 0 {
			if err := s.Schedule(0, 0, 0); err != nil {
				t.Fatalf("t=%d: %v", now, err)
			}
		}
		s.Advance()
	}
	if done, _ := s.Completed(); !done {
		t.Error("expected completion at the bound")
	}
	if missed, _ := s.Missed(); missed {
		t.Error("unexpected miss")
	}

	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	if now, _ := s.CurrentTime(); now != 0 {
		t.Errorf("expected time 0 after reset, got %d", now)
	}
	ts, _ := s.TaskState(0)
	if !ts.Segments[0].Ready || ts.Segments[0].Remaining != 1 {
		t.Errorf("expected a fresh released instance, got %+v", ts.Segments[0])
	}
}

func TestAdvance_BeforeStart(t *testing.T) {
	s := New()
	_, err := s.Advance()
	assertRejected(t, err)
}

func TestZeroLengthSegmentIsComplete(t *testing.T) {
	s := New()
	s.CreateProcessors(graph.CPU, 1)
	s.CreateDAGTask(mustTask(t, 0, 10, []graph.Segment{{Type: graph.CPU, Length: 0}, {Type: graph.CPU, Length: 1}}, []graph.Edge{{From: 0, To: 1}}))
	s.SetTimeBound(10)
	s.Start()

	ts, _ := s.TaskState(0)
	if ts.Segments[0].Ready || !ts.Segments[1].Ready {
		t.Errorf("zero-length source should count as done, got %+v", ts.Segments)
	}
}

func TestAdvance_ParallelFactorSlowsBusyProcessors(t *testing.T) {
	s := New()
	s.CreateProcessors(graph.CPU, 2)
	for id := 0; id < 2; id++ {
		s.CreateDAGTask(mustTask(t, id, 20, []graph.Segment{{Type: graph.CPU, Length: 2}}, nil))
	}
	if err := s.SetParallelFactor(graph.CPU, 50); err != nil {
		t.Fatal(err)
	}
	assertRejected(t, s.SetParallelFactor(graph.CPU, 101))
	s.SetTimeBound(20)
	s.Start()
	s.Schedule(0, 0, 0)
	s.Schedule(1, 1, 0)

	// two busy CPUs: each runs at half speed
	for i := 0; i < 2; i++ {
		if n, err := s.Advance(); err != nil || n != 2 {
			t.Fatalf("advance %d: n=%d err=%v", i, n, err)
		}
	}
	ts, _ := s.TaskState(0)
	if ts.Segments[0].Remaining != 1 {
		t.Errorf("expected 1 tick left at half speed, got %d", ts.Segments[0].Remaining)
	}
	executed, err := s.ExecutionStates()
	if err != nil {
		t.Fatal(err)
	}
	if len(executed) != 2 || executed[0] != 1 || executed[1] != 1 {
		t.Errorf("expected [1 1] executed, got %v", executed)
	}

	s.Advance()
	s.Advance()
	states, _ := s.ProcessorStates()
	if states[0].Busy() || states[1].Busy() {
		t.Errorf("expected both segments finished after 4 ticks, got %+v", states)
	}
	executed, _ = s.ExecutionStates()
	if executed[0] != 2 || executed[1] != 2 {
		t.Errorf("expected [2 2] executed, got %v", executed)
	}
}

func TestAdvance_VariationIsSeeded(t *testing.T) {
	runOnce := func(s *Simulator) int {
		s.Schedule(0, 0, 0)
		for i := 0; i < 10; i++ {
			s.Advance()
		}
		executed, _ := s.ExecutionStates()
		return executed[0]
	}
	build := func() *Simulator {
		s := New(WithSeed(7))
		s.CreateProcessors(graph.CPU, 1)
		s.CreateDAGTask(mustTask(t, 0, 100, []graph.Segment{{Type: graph.CPU, Length: 10}}, nil))
		if err := s.SetVariation(0, 50); err != nil {
			t.Fatal(err)
		}
		s.SetTimeBound(100)
		s.Start()
		return s
	}
	assertRejected(t, New().SetVariation(0, 10)) // no processors yet

	a, b := build(), build()
	first := runOnce(a)
	if first < 5 || first > 10 {
		t.Errorf("executed work %d outside [5,10] for 50%% variation", first)
	}
	if second := runOnce(b); second != first {
		t.Errorf("same seed gave %d and %d", first, second)
	}

	if err := a.Reset(); err != nil {
		t.Fatal(err)
	}
	if again := runOnce(a); again != first {
		t.Errorf("reset should replay the same variation, got %d want %d", again, first)
	}
}

func TestAdvance_SelfSuspendingRunsOneSegmentAtATime(t *testing.T) {
	build := func(task *graph.Task) *Simulator {
		s := New()
		s.CreateProcessors(graph.CPU, 2)
		if err := s.CreateDAGTask(task); err != nil {
			t.Fatal(err)
		}
		s.SetTimeBound(12)
		s.Start()
		return s
	}
	segs := []graph.Segment{{Type: graph.CPU, Length: 3}, {Type: graph.CPU, Length: 3}}

	ss, err := graph.NewSelfSuspending(0, "", 6, segs)
	if err != nil {
		t.Fatal(err)
	}
	dag := mustTask(t, 0, 6, segs, nil)

	// one idle tick leaves 6 ticks of chained work for 5 ticks of window
	suspending, parallel := build(ss), build(dag)
	suspending.Advance()
	parallel.Advance()

	if missed, _ := suspending.Missed(); !missed {
		t.Error("self-suspending task cannot catch up and should miss")
	}
	if missed, _ := parallel.Missed(); missed {
		t.Error("parallel task can still finish on two CPUs")
	}
}
