// Package engine defines the contract of the authoritative execution
// simulator and speaks it over a line-oriented text protocol.
package engine

import (
	"fmt"

	"github.com/EHPCL/RTHeter/internal/graph"
)

// Unassigned marks a segment that is not placed on any processor.
const Unassigned = -1

// Status is a processor's occupancy as reported by the engine.
type Status int

const (
	Idle Status = iota
	BusyPreemptive
	BusyNonPreemptive
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case BusyPreemptive:
		return "busy-preemptive"
	case BusyNonPreemptive:
		return "busy-nonpreemptive"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ProcessorState is one processor's entry in a state query. Task and Segment
// are only meaningful while the processor is busy.
type ProcessorState struct {
	Type    graph.ProcessorType
	Status  Status
	Task    int
	Segment int
}

// Busy reports whether the processor is running a segment.
func (p ProcessorState) Busy() bool {
	return p.Status != Idle
}

// SegmentState is the live view of one segment of a released task instance.
type SegmentState struct {
	Type      graph.ProcessorType
	Processor int
	Ready     bool
	Length    int
	Remaining int
}

// TaskState is the live view of one task.
type TaskState struct {
	Period   int
	Segments []SegmentState
}

// SelfSuspendingState is the compact view of a self-suspending task: its
// first ready segment, if any, and every segment's type and length.
type SelfSuspendingState struct {
	Period    int
	Ready     int // index of the first ready segment, or Unassigned
	Processor int // processor running the ready segment, or Unassigned
	Remaining int
	Segments  []SegmentState // Type and Length only
}

// SelfSuspendingStateOf condenses a full task state.
func SelfSuspendingStateOf(ts TaskState) SelfSuspendingState {
	ss := SelfSuspendingState{Period: ts.Period, Ready: Unassigned, Processor: Unassigned}
	for j, seg := range ts.Segments {
		if ss.Ready == Unassigned && seg.Ready && seg.Remaining > 0 {
			ss.Ready, ss.Processor, ss.Remaining = j, seg.Processor, seg.Remaining
		}
		ss.Segments = append(ss.Segments, SegmentState{Type: seg.Type, Length: seg.Length})
	}
	return ss
}

// Engine is the authoritative simulator that owns time, segment progress and
// deadline detection. Calls are synchronous; at most one is outstanding.
type Engine interface {
	CreateProcessors(t graph.ProcessorType, count int) error
	CreateDAGTask(t *graph.Task) error
	SetTimeBound(ticks int) error
	Start() error

	CurrentTime() (int, error)
	ProcessorStates() ([]ProcessorState, error)
	TaskState(id int) (TaskState, error)

	// Schedule places a segment on a processor, preempting a preemptive
	// occupant.
	Schedule(proc, task, seg int) error
	// Advance executes one time unit and returns the units executed.
	Advance() (int, error)

	// SetParallelFactor slows every busy processor of type t by factor
	// percent for each other busy processor of that type.
	SetParallelFactor(t graph.ProcessorType, factor int) error
	// SetVariation lets processor proc run up to variation percent slower
	// than nominal in any tick.
	SetVariation(proc, variation int) error
	// ExecutionStates reports the work each task has executed in its
	// current instance, by task id.
	ExecutionStates() ([]int, error)

	Completed() (bool, error)
	Missed() (bool, error)
	Reset() error
	Close() error
}

// ProtocolError is an error response from the engine. It is recoverable: the
// engine's state is unchanged by the rejected command.
type ProtocolError struct {
	Command  string
	Response string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("engine %s: %s", e.Command, e.Response)
}
