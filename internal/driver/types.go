package driver

import (
	"fmt"
	"strings"

	"github.com/EHPCL/RTHeter/internal/deadline"
)

// Policy selects the scheduler.
type Policy int

const (
	EDF Policy = iota
	RM
	RMNonPreemptive
	FIFO
)

func (p Policy) String() string {
	switch p {
	case EDF:
		return "edf"
	case RM:
		return "rm"
	case RMNonPreemptive:
		return "rm-np"
	case FIFO:
		return "fifo"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy resolves a policy name.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "edf", "":
		return EDF, nil
	case "rm", "ratemonotonic", "rate-monotonic":
		return RM, nil
	case "rm-np", "rmnp", "rm-nonpreemptive":
		return RMNonPreemptive, nil
	case "fifo":
		return FIFO, nil
	}
	return EDF, fmt.Errorf("unknown policy %q (want edf, rm, rm-np or fifo)", name)
}

// DefaultHorizonFactor is how many shortest periods a run simulates.
const DefaultHorizonFactor = 200

// Config holds driver configuration. Zero values take defaults.
type Config struct {
	Policy        Policy
	Strategy      deadline.Strategy
	Precision     *int // nil takes deadline.DefaultPrecision
	HorizonFactor int  // horizon = shortest period * HorizonFactor
	Horizon       int  // explicit horizon in ticks, overrides HorizonFactor
	Trace         bool
}

// Outcome is how a run ended. Unschedulable is a normal result, not an error.
type Outcome int

const (
	OutcomeSchedulable Outcome = iota
	OutcomeUnschedulable
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSchedulable:
		return "schedulable"
	case OutcomeUnschedulable:
		return "unschedulable"
	case OutcomeAborted:
		return "aborted"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Stats counts what happened during a run.
type Stats struct {
	Epochs           int `json:"epochs"`
	Placements       int `json:"placements"`
	Preemptions      int `json:"preemptions"`
	Skips            int `json:"skips"`
	InvalidSchedules int `json:"invalid_schedules"`
	ProtocolErrors   int `json:"protocol_errors"`
	Executed         int `json:"executed"`
}

// Step kinds recorded in a trace.
const (
	StepPlace   = "place"
	StepPreempt = "preempt"
	StepSkip    = "skip"
	StepReject  = "reject"
)

// Step is one scheduler decision as applied to the engine.
type Step struct {
	Time      int    `json:"t"`
	Kind      string `json:"kind"`
	Type      string `json:"type"`
	Processor int    `json:"proc"`
	Task      int    `json:"task"`
	Segment   int    `json:"seg"`
}

// Result summarises a finished run.
type Result struct {
	TaskSet  string  `json:"taskset"`
	Policy   string  `json:"policy"`
	Strategy string  `json:"strategy"`
	Outcome  Outcome `json:"-"`
	Time     int     `json:"time"`
	Horizon  int     `json:"horizon"`
	Stats    Stats   `json:"stats"`
	Trace    []Step  `json:"trace,omitempty"`

	// Progress is the work each task has executed, by task id, as reported
	// by the engine when the run ended.
	Progress []int `json:"progress,omitempty"`

	OutcomeName string `json:"outcome"`
}
