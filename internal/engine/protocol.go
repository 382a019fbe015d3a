package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/EHPCL/RTHeter/internal/graph"
)

// Wire command names.
const (
	cmdCreateProcessor = "createProcessor"
	cmdCreateDAGTask   = "createDAGTask"
	cmdSetBound        = "setSimulationTimeBound"
	cmdStart           = "startSimulation"
	cmdTime            = "queryCurrentTimeStamp"
	cmdProcessorStates = "queryProcessorStates"
	cmdProcessorState  = "queryProcessorState"
	cmdTaskState       = "queryTaskState"
	cmdSchedule        = "scheduleSegmentOnProcessor"
	cmdAdvance         = "updateProcessorAndTask"
	cmdCompleted       = "isSimulationCompleted"
	cmdMissed          = "doesTaskMissDeadline"
	cmdReset           = "resetSimulator"
	cmdCreateSSTask    = "createHeterSSTask"
	cmdSSTaskState     = "querySSTaskStates"
	cmdExecution       = "queryTaskExecutionStates"
	cmdVariation       = "setProcessorVariation"
	cmdParallelFactor  = "setProcessorParallelFactor"
	cmdQuit            = "quit"
)

// Wire responses.
const (
	respCreated      = "Created successfully"
	respCreateError  = "Error Occurred"
	respReleased     = "Initial Tasks Released"
	respScheduled    = "Scheduled"
	respScheduleErr  = "Schedule Error!"
	respSet          = "Set"
	respYes          = "Yes"
	respResetOK      = "Success"
	respResetErr     = "Reset Error!"
	respInvalidArgs  = "Argument Error"
	respUnknown      = "Unknown command"
	respExiting      = "Exiting..."
	advanceSeparator = " executed. Updated to timestamp "
)

func isErrorResponse(resp string) bool {
	return strings.Contains(resp, "Error")
}

// encodeDAGTask renders "<period> <n> <m> <len type>... <u v>...".
func encodeDAGTask(t *graph.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %d %d", t.Period, len(t.Segments), len(t.Edges))
	for _, s := range t.Segments {
		fmt.Fprintf(&b, " %d %d", s.Length, int(s.Type))
	}
	for _, e := range t.Edges {
		fmt.Fprintf(&b, " %d %d", e.From, e.To)
	}
	return b.String()
}

// decodeDAGTask parses the createDAGTask arguments into a validated task.
func decodeDAGTask(id int, fields []string) (*graph.Task, error) {
	nums, err := atoiAll(fields)
	if err != nil {
		return nil, err
	}
	if len(nums) < 3 {
		return nil, fmt.Errorf("want <period> <nodes> <edges>, got %d fields", len(nums))
	}
	period, n, m := nums[0], nums[1], nums[2]
	if n < 0 || m < 0 || len(nums) != 3+2*n+2*m {
		return nil, fmt.Errorf("want %d fields for %d nodes and %d edges, got %d", 3+2*n+2*m, n, m, len(nums))
	}
	segs := make([]graph.Segment, n)
	for i := 0; i < n; i++ {
		segs[i] = graph.Segment{Length: nums[3+2*i], Type: graph.ProcessorType(nums[4+2*i])}
	}
	edges := make([]graph.Edge, m)
	base := 3 + 2*n
	for i := 0; i < m; i++ {
		edges[i] = graph.Edge{From: nums[base+2*i], To: nums[base+2*i+1]}
	}
	return graph.New(id, "", period, segs, edges)
}

// encodeSSTask renders "<period> <k> <type>... <len>...", one type per
// segment.
func encodeSSTask(t *graph.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %d", t.Period, len(t.Segments))
	for _, s := range t.Segments {
		fmt.Fprintf(&b, " %s", s.Type)
	}
	for _, s := range t.Segments {
		fmt.Fprintf(&b, " %d", s.Length)
	}
	return b.String()
}

// decodeSSTask parses the createHeterSSTask arguments. Segment i runs on the
// (i mod k)-th listed type.
func decodeSSTask(id int, fields []string) (*graph.Task, error) {
	if len(fields) < 2 {
		return nil, fmt.Errorf("want <period> <types> ..., got %d fields", len(fields))
	}
	head, err := atoiAll(fields[:2])
	if err != nil {
		return nil, err
	}
	period, k := head[0], head[1]
	if k <= 0 || len(fields) < 2+k {
		return nil, fmt.Errorf("want %d processor types, got %d fields", k, len(fields)-2)
	}
	types := make([]graph.ProcessorType, k)
	for i := range types {
		if types[i], err = graph.ParseProcessorType(fields[2+i]); err != nil {
			return nil, err
		}
	}
	lengths, err := atoiAll(fields[2+k:])
	if err != nil {
		return nil, err
	}
	segs := make([]graph.Segment, len(lengths))
	for i, l := range lengths {
		segs[i] = graph.Segment{Type: types[i%k], Length: l}
	}
	return graph.NewSelfSuspending(id, "", period, segs)
}

func encodeProcessorStates(states []ProcessorState) string {
	var b strings.Builder
	for _, p := range states {
		task, seg := 0, 0
		if p.Busy() {
			task, seg = p.Task, p.Segment
		}
		fmt.Fprintf(&b, "%d %d %d %d ", int(p.Type), int(p.Status), task, seg)
	}
	return b.String()
}

func decodeProcessorStates(resp string) ([]ProcessorState, error) {
	nums, err := atoiAll(strings.Fields(resp))
	if err != nil {
		return nil, err
	}
	if len(nums)%4 != 0 {
		return nil, fmt.Errorf("want groups of 4 fields, got %d", len(nums))
	}
	states := make([]ProcessorState, 0, len(nums)/4)
	for i := 0; i < len(nums); i += 4 {
		p := ProcessorState{
			Type:    graph.ProcessorType(nums[i]),
			Status:  Status(nums[i+1]),
			Task:    Unassigned,
			Segment: Unassigned,
		}
		if p.Busy() {
			p.Task, p.Segment = nums[i+2], nums[i+3]
		}
		states = append(states, p)
	}
	return states, nil
}

func encodeTaskState(ts TaskState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d ", ts.Period)
	for _, s := range ts.Segments {
		ready := 0
		if s.Ready {
			ready = 1
		}
		fmt.Fprintf(&b, "%d %d %d %d %d ", int(s.Type), s.Processor, ready, s.Length, s.Remaining)
	}
	return b.String()
}

func decodeTaskState(resp string) (TaskState, error) {
	nums, err := atoiAll(strings.Fields(resp))
	if err != nil {
		return TaskState{}, err
	}
	if len(nums) == 0 || (len(nums)-1)%5 != 0 {
		return TaskState{}, fmt.Errorf("want <period> followed by groups of 5 fields, got %d", len(nums))
	}
	ts := TaskState{Period: nums[0]}
	for i := 1; i < len(nums); i += 5 {
		ts.Segments = append(ts.Segments, SegmentState{
			Type:      graph.ProcessorType(nums[i]),
			Processor: nums[i+1],
			Ready:     nums[i+2] != 0,
			Length:    nums[i+3],
			Remaining: nums[i+4],
		})
	}
	return ts, nil
}

func encodeSSTaskState(ss SelfSuspendingState) string {
	var b strings.Builder
	if ss.Ready == Unassigned {
		fmt.Fprintf(&b, "%d -1 -1 0 ", ss.Period)
	} else {
		fmt.Fprintf(&b, "%d %d %d %d ", ss.Period, ss.Ready, ss.Processor, ss.Remaining)
	}
	for _, s := range ss.Segments {
		fmt.Fprintf(&b, "%d %d ", int(s.Type), s.Length)
	}
	return b.String()
}

func decodeSSTaskState(resp string) (SelfSuspendingState, error) {
	nums, err := atoiAll(strings.Fields(resp))
	if err != nil {
		return SelfSuspendingState{}, err
	}
	if len(nums) < 4 || (len(nums)-4)%2 != 0 {
		return SelfSuspendingState{}, fmt.Errorf("want 4 fields followed by pairs, got %d", len(nums))
	}
	ss := SelfSuspendingState{Period: nums[0], Ready: nums[1], Processor: nums[2], Remaining: nums[3]}
	for i := 4; i < len(nums); i += 2 {
		ss.Segments = append(ss.Segments, SegmentState{Type: graph.ProcessorType(nums[i]), Length: nums[i+1]})
	}
	return ss, nil
}

func encodeInts(nums []int) string {
	var b strings.Builder
	for _, n := range nums {
		fmt.Fprintf(&b, "%d ", n)
	}
	return b.String()
}

// atoiAll parses integer tokens. Fractional progress values, which some
// engines report for variable-speed processors, round up so unfinished work
// never reads as zero.
func atoiAll(fields []string) ([]int, error) {
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			x, ferr := strconv.ParseFloat(f, 64)
			if ferr != nil {
				return nil, fmt.Errorf("field %d: %q is not a number", i, f)
			}
			n = int(math.Ceil(x))
		}
		out[i] = n
	}
	return out, nil
}
