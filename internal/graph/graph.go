package graph

import (
	"fmt"
	"sort"
)

// New validates a DAG description and builds an immutable Task with its
// adjacency lists. Duplicate edges are collapsed.
func New(id int, name string, period int, segments []Segment, edges []Edge) (*Task, error) {
	label := name
	if label == "" {
		label = fmt.Sprint(id)
	}
	if period <= 0 {
		return nil, &ConfigError{Field: "period", Reason: fmt.Sprintf("task %s has period %d, must be positive", label, period)}
	}
	if len(segments) == 0 {
		return nil, &GraphError{Task: label, Reason: "no segments"}
	}
	for i, s := range segments {
		if !s.Type.Valid() {
			return nil, &GraphError{Task: label, Reason: fmt.Sprintf("segment %d has unknown processor type %d", i, int(s.Type))}
		}
		if s.Length < 0 {
			return nil, &GraphError{Task: label, Reason: fmt.Sprintf("segment %d has negative length %d", i, s.Length)}
		}
	}

	n := len(segments)
	t := &Task{
		ID:       id,
		Name:     name,
		Period:   period,
		Segments: append([]Segment(nil), segments...),
		Succ:     make([][]int, n),
		Pred:     make([][]int, n),
	}

	seen := make(map[Edge]bool)
	for _, e := range edges {
		if e.From < 0 || e.From >= n || e.To < 0 || e.To >= n {
			return nil, &GraphError{Task: label, Reason: fmt.Sprintf("edge %d->%d out of range [0,%d)", e.From, e.To, n)}
		}
		if e.From == e.To {
			return nil, &GraphError{Task: label, Reason: fmt.Sprintf("self edge on segment %d", e.From)}
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		t.Edges = append(t.Edges, e)
		t.Succ[e.From] = append(t.Succ[e.From], e.To)
		t.Pred[e.To] = append(t.Pred[e.To], e.From)
	}

	for i := 0; i < n; i++ {
		sort.Ints(t.Succ[i])
		sort.Ints(t.Pred[i])
		if len(t.Pred[i]) == 0 {
			t.Roots = append(t.Roots, i)
		}
		if len(t.Succ[i]) == 0 {
			t.Leaves = append(t.Leaves, i)
		}
	}

	if cycle := t.DetectCycle(); cycle != nil {
		return nil, &GraphError{Task: label, Reason: "dependency cycle", Cycle: cycle}
	}
	return t, nil
}

// NewSelfSuspending builds a self-suspending task: the segments form a chain
// in the given order.
func NewSelfSuspending(id int, name string, period int, segments []Segment) (*Task, error) {
	edges := make([]Edge, 0, len(segments))
	for i := 1; i < len(segments); i++ {
		edges = append(edges, Edge{From: i - 1, To: i})
	}
	t, err := New(id, name, period, segments, edges)
	if err != nil {
		return nil, err
	}
	t.SelfSuspending = true
	return t, nil
}

// DetectCycle returns the segments of a cycle if one exists, or nil if the
// DAG is acyclic. DFS with white/gray/black colouring.
func (t *Task) DetectCycle() []int {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	n := len(t.Segments)
	color := make([]int, n)
	parent := make([]int, n)

	var dfs func(node int) []int
	dfs = func(node int) []int {
		color[node] = gray
		for _, next := range t.Succ[node] {
			if color[next] == gray {
				cycle := []int{next, node}
				cur := node
				for cur != next {
					cur = parent[cur]
					cycle = append(cycle, cur)
				}
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return cycle
			}
			if color[next] == white {
				parent[next] = node
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}
		color[node] = black
		return nil
	}

	for i := 0; i < n; i++ {
		if color[i] == white {
			if cycle := dfs(i); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// SegmentCount returns the number of segments in the task.
func (t *Task) SegmentCount() int {
	return len(t.Segments)
}

// Label is the task's name, or its id when unnamed.
func (t *Task) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("task%d", t.ID)
}

// TotalLength is the sum of all segment lengths (the task's work per period).
func (t *Task) TotalLength() int {
	total := 0
	for _, s := range t.Segments {
		total += s.Length
	}
	return total
}

// Utilization is the task's work divided by its period.
func (t *Task) Utilization() float64 {
	return float64(t.TotalLength()) / float64(t.Period)
}

// Types returns the distinct processor types the task's segments need, ascending.
func (t *Task) Types() []ProcessorType {
	var used [NumProcessorTypes]bool
	for _, s := range t.Segments {
		used[s.Type] = true
	}
	var out []ProcessorType
	for i, u := range used {
		if u {
			out = append(out, ProcessorType(i))
		}
	}
	return out
}
