// Package taskset loads processor mixes and DAG task sets from HCL or JSON
// files.
package taskset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/EHPCL/RTHeter/internal/graph"
)

// TaskSet is a processor mix plus the periodic DAG tasks to run on it. Task
// ids equal their position in Tasks.
type TaskSet struct {
	Name       string                 `json:"name"`
	Processors []graph.ProcessorGroup `json:"processors"`
	Tasks      []*graph.Task          `json:"tasks"`
}

// Load reads a task-set file. Files ending in .json are JSON, everything
// else is HCL.
func Load(path string) (*TaskSet, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task set: %w", err)
	}
	return Parse(path, src)
}

// Parse decodes src, picking the format from the file name's extension.
func Parse(filename string, src []byte) (*TaskSet, error) {
	var (
		ts  *TaskSet
		err error
	)
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		ts, err = parseJSON(src)
	} else {
		ts, err = parseHCL(filename, src)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if ts.Name == "" {
		ts.Name = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	if err := ts.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return ts, nil
}

// New assembles a task set from already-built tasks, sorting and validating
// the processor groups.
func New(name string, processors []graph.ProcessorGroup, tasks []*graph.Task) (*TaskSet, error) {
	ts := &TaskSet{Name: name, Tasks: tasks}
	for _, g := range processors {
		if err := ts.addProcessors(g); err != nil {
			return nil, err
		}
	}
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	return ts, nil
}

func (ts *TaskSet) addProcessors(g graph.ProcessorGroup) error {
	t, count := g.Type, g.Count
	if !t.Valid() {
		return &graph.ConfigError{Field: "processor type", Reason: fmt.Sprintf("%d is not a known type", int(t))}
	}
	if count <= 0 {
		return &graph.ConfigError{Field: "processor count", Reason: fmt.Sprintf("%s has %d, must be positive", t, count)}
	}
	if g.ParallelFactor < 0 || g.ParallelFactor > 100 {
		return &graph.ConfigError{Field: "parallel_factor", Reason: fmt.Sprintf("%s has %d, must be a percentage", t, g.ParallelFactor)}
	}
	if g.Variation < 0 || g.Variation > 100 {
		return &graph.ConfigError{Field: "variation", Reason: fmt.Sprintf("%s has %d, must be a percentage", t, g.Variation)}
	}
	for _, have := range ts.Processors {
		if have.Type == t {
			return &graph.ConfigError{Field: "processor", Reason: fmt.Sprintf("%s declared twice", t)}
		}
	}
	ts.Processors = append(ts.Processors, g)
	sort.Slice(ts.Processors, func(i, j int) bool { return ts.Processors[i].Type < ts.Processors[j].Type })
	return nil
}

// Validate checks that the set is runnable: at least one processor and one
// task, sequential task ids, and a processor for every segment's type.
func (ts *TaskSet) Validate() error {
	if len(ts.Processors) == 0 {
		return &graph.ConfigError{Field: "processors", Reason: "none declared"}
	}
	if len(ts.Tasks) == 0 {
		return &graph.ConfigError{Field: "tasks", Reason: "none declared"}
	}
	for i, t := range ts.Tasks {
		if t.ID != i {
			return &graph.ConfigError{Field: "task id", Reason: fmt.Sprintf("task at position %d has id %d", i, t.ID)}
		}
		for _, pt := range t.Types() {
			if ts.Count(pt) == 0 {
				return &graph.ConfigError{
					Field:  "processors",
					Reason: fmt.Sprintf("task %s needs %s but none are declared", t.Label(), pt),
				}
			}
		}
	}
	return nil
}

// Count returns the number of processors of type t.
func (ts *TaskSet) Count(t graph.ProcessorType) int {
	for _, g := range ts.Processors {
		if g.Type == t {
			return g.Count
		}
	}
	return 0
}

// ProcessorCount returns the total number of processors.
func (ts *TaskSet) ProcessorCount() int {
	n := 0
	for _, g := range ts.Processors {
		n += g.Count
	}
	return n
}

// Utilization is the summed utilization of all tasks.
func (ts *TaskSet) Utilization() float64 {
	u := 0.0
	for _, t := range ts.Tasks {
		u += t.Utilization()
	}
	return u
}

// MinPeriod returns the shortest task period.
func (ts *TaskSet) MinPeriod() int {
	min := 0
	for _, t := range ts.Tasks {
		if min == 0 || t.Period < min {
			min = t.Period
		}
	}
	return min
}
