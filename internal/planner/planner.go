package planner

import (
	"fmt"
	"time"

	"github.com/EHPCL/RTHeter/internal/cpm"
	"github.com/EHPCL/RTHeter/internal/deadline"
	"github.com/EHPCL/RTHeter/internal/graph"
)

// Generate analyses every task and assigns its deadline table. A nil
// precision takes deadline.DefaultPrecision.
func Generate(tasks []*graph.Task, config PlanConfig) (*Plan, error) {
	digits := deadline.Digits(config.Precision)
	config.Precision = &digits
	config.StrategyName = config.Strategy.String()

	assigner, err := deadline.NewAssigner(config.Strategy, digits)
	if err != nil {
		return nil, err
	}

	id := config.Name
	if id == "" {
		id = "taskset"
	}
	plan := &Plan{
		ID:         fmt.Sprintf("%s-%s", id, time.Now().Format("2006-01-02-150405")),
		CreatedAt:  time.Now(),
		TotalTasks: len(tasks),
		Config:     config,
	}

	for _, task := range tasks {
		metrics, err := cpm.Analyze(task)
		if err != nil {
			return nil, fmt.Errorf("analyze task %s: %w", task.Label(), err)
		}
		table, err := assigner.Assign(task, metrics)
		if err != nil {
			return nil, fmt.Errorf("assign deadlines for task %s: %w", task.Label(), err)
		}

		pt := PlannedTask{
			ID:            task.ID,
			Name:          task.Label(),
			Period:        task.Period,
			Utilization:   task.Utilization(),
			Span:          metrics.Span,
			Feasible:      metrics.Span <= task.Period,
			CriticalChain: metrics.CriticalChain,
			Deadlines:     table,
			Task:          task,
			Metrics:       metrics,
		}
		for j, seg := range task.Segments {
			pt.Segments = append(pt.Segments, PlannedSegment{
				Index:         j,
				Name:          seg.Name,
				Type:          seg.Type.String(),
				Length:        seg.Length,
				CriticalPath:  metrics.CriticalPath[j],
				FutureWork:    metrics.FutureWork[j],
				CriticalNodes: metrics.CriticalNodes[j],
				FutureNodes:   metrics.FutureNodes[j],
				Deadline:      table[j],
				IsCritical:    metrics.Critical[j],
			})
		}
		plan.Utilization += pt.Utilization
		plan.Tasks = append(plan.Tasks, pt)
	}

	return plan, nil
}

// Deadlines returns the deadline tables indexed by task position.
func (p *Plan) Deadlines() []deadline.Table {
	out := make([]deadline.Table, len(p.Tasks))
	for i, t := range p.Tasks {
		out[i] = t.Deadlines
	}
	return out
}

// Periods returns the task periods indexed by task position.
func (p *Plan) Periods() []int {
	out := make([]int, len(p.Tasks))
	for i, t := range p.Tasks {
		out[i] = t.Period
	}
	return out
}

// MinPeriod returns the shortest period, or 0 for an empty plan.
func (p *Plan) MinPeriod() int {
	min := 0
	for _, t := range p.Tasks {
		if min == 0 || t.Period < min {
			min = t.Period
		}
	}
	return min
}
