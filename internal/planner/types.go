package planner

import (
	"time"

	"github.com/EHPCL/RTHeter/internal/cpm"
	"github.com/EHPCL/RTHeter/internal/deadline"
	"github.com/EHPCL/RTHeter/internal/graph"
)

// Plan is the static analysis of a task set: structural metrics and internal
// deadlines for every segment.
type Plan struct {
	ID          string        `json:"id"`
	CreatedAt   time.Time     `json:"created_at"`
	TotalTasks  int           `json:"total_tasks"`
	Utilization float64       `json:"utilization"`
	Tasks       []PlannedTask `json:"tasks"`
	Config      PlanConfig    `json:"config"`
}

// PlannedTask is one analysed task.
type PlannedTask struct {
	ID            int              `json:"id"`
	Name          string           `json:"name"`
	Period        int              `json:"period"`
	Utilization   float64          `json:"utilization"`
	Span          int              `json:"span"`
	Feasible      bool             `json:"feasible"` // span fits in the period
	CriticalChain []int            `json:"critical_chain"`
	Deadlines     deadline.Table   `json:"deadlines"`
	Segments      []PlannedSegment `json:"segments"`

	Task    *graph.Task  `json:"-"`
	Metrics *cpm.Metrics `json:"-"`
}

// PlannedSegment is one analysed segment.
type PlannedSegment struct {
	Index         int     `json:"index"`
	Name          string  `json:"name,omitempty"`
	Type          string  `json:"type"`
	Length        int     `json:"length"`
	CriticalPath  int     `json:"critical_path"`
	FutureWork    int     `json:"future_work"`
	CriticalNodes int     `json:"critical_nodes"`
	FutureNodes   int     `json:"future_nodes"`
	Deadline      float64 `json:"deadline"`
	IsCritical    bool    `json:"is_critical"`
}

// PlanConfig selects how deadlines are derived. A nil Precision takes
// deadline.DefaultPrecision; Generate stores the value it used.
type PlanConfig struct {
	Name      string            `json:"name,omitempty"`
	Strategy  deadline.Strategy `json:"-"`
	Precision *int              `json:"precision"`

	StrategyName string `json:"strategy"`
}

// Digits is the precision in effect.
func (c PlanConfig) Digits() int {
	return deadline.Digits(c.Precision)
}
