// Package deadline derives per-segment internal deadlines from a task's
// structural metrics and period.
package deadline

import (
	"fmt"
	"math"
	"strings"

	"github.com/EHPCL/RTHeter/internal/cpm"
	"github.com/EHPCL/RTHeter/internal/graph"
)

// DefaultPrecision is the number of decimal digits deadlines are rounded to.
const DefaultPrecision = 3

// Digits returns *p, or DefaultPrecision when p is nil. Zero is a valid
// precision: deadlines round to whole ticks.
func Digits(p *int) int {
	if p == nil {
		return DefaultPrecision
	}
	return *p
}

// Strategy selects how a task's period is split among its segments.
type Strategy int

const (
	// Fair splits by node counts on the longest chains through a segment.
	Fair Strategy = iota
	// Proportional splits by weighted chain lengths.
	Proportional
)

func (s Strategy) String() string {
	switch s {
	case Fair:
		return "fair"
	case Proportional:
		return "proportional"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy resolves a strategy name.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "fair", "":
		return Fair, nil
	case "proportional", "prop":
		return Proportional, nil
	}
	return Fair, fmt.Errorf("unknown deadline strategy %q (want fair or proportional)", name)
}

// Table holds the internal deadline of each segment of one task, relative to
// the start of the task's period.
type Table []float64

// Assigner computes deadline tables under one strategy and precision.
type Assigner struct {
	Strategy  Strategy
	Precision int
}

// NewAssigner validates the strategy and precision.
func NewAssigner(strategy Strategy, precision int) (*Assigner, error) {
	if strategy != Fair && strategy != Proportional {
		return nil, &graph.ConfigError{Field: "strategy", Reason: strategy.String()}
	}
	if precision < 0 || precision > 12 {
		return nil, &graph.ConfigError{Field: "precision", Reason: fmt.Sprintf("%d digits, want 0..12", precision)}
	}
	return &Assigner{Strategy: strategy, Precision: precision}, nil
}

// Assign computes deadline(j) = round(P / (before + after + 1) * (before + 1))
// where before/after are node counts (Fair) or chain lengths (Proportional).
// Every deadline must lie in (0, P].
func (a *Assigner) Assign(t *graph.Task, m *cpm.Metrics) (Table, error) {
	before, after := m.CriticalNodes, m.FutureNodes
	if a.Strategy == Proportional {
		before, after = m.CriticalPath, m.FutureWork
	}

	period := float64(t.Period)
	table := make(Table, len(t.Segments))
	for j := range t.Segments {
		b, f := float64(before[j]), float64(after[j])
		d := round(period/(b+f+1)*(b+1), a.Precision)
		if d <= 0 || d > period {
			return nil, &graph.ConfigError{
				Field:  "deadline",
				Reason: fmt.Sprintf("task %s segment %d: %g outside (0, %d]", t.Label(), j, d, t.Period),
			}
		}
		table[j] = d
	}
	return table, nil
}

func round(x float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(x*scale) / scale
}
