package reporter

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/tidwall/gjson"

	"github.com/EHPCL/RTHeter/internal/deadline"
	"github.com/EHPCL/RTHeter/internal/driver"
	"github.com/EHPCL/RTHeter/internal/graph"
	"github.com/EHPCL/RTHeter/internal/planner"
	"github.com/EHPCL/RTHeter/internal/state"
)

func makeState() *state.SweepState {
	now := time.Now()
	finished := now.Add(1500 * time.Millisecond)

	return &state.SweepState{
		ID:         "sweep-20261017-100000",
		StartedAt:  now,
		FinishedAt: &finished,
		Status:     state.StatusCompleted,
		TotalJobs:  4,
		Results: []*state.JobResult{
			{Index: 0, File: "a.hcl", Policy: "edf", Strategy: "fair", Outcome: "schedulable", Time: 40, Horizon: 40,
				Stats: driver.Stats{Placements: 12}},
			{Index: 1, File: "a.hcl", Policy: "rm", Strategy: "fair", Outcome: "schedulable", Time: 40, Horizon: 40,
				Stats: driver.Stats{Placements: 14, Preemptions: 2}},
			{Index: 2, File: "b.hcl", Policy: "edf", Strategy: "fair", Outcome: "unschedulable", Time: 3, Horizon: 40},
			{Index: 3, File: "b.hcl", Policy: "rm", Strategy: "fair", Outcome: "aborted", Error: "engine stalled"},
		},
	}
}

func TestRatios(t *testing.T) {
	rpt := New(makeState())
	ratios := rpt.Ratios()

	if len(ratios) != 2 {
		t.Fatalf("expected 2 ratios, got %d", len(ratios))
	}
	if ratios[0].Policy != "edf" || ratios[0].Schedulable != 1 || ratios[0].Total != 2 {
		t.Errorf("unexpected edf ratio: %+v", ratios[0])
	}
	if ratios[1].Policy != "rm" || ratios[1].Ratio != 0.5 {
		t.Errorf("unexpected rm ratio: %+v", ratios[1])
	}
}

func TestPrintSummaryReport(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	rpt := New(makeState())
	var buf bytes.Buffer
	out := rpt.PrintSummaryReport(&buf)

	if out != buf.String() {
		t.Error("returned summary should match written output")
	}
	for _, want := range []string{
		"RTHeter Sweep Summary",
		"sweep-20261017-100000",
		"completed",
		"a.hcl",
		"unschedulable",
		"engine stalled",
		"50.0%",
		"(1/2 schedulable)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestSummary(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	st := makeState()
	st.Status = state.StatusCancelled
	out := New(st).Summary()

	for _, want := range []string{"2 schedulable", "1 unschedulable", "1 aborted", "4 total", "cancelled"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestJSON(t *testing.T) {
	data, err := New(makeState()).JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}

	if got := gjson.GetBytes(data, "status").String(); got != "completed" {
		t.Errorf("expected status completed, got %s", got)
	}
	if got := gjson.GetBytes(data, "counts.schedulable").Int(); got != 2 {
		t.Errorf("expected 2 schedulable, got %d", got)
	}
	if got := gjson.GetBytes(data, "results.#").Int(); got != 4 {
		t.Errorf("expected 4 results, got %d", got)
	}
	if got := gjson.GetBytes(data, "results.1.stats.preemptions").Int(); got != 2 {
		t.Errorf("expected 2 preemptions, got %d", got)
	}
	if got := gjson.GetBytes(data, "ratios.0.ratio").Float(); got != 0.5 {
		t.Errorf("expected edf ratio 0.5, got %v", got)
	}
}

func TestPrintPlan(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	task, err := graph.New(0, "camera", 30, []graph.Segment{
		{Name: "pre", Type: graph.CPU, Length: 1},
		{Name: "infer", Type: graph.GPU, Length: 1},
		{Name: "post", Type: graph.CPU, Length: 1},
	}, []graph.Edge{{From: 0, To: 1}, {From: 1, To: 2}})
	if err != nil {
		t.Fatalf("graph.New: %v", err)
	}
	plan, err := planner.Generate([]*graph.Task{task}, planner.PlanConfig{Name: "cam", Strategy: deadline.Fair})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var buf bytes.Buffer
	PrintPlan(&buf, plan)
	out := buf.String()
	for _, want := range []string{"camera", "period 30", "infer", "GPU", "10", "20", "30", "0 → 1 → 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("plan output missing %q:\n%s", want, out)
		}
	}
}
