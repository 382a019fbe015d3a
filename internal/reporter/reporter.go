package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/EHPCL/RTHeter/internal/planner"
	"github.com/EHPCL/RTHeter/internal/state"
	"github.com/EHPCL/RTHeter/internal/ui"
)

// Reporter displays the results of a sweep.
type Reporter struct {
	State *state.SweepState
}

// New creates a new Reporter.
func New(st *state.SweepState) *Reporter {
	return &Reporter{State: st}
}

// Ratio is the schedulability ratio of one policy/strategy pair.
type Ratio struct {
	Policy      string  `json:"policy"`
	Strategy    string  `json:"strategy"`
	Schedulable int     `json:"schedulable"`
	Total       int     `json:"total"`
	Ratio       float64 `json:"ratio"`
}

// Ratios groups results by policy and strategy. Aborted jobs count towards
// the total.
func (r *Reporter) Ratios() []Ratio {
	byKey := make(map[string]*Ratio)
	for _, res := range r.State.Results {
		key := res.Policy + "/" + res.Strategy
		rt, ok := byKey[key]
		if !ok {
			rt = &Ratio{Policy: res.Policy, Strategy: res.Strategy}
			byKey[key] = rt
		}
		rt.Total++
		if res.Schedulable() {
			rt.Schedulable++
		}
	}

	out := make([]Ratio, 0, len(byKey))
	for _, rt := range byKey {
		rt.Ratio = float64(rt.Schedulable) / float64(rt.Total)
		out = append(out, *rt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Policy != out[j].Policy {
			return out[i].Policy < out[j].Policy
		}
		return out[i].Strategy < out[j].Strategy
	})
	return out
}

// PrintTable writes one line per job.
func (r *Reporter) PrintTable(w io.Writer) {
	fmt.Fprintf(w, "    %-32s %-5s %-12s %-14s %9s %7s %7s %7s\n",
		ui.Dim("task set"), ui.Dim("pol"), ui.Dim("strategy"), ui.Dim("outcome"),
		ui.Dim("t/horizon"), ui.Dim("placed"), ui.Dim("preempt"), ui.Dim("invalid"))

	for _, res := range r.State.Results {
		name := res.File
		if name == "" {
			name = res.TaskSet
		}
		if len(name) > 32 {
			name = "..." + name[len(name)-29:]
		}
		fmt.Fprintf(w, "  %s %-32s %-5s %-12s %-14s %9s %7d %7d %7d\n",
			ui.OutcomeIcon(res.Outcome), name, res.Policy, res.Strategy,
			ui.Outcome(res.Outcome),
			fmt.Sprintf("%d/%d", res.Time, res.Horizon),
			res.Stats.Placements, res.Stats.Preemptions, res.Stats.InvalidSchedules)
		if res.Error != "" {
			fmt.Fprintf(w, "      %s\n", ui.Red(res.Error))
		}
	}
}

// JSON returns machine-readable results.
func (r *Reporter) JSON() ([]byte, error) {
	type output struct {
		ID        string             `json:"id"`
		Status    string             `json:"status"`
		TotalJobs int                `json:"total_jobs"`
		Counts    map[string]int     `json:"counts"`
		Ratios    []Ratio            `json:"ratios"`
		Elapsed   string             `json:"elapsed"`
		Results   []*state.JobResult `json:"results"`
	}

	return json.MarshalIndent(output{
		ID:        r.State.ID,
		Status:    string(r.State.Status),
		TotalJobs: r.State.TotalJobs,
		Counts:    r.State.Counts(),
		Ratios:    r.Ratios(),
		Elapsed:   r.duration().String(),
		Results:   r.State.Results,
	}, "", "  ")
}

// PrintSummaryReport writes the header, the results table and the per-policy
// ratios. The output is also returned as a string for reuse (e.g. as context
// for Claude narrative summaries).
func (r *Reporter) PrintSummaryReport(w io.Writer) string {
	var b strings.Builder
	mw := io.MultiWriter(w, &b)

	statusText, statusEmoji := r.statusText()
	fmt.Fprintf(mw, "\n%s %s\n", statusEmoji, ui.BoldCyan("RTHeter Sweep Summary"))
	fmt.Fprintf(mw, "%s\n", ui.Cyan("══════════════════════════"))
	fmt.Fprintf(mw, "Sweep:     %s\n", ui.Dim(r.State.ID))
	fmt.Fprintf(mw, "Status:    %s\n", statusText)
	fmt.Fprintf(mw, "Duration:  %s\n", ui.Bold(r.duration()))
	fmt.Fprintf(mw, "Jobs:      %d total\n\n", r.State.TotalJobs)

	r.PrintTable(mw)
	fmt.Fprintln(mw)

	fmt.Fprintf(mw, "%s\n", ui.Cyan("──────────────────────────"))
	for _, rt := range r.Ratios() {
		fmt.Fprintf(mw, "  %-5s %-12s %s  %s\n", rt.Policy, rt.Strategy,
			ratioColor(rt.Ratio)(fmt.Sprintf("%5.1f%%", rt.Ratio*100)),
			ui.Dim(fmt.Sprintf("(%d/%d schedulable)", rt.Schedulable, rt.Total)))
	}
	return b.String()
}

// Summary returns a short final summary string.
func (r *Reporter) Summary() string {
	var b strings.Builder
	counts := r.State.Counts()
	statusText, statusEmoji := r.statusText()

	fmt.Fprintf(&b, "\n%s %s\n", statusEmoji, ui.BoldCyan("RTHeter Sweep Complete"))
	fmt.Fprintf(&b, "%s\n", ui.Cyan("══════════════════════════"))
	fmt.Fprintf(&b, "Sweep:     %s\n", ui.Dim(r.State.ID))
	fmt.Fprintf(&b, "Duration:  %s\n", ui.Bold(r.duration()))
	fmt.Fprintf(&b, "Jobs:      %s, %s, %s, %d total\n",
		ui.Green(fmt.Sprintf("%d schedulable", counts["schedulable"])),
		ui.Red(fmt.Sprintf("%d unschedulable", counts["unschedulable"])),
		ui.Yellow(fmt.Sprintf("%d aborted", counts["aborted"])),
		r.State.TotalJobs)
	fmt.Fprintf(&b, "Status:    %s\n", statusText)
	return b.String()
}

func (r *Reporter) statusText() (string, string) {
	switch r.State.Status {
	case state.StatusFailed:
		return ui.BoldRed("failed"), "❌"
	case state.StatusCancelled:
		return ui.Yellow("cancelled"), "🚫"
	case state.StatusRunning:
		return ui.Cyan("running"), "⏳"
	default:
		return ui.BoldGreen("completed"), "✅"
	}
}

func (r *Reporter) duration() time.Duration {
	if r.State.FinishedAt != nil {
		return r.State.FinishedAt.Sub(r.State.StartedAt).Truncate(time.Millisecond)
	}
	return time.Since(r.State.StartedAt).Truncate(time.Second)
}

func ratioColor(ratio float64) func(a ...interface{}) string {
	switch {
	case ratio >= 0.9:
		return ui.BoldGreen
	case ratio >= 0.5:
		return ui.BoldYellow
	default:
		return ui.BoldRed
	}
}

// PrintPlan writes the per-task structural metrics and deadline tables.
func PrintPlan(w io.Writer, p *planner.Plan) {
	fmt.Fprintf(w, "%s %s  %s\n", ui.BoldCyan("📐"), ui.Bold(p.ID),
		ui.Dim(fmt.Sprintf("%d tasks, U=%.3f, strategy %s, precision %d",
			p.TotalTasks, p.Utilization, p.Config.StrategyName, p.Config.Digits())))

	for _, t := range p.Tasks {
		feasible := ui.Green("fits")
		if !t.Feasible {
			feasible = ui.BoldRed("exceeds period")
		}
		fmt.Fprintf(w, "\n  %s %s  period %d  span %d %s  U=%.3f\n",
			ui.BoldWhite("TASK"), ui.BoldMagenta(t.Name), t.Period, t.Span, feasible, t.Utilization)
		fmt.Fprintf(w, "    %-4s %-14s %-13s %4s %4s %4s %3s %3s %10s\n",
			ui.Dim("seg"), ui.Dim("name"), ui.Dim("type"), ui.Dim("len"),
			ui.Dim("cp"), ui.Dim("fw"), ui.Dim("cn"), ui.Dim("fn"), ui.Dim("deadline"))
		for _, s := range t.Segments {
			critical := " "
			if s.IsCritical {
				critical = ui.BoldYellow("⚡")
			}
			fmt.Fprintf(w, "    %-4d %-14s %-13s %4d %4d %4d %3d %3d %10s %s\n",
				s.Index, s.Name, s.Type, s.Length, s.CriticalPath, s.FutureWork,
				s.CriticalNodes, s.FutureNodes, fmt.Sprintf("%g", s.Deadline), critical)
		}
		if len(t.CriticalChain) > 0 {
			chain := make([]string, len(t.CriticalChain))
			for i, j := range t.CriticalChain {
				chain[i] = fmt.Sprint(j)
			}
			fmt.Fprintf(w, "    Critical: %s\n", ui.BoldYellow("⚡ "+strings.Join(chain, " → ")))
		}
	}
}
