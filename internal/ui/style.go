package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Sprint color functions for building styled strings.
var (
	Bold        = color.New(color.Bold).SprintFunc()
	Dim         = color.New(color.Faint).SprintFunc()
	Cyan        = color.New(color.FgCyan).SprintFunc()
	Green       = color.New(color.FgGreen).SprintFunc()
	Red         = color.New(color.FgRed).SprintFunc()
	Yellow      = color.New(color.FgYellow).SprintFunc()
	Magenta     = color.New(color.FgMagenta).SprintFunc()
	BoldCyan    = color.New(color.Bold, color.FgCyan).SprintFunc()
	BoldGreen   = color.New(color.Bold, color.FgGreen).SprintFunc()
	BoldRed     = color.New(color.Bold, color.FgRed).SprintFunc()
	BoldYellow  = color.New(color.Bold, color.FgYellow).SprintFunc()
	BoldMagenta = color.New(color.Bold, color.FgMagenta).SprintFunc()
	BoldWhite   = color.New(color.Bold, color.FgWhite).SprintFunc()
)

// PrintBanner renders the colored rtheter banner to stderr.
func PrintBanner() {
	w := os.Stderr
	frame := color.New(color.FgCyan)
	lanes := color.New(color.FgYellow)
	brand := color.New(color.Bold, color.FgMagenta)
	tag := color.New(color.Faint)

	fmt.Fprintln(w)
	frame.Fprintln(w, "   +----------------------------+")
	lanes.Fprintln(w, "   | CPU  ##..###...##..####..  |")
	lanes.Fprintln(w, "   | GPU  ..#####.....######..  |")
	brand.Fprintln(w, "   |   R  T  H  E  T  E  R      |")
	frame.Fprintln(w, "   +----------------------------+")
	tag.Fprintf(w, "   %s DAG scheduling on heterogeneous processors\n", Dim("⏱"))
	fmt.Fprintln(w)
}

// laneColors is a palette of distinct bold colors for telling tasks apart.
var laneColors = []func(a ...interface{}) string{
	BoldMagenta,
	BoldCyan,
	BoldYellow,
	BoldGreen,
	color.New(color.Bold, color.FgHiBlue).SprintFunc(),
	color.New(color.Bold, color.FgHiRed).SprintFunc(),
}

// TaskLabel returns a colored task.segment label. Each task id keeps the same
// color for the whole trace.
func TaskLabel(task, seg int) string {
	if task < 0 {
		return Dim("-")
	}
	c := laneColors[task%len(laneColors)]
	return c(fmt.Sprintf("task%d", task)) + Dim(fmt.Sprintf(".%d", seg))
}

// TypePrefix returns a dimmed [TYPE] prefix.
func TypePrefix(typ string) string {
	return Dim("[") + Cyan(fmt.Sprintf("%-13s", typ)) + Dim("]")
}

// OutcomeIcon returns a colored icon for a run outcome.
func OutcomeIcon(outcome string) string {
	switch outcome {
	case "schedulable":
		return Green("✓")
	case "unschedulable":
		return Red("✗")
	case "aborted":
		return Yellow("⊘")
	case "running":
		return Cyan("●")
	default:
		return Dim("◌")
	}
}

// Outcome returns a colored outcome word.
func Outcome(outcome string) string {
	switch outcome {
	case "schedulable":
		return Green(outcome)
	case "unschedulable":
		return BoldRed(outcome)
	case "aborted":
		return Yellow(outcome)
	default:
		return Dim(outcome)
	}
}
