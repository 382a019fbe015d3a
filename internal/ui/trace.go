package ui

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/tidwall/gjson"
)

// TraceFormatter parses the driver's JSON log lines and writes a readable
// per-epoch trace to dest. It implements io.Writer so it can sit behind a
// slog JSON handler.
type TraceFormatter struct {
	dest io.Writer
	mu   sync.Mutex
	buf  []byte

	// ShowIdle prints ticks in which nothing executed.
	ShowIdle bool
}

// NewTraceFormatter creates a TraceFormatter writing to dest.
func NewTraceFormatter(dest io.Writer) *TraceFormatter {
	return &TraceFormatter{dest: dest}
}

func (tf *TraceFormatter) Write(p []byte) (int, error) {
	tf.mu.Lock()
	defer tf.mu.Unlock()

	tf.buf = append(tf.buf, p...)
	for {
		idx := bytes.IndexByte(tf.buf, '\n')
		if idx == -1 {
			break
		}
		line := string(tf.buf[:idx])
		tf.buf = tf.buf[idx+1:]
		tf.processLine(line)
	}
	return len(p), nil
}

func (tf *TraceFormatter) processLine(line string) {
	if !gjson.Valid(line) {
		return
	}
	ev := gjson.Parse(line)
	t := ev.Get("t").Int()

	switch msg := ev.Get("msg").String(); msg {
	case "run started":
		tf.writeLine(fmt.Sprintf("%s %s %s  %s",
			BoldCyan("▶"), Bold(ev.Get("taskset").String()), Dim(ev.Get("policy").String()),
			Dim(fmt.Sprintf("%d tasks, %d processors, U=%.3f, horizon %d",
				ev.Get("tasks").Int(), ev.Get("processors").Int(),
				ev.Get("utilization").Float(), ev.Get("horizon").Int()))))
	case "placed":
		tf.writeEvent(t, ev, Green("place  "), TaskLabel(int(ev.Get("task").Int()), int(ev.Get("seg").Int())))
	case "preempted":
		tf.writeEvent(t, ev, Yellow("preempt"), TaskLabel(int(ev.Get("task").Int()), int(ev.Get("seg").Int())))
	case "skipped":
		tf.writeEvent(t, ev, Dim("skip   "), "")
	case "rejected":
		tf.writeEvent(t, ev, Red("reject "),
			TaskLabel(int(ev.Get("task").Int()), int(ev.Get("seg").Int()))+" "+Dim(ev.Get("resp").String()))
	case "advanced":
		executed := ev.Get("executed").Int()
		if executed == 0 && !tf.ShowIdle {
			return
		}
		tf.writeLine(Dim(fmt.Sprintf("%6s  %d unit(s) executed", fmt.Sprintf("→%d", t), executed)))
	case "engine error response":
		tf.writeLine(fmt.Sprintf("%s %s %s", Yellow("⚠"), ev.Get("cmd").String(), Dim(ev.Get("resp").String())))
	case "deadline missed":
		tf.writeLine(fmt.Sprintf("%s %s at t=%d", OutcomeIcon("unschedulable"), BoldRed("deadline missed"), t))
	case "horizon reached":
		tf.writeLine(fmt.Sprintf("%s %s at t=%d", OutcomeIcon("schedulable"), BoldGreen("horizon reached"), t))
	case "run cancelled":
		tf.writeLine(fmt.Sprintf("%s %s at t=%d", OutcomeIcon("aborted"), Yellow("cancelled"), t))
	default:
		if ev.Get("level").String() == "ERROR" || ev.Get("level").String() == "WARN" {
			tf.writeLine(fmt.Sprintf("%s %s", Yellow("⚠"), msg))
		}
	}
}

func (tf *TraceFormatter) writeEvent(t int64, ev gjson.Result, verb, what string) {
	proc := ""
	if p := ev.Get("proc"); p.Exists() && p.Int() >= 0 {
		proc = fmt.Sprintf("p%d", p.Int())
	}
	tf.writeLine(fmt.Sprintf("%6s %s %-4s %s %s", Dim(fmt.Sprintf("t=%d", t)),
		TypePrefix(ev.Get("type").String()), proc, verb, what))
}

func (tf *TraceFormatter) writeLine(text string) {
	fmt.Fprintf(tf.dest, "  %s\n", text)
}
