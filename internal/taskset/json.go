package taskset

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/EHPCL/RTHeter/internal/graph"
)

func parseJSON(src []byte) (*TaskSet, error) {
	if !gjson.ValidBytes(src) {
		return nil, fmt.Errorf("invalid JSON")
	}
	root := gjson.ParseBytes(src)
	ts := &TaskSet{Name: root.Get("name").String()}

	var err error
	procs := root.Get("processors")
	switch {
	case procs.IsObject():
		procs.ForEach(func(k, v gjson.Result) bool {
			err = ts.addJSONProcessor(k.String(), v)
			return err == nil
		})
	case procs.IsArray():
		procs.ForEach(func(_, v gjson.Result) bool {
			err = ts.addJSONProcessor(v.Get("type").String(), v)
			return err == nil
		})
	}
	if err != nil {
		return nil, err
	}

	for id, jt := range root.Get("tasks").Array() {
		task, err := buildJSONTask(id, jt)
		if err != nil {
			return nil, err
		}
		ts.Tasks = append(ts.Tasks, task)
	}
	return ts, nil
}

// addJSONProcessor takes either a bare count or an object with count,
// parallel_factor and variation.
func (ts *TaskSet) addJSONProcessor(name string, v gjson.Result) error {
	pt, err := graph.ParseProcessorType(name)
	if err != nil {
		return err
	}
	g := graph.ProcessorGroup{Type: pt, Count: 1}
	count := v
	if v.IsObject() {
		count = v.Get("count")
		for field, dst := range map[string]*int{"parallel_factor": &g.ParallelFactor, "variation": &g.Variation} {
			if f := v.Get(field); f.Exists() {
				if *dst, err = intValue(f, name+" "+field); err != nil {
					return err
				}
			}
		}
	}
	if count.Exists() {
		if g.Count, err = intValue(count, "processor count"); err != nil {
			return err
		}
	}
	return ts.addProcessors(g)
}

func buildJSONTask(id int, jt gjson.Result) (*graph.Task, error) {
	name := jt.Get("name").String()
	label := name
	if label == "" {
		label = fmt.Sprint(id)
	}

	period, err := intValue(jt.Get("period"), "task "+label+" period")
	if err != nil {
		return nil, err
	}

	var segs []graph.Segment
	for i, js := range jt.Get("segments").Array() {
		pt, err := graph.ParseProcessorType(js.Get("type").String())
		if err != nil {
			return nil, fmt.Errorf("task %s segment %d: %w", label, i, err)
		}
		length, err := intValue(js.Get("length"), fmt.Sprintf("task %s segment %d length", label, i))
		if err != nil {
			return nil, err
		}
		segs = append(segs, graph.Segment{Name: js.Get("name").String(), Type: pt, Length: length})
	}

	if jt.Get("self_suspending").Bool() {
		if len(jt.Get("edges").Array()) > 0 {
			return nil, &graph.GraphError{Task: label, Reason: "self-suspending task chains its segments in order and takes no edges"}
		}
		return graph.NewSelfSuspending(id, name, period, segs)
	}

	var edges []graph.Edge
	for _, je := range jt.Get("edges").Array() {
		from, to := je.Get("from"), je.Get("to")
		if je.IsArray() {
			pair := je.Array()
			if len(pair) != 2 {
				return nil, &graph.GraphError{Task: label, Reason: fmt.Sprintf("edge %s is not a pair", je.Raw)}
			}
			from, to = pair[0], pair[1]
		}
		u, err := intValue(from, "task "+label+" edge source")
		if err != nil {
			return nil, err
		}
		v, err := intValue(to, "task "+label+" edge target")
		if err != nil {
			return nil, err
		}
		edges = append(edges, graph.Edge{From: u, To: v})
	}

	return graph.New(id, name, period, segs, edges)
}

func intValue(r gjson.Result, what string) (int, error) {
	if r.Type != gjson.Number {
		return 0, fmt.Errorf("%s: want a number, got %q", what, r.Raw)
	}
	n := r.Int()
	if float64(n) != r.Float() {
		return 0, fmt.Errorf("%s: %s is not an integer", what, r.Raw)
	}
	return int(n), nil
}
