package taskset

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/EHPCL/RTHeter/internal/graph"
)

type hclFile struct {
	Name       *string         `hcl:"name,optional"`
	Processors []*hclProcessor `hcl:"processor,block"`
	Tasks      []*hclTask      `hcl:"task,block"`
}

type hclProcessor struct {
	Type           string `hcl:"type,label"`
	Count          *int   `hcl:"count,optional"`
	ParallelFactor *int   `hcl:"parallel_factor,optional"`
	Variation      *int   `hcl:"variation,optional"`
}

type hclTask struct {
	Name           string        `hcl:"name,label"`
	Period         int           `hcl:"period"`
	SelfSuspending *bool         `hcl:"self_suspending,optional"`
	Segments       []*hclSegment `hcl:"segment,block"`
	Edges          []*hclEdge    `hcl:"edge,block"`
}

type hclSegment struct {
	Name   string `hcl:"name,label"`
	Type   string `hcl:"type"`
	Length int    `hcl:"length"`
}

// Edge endpoints are a segment name or a segment index.
type hclEdge struct {
	From hcl.Expression `hcl:"from"`
	To   hcl.Expression `hcl:"to"`
}

func parseHCL(filename string, src []byte) (*TaskSet, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %w", diags)
	}

	var parsed hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %w", diags)
	}

	ts := &TaskSet{}
	if parsed.Name != nil {
		ts.Name = *parsed.Name
	}
	for _, p := range parsed.Processors {
		pt, err := graph.ParseProcessorType(p.Type)
		if err != nil {
			return nil, err
		}
		g := graph.ProcessorGroup{Type: pt, Count: 1}
		if p.Count != nil {
			g.Count = *p.Count
		}
		if p.ParallelFactor != nil {
			g.ParallelFactor = *p.ParallelFactor
		}
		if p.Variation != nil {
			g.Variation = *p.Variation
		}
		if err := ts.addProcessors(g); err != nil {
			return nil, err
		}
	}

	for id, ht := range parsed.Tasks {
		task, err := ht.build(id)
		if err != nil {
			return nil, err
		}
		ts.Tasks = append(ts.Tasks, task)
	}
	return ts, nil
}

func (ht *hclTask) build(id int) (*graph.Task, error) {
	index := make(map[string]int, len(ht.Segments))
	segs := make([]graph.Segment, len(ht.Segments))
	for i, hs := range ht.Segments {
		pt, err := graph.ParseProcessorType(hs.Type)
		if err != nil {
			return nil, fmt.Errorf("task %s segment %s: %w", ht.Name, hs.Name, err)
		}
		if _, dup := index[hs.Name]; dup {
			return nil, &graph.GraphError{Task: ht.Name, Reason: fmt.Sprintf("segment %q declared twice", hs.Name)}
		}
		index[hs.Name] = i
		segs[i] = graph.Segment{Name: hs.Name, Type: pt, Length: hs.Length}
	}

	if ht.SelfSuspending != nil && *ht.SelfSuspending {
		if len(ht.Edges) > 0 {
			return nil, &graph.GraphError{Task: ht.Name, Reason: "self-suspending task chains its segments in order and takes no edges"}
		}
		return graph.NewSelfSuspending(id, ht.Name, ht.Period, segs)
	}

	edges := make([]graph.Edge, 0, len(ht.Edges))
	for _, he := range ht.Edges {
		from, err := endpoint(ht.Name, he.From, index)
		if err != nil {
			return nil, err
		}
		to, err := endpoint(ht.Name, he.To, index)
		if err != nil {
			return nil, err
		}
		edges = append(edges, graph.Edge{From: from, To: to})
	}

	return graph.New(id, ht.Name, ht.Period, segs, edges)
}

func endpoint(task string, expr hcl.Expression, index map[string]int) (int, error) {
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return 0, fmt.Errorf("task %s edge: %w", task, diags)
	}
	switch v.Type() {
	case cty.String:
		name := v.AsString()
		i, ok := index[name]
		if !ok {
			return 0, &graph.GraphError{Task: task, Reason: fmt.Sprintf("edge references unknown segment %q", name)}
		}
		return i, nil
	case cty.Number:
		var i int
		if err := gocty.FromCtyValue(v, &i); err != nil {
			return 0, &graph.GraphError{Task: task, Reason: fmt.Sprintf("edge index: %v", err)}
		}
		return i, nil
	default:
		return 0, &graph.GraphError{Task: task, Reason: fmt.Sprintf("edge endpoint must be a name or index, got %s", v.Type().FriendlyName())}
	}
}
