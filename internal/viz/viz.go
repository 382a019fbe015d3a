// Package viz renders task-set DAGs as Graphviz DOT.
package viz

import (
	"fmt"

	"github.com/emicklei/dot"

	"github.com/EHPCL/RTHeter/internal/planner"
)

// DOT renders one cluster per task. The task's critical chain, its segments
// and the edges joining them, is drawn in red. Labels carry type, length and
// the internal deadline.
func DOT(plan *planner.Plan) string {
	g := dot.NewGraph(dot.Directed)
	g.Attr("rankdir", "LR")
	g.Attr("label", plan.Config.Name)

	for _, pt := range plan.Tasks {
		sub := g.Subgraph(fmt.Sprintf("%s (period %d)", pt.Name, pt.Period), dot.ClusterOption{})
		sub.Attr("style", "rounded")

		onChain, chainEdges := highlighted(pt.CriticalChain)
		nodes := make([]dot.Node, len(pt.Segments))
		for j, s := range pt.Segments {
			label := fmt.Sprintf("%d %s\n%s x%d\nd=%g", s.Index, s.Name, s.Type, s.Length, s.Deadline)
			n := sub.Node(fmt.Sprintf("t%d_s%d", pt.ID, j)).Label(label).Box()
			if onChain[j] {
				n.Attr("color", "red")
				n.Attr("style", "bold")
			}
			nodes[j] = n
		}

		if pt.Task == nil {
			continue
		}
		for _, e := range pt.Task.Edges {
			edge := sub.Edge(nodes[e.From], nodes[e.To])
			if chainEdges[[2]int{e.From, e.To}] {
				edge.Attr("color", "red")
				edge.Attr("penwidth", "2")
			}
		}
	}
	return g.String()
}

// highlighted returns the segments of chain and the edges between
// consecutive chain segments.
func highlighted(chain []int) (map[int]bool, map[[2]int]bool) {
	nodes := make(map[int]bool, len(chain))
	edges := make(map[[2]int]bool, len(chain))
	for i, j := range chain {
		nodes[j] = true
		if i > 0 {
			edges[[2]int{chain[i-1], j}] = true
		}
	}
	return nodes, edges
}
