package cpm

import (
	"fmt"
	"sort"

	"github.com/EHPCL/RTHeter/internal/graph"
)

// Analyze computes the structural metrics of a task's DAG: the relaxed
// longest path to every segment over the forward and reverse graphs, both
// weighted by segment length and by unit weight.
func Analyze(t *graph.Task) (*Metrics, error) {
	order, err := topoSort(t)
	if err != nil {
		return nil, err
	}

	reverse := make([]int, len(order))
	for i, id := range order {
		reverse[len(order)-1-i] = id
	}

	length := func(i int) int { return t.Segments[i].Length }
	unit := func(int) int { return 1 }

	m := &Metrics{
		CriticalPath:  longest(order, t.Succ, length),
		FutureWork:    longest(reverse, t.Pred, length),
		CriticalNodes: longest(order, t.Succ, unit),
		FutureNodes:   longest(reverse, t.Pred, unit),
		TopoOrder:     order,
	}

	n := len(t.Segments)
	m.Critical = make([]bool, n)
	for i := 0; i < n; i++ {
		if through := m.CriticalPath[i] + length(i) + m.FutureWork[i]; through > m.Span {
			m.Span = through
		}
	}
	for i := 0; i < n; i++ {
		m.Critical[i] = m.CriticalPath[i]+length(i)+m.FutureWork[i] == m.Span
	}
	m.CriticalChain = criticalChain(t, m)

	return m, nil
}

// longest relaxes dist[s] = max(dist[s], dist[n] + weight(n)) along adj in
// the given topological order.
func longest(order []int, adj [][]int, weight func(int) int) []int {
	dist := make([]int, len(adj))
	for _, n := range order {
		for _, s := range adj[n] {
			if d := dist[n] + weight(n); d > dist[s] {
				dist[s] = d
			}
		}
	}
	return dist
}

// topoSort performs Kahn's algorithm, always taking the lowest ready index.
func topoSort(t *graph.Task) ([]int, error) {
	n := len(t.Segments)
	inDegree := make([]int, n)
	for i := 0; i < n; i++ {
		inDegree[i] = len(t.Pred[i])
	}

	var queue []int
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]int, 0, n)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		var newReady []int
		for _, succ := range t.Succ[node] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				newReady = append(newReady, succ)
			}
		}
		queue = append(queue, newReady...)
		sort.Ints(queue)
	}

	if len(order) != n {
		return nil, &graph.GraphError{
			Task:   t.Label(),
			Reason: fmt.Sprintf("topological sort failed: graph has a cycle (%d of %d segments sorted)", len(order), n),
		}
	}
	return order, nil
}

// criticalChain walks one longest weighted chain from a critical root,
// always stepping to the lowest-index critical successor that continues it.
func criticalChain(t *graph.Task, m *Metrics) []int {
	start := -1
	for _, r := range t.Roots {
		if m.Critical[r] {
			start = r
			break
		}
	}
	if start < 0 {
		return nil
	}

	chain := []int{start}
	cur := start
	for {
		next := -1
		for _, s := range t.Succ[cur] {
			if m.Critical[s] && m.CriticalPath[s] == m.CriticalPath[cur]+t.Segments[cur].Length {
				next = s
				break
			}
		}
		if next < 0 {
			return chain
		}
		chain = append(chain, next)
		cur = next
	}
}
