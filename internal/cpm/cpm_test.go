package cpm

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/EHPCL/RTHeter/internal/graph"
)

func buildTestTask(t *testing.T, lengths []int, edges []graph.Edge) *graph.Task {
	t.Helper()
	segs := make([]graph.Segment, len(lengths))
	for i, l := range lengths {
		segs[i] = graph.Segment{Type: graph.CPU, Length: l}
	}
	task, err := graph.New(0, "test", 100, segs, edges)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	return task
}

func TestAnalyze_LinearChain(t *testing.T) {
	// 0 -> 1 -> 2, weights 1, 2, 3
	task := buildTestTask(t, []int{1, 2, 3}, []graph.Edge{{From: 0, To: 1}, {From: 1, To: 2}})

	m, err := Analyze(task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertMetrics(t, m, &Metrics{
		CriticalPath:  []int{0, 1, 3},
		FutureWork:    []int{5, 3, 0},
		CriticalNodes: []int{0, 1, 2},
		FutureNodes:   []int{2, 1, 0},
	})
	if m.Span != 6 {
		t.Errorf("expected span 6, got %d", m.Span)
	}
	if diff := cmp.Diff([]int{0, 1, 2}, m.CriticalChain); diff != "" {
		t.Errorf("critical chain mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_DiamondDAG(t *testing.T) {
	// 0 -> 1 -> 3
	// 0 -> 2 -> 3   (2 is the heavier branch)
	task := buildTestTask(t, []int{1, 2, 5, 1}, []graph.Edge{{From: 0, To: 1}, {From: 0, To: 2}, {From: 1, To: 3}, {From: 2, To: 3}})

	m, err := Analyze(task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertMetrics(t, m, &Metrics{
		CriticalPath:  []int{0, 1, 1, 6},
		FutureWork:    []int{6, 1, 1, 0},
		CriticalNodes: []int{0, 1, 1, 2},
		FutureNodes:   []int{2, 1, 1, 0},
	})
	if m.Span != 7 {
		t.Errorf("expected span 7, got %d", m.Span)
	}
	if m.Critical[1] {
		t.Error("segment 1 should have slack")
	}
	if diff := cmp.Diff([]int{0, 2, 3}, m.CriticalChain); diff != "" {
		t.Errorf("critical chain mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_Independent(t *testing.T) {
	task := buildTestTask(t, []int{4, 2}, nil)

	m, err := Analyze(task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertMetrics(t, m, &Metrics{
		CriticalPath:  []int{0, 0},
		FutureWork:    []int{0, 0},
		CriticalNodes: []int{0, 0},
		FutureNodes:   []int{0, 0},
	})
	if m.Span != 4 {
		t.Errorf("expected span 4, got %d", m.Span)
	}
}

func TestAnalyze_CycleIsGraphError(t *testing.T) {
	// Built by hand: graph.New would refuse it.
	task := &graph.Task{
		Name:     "cyclic",
		Period:   10,
		Segments: []graph.Segment{{Length: 1}, {Length: 1}},
		Succ:     [][]int{{1}, {0}},
		Pred:     [][]int{{1}, {0}},
	}
	_, err := Analyze(task)
	var ge *graph.GraphError
	if !errors.As(err, &ge) {
		t.Fatalf("expected *graph.GraphError, got %v", err)
	}
}

func TestAnalyze_TopoOrderIsDeterministic(t *testing.T) {
	// 3 -> 0, 2 -> 1: roots are 2 and 3, lowest first.
	task := buildTestTask(t, []int{1, 1, 1, 1}, []graph.Edge{{From: 3, To: 0}, {From: 2, To: 1}})
	m, err := Analyze(task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{2, 1, 3, 0}, m.TopoOrder); diff != "" {
		t.Errorf("topo order mismatch (-want +got):\n%s", diff)
	}
}

// randomDAG draws edges between a random permutation's positions so the
// index order is not already topological.
func randomDAG(rng *rand.Rand, n int) ([]int, []graph.Edge) {
	perm := rng.Perm(n)
	lengths := make([]int, n)
	for i := range lengths {
		lengths[i] = rng.Intn(10)
	}
	var edges []graph.Edge
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			if rng.Float64() < 0.3 {
				edges = append(edges, graph.Edge{From: perm[a], To: perm[b]})
			}
		}
	}
	return lengths, edges
}

// chainsInto enumerates every predecessor chain ending at j (j excluded)
// and reports the heaviest weight and the most nodes among them.
func chainsInto(task *graph.Task, j int) (weight, nodes int) {
	for _, p := range task.Pred[j] {
		w, k := chainsInto(task, p)
		w += task.Segments[p].Length
		k++
		if w > weight {
			weight = w
		}
		if k > nodes {
			nodes = k
		}
	}
	return weight, nodes
}

func chainsFrom(task *graph.Task, j int) (weight, nodes int) {
	for _, s := range task.Succ[j] {
		w, k := chainsFrom(task, s)
		w += task.Segments[s].Length
		k++
		if w > weight {
			weight = w
		}
		if k > nodes {
			nodes = k
		}
	}
	return weight, nodes
}

func TestAnalyze_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(12)
		lengths, edges := randomDAG(rng, n)
		task := buildTestTask(t, lengths, edges)

		m, err := Analyze(task)
		if err != nil {
			t.Fatalf("iter %d: %v", iter, err)
		}

		longestChain := 0
		for j := 0; j < n; j++ {
			_, before := chainsInto(task, j)
			_, after := chainsFrom(task, j)
			if through := before + after + 1; through > longestChain {
				longestChain = through
			}
		}

		for j := 0; j < n; j++ {
			wantCP, wantCN := chainsInto(task, j)
			wantFW, wantFN := chainsFrom(task, j)
			if m.CriticalPath[j] != wantCP {
				t.Errorf("iter %d seg %d: critical path %d, brute force %d", iter, j, m.CriticalPath[j], wantCP)
			}
			if m.FutureWork[j] != wantFW {
				t.Errorf("iter %d seg %d: future work %d, brute force %d", iter, j, m.FutureWork[j], wantFW)
			}
			if m.CriticalNodes[j] != wantCN || m.FutureNodes[j] != wantFN {
				t.Errorf("iter %d seg %d: nodes (%d,%d), brute force (%d,%d)",
					iter, j, m.CriticalNodes[j], m.FutureNodes[j], wantCN, wantFN)
			}
			if m.CriticalNodes[j]+m.FutureNodes[j]+1 > longestChain {
				t.Errorf("iter %d seg %d: cn+fn+1 = %d exceeds longest chain %d",
					iter, j, m.CriticalNodes[j]+m.FutureNodes[j]+1, longestChain)
			}
		}
	}
}

func assertMetrics(t *testing.T, got, want *Metrics) {
	t.Helper()
	if diff := cmp.Diff(want.CriticalPath, got.CriticalPath); diff != "" {
		t.Errorf("critical path mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.FutureWork, got.FutureWork); diff != "" {
		t.Errorf("future work mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.CriticalNodes, got.CriticalNodes); diff != "" {
		t.Errorf("critical nodes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.FutureNodes, got.FutureNodes); diff != "" {
		t.Errorf("future nodes mismatch (-want +got):\n%s", diff)
	}
}
