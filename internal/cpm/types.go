package cpm

// Metrics holds the structural metrics of one task, indexed by segment.
// All four relaxations exclude the segment's own weight.
type Metrics struct {
	CriticalPath  []int // longest weighted chain of predecessors
	FutureWork    []int // longest weighted chain of successors
	CriticalNodes []int // segments on the longest predecessor chain
	FutureNodes   []int // segments on the longest successor chain

	TopoOrder     []int
	Span          int   // length of the longest weighted chain in the DAG
	Critical      []bool
	CriticalChain []int // one longest weighted chain, source to sink
}
