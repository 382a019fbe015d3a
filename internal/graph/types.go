package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// ProcessorType identifies a class of processor. The numeric values are the
// type ids spoken by the execution engine.
type ProcessorType int

const (
	CPU ProcessorType = iota
	CPUBigCore
	CPULittleCore
	DataCopy
	DataCopyHTD
	DataCopyDTH
	PE
	GPU
	FPGA
	Unknown
)

// NumProcessorTypes is the number of distinct processor types, Unknown included.
const NumProcessorTypes = int(Unknown) + 1

var processorTypeNames = [NumProcessorTypes]string{
	"CPU", "CPUBigCore", "CPULittleCore", "DataCopy", "DataCopyHTD",
	"DataCopyDTH", "PE", "GPU", "FPGA", "UNKNOWN",
}

func (t ProcessorType) String() string {
	if t < 0 || int(t) >= NumProcessorTypes {
		return fmt.Sprintf("ProcessorType(%d)", int(t))
	}
	return processorTypeNames[t]
}

// Valid reports whether t is one of the known processor types.
func (t ProcessorType) Valid() bool {
	return t >= 0 && int(t) < NumProcessorTypes
}

// Preemptive reports whether segments running on this type may be preempted.
// Only the CPU family is preemptive.
func (t ProcessorType) Preemptive() bool {
	return t == CPU || t == CPUBigCore || t == CPULittleCore
}

// ParseProcessorType resolves a type name (case-insensitive) or a numeric id.
func ParseProcessorType(s string) (ProcessorType, error) {
	for i, name := range processorTypeNames {
		if strings.EqualFold(s, name) {
			return ProcessorType(i), nil
		}
	}
	if id, err := strconv.Atoi(s); err == nil && strconv.Itoa(id) == s {
		if t := ProcessorType(id); t.Valid() {
			return t, nil
		}
	}
	return Unknown, fmt.Errorf("unknown processor type %q", s)
}

// Segment is one node of a task's DAG.
type Segment struct {
	Name   string        `json:"name,omitempty"`
	Type   ProcessorType `json:"type"`
	Length int           `json:"length"`
}

// Edge is a precedence constraint between two segment indices of one task.
type Edge struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Task is a periodic DAG task. It is immutable once built by New.
type Task struct {
	ID       int       `json:"id"`
	Name     string    `json:"name,omitempty"`
	Period   int       `json:"period"`
	Segments []Segment `json:"segments"`
	Edges    []Edge    `json:"edges"`

	// SelfSuspending marks a chain task that runs one segment at a time and
	// suspends between them.
	SelfSuspending bool `json:"self_suspending,omitempty"`

	Succ   [][]int `json:"-"` // segment -> successors
	Pred   [][]int `json:"-"` // segment -> predecessors
	Roots  []int   `json:"-"` // segments with no predecessors
	Leaves []int   `json:"-"` // segments with no successors
}

// ProcessorGroup is a number of identical processors of one type.
type ProcessorGroup struct {
	Type  ProcessorType `json:"type"`
	Count int           `json:"count"`

	// ParallelFactor is the percentage each busy processor of the group
	// beyond the first slows every busy one down by.
	ParallelFactor int `json:"parallel_factor,omitempty"`
	// Variation is the largest percentage a processor may run slower than
	// nominal in one tick.
	Variation int `json:"variation,omitempty"`
}
