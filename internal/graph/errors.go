package graph

import "fmt"

// GraphError reports a malformed or cyclic task DAG.
type GraphError struct {
	Task   string
	Reason string
	Cycle  []int
}

func (e *GraphError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("task %s: %s: %v", e.Task, e.Reason, e.Cycle)
	}
	return fmt.Sprintf("task %s: %s", e.Task, e.Reason)
}

// ConfigError reports an invalid setup value: a processor count, a period,
// a precision or a derived deadline.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
