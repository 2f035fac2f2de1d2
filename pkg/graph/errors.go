package graph

// GraphError reports a structural problem with an EdgesBag: cycles,
// multiple incoming edges, undeclared dependencies, missing optional nodes.
// Mirrors original_source/connectome/exceptions.py:GraphError.
type GraphError struct {
	Message string
}

func (e *GraphError) Error() string { return "graph: " + e.Message }

// DependencyError reports that an operation (e.g. a compiled call) required
// a node that the graph cannot produce.
type DependencyError struct {
	Node string
}

func (e *DependencyError) Error() string {
	return "graph: missing dependency for node \"" + e.Node + "\""
}

// FieldError reports a requested field name that is not among a layer's
// outputs.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return "graph: unknown field \"" + e.Field + "\""
}

// HashError wraps a failure raised while computing a node's hash (e.g. a
// FunctionHasher error bubbling up from pkg/funchash).
type HashError struct {
	Node string
	Err  error
}

func (e *HashError) Error() string {
	return "graph: failed to hash node \"" + e.Node + "\": " + e.Err.Error()
}

func (e *HashError) Unwrap() error { return e.Err }
