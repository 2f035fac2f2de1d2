package pipeline

import (
	"github.com/neuro-ml/connectome/pkg/compiler"
	"github.com/neuro-ml/connectome/pkg/graph"
	"github.com/neuro-ml/connectome/pkg/vm"
)

// Pipeline is a compiled, ready-to-query view of an EdgesBag: every field
// becomes an id -> value callable bound to a shared pkg/vm.Executor.
type Pipeline struct {
	bag *graph.EdgesBag
	c   *compiler.Compiler
}

// New compiles bag against executor.
func New(bag *graph.EdgesBag, executor *vm.Executor) (*Pipeline, error) {
	c, err := compiler.New(bag, executor)
	if err != nil {
		return nil, err
	}
	return &Pipeline{bag: bag, c: c}, nil
}

// Fields lists every queryable field name.
func (p *Pipeline) Fields() []string {
	return p.c.Fields()
}

// IDs returns the pipeline's full, fixed key set.
func (p *Pipeline) IDs() ([]string, error) {
	call, err := p.c.Compile(IDsField, nil)
	if err != nil {
		return nil, err
	}
	v, err := call("")
	if err != nil {
		return nil, err
	}
	ids, ok := v.([]string)
	if !ok {
		return nil, &graph.GraphError{Message: "ids did not produce []string"}
	}
	return ids, nil
}

// Field compiles name into a callable keyed by id. The returned function is
// safe to call concurrently and to call repeatedly — each call drives a
// fresh pkg/vm.Executor.Run, so no state leaks between ids.
func (p *Pipeline) Field(name string) (func(id string) (any, error), error) {
	call, err := p.c.Compile(name, nil)
	if err != nil {
		return nil, err
	}
	return func(id string) (any, error) {
		return call(id)
	}, nil
}

// Tuple compiles several fields into one callable returning their values, in
// order, as a []any — a single Executor.Run shares memoized hashes and
// values across every named field.
func (p *Pipeline) Tuple(names ...string) (func(id string) ([]any, error), error) {
	call, err := p.c.CompileTuple(names, nil)
	if err != nil {
		return nil, err
	}
	return func(id string) ([]any, error) {
		v, err := call(id)
		if err != nil {
			return nil, err
		}
		return v.([]any), nil
	}, nil
}
