package layer

import (
	"fmt"
	"sort"

	"github.com/neuro-ml/connectome/pkg/compiler"
	"github.com/neuro-ml/connectome/pkg/graph"
	"github.com/neuro-ml/connectome/pkg/hashvalue"
	"github.com/neuro-ml/connectome/pkg/vm"
)

// SplitPart is one piece an upstream id expands into: NewID names the part
// in the new id space, Context carries whatever per-part metadata the part
// needs (exposed downstream as the "$part" field).
type SplitPart struct {
	NewID   string
	Context any
}

// FieldLookup fetches an upstream id's value for a named field, the access
// spec.md §4.7 grants split_fn alongside the id itself.
type FieldLookup func(name string) (any, error)

// SplitFunc expands a single upstream id into zero or more parts. fields
// fetches any of the upstream bag's own field values for id, per spec.md
// §4.7's "split_fn(id, fields...)".
type SplitFunc func(id string, fields FieldLookup) ([]SplitPart, error)

// Split expands every upstream id into the parts splitFn returns, building a
// new id space over the parts. Every upstream field is re-exposed under the
// new id space, delegating to the owning upstream id's value; "$part"
// exposes the part's own context value.
//
// Grounded on original_source/connectome/containers/split.py:SplitContainer.
func Split(bag *graph.EdgesBag, ex *vm.Executor, splitFn SplitFunc) (*graph.EdgesBag, error) {
	frozen := bag.Freeze()
	oldIDs, err := sourceIDs(frozen, IDsField, ex)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}

	comp, err := compiler.New(frozen, ex)
	if err != nil {
		return nil, err
	}

	calls := map[string]compiler.Callable{}
	fieldCall := func(name string) (compiler.Callable, error) {
		if c, ok := calls[name]; ok {
			return c, nil
		}
		c, err := comp.Compile(name, nil)
		if err != nil {
			return nil, err
		}
		calls[name] = c
		return c, nil
	}

	mapping := map[string]splitMember{}
	var order []string
	for _, old := range oldIDs {
		old := old
		fields := FieldLookup(func(name string) (any, error) {
			call, err := fieldCall(name)
			if err != nil {
				return nil, err
			}
			return call(old)
		})
		parts, err := splitFn(old, fields)
		if err != nil {
			return nil, fmt.Errorf("split: split_fn(%q): %w", old, err)
		}
		for _, p := range parts {
			if _, dup := mapping[p.NewID]; dup {
				return nil, &graph.GraphError{Message: fmt.Sprintf("split: new id %q produced more than once", p.NewID)}
			}
			mapping[p.NewID] = splitMember{oldID: old, part: p.Context}
			order = append(order, p.NewID)
		}
	}
	sort.Strings(order)

	key := graph.NewNode(KeyInput)
	idsOut := graph.NewNode(IDsField)
	edges := []graph.BoundEdge{
		graph.Bind(graph.NewValueEdge(order, hashvalue.Leaf{Payload: []byte("connectome.Split.ids")}), nil, idsOut),
	}
	outputs := []*graph.Node{idsOut}

	for _, out := range frozen.Outputs {
		if out.Name == IDsField {
			continue
		}
		call, err := comp.Compile(out.Name, nil)
		if err != nil {
			return nil, err
		}
		se := &splitEdge{mapping: mapping, call: call}
		newOut := graph.NewNode(out.Name)
		edges = append(edges, graph.Bind(se, []*graph.Node{key}, newOut))
		outputs = append(outputs, newOut)
	}

	partOut := graph.NewNode("$part")
	edges = append(edges, graph.Bind(&splitContextEdge{mapping: mapping}, []*graph.Node{key}, partOut))
	outputs = append(outputs, partOut)

	return graph.NewEdgesBag([]*graph.Node{key}, outputs, edges, nil, nil, nil, graph.IdentityContext{})
}

type splitMember struct {
	oldID string
	part  any
}

// splitEdge delegates a new id's field value to its owning old id's
// compiled field.
type splitEdge struct {
	mapping map[string]splitMember
	call    compiler.Callable
}

func (s *splitEdge) Arity() int { return 1 }

func (s *splitEdge) ProcessHashes(hashes []hashvalue.Value, _ uint64) (hashvalue.Value, graph.Mask, error) {
	key, err := leafKey(hashes[0])
	if err != nil {
		return nil, nil, err
	}
	member, ok := s.mapping[key]
	if !ok {
		return nil, nil, fmt.Errorf("split: unknown new id %q", key)
	}
	return hashvalue.Custom{
		Marker:   "connectome.Split",
		Children: []hashvalue.Value{hashvalue.Leaf{Payload: []byte(member.oldID)}},
	}, nil, nil
}

func (s *splitEdge) Evaluate(arguments []any, _ graph.Mask, _ hashvalue.Value, _ uint64) (any, error) {
	key, ok := arguments[0].(string)
	if !ok {
		return nil, fmt.Errorf("split: id must be a string, got %T", arguments[0])
	}
	member, ok := s.mapping[key]
	if !ok {
		return nil, fmt.Errorf("split: unknown new id %q", key)
	}
	return s.call(member.oldID)
}

// splitContextEdge exposes a part's own context value under "$part".
type splitContextEdge struct {
	mapping map[string]splitMember
}

func (s *splitContextEdge) Arity() int { return 1 }

func (s *splitContextEdge) ProcessHashes(hashes []hashvalue.Value, _ uint64) (hashvalue.Value, graph.Mask, error) {
	key, err := leafKey(hashes[0])
	if err != nil {
		return nil, nil, err
	}
	return hashvalue.Custom{Marker: "connectome.SplitPart", Children: []hashvalue.Value{hashvalue.Leaf{Payload: []byte(key)}}}, nil, nil
}

func (s *splitContextEdge) Evaluate(arguments []any, _ graph.Mask, _ hashvalue.Value, _ uint64) (any, error) {
	key, ok := arguments[0].(string)
	if !ok {
		return nil, fmt.Errorf("split: id must be a string, got %T", arguments[0])
	}
	member, ok := s.mapping[key]
	if !ok {
		return nil, fmt.Errorf("split: unknown new id %q", key)
	}
	return member.part, nil
}
