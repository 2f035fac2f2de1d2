package layer

import (
	"fmt"
	"sort"

	"github.com/neuro-ml/connectome/pkg/compiler"
	"github.com/neuro-ml/connectome/pkg/graph"
	"github.com/neuro-ml/connectome/pkg/hashvalue"
	"github.com/neuro-ml/connectome/pkg/vm"
)

// Merge unions several sources into one id space: every source's ids must be
// pairwise disjoint (a key present in two sources is a static error), and
// every field shared by all sources becomes a router that, given an id,
// dispatches to whichever source actually owns it.
//
// Grounded on original_source/connectome/containers/merge.py:MergeContainer.
func Merge(ex *vm.Executor, sources ...*graph.EdgesBag) (*graph.EdgesBag, error) {
	if len(sources) == 0 {
		return nil, &graph.GraphError{Message: "merge: at least one source is required"}
	}

	frozen := make([]*graph.EdgesBag, len(sources))
	owner := make(map[string]int) // id -> source index
	var allIDs []string
	for i, s := range sources {
		frozen[i] = s.Freeze()
		ids, err := sourceIDs(frozen[i], IDsField, ex)
		if err != nil {
			return nil, fmt.Errorf("merge: source %d: %w", i, err)
		}
		for _, id := range ids {
			if prev, dup := owner[id]; dup {
				return nil, &graph.GraphError{Message: fmt.Sprintf("merge: id %q present in both source %d and source %d", id, prev, i)}
			}
			owner[id] = i
			allIDs = append(allIDs, id)
		}
	}
	sort.Strings(allIDs)

	fields := commonFieldNames(frozen)

	key := graph.NewNode(KeyInput)
	var edges []graph.BoundEdge
	var outputs []*graph.Node

	idsOut := graph.NewNode(IDsField)
	edges = append(edges, graph.Bind(graph.NewValueEdge(allIDs, hashvalue.Leaf{Payload: []byte("connectome.Merge.ids")}), nil, idsOut))
	outputs = append(outputs, idsOut)

	for _, name := range fields {
		if name == IDsField {
			continue
		}
		branches := make([]compiler.Callable, len(frozen))
		for i, bag := range frozen {
			comp, err := compiler.New(bag, ex)
			if err != nil {
				return nil, err
			}
			call, err := comp.Compile(name, nil)
			if err != nil {
				return nil, err
			}
			branches[i] = call
		}
		sw := &switchEdge{owner: owner, branches: branches}
		out := graph.NewNode(name)
		edges = append(edges, graph.Bind(sw, []*graph.Node{key}, out))
		outputs = append(outputs, out)
	}

	return graph.NewEdgesBag([]*graph.Node{key}, outputs, edges, nil, nil, nil, graph.IdentityContext{})
}

// commonFieldNames returns the output names present in every bag, in the
// first bag's order. IDsField is included; Merge skips it itself.
func commonFieldNames(bags []*graph.EdgesBag) []string {
	if len(bags) == 0 {
		return nil
	}
	counts := map[string]int{}
	for _, bag := range bags {
		seen := map[string]bool{}
		for _, out := range bag.Outputs {
			if !seen[out.Name] {
				counts[out.Name]++
				seen[out.Name] = true
			}
		}
	}
	var names []string
	for _, out := range bags[0].Outputs {
		if counts[out.Name] == len(bags) {
			names = append(names, out.Name)
		}
	}
	return names
}

// switchEdge dispatches on an id's raw value (recovered from its leaf hash,
// per spec.md §4.1's convention that a dataset key's leaf hash is its raw
// bytes) to the compiled callable of whichever source owns that id.
type switchEdge struct {
	owner    map[string]int
	branches []compiler.Callable
}

func (s *switchEdge) Arity() int { return 1 }

func (s *switchEdge) ProcessHashes(hashes []hashvalue.Value, _ uint64) (hashvalue.Value, graph.Mask, error) {
	key, err := leafKey(hashes[0])
	if err != nil {
		return nil, nil, err
	}
	idx, ok := s.owner[key]
	if !ok {
		return nil, nil, fmt.Errorf("merge: no source owns id %q", key)
	}
	return hashvalue.Custom{
		Marker:   "connectome.Switch",
		Children: []hashvalue.Value{hashvalue.Leaf{Payload: []byte{byte(idx)}}, hashes[0]},
	}, nil, nil
}

func (s *switchEdge) Evaluate(arguments []any, _ graph.Mask, _ hashvalue.Value, _ uint64) (any, error) {
	key, ok := arguments[0].(string)
	if !ok {
		return nil, fmt.Errorf("merge: id must be a string, got %T", arguments[0])
	}
	idx, ok := s.owner[key]
	if !ok {
		return nil, fmt.Errorf("merge: no source owns id %q", key)
	}
	return s.branches[idx](key)
}

// leafKey recovers the raw string an upstream leaf hash was built from. It
// only works for hashvalue.Leaf, the convention dataset keys use.
func leafKey(v hashvalue.Value) (string, error) {
	leaf, ok := v.(hashvalue.Leaf)
	if !ok {
		return "", fmt.Errorf("layer: expected a dataset-key leaf hash, got %T", v)
	}
	return string(leaf.Payload), nil
}
