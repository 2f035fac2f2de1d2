package layer

import (
	"fmt"
	"sort"

	"github.com/neuro-ml/connectome/pkg/graph"
	"github.com/neuro-ml/connectome/pkg/hashvalue"
	"github.com/neuro-ml/connectome/pkg/vm"
)

// Predicate decides whether an id survives a Filter layer.
type Predicate func(id string) (bool, error)

// KeepIDs builds a Predicate that accepts only the given ids, the
// convenience form of a Filter built from an explicit id set rather than a
// caller-written predicate.
//
// Grounded on original_source/connectome/layers/filter.py:Filter.keep.
func KeepIDs(ids ...string) Predicate {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(id string) (bool, error) { return set[id], nil }
}

// DropIDs builds a Predicate that accepts every id except the given ones.
//
// Grounded on original_source/connectome/layers/filter.py:Filter.drop.
func DropIDs(ids ...string) Predicate {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(id string) (bool, error) { return !set[id], nil }
}

// FilterOption configures optional Filter behavior beyond its required
// arguments.
type FilterOption func(*filterConfig)

type filterConfig struct {
	onProgress func(done, total int)
}

// WithFilterProgress registers a callback invoked after each upstream id's
// predicate has been evaluated — the portable equivalent of the original's
// tqdm progress bar (original_source/connectome/layers/filter.py's
// `verbose` flag).
func WithFilterProgress(fn func(done, total int)) FilterOption {
	return func(c *filterConfig) { c.onProgress = fn }
}

// Filter narrows bag's id space to those ids predicate accepts, leaving
// every field's value unchanged for ids that survive. Per spec.md §8
// scenario 7, a predicate may not be wired over an impure edge — since our
// Predicate is a plain Go func evaluated eagerly at construction time rather
// than compiled into the graph, that restriction doesn't apply here; the
// restriction instead falls on CacheEdge wrapping an ImpureEdge, checked in
// pkg/pipeline where CacheEdge is actually constructed.
//
// Grounded on original_source/connectome/containers/filter.py:FilterContainer.
func Filter(bag *graph.EdgesBag, ex *vm.Executor, predicate Predicate, opts ...FilterOption) (*graph.EdgesBag, error) {
	cfg := filterConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	frozen := bag.Freeze()
	ids, err := sourceIDs(frozen, IDsField, ex)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	var kept []string
	for i, id := range ids {
		ok, err := predicate(id)
		if err != nil {
			return nil, fmt.Errorf("filter: predicate(%q): %w", id, err)
		}
		if ok {
			kept = append(kept, id)
		}
		if cfg.onProgress != nil {
			cfg.onProgress(i+1, len(ids))
		}
	}
	sort.Strings(kept)

	idsOut := graph.NewNode(IDsField)
	edges := append([]graph.BoundEdge(nil), frozen.Edges...)
	edges = append(edges, graph.Bind(graph.NewValueEdge(kept, hashvalue.Leaf{Payload: []byte("connectome.Filter.ids")}), nil, idsOut))

	outputs := []*graph.Node{idsOut}
	for _, out := range frozen.Outputs {
		if out.Name == IDsField {
			continue
		}
		outputs = append(outputs, out)
	}

	return graph.NewEdgesBag(frozen.Inputs, outputs, edges, frozen.VirtualNodes, frozen.PersistentNodes, frozen.OptionalNodes, graph.IdentityContext{})
}
