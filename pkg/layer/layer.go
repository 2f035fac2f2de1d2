// Package layer implements connectome's layer algebra: the operators that
// combine and reshape EdgesBags into new EdgesBags — Chain, Merge, Filter,
// GroupBy, Join and Split from spec.md §4.7.
//
// Chain is a pure graph rewrite: it never runs anything, it only stitches
// two bags' node sets together. Merge, Filter, GroupBy, Join and Split are
// different in kind — they rewrite a bag's *id space*, and deciding the new
// id space requires actually knowing the old one. The original engine gets
// this for free because Python lets a container eagerly pull a prior layer's
// `ids` property at construction time; we do the same thing explicitly here,
// compiling and running the upstream bag's `ids` output through a
// caller-supplied pkg/vm.Executor before the new bag is built. That is the
// one place this package reaches outside pure graph rewriting.
//
// Grounded on original_source/connectome/containers/{chain.py,filter.py,
// group.py,join.py,merge.py}.
package layer

import (
	"fmt"
	"sort"

	"github.com/neuro-ml/connectome/pkg/compiler"
	"github.com/neuro-ml/connectome/pkg/graph"
	"github.com/neuro-ml/connectome/pkg/vm"
)

// IDsField is the conventional name of the zero-arity output a source layer
// uses to publish its full key set, and KeyInput the conventional name of
// the single input every per-key field depends on. Every constructor in this
// package uses these two names; none takes an override.
const (
	IDsField = "ids"
	KeyInput = "id"
)

// sourceIDs compiles and runs bag's idsField output with zero inputs (it
// must not depend on any input — a dataset's id list is a static property of
// the dataset, not a function of a key) and asserts the result is a
// []string, the id representation pkg/pipeline and pkg/layer standardize on.
func sourceIDs(bag *graph.EdgesBag, idsField string, ex *vm.Executor) ([]string, error) {
	comp, err := compiler.New(bag, ex)
	if err != nil {
		return nil, err
	}
	call, err := comp.Compile(idsField, nil)
	if err != nil {
		return nil, err
	}
	// Every compiled callable for this bag shares the same positional
	// signature (len(bag.Inputs)), even though idsField's own computation
	// must not actually depend on any of them — it is a static property of
	// the dataset. The leaf hasher still runs once per declared input before
	// the uninvolved leaves are pruned, so placeholder strings (rather than
	// nil, which DefaultLeafHasher rejects) stand in for unused positions.
	values := make([]any, len(bag.Inputs))
	for i := range values {
		values[i] = ""
	}
	v, err := call(values...)
	if err != nil {
		return nil, fmt.Errorf("layer: evaluating %q: %w", idsField, err)
	}
	ids, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("layer: %q produced %T, want []string", idsField, v)
	}
	return ids, nil
}

// outputsByName indexes a bag's declared outputs by name.
func outputsByName(bag *graph.EdgesBag) map[string]*graph.Node {
	m := make(map[string]*graph.Node, len(bag.Outputs))
	for _, n := range bag.Outputs {
		m[n.Name] = n
	}
	return m
}

// inputsByName indexes a bag's declared inputs by name.
func inputsByName(bag *graph.EdgesBag) map[string]*graph.Node {
	m := make(map[string]*graph.Node, len(bag.Inputs))
	for _, n := range bag.Inputs {
		m[n.Name] = n
	}
	return m
}

// sortedStrings returns a sorted copy of ss.
func sortedStrings(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}

// dependenciesSatisfied reports whether every leaf reachable from node is
// among the final input set — i.e. whether node can actually be computed
// once dangling, unsupplied inputs have been dropped.
func dependenciesSatisfied(tree map[*graph.Node]*graph.TreeNode, node *graph.Node, finalInputs map[*graph.Node]bool) bool {
	tn, ok := tree[node]
	if !ok {
		return true
	}
	nodeOf := make(map[*graph.TreeNode]*graph.Node, len(tree))
	for n, t := range tree {
		nodeOf[t] = n
	}

	seen := map[*graph.TreeNode]bool{}
	var walk func(*graph.TreeNode) bool
	walk = func(t *graph.TreeNode) bool {
		if t == nil || seen[t] {
			return true
		}
		seen[t] = true
		if t.IsLeaf() {
			n, ok := nodeOf[t]
			if !ok {
				// a leaf with no corresponding declared Node (shouldn't
				// happen for a well-formed bag) is unsatisfiable.
				return false
			}
			return finalInputs[n]
		}
		for _, in := range t.Inputs {
			if !walk(in) {
				return false
			}
		}
		return true
	}
	return walk(tn)
}
