package layer

import (
	"github.com/neuro-ml/connectome/pkg/graph"
)

// Chain composes a (upstream) and b (downstream) into a single bag: every
// name b needs that a produces is stitched by an identity edge, names a
// produces that b doesn't consume but that b marks virtual (or a marks
// persistent) pass through as new outputs, and names b needs that a doesn't
// produce are either promoted to new inputs (if a marks them virtual),
// silently dropped (if b marks them optional) or rejected as a
// DependencyError. Outputs left unreachable by the drop are pruned.
//
// Grounded on original_source/connectome/containers/chain.py:ChainContainer
// and its Chain.compile.
func Chain(a, b *graph.EdgesBag) (*graph.EdgesBag, error) {
	af := a.Freeze()
	bf := b.Freeze()

	produced := outputsByName(af) // P: names a produces
	consumed := inputsByName(bf)  // C: names b consumes

	edges := make([]graph.BoundEdge, 0, len(af.Edges)+len(bf.Edges)+len(bf.Inputs))
	edges = append(edges, af.Edges...)
	edges = append(edges, bf.Edges...)

	// P ∩ C: stitch a's output directly into b's input node.
	for name, bIn := range consumed {
		if aOut, ok := produced[name]; ok {
			edges = append(edges, graph.Bind(graph.IdentityEdge{}, []*graph.Node{aOut}, bIn))
		}
	}

	outputs := append([]*graph.Node(nil), bf.Outputs...)
	outputNames := outputsByName(&graph.EdgesBag{Outputs: outputs})

	// P \ C, when b treats it as virtual (would have passed it through
	// anyway) or a marks it persistent (must survive the chain regardless):
	// expose it as a new pass-through output.
	for name, aOut := range produced {
		if _, stitched := consumed[name]; stitched {
			continue
		}
		_, bVirtual := bf.VirtualNodes[name]
		_, aPersistent := af.PersistentNodes[name]
		if !bVirtual && !aPersistent {
			continue
		}
		if _, already := outputNames[name]; already {
			continue
		}
		out := graph.NewNode(name)
		edges = append(edges, graph.Bind(graph.IdentityEdge{}, []*graph.Node{aOut}, out))
		outputs = append(outputs, out)
		outputNames[name] = out
	}

	inputs := append([]*graph.Node(nil), af.Inputs...)

	// C \ P: b needs a name a doesn't supply.
	for name, bIn := range consumed {
		if _, supplied := produced[name]; supplied {
			continue
		}
		if _, aVirtual := af.VirtualNodes[name]; aVirtual {
			newIn := graph.NewNode(name)
			inputs = append(inputs, newIn)
			edges = append(edges, graph.Bind(graph.IdentityEdge{}, []*graph.Node{newIn}, bIn))
			continue
		}
		if _, bOptional := nodeOptional(bf, name); bOptional {
			// Dropped: bIn stays a dangling leaf with no supplying edge and
			// is absent from inputs, so any output reaching it is pruned
			// below.
			continue
		}
		return nil, &graph.DependencyError{Node: name}
	}

	finalInputSet := make(map[*graph.Node]bool, len(inputs))
	for _, in := range inputs {
		finalInputSet[in] = true
	}
	tree, err := graph.BuildTree(edges)
	if err != nil {
		return nil, err
	}
	prunedOutputs := outputs[:0:0]
	for _, out := range outputs {
		if dependenciesSatisfied(tree, out, finalInputSet) {
			prunedOutputs = append(prunedOutputs, out)
		}
	}

	virtual := intersectNameSets(af.VirtualNodes, bf.VirtualNodes)
	persistent := unionNameSets(af.PersistentNodes, bf.PersistentNodes)
	optionalNames := intersectOptionalNames(af, bf)
	optionals := nodesNamed(inputs, prunedOutputs, optionalNames)

	ctx := graph.ChainContext{Previous: af.Context, Current: bf.Context}

	return graph.NewEdgesBag(inputs, prunedOutputs, edges, virtual, persistent, optionals, ctx)
}

func nodeOptional(bag *graph.EdgesBag, name string) (*graph.Node, bool) {
	for n := range bag.OptionalNodes {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

func intersectNameSets(a, b map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	for name := range a {
		if _, ok := b[name]; ok {
			out[name] = struct{}{}
		}
	}
	return out
}

func unionNameSets(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for name := range a {
		out[name] = struct{}{}
	}
	for name := range b {
		out[name] = struct{}{}
	}
	return out
}

func intersectOptionalNames(a, b *graph.EdgesBag) map[string]struct{} {
	an := map[string]struct{}{}
	for n := range a.OptionalNodes {
		an[n.Name] = struct{}{}
	}
	bn := map[string]struct{}{}
	for n := range b.OptionalNodes {
		bn[n.Name] = struct{}{}
	}
	return intersectNameSets(an, bn)
}

func nodesNamed(inputs, outputs []*graph.Node, names map[string]struct{}) map[*graph.Node]struct{} {
	out := map[*graph.Node]struct{}{}
	for _, n := range inputs {
		if _, ok := names[n.Name]; ok {
			out[n] = struct{}{}
		}
	}
	for _, n := range outputs {
		if _, ok := names[n.Name]; ok {
			out[n] = struct{}{}
		}
	}
	return out
}
