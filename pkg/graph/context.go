package graph

// Context captures how a layer was produced from its predecessor(s) so that
// a reversible layer (one wrapped in a loopback) can stitch new outputs back
// into the graph. Grounded on
// original_source/connectome/containers/context.py.
type Context interface {
	// Reverse returns the updated outputs, any additional edges needed to
	// splice them in, and any additional optional nodes.
	Reverse(outputs []*Node) ([]*Node, []BoundEdge, map[*Node]struct{}, error)
	// Update remaps every Node this Context references through nodeMap,
	// used by EdgesBag.Freeze to give a layer copy fresh node identities.
	Update(nodeMap map[*Node]*Node) Context
}

// NoContext is the default: the layer is not reversible.
type NoContext struct{}

func (NoContext) Reverse([]*Node) ([]*Node, []BoundEdge, map[*Node]struct{}, error) {
	return nil, nil, nil, &GraphError{Message: "the layer is not reversible"}
}

func (c NoContext) Update(map[*Node]*Node) Context { return c }

// IdentityContext propagates every output unchanged; used by layers whose
// loopback is a no-op wiring (e.g. Filter).
type IdentityContext struct{}

func (IdentityContext) Reverse(outputs []*Node) ([]*Node, []BoundEdge, map[*Node]struct{}, error) {
	return outputs, nil, map[*Node]struct{}{}, nil
}

func (c IdentityContext) Update(map[*Node]*Node) Context { return c }

// BagContext describes a layer that stitches a predecessor's outputs to its
// own inputs by name. No layer in this repository constructs one: Chain
// produces a ChainContext and Transform an IdentityContext. Inherit
// names nodes from the predecessor that should remain reachable even though
// this layer doesn't otherwise use them.
type BagContext struct {
	Inputs  []*Node
	Outputs []*Node
	Inherit map[string]struct{}
}

func (c BagContext) Reverse(outputs []*Node) ([]*Node, []BoundEdge, map[*Node]struct{}, error) {
	var edges []BoundEdge
	optionals := map[*Node]struct{}{}
	outputByName := nodeToMap(outputs)
	newOutputs := nodeToMap(c.Outputs)

	for _, node := range c.Inputs {
		if src, ok := outputByName[node.Name]; ok {
			edges = append(edges, Bind(IdentityEdge{}, []*Node{src}, node))
		}
	}

	for _, node := range outputs {
		if _, inherited := c.Inherit[node.Name]; !inherited {
			continue
		}
		if _, already := newOutputs[node.Name]; already {
			continue
		}
		out := node.Clone()
		optionals[out] = struct{}{}
		edges = append(edges, Bind(IdentityEdge{}, []*Node{node}, out))
		newOutputs[node.Name] = out
	}

	result := make([]*Node, 0, len(newOutputs))
	for _, n := range newOutputs {
		result = append(result, n)
	}
	return result, edges, optionals, nil
}

func (c BagContext) Update(nodeMap map[*Node]*Node) Context {
	return BagContext{
		Inputs:  updateNodes(c.Inputs, nodeMap),
		Outputs: updateNodes(c.Outputs, nodeMap),
		Inherit: c.Inherit,
	}
}

// ChainContext composes two contexts, applying current's reversal before
// previous's — the analogue of composing two layers' loopbacks.
type ChainContext struct {
	Previous Context
	Current  Context
}

func (c ChainContext) Reverse(outputs []*Node) ([]*Node, []BoundEdge, map[*Node]struct{}, error) {
	outputs, currentEdges, currentOptionals, err := c.Current.Reverse(outputs)
	if err != nil {
		return nil, nil, nil, err
	}
	outputs, previousEdges, previousOptionals, err := c.Previous.Reverse(outputs)
	if err != nil {
		return nil, nil, nil, err
	}
	edges := make([]BoundEdge, 0, len(currentEdges)+len(previousEdges))
	edges = append(edges, currentEdges...)
	edges = append(edges, previousEdges...)
	optionals := make(map[*Node]struct{}, len(currentOptionals)+len(previousOptionals))
	for n := range currentOptionals {
		optionals[n] = struct{}{}
	}
	for n := range previousOptionals {
		optionals[n] = struct{}{}
	}
	return outputs, edges, optionals, nil
}

func (c ChainContext) Update(nodeMap map[*Node]*Node) Context {
	return ChainContext{Previous: c.Previous.Update(nodeMap), Current: c.Current.Update(nodeMap)}
}

// updateNodes remaps each node through nodeMap, allocating a fresh Node (and
// recording it in nodeMap) on first sight — the Go analogue of
// containers/context.py:update_map, minus the original's Details/layer
// provenance tracking, which is debug metadata with no bearing on graph
// semantics.
func updateNodes(nodes []*Node, nodeMap map[*Node]*Node) []*Node {
	out := make([]*Node, len(nodes))
	for i, n := range nodes {
		if mapped, ok := nodeMap[n]; ok {
			out[i] = mapped
		} else {
			mapped = n.Clone()
			nodeMap[n] = mapped
			out[i] = mapped
		}
	}
	return out
}
