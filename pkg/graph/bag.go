package graph

// EdgesBag is a validated computation graph: a set of inputs, a set of
// outputs, the edges wiring them together, and the bookkeeping (virtual,
// persistent, optional nodes; reversal Context) the layer algebra in
// pkg/layer needs to compose bags into new bags.
//
// Grounded on original_source/connectome/containers/base.py:EdgesBag and its
// normalize_bag validation pass.
type EdgesBag struct {
	Inputs          []*Node
	Outputs         []*Node
	Edges           []BoundEdge
	VirtualNodes    map[string]struct{}
	PersistentNodes map[string]struct{}
	OptionalNodes   map[*Node]struct{}
	Context         Context
}

// NewEdgesBag validates and constructs an EdgesBag. virtualNodes names
// fields the bag passes through unchanged from a predecessor; a virtual name
// that is also an output is an error. persistentNodes names inputs to keep
// as outputs. A virtual or persistent name that is an input but not an
// output is spliced through by an identity edge to a new output node of the
// same name, and is then no longer virtual.
func NewEdgesBag(
	inputs, outputs []*Node,
	edges []BoundEdge,
	virtualNodes, persistentNodes map[string]struct{},
	optionalNodes map[*Node]struct{},
	ctx Context,
) (*EdgesBag, error) {
	if virtualNodes == nil {
		virtualNodes = map[string]struct{}{}
	}
	if persistentNodes == nil {
		persistentNodes = map[string]struct{}{}
	}
	if optionalNodes == nil {
		optionalNodes = map[*Node]struct{}{}
	}
	if ctx == nil {
		ctx = NoContext{}
	}

	normInputs, normOutputs, normEdges, normVirtual, err := normalizeBag(inputs, outputs, edges, virtualNodes, optionalNodes, persistentNodes)
	if err != nil {
		return nil, err
	}

	return &EdgesBag{
		Inputs:          normInputs,
		Outputs:         normOutputs,
		Edges:           normEdges,
		VirtualNodes:    normVirtual,
		PersistentNodes: persistentNodes,
		OptionalNodes:   optionalNodes,
		Context:         ctx,
	}, nil
}

// normalizeBag performs the structural checks original_source's
// normalize_bag runs before a bag is usable: no node both inherited and
// defined, virtual/persistent promotion to identity edges, at-most-one
// incoming edge per node, acyclicity, declared inputs are true leaves, and
// every optional node is actually present.
func normalizeBag(
	inputs, outputs []*Node,
	edges []BoundEdge,
	virtuals map[string]struct{},
	optionals map[*Node]struct{},
	persistentNodes map[string]struct{},
) ([]*Node, []*Node, []BoundEdge, map[string]struct{}, error) {
	inputByName := nodeToMap(inputs)
	outputByName := nodeToMap(outputs)
	edges = append([]BoundEdge(nil), edges...)

	for name := range virtuals {
		if _, ok := outputByName[name]; ok {
			return nil, nil, nil, nil, &GraphError{Message: "node \"" + name + "\" is both inherited and has a defined edge"}
		}
	}

	remainingVirtual := map[string]struct{}{}
	for name := range virtuals {
		remainingVirtual[name] = struct{}{}
	}
	promote := map[string]struct{}{}
	for name := range virtuals {
		promote[name] = struct{}{}
	}
	for name := range persistentNodes {
		promote[name] = struct{}{}
	}
	for name := range promote {
		in, isInput := inputByName[name]
		_, isOutput := outputByName[name]
		if !isInput || isOutput {
			continue
		}
		delete(remainingVirtual, name)
		clone := in.Clone()
		outputByName[name] = clone
		edges = append(edges, Bind(IdentityEdge{}, []*Node{in}, clone))
	}

	adjacency := make(map[*Node][]*Node)
	for _, e := range edges {
		if _, dup := adjacency[e.Output]; dup {
			return nil, nil, nil, nil, &GraphError{Message: "the node \"" + e.Output.Name + "\" has multiple incoming edges"}
		}
		adjacency[e.Output] = e.Inputs
	}
	if cycle := detectCycle(adjacency); cycle != nil {
		return nil, nil, nil, nil, &GraphError{Message: "the computational graph contains cycles: " + joinNames(cycle)}
	}

	finalOutputs := make([]*Node, 0, len(outputByName))
	for _, n := range outputByName {
		finalOutputs = append(finalOutputs, n)
	}

	product := NewNode("$product")
	treeEdges := append(append([]BoundEdge(nil), edges...), Bind(NewProductEdge(len(finalOutputs)), finalOutputs, product))
	tree, err := BuildTree(treeEdges)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	var notLeaves []string
	for _, in := range inputs {
		tn, ok := tree[in]
		if ok && !tn.IsLeaf() {
			notLeaves = append(notLeaves, tn.Name)
		}
	}
	if len(notLeaves) > 0 {
		return nil, nil, nil, nil, &GraphError{Message: "the inputs " + joinStrings(notLeaves) + " are not actual inputs - they have dependencies"}
	}

	var missingOptionals []string
	for n := range optionals {
		if _, ok := tree[n]; !ok {
			missingOptionals = append(missingOptionals, n.Name)
		}
	}
	if len(missingOptionals) > 0 {
		return nil, nil, nil, nil, &GraphError{Message: "the nodes " + joinStrings(missingOptionals) + " are marked optional but are not present in the graph"}
	}

	return inputs, finalOutputs, edges, remainingVirtual, nil
}

// detectCycle walks adjacency (node -> its direct dependencies) depth-first
// and returns one offending path if a cycle exists, nil otherwise.
func detectCycle(adjacency map[*Node][]*Node) []*Node {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[*Node]int)
	var stack []*Node
	var cycle []*Node

	var visit func(n *Node) bool
	visit = func(n *Node) bool {
		switch state[n] {
		case done:
			return false
		case visiting:
			cycle = append(append([]*Node(nil), stack...), n)
			return true
		}
		state[n] = visiting
		stack = append(stack, n)
		for _, dep := range adjacency[n] {
			if visit(dep) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
		return false
	}

	for n := range adjacency {
		if state[n] == unvisited {
			if visit(n) {
				return cycle
			}
		}
	}
	return nil
}

func joinNames(nodes []*Node) string {
	return joinStrings(nodeNames(nodes))
}

func joinStrings(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// Loopback builds a temporary graph combining this bag's current outputs
// with fn (bound as a FunctionEdge over inputNames, producing a node per
// name in outputNames), then reverses it through the bag's Context. This is
// how a user-supplied function gets the same preprocessing its inputs
// received, letting predictors be decorated with upstream transforms.
//
// Grounded on original_source/connectome/containers/base.py:EdgesBag.loopback.
func (b *EdgesBag) Loopback(fn Func, functionHash []byte, inputNames, outputNames []string) (*EdgesBag, error) {
	state := b.Freeze()
	edges := append([]BoundEdge(nil), state.Edges...)
	current := nodeToMap(state.Outputs)

	seen := map[string]struct{}{}
	for _, name := range inputNames {
		if _, dup := seen[name]; dup {
			return nil, &GraphError{Message: "loopback inputs contain duplicates: " + joinStrings(inputNames)}
		}
		seen[name] = struct{}{}
	}

	allInputs := append([]*Node(nil), state.Inputs...)
	inputNodes := make([]*Node, len(inputNames))
	for i, name := range inputNames {
		if node, ok := current[name]; ok {
			inputNodes[i] = node
			continue
		}
		if _, virtual := state.VirtualNodes[name]; !virtual {
			return nil, &GraphError{Message: "node \"" + name + "\" is not defined"}
		}
		node := NewNode(name)
		allInputs = append(allInputs, node)
		inputNodes[i] = node
	}

	edge := NewFunctionEdge(fn, functionHash, len(inputNodes))

	var outputs []*Node
	if len(outputNames) == 1 {
		out := NewNode(outputNames[0])
		edges = append(edges, Bind(edge, inputNodes, out))
		outputs = append(outputs, out)
	} else {
		aux := NewNode("$tuple")
		edges = append(edges, Bind(edge, inputNodes, aux))
		for i, name := range outputNames {
			out := NewNode(name)
			getter := NewFunctionEdge(tupleItemGetter(i), nil, 1)
			edges = append(edges, Bind(getter, []*Node{aux}, out))
			outputs = append(outputs, out)
		}
	}

	reversedOutputs, extraEdges, extraOptionals, err := state.Context.Reverse(outputs)
	if err != nil {
		return nil, err
	}
	edges = append(edges, extraEdges...)

	return NewEdgesBag(allInputs, reversedOutputs, edges, nil, nil, extraOptionals, NoContext{})
}

// tupleItemGetter returns a Func that extracts element i from a []any.
func tupleItemGetter(i int) Func {
	return func(arguments []any) (any, error) {
		tuple := arguments[0].([]any)
		return tuple[i], nil
	}
}

// Freeze returns a structurally identical copy of the bag with every Node
// replaced by a fresh one, so the same layer can be wired into a composition
// more than once without its internal nodes aliasing a sibling's.
func (b *EdgesBag) Freeze() *EdgesBag {
	nodeMap := make(map[*Node]*Node)

	edges := make([]BoundEdge, len(b.Edges))
	for i, e := range b.Edges {
		edges[i] = Bind(e.Edge, updateNodes(e.Inputs, nodeMap), updateNodes([]*Node{e.Output}, nodeMap)[0])
	}

	optionals := make(map[*Node]struct{}, len(b.OptionalNodes))
	for n := range b.OptionalNodes {
		optionals[updateNodes([]*Node{n}, nodeMap)[0]] = struct{}{}
	}

	frozen, err := NewEdgesBag(
		updateNodes(b.Inputs, nodeMap),
		updateNodes(b.Outputs, nodeMap),
		edges,
		b.VirtualNodes,
		b.PersistentNodes,
		optionals,
		b.Context.Update(nodeMap),
	)
	if err != nil {
		// Freeze only renames nodes; it cannot reintroduce a structural
		// error that NewEdgesBag didn't already raise when b was built.
		panic(err)
	}
	return frozen
}
