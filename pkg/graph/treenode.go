package graph

// TreeNode is the dependency-tree view of a set of BoundEdges: each output
// Node maps to the single edge that produces it and the TreeNodes of its
// inputs. Building this tree is how EdgesBag checks that declared inputs
// truly have no dependencies (they must be leaves) and that every node has
// at most one incoming edge.
//
// Grounded on original_source/connectome/engine/base.py:TreeNode.
type TreeNode struct {
	Name   string
	Edge   Edge
	Inputs []*TreeNode
}

// IsLeaf reports whether this node has no incoming edge.
func (t *TreeNode) IsLeaf() bool {
	return t.Edge == nil
}

// BuildTree maps every Node touched by edges to its TreeNode, mirroring
// TreeNode.from_edges. It returns an error if any node is the output of more
// than one edge.
func BuildTree(edges []BoundEdge) (map[*Node]*TreeNode, error) {
	mapping := make(map[*Node]*TreeNode)
	get := func(n *Node) *TreeNode {
		if tn, ok := mapping[n]; !ok {
			tn = &TreeNode{Name: n.Name}
			mapping[n] = tn
			return tn
		} else {
			return tn
		}
	}

	assigned := make(map[*Node]bool)
	for _, edge := range edges {
		for _, in := range edge.Inputs {
			get(in)
		}
		get(edge.Output)

		if assigned[edge.Output] {
			return nil, &GraphError{Message: "the node \"" + edge.Output.Name + "\" has multiple incoming edges"}
		}
		assigned[edge.Output] = true

		out := mapping[edge.Output]
		out.Edge = edge.Edge
		out.Inputs = make([]*TreeNode, len(edge.Inputs))
		for i, in := range edge.Inputs {
			out.Inputs[i] = mapping[in]
		}
	}

	return mapping, nil
}
