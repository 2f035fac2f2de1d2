// Package graph implements connectome's typed computation-graph data model:
// Node, Edge, BoundEdge, TreeNode and the EdgesBag container that validates
// and holds a layer's wiring. Identity here is pointer identity, mirroring
// the original's reliance on Python object identity for Node equality.
//
// Grounded on original_source/connectome/engine/base.py, engine/edges.py and
// containers/base.py.
package graph

// Node is a named slot in the computation graph. Two Nodes are the same node
// iff they are the same pointer; two different layers may each have a node
// named "image" that are nonetheless distinct.
type Node struct {
	Name string
}

// NewNode allocates a fresh Node, always distinct from any other Node with
// the same Name.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// Clone returns a new, distinct Node with the same name.
func (n *Node) Clone() *Node {
	return &Node{Name: n.Name}
}

func (n *Node) String() string {
	return "<Node: " + n.Name + ">"
}

// nodeNames returns the Name of every node in nodes, for error messages.
func nodeNames(nodes []*Node) []string {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	return names
}

// nodeToMap builds a name -> Node lookup, the Go analogue of
// connectome.utils.node_to_dict.
func nodeToMap(nodes []*Node) map[string]*Node {
	m := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		m[n.Name] = n
	}
	return m
}
