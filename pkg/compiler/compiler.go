// Package compiler turns a frozen, validated graph.EdgesBag into callable
// entry points: one function per named output, running pkg/vm's Executor
// over the bag's compiled TreeNodes.
//
// Grounded on original_source/connectome/engine/{compiler.py,compilers.py}.
package compiler

import (
	"fmt"

	"github.com/neuro-ml/connectome/pkg/graph"
	"github.com/neuro-ml/connectome/pkg/hashvalue"
	"github.com/neuro-ml/connectome/pkg/vm"
)

// LeafHasher derives the structural hash for a raw positional input value.
type LeafHasher func(value any) (hashvalue.Value, error)

// DefaultLeafHasher treats every input as a dataset key: a string's raw
// bytes are its leaf hash, per spec.md §4.1 ("For a dataset key string, the
// leaf hash is its raw bytes").
func DefaultLeafHasher(value any) (hashvalue.Value, error) {
	switch v := value.(type) {
	case string:
		return hashvalue.Leaf{Payload: []byte(v)}, nil
	case []byte:
		return hashvalue.Leaf{Payload: append([]byte(nil), v...)}, nil
	case fmt.Stringer:
		return hashvalue.Leaf{Payload: []byte(v.String())}, nil
	default:
		return nil, fmt.Errorf("compiler: no default leaf hash for %T; supply a LeafHasher", value)
	}
}

// ArityError reports a compiled callable invoked with the wrong number of
// positional inputs.
type ArityError struct {
	Field    string
	Expected int
	Got      int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("compiler: %q expects %d input(s), got %d", e.Field, e.Expected, e.Got)
}

// Compiler resolves a frozen EdgesBag's dependency structure and exposes
// callable entry points over it.
type Compiler struct {
	bag      *graph.EdgesBag
	executor *vm.Executor
	tree     map[*graph.Node]*graph.TreeNode
}

// New builds the TreeNode view of bag via graph.BuildTree (which checks that
// every node has a single producing edge; cycles were already rejected when
// the bag was built by graph.NewEdgesBag) and binds it to executor.
func New(bag *graph.EdgesBag, executor *vm.Executor) (*Compiler, error) {
	tree, err := graph.BuildTree(bag.Edges)
	if err != nil {
		return nil, err
	}
	// Outputs with no incoming edge (bare pass-throughs of a declared
	// input under the same Node) still need a TreeNode entry.
	for _, out := range bag.Outputs {
		if _, ok := tree[out]; !ok {
			tree[out] = &graph.TreeNode{Name: out.Name}
		}
	}
	for _, in := range bag.Inputs {
		if _, ok := tree[in]; !ok {
			tree[in] = &graph.TreeNode{Name: in.Name}
		}
	}
	return &Compiler{bag: bag, executor: executor, tree: tree}, nil
}

// Fields lists every name this compiler can produce a callable for.
func (c *Compiler) Fields() []string {
	names := make([]string, len(c.bag.Outputs))
	for i, o := range c.bag.Outputs {
		names[i] = o.Name
	}
	return names
}

func (c *Compiler) outputNode(name string) *graph.Node {
	for _, o := range c.bag.Outputs {
		if o.Name == name {
			return o
		}
	}
	return nil
}

// Dependencies returns the input names name's computation actually reaches,
// walking the compiled tree from its output node — the dependency set
// spec.md §4.6 says the compiler must resolve per output.
func (c *Compiler) Dependencies(name string) ([]string, error) {
	node := c.outputNode(name)
	if node == nil {
		return nil, &graph.FieldError{Field: name}
	}
	var names []string
	seen := map[*graph.TreeNode]bool{}
	var walk func(*graph.TreeNode)
	walk = func(t *graph.TreeNode) {
		if t == nil || seen[t] {
			return
		}
		seen[t] = true
		if t.IsLeaf() {
			names = append(names, t.Name)
			return
		}
		for _, p := range t.Inputs {
			walk(p)
		}
	}
	walk(c.tree[node])
	return names, nil
}

// Callable is a compiled entry point: positional inputs in the bag's
// declared Inputs order, in; a single produced value, out.
type Callable func(inputs ...any) (any, error)

// Compile returns a callable bound to the single output name, using hasher
// to derive leaf hashes for positional inputs (DefaultLeafHasher if nil).
func (c *Compiler) Compile(name string, hasher LeafHasher) (Callable, error) {
	node := c.outputNode(name)
	if node == nil {
		return nil, &graph.FieldError{Field: name}
	}
	return c.compileRoot(name, c.tree[node], hasher), nil
}

// CompileTuple wraps several outputs under a synthetic Product edge and
// returns a callable producing a []any in the given order, per spec.md
// §4.6 ("Compiling a tuple wraps a Product edge over the chosen outputs").
func (c *Compiler) CompileTuple(names []string, hasher LeafHasher) (Callable, error) {
	inputs := make([]*graph.TreeNode, len(names))
	for i, name := range names {
		node := c.outputNode(name)
		if node == nil {
			return nil, &graph.FieldError{Field: name}
		}
		inputs[i] = c.tree[node]
	}
	product := &graph.TreeNode{
		Name:   "$tuple",
		Edge:   graph.NewProductEdge(len(inputs)),
		Inputs: inputs,
	}
	return c.compileRoot("(" + joinNames(names) + ")", product, hasher), nil
}

func (c *Compiler) compileRoot(fieldLabel string, root *graph.TreeNode, hasher LeafHasher) Callable {
	if hasher == nil {
		hasher = DefaultLeafHasher
	}
	inputs := c.bag.Inputs
	tree := c.tree
	executor := c.executor

	return func(values ...any) (any, error) {
		if len(values) != len(inputs) {
			return nil, &ArityError{Field: fieldLabel, Expected: len(inputs), Got: len(values)}
		}
		leaves := make(map[*graph.TreeNode]vm.Leaf, len(inputs))
		for i, in := range inputs {
			h, err := hasher(values[i])
			if err != nil {
				return nil, err
			}
			leaves[tree[in]] = vm.Leaf{Value: values[i], Hash: h}
		}
		return executor.Run(root, leaves)
	}
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
