package pipeline

import (
	"fmt"

	"github.com/neuro-ml/connectome/pkg/funchash"
	"github.com/neuro-ml/connectome/pkg/graph"
	"github.com/neuro-ml/connectome/pkg/layer"
)

// TransformField derives a new field from one or more of an upstream bag's
// existing field values. Inputs names which upstream fields Fn receives, in
// order.
type TransformField struct {
	Name          string
	Inputs        []string
	Fn            func(arguments []any) (any, error)
	QualifiedName string
	Module        string
	ContentID     funchash.ContentIDer
}

// Transform derives new fields from upstream, passing every untouched
// upstream field through unchanged. Internally this builds a small bag
// whose only declared inputs are the upstream field names a TransformField
// actually reads, marks every other upstream output name virtual (so
// pkg/layer.Chain's pass-through rule picks it up), and chains it onto
// upstream.
//
// Grounded on original_source/connectome/interface/factory.py's
// TransformFactory, which does the same "derive some fields, inherit the
// rest" composition via EdgesBag.loopback/Chain.
func Transform(reg *funchash.Registry, upstream *graph.EdgesBag, fields ...TransformField) (*graph.EdgesBag, error) {
	inputNodes := map[string]*graph.Node{}
	var edges []graph.BoundEdge
	var outputs []*graph.Node
	newNames := map[string]struct{}{}

	for _, tf := range fields {
		if _, dup := newNames[tf.Name]; dup {
			return nil, fmt.Errorf("pipeline: duplicate transform field %q", tf.Name)
		}
		newNames[tf.Name] = struct{}{}

		fnHash, err := funchash.Hash(reg, tf.QualifiedName, tf.Module, tf.ContentID)
		if err != nil {
			return nil, fmt.Errorf("pipeline: transform field %q: %w", tf.Name, err)
		}

		ins := make([]*graph.Node, len(tf.Inputs))
		for i, name := range tf.Inputs {
			n, ok := inputNodes[name]
			if !ok {
				n = graph.NewNode(name)
				inputNodes[name] = n
			}
			ins[i] = n
		}

		fe := graph.NewFunctionEdge(graph.Func(tf.Fn), fnHash, len(ins))
		out := graph.NewNode(tf.Name)
		edges = append(edges, graph.Bind(fe, ins, out))
		outputs = append(outputs, out)
	}

	declaredInputs := make([]*graph.Node, 0, len(inputNodes))
	for _, n := range inputNodes {
		declaredInputs = append(declaredInputs, n)
	}

	virtual := map[string]struct{}{}
	for _, out := range upstream.Outputs {
		if _, isNew := newNames[out.Name]; isNew {
			continue
		}
		virtual[out.Name] = struct{}{}
	}

	transformBag, err := graph.NewEdgesBag(declaredInputs, outputs, edges, virtual, nil, nil, graph.IdentityContext{})
	if err != nil {
		return nil, err
	}

	return layer.Chain(upstream, transformBag)
}
