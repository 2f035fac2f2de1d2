package graph_test

import (
	"testing"

	"github.com/neuro-ml/connectome/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity(arguments []any) (any, error) { return arguments[0], nil }

func TestNewEdgesBagSimpleChain(t *testing.T) {
	in := graph.NewNode("x")
	out := graph.NewNode("y")
	edge := graph.NewFunctionEdge(identity, []byte("id"), 1)
	bag, err := graph.NewEdgesBag(
		[]*graph.Node{in}, []*graph.Node{out},
		[]graph.BoundEdge{graph.Bind(edge, []*graph.Node{in}, out)},
		nil, nil, nil, nil,
	)
	require.NoError(t, err)
	assert.Len(t, bag.Inputs, 1)
	assert.Len(t, bag.Outputs, 1)
}

func TestNewEdgesBagRejectsMultipleIncomingEdges(t *testing.T) {
	in1 := graph.NewNode("a")
	in2 := graph.NewNode("b")
	out := graph.NewNode("y")
	e1 := graph.Bind(graph.IdentityEdge{}, []*graph.Node{in1}, out)
	e2 := graph.Bind(graph.IdentityEdge{}, []*graph.Node{in2}, out)
	_, err := graph.NewEdgesBag([]*graph.Node{in1, in2}, []*graph.Node{out}, []graph.BoundEdge{e1, e2}, nil, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple incoming edges")
}

func TestNewEdgesBagRejectsCycle(t *testing.T) {
	a := graph.NewNode("a")
	b := graph.NewNode("b")
	edges := []graph.BoundEdge{
		graph.Bind(graph.IdentityEdge{}, []*graph.Node{b}, a),
		graph.Bind(graph.IdentityEdge{}, []*graph.Node{a}, b),
	}
	_, err := graph.NewEdgesBag(nil, []*graph.Node{a, b}, edges, nil, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycles")
}

func TestNewEdgesBagRejectsInputWithDependency(t *testing.T) {
	a := graph.NewNode("a")
	b := graph.NewNode("b")
	edges := []graph.BoundEdge{graph.Bind(graph.IdentityEdge{}, []*graph.Node{a}, b)}
	// declaring b as an input even though it has an incoming edge
	_, err := graph.NewEdgesBag([]*graph.Node{a, b}, []*graph.Node{b}, edges, nil, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not actual inputs")
}

func TestNewEdgesBagRejectsMissingOptional(t *testing.T) {
	a := graph.NewNode("a")
	phantom := graph.NewNode("ghost")
	optionals := map[*graph.Node]struct{}{phantom: {}}
	_, err := graph.NewEdgesBag([]*graph.Node{a}, []*graph.Node{a}, nil, nil, nil, optionals, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marked optional")
}

func TestFreezeProducesDistinctNodes(t *testing.T) {
	in := graph.NewNode("x")
	out := graph.NewNode("y")
	edge := graph.NewFunctionEdge(identity, []byte("id"), 1)
	bag, err := graph.NewEdgesBag(
		[]*graph.Node{in}, []*graph.Node{out},
		[]graph.BoundEdge{graph.Bind(edge, []*graph.Node{in}, out)},
		nil, nil, nil, nil,
	)
	require.NoError(t, err)

	frozen := bag.Freeze()
	assert.NotSame(t, bag.Inputs[0], frozen.Inputs[0])
	assert.Equal(t, bag.Inputs[0].Name, frozen.Inputs[0].Name)
}

func TestNoContextReverseFails(t *testing.T) {
	_, _, _, err := (graph.NoContext{}).Reverse(nil)
	require.Error(t, err)
}

func TestBagContextReverseStitchesAndInherits(t *testing.T) {
	prevIn := graph.NewNode("image")
	prevOut := graph.NewNode("image")
	ctx := graph.BagContext{
		Inputs:  []*graph.Node{prevIn},
		Outputs: []*graph.Node{prevOut},
		Inherit: map[string]struct{}{"spacing": {}},
	}

	newOut := graph.NewNode("image")
	spacing := graph.NewNode("spacing")
	outputs, edges, optionals, err := ctx.Reverse([]*graph.Node{newOut, spacing})
	require.NoError(t, err)
	assert.Len(t, edges, 2) // one stitch edge for "image", one inherited edge for "spacing"
	assert.Len(t, optionals, 1)
	assert.Len(t, outputs, 2)
}
