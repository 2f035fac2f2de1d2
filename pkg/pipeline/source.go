// Package pipeline is connectome's declarative front end: Source builds a
// leaf EdgesBag from literal ids and per-id field functions, Transform
// derives new fields from an upstream bag's fields, CacheColumns wraps
// selected fields in a CacheBackend, and Pipeline exposes the result as
// simple id -> value callables compiled over pkg/vm.
//
// Grounded on original_source/connectome/containers/pipeline.py and the
// Source/Transform constructors in original_source/connectome/interface/.
package pipeline

import (
	"fmt"

	"github.com/neuro-ml/connectome/pkg/funchash"
	"github.com/neuro-ml/connectome/pkg/graph"
	"github.com/neuro-ml/connectome/pkg/hashvalue"
	"github.com/neuro-ml/connectome/pkg/layer"
)

// IDsField and KeyInput re-export pkg/layer's conventional names so callers
// building a Source don't need to import pkg/layer themselves.
const (
	IDsField = layer.IDsField
	KeyInput = layer.KeyInput
)

// Field is a single named, per-id computation a Source publishes.
type Field struct {
	Name string
	Fn   func(id string) (any, error)
	// QualifiedName and Module identify Fn for pkg/funchash's registry (e.g.
	// "mydataset.loadImage", "mydataset"). ContentID is consulted only if
	// the registry resolves this name to ModeDeep.
	QualifiedName string
	Module        string
	ContentID     funchash.ContentIDer
}

// Source builds a leaf EdgesBag: ids is the dataset's full, fixed key set,
// and each Field becomes an output computed by calling Fn(id). An "id" field
// identical to the key itself is always published too, so downstream
// Transforms can depend on the raw key the same way they depend on any other
// field.
//
// Grounded on original_source/connectome/containers/pipeline.py's leaf
// container construction and engine/edges.py:FunctionEdge.
func Source(reg *funchash.Registry, ids []string, fields ...Field) (*graph.EdgesBag, error) {
	key := graph.NewNode(KeyInput)
	idsOut := graph.NewNode(IDsField)
	idOut := graph.NewNode(KeyInput)

	idsCopy := append([]string(nil), ids...)
	edges := []graph.BoundEdge{
		graph.Bind(graph.NewValueEdge(idsCopy, hashvalue.Leaf{Payload: []byte("connectome.Source.ids")}), nil, idsOut),
		graph.Bind(graph.IdentityEdge{}, []*graph.Node{key}, idOut),
	}
	outputs := []*graph.Node{idsOut, idOut}

	seen := map[string]bool{IDsField: true, KeyInput: true}
	for _, f := range fields {
		if seen[f.Name] {
			return nil, fmt.Errorf("pipeline: duplicate field %q", f.Name)
		}
		seen[f.Name] = true

		fnHash, err := funchash.Hash(reg, f.QualifiedName, f.Module, f.ContentID)
		if err != nil {
			return nil, fmt.Errorf("pipeline: field %q: %w", f.Name, err)
		}
		fn := f.Fn
		wrapped := graph.Func(func(arguments []any) (any, error) {
			id, ok := arguments[0].(string)
			if !ok {
				return nil, fmt.Errorf("pipeline: field %q: id argument must be a string, got %T", f.Name, arguments[0])
			}
			return fn(id)
		})
		fe := graph.NewFunctionEdge(wrapped, fnHash, 1)
		out := graph.NewNode(f.Name)
		edges = append(edges, graph.Bind(fe, []*graph.Node{key}, out))
		outputs = append(outputs, out)
	}

	return graph.NewEdgesBag([]*graph.Node{key}, outputs, edges, nil, nil, nil, graph.IdentityContext{})
}
