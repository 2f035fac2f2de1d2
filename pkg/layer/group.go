package layer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/neuro-ml/connectome/pkg/cache"
	"github.com/neuro-ml/connectome/pkg/compiler"
	"github.com/neuro-ml/connectome/pkg/graph"
	"github.com/neuro-ml/connectome/pkg/hashvalue"
	"github.com/neuro-ml/connectome/pkg/vm"
)

// KeyFunc derives a grouping key directly from an upstream id — the
// callable-field form of a KeyExpr (spec.md §4.7: "a callable field").
type KeyFunc func(id string) (string, error)

// FieldKey groups by a single upstream field's own value for each id,
// stringified — spec.md §4.7's "a single field name" form.
type FieldKey string

// FieldsKey groups by several upstream fields' values, hashed and
// concatenated in the given order — spec.md §4.7's "a sequence of field
// names (fields are hashed and concatenated)" form.
type FieldsKey []string

// KeyExpr is anything GroupBy can resolve to a single grouping key per id.
// The three sanctioned forms are KeyFunc, FieldKey and FieldsKey; KeyExpr's
// unexported method keeps the set closed, the same closed-algebra shape
// hashvalue.Value uses.
//
// Grounded on original_source/connectome/layers/group.py:_by_layer, which
// accepts a field name, a sequence of field names, or a callable.
type KeyExpr interface {
	keyExpr()
}

func (KeyFunc) keyExpr()   {}
func (FieldKey) keyExpr()  {}
func (FieldsKey) keyExpr() {}

// GroupBy partitions bag's ids by expr into a new id space — one new id per
// distinct group key — where every field becomes a map from member id to
// that member's original value. The grouping is computed once, eagerly,
// against every upstream id and held in an unbounded cache.Memory for the
// layer's lifetime (spec.md §4.7: "computed lazily, cached for the lifetime
// of the layer"; original_source/connectome/layers/group.py wraps the same
// mapping in CacheEdge(MemoryCache(None))).
//
// Grounded on original_source/connectome/containers/group.py:GroupContainer.
func GroupBy(bag *graph.EdgesBag, ex *vm.Executor, expr KeyExpr) (*graph.EdgesBag, error) {
	frozen := bag.Freeze()
	oldIDs, err := sourceIDs(frozen, IDsField, ex)
	if err != nil {
		return nil, fmt.Errorf("group_by: %w", err)
	}

	comp, err := compiler.New(frozen, ex)
	if err != nil {
		return nil, err
	}

	keyFn, err := resolveKeyExpr(expr, comp)
	if err != nil {
		return nil, fmt.Errorf("group_by: %w", err)
	}

	groups := map[string][]string{}
	var groupOrder []string
	for _, id := range oldIDs {
		key, err := keyFn(id)
		if err != nil {
			return nil, fmt.Errorf("group_by: key_fn(%q): %w", id, err)
		}
		if _, seen := groups[key]; !seen {
			groupOrder = append(groupOrder, key)
		}
		groups[key] = append(groups[key], id)
	}
	sort.Strings(groupOrder)
	for k := range groups {
		sort.Strings(groups[k])
	}

	mapping, err := cache.NewMemory()
	if err != nil {
		return nil, err
	}

	groupKey := graph.NewNode(KeyInput)
	idsOut := graph.NewNode(IDsField)
	edges := []graph.BoundEdge{
		graph.Bind(graph.NewValueEdge(groupOrder, hashvalue.Leaf{Payload: []byte("connectome.Group.ids")}), nil, idsOut),
	}
	outputs := []*graph.Node{idsOut}

	for _, out := range frozen.Outputs {
		if out.Name == IDsField {
			continue
		}
		call, err := comp.Compile(out.Name, nil)
		if err != nil {
			return nil, err
		}
		ge := &groupEdge{groups: groups, mapping: mapping, call: call}
		newOut := graph.NewNode(out.Name)
		edges = append(edges, graph.Bind(ge, []*graph.Node{groupKey}, newOut))
		outputs = append(outputs, newOut)
	}

	return graph.NewEdgesBag([]*graph.Node{groupKey}, outputs, edges, nil, nil, nil, graph.IdentityContext{})
}

// resolveKeyExpr turns expr into a concrete per-id key function, compiling
// the named field(s) against comp for the FieldKey/FieldsKey forms.
func resolveKeyExpr(expr KeyExpr, comp *compiler.Compiler) (KeyFunc, error) {
	switch e := expr.(type) {
	case KeyFunc:
		return e, nil
	case nil:
		return nil, fmt.Errorf("key expression must not be nil")
	case FieldKey:
		call, err := comp.Compile(string(e), nil)
		if err != nil {
			return nil, err
		}
		return func(id string) (string, error) {
			v, err := call(id)
			if err != nil {
				return "", err
			}
			return fmt.Sprint(v), nil
		}, nil
	case FieldsKey:
		if len(e) == 0 {
			return nil, fmt.Errorf("FieldsKey must name at least one field")
		}
		calls := make([]compiler.Callable, len(e))
		for i, name := range e {
			call, err := comp.Compile(name, nil)
			if err != nil {
				return nil, err
			}
			calls[i] = call
		}
		return func(id string) (string, error) {
			digests := make([]string, len(calls))
			for i, call := range calls {
				v, err := call(id)
				if err != nil {
					return "", err
				}
				digests[i] = hashvalue.HexDigest(hashvalue.Leaf{Payload: []byte(fmt.Sprint(v))})
			}
			return strings.Join(digests, ":"), nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported key expression %T", expr)
	}
}

// groupEdge, given a group key, evaluates the wrapped per-id callable for
// every member of that group and returns their values keyed by member id.
type groupEdge struct {
	groups  map[string][]string
	mapping *cache.Memory // group key -> sorted member ids, computed once above
	call    compiler.Callable
}

func (g *groupEdge) Arity() int { return 1 }

func (g *groupEdge) ProcessHashes(hashes []hashvalue.Value, _ uint64) (hashvalue.Value, graph.Mask, error) {
	key, err := leafKey(hashes[0])
	if err != nil {
		return nil, nil, err
	}
	children := []hashvalue.Value{hashes[0]}
	for _, member := range g.groups[key] {
		children = append(children, hashvalue.Leaf{Payload: []byte(member)})
	}
	return hashvalue.Custom{Marker: "connectome.Group", Children: children}, nil, nil
}

func (g *groupEdge) Evaluate(arguments []any, _ graph.Mask, _ hashvalue.Value, _ uint64) (any, error) {
	key, ok := arguments[0].(string)
	if !ok {
		return nil, fmt.Errorf("group_by: key must be a string, got %T", arguments[0])
	}
	membersAny, err := g.mapping.GetOrCompute(key, func() (any, error) {
		return g.groups[key], nil
	})
	if err != nil {
		return nil, err
	}
	members, _ := membersAny.([]string)
	out := make(map[string]any, len(members))
	for _, member := range members {
		v, err := g.call(member)
		if err != nil {
			return nil, err
		}
		out[member] = v
	}
	return out, nil
}
