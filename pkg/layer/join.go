package layer

import (
	"fmt"
	"sort"

	"github.com/neuro-ml/connectome/pkg/compiler"
	"github.com/neuro-ml/connectome/pkg/graph"
	"github.com/neuro-ml/connectome/pkg/hashvalue"
	"github.com/neuro-ml/connectome/pkg/vm"
)

// JoinMode selects which side's unmatched ids survive a Join.
type JoinMode int

const (
	JoinInner JoinMode = iota
	JoinLeft
	JoinRight
	JoinOuter
)

// JoinKeyFunc derives the join key an id is matched on.
type JoinKeyFunc func(id string) (string, error)

// ToKeyFunc synthesizes the new id for a matched join key; nil means "use
// the join key itself".
type ToKeyFunc func(joinKey string) (string, error)

type joinPair struct {
	left, right         string
	hasLeft, hasRight bool
}

// Join matches left's and right's ids by their respective join keys,
// producing a new id space per mode, and exposes the union of their fields
// — a field name present on both sides (other than the join key itself) is
// a static error, since there would be no way to say which side's value a
// caller meant.
//
// Grounded on original_source/connectome/containers/join.py:JoinContainer.
func Join(left, right *graph.EdgesBag, ex *vm.Executor, onLeft, onRight JoinKeyFunc, toKey ToKeyFunc, mode JoinMode) (*graph.EdgesBag, error) {
	lf := left.Freeze()
	rf := right.Freeze()

	leftIDs, err := sourceIDs(lf, IDsField, ex)
	if err != nil {
		return nil, fmt.Errorf("join: left: %w", err)
	}
	rightIDs, err := sourceIDs(rf, IDsField, ex)
	if err != nil {
		return nil, fmt.Errorf("join: right: %w", err)
	}

	leftByKey := map[string]string{}
	for _, id := range leftIDs {
		k, err := onLeft(id)
		if err != nil {
			return nil, fmt.Errorf("join: on_left(%q): %w", id, err)
		}
		if _, dup := leftByKey[k]; dup {
			return nil, &graph.GraphError{Message: fmt.Sprintf("join: left join key %q is not unique", k)}
		}
		leftByKey[k] = id
	}
	rightByKey := map[string]string{}
	for _, id := range rightIDs {
		k, err := onRight(id)
		if err != nil {
			return nil, fmt.Errorf("join: on_right(%q): %w", id, err)
		}
		if _, dup := rightByKey[k]; dup {
			return nil, &graph.GraphError{Message: fmt.Sprintf("join: right join key %q is not unique", k)}
		}
		rightByKey[k] = id
	}

	newID := func(joinKey string) (string, error) {
		if toKey == nil {
			return joinKey, nil
		}
		return toKey(joinKey)
	}

	pairs := map[string]joinPair{}
	var order []string
	seen := map[string]bool{}
	for k, lid := range leftByKey {
		seen[k] = true
		rid, hasRight := rightByKey[k]
		if !hasRight && mode != JoinLeft && mode != JoinOuter {
			continue
		}
		id, err := newID(k)
		if err != nil {
			return nil, fmt.Errorf("join: to_key(%q): %w", k, err)
		}
		pairs[id] = joinPair{left: lid, right: rid, hasLeft: true, hasRight: hasRight}
		order = append(order, id)
	}
	for k, rid := range rightByKey {
		if seen[k] {
			continue
		}
		if mode != JoinRight && mode != JoinOuter {
			continue
		}
		id, err := newID(k)
		if err != nil {
			return nil, fmt.Errorf("join: to_key(%q): %w", k, err)
		}
		pairs[id] = joinPair{right: rid, hasRight: true}
		order = append(order, id)
	}
	sort.Strings(order)

	leftFields := outputsByName(lf)
	rightFields := outputsByName(rf)
	for name := range leftFields {
		if name == IDsField || name == KeyInput {
			continue
		}
		if _, both := rightFields[name]; both {
			return nil, &graph.GraphError{Message: fmt.Sprintf("join: field %q is defined by both sides", name)}
		}
	}

	leftComp, err := compiler.New(lf, ex)
	if err != nil {
		return nil, err
	}
	rightComp, err := compiler.New(rf, ex)
	if err != nil {
		return nil, err
	}

	key := graph.NewNode(KeyInput)
	idsOut := graph.NewNode(IDsField)
	idOut := graph.NewNode(KeyInput)
	edges := []graph.BoundEdge{
		graph.Bind(graph.NewValueEdge(order, hashvalue.Leaf{Payload: []byte("connectome.Join.ids")}), nil, idsOut),
		graph.Bind(graph.IdentityEdge{}, []*graph.Node{key}, idOut),
	}
	outputs := []*graph.Node{idsOut, idOut}

	addSide := func(fields map[string]*graph.Node, comp *compiler.Compiler, fromLeft bool) error {
		for name := range fields {
			if name == IDsField || name == KeyInput {
				continue
			}
			call, err := comp.Compile(name, nil)
			if err != nil {
				return err
			}
			je := &joinEdge{pairs: pairs, fromLeft: fromLeft, call: call}
			out := graph.NewNode(name)
			edges = append(edges, graph.Bind(je, []*graph.Node{key}, out))
			outputs = append(outputs, out)
		}
		return nil
	}
	if err := addSide(leftFields, leftComp, true); err != nil {
		return nil, err
	}
	if err := addSide(rightFields, rightComp, false); err != nil {
		return nil, err
	}

	return graph.NewEdgesBag([]*graph.Node{key}, outputs, edges, nil, nil, nil, graph.IdentityContext{})
}

// joinEdge resolves a new join id to one side's original id (if present on
// that side for this pairing) and delegates to that side's compiled field.
type joinEdge struct {
	pairs    map[string]joinPair
	fromLeft bool
	call     compiler.Callable
}

func (j *joinEdge) Arity() int { return 1 }

func (j *joinEdge) ProcessHashes(hashes []hashvalue.Value, _ uint64) (hashvalue.Value, graph.Mask, error) {
	key, err := leafKey(hashes[0])
	if err != nil {
		return nil, nil, err
	}
	id, present := j.resolve(key)
	if !present {
		return hashvalue.Custom{Marker: "connectome.JoinMissing"}, nil, nil
	}
	return hashvalue.Custom{Marker: "connectome.Join", Children: []hashvalue.Value{hashvalue.Leaf{Payload: []byte(id)}}}, nil, nil
}

func (j *joinEdge) Evaluate(arguments []any, _ graph.Mask, _ hashvalue.Value, _ uint64) (any, error) {
	key, ok := arguments[0].(string)
	if !ok {
		return nil, fmt.Errorf("join: id must be a string, got %T", arguments[0])
	}
	id, present := j.resolve(key)
	if !present {
		return nil, nil
	}
	return j.call(id)
}

func (j *joinEdge) resolve(key string) (string, bool) {
	p := j.pairs[key]
	if j.fromLeft {
		return p.left, p.hasLeft
	}
	return p.right, p.hasRight
}
