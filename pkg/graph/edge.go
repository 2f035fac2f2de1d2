package graph

import "github.com/neuro-ml/connectome/pkg/hashvalue"

// Mask selects which of an edge's arguments are still needed after hash
// computation has decided some inputs are redundant (e.g. a cache hit makes
// the underlying computation's inputs unnecessary). A nil Mask means "every
// argument, in order" — connectome's FULL_MASK sentinel. A non-nil, empty
// Mask means "no arguments": the VM skips evaluating every parent.
type Mask []int

// Resolve expands m into an explicit index list for an edge of the given
// arity: nil becomes [0, 1, ..., arity-1].
func (m Mask) Resolve(arity int) []int {
	if m != nil {
		return m
	}
	full := make([]int, arity)
	for i := range full {
		full[i] = i
	}
	return full
}

// Edge is a single computation step: a pure function from some number of
// input node-hashes to an output node-hash (ProcessHashes), and, separately,
// from input values to an output value (Evaluate). The two phases never run
// interleaved for a single node — the VM always computes every hash in a
// subgraph before computing any value.
//
// callID identifies the current top-level Executor.Run invocation. Ordinary
// edges ignore it; ImpureEdge uses it to mint a hash that is stable within
// one call but fresh on the next, matching spec.md §9's open-question
// decision (see DESIGN.md).
type Edge interface {
	// Arity is the number of inputs this edge expects.
	Arity() int
	// ProcessHashes derives this edge's output hash from its inputs' hashes,
	// and returns a Mask naming which inputs are still required for
	// Evaluate (e.g. CacheEdge returns an empty mask on a cache hit).
	ProcessHashes(hashes []hashvalue.Value, callID uint64) (hashvalue.Value, Mask, error)
	// Evaluate computes the output value given only the arguments selected
	// by the Mask returned from ProcessHashes, in the same order.
	Evaluate(arguments []any, mask Mask, nodeHash hashvalue.Value, callID uint64) (any, error)
}

// ValueHasher is implemented by edges whose output hash cannot be derived
// from input hashes alone and must instead be derived from the produced
// value (HashBarrierEdge). The Executor special-cases any edge implementing
// this interface: it evaluates the edge's single input eagerly during the
// hash phase, then hashes the resulting value.
type ValueHasher interface {
	HashValue(value any) (hashvalue.Value, error)
}

// BoundEdge attaches an Edge to concrete input/output Nodes, the unit of
// storage inside an EdgesBag.
type BoundEdge struct {
	Edge   Edge
	Inputs []*Node
	Output *Node
}

// Bind is sugar for constructing a BoundEdge.
func Bind(edge Edge, inputs []*Node, output *Node) BoundEdge {
	return BoundEdge{Edge: edge, Inputs: inputs, Output: output}
}

// IdentityEdge passes its single input through unchanged — used to splice
// virtual/persistent nodes and to stitch layers together in Context.Reverse.
type IdentityEdge struct{}

func (IdentityEdge) Arity() int { return 1 }

func (IdentityEdge) ProcessHashes(hashes []hashvalue.Value, _ uint64) (hashvalue.Value, Mask, error) {
	return hashes[0], nil, nil
}

func (IdentityEdge) Evaluate(arguments []any, _ Mask, _ hashvalue.Value, _ uint64) (any, error) {
	return arguments[0], nil
}

// ProductEdge bundles its inputs into a single tuple-like value, used
// internally by EdgesBag to anchor the full output set under one synthetic
// node so the input/leaf check can walk a single tree, and by the compiler
// to expose a tuple-valued compiled entry point.
type ProductEdge struct {
	arity int
}

func NewProductEdge(arity int) ProductEdge { return ProductEdge{arity: arity} }

func (p ProductEdge) Arity() int { return p.arity }

func (p ProductEdge) ProcessHashes(hashes []hashvalue.Value, _ uint64) (hashvalue.Value, Mask, error) {
	children := make([]hashvalue.Value, len(hashes))
	copy(children, hashes)
	return hashvalue.Custom{Marker: "connectome.Product", Children: children}, nil, nil
}

func (p ProductEdge) Evaluate(arguments []any, _ Mask, _ hashvalue.Value, _ uint64) (any, error) {
	out := make([]any, len(arguments))
	copy(out, arguments)
	return out, nil
}

// Func is a plain Go callable an edge can wrap: arguments in declaration
// order, a single return value or an error.
type Func func(arguments []any) (any, error)

// FunctionEdge evaluates an arbitrary Go function and folds the function's
// own content hash (see pkg/funchash) in with its inputs' hashes so two
// structurally identical calls to different functions never collide.
type FunctionEdge struct {
	Function     Func
	FunctionHash []byte // content hash of Function, from pkg/funchash
	arity        int
}

// NewFunctionEdge binds fn (with precomputed content hash functionHash) as
// an arity-input edge.
func NewFunctionEdge(fn Func, functionHash []byte, arity int) *FunctionEdge {
	return &FunctionEdge{Function: fn, FunctionHash: functionHash, arity: arity}
}

func (f *FunctionEdge) Arity() int { return f.arity }

func (f *FunctionEdge) ProcessHashes(hashes []hashvalue.Value, _ uint64) (hashvalue.Value, Mask, error) {
	children := make([]hashvalue.Value, 0, len(hashes)+1)
	children = append(children, hashvalue.Leaf{Payload: f.FunctionHash})
	children = append(children, hashes...)
	return hashvalue.Apply{Function: f.FunctionHash, Children: children}, nil, nil
}

func (f *FunctionEdge) Evaluate(arguments []any, _ Mask, _ hashvalue.Value, _ uint64) (any, error) {
	return f.Function(arguments)
}

// ValueEdge is a zero-arity edge providing a constant parameter, used by
// pkg/pipeline to wire literal configuration values into a graph.
type ValueEdge struct {
	Value any
	Hash  hashvalue.Value
}

func NewValueEdge(value any, hash hashvalue.Value) ValueEdge {
	return ValueEdge{Value: value, Hash: hash}
}

func (ValueEdge) Arity() int { return 0 }

func (v ValueEdge) ProcessHashes(_ []hashvalue.Value, _ uint64) (hashvalue.Value, Mask, error) {
	return v.Hash, nil, nil
}

func (v ValueEdge) Evaluate(_ []any, _ Mask, _ hashvalue.Value, _ uint64) (any, error) {
	return v.Value, nil
}

// Backend is the subset of pkg/cache.Backend that CacheEdge depends on. It
// is redeclared here (rather than imported) so pkg/graph never depends on
// pkg/cache's reservation-queue implementation, only the contract — any
// CacheBackend tier (memory, disk, a remote mirror) satisfies it unchanged.
type Backend interface {
	Prepare(v hashvalue.Value) (digest string, backendCtx any, err error)
	Contains(digest string) bool
	ReserveRead(key string) bool
	ReserveWriteOrRead(key string) bool
	Fail(key string)
	Set(key string, value any) error
	Get(key string) (any, error)
}

// CacheEdge mediates a Backend: on a hash-phase hit it returns an empty Mask
// so the VM never evaluates the parent; on a miss it requests the parent
// value, writes it back under the node's hash, and returns it.
//
// Grounded on spec.md §4.2/§4.4 ("on read-hit suppresses parent
// evaluation... on miss, asks for the one parent value, writes it back").
type CacheEdge struct {
	Backend Backend
	// Impure records that the wrapped parent's hash is minted fresh every
	// call (ImpureEdge). CacheEdge does not check its parent; the rejection
	// of caching an undeclared impure field (spec.md §8 scenario 7) is made
	// by pkg/pipeline.CacheColumns for its own shard cache edges.
	Impure bool
}

func NewCacheEdge(backend Backend, impure bool) *CacheEdge {
	return &CacheEdge{Backend: backend, Impure: impure}
}

func (c *CacheEdge) Arity() int { return 1 }

// ProcessHashes peeks every versioned key (spec.md §4.1: current version
// first, then every earlier version) and returns an empty Mask if any of
// them already holds a value, so the VM never evaluates the parent on a
// hit at any version.
func (c *CacheEdge) ProcessHashes(hashes []hashvalue.Value, _ uint64) (hashvalue.Value, Mask, error) {
	h := hashes[0]
	for _, key := range hashvalue.LookupKeys(h) {
		if c.Backend.Contains(key) {
			return h, Mask{}, nil
		}
	}
	return h, nil, nil
}

// Evaluate re-walks the same versioned keys. A hit on the current version
// is returned directly; a hit on an older version is read, then immediately
// rewritten under the current key (spec.md §4.1: "If an older version hits,
// the value is immediately rewritten under the current key"). A miss at
// every version evaluates the parent and writes it under the current key.
func (c *CacheEdge) Evaluate(arguments []any, mask Mask, nodeHash hashvalue.Value, _ uint64) (any, error) {
	currentDigest, _, err := c.Backend.Prepare(nodeHash)
	if err != nil {
		return nil, err
	}

	if mask != nil && len(mask) == 0 {
		for i, key := range hashvalue.LookupKeys(nodeHash) {
			if !c.Backend.Contains(key) || !c.Backend.ReserveRead(key) {
				continue
			}
			value, err := c.Backend.Get(key)
			if err != nil {
				continue
			}
			if i != 0 {
				c.rewrite(currentDigest, value)
			}
			return value, nil
		}
		// the hit vanished between the hash-phase peek and now (e.g.
		// evicted); fall through and recompute as a miss would.
	}

	if c.Backend.ReserveWriteOrRead(currentDigest) {
		value := arguments[0]
		if err := c.Backend.Set(currentDigest, value); err != nil {
			c.Backend.Fail(currentDigest)
			return nil, err
		}
		return value, nil
	}

	return c.Backend.Get(currentDigest)
}

func (c *CacheEdge) rewrite(currentDigest string, value any) {
	if c.Backend.ReserveWriteOrRead(currentDigest) {
		if err := c.Backend.Set(currentDigest, value); err != nil {
			c.Backend.Fail(currentDigest)
		}
	}
}

// ImpureEdge wraps a function whose result must never be cached across
// invocations: its hash is derived from the current call's id rather than
// its inputs, so any downstream CacheEdge sees a fresh key every call.
// Within a single call the hash is memoized like any other node's, which is
// what lets a CacheColumns-style shard call the underlying function exactly
// once per warm-up (spec.md §9 open question, decided in DESIGN.md).
type ImpureEdge struct {
	Inner Func
	arity int
}

func NewImpureEdge(inner Func, arity int) *ImpureEdge {
	return &ImpureEdge{Inner: inner, arity: arity}
}

func (e *ImpureEdge) Arity() int { return e.arity }

func (e *ImpureEdge) ProcessHashes(_ []hashvalue.Value, callID uint64) (hashvalue.Value, Mask, error) {
	payload := make([]byte, 8)
	for i := 0; i < 8; i++ {
		payload[i] = byte(callID >> (8 * i))
	}
	return hashvalue.Custom{Marker: "connectome.Impure", Children: []hashvalue.Value{hashvalue.Leaf{Payload: payload}}}, nil, nil
}

func (e *ImpureEdge) Evaluate(arguments []any, _ Mask, _ hashvalue.Value, _ uint64) (any, error) {
	return e.Inner(arguments)
}

// HashBarrierEdge replaces the hash it would otherwise propagate with a hash
// of its own produced value. The Executor treats any edge satisfying
// ValueHasher specially (see executor.go): it evaluates the single parent
// eagerly during the hash phase and calls HashValue on the result, since no
// structural hash of the upstream computation is usable downstream (e.g. a
// value that crossed a process/network boundary and lost its provenance).
type HashBarrierEdge struct {
	Hasher func(value any) (hashvalue.Value, error)
}

func NewHashBarrierEdge(hasher func(value any) (hashvalue.Value, error)) *HashBarrierEdge {
	return &HashBarrierEdge{Hasher: hasher}
}

func (HashBarrierEdge) Arity() int { return 1 }

// ProcessHashes is never called by Executor for a HashBarrierEdge (it
// implements ValueHasher, which the Executor checks first), but it still
// needs a sane definition to satisfy Edge for direct/test use.
func (b *HashBarrierEdge) ProcessHashes(hashes []hashvalue.Value, _ uint64) (hashvalue.Value, Mask, error) {
	return hashes[0], nil, nil
}

func (b *HashBarrierEdge) Evaluate(arguments []any, _ Mask, _ hashvalue.Value, _ uint64) (any, error) {
	return arguments[0], nil
}

func (b *HashBarrierEdge) HashValue(value any) (hashvalue.Value, error) {
	return b.Hasher(value)
}
