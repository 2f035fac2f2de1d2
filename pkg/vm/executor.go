// Package vm implements connectome's cooperative scheduler: the component
// that walks a compiled TreeNode, computing every reachable node's hash
// before producing any value, memoizing both across the call, and evicting
// finished entries once their static demand is satisfied.
//
// The original engine expresses each edge as two generator coroutines
// (compute_hash/evaluate) driven by an explicit Frame/command-queue VM so
// that suspension on a pending sibling request can be interleaved
// cooperatively without threads. Go already has a scheduler built for
// exactly this — goroutines — so this port trades the literal state-machine
// for recursive, promise-memoized calls fanned out with errgroup: the same
// "shared-result memoization across a single call" and "parallel Await"
// properties (spec.md §4.5), expressed the way Go programs actually reach
// for concurrency rather than fighting the runtime scheduler to emulate one.
//
// Grounded on original_source/connectome/engine/vm.py (Frame, _CacheWaiter,
// execute).
package vm

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/neuro-ml/connectome/pkg/graph"
	"github.com/neuro-ml/connectome/pkg/hashvalue"
	"github.com/neuro-ml/connectome/pkg/metrics"
)

// Leaf supplies a graph input's raw value together with its structural
// hash, the two things a TreeNode leaf can't derive on its own.
type Leaf struct {
	Value any
	Hash  hashvalue.Value
}

// Executor runs compiled TreeNodes. It carries no per-call state itself —
// Run constructs a fresh call for every invocation — so one Executor is
// safely shared and reused across concurrently compiled entry points.
type Executor struct {
	metrics     metrics.Sink
	concurrency int // max goroutines fanned out per node's inputs; <=1 means sequential
}

// Option configures an Executor.
type Option func(*Executor)

// WithMetrics wires a metrics.Sink for hash/value computation counters.
func WithMetrics(sink metrics.Sink) Option {
	return func(e *Executor) {
		if sink != nil {
			e.metrics = sink
		}
	}
}

// WithConcurrency bounds how many sibling inputs of a single node may be
// hashed/evaluated concurrently. n<=1 (the default) runs strictly
// sequentially, matching the spec's single-threaded cooperative model;
// higher values map Await onto a real worker pool, per spec.md §4.5's note
// that the cooperative model "allows trivial integration of an external
// async executor."
func WithConcurrency(n int) Option {
	return func(e *Executor) { e.concurrency = n }
}

// New constructs an Executor.
func New(opts ...Option) *Executor {
	ex := &Executor{metrics: metrics.Noop{}, concurrency: 1}
	for _, opt := range opts {
		opt(ex)
	}
	return ex
}

var callCounter atomic.Uint64

// Run evaluates root, given the raw values and structural hashes of every
// leaf TreeNode reachable from it. It returns the produced value or the
// first error raised by any edge along the way.
func (ex *Executor) Run(root *graph.TreeNode, leaves map[*graph.TreeNode]Leaf) (any, error) {
	c := &call{
		ex:        ex,
		id:        callCounter.Add(1),
		leaves:    leaves,
		hashP:     make(map[*graph.TreeNode]*hashPromise),
		valueP:    make(map[*graph.TreeNode]*valuePromise),
		masks:     make(map[*graph.TreeNode]graph.Mask),
		valueLeft: make(map[*graph.TreeNode]int),
	}

	if _, err := c.hashOf(root); err != nil {
		return nil, err
	}

	c.valueLeft = valueUseCounts(root, c.masks)
	return c.valueOf(root)
}

// hashPromise memoizes the hash (and, for ValueHasher edges, the value too)
// computed for one TreeNode within one call.
type hashPromise struct {
	once  sync.Once
	value hashvalue.Value
	err   error
}

// valuePromise memoizes a TreeNode's produced value within one call.
type valuePromise struct {
	once  sync.Once
	value any
	err   error
}

// call holds every piece of state scoped to a single Executor.Run
// invocation: the per-node memo tables, the static per-call id (for
// ImpureEdge), and the caller-supplied leaf bindings.
type call struct {
	ex     *Executor
	id     uint64
	leaves map[*graph.TreeNode]Leaf

	mu     sync.Mutex // guards creation of entries in the maps below
	hashP  map[*graph.TreeNode]*hashPromise
	valueP map[*graph.TreeNode]*valuePromise
	masks  map[*graph.TreeNode]graph.Mask

	valueLeft map[*graph.TreeNode]int // remaining demand before eviction; computed after the hash phase
}

func (c *call) hashOf(tn *graph.TreeNode) (hashvalue.Value, error) {
	c.mu.Lock()
	p, ok := c.hashP[tn]
	if !ok {
		p = &hashPromise{}
		c.hashP[tn] = p
	}
	c.mu.Unlock()

	p.once.Do(func() {
		p.value, p.err = c.computeHash(tn)
	})
	return p.value, p.err
}

func (c *call) computeHash(tn *graph.TreeNode) (hashvalue.Value, error) {
	if tn.IsLeaf() {
		leaf, ok := c.leaves[tn]
		if !ok {
			return nil, &graph.DependencyError{Node: tn.Name}
		}
		return leaf.Hash, nil
	}

	// HashBarrierEdge (and any edge implementing ValueHasher) needs the
	// produced VALUE to derive its hash, inverting the usual hash-before-
	// value order for this one node. We evaluate it eagerly here and stash
	// both results so the later value phase just replays the memo.
	// The inputs are evaluated here directly rather than through
	// evaluateInputs, which would ask for tn's own hash while it is still
	// being computed.
	if hasher, ok := tn.Edge.(graph.ValueHasher); ok {
		arguments := make([]any, len(tn.Inputs))
		for i, in := range tn.Inputs {
			v, err := c.valueOf(in)
			if err != nil {
				return nil, err
			}
			arguments[i] = v
		}
		value, err := tn.Edge.Evaluate(arguments, nil, nil, c.id)
		if err != nil {
			return nil, err
		}
		c.ex.metrics.IncValuesComputed()
		h, err := hasher.HashValue(value)
		if err != nil {
			return nil, &graph.HashError{Node: tn.Name, Err: err}
		}
		c.stashValue(tn, value)
		c.setMask(tn, graph.Mask{}) // value already produced; the value phase must not re-evaluate inputs
		return h, nil
	}

	parentHashes, err := c.hashesOf(tn.Inputs)
	if err != nil {
		return nil, err
	}
	h, mask, err := tn.Edge.ProcessHashes(parentHashes, c.id)
	if err != nil {
		return nil, &graph.HashError{Node: tn.Name, Err: err}
	}
	c.setMask(tn, mask)
	c.ex.metrics.IncHashesComputed()
	return h, nil
}

// hashesOf computes the hashes of every input to tn, fanning out across
// goroutines when the Executor is configured for concurrency — the Go
// analogue of the spec's Await(ParentHash(i)...) concurrent request.
func (c *call) hashesOf(inputs []*graph.TreeNode) ([]hashvalue.Value, error) {
	out := make([]hashvalue.Value, len(inputs))
	if c.ex.concurrency <= 1 || len(inputs) <= 1 {
		for i, in := range inputs {
			h, err := c.hashOf(in)
			if err != nil {
				return nil, err
			}
			out[i] = h
		}
		return out, nil
	}

	g := new(errgroup.Group)
	g.SetLimit(c.ex.concurrency)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			h, err := c.hashOf(in)
			if err != nil {
				return err
			}
			out[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *call) setMask(tn *graph.TreeNode, mask graph.Mask) {
	c.mu.Lock()
	c.masks[tn] = mask
	c.mu.Unlock()
}

func (c *call) maskOf(tn *graph.TreeNode) graph.Mask {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.masks[tn]
}

// stashValue permanently records tn's value (used for ValueHasher edges,
// whose value is produced during the hash phase and must not be recomputed
// during the value phase).
func (c *call) stashValue(tn *graph.TreeNode, value any) {
	p := &valuePromise{value: value}
	p.once.Do(func() {})
	c.mu.Lock()
	c.valueP[tn] = p
	c.mu.Unlock()
}

func (c *call) valueOf(tn *graph.TreeNode) (any, error) {
	c.mu.Lock()
	p, ok := c.valueP[tn]
	if !ok {
		p = &valuePromise{}
		c.valueP[tn] = p
	}
	c.mu.Unlock()

	p.once.Do(func() {
		p.value, p.err = c.computeValue(tn)
	})

	c.mu.Lock()
	if left, tracked := c.valueLeft[tn]; tracked {
		left--
		c.valueLeft[tn] = left
		if left <= 0 {
			delete(c.valueP, tn)
			delete(c.valueLeft, tn)
		}
	}
	c.mu.Unlock()

	return p.value, p.err
}

func (c *call) computeValue(tn *graph.TreeNode) (any, error) {
	if tn.IsLeaf() {
		leaf, ok := c.leaves[tn]
		if !ok {
			return nil, &graph.DependencyError{Node: tn.Name}
		}
		return leaf.Value, nil
	}
	return c.evaluateInputs(tn, nil)
}

// evaluateInputs evaluates tn's edge given its already-known mask (nil means
// "look it up" from the hash phase; a node with no recorded mask gets every
// input). It needs tn's hash, so it is only called once that hash can be
// computed on its own.
func (c *call) evaluateInputs(tn *graph.TreeNode, forcedMask graph.Mask) (any, error) {
	mask := forcedMask
	if mask == nil {
		mask = c.maskOf(tn)
	}
	indices := mask.Resolve(tn.Edge.Arity())

	arguments := make([]any, len(indices))
	if c.ex.concurrency <= 1 || len(indices) <= 1 {
		for i, idx := range indices {
			v, err := c.valueOf(tn.Inputs[idx])
			if err != nil {
				return nil, err
			}
			arguments[i] = v
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(c.ex.concurrency)
		for i, idx := range indices {
			i, idx := i, idx
			g.Go(func() error {
				v, err := c.valueOf(tn.Inputs[idx])
				if err != nil {
					return err
				}
				arguments[i] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	nodeHash, err := c.hashOf(tn)
	if err != nil {
		return nil, err
	}
	value, err := tn.Edge.Evaluate(arguments, mask, nodeHash, c.id)
	if err != nil {
		return nil, err
	}
	c.ex.metrics.IncValuesComputed()
	return value, nil
}

// valueUseCounts computes, for every TreeNode reachable from root, how many
// times its value will actually be demanded during the value phase: once
// per root, plus once for every parent that (per its hash-phase mask) still
// needs it. This is the "static use count in the pruned subgraph" spec.md
// §4.5 describes — pruned because a cache hit's empty Mask removes its
// parent from the count entirely.
func valueUseCounts(root *graph.TreeNode, masks map[*graph.TreeNode]graph.Mask) map[*graph.TreeNode]int {
	counts := map[*graph.TreeNode]int{root: 1}
	visited := map[*graph.TreeNode]bool{}

	var walk func(tn *graph.TreeNode)
	walk = func(tn *graph.TreeNode) {
		if visited[tn] || tn.IsLeaf() {
			return
		}
		visited[tn] = true
		mask := masks[tn].Resolve(tn.Edge.Arity())
		for _, idx := range mask {
			child := tn.Inputs[idx]
			counts[child]++
			walk(child)
		}
	}
	walk(root)
	return counts
}
