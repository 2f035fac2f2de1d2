package pipeline

import (
	"fmt"
	"math"
	"sort"

	"github.com/neuro-ml/connectome/pkg/compiler"
	"github.com/neuro-ml/connectome/pkg/graph"
	"github.com/neuro-ml/connectome/pkg/hashvalue"
	"github.com/neuro-ml/connectome/pkg/vm"
)

// ShardSize controls how many ids CacheColumns computes and writes to its
// backend together, the unit spec.md's GLOSSARY calls a "shard": group of
// keys whose values are written to disk together. A nil *ShardSize (the
// default) means a single shard holding every id.
//
// Grounded on original_source/connectome/layers/columns.py's
// shard_size: Union[int, float, None] and CachedColumn._get_shard.
type ShardSize struct {
	value float64
	exact bool // true: value is an absolute member count; false: value is a fraction of the full id set
}

// AbsoluteShardSize fixes the number of ids computed and written together in
// one shard.
func AbsoluteShardSize(n int) ShardSize {
	return ShardSize{value: float64(n), exact: true}
}

// FractionalShardSize sizes a shard as a fraction of the full id set,
// rounded up to a whole number of ids.
func FractionalShardSize(fraction float64) ShardSize {
	return ShardSize{value: fraction, exact: false}
}

func (s ShardSize) resolve(total int) int {
	if s.exact {
		return int(s.value)
	}
	return int(math.Ceil(s.value * float64(total)))
}

// shardOf returns the whole shard key belongs to within sortedIDs (the
// field's full, sorted id set), plus the shard's own index and the total
// shard count — ceil(len(sortedIDs) / shard size), per spec.md §8 scenario
// 2. A nil shardSize yields one shard holding every id.
func shardOf(sortedIDs []string, key string, shardSize *ShardSize) (shard []string, idx, count int, err error) {
	if shardSize == nil {
		return sortedIDs, 0, 1, nil
	}
	size := shardSize.resolve(len(sortedIDs))
	if size < 1 {
		return nil, 0, 0, fmt.Errorf("pipeline: shard size resolves to %d, must be at least 1", size)
	}
	pos := sort.SearchStrings(sortedIDs, key)
	if pos == len(sortedIDs) || sortedIDs[pos] != key {
		return nil, 0, 0, fmt.Errorf("pipeline: id %q is not a member of this field's id set", key)
	}
	idx = pos / size
	count = (len(sortedIDs) + size - 1) / size
	start := idx * size
	end := start + size
	if end > len(sortedIDs) {
		end = len(sortedIDs)
	}
	return sortedIDs[start:end], idx, count, nil
}

// CacheColumnsOption configures optional CacheColumns behavior beyond its
// required arguments.
type CacheColumnsOption func(*cacheColumnsConfig)

type cacheColumnsConfig struct {
	shardSize  *ShardSize
	onProgress func(done, total int)
}

// WithShardSize sets the shard size every cached field partitions its id
// space by (spec.md §8 scenario 2: "first call to any key triggers
// computation of the entire shard"). Without this option, CacheColumns
// computes one shard per field holding every id.
func WithShardSize(size ShardSize) CacheColumnsOption {
	return func(c *cacheColumnsConfig) { c.shardSize = &size }
}

// WithProgress registers a callback invoked after each member of a shard is
// computed during a cache-filling pass — the portable equivalent of the
// original's tqdm progress bar (original_source/connectome/layers/
// columns.py).
func WithProgress(fn func(done, total int)) CacheColumnsOption {
	return func(c *cacheColumnsConfig) { c.onProgress = fn }
}

// CacheColumns wraps each named field of bag (or, with no names given,
// every field except "ids"/"id") in a shard-aware cache over backend: the
// first query for any id in a shard computes every id in that shard and
// writes their values to backend as a single batch, so later queries for
// any sibling member hit without recomputing. impureFields marks field
// names that are allowed to sit under a cache despite depending on an
// ImpureEdge (spec.md §8 scenario 7: caching an impure computation without
// this is a static error, since its hash would never repeat and the cache
// could never hit).
//
// Grounded on original_source/connectome/interface/factory.py's
// CacheColumnsFactory and layers/columns.py:CachedColumn.
func CacheColumns(bag *graph.EdgesBag, ex *vm.Executor, backend graph.Backend, impureFields map[string]bool, opts []CacheColumnsOption, names ...string) (*graph.EdgesBag, error) {
	cfg := cacheColumnsConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.shardSize != nil && cfg.shardSize.exact && cfg.shardSize.value == 1 {
		return nil, fmt.Errorf("pipeline: shard size of 1 is ambiguous; omit WithShardSize for a single shard")
	}

	frozen := bag.Freeze()

	targets := map[string]bool{}
	if len(names) == 0 {
		for _, out := range frozen.Outputs {
			if out.Name == IDsField || out.Name == KeyInput {
				continue
			}
			targets[out.Name] = true
		}
	} else {
		for _, n := range names {
			targets[n] = true
		}
	}
	if len(targets) == 0 {
		return graph.NewEdgesBag(frozen.Inputs, frozen.Outputs, frozen.Edges, frozen.VirtualNodes, frozen.PersistentNodes, frozen.OptionalNodes, graph.IdentityContext{})
	}

	tree, err := graph.BuildTree(frozen.Edges)
	if err != nil {
		return nil, err
	}

	ids, err := sourceIDs(frozen, ex)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	sortedIDs := append([]string(nil), ids...)
	sort.Strings(sortedIDs)

	if len(frozen.Inputs) != 1 {
		return nil, fmt.Errorf("pipeline: cache columns requires exactly one declared input, got %d", len(frozen.Inputs))
	}
	keyNode := frozen.Inputs[0]

	comp, err := compiler.New(frozen, ex)
	if err != nil {
		return nil, err
	}

	edges := append([]graph.BoundEdge(nil), frozen.Edges...)
	outputs := make([]*graph.Node, len(frozen.Outputs))
	for i, out := range frozen.Outputs {
		if !targets[out.Name] {
			outputs[i] = out
			continue
		}
		impure := impureFields[out.Name]
		if !impure && hasImpureAncestor(tree[out], map[*graph.TreeNode]bool{}) {
			return nil, fmt.Errorf("pipeline: field %q depends on an impure computation; it must be listed in impureFields to be cached", out.Name)
		}

		call, err := comp.Compile(out.Name, nil)
		if err != nil {
			return nil, err
		}

		sce := &shardCacheEdge{
			field:      out.Name,
			backend:    backend,
			impure:     impure,
			ids:        sortedIDs,
			shardSize:  cfg.shardSize,
			call:       call,
			onProgress: cfg.onProgress,
		}
		cached := graph.NewNode(out.Name)
		edges = append(edges, graph.Bind(sce, []*graph.Node{keyNode}, cached))
		outputs[i] = cached
	}

	return graph.NewEdgesBag(frozen.Inputs, outputs, edges, frozen.VirtualNodes, frozen.PersistentNodes, frozen.OptionalNodes, graph.IdentityContext{})
}

// sourceIDs compiles and runs frozen's "ids" output with placeholder
// inputs, the same construction-time eager read pkg/layer uses to learn an
// upstream bag's id space before rewriting it.
func sourceIDs(frozen *graph.EdgesBag, ex *vm.Executor) ([]string, error) {
	comp, err := compiler.New(frozen, ex)
	if err != nil {
		return nil, err
	}
	call, err := comp.Compile(IDsField, nil)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(frozen.Inputs))
	for i := range values {
		values[i] = ""
	}
	v, err := call(values...)
	if err != nil {
		return nil, fmt.Errorf("evaluating %q: %w", IDsField, err)
	}
	ids, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("%q produced %T, want []string", IDsField, v)
	}
	return ids, nil
}

func hasImpureAncestor(tn *graph.TreeNode, seen map[*graph.TreeNode]bool) bool {
	if tn == nil || tn.IsLeaf() || seen[tn] {
		return false
	}
	seen[tn] = true
	if _, ok := tn.Edge.(*graph.ImpureEdge); ok {
		return true
	}
	for _, in := range tn.Inputs {
		if hasImpureAncestor(in, seen) {
			return true
		}
	}
	return false
}

// shardCacheEdge caches an entire shard's worth of a field's values under
// one backend entry. Its hash-phase output embeds the shard's own digest
// (identical for every member, so any member's query can hit the batch a
// sibling already wrote) alongside the queried member's own id (needed at
// evaluate time to pick that member's value out of the batch).
//
// Grounded on original_source/connectome/layers/columns.py:
// CachedColumn.evaluate, which computes the shard once via direct graph
// calls, writes it to disk as a single compound value, and memoizes each
// member's unpacked value in-process.
type shardCacheEdge struct {
	field      string
	backend    graph.Backend
	impure     bool
	ids        []string // full, sorted id set for this field
	shardSize  *ShardSize
	call       compiler.Callable
	onProgress func(done, total int)
}

func (s *shardCacheEdge) Arity() int { return 1 }

func (s *shardCacheEdge) ProcessHashes(hashes []hashvalue.Value, callID uint64) (hashvalue.Value, graph.Mask, error) {
	key, err := leafKey(hashes[0])
	if err != nil {
		return nil, nil, err
	}
	shard, _, _, err := shardOf(s.ids, key, s.shardSize)
	if err != nil {
		return nil, nil, err
	}

	children := make([]hashvalue.Value, 0, len(shard)+1)
	for _, member := range shard {
		children = append(children, hashvalue.Leaf{Payload: []byte(member)})
	}
	if s.impure {
		payload := make([]byte, 8)
		for i := 0; i < 8; i++ {
			payload[i] = byte(callID >> (8 * i))
		}
		children = append(children, hashvalue.Custom{Marker: "connectome.Impure", Children: []hashvalue.Value{hashvalue.Leaf{Payload: payload}}})
	}
	shardHash := hashvalue.Custom{Marker: "connectome.Shard", Children: children}
	nodeHash := hashvalue.Custom{Marker: "connectome.ShardMember", Children: []hashvalue.Value{shardHash, hashvalue.Leaf{Payload: []byte(key)}}}

	for _, lookupKey := range hashvalue.LookupKeys(shardHash) {
		if s.backend.Contains(lookupKey) {
			return nodeHash, graph.Mask{}, nil
		}
	}
	return nodeHash, nil, nil
}

func (s *shardCacheEdge) Evaluate(arguments []any, mask graph.Mask, nodeHash hashvalue.Value, _ uint64) (any, error) {
	shardHash, key, err := s.decode(nodeHash)
	if err != nil {
		return nil, err
	}
	currentDigest, _, err := s.backend.Prepare(shardHash)
	if err != nil {
		return nil, err
	}

	if mask != nil && len(mask) == 0 {
		for i, lookupKey := range hashvalue.LookupKeys(shardHash) {
			if !s.backend.Contains(lookupKey) || !s.backend.ReserveRead(lookupKey) {
				continue
			}
			blob, err := s.backend.Get(lookupKey)
			if err != nil {
				continue
			}
			values, ok := blob.(map[string]any)
			if !ok {
				continue
			}
			if i != 0 {
				s.rewrite(currentDigest, values)
			}
			v, ok := values[key]
			if !ok {
				return nil, fmt.Errorf("pipeline: shard cache for %q is missing id %q", s.field, key)
			}
			return v, nil
		}
		// the hit vanished between the hash-phase peek and now (e.g.
		// evicted); fall through and recompute as a miss would.
	}

	if s.backend.ReserveWriteOrRead(currentDigest) {
		shard, _, _, err := shardOf(s.ids, key, s.shardSize)
		if err != nil {
			s.backend.Fail(currentDigest)
			return nil, err
		}
		values := make(map[string]any, len(shard))
		for i, member := range shard {
			v, err := s.call(member)
			if err != nil {
				s.backend.Fail(currentDigest)
				return nil, fmt.Errorf("pipeline: computing %q for shard member %q: %w", s.field, member, err)
			}
			values[member] = v
			if s.onProgress != nil {
				s.onProgress(i+1, len(shard))
			}
		}
		if err := s.backend.Set(currentDigest, values); err != nil {
			s.backend.Fail(currentDigest)
			return nil, err
		}
		return values[key], nil
	}

	blob, err := s.backend.Get(currentDigest)
	if err != nil {
		return nil, err
	}
	values, ok := blob.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("pipeline: shard cache for %q returned %T, want a shard of values", s.field, blob)
	}
	v, ok := values[key]
	if !ok {
		return nil, fmt.Errorf("pipeline: shard cache for %q is missing id %q", s.field, key)
	}
	return v, nil
}

func (s *shardCacheEdge) decode(nodeHash hashvalue.Value) (hashvalue.Value, string, error) {
	custom, ok := nodeHash.(hashvalue.Custom)
	if !ok || len(custom.Children) != 2 {
		return nil, "", fmt.Errorf("pipeline: malformed shard node hash for %q", s.field)
	}
	key, err := leafKey(custom.Children[1])
	if err != nil {
		return nil, "", err
	}
	return custom.Children[0], key, nil
}

func (s *shardCacheEdge) rewrite(digest string, values map[string]any) {
	if s.backend.ReserveWriteOrRead(digest) {
		if err := s.backend.Set(digest, values); err != nil {
			s.backend.Fail(digest)
		}
	}
}

// leafKey recovers the raw string a dataset-key leaf hash was built from —
// pkg/layer's convention, duplicated here since it is unexported there.
func leafKey(v hashvalue.Value) (string, error) {
	leaf, ok := v.(hashvalue.Leaf)
	if !ok {
		return "", fmt.Errorf("pipeline: expected a dataset-key leaf hash, got %T", v)
	}
	return string(leaf.Payload), nil
}
