package pipeline_test

import (
	"fmt"
	"testing"

	"github.com/neuro-ml/connectome/pkg/cache"
	"github.com/neuro-ml/connectome/pkg/funchash"
	"github.com/neuro-ml/connectome/pkg/graph"
	"github.com/neuro-ml/connectome/pkg/hashvalue"
	"github.com/neuro-ml/connectome/pkg/layer"
	"github.com/neuro-ml/connectome/pkg/pipeline"
	"github.com/neuro-ml/connectome/pkg/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intSource(t *testing.T, reg *funchash.Registry, n int, offset int) *graph.EdgesBag {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", i+offset)
	}
	bag, err := pipeline.Source(reg, ids, pipeline.Field{
		Name:          "value",
		QualifiedName: "pipeline_test.value",
		Module:        "pipeline_test",
		Fn: func(id string) (any, error) {
			var n int
			fmt.Sscanf(id, "%d", &n)
			return n, nil
		},
	})
	require.NoError(t, err)
	return bag
}

func TestSourceAndField(t *testing.T) {
	reg := funchash.NewRegistry()
	bag := intSource(t, reg, 3, 0)
	ex := vm.New()

	p, err := pipeline.New(bag, ex)
	require.NoError(t, err)

	field, err := p.Field("value")
	require.NoError(t, err)

	v, err := field("2")
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	ids, err := p.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2"}, ids)
}

func TestTransformDerivesAndPassesThrough(t *testing.T) {
	reg := funchash.NewRegistry()
	bag := intSource(t, reg, 3, 0)

	transformed, err := pipeline.Transform(reg, bag, pipeline.TransformField{
		Name:          "doubled",
		Inputs:        []string{"value"},
		QualifiedName: "pipeline_test.doubled",
		Module:        "pipeline_test",
		Fn: func(arguments []any) (any, error) {
			return arguments[0].(int) * 2, nil
		},
	})
	require.NoError(t, err)

	ex := vm.New()
	p, err := pipeline.New(transformed, ex)
	require.NoError(t, err)

	doubled, err := p.Field("doubled")
	require.NoError(t, err)
	v, err := doubled("2")
	require.NoError(t, err)
	assert.Equal(t, 4, v)

	value, err := p.Field("value")
	require.NoError(t, err)
	v, err = value("2")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestCacheColumnsHitsOnSecondCall(t *testing.T) {
	reg := funchash.NewRegistry()
	calls := 0
	bag, err := pipeline.Source(reg, []string{"a", "b"}, pipeline.Field{
		Name:          "value",
		QualifiedName: "pipeline_test.counted",
		Module:        "pipeline_test",
		Fn: func(id string) (any, error) {
			calls++
			return id + "-computed", nil
		},
	})
	require.NoError(t, err)

	backend, err := cache.NewMemory()
	require.NoError(t, err)
	ex := vm.New()
	cached, err := pipeline.CacheColumns(bag, ex, backend, nil, nil, "value")
	require.NoError(t, err)

	p, err := pipeline.New(cached, ex)
	require.NoError(t, err)
	field, err := p.Field("value")
	require.NoError(t, err)

	v1, err := field("a")
	require.NoError(t, err)
	v2, err := field("a")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	// With no shard size, one shard holds both "a" and "b", so the first call
	// computes both; the second call must add no further computation.
	assert.Equal(t, 2, calls, "second call for the same id must hit the cache")
}

func TestCacheColumnsRejectsUncaredImpure(t *testing.T) {
	backend, err := cache.NewMemory()
	require.NoError(t, err)
	ex := vm.New()

	// Build a "noisy" field on an ImpureEdge by hand to simulate an impure upstream
	// field, then try to cache it without declaring it impure.
	key := graph.NewNode(pipeline.KeyInput)
	idsOut := graph.NewNode(pipeline.IDsField)
	impureOut := graph.NewNode("noisy")
	impure := graph.NewImpureEdge(func(args []any) (any, error) { return args[0], nil }, 1)
	edges := []graph.BoundEdge{
		graph.Bind(graph.NewValueEdge([]string{"0"}, hashvalue.Leaf{Payload: []byte("test.ids")}), nil, idsOut),
		graph.Bind(impure, []*graph.Node{key}, impureOut),
	}
	noisyBag, err := graph.NewEdgesBag([]*graph.Node{key}, []*graph.Node{idsOut, impureOut}, edges, nil, nil, nil, graph.IdentityContext{})
	require.NoError(t, err)

	_, err = pipeline.CacheColumns(noisyBag, ex, backend, nil, nil, "noisy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "impure")

	_, err = pipeline.CacheColumns(noisyBag, ex, backend, map[string]bool{"noisy": true}, nil, "noisy")
	assert.NoError(t, err)
}

func TestLayerFilterGroupByJoinMerge(t *testing.T) {
	reg := funchash.NewRegistry()
	ex := vm.New()

	source := intSource(t, reg, 6, 0)

	filtered, err := layer.Filter(source, ex, func(id string) (bool, error) {
		return id == "0" || id == "1" || id == "2" || id == "3", nil
	})
	require.NoError(t, err)
	fp, err := pipeline.New(filtered, ex)
	require.NoError(t, err)
	ids, err := fp.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2", "3"}, ids)

	grouped, err := layer.GroupBy(filtered, ex, layer.KeyFunc(func(id string) (string, error) {
		var n int
		fmt.Sscanf(id, "%d", &n)
		return fmt.Sprintf("%d", n%2), nil
	}))
	require.NoError(t, err)
	gp, err := pipeline.New(grouped, ex)
	require.NoError(t, err)

	grouped2, err := layer.GroupBy(filtered, ex, layer.FieldKey("value"))
	require.NoError(t, err)
	gp2, err := pipeline.New(grouped2, ex)
	require.NoError(t, err)
	ids2, err := gp2.IDs()
	require.NoError(t, err)
	assert.Len(t, ids2, 4, "grouping by the single-valued \"value\" field yields one group per distinct value")
	valueField, err := gp.Field("value")
	require.NoError(t, err)
	group0, err := valueField("0")
	require.NoError(t, err)
	m, ok := group0.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0, m["0"])
	assert.Equal(t, 2, m["2"])

	left := intSource(t, reg, 3, 0) // ids 0,1,2
	right, err := pipeline.Source(reg, []string{"10", "11", "12"}, pipeline.Field{
		Name:          "rvalue",
		QualifiedName: "pipeline_test.rvalue",
		Module:        "pipeline_test",
		Fn: func(id string) (any, error) {
			var n int
			fmt.Sscanf(id, "%d", &n)
			return n, nil
		},
	})
	require.NoError(t, err)
	joined, err := layer.Join(left, right, ex,
		func(id string) (string, error) { return id, nil },
		func(id string) (string, error) {
			var n int
			fmt.Sscanf(id, "%d", &n)
			return fmt.Sprintf("%d", n-10), nil
		},
		nil, layer.JoinInner,
	)
	require.NoError(t, err)
	jp, err := pipeline.New(joined, ex)
	require.NoError(t, err)
	jIDs, err := jp.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2"}, jIDs)

	a := intSource(t, reg, 2, 0)  // 0,1
	b := intSource(t, reg, 2, 2) // 2,3
	merged, err := layer.Merge(ex, a, b)
	require.NoError(t, err)
	mp, err := pipeline.New(merged, ex)
	require.NoError(t, err)
	mIDs, err := mp.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2", "3"}, mIDs)
	mValue, err := mp.Field("value")
	require.NoError(t, err)
	v, err := mValue("3")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestLayerSplitExpandsIDs(t *testing.T) {
	reg := funchash.NewRegistry()
	ex := vm.New()
	source := intSource(t, reg, 2, 0) // 0,1

	split, err := layer.Split(source, ex, func(id string, fields layer.FieldLookup) ([]layer.SplitPart, error) {
		v, err := fields("value")
		if err != nil {
			return nil, err
		}
		return []layer.SplitPart{
			{NewID: id + "-a", Context: v},
			{NewID: id + "-b", Context: "b"},
		}, nil
	})
	require.NoError(t, err)

	p, err := pipeline.New(split, ex)
	require.NoError(t, err)
	ids, err := p.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"0-a", "0-b", "1-a", "1-b"}, ids)

	value, err := p.Field("value")
	require.NoError(t, err)
	v, err := value("1-b")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	part, err := p.Field("$part")
	require.NoError(t, err)
	ctx, err := part("1-b")
	require.NoError(t, err)
	assert.Equal(t, "b", ctx)
}

func TestCacheColumnsShardComputesEntireShardOnFirstTouch(t *testing.T) {
	reg := funchash.NewRegistry()
	computed := map[string]int{}
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", i)
	}
	bag, err := pipeline.Source(reg, ids, pipeline.Field{
		Name:          "value",
		QualifiedName: "pipeline_test.sharded",
		Module:        "pipeline_test",
		Fn: func(id string) (any, error) {
			computed[id]++
			return id + "-v", nil
		},
	})
	require.NoError(t, err)

	backend, err := cache.NewMemory()
	require.NoError(t, err)
	ex := vm.New()
	cached, err := pipeline.CacheColumns(bag, ex, backend, nil,
		[]pipeline.CacheColumnsOption{pipeline.WithShardSize(pipeline.AbsoluteShardSize(3))}, "value")
	require.NoError(t, err)

	p, err := pipeline.New(cached, ex)
	require.NoError(t, err)
	field, err := p.Field("value")
	require.NoError(t, err)

	// Sorted ids partition into ceil(10/3)=4 shards: [0,1,2] [3,4,5] [6,7,8] [9].
	// Touching "1" must compute the whole [0,1,2] shard, not just "1".
	_, err = field("1")
	require.NoError(t, err)
	assert.Len(t, computed, 3, "first touch of a shard must compute every member")
	assert.Equal(t, 1, computed["0"])
	assert.Equal(t, 1, computed["1"])
	assert.Equal(t, 1, computed["2"])

	// Siblings must now be served from the already-written batch.
	_, err = field("0")
	require.NoError(t, err)
	_, err = field("2")
	require.NoError(t, err)
	assert.Len(t, computed, 3)

	// The trailing shard [9] has just one member.
	_, err = field("9")
	require.NoError(t, err)
	assert.Len(t, computed, 4)
	assert.Equal(t, 1, computed["9"])
}
