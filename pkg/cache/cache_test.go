package cache_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/neuro-ml/connectome/pkg/cache"
	"github.com/neuro-ml/connectome/pkg/hashvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareReadWriteRoundTrip(t *testing.T) {
	m, err := cache.NewMemory()
	require.NoError(t, err)

	v := hashvalue.Leaf{Payload: []byte("k")}
	digest, ctx, err := m.Prepare(v)
	require.NoError(t, err)

	_, ok, err := m.Read(digest, ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Write(digest, 42, ctx))
	value, ok, err := m.Read(digest, ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, value)
}

func TestReserveWriteOrReadBecomesWriterOnMiss(t *testing.T) {
	m, err := cache.NewMemory()
	require.NoError(t, err)

	isWriter := m.ReserveWriteOrRead("k")
	assert.True(t, isWriter)

	require.NoError(t, m.Set("k", "value"))

	isWriter = m.ReserveWriteOrRead("k")
	assert.False(t, isWriter)
	value, err := m.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "value", value)
}

func TestReserveReadDeniedWithoutValue(t *testing.T) {
	m, err := cache.NewMemory()
	require.NoError(t, err)
	assert.False(t, m.ReserveRead("missing"))
}

func TestFailReleasesWriteReservation(t *testing.T) {
	m, err := cache.NewMemory()
	require.NoError(t, err)

	assert.True(t, m.ReserveWriteOrRead("k"))
	m.Fail("k")

	// a fresh writer can now take over the same key.
	assert.True(t, m.ReserveWriteOrRead("k"))
}

func TestLRUEvictsUnderCapacity(t *testing.T) {
	m, err := cache.NewMemory(cache.WithCapacity(1))
	require.NoError(t, err)

	require.NoError(t, m.Write("a", 1, nil))
	require.NoError(t, m.Write("b", 2, nil))
	assert.Equal(t, 1, m.Len())

	_, ok, _ := m.Read("a", nil)
	assert.False(t, ok)
}

func TestGetOrComputeCollapsesConcurrentCallers(t *testing.T) {
	m, err := cache.NewMemory()
	require.NoError(t, err)

	var calls atomic.Int32
	var wg sync.WaitGroup
	results := make([]any, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := m.GetOrCompute("shared", func() (any, error) {
				calls.Add(1)
				return "computed", nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "computed", r)
	}
}
