// Package bench provides reproducible micro-benchmarks for connectome.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// We measure:
//  1. MemoryGetOrCompute     - single-tier in-memory cache, warm hits only
//  2. MemoryGetOrComputeMiss - mixed hit/miss workload, 10% compute
//  3. PipelineField          - a full Source+Transform+CacheColumns pipeline
//     evaluated through pkg/vm.Executor, warm hits only
//  4. PipelineFieldParallel  - the same, under concurrent load
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: unit tests live alongside their packages; this file is only for
// performance.
package bench

import (
	"fmt"
	"math/rand"
	"runtime"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/neuro-ml/connectome/pkg/cache"
	"github.com/neuro-ml/connectome/pkg/funchash"
	"github.com/neuro-ml/connectome/pkg/pipeline"
	"github.com/neuro-ml/connectome/pkg/vm"
)

const keys = 1 << 16 // 65536 keys for dataset

type value64 struct {
	_ [64]byte
}

var ds = func() []string {
	arr := make([]string, keys)
	for i := range arr {
		arr[i] = strconv.Itoa(i)
	}
	return arr
}()

func newTestCache(b *testing.B) *cache.Memory {
	b.Helper()
	c, err := cache.NewMemory()
	if err != nil {
		b.Fatalf("cache init: %v", err)
	}
	return c
}

func BenchmarkMemoryGetOrCompute(b *testing.B) {
	c := newTestCache(b)
	val := value64{}
	for _, k := range ds {
		_, _ = c.GetOrCompute(k, func() (any, error) { return val, nil })
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := ds[i&(keys-1)]
		_, _ = c.GetOrCompute(k, func() (any, error) { return val, nil })
	}
}

func BenchmarkMemoryGetOrComputeMiss(b *testing.B) {
	c := newTestCache(b)
	val := value64{}
	for i, k := range ds {
		if i%10 != 0 { // 90% pre-filled
			_, _ = c.GetOrCompute(k, func() (any, error) { return val, nil })
		}
	}
	var computeCnt atomic.Uint64
	compute := func() (any, error) {
		computeCnt.Add(1)
		return val, nil
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := ds[i&(keys-1)]
		_, _ = c.GetOrCompute(k, compute)
	}
	b.ReportMetric(float64(computeCnt.Load())/float64(b.N)*100, "miss-%")
}

func benchPipeline(b *testing.B) func(id string) (any, error) {
	b.Helper()
	reg := funchash.NewRegistry()
	source, err := pipeline.Source(reg, ds, pipeline.Field{
		Name:          "value",
		QualifiedName: "bench.value",
		Module:        "bench",
		Fn: func(id string) (any, error) {
			n, _ := strconv.Atoi(id)
			return n, nil
		},
	})
	if err != nil {
		b.Fatalf("source: %v", err)
	}
	transformed, err := pipeline.Transform(reg, source, pipeline.TransformField{
		Name:          "squared",
		Inputs:        []string{"value"},
		QualifiedName: "bench.squared",
		Module:        "bench",
		Fn: func(args []any) (any, error) {
			n := args[0].(int)
			return n * n, nil
		},
	})
	if err != nil {
		b.Fatalf("transform: %v", err)
	}
	backend, err := cache.NewMemory()
	if err != nil {
		b.Fatalf("cache: %v", err)
	}
	ex := vm.New()
	cached, err := pipeline.CacheColumns(transformed, ex, backend, nil, nil, "squared")
	if err != nil {
		b.Fatalf("cache columns: %v", err)
	}
	p, err := pipeline.New(cached, ex)
	if err != nil {
		b.Fatalf("pipeline: %v", err)
	}
	field, err := p.Field("squared")
	if err != nil {
		b.Fatalf("field: %v", err)
	}
	// Warm up the cache before timing starts.
	for _, id := range ds {
		if _, err := field(id); err != nil {
			b.Fatalf("warmup %s: %v", id, err)
		}
	}
	return field
}

func BenchmarkPipelineField(b *testing.B) {
	field := benchPipeline(b)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := ds[i&(keys-1)]
		if _, err := field(k); err != nil {
			b.Fatalf("field %s: %v", k, err)
		}
	}
}

func BenchmarkPipelineFieldParallel(b *testing.B) {
	field := benchPipeline(b)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		idx := rand.Intn(keys)
		for pb.Next() {
			idx = (idx + 1) & (keys - 1)
			if _, err := field(ds[idx]); err != nil {
				b.Fatal(fmt.Errorf("field %s: %w", ds[idx], err))
			}
		}
	})
}

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())
}
