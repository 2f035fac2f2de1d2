package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := JSON{}

	require.NoError(t, s.Save(map[string]any{"a": float64(1), "b": "two"}, dir))

	got, err := s.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1), "b": "two"}, got)
}

func TestJSONRejectsUnexpectedContents(t *testing.T) {
	dir := t.TempDir()
	_, err := JSON{}.Load(dir)
	assert.Error(t, err)
}

func TestArrayNativeRoundTripUncompressed(t *testing.T) {
	dir := t.TempDir()
	s := ArrayNative{}
	values := []float64{1, 2.5, -3, 0}

	require.NoError(t, s.Save(values, dir))

	got, err := s.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestArrayNativeRoundTripCompressed(t *testing.T) {
	dir := t.TempDir()
	s := ArrayNative{CompressLevel: 1}
	values := []float64{10, 20, 30}

	require.NoError(t, s.Save(values, dir))

	got, err := s.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestArrayNativeRejectsWrongType(t *testing.T) {
	dir := t.TempDir()
	err := ArrayNative{}.Save("not an array", dir)
	assert.Error(t, err)
}

func TestKVSplitRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := KVSplit{Inner: JSON{}}
	value := map[string]any{
		"x": float64(1),
		"y": "hello",
	}

	require.NoError(t, s.Save(value, dir))

	got, err := s.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func TestChainTriesEachStrategyUntilOneSucceeds(t *testing.T) {
	dir := t.TempDir()
	c := NewChain(ArrayNative{}, JSON{})

	require.NoError(t, c.Save(map[string]any{"k": "v"}, dir))

	got, err := c.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, got)
}

func TestChainSaveFailsWhenNoStrategyApplies(t *testing.T) {
	dir := t.TempDir()
	c := NewChain(ArrayNative{})
	err := c.Save("unsupported by any strategy", dir)
	assert.Error(t, err)
}
