package hashvalue_test

import (
	"testing"

	"github.com/neuro-ml/connectome/pkg/hashvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualIdenticalStructure(t *testing.T) {
	a := hashvalue.Apply{
		Function: []byte("func:pkg.Foo"),
		Children: []hashvalue.Value{
			hashvalue.Leaf{Payload: []byte("x")},
			hashvalue.Leaf{Payload: []byte("y")},
		},
		KWNames: []string{"a", "b"},
	}
	b := hashvalue.Apply{
		Function: []byte("func:pkg.Foo"),
		Children: []hashvalue.Value{
			hashvalue.Leaf{Payload: []byte("x")},
			hashvalue.Leaf{Payload: []byte("y")},
		},
		KWNames: []string{"a", "b"},
	}
	assert.True(t, hashvalue.Equal(a, b))
	assert.Equal(t, hashvalue.HexDigest(a), hashvalue.HexDigest(b))
}

func TestEqualDiffersOnChildOrder(t *testing.T) {
	a := hashvalue.Apply{
		Function: []byte("f"),
		Children: []hashvalue.Value{hashvalue.Leaf{Payload: []byte("x")}, hashvalue.Leaf{Payload: []byte("y")}},
	}
	b := hashvalue.Apply{
		Function: []byte("f"),
		Children: []hashvalue.Value{hashvalue.Leaf{Payload: []byte("y")}, hashvalue.Leaf{Payload: []byte("x")}},
	}
	assert.False(t, hashvalue.Equal(a, b))
}

func TestNoCollisionAcrossVariants(t *testing.T) {
	leaf := hashvalue.Leaf{Payload: []byte("same")}
	custom := hashvalue.Custom{Marker: "same", Children: nil}
	assert.False(t, hashvalue.Equal(leaf, custom))
	assert.NotEqual(t, hashvalue.HexDigest(leaf), hashvalue.HexDigest(custom))
}

func TestNoCollisionAcrossNestingDepth(t *testing.T) {
	// A Leaf must not collide with a Graph wrapping that same Leaf: the tag
	// byte distinguishes every nesting depth.
	inner := hashvalue.Leaf{Payload: []byte("v")}
	graph := hashvalue.Graph{Output: inner}
	assert.False(t, hashvalue.Equal(inner, graph))
}

func TestLookupKeysOrderedCurrentFirst(t *testing.T) {
	v := hashvalue.Leaf{Payload: []byte("k")}
	keys := hashvalue.LookupKeys(v)
	require.Len(t, keys, int(hashvalue.CurrentVersion)+1)
	assert.Equal(t, hashvalue.HexDigestAt(v, hashvalue.CurrentVersion), keys[0])
	assert.Equal(t, hashvalue.HexDigestAt(v, 0), keys[len(keys)-1])
}

func TestHexDigestIsStable(t *testing.T) {
	v := hashvalue.Apply{Function: []byte("f"), Children: []hashvalue.Value{hashvalue.Leaf{Payload: []byte("a")}}}
	first := hashvalue.HexDigest(v)
	second := hashvalue.HexDigest(v)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}
