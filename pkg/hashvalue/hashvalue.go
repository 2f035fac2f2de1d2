// Package hashvalue implements the structural, content-addressed identifier
// used throughout connectome to name the output of a computation without
// running it.
//
// A Value is a small closed algebra — Leaf, Apply, Graph, Custom — mirroring
// connectome/engine/node_hash.py's NodeHash subclasses. Two values are equal
// iff their canonical byte encodings are equal; CanonicalBytes is the only
// place that encoding is produced, and Digest hashes those bytes with BLAKE3.
//
// © 2025 connectome authors. MIT License.
package hashvalue

import (
	"sync"

	"lukechampine.com/blake3"
)

// Value is the closed set of structural hash variants. The unexported method
// prevents packages outside hashvalue from inventing new variants — Custom is
// the only sanctioned extension point, matching node_hash.py's CustomHash.
type Value interface {
	isValue()
	// CanonicalBytes appends this value's canonical encoding to dst and
	// returns the extended slice. Canonical means: identical values always
	// produce identical bytes, and no two distinct values collide for any
	// combination of tag, length or content.
	CanonicalBytes(dst []byte) []byte
}

// Leaf hashes a single raw payload with no dependencies — connectome's
// LeafHash. Used for dataset keys and other opaque input data.
type Leaf struct {
	Payload []byte
}

func (Leaf) isValue() {}

// Apply hashes a function call: the function's own content hash plus the
// hashes of its positional children and the names of any keyword arguments —
// connectome's ApplyHash.
type Apply struct {
	Function []byte // content hash of the callable, see pkg/funchash
	Children []Value
	KWNames  []string
}

func (Apply) isValue() {}

// Graph hashes an embedded static subgraph down to the hash of its single
// output — connectome's GraphHash.
type Graph struct {
	Output Value
}

func (Graph) isValue() {}

// Custom is the opaque extension point for graph-rewriting edges (Merge,
// Group, Join, Split) whose hash semantics don't fit Apply/Graph —
// connectome's CustomHash. Marker disambiguates extension families (e.g.
// "connectome.Group", "connectome.Switch").
type Custom struct {
	Marker   string
	Children []Value
}

func (Custom) isValue() {}

// encoderPool reuses canonical-encoding scratch buffers across Digest calls,
// the same sync.Pool idiom used by hashing hot paths across the retrieval
// pack (e.g. go-ethereum's trie hasherPool) — the teacher's own experimental
// arena allocator was dropped in favor of this, see DESIGN.md.
var encoderPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 0, 256)
		return &buf
	},
}

// Digest returns the canonical content digest of v: BLAKE3-256 of its
// canonical byte encoding.
func Digest(v Value) [32]byte {
	bufp := encoderPool.Get().(*[]byte)
	buf := (*bufp)[:0]
	buf = v.CanonicalBytes(buf)
	sum := blake3.Sum256(buf)
	*bufp = buf
	encoderPool.Put(bufp)
	return sum
}

// HexDigest returns Digest(v) as a lowercase hex string. It carries no
// version; cache backends key entries by HexDigestAt(v, CurrentVersion).
func HexDigest(v Value) string {
	sum := Digest(v)
	return hexEncode(sum[:])
}

const hexAlphabet = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexAlphabet[c>>4]
		out[i*2+1] = hexAlphabet[c&0x0f]
	}
	return string(out)
}

// Equal reports whether a and b have identical canonical encodings. This is
// the equality relation the spec requires: "Two HashValues are equal iff
// their canonical bytes are equal."
func Equal(a, b Value) bool {
	ba := a.CanonicalBytes(nil)
	bb := b.CanonicalBytes(nil)
	if len(ba) != len(bb) {
		return false
	}
	for i := range ba {
		if ba[i] != bb[i] {
			return false
		}
	}
	return true
}
