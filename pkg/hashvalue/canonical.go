package hashvalue

import (
	"encoding/binary"

	"github.com/neuro-ml/connectome/internal/unsafehelpers"
)

// Tag bytes identify a Value variant inside the canonical encoding. They are
// part of the canonical format: changing them changes every digest in
// existence, so they are never renumbered, only appended to.
const (
	tagLeaf   byte = 1
	tagApply  byte = 2
	tagGraph  byte = 3
	tagCustom byte = 4
)

// appendBytes writes a uvarint length prefix followed by b. Every
// variable-length field in the canonical encoding is length-prefixed this
// way so that concatenating two encodings can never be mistaken for a third.
func appendBytes(dst []byte, b []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

func appendString(dst []byte, s string) []byte {
	return appendBytes(dst, unsafehelpers.StringToBytes(s))
}

// CanonicalBytes for Leaf: tag, then the length-prefixed payload.
func (l Leaf) CanonicalBytes(dst []byte) []byte {
	dst = append(dst, tagLeaf)
	return appendBytes(dst, l.Payload)
}

// CanonicalBytes for Apply: tag, function content hash, child count and each
// child's own canonical encoding (self-delimiting, so no extra framing is
// needed between children), then the keyword-argument names.
func (a Apply) CanonicalBytes(dst []byte) []byte {
	dst = append(dst, tagApply)
	dst = appendBytes(dst, a.Function)
	dst = binary.AppendUvarint(dst, uint64(len(a.Children)))
	for _, child := range a.Children {
		dst = child.CanonicalBytes(dst)
	}
	dst = binary.AppendUvarint(dst, uint64(len(a.KWNames)))
	for _, name := range a.KWNames {
		dst = appendString(dst, name)
	}
	return dst
}

// CanonicalBytes for Graph: tag, then the output value's own encoding.
func (g Graph) CanonicalBytes(dst []byte) []byte {
	dst = append(dst, tagGraph)
	return g.Output.CanonicalBytes(dst)
}

// CanonicalBytes for Custom: tag, marker string, child count and each
// child's own canonical encoding.
func (c Custom) CanonicalBytes(dst []byte) []byte {
	dst = append(dst, tagCustom)
	dst = appendString(dst, c.Marker)
	dst = binary.AppendUvarint(dst, uint64(len(c.Children)))
	for _, child := range c.Children {
		dst = child.CanonicalBytes(dst)
	}
	return dst
}
