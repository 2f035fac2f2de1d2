// Package diskindex implements a content-addressed on-disk cache tier: a
// key's hex digest is split into nested directory "levels", each leaf holds
// a gzip-compressed copy of the original HashValue's canonical bytes (for
// collision detection), a last-access marker, and the serialized value.
//
// Grounded on original_source/connectome/storage/{local.py,disk.py,
// interface.py,config.py}.
package diskindex

import (
	"path/filepath"
)

const (
	hashFilename = "hash.bin"
	timeFilename = "time"
	dataFolder   = "data"
)

// Levels splits a hex digest into nested directory components, e.g. with
// Levels{1, 31, 32} a 64-char digest becomes "a/bbb.../ccc...". Mirrors
// local.py's digest_to_relative, generalized from a fixed two-level split to
// an arbitrary configured level list, per spec.md:110's "typical [1, 31, 32]".
type Levels []int

// DefaultLevels matches the layout named in the spec.
var DefaultLevels = Levels{1, 31, 32}

// Split divides digest into len(l) path components whose lengths are given
// by l, in order. It panics if the digest is shorter than the sum of levels;
// callers are expected to use a digest length consistent with their Levels.
func (l Levels) Split(digest string) []string {
	parts := make([]string, len(l))
	pos := 0
	for i, size := range l {
		parts[i] = digest[pos : pos+size]
		pos += size
	}
	return parts
}

// LeafDir returns the leaf directory for digest under root.
func (l Levels) LeafDir(root, digest string) string {
	parts := l.Split(digest)
	elems := make([]string, 0, len(parts)+1)
	elems = append(elems, root)
	elems = append(elems, parts...)
	return filepath.Join(elems...)
}

func hashPath(leaf string) string { return filepath.Join(leaf, hashFilename) }
func timePath(leaf string) string { return filepath.Join(leaf, timeFilename) }
func dataPath(leaf string) string { return filepath.Join(leaf, dataFolder) }
