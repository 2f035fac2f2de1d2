package hashvalue

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

// Version numbers the canonical encoding itself. Bumping it changes every
// digest; existing cache entries keyed under older versions must remain
// readable, so CurrentVersion never retroactively changes what an older
// version's key produces.
type Version uint8

// CurrentVersion is the version new writes are hashed and keyed under.
const CurrentVersion Version = 1

// digestAt hashes v under the given version by folding the version number
// into the bytes that get digested, so that two identical values hashed
// under different versions always produce different keys.
func digestAt(v Value, version Version) [32]byte {
	bufp := encoderPool.Get().(*[]byte)
	buf := (*bufp)[:0]
	buf = binary.AppendUvarint(buf, uint64(version))
	buf = v.CanonicalBytes(buf)
	sum := blake3.Sum256(buf)
	*bufp = buf
	encoderPool.Put(bufp)
	return sum
}

// HexDigestAt returns digestAt(v, version) hex-encoded, the on-disk/cache key
// for that version.
func HexDigestAt(v Value, version Version) string {
	sum := digestAt(v, version)
	return hexEncode(sum[:])
}

// LookupKeys returns the hex keys to probe for v, in read order: the current
// version first, then every earlier version in descending order. A reader
// walks this list and stops at the first hit; per spec, a hit on an older
// version is immediately rewritten under LookupKeys(v)[0].
func LookupKeys(v Value) []string {
	keys := make([]string, 0, int(CurrentVersion)+1)
	for ver := CurrentVersion; ; ver-- {
		keys = append(keys, HexDigestAt(v, ver))
		if ver == 0 {
			break
		}
	}
	return keys
}
