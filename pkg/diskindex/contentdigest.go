package diskindex

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/crypto/blake2b"
)

const blobDigestFilename = "blob.sum"

// blobDigest hashes every file under dir (sorted by relative path, each
// entry's path and contents folded into the digest) with BLAKE2b-256. This
// is a second, independent integrity check over the serialized value itself,
// distinct from hash.bin's check of the originating HashValue — it catches a
// torn write that the atomic rename protocol should prevent but that a
// damaged filesystem might still produce.
//
// Grounded on original_source/connectome/storage/local.py's _digest_file,
// which uses the same primitive (blake2b) for content-addressing raw blobs.
func blobDigest(dir string) ([]byte, error) {
	var paths []string
	err := filepath.Walk(dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	for _, rel := range paths {
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err != nil {
			return nil, err
		}
		h.Write([]byte(rel))
		h.Write(data)
	}
	return h.Sum(nil), nil
}

func writeBlobDigest(leaf string) error {
	sum, err := blobDigest(dataPath(leaf))
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(leaf, blobDigestFilename), sum, 0o644)
}

func verifyBlobDigest(leaf string) bool {
	want, err := os.ReadFile(filepath.Join(leaf, blobDigestFilename))
	if err != nil {
		return true // no digest recorded (older leaf); nothing to contradict
	}
	got, err := blobDigest(dataPath(leaf))
	if err != nil {
		return false
	}
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}
