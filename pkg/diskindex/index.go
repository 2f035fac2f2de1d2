package diskindex

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/neuro-ml/connectome/pkg/cache"
	"github.com/neuro-ml/connectome/pkg/hashvalue"
)

var _ cache.Backend = (*Index)(nil)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]float64{})
	gob.Register([]string{})
	gob.Register("")
}

var hashBinModTime = time.Unix(0, 0).UTC()

// Index is the disk-backed cache tier. A key's hex digest is split into
// nested directories (Levels), and each leaf holds hash.bin (the gzip'd
// canonical encoding of the original HashValue, for collision detection),
// time (a last-access marker) and data/ (the serializer's output).
//
// Grounded on original_source/connectome/storage/{local.py,disk.py}: digest
// splitting (local.py:digest_to_relative), the temp-folder-then-atomic-move
// write protocol and hash.bin consistency check (disk.py:SerializedDisk).
type Index struct {
	root string
	cfg  *config

	mu      sync.Mutex
	pending map[string][]byte // digest -> canonical bytes, stashed by Prepare for the later Set
}

// New opens (and creates, if absent) a disk index rooted at dir. If dir
// already holds a config.yml, its Levels take precedence over both the
// default and any WithLevels option, so a root created by one process stays
// self-describing for any other process that later opens it. Otherwise a
// fresh config.yml is written describing the resolved configuration.
func New(dir string, opts ...Option) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	cfg := applyOptions(opts)
	if fc, err := LoadFileConfig(dir); err == nil && len(fc.Levels) > 0 {
		cfg.levels = fc.Levels
	} else if err := WriteFileConfig(dir, &FileConfig{Levels: cfg.levels}); err != nil {
		return nil, err
	}

	return &Index{root: dir, cfg: cfg, pending: make(map[string][]byte)}, nil
}

func (ix *Index) leafDir(key string) string {
	return ix.cfg.levels.LeafDir(ix.root, key)
}

func (ix *Index) leafComplete(leaf string) bool {
	// hash.bin is only written when the caller supplied canonical bytes
	// (via Prepare); its absence alone doesn't make a leaf incomplete.
	for _, p := range []string{timePath(leaf), dataPath(leaf)} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// Prepare computes v's digest and stashes its canonical bytes so a later
// Write/Set call for the same digest can populate hash.bin for collision
// detection. Grounded on spec.md:94's prepare(hash) -> (digest, context).
func (ix *Index) Prepare(v hashvalue.Value) (string, any, error) {
	digest := hashvalue.HexDigestAt(v, hashvalue.CurrentVersion)
	canon := v.CanonicalBytes(nil)

	ix.mu.Lock()
	ix.pending[digest] = canon
	ix.mu.Unlock()

	return digest, canon, nil
}

// Read implements the disk read protocol: verify the leaf is intact,
// collision-check hash.bin against canon (when known), touch time, and load
// via the configured serializer. On any integrity failure the leaf is
// deleted and a miss is reported, per spec.md:122-125.
func (ix *Index) Read(digest string, backendCtx any) (any, bool, error) {
	canon, _ := backendCtx.([]byte)
	value, ok, err := ix.readLeaf(digest, canon)
	if err != nil {
		return nil, false, err
	}
	if ok {
		ix.cfg.metrics.IncCacheHit("disk")
		return value, true, nil
	}

	for _, remote := range ix.cfg.remotes {
		raw, found, err := remote.Fetch(digest)
		if err != nil || !found {
			continue
		}
		var decoded any
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&decoded); err != nil {
			continue
		}
		if err := ix.writeLeaf(digest, decoded, canon); err == nil {
			ix.cfg.metrics.IncCacheHit("disk-remote")
			return decoded, true, nil
		}
	}

	ix.cfg.metrics.IncCacheMiss("disk")
	return nil, false, nil
}

// Write implements the disk write protocol (spec.md:115-120): save into a
// temp folder, atomically move into data/, write hash.bin and time, then
// lock down permissions. Any failure removes the whole leaf.
func (ix *Index) Write(digest string, value any, backendCtx any) error {
	canon, _ := backendCtx.([]byte)
	return ix.writeLeaf(digest, value, canon)
}

func (ix *Index) writeLeaf(key string, value any, canon []byte) (err error) {
	leaf := ix.leafDir(key)
	if ix.leafComplete(leaf) {
		return nil
	}
	if err := os.MkdirAll(leaf, 0o755); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.RemoveAll(leaf)
		}
	}()

	tmpDir, err := os.MkdirTemp(leaf, "tmp-")
	if err != nil {
		return err
	}
	if err = ix.cfg.serializer.Save(value, tmpDir); err != nil {
		return err
	}
	if err = os.Rename(tmpDir, dataPath(leaf)); err != nil {
		return err
	}
	if err = writeBlobDigest(leaf); err != nil {
		return err
	}
	if canon != nil {
		if err = writeHashBin(leaf, canon); err != nil {
			return err
		}
	}
	if err = touchTime(leaf); err != nil {
		return err
	}
	return lockDownPermissions(leaf)
}

func (ix *Index) readLeaf(key string, canon []byte) (any, bool, error) {
	leaf := ix.leafDir(key)
	if !ix.leafComplete(leaf) {
		return nil, false, nil
	}

	if canon != nil {
		if stored, err := readHashBin(leaf); err == nil && !bytes.Equal(stored, canon) {
			ix.cfg.logger.Warn("diskindex: hash.bin mismatch, evicting leaf", zap.String("key", key))
			ix.cfg.metrics.IncDiskCorruption()
			os.RemoveAll(leaf)
			return nil, false, nil
		}
	}

	if !verifyBlobDigest(leaf) {
		ix.cfg.logger.Warn("diskindex: blob digest mismatch, evicting leaf", zap.String("key", key))
		ix.cfg.metrics.IncDiskCorruption()
		os.RemoveAll(leaf)
		return nil, false, nil
	}

	if err := touchTime(leaf); err != nil {
		return nil, false, nil
	}

	value, err := ix.cfg.serializer.Load(dataPath(leaf))
	if err != nil {
		ix.cfg.logger.Warn("diskindex: corrupted leaf, evicting", zap.String("key", key), zap.Error(err))
		ix.cfg.metrics.IncDiskCorruption()
		os.RemoveAll(leaf)
		return nil, false, nil
	}
	return value, true, nil
}

func writeHashBin(leaf string, canon []byte) error {
	f, err := os.OpenFile(hashPath(leaf), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	gw, err := gzip.NewWriterLevel(f, 1)
	if err != nil {
		return err
	}
	gw.Header.ModTime = hashBinModTime
	if _, err := gw.Write(canon); err != nil {
		return err
	}
	return gw.Close()
}

func readHashBin(leaf string) ([]byte, error) {
	f, err := os.Open(hashPath(leaf))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}

func touchTime(leaf string) error {
	p := timePath(leaf)
	now := time.Now()
	if err := os.Chtimes(p, now, now); err == nil {
		return nil
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func lockDownPermissions(leaf string) error {
	return filepath.Walk(leaf, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return os.Chmod(path, 0o555)
		}
		return os.Chmod(path, 0o444)
	})
}

// Contains reports whether a leaf with both its time marker and data/ entry
// exists for key, without touching time or reading the value. It does not
// verify hash.bin or the blob digest; Read does that.
func (ix *Index) Contains(key string) bool {
	return ix.leafComplete(ix.leafDir(key))
}

// ReserveRead blocks (per the configured Locker, up to a 10-minute ceiling)
// until a read reservation for key is granted, then reports success.
// Grounded on spec.md:131's disk-locker semantics.
func (ix *Index) ReserveRead(key string) bool {
	return ReserveRead(ix.cfg.locker, key) == nil
}

// ReserveWriteOrRead becomes a reader if a value is already present,
// otherwise blocks until it becomes the sole writer. Returns true iff it
// became the writer, matching pkg/cache.Backend's contract.
func (ix *Index) ReserveWriteOrRead(key string) bool {
	if ix.Contains(key) {
		_ = ReserveRead(ix.cfg.locker, key)
		return false
	}
	if err := ReserveWrite(ix.cfg.locker, key); err != nil {
		ix.cfg.logger.Error("diskindex: write reservation timed out", zap.String("key", key), zap.Error(err))
	}
	return true
}

// Fail releases a write reservation without publishing anything.
func (ix *Index) Fail(key string) {
	ix.cfg.locker.StopWriting(key)
	ix.mu.Lock()
	delete(ix.pending, key)
	ix.mu.Unlock()
}

// Set publishes value under key and releases the write reservation.
func (ix *Index) Set(key string, value any) error {
	ix.mu.Lock()
	canon := ix.pending[key]
	delete(ix.pending, key)
	ix.mu.Unlock()

	err := ix.writeLeaf(key, value, canon)
	ix.cfg.locker.StopWriting(key)
	return err
}

// Get fetches value under key and releases the read reservation.
func (ix *Index) Get(key string) (any, error) {
	ix.mu.Lock()
	canon := ix.pending[key]
	ix.mu.Unlock()

	value, _, err := ix.readLeaf(key, canon)
	ix.cfg.locker.StopReading(key)
	return value, err
}
