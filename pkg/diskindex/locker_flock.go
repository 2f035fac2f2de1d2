package diskindex

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// FlockLocker implements Locker across processes via one advisory lock file
// per key, scoped to a shared directory. It is the distributed analogue of
// ThreadLocker, replacing locker.py's RedisLocker: no Redis client exists in
// the retrieval pack, but gofrs/flock's single-writer/multi-reader advisory
// locks give the same cross-process contract without a network dependency
// (see DESIGN.md's Open Question decision on this substitution).
type FlockLocker struct {
	dir string

	mu    sync.Mutex
	locks map[string]*flock.Flock
}

func NewFlockLocker(dir string) (*FlockLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FlockLocker{dir: dir, locks: map[string]*flock.Flock{}}, nil
}

func (f *FlockLocker) lockFor(key string) *flock.Flock {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.locks[key]; ok {
		return l
	}
	l := flock.New(filepath.Join(f.dir, key+".lock"))
	f.locks[key] = l
	return l
}

func (f *FlockLocker) StartReading(key string) bool {
	ok, err := f.lockFor(key).TryRLock()
	return err == nil && ok
}

func (f *FlockLocker) StopReading(key string) {
	_ = f.lockFor(key).Unlock()
}

func (f *FlockLocker) StartWriting(key string) bool {
	ok, err := f.lockFor(key).TryLock()
	return err == nil && ok
}

func (f *FlockLocker) StopWriting(key string) {
	_ = f.lockFor(key).Unlock()
}
