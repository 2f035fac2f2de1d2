package diskindex

import (
	"fmt"
	"sync"
	"time"
)

// Locker implements the single-writer/multi-reader reservation primitives a
// DiskIndex needs around each leaf: readers may proceed concurrently with
// other readers, but never alongside a writer, and at most one writer holds
// a key at a time.
//
// Grounded on original_source/connectome/storage/locker.py's Locker ABC
// (start_reading/stop_reading/start_writing/stop_writing); the polling
// "reserve" wrapper with its 10-minute deadlock ceiling is reproduced by
// ReserveRead/ReserveWrite below rather than duplicated per implementation.
type Locker interface {
	StartReading(key string) bool
	StopReading(key string)
	StartWriting(key string) bool
	StopWriting(key string)
}

// PotentialDeadLockError reports that a reservation could not be acquired
// within the wait ceiling. Mirrors locker.py's PotentialDeadLock.
type PotentialDeadLockError struct {
	Key string
}

func (e *PotentialDeadLockError) Error() string {
	return fmt.Sprintf("diskindex: potential deadlock waiting for key %s", e.Key)
}

const (
	reservePollInterval = 100 * time.Millisecond
	reserveMaxWait      = 10 * time.Minute
)

// ReserveRead blocks until StartReading(key) succeeds, polling every
// reservePollInterval, up to reserveMaxWait before giving up.
func ReserveRead(l Locker, key string) error {
	return waitForTrue(func() bool { return l.StartReading(key) }, key)
}

// ReserveWrite blocks until StartWriting(key) succeeds, polling every
// reservePollInterval, up to reserveMaxWait before giving up.
func ReserveWrite(l Locker, key string) error {
	return waitForTrue(func() bool { return l.StartWriting(key) }, key)
}

func waitForTrue(acquire func() bool, key string) error {
	deadline := time.Now().Add(reserveMaxWait)
	for {
		if acquire() {
			return nil
		}
		if time.Now().After(deadline) {
			return &PotentialDeadLockError{Key: key}
		}
		time.Sleep(reservePollInterval)
	}
}

// DummyLocker grants every reservation immediately; suitable for a
// single-process, single-writer setup with no contention to guard against.
// Mirrors locker.py:DummyLocker.
type DummyLocker struct{}

func (DummyLocker) StartReading(string) bool { return true }
func (DummyLocker) StopReading(string)       {}
func (DummyLocker) StartWriting(string) bool { return true }
func (DummyLocker) StopWriting(string)       {}

// ThreadLocker is an in-process reader/writer registry keyed by string,
// mirroring locker.py's DictRegistry/ThreadLocker pair (reading/writing
// counters guarded by a single mutex).
type ThreadLocker struct {
	mu      sync.Mutex
	reading map[string]int
	writing map[string]int
}

func NewThreadLocker() *ThreadLocker {
	return &ThreadLocker{reading: map[string]int{}, writing: map[string]int{}}
}

func (t *ThreadLocker) StartReading(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writing[key] > 0 {
		return false
	}
	t.reading[key]++
	return true
}

func (t *ThreadLocker) StopReading(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reading[key] <= 1 {
		delete(t.reading, key)
	} else {
		t.reading[key]--
	}
}

func (t *ThreadLocker) StartWriting(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reading[key] > 0 || t.writing[key] > 0 {
		return false
	}
	t.writing[key] = 1
	return true
}

func (t *ThreadLocker) StopWriting(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.writing, key)
}
