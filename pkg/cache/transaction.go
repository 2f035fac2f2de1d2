package cache

import "sync"

// txState marks whether a queued operation against a key is a read or a
// write, mirroring connectome/cache/transactions.py's TransactionState enum.
type txState int

const (
	txRead txState = iota
	txWrite
)

// transactions implements the non-blocking reservation protocol every
// Backend needs: at most one writer per key at a time, readers allowed
// whenever nobody is (or is about to) write, and explicit release via Fail
// or Set/Get. It never blocks — callers (the VM's cooperative scheduler) are
// expected to retry later if a reservation is denied.
//
// Grounded on original_source/connectome/cache/transactions.py:ThreadedTransaction.
type transactions struct {
	mu       sync.Mutex
	notReady map[string]struct{}
	queues   map[string][]txState
}

func newTransactions() *transactions {
	return &transactions{
		notReady: make(map[string]struct{}),
		queues:   make(map[string][]txState),
	}
}

// reserveRead grants a read reservation if the key already has a value
// (contains reports this) and nobody is currently writing it.
func (t *transactions) reserveRead(key string, contains func(string) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, notReady := t.notReady[key]; contains(key) && !notReady {
		t.queues[key] = append(t.queues[key], txRead)
		return true
	}
	return false
}

// reserveWriteOrRead reports whether the caller became the writer (true) or
// a reader (false). It becomes a reader whenever a value is already present
// and ready; otherwise it becomes the sole writer and marks key not-ready.
func (t *transactions) reserveWriteOrRead(key string, contains func(string) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, notReady := t.notReady[key]
	if contains(key) && !notReady {
		t.queues[key] = append(t.queues[key], txRead)
		return false
	}

	t.notReady[key] = struct{}{}
	t.queues[key] = append(t.queues[key], txWrite)
	return true
}

// fail releases a reservation (read or write) without publishing anything,
// used when the computation that held it raised an error.
func (t *transactions) fail(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.popFront(key)
}

// set releases a write reservation after the value has been published,
// clearing the key's not-ready flag.
func (t *transactions) set(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.notReady, key)
	t.popFront(key)
}

// get releases a read reservation after the value has been fetched.
func (t *transactions) get(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.popFront(key)
}

func (t *transactions) popFront(key string) {
	q := t.queues[key]
	if len(q) <= 1 {
		delete(t.queues, key)
		return
	}
	t.queues[key] = q[1:]
}
