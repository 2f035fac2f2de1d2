// Package cache implements connectome's CacheBackend contract: a uniform
// key-value store with read/write reservation so concurrent requests for the
// same not-yet-computed value never run the underlying computation twice.
//
// Grounded on original_source/connectome/cache/{base.py,transactions.py} for
// the reservation protocol and teacher Voskan/arena-cache's pkg/cache.go and
// pkg/loader.go for the Go-idiomatic shape (generic-free here since the
// engine only ever stores `any`, matching connectome's dynamically typed
// values).
package cache

import "github.com/neuro-ml/connectome/pkg/hashvalue"

// Backend is the uniform interface every cache tier (memory, disk, a remote
// mirror) implements. Prepare/Read/Write are the simple path; the
// Reserve*/Fail/Set/Get methods implement the protocol that lets a caller
// avoid redundant concurrent computation of the same key.
type Backend interface {
	// Prepare computes the string digest for v and an opaque per-backend
	// context to pass to Read/Write (disk backends use this to carry a
	// resolved file path; Memory ignores it).
	Prepare(v hashvalue.Value) (digest string, backendCtx any, err error)
	// Read fetches the value for digest, reporting ok=false on a miss.
	Read(digest string, backendCtx any) (value any, ok bool, err error)
	// Write atomically and idempotently publishes value under digest.
	Write(digest string, value any, backendCtx any) error

	// Contains reports whether a value is already present for digest,
	// without granting any reservation or touching access metadata. A
	// CacheEdge uses this during the hash phase to decide whether its
	// Mask should suppress parent evaluation entirely.
	Contains(digest string) bool

	// ReserveRead grants a read if a value exists and no writer holds key.
	ReserveRead(key string) bool
	// ReserveWriteOrRead reports whether the caller became the writer
	// (true) or a reader (false) of key.
	ReserveWriteOrRead(key string) bool
	// Fail releases key without publishing, e.g. after a user function
	// raised an error while the caller held the write reservation.
	Fail(key string)
	// Set publishes value under a held write reservation and releases it.
	Set(key string, value any) error
	// Get fetches the value under a held read reservation and releases it.
	Get(key string) (any, error)
}
