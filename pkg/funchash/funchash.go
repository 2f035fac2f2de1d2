// Package funchash computes a content hash for a Go callable so it can be
// embedded as hashvalue.Apply.Function. The original connectome engine used
// cloudpickle to hash a function's bytecode, globals and closure; Go has no
// runtime bytecode reflection, so the equivalent decision here is explicit
// instead of automatic (see spec.md's FunctionHasher design note): every
// callable is registered as either Stable (hashed by its qualified name
// alone — the name is a stand-in for "this implementation never changes in
// a way that should invalidate the cache") or Unstable (hashed by a
// caller-declared ContentID, the closest Go analogue to hashing the
// function's structure/closure).
//
// Grounded on connectome/cache/compat.py's PickleMode/STABLE_OBJECTS/
// UNSTABLE_OBJECTS/UNSTABLE_MODULES registries.
package funchash

import "lukechampine.com/blake3"

// Mode selects how a callable's content hash is derived.
type Mode int

const (
	// ModeGlobal hashes the callable's qualified name only. Use for
	// functions whose implementation is considered frozen.
	ModeGlobal Mode = iota
	// ModeDeep hashes a caller-declared ContentID, for callables whose
	// behavior can change across versions (closures over mutable config,
	// actively developed transforms, etc).
	ModeDeep
)

// ContentIDer is implemented by callables (usually wrapped in a small struct)
// that require ModeDeep hashing. ContentID must change whenever the
// callable's observable behavior changes, and stay stable otherwise.
type ContentIDer interface {
	ContentID() string
}

const (
	tagGlobal byte = 1
	tagDeep   byte = 2
)

// Hash returns the content hash bytes for a callable identified by
// qualifiedName (e.g. "mypkg.MyTransform") and declared module (e.g.
// "mypkg"), consulting reg to decide Stable vs Unstable. When the resolved
// mode is ModeDeep, c must be non-nil and its ContentID is hashed instead of
// the name.
func Hash(reg *Registry, qualifiedName, module string, c ContentIDer) ([]byte, error) {
	mode, err := reg.Mode(qualifiedName, module)
	if err != nil {
		return nil, err
	}
	switch mode {
	case ModeGlobal:
		return hashTagged(tagGlobal, qualifiedName), nil
	case ModeDeep:
		if c == nil {
			return nil, &UnstableWithoutContentIDError{QualifiedName: qualifiedName}
		}
		return hashTagged(tagDeep, c.ContentID()), nil
	default:
		return nil, &UnknownModeError{Mode: mode}
	}
}

func hashTagged(tag byte, s string) []byte {
	h := blake3.New(32, nil)
	h.Write([]byte{tag})
	h.Write([]byte(s))
	return h.Sum(nil)
}
