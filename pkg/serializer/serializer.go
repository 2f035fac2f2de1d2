// Package serializer implements connectome's pluggable (save, load) strategy
// chain for persisting cached values to a DiskIndex leaf's data/ directory.
//
// Grounded on original_source/connectome/serializers.py: Serializer,
// ChainSerializer, JsonSerializer, NumpySerializer, DictSerializer.
package serializer

import "fmt"

// Error reports that a Serializer could not handle a value or folder; a
// ChainSerializer treats it as "try the next strategy," never a fatal error.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "serializer: " + e.Reason }

func errorf(format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// Serializer saves and loads a value to/from a directory. Multiple
// strategies are expected to coexist (see Chain); a Serializer signals "not
// applicable" by returning an *Error, letting the chain fall through.
type Serializer interface {
	Save(value any, dir string) error
	Load(dir string) (any, error)
}
