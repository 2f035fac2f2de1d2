// Package unsafehelpers centralises the unavoidable usage of the `unsafe`
// standard-library package so that the rest of connectome stays clean and
// easy to audit. Every helper is documented with clear pre-/post-conditions.
//
// ⚠️ These helpers deliberately break the Go memory-safety model for the sake
// of zero-allocation conversions. Use ONLY inside this repository; they are
// not part of the public API and may change without notice.
//
// © 2025 connectome authors. MIT License.

package unsafehelpers

import "unsafe"

/* -------------------------------------------------------------------------
   Zero-copy string/[]byte conversions
   ------------------------------------------------------------------------- */

// BytesToString converts a byte slice to a string without allocating. The
// caller must guarantee that b is never modified for the lifetime of the
// resulting string; otherwise the program exhibits undefined behaviour.
func BytesToString(b []byte) string {
    if len(b) == 0 {
        return ""
    }
    return unsafe.String(&b[0], len(b))
}

// StringToBytes reinterprets string data as a byte slice without copying.
// The slice MUST remain read-only: writing to it mutates immutable string
// storage and is undefined behaviour.
//
// Used by pkg/hashvalue's canonical encoder for Custom markers and keyword
// argument names.
func StringToBytes(s string) []byte {
    if len(s) == 0 {
        return nil
    }
    return unsafe.Slice(unsafe.StringData(s), len(s))
}
