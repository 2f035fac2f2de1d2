package funchash

import (
	"fmt"
	"strings"
	"sync"
)

// Registry tracks which qualified names and modules have been explicitly
// marked Stable or Unstable, mirroring compat.py's module-level
// STABLE_OBJECTS/UNSTABLE_OBJECTS/UNSTABLE_MODULES sets. Unlike the Python
// original these sets hold plain strings (qualified names, dotted module
// paths) rather than weak object references, since Go has no equivalent weak
// identity hook to avoid leaking memory for the registry's lifetime.
type Registry struct {
	mu                 sync.RWMutex
	stableNames        map[string]struct{}
	unstableNames      map[string]struct{}
	unstableModules    map[string]struct{}
	developmentModules map[string]struct{}
}

// NewRegistry returns an empty Registry: every callable defaults to
// ModeGlobal until marked otherwise.
func NewRegistry() *Registry {
	return &Registry{
		stableNames:        make(map[string]struct{}),
		unstableNames:      make(map[string]struct{}),
		unstableModules:    make(map[string]struct{}),
		developmentModules: make(map[string]struct{}),
	}
}

// MarkStable opts qualifiedName out of deep hashing: its content hash is
// derived from the name alone from now on.
func (r *Registry) MarkStable(qualifiedName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.unstableNames, qualifiedName)
	r.stableNames[qualifiedName] = struct{}{}
}

// MarkUnstable requires ModeDeep (a declared ContentID) for qualifiedName.
func (r *Registry) MarkUnstable(qualifiedName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stableNames, qualifiedName)
	r.unstableNames[qualifiedName] = struct{}{}
}

// MarkModuleUnstable requires ModeDeep for every callable whose module is
// module or a sub-package of it, unless the callable itself is explicitly
// marked Stable.
func (r *Registry) MarkModuleUnstable(module string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unstableModules[module] = struct{}{}
}

// MarkModuleUnderDevelopment flags module so that Mode refuses to silently
// fall back to ModeGlobal for any callable in it — callers must explicitly
// call MarkModuleUnstable (or MarkUnstable per-callable) instead. Mirrors
// compat.py's __development__ guard in _check_is_under_development.
func (r *Registry) MarkModuleUnderDevelopment(module string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.developmentModules[module] = struct{}{}
}

// Mode resolves the hashing mode for a callable given its qualified name and
// declaring module, walking the module's ancestry (mypkg.sub.leaf ->
// mypkg.sub -> mypkg) the same way compat.py's get_pickle_mode does.
func (r *Registry) Mode(qualifiedName, module string) (Mode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.unstableNames[qualifiedName]; ok {
		return ModeDeep, nil
	}
	if _, ok := r.stableNames[qualifiedName]; ok {
		return ModeGlobal, nil
	}

	for m := module; ; {
		if _, ok := r.unstableModules[m]; ok {
			return ModeDeep, nil
		}
		idx := strings.LastIndex(m, ".")
		if idx < 0 {
			break
		}
		m = m[:idx]
	}

	if err := r.checkUnderDevelopment(module); err != nil {
		return 0, err
	}
	return ModeGlobal, nil
}

func (r *Registry) checkUnderDevelopment(module string) error {
	base := module
	if idx := strings.Index(base, "."); idx >= 0 {
		base = base[:idx]
	}
	if _, ok := r.developmentModules[base]; ok {
		return &UnderDevelopmentError{Module: base}
	}
	return nil
}

// UnderDevelopmentError is returned by Mode when a callable's base module was
// marked under development and has no explicit Stable/Unstable declaration.
type UnderDevelopmentError struct {
	Module string
}

func (e *UnderDevelopmentError) Error() string {
	return fmt.Sprintf("funchash: module %q is under development; mark it or the callable unstable explicitly instead of relying on qualified-name hashing", e.Module)
}

// UnstableWithoutContentIDError is returned by Hash when a callable resolves
// to ModeDeep but no ContentIDer was supplied.
type UnstableWithoutContentIDError struct {
	QualifiedName string
}

func (e *UnstableWithoutContentIDError) Error() string {
	return fmt.Sprintf("funchash: %q is unstable and requires a declared ContentID", e.QualifiedName)
}

// UnknownModeError is returned by Hash if Mode somehow returns a value
// outside the Mode enum; it should be unreachable in normal operation.
type UnknownModeError struct {
	Mode Mode
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("funchash: unknown mode %d", e.Mode)
}
