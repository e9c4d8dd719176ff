package host

import "sync"

// Method is a patchable host function slot. Callers always go through Get,
// so a patch applied at any time affects every later call.
type Method[F any] struct {
	name string

	mu      sync.RWMutex
	current F
	patches map[string]bool
}

func newMethod[F any](name string, impl F) *Method[F] {
	return &Method[F]{name: name, current: impl, patches: make(map[string]bool)}
}

// Name returns the method's host name, e.g. "setTimeout".
func (m *Method[F]) Name() string {
	return m.name
}

// Get returns the current implementation.
func (m *Method[F]) Get() F {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Patch replaces the implementation with wrap(current). Each key is applied
// at most once; Patch reports whether wrap was applied.
func (m *Method[F]) Patch(key string, wrap func(original F) F) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.patches[key] {
		return false
	}
	m.current = wrap(m.current)
	m.patches[key] = true
	return true
}

// Patched reports whether a patch with key has been applied.
func (m *Method[F]) Patched(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.patches[key]
}
