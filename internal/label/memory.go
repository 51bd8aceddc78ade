package label

import (
	"context"
	"sync"

	"pganon/internal/domain"
)

type labelKey struct {
	ref      domain.ObjectRef
	provider string
}

// Memory is an in-process label store used in offline mode and tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[domain.ObjectRef]struct{}
	labels  map[labelKey]string
}

var _ ReadWriter = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[domain.ObjectRef]struct{}),
		labels:  make(map[labelKey]string),
	}
}

// AddObject registers an object that exists but may carry no labels.
func (m *Memory) AddObject(ref domain.ObjectRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[ref] = struct{}{}
}

// Label implements Store.
func (m *Memory) Label(_ context.Context, ref domain.ObjectRef, provider string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[ref]; !ok {
		return "", false, domain.ErrNotFound("%s does not exist", ref)
	}
	text, ok := m.labels[labelKey{ref: ref, provider: provider}]
	return text, ok, nil
}

// SetLabel implements Writer. Labeling an unknown object registers it.
func (m *Memory) SetLabel(_ context.Context, ref domain.ObjectRef, provider string, label *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[ref] = struct{}{}
	key := labelKey{ref: ref, provider: provider}
	if label == nil {
		delete(m.labels, key)
		return nil
	}
	m.labels[key] = *label
	return nil
}
