// Package identmap provides an associative store keyed by pointer identity.
//
// When the runtime offers weak references the store delegates to them, so
// entries disappear once their key is garbage collected. Otherwise it falls
// back to tagging each key with a hidden, uniquely named slot.
package identmap

import (
	"runtime"
	"sync"
	"weak"

	"github.com/google/uuid"
)

type Map[K any, V any] interface {
	Get(key *K) (V, bool)
	Set(key *K, value V)
	Delete(key *K)
	Has(key *K) bool
	Len() int
}

var nativeAvailable = true

// New returns the native weak-reference store when available and the tagged
// fallback otherwise.
func New[K any, V any]() Map[K, V] {
	if nativeAvailable {
		return newWeakMap[K, V]()
	}
	return newTaggedMap[K, V]()
}

type weakEntry[V any] struct {
	value   V
	cleanup runtime.Cleanup
}

type weakMap[K any, V any] struct {
	mu      sync.Mutex
	entries map[weak.Pointer[K]]weakEntry[V]
}

func newWeakMap[K any, V any]() *weakMap[K, V] {
	return &weakMap[K, V]{entries: make(map[weak.Pointer[K]]weakEntry[V])}
}

func (m *weakMap[K, V]) Get(key *K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[weak.Make(key)]
	return entry.value, ok
}

// Set ignores nil keys. A value that references its own key keeps that key
// reachable, so such an entry is never evicted.
func (m *weakMap[K, V]) Set(key *K, value V) {
	if key == nil {
		return
	}
	ptr := weak.Make(key)

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[ptr]; ok {
		entry.value = value
		m.entries[ptr] = entry
		return
	}
	cleanup := runtime.AddCleanup(key, m.evict, ptr)
	m.entries[ptr] = weakEntry[V]{value: value, cleanup: cleanup}
}

func (m *weakMap[K, V]) Delete(key *K) {
	ptr := weak.Make(key)

	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[ptr]; ok {
		entry.cleanup.Stop()
		delete(m.entries, ptr)
	}
}

func (m *weakMap[K, V]) Has(key *K) bool {
	_, ok := m.Get(key)
	return ok
}

func (m *weakMap[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *weakMap[K, V]) evict(ptr weak.Pointer[K]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, ptr)
}

// Taggable keys carry their own slot table, which the tagged fallback uses
// instead of holding the key strongly.
type Taggable interface {
	Tags() *Tags
}

// Tags is a hidden per-object slot table. The zero value is ready to use.
type Tags struct {
	mu    sync.Mutex
	slots map[string]any
}

func (t *Tags) get(id string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	value, ok := t.slots[id]
	return value, ok
}

func (t *Tags) set(id string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots == nil {
		t.slots = make(map[string]any)
	}
	t.slots[id] = value
}

func (t *Tags) remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.slots[id]
	delete(t.slots, id)
	return ok
}

type taggedMap[K any, V any] struct {
	id string

	mu     sync.Mutex
	tagged int
	strong map[*K]V
}

func newTaggedMap[K any, V any]() *taggedMap[K, V] {
	return &taggedMap[K, V]{
		id:     "__identmap$" + uuid.NewString(),
		strong: make(map[*K]V),
	}
}

func (m *taggedMap[K, V]) Get(key *K) (V, bool) {
	if tags, ok := tagsOf(key); ok {
		value, found := tags.get(m.id)
		if !found {
			var zero V
			return zero, false
		}
		return value.(V), true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.strong[key]
	return value, ok
}

func (m *taggedMap[K, V]) Set(key *K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tags, ok := tagsOf(key); ok {
		if _, exists := tags.get(m.id); !exists {
			m.tagged++
		}
		tags.set(m.id, value)
		return
	}
	if key != nil {
		m.strong[key] = value
	}
}

func (m *taggedMap[K, V]) Delete(key *K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tags, ok := tagsOf(key); ok {
		if tags.remove(m.id) {
			m.tagged--
		}
		return
	}
	delete(m.strong, key)
}

func (m *taggedMap[K, V]) Has(key *K) bool {
	_, ok := m.Get(key)
	return ok
}

// Len counts live tagged keys this map has seen plus strongly held keys.
func (m *taggedMap[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tagged + len(m.strong)
}

func tagsOf[K any](key *K) (*Tags, bool) {
	if key == nil {
		return nil, false
	}
	taggable, ok := any(key).(Taggable)
	if !ok {
		return nil, false
	}
	tags := taggable.Tags()
	return tags, tags != nil
}
