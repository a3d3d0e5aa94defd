package identmap

import (
	"runtime"
	"testing"
	"time"
)

type plainKey struct {
	payload [64]byte
}

type taggedKey struct {
	tags Tags
}

func (k *taggedKey) Tags() *Tags {
	return &k.tags
}

func withNative(t *testing.T, available bool) {
	t.Helper()
	previous := nativeAvailable
	nativeAvailable = available
	t.Cleanup(func() { nativeAvailable = previous })
}

func TestNewSelectsVariant(t *testing.T) {
	withNative(t, true)
	if got, ok := New[plainKey, string]().(*weakMap[plainKey, string]); !ok {
		t.Fatalf("expected the weak-reference store, got %T", got)
	}

	withNative(t, false)
	if got, ok := New[plainKey, string]().(*taggedMap[plainKey, string]); !ok {
		t.Fatalf("expected the tagged store, got %T", got)
	}
}

func TestRoundTripOnEveryVariant(t *testing.T) {
	for _, native := range []bool{true, false} {
		withNative(t, native)
		plain := New[plainKey, map[string]any]()
		tagged := New[taggedKey, map[string]any]()

		a, b := &plainKey{}, &plainKey{}
		value := map[string]any{"theme": "dark"}
		plain.Set(a, value)
		if got, ok := plain.Get(a); !ok || got["theme"] != "dark" {
			t.Fatalf("native=%v: plain round trip failed: %v %v", native, got, ok)
		}
		if plain.Has(b) {
			t.Fatalf("native=%v: identity must not match a distinct key", native)
		}

		key := &taggedKey{}
		tagged.Set(key, value)
		if got, ok := tagged.Get(key); !ok || got["theme"] != "dark" {
			t.Fatalf("native=%v: tagged round trip failed: %v %v", native, got, ok)
		}
		tagged.Delete(key)
		if tagged.Has(key) || tagged.Len() != 0 {
			t.Fatalf("native=%v: delete did not remove entry", native)
		}

		plain.Delete(a)
		if plain.Len() != 0 {
			t.Fatalf("native=%v: expected empty map, got %d", native, plain.Len())
		}
	}
}

func TestTaggedMapsDoNotCollide(t *testing.T) {
	withNative(t, false)
	first := New[taggedKey, int]()
	second := New[taggedKey, int]()
	key := &taggedKey{}

	first.Set(key, 1)
	second.Set(key, 2)

	if got, _ := first.Get(key); got != 1 {
		t.Fatalf("first map saw %d", got)
	}
	if got, _ := second.Get(key); got != 2 {
		t.Fatalf("second map saw %d", got)
	}
}

func TestNativeMapDropsCollectedKeys(t *testing.T) {
	withNative(t, true)
	m := New[plainKey, int]()

	func() {
		m.Set(&plainKey{}, 1)
	}()
	if m.Len() != 1 {
		t.Fatalf("expected one entry before collection, got %d", m.Len())
	}

	deadline := time.Now().Add(5 * time.Second)
	for m.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("entry was not evicted after its key became unreachable")
		}
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNilKeysAreIgnored(t *testing.T) {
	for _, native := range []bool{true, false} {
		withNative(t, native)
		m := New[plainKey, int]()
		m.Set(nil, 1)
		if m.Len() != 0 {
			t.Fatalf("native=%v: nil key was stored", native)
		}
	}
}
