package kvstorage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/ben-ranford/stdmod/internal/testutil"
)

type variantCase struct {
	name string
	open func(t *testing.T, readOnly bool) Storage
}

func variants(t *testing.T) []variantCase {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "kv.db")
	polyfillDir := t.TempDir()
	return []variantCase{
		{
			name: "native",
			open: func(t *testing.T, readOnly bool) Storage {
				store, err := OpenNative(context.Background(), dbPath, NativeOptions{ReadOnly: readOnly})
				if err != nil {
					t.Fatalf("open native: %v", err)
				}
				t.Cleanup(func() { _ = store.Close() })
				return store
			},
		},
		{
			name: "polyfill",
			open: func(t *testing.T, readOnly bool) Storage {
				store := newPolyfill(t, PolyfillOptions{Dir: polyfillDir, ReadOnly: readOnly})
				t.Cleanup(func() { _ = store.Close() })
				return store
			},
		},
	}
}

func newPolyfill(t *testing.T, opts PolyfillOptions) *Polyfill {
	t.Helper()
	store, err := NewPolyfill(opts)
	if err != nil {
		t.Fatalf("new polyfill: %v", err)
	}
	return store
}

func TestRoundTripOnBothVariants(t *testing.T) {
	structured := map[string]any{
		"theme":     "dark",
		"fontSize":  float64(14),
		"flags":     []any{true, false},
		"timestamp": "2019-03-01T12:00:00Z",
	}
	for _, variant := range variants(t) {
		t.Run(variant.name, func(t *testing.T) {
			ctx := context.Background()
			store := variant.open(t, false)

			if err := store.Set(ctx, "greeting", "hello"); err != nil {
				t.Fatalf("set primitive: %v", err)
			}
			if err := store.Set(ctx, "preferences", structured); err != nil {
				t.Fatalf("set structured: %v", err)
			}

			got, ok, err := store.Get(ctx, "greeting")
			if err != nil || !ok || got != "hello" {
				t.Fatalf("get primitive: %v %v %v", got, ok, err)
			}
			got, ok, err = store.Get(ctx, "preferences")
			if err != nil || !ok {
				t.Fatalf("get structured: %v %v", ok, err)
			}
			if !reflect.DeepEqual(got, structured) {
				t.Fatalf("structured value changed: %#v", got)
			}

			keys, err := store.Keys(ctx)
			if err != nil {
				t.Fatalf("keys: %v", err)
			}
			if !reflect.DeepEqual(keys, []string{"greeting", "preferences"}) {
				t.Fatalf("unexpected keys %v", keys)
			}

			if err := store.Delete(ctx, "greeting"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, ok, _ := store.Get(ctx, "greeting"); ok {
				t.Fatalf("deleted key still present")
			}
			if err := store.Clear(ctx); err != nil {
				t.Fatalf("clear: %v", err)
			}
			if keys, _ := store.Keys(ctx); len(keys) != 0 {
				t.Fatalf("expected no keys after clear, got %v", keys)
			}
		})
	}
}

func TestStoredValuesAreCopies(t *testing.T) {
	for _, variant := range variants(t) {
		t.Run(variant.name, func(t *testing.T) {
			ctx := context.Background()
			store := variant.open(t, false)
			value := map[string]any{"count": float64(1)}
			if err := store.Set(ctx, "k", value); err != nil {
				t.Fatalf("set: %v", err)
			}
			value["count"] = float64(2)

			got, _, err := store.Get(ctx, "k")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.(map[string]any)["count"] != float64(1) {
				t.Fatalf("stored value aliased caller's map: %v", got)
			}
		})
	}
}

func TestReadOnlyHostDeniesWrites(t *testing.T) {
	for _, variant := range variants(t) {
		t.Run(variant.name, func(t *testing.T) {
			ctx := context.Background()
			writable := variant.open(t, false)
			if err := writable.Set(ctx, "existing", "kept"); err != nil {
				t.Fatalf("seed: %v", err)
			}

			store := variant.open(t, true)
			for name, op := range map[string]func() error{
				"set":    func() error { return store.Set(ctx, "k", "v") },
				"delete": func() error { return store.Delete(ctx, "existing") },
				"clear":  func() error { return store.Clear(ctx) },
			} {
				if err := op(); !errors.Is(err, ErrAccessDenied) {
					t.Fatalf("%s: expected ErrAccessDenied, got %v", name, err)
				}
			}

			got, ok, err := store.Get(ctx, "existing")
			if err != nil || !ok || got != "kept" {
				t.Fatalf("reads should still work: %v %v %v", got, ok, err)
			}
		})
	}
}

func TestReadOnlyNativeWithoutTableReadsEmpty(t *testing.T) {
	store, err := OpenNative(context.Background(), filepath.Join(t.TempDir(), "fresh.db"), NativeOptions{ReadOnly: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if _, ok, err := store.Get(context.Background(), "k"); err != nil || ok {
		t.Fatalf("expected empty read, got ok=%v err=%v", ok, err)
	}
	if keys, err := store.Keys(context.Background()); err != nil || len(keys) != 0 {
		t.Fatalf("expected no keys, got %v %v", keys, err)
	}
}

func TestPolyfillPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := newPolyfill(t, PolyfillOptions{Dir: dir, Area: "prefs"})
	if err := first.Set(ctx, "k", []any{"a", "b"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = first.Close()

	second := newPolyfill(t, PolyfillOptions{Dir: dir, Area: "prefs"})
	t.Cleanup(func() { _ = second.Close() })
	got, ok, err := second.Get(ctx, "k")
	if err != nil || !ok || !reflect.DeepEqual(got, []any{"a", "b"}) {
		t.Fatalf("unexpected reload: %v %v %v", got, ok, err)
	}
}

func TestPolyfillCorruptAreaFails(t *testing.T) {
	dir := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(dir, DefaultArea+".json"), "{broken")

	store := newPolyfill(t, PolyfillOptions{Dir: dir})
	t.Cleanup(func() { _ = store.Close() })
	if _, _, err := store.Get(context.Background(), "k"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestClosedStorageFails(t *testing.T) {
	store := newPolyfill(t, PolyfillOptions{})
	_ = store.Close()
	if err := store.Set(context.Background(), "k", "v"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCanceledContextIsReported(t *testing.T) {
	for _, variant := range variants(t) {
		t.Run(variant.name, func(t *testing.T) {
			store := variant.open(t, false)
			if _, _, err := store.Get(testutil.CanceledContext(), "k"); !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
		})
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	store := newPolyfill(t, PolyfillOptions{})
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Set(context.Background(), "", "v"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestUnencodableValueFailsWithoutPanic(t *testing.T) {
	store := newPolyfill(t, PolyfillOptions{})
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Set(context.Background(), "k", make(chan int)); err == nil {
		t.Fatal("expected encode error")
	}
}

func TestOpenSelectsVariantAndDetectReportsIt(t *testing.T) {
	ctx := context.Background()

	native, err := Open(ctx, Host{BackingStore: filepath.Join(t.TempDir(), "kv.db")})
	if err != nil {
		t.Fatalf("open native: %v", err)
	}
	t.Cleanup(func() { _ = native.Close() })
	if got := Detect(native); got != VariantNative {
		t.Fatalf("expected native, got %s", got)
	}
	if VariantNative.Status() != "built-in module" {
		t.Fatalf("unexpected status %q", VariantNative.Status())
	}

	polyfill, err := Open(ctx, Host{})
	if err != nil {
		t.Fatalf("open polyfill: %v", err)
	}
	t.Cleanup(func() { _ = polyfill.Close() })
	if got := Detect(polyfill); got != VariantPolyfill {
		t.Fatalf("expected polyfill, got %s", got)
	}
}

func TestPolyfillConcurrentWrites(t *testing.T) {
	store := newPolyfill(t, PolyfillOptions{Dir: t.TempDir()})
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Set(ctx, fmt.Sprintf("k%02d", i), float64(i)); err != nil {
				t.Errorf("set %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	keys, err := store.Keys(ctx)
	if err != nil || len(keys) != 16 {
		t.Fatalf("expected 16 keys, got %v (%v)", keys, err)
	}
}

func TestAreaMustNameOneFile(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "kv")
	for _, area := range []string{"../escape", "a/b", `a\b`, "..", ".", "x..y"} {
		t.Run(area, func(t *testing.T) {
			if _, err := NewPolyfill(PolyfillOptions{Dir: dir, Area: area}); !errors.Is(err, ErrInvalidArea) {
				t.Fatalf("polyfill: expected ErrInvalidArea, got %v", err)
			}
			if _, err := Open(context.Background(), Host{PolyfillDir: dir, Area: area}); !errors.Is(err, ErrInvalidArea) {
				t.Fatalf("open: expected ErrInvalidArea, got %v", err)
			}
			if _, err := OpenNative(context.Background(), filepath.Join(parent, "kv.db"), NativeOptions{Area: area}); !errors.Is(err, ErrInvalidArea) {
				t.Fatalf("native: expected ErrInvalidArea, got %v", err)
			}
		})
	}
	if _, err := os.Stat(filepath.Join(parent, "escape.json")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("nothing may be written outside the polyfill dir: %v", err)
	}

	store := newPolyfill(t, PolyfillOptions{Dir: dir, Area: "  prefs  "})
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "prefs.json")); err != nil {
		t.Fatalf("expected the trimmed area file: %v", err)
	}
}

func TestPermissionErrorsMapToAccessDenied(t *testing.T) {
	err := classifyError("set k", fmt.Errorf("open: %w", fs.ErrPermission))
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if err := classifyError("set k", errors.New("disk full")); errors.Is(err, ErrAccessDenied) {
		t.Fatalf("unrelated error mapped to access denied: %v", err)
	}
}
