package safeio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomicCreatesParentsAndReplaces(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "manifest.json")

	if err := WriteFileAtomic(target, []byte("first"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(target, []byte("second"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, err := ReadFile(target)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("unexpected content %q", data)
	}

	entries, err := os.ReadDir(filepath.Dir(target))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestWriteFileAtomicFailsWhenParentIsFile(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(parent, []byte("x"), 0o600); err != nil {
		t.Fatalf("write parent: %v", err)
	}
	if err := WriteFileAtomic(filepath.Join(parent, "child.json"), []byte("{}"), 0o644); err == nil {
		t.Fatal("expected error when parent is a file")
	}
}

func TestRemoveFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "gone.json")
	removed, err := RemoveFile(target)
	if err != nil || removed {
		t.Fatalf("missing file: removed=%v err=%v", removed, err)
	}

	if err := os.WriteFile(target, []byte("{}"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	removed, err = RemoveFile(target)
	if err != nil || !removed {
		t.Fatalf("existing file: removed=%v err=%v", removed, err)
	}
}
