package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache", "udonasm.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKey(t *testing.T) {
	a := Key([]byte("ab"), []byte("c"))
	b := Key([]byte("a"), []byte("bc"))
	if a == b {
		t.Error("input boundaries should be part of the key")
	}
	if Key([]byte("x")) != Key([]byte("x")) {
		t.Error("Key should be deterministic")
	}
	if len(a.String()) != 64 {
		t.Errorf("String() length = %d, want 64", len(a.String()))
	}
}

func TestPutLookup(t *testing.T) {
	s := openTemp(t)
	h := Key([]byte("source"))

	if _, err := s.Lookup(h); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup on empty store = %v, want ErrNotFound", err)
	}

	id, err := s.Put(h, "demo", ".data_start\n.data_end\n", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if id == "" {
		t.Error("Put should assign a build id")
	}

	a, err := s.Lookup(h)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if a.BuildID != id || a.Name != "demo" || a.Text != ".data_start\n.data_end\n" {
		t.Errorf("artifact = %+v", a)
	}
	if len(a.Image) != 3 || a.Image[2] != 3 {
		t.Errorf("image = %v", a.Image)
	}
	if a.Created.IsZero() {
		t.Error("Created should be set")
	}
}

func TestPutReplaces(t *testing.T) {
	s := openTemp(t)
	h := Key([]byte("source"))

	first, _ := s.Put(h, "demo", "one", nil)
	second, err := s.Put(h, "demo", "two", nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if first == second {
		t.Error("each Put should get a fresh build id")
	}
	n, err := s.Len()
	if err != nil || n != 1 {
		t.Errorf("Len() = %d, %v, want 1", n, err)
	}
	a, _ := s.Lookup(h)
	if a.Text != "two" {
		t.Errorf("Text = %q, want two", a.Text)
	}

	if err := s.Delete(h); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Lookup(h); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup after Delete = %v", err)
	}
}
