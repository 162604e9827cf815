package persist

import "testing"

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewFileStore(t.TempDir())

	got, err := s.Get()
	if err != nil {
		t.Fatalf("Get on empty store: %v", err)
	}
	if got != "" {
		t.Fatalf("empty store returned %q", got)
	}

	if err := s.Set("Ada"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err = s.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "Ada" {
		t.Fatalf("Get = %q, want Ada", got)
	}

	if err := s.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	got, err = s.Get()
	if err != nil {
		t.Fatalf("Get after Remove: %v", err)
	}
	if got != "" {
		t.Fatalf("Get after Remove = %q, want empty", got)
	}

	// Removing again must not error.
	if err := s.Remove(); err != nil {
		t.Fatalf("second Remove failed: %v", err)
	}
}

func TestFileStoreCreatesDirectoryLazily(t *testing.T) {
	t.Parallel()

	dir := t.TempDir() + "/nested/state"
	s := NewFileStore(dir)
	if err := s.Set("Grace"); err != nil {
		t.Fatalf("Set with missing directory failed: %v", err)
	}
	got, err := s.Get()
	if err != nil || got != "Grace" {
		t.Fatalf("Get = %q, %v, want Grace", got, err)
	}
}
