package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSweep_RemovesOnlyStaleEntries(t *testing.T) {
	root := t.TempDir()
	old := time.Now().Add(-3 * time.Hour)

	staleDir := filepath.Join(root, "req-old")
	if err := os.MkdirAll(filepath.Join(staleDir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	staleFile := filepath.Join(root, "splice-old.txt")
	if err := os.WriteFile(staleFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	fresh := filepath.Join(root, "req-new")
	if err := os.MkdirAll(fresh, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{staleDir, staleFile} {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatal(err)
		}
	}

	j, err := New(root, 2*time.Hour, "@every 1h", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n := j.Sweep(); n != 2 {
		t.Errorf("Sweep removed %d, want 2", n)
	}
	for _, p := range []string{staleDir, staleFile} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s still exists", p)
		}
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh entry removed: %v", err)
	}
}

func TestSweep_MissingRoot(t *testing.T) {
	j, err := New(filepath.Join(t.TempDir(), "absent"), time.Hour, "@every 1h", nil)
	if err != nil {
		t.Fatal(err)
	}
	if n := j.Sweep(); n != 0 {
		t.Errorf("Sweep = %d, want 0", n)
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	if _, err := New(t.TempDir(), time.Hour, "whenever", nil); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	j, err := New(t.TempDir(), time.Hour, "@every 1h", nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
