package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, maxLifetime time.Duration) *Registry {
	t.Helper()
	r, err := NewRegistry(t.TempDir(), maxLifetime, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestOpenIsExclusivePerSpeaker(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	s, err := r.Open("g1", "u1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if s.State != StateCapturing {
		t.Fatalf("State = %q, want %q", s.State, StateCapturing)
	}

	if _, err := r.Open("g1", "u1"); !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("second Open() error = %v, want ErrAlreadyOpen", err)
	}

	// Another speaker, and the same speaker in another guild, are independent.
	if _, err := r.Open("g1", "u2"); err != nil {
		t.Fatalf("Open(u2) error = %v", err)
	}
	if _, err := r.Open("g2", "u1"); err != nil {
		t.Fatalf("Open(g2,u1) error = %v", err)
	}
	if got := r.OpenCount(); got != 3 {
		t.Fatalf("OpenCount = %d, want 3", got)
	}
}

func TestReleaseDeletesArtifactAndReopens(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	s, err := r.Open("g1", "u1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := os.WriteFile(s.ArtifactPath, []byte("pcmdata"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	r.Release(s)
	if _, err := os.Stat(s.ArtifactPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("artifact should be deleted, stat err = %v", err)
	}
	if _, err := r.Open("g1", "u1"); err != nil {
		t.Fatalf("Open after Release error = %v", err)
	}
}

func TestReleaseIgnoresStaleSession(t *testing.T) {
	r := newTestRegistry(t, time.Minute)

	old, _ := r.Open("g1", "u1")
	r.Release(old)
	fresh, _ := r.Open("g1", "u1")

	// Releasing the old session again must not evict the fresh one.
	r.Release(old)
	if got := r.OpenCount(); got != 1 {
		t.Fatalf("OpenCount = %d, want 1", got)
	}
	r.Release(fresh)
	if got := r.OpenCount(); got != 0 {
		t.Fatalf("OpenCount = %d, want 0", got)
	}
}

func TestNewRegistrySweepsStaleArtifacts(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "vc_123_u1_deadbeef.wav")
	keep := filepath.Join(dir, "unrelated.txt")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatalf("write stale: %v", err)
	}
	if err := os.WriteFile(keep, []byte("x"), 0o644); err != nil {
		t.Fatalf("write keep: %v", err)
	}

	if _, err := NewRegistry(dir, time.Minute, nil); err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale artifact should be swept")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("unrelated file should survive sweep: %v", err)
	}
}

func TestJanitorExpiresStuckSessions(t *testing.T) {
	r := newTestRegistry(t, 30*time.Millisecond)

	s, _ := r.Open("g1", "u1")
	if err := os.WriteFile(s.ArtifactPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartJanitor(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for r.OpenCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor did not expire the session")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(s.ArtifactPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expired session artifact should be deleted")
	}
}
