// Package session tracks in-flight speaker sessions and the lifecycle of
// their temporary audio artifacts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateCapturing  State = "capturing"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// ErrAlreadyOpen is returned when a speaker already has an open session
// for the same guild. A "speaking started" signal in that state is a no-op.
var ErrAlreadyOpen = errors.New("session already open for speaker")

// artifactPrefix names temporary artifacts so a startup sweep can
// recognize leftovers from a previous run.
const artifactPrefix = "vc_"

// Session is one in-progress capture for one speaker in one guild.
type Session struct {
	ID           string
	GuildID      string
	UserID       string
	StartedAt    time.Time
	State        State
	ArtifactPath string
}

type key struct {
	guildID string
	userID  string
}

// Registry enforces at most one open session per (guild, speaker) pair
// and owns the temporary-artifact directory.
type Registry struct {
	mu          sync.Mutex
	open        map[key]*Session
	tmpDir      string
	maxLifetime time.Duration
	logger      *slog.Logger
}

// NewRegistry prepares the artifact directory and sweeps any artifacts a
// previous run left behind.
func NewRegistry(tmpDir string, maxLifetime time.Duration, logger *slog.Logger) (*Registry, error) {
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create tmp dir: %w", err)
	}
	r := &Registry{
		open:        make(map[key]*Session),
		tmpDir:      tmpDir,
		maxLifetime: maxLifetime,
		logger:      logger,
	}
	r.sweepStaleArtifacts()
	return r, nil
}

// Open creates a session for the speaker, or returns ErrAlreadyOpen.
func (r *Registry) Open(guildID, userID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{guildID: guildID, userID: userID}
	if _, ok := r.open[k]; ok {
		return nil, ErrAlreadyOpen
	}

	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		UserID:    userID,
		StartedAt: now,
		State:     StateCapturing,
	}
	s.ArtifactPath = filepath.Join(r.tmpDir, fmt.Sprintf("%s%d_%s_%s.wav", artifactPrefix, now.UnixMilli(), userID, s.ID[:8]))
	r.open[k] = s
	return s, nil
}

// Transition moves the session to the given state.
func (r *Registry) Transition(s *Session, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.State = state
}

// Release removes the session from the registry and deletes its
// artifact. It is safe to call more than once; only the registered
// session instance is removed.
func (r *Registry) Release(s *Session) {
	r.mu.Lock()
	k := key{guildID: s.GuildID, userID: s.UserID}
	if cur, ok := r.open[k]; ok && cur.ID == s.ID {
		delete(r.open, k)
	}
	r.mu.Unlock()

	if err := os.Remove(s.ArtifactPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("artifact cleanup failed", "session", s.ID, "path", s.ArtifactPath, "err", err)
	}
}

// OpenCount reports the number of currently open sessions.
func (r *Registry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// StartJanitor expires sessions that exceed the maximum lifetime,
// releasing their artifacts. A stuck external process is the only way a
// session gets here; the per-stage timeouts normally end it first.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireStuck()
			}
		}
	}()
}

func (r *Registry) expireStuck() {
	now := time.Now().UTC()
	var expired []*Session

	r.mu.Lock()
	for k, s := range r.open {
		if now.Sub(s.StartedAt) < r.maxLifetime {
			continue
		}
		s.State = StateFailed
		delete(r.open, k)
		expired = append(expired, s)
	}
	r.mu.Unlock()

	for _, s := range expired {
		r.logger.Warn("session expired past max lifetime", "session", s.ID, "guild", s.GuildID, "user", s.UserID)
		if err := os.Remove(s.ArtifactPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("artifact cleanup failed", "session", s.ID, "path", s.ArtifactPath, "err", err)
		}
	}
}

func (r *Registry) sweepStaleArtifacts() {
	entries, err := os.ReadDir(r.tmpDir)
	if err != nil {
		r.logger.Warn("artifact sweep failed", "dir", r.tmpDir, "err", err)
		return
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), artifactPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(r.tmpDir, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("swept stale artifacts", "dir", r.tmpDir, "count", removed)
	}
}
