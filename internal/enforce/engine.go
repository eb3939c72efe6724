// Package enforce applies and automatically reverses time-limited
// communication restrictions.
package enforce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raghavperera/Agnello-mod/internal/observability"
	"github.com/raghavperera/Agnello-mod/internal/opsfeed"
)

var (
	// ErrRoleMissing means the restriction role does not exist in the guild.
	ErrRoleMissing = errors.New("restriction role not found in guild")
	// ErrInsufficientAuthority means the bot's highest role does not rank
	// strictly above the restriction role.
	ErrInsufficientAuthority = errors.New("bot role ranks at or below restriction role")
)

// Member is a guild member's role membership at fetch time.
type Member struct {
	UserID  string
	RoleIDs []string
}

func (m Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Role is a guild role with its hierarchy position.
type Role struct {
	ID       string
	Name     string
	Position int
}

// Directory is the guild membership/role surface the engine mutates.
type Directory interface {
	Member(ctx context.Context, guildID, userID string) (Member, error)
	BotMember(ctx context.Context, guildID string) (Member, error)
	Roles(ctx context.Context, guildID string) ([]Role, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	Notify(ctx context.Context, userID, message string) error
}

// RestrictionRecord describes one active restriction and its scheduled
// reversal. Records are inspectable rather than captured in closures.
type RestrictionRecord struct {
	GuildID     string
	UserID      string
	Term        string
	ActivatedAt time.Time
	ReverseAt   time.Time
}

type activeRestriction struct {
	rec   RestrictionRecord
	timer *time.Timer
}

type recordKey struct {
	guildID string
	userID  string
}

// Engine drives the restriction state machine per (guild, user). The
// activation is idempotent at the role-mutation level; exactly one
// reversal timer exists per active restriction.
type Engine struct {
	dir      Directory
	roleID   string
	duration time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
	feed     *opsfeed.Feed

	mu     sync.Mutex
	active map[recordKey]*activeRestriction
	closed bool
}

func New(dir Directory, roleID string, duration time.Duration, logger *slog.Logger, metrics *observability.Metrics, feed *opsfeed.Feed) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		dir:      dir,
		roleID:   roleID,
		duration: duration,
		logger:   logger,
		metrics:  metrics,
		feed:     feed,
		active:   make(map[recordKey]*activeRestriction),
	}
}

// Enforce restricts the user for the configured duration. Preconditions
// failing abort the activation with the user left untouched. A repeat
// activation while a reversal is pending mutates nothing and schedules
// no second timer, but still attempts the notification.
func (e *Engine) Enforce(ctx context.Context, guildID, userID, term string) error {
	log := e.logger.With("guild", guildID, "user", userID, "term", term)

	roles, err := e.dir.Roles(ctx, guildID)
	if err != nil {
		log.Warn("enforcement aborted", "err", err)
		e.metrics.Enforcements.WithLabelValues("aborted").Inc()
		return fmt.Errorf("enforce: roles fetch: %w", err)
	}
	rolePos, found := rolePosition(roles, e.roleID)
	if !found {
		log.Warn("enforcement aborted", "err", ErrRoleMissing)
		e.metrics.Enforcements.WithLabelValues("aborted").Inc()
		return ErrRoleMissing
	}
	bot, err := e.dir.BotMember(ctx, guildID)
	if err != nil {
		log.Warn("enforcement aborted", "err", err)
		e.metrics.Enforcements.WithLabelValues("aborted").Inc()
		return fmt.Errorf("enforce: bot member fetch: %w", err)
	}
	if highestPosition(roles, bot) <= rolePos {
		log.Warn("enforcement aborted", "err", ErrInsufficientAuthority)
		e.metrics.Enforcements.WithLabelValues("aborted").Inc()
		return ErrInsufficientAuthority
	}

	member, err := e.dir.Member(ctx, guildID, userID)
	if err != nil {
		log.Warn("enforcement aborted", "err", err)
		e.metrics.Enforcements.WithLabelValues("aborted").Inc()
		return fmt.Errorf("enforce: member fetch: %w", err)
	}

	now := time.Now().UTC()
	rec := RestrictionRecord{
		GuildID:     guildID,
		UserID:      userID,
		Term:        term,
		ActivatedAt: now,
		ReverseAt:   now.Add(e.duration),
	}

	k := recordKey{guildID: guildID, userID: userID}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("enforce: engine closed")
	}
	_, pending := e.active[k]
	var ar *activeRestriction
	if !pending {
		ar = &activeRestriction{rec: rec}
		e.active[k] = ar
	}
	e.mu.Unlock()

	if pending {
		// The original activation's timer governs reversal.
		log.Info("duplicate activation; restriction already pending")
		e.metrics.Enforcements.WithLabelValues("duplicate").Inc()
		e.publish(opsfeed.Event{Type: opsfeed.EventRestrictionDup, GuildID: guildID, UserID: userID, Term: term})
		e.notify(ctx, log, userID, term)
		return nil
	}

	if !member.HasRole(e.roleID) {
		if err := e.dir.AddRole(ctx, guildID, userID, e.roleID); err != nil {
			e.dropRecord(k, ar)
			log.Warn("role assignment failed", "err", err)
			e.metrics.Enforcements.WithLabelValues("aborted").Inc()
			return fmt.Errorf("enforce: add role: %w", err)
		}
		log.Info("restriction applied", "until", rec.ReverseAt)
	} else {
		log.Info("user already carries restriction role; tracking reversal only")
	}
	e.metrics.Enforcements.WithLabelValues("restricted").Inc()
	e.publish(opsfeed.Event{Type: opsfeed.EventRestricted, GuildID: guildID, UserID: userID, Term: term})

	e.notify(ctx, log, userID, term)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	ar.timer = time.AfterFunc(e.duration, func() { e.reverse(k, ar) })
	e.mu.Unlock()
	return nil
}

// Records returns the currently active restrictions.
func (e *Engine) Records() []RestrictionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]RestrictionRecord, 0, len(e.active))
	for _, ar := range e.active {
		out = append(out, ar.rec)
	}
	return out
}

// Close stops all pending reversal timers. Restrictions already applied
// stay in place; a restarted process will not recover them.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for k, ar := range e.active {
		if ar.timer != nil {
			ar.timer.Stop()
		}
		delete(e.active, k)
	}
}

func (e *Engine) reverse(k recordKey, ar *activeRestriction) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	defer e.dropRecord(k, ar)

	log := e.logger.With("guild", ar.rec.GuildID, "user", ar.rec.UserID)

	member, err := e.dir.Member(ctx, ar.rec.GuildID, ar.rec.UserID)
	if err != nil {
		// Likely the user left the guild; drop without retry.
		log.Warn("reversal skipped, membership refresh failed", "err", err)
		e.metrics.Enforcements.WithLabelValues("reverse_failed").Inc()
		return
	}
	if !member.HasRole(e.roleID) {
		log.Info("reversal skipped, role already absent")
		return
	}
	if err := e.dir.RemoveRole(ctx, ar.rec.GuildID, ar.rec.UserID, e.roleID); err != nil {
		log.Warn("role removal failed", "err", err)
		e.metrics.Enforcements.WithLabelValues("reverse_failed").Inc()
		return
	}
	log.Info("restriction reversed")
	e.metrics.Enforcements.WithLabelValues("reversed").Inc()
	e.publish(opsfeed.Event{Type: opsfeed.EventReversed, GuildID: ar.rec.GuildID, UserID: ar.rec.UserID, Term: ar.rec.Term})
}

func (e *Engine) notify(ctx context.Context, log *slog.Logger, userID, term string) {
	msg := fmt.Sprintf("You have been muted for saying %q in voice chat. You will be unmuted in %s.", term, e.duration)
	if err := e.dir.Notify(ctx, userID, msg); err != nil {
		// Best effort: DMs may be disabled. Never blocks the restriction.
		log.Info("notification not delivered", "err", err)
		return
	}
	log.Info("notification delivered")
}

func rolePosition(roles []Role, roleID string) (int, bool) {
	for _, r := range roles {
		if r.ID == roleID {
			return r.Position, true
		}
	}
	return 0, false
}

func highestPosition(roles []Role, m Member) int {
	pos := make(map[string]int, len(roles))
	for _, r := range roles {
		pos[r.ID] = r.Position
	}
	highest := 0
	for _, id := range m.RoleIDs {
		if p, ok := pos[id]; ok && p > highest {
			highest = p
		}
	}
	return highest
}

func (e *Engine) dropRecord(k recordKey, ar *activeRestriction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.active[k]; ok && cur == ar {
		delete(e.active, k)
	}
}

func (e *Engine) publish(ev opsfeed.Event) {
	if e.feed != nil {
		e.feed.Publish(ev)
	}
}
