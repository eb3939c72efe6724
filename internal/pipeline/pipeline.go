// Package pipeline runs one capture → normalize → transcribe → match →
// enforce sequence per speaker utterance.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/raghavperera/Agnello-mod/internal/capture"
	"github.com/raghavperera/Agnello-mod/internal/observability"
	"github.com/raghavperera/Agnello-mod/internal/opsfeed"
	"github.com/raghavperera/Agnello-mod/internal/session"
	"github.com/raghavperera/Agnello-mod/internal/wordlist"
)

// Normalizer converts raw PCM read from r into an artifact at outPath.
type Normalizer interface {
	Normalize(ctx context.Context, r io.Reader, outPath string) error
}

// Transcriber turns a finished artifact into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, artifactPath string) (string, error)
}

// Enforcer applies a restriction for a matched term.
type Enforcer interface {
	Enforce(ctx context.Context, guildID, userID, term string) error
}

// Pipeline owns the per-speaker moderation flow. Each utterance runs in
// its own goroutine; speakers never block each other.
type Pipeline struct {
	registry    *session.Registry
	capturer    *capture.Capturer
	normalizer  Normalizer
	transcriber Transcriber
	words       *wordlist.List
	enforcer    Enforcer
	metrics     *observability.Metrics
	feed        *opsfeed.Feed
	logger      *slog.Logger

	wg sync.WaitGroup
}

func New(
	registry *session.Registry,
	capturer *capture.Capturer,
	normalizer Normalizer,
	transcriber Transcriber,
	words *wordlist.List,
	enforcer Enforcer,
	metrics *observability.Metrics,
	feed *opsfeed.Feed,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry:    registry,
		capturer:    capturer,
		normalizer:  normalizer,
		transcriber: transcriber,
		words:       words,
		enforcer:    enforcer,
		metrics:     metrics,
		feed:        feed,
		logger:      logger,
	}
}

// HandleSpeaking starts a pipeline instance for one utterance. ok
// reports whether a session was opened; a speaker with an open session
// is ignored. The done channel is closed when the capture stops
// reading frames, so the caller can retire its end of the stream.
func (p *Pipeline) HandleSpeaking(ctx context.Context, guildID, userID string, frames <-chan []byte) (done <-chan struct{}, ok bool) {
	s, err := p.registry.Open(guildID, userID)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyOpen) {
			p.metrics.Sessions.WithLabelValues("ignored").Inc()
			return nil, false
		}
		p.logger.Warn("session open failed", "guild", guildID, "user", userID, "err", err)
		return nil, false
	}

	p.metrics.ActiveSessions.Set(float64(p.registry.OpenCount()))
	p.feed.Publish(opsfeed.Event{Type: opsfeed.EventSessionOpened, GuildID: guildID, UserID: userID, SessionID: s.ID})

	captureDone := make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx, s, frames, captureDone)
	}()
	return captureDone, true
}

// Wait blocks until all in-flight sessions complete.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) run(ctx context.Context, s *session.Session, frames <-chan []byte, captureDone chan<- struct{}) {
	log := p.logger.With("guild", s.GuildID, "user", s.UserID, "session", s.ID)
	outcome := "failed"
	defer func() {
		p.registry.Release(s)
		p.metrics.ActiveSessions.Set(float64(p.registry.OpenCount()))
		p.metrics.Sessions.WithLabelValues(outcome).Inc()
		p.feed.Publish(opsfeed.Event{Type: opsfeed.EventSessionClosed, GuildID: s.GuildID, UserID: s.UserID, SessionID: s.ID, Outcome: outcome})
	}()

	pr, pw := io.Pipe()
	capErr := make(chan error, 1)
	go func() {
		_, err := p.capturer.Run(ctx, frames, pw)
		// Signals the frame source that this session reads no more frames.
		close(captureDone)
		p.registry.Transition(s, session.StateFinalizing)
		capErr <- err
	}()

	start := time.Now()
	normErr := p.normalizer.Normalize(ctx, pr, s.ArtifactPath)
	p.metrics.ObserveNormalize(time.Since(start))
	// Unblock the capture goroutine if the normalizer stopped reading early.
	_ = pr.Close()
	if err := <-capErr; err != nil && !errors.Is(err, io.ErrClosedPipe) {
		log.Warn("capture ended with error", "err", err)
	}

	if normErr != nil {
		p.registry.Transition(s, session.StateFailed)
		log.Warn("normalization failed", "started", s.StartedAt, "err", normErr)
		return
	}
	p.registry.Transition(s, session.StateDone)

	start = time.Now()
	text, err := p.transcriber.Transcribe(ctx, s.ArtifactPath)
	p.metrics.ObserveWhisper(time.Since(start))
	if err != nil {
		p.registry.Transition(s, session.StateFailed)
		p.metrics.Transcriptions.WithLabelValues("failed").Inc()
		log.Warn("transcription failed", "started", s.StartedAt, "err", err)
		return
	}
	p.metrics.Transcriptions.WithLabelValues("ok").Inc()

	text = strings.TrimSpace(text)
	if text == "" {
		outcome = "no_speech"
		return
	}
	p.feed.Publish(opsfeed.Event{Type: opsfeed.EventTranscript, GuildID: s.GuildID, UserID: s.UserID, SessionID: s.ID, TranscriptLen: len(text)})
	log.Debug("transcript produced", "len", len(text))

	outcome = "done"
	term, ok := p.words.Match(text)
	if !ok {
		return
	}
	p.metrics.Matches.WithLabelValues(term).Inc()
	p.feed.Publish(opsfeed.Event{Type: opsfeed.EventMatch, GuildID: s.GuildID, UserID: s.UserID, SessionID: s.ID, Term: term})
	log.Info("banned term matched", "term", term)

	if err := p.enforcer.Enforce(ctx, s.GuildID, s.UserID, term); err != nil {
		// Enforcement failures are session-local; the engine already
		// logged the cause.
		log.Warn("enforcement did not complete", "err", err)
	}
}
