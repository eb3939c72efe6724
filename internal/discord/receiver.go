package discord

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"layeh.com/gopus"

	"github.com/raghavperera/Agnello-mod/internal/audio"
)

const (
	opusFrameSize = 960 // samples per channel at 48kHz (20ms)
	frameBuffer   = 64
)

// SpeakingHandler starts a pipeline for one utterance. ok reports
// whether a session was opened for the frames channel; when it was,
// done is closed once the capture stops reading frames.
type SpeakingHandler interface {
	HandleSpeaking(ctx context.Context, guildID, userID string, frames <-chan []byte) (done <-chan struct{}, ok bool)
}

// pcmDecoder is the opus decode surface, satisfied by *gopus.Decoder.
type pcmDecoder interface {
	Decode(data []byte, frameSize int, fec bool) ([]int16, error)
}

type speakerStream struct {
	frames  chan []byte
	decoder pcmDecoder
	done    <-chan struct{}
}

// Receiver demultiplexes the shared voice stream into per-speaker PCM
// frame channels and synthesizes "speaking started" on the first frame
// from an idle speaker. A demux entry lives exactly as long as its
// capture reads frames; the done signal from the handler releases it.
type Receiver struct {
	vc      *discordgo.VoiceConnection
	handler SpeakingHandler
	selfID  string
	// deafened reports whether a speaker is self-deafened; those
	// speakers are excluded from capture.
	deafened func(guildID, userID string) bool
	silence  time.Duration
	logger   *slog.Logger

	newDecoder func() (pcmDecoder, error)

	mu      sync.Mutex
	users   map[uint32]string // SSRC -> user ID
	streams map[string]*speakerStream
}

func NewReceiver(vc *discordgo.VoiceConnection, handler SpeakingHandler, selfID string, deafened func(guildID, userID string) bool, silence time.Duration, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	if silence <= 0 {
		silence = 1200 * time.Millisecond
	}
	if deafened == nil {
		deafened = func(string, string) bool { return false }
	}
	return &Receiver{
		vc:       vc,
		handler:  handler,
		selfID:   selfID,
		deafened: deafened,
		silence:  silence,
		logger:   logger,
		newDecoder: func() (pcmDecoder, error) {
			return gopus.NewDecoder(audio.SourceSampleRate, audio.SourceChannels)
		},
		users:   make(map[uint32]string),
		streams: make(map[string]*speakerStream),
	}
}

// Run consumes voice packets until the context is canceled or the
// connection's receive channel closes.
func (r *Receiver) Run(ctx context.Context) {
	r.vc.AddHandler(func(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
		r.mu.Lock()
		r.users[uint32(vs.SSRC)] = vs.UserID
		r.mu.Unlock()
	})

	sweeper := time.NewTicker(r.silence / 2)
	defer sweeper.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-sweeper.C:
			r.releaseFinished()
		case p, ok := <-r.vc.OpusRecv:
			if !ok {
				r.closeAll()
				return
			}
			r.handlePacket(ctx, p)
		}
	}
}

func (r *Receiver) handlePacket(ctx context.Context, p *discordgo.Packet) {
	r.mu.Lock()
	userID, known := r.users[p.SSRC]
	r.mu.Unlock()
	if !known || userID == "" {
		return
	}
	// The bot's own playback is excluded by identity, not capability.
	if userID == r.selfID {
		return
	}

	st := r.stream(ctx, userID)
	if st == nil {
		return
	}
	select {
	case <-st.done:
		// The capture finalized; this frame starts the next utterance.
		r.release(userID, st)
		if st = r.stream(ctx, userID); st == nil {
			return
		}
	default:
	}

	pcm, err := st.decoder.Decode(p.Opus, opusFrameSize, false)
	if err != nil {
		r.logger.Debug("opus decode failed", "user", userID, "err", err)
		return
	}

	frame := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(s))
	}

	// Send under the lock so a concurrent release cannot close the
	// channel between the liveness check and the send.
	r.mu.Lock()
	if cur := r.streams[userID]; cur == st {
		select {
		case st.frames <- frame:
		default:
			// Capture is stalled; dropping the frame keeps receive moving.
			r.logger.Debug("frame dropped", "user", userID)
		}
	}
	r.mu.Unlock()
}

// stream returns the speaker's active stream, opening a session for a
// speaker going from idle to speaking. Nil means the frames should be
// discarded (prior session still processing, or speaker excluded).
func (r *Receiver) stream(ctx context.Context, userID string) *speakerStream {
	r.mu.Lock()
	if st, ok := r.streams[userID]; ok {
		r.mu.Unlock()
		return st
	}
	r.mu.Unlock()

	if r.deafened(r.vc.GuildID, userID) {
		return nil
	}

	frames := make(chan []byte, frameBuffer)
	done, ok := r.handler.HandleSpeaking(ctx, r.vc.GuildID, userID, frames)
	if !ok {
		// A session is still open for this speaker; drop frames until
		// it releases.
		close(frames)
		return nil
	}

	dec, err := r.newDecoder()
	if err != nil {
		r.logger.Warn("opus decoder init failed", "user", userID, "err", err)
		close(frames)
		return nil
	}

	st := &speakerStream{frames: frames, decoder: dec, done: done}
	r.mu.Lock()
	r.streams[userID] = st
	r.mu.Unlock()
	return st
}

func (r *Receiver) release(userID string, st *speakerStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur := r.streams[userID]; cur == st {
		close(st.frames)
		delete(r.streams, userID)
	}
}

// releaseFinished drops demux entries whose capture has finalized, so a
// speaker who stays quiet does not hold a dead entry.
func (r *Receiver) releaseFinished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, st := range r.streams {
		select {
		case <-st.done:
			close(st.frames)
			delete(r.streams, userID)
		default:
		}
	}
}

func (r *Receiver) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, st := range r.streams {
		close(st.frames)
		delete(r.streams, userID)
	}
}
