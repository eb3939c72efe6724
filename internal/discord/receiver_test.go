package discord

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

type acceptedStream struct {
	frames <-chan []byte
	done   chan struct{}
}

type fakeSpeakingHandler struct {
	mu      sync.Mutex
	calls   int
	reject  bool
	streams []*acceptedStream
}

func (h *fakeSpeakingHandler) HandleSpeaking(_ context.Context, _, _ string, frames <-chan []byte) (<-chan struct{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.reject {
		return nil, false
	}
	st := &acceptedStream{frames: frames, done: make(chan struct{})}
	h.streams = append(h.streams, st)
	return st.done, true
}

func (h *fakeSpeakingHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type fakeDecoder struct{}

func (fakeDecoder) Decode(_ []byte, _ int, _ bool) ([]int16, error) {
	return []int16{1, 2, 3, 4}, nil
}

func newTestReceiver(t *testing.T, h SpeakingHandler) *Receiver {
	t.Helper()
	vc := &discordgo.VoiceConnection{GuildID: "g1"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewReceiver(vc, h, "bot", nil, 1200*time.Millisecond, logger)
	r.newDecoder = func() (pcmDecoder, error) { return fakeDecoder{}, nil }
	r.users[1] = "u1"
	return r
}

func recvFrame(t *testing.T, frames <-chan []byte) []byte {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(time.Second):
		t.Fatalf("no frame delivered")
		return nil
	}
}

func TestFirstFrameOpensSession(t *testing.T) {
	h := &fakeSpeakingHandler{}
	r := newTestReceiver(t, h)

	r.handlePacket(context.Background(), &discordgo.Packet{SSRC: 1, Opus: []byte{0x01}})

	if h.callCount() != 1 {
		t.Fatalf("handler calls = %d, want 1", h.callCount())
	}
	if got := recvFrame(t, h.streams[0].frames); len(got) != 8 {
		t.Fatalf("frame len = %d, want 8 (4 samples PCM16LE)", len(got))
	}
}

func TestResumeAfterFinalizedCaptureOpensNewSession(t *testing.T) {
	h := &fakeSpeakingHandler{}
	r := newTestReceiver(t, h)
	p := &discordgo.Packet{SSRC: 1, Opus: []byte{0x01}}

	r.handlePacket(context.Background(), p)
	first := h.streams[0]
	recvFrame(t, first.frames)

	// The capture stopped reading; the next frame must not land in the
	// retired stream.
	close(first.done)
	r.handlePacket(context.Background(), p)

	if h.callCount() != 2 {
		t.Fatalf("handler calls = %d, want 2 (resume opens a new session)", h.callCount())
	}
	second := h.streams[1]
	recvFrame(t, second.frames)

	if _, open := <-first.frames; open {
		t.Fatalf("retired stream's channel should be closed")
	}
}

func TestFramesRetryWhileSessionStillProcessing(t *testing.T) {
	h := &fakeSpeakingHandler{}
	r := newTestReceiver(t, h)
	p := &discordgo.Packet{SSRC: 1, Opus: []byte{0x01}}

	r.handlePacket(context.Background(), p)
	close(h.streams[0].done)

	// Prior session still open downstream: frames are dropped, but every
	// frame retries so the next utterance starts as soon as it releases.
	h.mu.Lock()
	h.reject = true
	h.mu.Unlock()
	r.handlePacket(context.Background(), p)
	if h.callCount() != 2 {
		t.Fatalf("handler calls = %d, want 2", h.callCount())
	}
	if len(h.streams) != 1 {
		t.Fatalf("rejected frame must not create a stream")
	}

	h.mu.Lock()
	h.reject = false
	h.mu.Unlock()
	r.handlePacket(context.Background(), p)
	if h.callCount() != 3 {
		t.Fatalf("handler calls = %d, want 3", h.callCount())
	}
	recvFrame(t, h.streams[1].frames)
}

func TestDecoderCreatedOnlyForAcceptedSessions(t *testing.T) {
	h := &fakeSpeakingHandler{reject: true}
	r := newTestReceiver(t, h)
	decoders := 0
	r.newDecoder = func() (pcmDecoder, error) {
		decoders++
		return fakeDecoder{}, nil
	}
	p := &discordgo.Packet{SSRC: 1, Opus: []byte{0x01}}

	r.handlePacket(context.Background(), p)
	r.handlePacket(context.Background(), p)

	if h.callCount() != 2 {
		t.Fatalf("handler calls = %d, want 2", h.callCount())
	}
	if decoders != 0 {
		t.Fatalf("decoders built = %d, want 0 for rejected sessions", decoders)
	}
}

func TestSweepReleasesFinalizedIdleStream(t *testing.T) {
	h := &fakeSpeakingHandler{}
	r := newTestReceiver(t, h)

	r.handlePacket(context.Background(), &discordgo.Packet{SSRC: 1, Opus: []byte{0x01}})
	close(h.streams[0].done)

	r.releaseFinished()

	r.mu.Lock()
	remaining := len(r.streams)
	r.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("streams remaining = %d, want 0", remaining)
	}
	recvFrame(t, h.streams[0].frames) // buffered frame
	if _, open := <-h.streams[0].frames; open {
		t.Fatalf("swept stream's channel should be closed")
	}
}

func TestOwnAndDeafenedSpeakersExcluded(t *testing.T) {
	h := &fakeSpeakingHandler{}
	r := newTestReceiver(t, h)
	r.users[2] = "bot"
	r.deafened = func(_, userID string) bool { return userID == "u1" }

	r.handlePacket(context.Background(), &discordgo.Packet{SSRC: 2, Opus: []byte{0x01}})
	r.handlePacket(context.Background(), &discordgo.Packet{SSRC: 1, Opus: []byte{0x01}})

	if h.callCount() != 0 {
		t.Fatalf("handler calls = %d, want 0 for excluded speakers", h.callCount())
	}
}
