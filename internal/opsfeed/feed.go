// Package opsfeed broadcasts pipeline events to operational subscribers.
package opsfeed

import (
	"sync"
	"time"
)

const (
	EventSessionOpened  = "session_opened"
	EventSessionClosed  = "session_closed"
	EventTranscript     = "transcript"
	EventMatch          = "match"
	EventRestricted     = "restricted"
	EventRestrictionDup = "restriction_duplicate"
	EventReversed       = "reversed"
)

// Event is a single pipeline occurrence. Transcript content is never
// carried here, only its length.
type Event struct {
	Type          string    `json:"type"`
	GuildID       string    `json:"guild_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	Term          string    `json:"term,omitempty"`
	Outcome       string    `json:"outcome,omitempty"`
	TranscriptLen int       `json:"transcript_len,omitempty"`
	At            time.Time `json:"at"`
}

// Feed fans events out to subscribers. Publishing never blocks: events
// to a subscriber whose buffer is full are dropped.
type Feed struct {
	mu   sync.Mutex
	subs map[uint64]chan Event
	next uint64
}

func New() *Feed {
	return &Feed{subs: make(map[uint64]chan Event)}
}

// Subscribe returns a receive channel and a cancel function. The
// channel is closed when the subscription is canceled.
func (f *Feed) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// Publish stamps and fans out the event.
func (f *Feed) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers are attached.
func (f *Feed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
