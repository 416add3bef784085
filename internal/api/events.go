package api

import (
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxcal/internal/pipeline"
)

// Message types sent on the event stream.
const (
	TypeState      = "state"
	TypeTransition = "transition"
	TypeReply      = "reply"
)

// Message is one entry of the /v1/events stream.
type Message struct {
	Type  string          `json:"type"`
	State *StateResponse  `json:"state,omitempty"`
	Event *pipeline.Event `json:"event,omitempty"`
	Reply *pipeline.Reply `json:"reply,omitempty"`
}

// Broadcaster fans pipeline events and replies out to subscribers. It is a
// [pipeline.EventSink] and its Reply method is a [pipeline.ReplyHandler];
// neither blocks. A subscriber that falls behind loses messages.
type Broadcaster struct {
	buffer int

	mu     sync.Mutex
	subs   map[chan Message]struct{}
	closed bool

	dropped atomic.Uint64
}

var _ pipeline.EventSink = (*Broadcaster)(nil)

// NewBroadcaster returns a broadcaster whose subscribers queue up to buffer
// messages.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{buffer: buffer, subs: make(map[chan Message]struct{})}
}

// Emit implements [pipeline.EventSink].
func (b *Broadcaster) Emit(e pipeline.Event) {
	b.publish(Message{Type: TypeTransition, Event: &e})
}

// Reply forwards a spoken or displayed reply to subscribers.
func (b *Broadcaster) Reply(r pipeline.Reply) {
	b.publish(Message{Type: TypeReply, Reply: &r})
}

func (b *Broadcaster) publish(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- m:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a new subscriber. The channel is closed by cancel or
// by [Broadcaster.Close]. After Close, Subscribe returns a closed channel.
func (b *Broadcaster) Subscribe() (msgs <-chan Message, cancel func()) {
	ch := make(chan Message, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many messages were discarded for slow subscribers.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
