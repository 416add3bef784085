// Package wsource ingests microphone audio over websockets and sends
// synthesised speech back to connected clients.
//
// A [Hub] is a long-lived [audio.Source] and [audio.Sink]. Clients attach with
// [Hub.Serve]; inbound frames from the most recently attached client are
// decoded, converted to the pipeline format and re-sequenced onto a single
// frame stream, so the pipeline sees one continuous microphone regardless of
// reconnects.
package wsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxcal/pkg/audio"
)

// ErrHubClosed is returned by [Hub.Serve] after the hub has been closed.
var ErrHubClosed = errors.New("wsource: hub closed")

// Hub multiplexes websocket audio clients onto one frame stream.
type Hub struct {
	frames chan audio.Frame
	done   chan struct{}
	once   sync.Once

	writeTimeout time.Duration

	mu      sync.Mutex
	seq     uint64
	active  *client
	clients map[*client]struct{}
	dropped uint64
}

type client struct {
	conn   *websocket.Conn
	format StreamFormat
	wmu    sync.Mutex
}

var (
	_ audio.Source = (*Hub)(nil)
	_ audio.Sink   = (*Hub)(nil)
)

// Option configures a [Hub].
type Option func(*Hub)

// WithBuffer sets the capacity of the frame channel. Frames arriving while
// the buffer is full are dropped.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.frames = make(chan audio.Frame, n)
		}
	}
}

// WithWriteTimeout bounds each outbound websocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) { h.writeTimeout = d }
}

// NewHub creates an idle hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		frames:       make(chan audio.Frame, 64),
		done:         make(chan struct{}),
		writeTimeout: 2 * time.Second,
		clients:      make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Frames implements [audio.Source].
func (h *Hub) Frames() <-chan audio.Frame { return h.frames }

// Close implements [audio.Source]. Attached clients are disconnected and the
// frame channel is closed once no client is feeding it.
func (h *Hub) Close() error {
	h.once.Do(func() {
		close(h.done)
		h.mu.Lock()
		for c := range h.clients {
			c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		h.active = nil
		close(h.frames)
		h.mu.Unlock()
	})
	return nil
}

// Dropped returns the number of inbound frames discarded because the buffer
// was full or the message was malformed.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Serve attaches conn as the active microphone and pumps its messages into
// the hub until the connection closes, ctx is cancelled or the hub is closed.
// A newer Serve call takes over as the active microphone; the older client
// keeps receiving outbound audio.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, format StreamFormat) error {
	dec, err := newDecoder(format)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "decoder unavailable")
		return err
	}

	c := &client{conn: conn, format: format}
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return ErrHubClosed
	default:
	}
	h.clients[c] = struct{}{}
	h.active = c
	h.mu.Unlock()

	slog.Info("audio client attached", "codec", format.Codec, "sampleRate", format.SampleRate, "channels", format.Channels)
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		if h.active == c {
			h.active = nil
		}
		h.mu.Unlock()
		slog.Info("audio client detached")
	}()

	conv := &audio.FormatConverter{Target: audio.PipelineFormat}
	var ts time.Duration
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wsource: read: %w", err)
		}
		if typ != websocket.MessageBinary {
			continue
		}

		pcm, err := dec.decode(msg)
		if err != nil {
			slog.Debug("audio client sent undecodable message", "err", err)
			h.countDrop()
			continue
		}

		f := conv.Convert(audio.Frame{
			Data:       pcm,
			SampleRate: format.SampleRate,
			Channels:   format.Channels,
			Timestamp:  ts,
		})
		if len(f.Data) == 0 {
			h.countDrop()
			continue
		}
		ts += f.Duration()
		h.publish(c, f)
	}
}

// publish assigns the next hub-wide sequence number and enqueues f if c is
// still the active microphone.
func (h *Hub) publish(c *client, f audio.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != c {
		return
	}
	select {
	case <-h.done:
		return
	default:
	}
	h.seq++
	f.Seq = h.seq
	select {
	case h.frames <- f:
	default:
		h.dropped++
	}
}

func (h *Hub) countDrop() {
	h.mu.Lock()
	h.dropped++
	h.mu.Unlock()
}

// WriteFrame implements [audio.Sink] by sending f as a binary PCM message to
// every attached client. Clients that fail the write are disconnected.
func (h *Hub) WriteFrame(ctx context.Context, f audio.Frame) error {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.write(ctx, f.Data, h.writeTimeout); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("audio client write failed, disconnecting", "err", err)
			c.conn.Close(websocket.StatusInternalError, "write failed")
		}
	}
	return nil
}

func (c *client) write(ctx context.Context, data []byte, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.Write(ctx, websocket.MessageBinary, data)
}

// Clients returns the number of attached clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
