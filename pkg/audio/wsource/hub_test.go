package wsource_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/MrWong99/voxcal/pkg/audio"
	"github.com/MrWong99/voxcal/pkg/audio/wsource"
)

func newTestServer(t *testing.T, hub *wsource.Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		format, err := wsource.ParseStreamFormat(r.URL.Query().Get)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = hub.Serve(r.Context(), conn, format)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func waitClients(t *testing.T, hub *wsource.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func recvFrame(t *testing.T, hub *wsource.Hub) audio.Frame {
	t.Helper()
	select {
	case f := <-hub.Frames():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return audio.Frame{}
	}
}

func TestHub_PCMIngest(t *testing.T) {
	hub := wsource.NewHub()
	defer hub.Close()
	srv := newTestServer(t, hub)
	conn := dial(t, srv, "codec=pcm&rate=16000&channels=1")

	ctx := context.Background()
	for range 2 {
		if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 640)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	f1 := recvFrame(t, hub)
	f2 := recvFrame(t, hub)
	if f1.Seq != 1 || f2.Seq != 2 {
		t.Errorf("seqs = %d,%d, want 1,2", f1.Seq, f2.Seq)
	}
	if f1.SampleRate != 16000 || f1.Channels != 1 || f1.Duration() != 20*time.Millisecond {
		t.Errorf("unexpected frame format: %dHz %dch %v", f1.SampleRate, f1.Channels, f1.Duration())
	}
	if f2.Timestamp != 20*time.Millisecond {
		t.Errorf("second timestamp = %v, want 20ms", f2.Timestamp)
	}
}

func TestHub_ConvertsStereo48k(t *testing.T) {
	hub := wsource.NewHub()
	defer hub.Close()
	srv := newTestServer(t, hub)
	conn := dial(t, srv, "codec=pcm&rate=48000&channels=2")

	// 20 ms of 48 kHz stereo.
	if err := conn.Write(context.Background(), websocket.MessageBinary, make([]byte, 960*2*2)); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := recvFrame(t, hub)
	if f.SampleRate != 16000 || f.Channels != 1 || f.Samples() != 320 {
		t.Errorf("frame = %dHz %dch %d samples, want 16000Hz mono 320", f.SampleRate, f.Channels, f.Samples())
	}
}

func TestHub_OpusIngest(t *testing.T) {
	hub := wsource.NewHub()
	defer hub.Close()
	srv := newTestServer(t, hub)
	conn := dial(t, srv, "codec=opus&channels=1")

	enc, err := gopus.NewEncoder(48000, 1, gopus.Voip)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	packet, err := enc.Encode(make([]int16, 960), 960, 4000)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := conn.Write(context.Background(), websocket.MessageBinary, packet); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := recvFrame(t, hub)
	if f.Samples() != 320 {
		t.Errorf("samples = %d, want 320", f.Samples())
	}
}

func TestHub_IgnoresTextAndOddFrames(t *testing.T) {
	hub := wsource.NewHub()
	defer hub.Close()
	srv := newTestServer(t, hub)
	conn := dial(t, srv, "")

	ctx := context.Background()
	_ = conn.Write(ctx, websocket.MessageText, []byte(`{"hello":true}`))
	_ = conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3})
	_ = conn.Write(ctx, websocket.MessageBinary, make([]byte, 320))

	f := recvFrame(t, hub)
	if f.Seq != 1 || len(f.Data) != 320 {
		t.Errorf("got seq=%d len=%d, want the valid frame as seq 1", f.Seq, len(f.Data))
	}
	if hub.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", hub.Dropped())
	}
}

func TestHub_WriteFrameBroadcasts(t *testing.T) {
	hub := wsource.NewHub()
	defer hub.Close()
	srv := newTestServer(t, hub)
	a := dial(t, srv, "")
	b := dial(t, srv, "")
	waitClients(t, hub, 2)

	payload := []byte{9, 8, 7, 6}
	if err := hub.WriteFrame(context.Background(), audio.Frame{Data: payload, SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	for _, c := range []*websocket.Conn{a, b} {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		typ, msg, err := c.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if typ != websocket.MessageBinary || string(msg) != string(payload) {
			t.Errorf("got %v %v, want binary %v", typ, msg, payload)
		}
	}
}

func TestHub_CloseEndsFrames(t *testing.T) {
	hub := wsource.NewHub()
	hub.Close()
	if _, ok := <-hub.Frames(); ok {
		t.Error("expected closed frame channel")
	}
	if err := hub.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestParseStreamFormat(t *testing.T) {
	tests := []struct {
		name    string
		q       map[string]string
		want    wsource.StreamFormat
		wantErr bool
	}{
		{name: "defaults", q: nil, want: wsource.DefaultStreamFormat},
		{name: "opus forces 48k", q: map[string]string{"codec": "opus", "rate": "16000", "channels": "2"},
			want: wsource.StreamFormat{Codec: wsource.CodecOpus, SampleRate: 48000, Channels: 2}},
		{name: "bad codec", q: map[string]string{"codec": "mp3"}, wantErr: true},
		{name: "bad rate", q: map[string]string{"rate": "-1"}, wantErr: true},
		{name: "bad channels", q: map[string]string{"channels": "6"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := wsource.ParseStreamFormat(func(k string) string { return tt.q[k] })
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
