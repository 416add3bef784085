package app_test

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxcal/internal/app"
	"github.com/MrWong99/voxcal/internal/archive"
	"github.com/MrWong99/voxcal/internal/config"
	"github.com/MrWong99/voxcal/internal/pipeline"
	"github.com/MrWong99/voxcal/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxcal/pkg/provider/stt/mock"
	"github.com/MrWong99/voxcal/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voxcal/pkg/provider/tts/mock"
	"github.com/MrWong99/voxcal/pkg/provider/vad/energy"
)

// testConfig returns a config without a microphone, so sessions can only be
// started through transcript overrides.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(`
audio:
  source: none
server:
  listen_addr: "127.0.0.1:0"
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

// testProviders returns providers with mock STT/TTS engines.
func testProviders() (*app.Providers, *ttsmock.Engine) {
	synth := &ttsmock.Engine{EngineName: "mock-tts"}
	return &app.Providers{
		STT: []stt.Recognizer{&sttmock.Recognizer{EngineName: "mock-stt"}},
		TTS: []tts.Engine{synth},
	}, synth
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(t.Context(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

// ---- New ----

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	providers, _ := testProviders()
	a := newApp(t, testConfig(t), providers)

	if got := a.Controller().State(); got != pipeline.StateIdle {
		t.Errorf("state = %v, want IDLE", got)
	}
	for _, path := range []string{"/healthz", "/readyz", "/v1/state", "/v1/sessions", "/metrics"} {
		if rec := get(t, a.Handler(), path); rec.Code != http.StatusOK {
			t.Errorf("GET %s: status %d (body %s)", path, rec.Code, rec.Body)
		}
	}
	// No microphone source, so the audio route is absent.
	if rec := get(t, a.Handler(), "/v1/audio"); rec.Code != http.StatusNotFound {
		t.Errorf("GET /v1/audio: status %d, want 404", rec.Code)
	}
}

func TestNew_NoProviders(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(t), nil)
	if a.Controller().VoiceEnabled() {
		t.Error("voice enabled without any recognition engine")
	}
	if rec := get(t, a.Handler(), "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /readyz: status %d, want 503", rec.Code)
	}
}

func TestNew_MissingModelDisablesVoice(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(`
wake:
  phrase: "hey calendar"
providers:
  stt:
    - name: whisper-native
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	providers, synth := testProviders()
	providers.STT = []stt.Recognizer{stt.Unavailable("whisper-native", errors.New("model file missing"))}
	providers.VAD = energy.New()
	a := newApp(t, cfg, providers)

	// The wake spotter shares the broken chain, so no wake could ever fire.
	if a.Controller().VoiceEnabled() {
		t.Fatal("voice enabled with a missing model")
	}
	if rec := get(t, a.Handler(), "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /readyz: status %d, want 503", rec.Code)
	}
	deadline := time.Now().Add(5 * time.Second)
	for synth.CallCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("voice unavailable line was never synthesised")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNew_WebSocketSource(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(`
wake:
  phrase: "hey calendar"
providers:
  stt:
    - name: whisper
      base_url: "http://localhost:9000"
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	providers, _ := testProviders()
	providers.VAD = energy.New()
	a := newApp(t, cfg, providers)

	if rec := get(t, a.Handler(), "/v1/audio?codec=mp3"); rec.Code != http.StatusBadRequest {
		t.Errorf("GET /v1/audio with bad codec: status %d, want 400", rec.Code)
	}
}

func TestNew_WebSocketSourceNeedsWakePhrase(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  stt:
    - name: whisper
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	t.Setenv(config.WakePhraseEnv, "")
	providers, _ := testProviders()
	providers.VAD = energy.New()
	if _, err := app.New(t.Context(), cfg, providers); err == nil {
		t.Fatal("expected error without a wake phrase")
	}
}

// ---- Sessions ----

func TestApp_TranscriptOverrideIsArchived(t *testing.T) {
	t.Parallel()

	providers, synth := testProviders()
	store := archive.NewMemStore(8)
	a := newApp(t, testConfig(t), providers, app.WithArchive(store))

	req := httptest.NewRequest("POST", "/v1/transcript", strings.NewReader(`{"text":"book a dentist appointment tomorrow at noon"}`))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /v1/transcript: status %d (body %s)", rec.Code, rec.Body)
	}

	deadline := time.Now().Add(5 * time.Second)
	for store.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not archived; state %v", a.Controller().State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	recs, err := store.Recent(t.Context(), 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if recs[0].Outcome != archive.OutcomeCompleted {
		t.Errorf("outcome = %q, want %q", recs[0].Outcome, archive.OutcomeCompleted)
	}
	if synth.CallCount() == 0 {
		t.Error("reply was not synthesised")
	}
}

// ---- Config reload ----

func TestApp_OnConfigChange(t *testing.T) {
	t.Parallel()

	providers, _ := testProviders()
	old := testConfig(t)
	lv := new(slog.LevelVar)
	a := newApp(t, old, providers, app.WithLogLevel(lv))

	updated := testConfig(t)
	updated.Wake.Sensitivity = 0.8
	updated.Server.LogLevel = config.LogDebug
	updated.Intents = updated.Intents[:1]
	a.OnConfigChange(old, updated)

	if got := a.Controller().Sensitivity(); got != 0.8 {
		t.Errorf("sensitivity = %v, want 0.8", got)
	}
	if got := lv.Level(); got != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", got)
	}
}

func TestApp_OnConfigChange_RejectsBadSensitivity(t *testing.T) {
	t.Parallel()

	providers, _ := testProviders()
	old := testConfig(t)
	a := newApp(t, old, providers)
	before := a.Controller().Sensitivity()

	updated := testConfig(t)
	updated.Wake.Sensitivity = 1.5
	a.OnConfigChange(old, updated)

	if got := a.Controller().Sensitivity(); got != before {
		t.Errorf("sensitivity = %v, want unchanged %v", got, before)
	}
}

// ---- Lifecycle ----

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	providers, _ := testProviders()
	a, err := app.New(t.Context(), testConfig(t), providers)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
	if err := a.Controller().SubmitTranscriptOverride("book lunch"); err != pipeline.ErrClosed {
		t.Errorf("override after shutdown = %v, want ErrClosed", err)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	providers, _ := testProviders()
	a := newApp(t, testConfig(t), providers, app.WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("GET /healthz: status %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never answered: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}
}
