// Package app wires all voxcal subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the command surface and feeds microphone frames to
// the pipeline, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithArchive, WithExecutor, WithSource, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxcal/internal/api"
	"github.com/MrWong99/voxcal/internal/archive"
	"github.com/MrWong99/voxcal/internal/cleaner"
	"github.com/MrWong99/voxcal/internal/config"
	"github.com/MrWong99/voxcal/internal/executor"
	"github.com/MrWong99/voxcal/internal/health"
	"github.com/MrWong99/voxcal/internal/intent"
	"github.com/MrWong99/voxcal/internal/observe"
	"github.com/MrWong99/voxcal/internal/pipeline"
	"github.com/MrWong99/voxcal/internal/resilience"
	"github.com/MrWong99/voxcal/pkg/audio"
	"github.com/MrWong99/voxcal/pkg/audio/wsource"
	"github.com/MrWong99/voxcal/pkg/provider/stt"
	"github.com/MrWong99/voxcal/pkg/provider/tts"
	"github.com/MrWong99/voxcal/pkg/provider/vad"
	"github.com/MrWong99/voxcal/pkg/provider/wake"
	"github.com/MrWong99/voxcal/pkg/provider/wake/spotter"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers.
const readHeaderTimeout = 10 * time.Second

// Providers holds the engines for each stage. Populated by main.go via the
// config registry. STT and TTS are in fallback order; the first entry is the
// primary.
type Providers struct {
	STT []stt.Recognizer
	TTS []tts.Engine

	// Wake is the recognizer used for keyword spotting. Nil uses the STT
	// chain.
	Wake stt.Recognizer

	VAD vad.Engine
}

// App owns all subsystem lifetimes and orchestrates the voxcal voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics    *observe.Metrics
	store      archive.Store
	pingers    []health.Checker
	dispatcher *intent.RuleDispatcher
	exec       executor.Executor
	recognizer *resilience.RecognizerChain
	synth      *resilience.SynthChain
	detector   wake.Detector
	clean      *cleaner.Cleaner
	hub        *wsource.Hub
	source     audio.Source
	events     *api.Broadcaster
	ctrl       *pipeline.Controller
	handler    http.Handler
	server     *http.Server
	listener   net.Listener

	configPath string
	watcher    *config.Watcher
	logLevel   *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithArchive injects a session archive instead of creating one from config.
func WithArchive(s archive.Store) Option {
	return func(a *App) { a.store = s }
}

// WithExecutor injects an intent executor instead of creating one from config.
func WithExecutor(e executor.Executor) Option {
	return func(a *App) { a.exec = e }
}

// WithWakeDetector injects a wake detector instead of building a keyword
// spotter.
func WithWakeDetector(d wake.Detector) Option {
	return func(a *App) { a.detector = d }
}

// WithSource injects the microphone frame source. It takes precedence over
// audio.source.
func WithSource(src audio.Source) Option {
	return func(a *App) { a.source = src }
}

// WithMetrics injects the metric instruments instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener serves HTTP on ln instead of listening on server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithConfigWatcher reloads path while the app runs and applies the live
// settings through [App.OnConfigChange].
func WithConfigWatcher(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLogLevel lets config reloads adjust the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: archive connection and
// migration, intent compilation, engine chains, wake spotter construction and
// controller assembly. Nothing runs until [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Session archive ──────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 2. Intent dispatcher and executor ───────────────────────────────
	if err := a.initIntents(); err != nil {
		return nil, fmt.Errorf("app: init intents: %w", err)
	}

	// ── 3. Engine chains ────────────────────────────────────────────────
	a.initEngines()

	// ── 4. Audio I/O ────────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 5. Pipeline controller ──────────────────────────────────────────
	if err := a.initController(); err != nil {
		return nil, fmt.Errorf("app: init controller: %w", err)
	}

	// ── 6. HTTP surface ─────────────────────────────────────────────────
	a.initHTTP()

	// ── 7. Config watcher ───────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.OnConfigChange)
		if err != nil {
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error { w.Stop(); return nil })
	}

	slog.Info("app initialised",
		"source", a.cfg.Audio.Source,
		"stt", len(a.providers.STT),
		"tts", a.synth.Names(),
		"intents", a.dispatcher.Len(),
	)
	return a, nil
}

// initArchive connects to PostgreSQL when a DSN is configured and falls back
// to the in-memory archive otherwise.
func (a *App) initArchive(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Archive.PostgresDSN
	if dsn == "" {
		a.store = archive.NewMemStore(a.cfg.Archive.MemoryCapacity)
		return nil
	}

	pool, err := archive.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	store := archive.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}
	a.store = store
	a.pingers = append(a.pingers, health.PingChecker("archive", pool.Ping))
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	slog.Info("session archive connected", "backend", "postgres")
	return nil
}

func (a *App) initIntents() error {
	d, err := intent.NewRuleDispatcher(a.cfg.Intents, a.cfg.StopPhraseOptions()...)
	if err != nil {
		return err
	}
	a.dispatcher = d

	if a.exec != nil {
		return nil
	}
	ec := a.cfg.Executor
	if ec.Endpoint == "" {
		slog.Warn("no executor endpoint configured; intents are echoed back")
		a.exec = executor.Echo{}
		return nil
	}
	opts := []executor.HTTPOption{executor.WithTimeout(ec.Timeout)}
	for k, v := range ec.Headers {
		opts = append(opts, executor.WithHeader(k, v))
	}
	e, err := executor.NewHTTP(ec.Endpoint, opts...)
	if err != nil {
		return err
	}
	a.exec = e
	return nil
}

// initEngines builds the recognition and synthesis fallback chains. Engine
// timeouts come from the matching providers entry.
func (a *App) initEngines() {
	fc := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("engine circuit breaker changed state", "engine", name, "from", from, "to", to)
			},
		},
	}

	a.recognizer = resilience.NewRecognizerChain(fc)
	for i, r := range a.providers.STT {
		a.recognizer.Add(r, resilience.WithEntryTimeout(entryTimeout(a.cfg.Providers.STT, i)))
	}
	if len(a.providers.STT) == 0 {
		a.recognizer.Add(stt.Unavailable("none", errors.New("no speech recognizer configured")))
	}

	voice := tts.Voice{
		ID:       a.cfg.Providers.Voice.VoiceID,
		Language: a.cfg.Providers.Voice.Language,
		Speed:    a.cfg.Providers.Voice.SpeedFactor,
	}
	a.synth = resilience.NewSynthChain(voice, fc)
	for i, e := range a.providers.TTS {
		a.synth.Add(e, resilience.WithEntryTimeout(entryTimeout(a.cfg.Providers.TTS, i)))
	}

	if !a.cfg.Cleaner.Disabled {
		c := a.cfg.Cleaner
		a.clean = cleaner.New(cleaner.WithConfig(cleaner.Config{
			MainsHz:     c.MainsHz,
			HighPassHz:  c.HighPassHz,
			LowPassHz:   c.LowPassHz,
			TargetRMSDB: c.TargetRMSDB,
		}))
	}
}

func entryTimeout(entries []config.ProviderEntry, i int) time.Duration {
	if i < len(entries) {
		return entries[i].Timeout
	}
	return 0
}

// initAudio sets up the frame source, the speaker output and the wake
// spotter.
func (a *App) initAudio() error {
	if a.source == nil && a.cfg.Audio.Source == config.SourceWebSocket {
		a.hub = wsource.NewHub()
		a.source = a.hub
		a.closers = append(a.closers, a.hub.Close)
	}

	if a.detector != nil {
		return nil
	}
	if a.source == nil {
		a.detector = neverWake{}
		return nil
	}

	phrase, err := a.cfg.Wake.ResolvePhrase()
	if err != nil {
		return err
	}
	rec := a.providers.Wake
	if rec == nil {
		rec = a.recognizer
	}
	vadEngine := a.providers.VAD
	if vadEngine == nil {
		return errors.New("wake spotting needs a vad engine")
	}
	opts := []spotter.Option{spotter.WithLanguage(a.cfg.Pipeline.Language)}
	if a.cfg.Wake.MinSpeech > 0 && a.cfg.Wake.MaxSpeech > 0 {
		opts = append(opts, spotter.WithSegmentBounds(a.cfg.Wake.MinSpeech, a.cfg.Wake.MaxSpeech))
	}
	sp, err := spotter.New(phrase, rec, vadEngine, opts...)
	if err != nil {
		return err
	}
	a.detector = sp
	a.closers = append(a.closers, sp.Close)
	return nil
}

func (a *App) initController() error {
	var player audio.Player
	if a.hub != nil {
		player = audio.NewSerialPlayer(a.hub, audio.WithRealtime(a.cfg.Audio.Realtime))
	}
	deps := pipeline.Deps{
		Wake:        a.detector,
		Recognizer:  a.recognizer,
		Dispatcher:  a.dispatcher,
		Executor:    a.exec,
		Synthesizer: a.synth,
		Player:      player,
	}
	if a.clean != nil {
		deps.Cleaner = a.clean
	}

	a.events = api.NewBroadcaster(0)
	opts := []pipeline.Option{
		pipeline.WithConfig(pipelineConfig(a.cfg)),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithArchive(a.store),
		pipeline.WithEventSinks(
			pipeline.NewLogSink(slog.Default(), slog.LevelInfo),
			pipeline.NewMetricsSink(a.metrics),
			a.events,
		),
		pipeline.WithReplyHandler(a.events.Reply),
	}
	if !a.cfg.Pipeline.CueEnabled() {
		opts = append(opts, pipeline.WithCue(nil, 0))
	}

	ctrl, err := pipeline.New(deps, opts...)
	if err != nil {
		return err
	}
	a.ctrl = ctrl
	return nil
}

// pipelineConfig converts the file config into controller settings.
func pipelineConfig(cfg *config.Config) pipeline.Config {
	p := cfg.Pipeline
	ph := p.Phrases
	c := pipeline.Config{
		Sensitivity:      cfg.Wake.Sensitivity,
		ConfirmSilence:   p.ConfirmSilence,
		ConfirmTimeout:   p.ConfirmTimeout,
		NoiseWindow:      p.NoiseWindow,
		MinConfidence:    p.MinConfidence,
		MaxRetries:       p.MaxRetries,
		NeedsInfoTimeout: p.NeedsInfoTimeout,
		RecognizeTimeout: p.RecognizeTimeout,
		ExecuteTimeout:   p.ExecuteTimeout,
		SpeakTimeout:     p.SpeakTimeout,
		Language:         p.Language,
		Phrases: pipeline.Phrases{
			Repeat:           ph.Repeat,
			Apology:          ph.Apology,
			NoiseWarning:     ph.NoiseWarning,
			NoSpeech:         ph.NoSpeech,
			Closing:          ph.Closing,
			VoiceUnavailable: ph.VoiceUnavailable,
			ExecutorFailure:  ph.ExecutorFailure,
			Done:             ph.Done,
		},
	}
	c.Capture.ThresholdDB = p.SilenceDB
	c.Capture.EndSilence = p.EndSilence
	c.Capture.MaxDuration = p.MaxCapture
	return c
}

func (a *App) initHTTP() {
	mux := http.NewServeMux()

	apiOpts := []api.Option{api.WithArchive(a.store), api.WithEvents(a.events)}
	if a.hub != nil {
		apiOpts = append(apiOpts, api.WithAudioHub(a.hub))
	}
	api.New(a.ctrl, apiOpts...).Register(mux)

	checkers := append([]health.Checker{health.VoiceChecker(a.ctrl.VoiceEnabled)}, a.pingers...)
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	a.handler = instrument(a.metrics, mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// instrument wraps plain requests in the tracing middleware. Websocket
// upgrades bypass it so the handler can hijack the raw connection.
func instrument(m *observe.Metrics, mux http.Handler) http.Handler {
	wrapped := observe.Middleware(m)(mux)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") != "" {
			mux.ServeHTTP(w, r)
			return
		}
		wrapped.ServeHTTP(w, r)
	})
}

// Handler returns the full HTTP surface: API, health probes and metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Controller returns the pipeline controller.
func (a *App) Controller() *pipeline.Controller { return a.ctrl }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, feeds microphone frames to the controller and watches the
// config file. It blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}
	slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tc := a.cfg.Server.TLS; tc != nil {
			err = a.server.ServeTLS(ln, tc.CertFile, tc.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.source != nil {
		g.Go(func() error {
			if err := a.ctrl.Run(gctx, a.source); err != nil && !errors.Is(err, pipeline.ErrClosed) {
				return fmt.Errorf("app: pipeline: %w", err)
			}
			return nil
		})
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	return g.Wait()
}

// OnConfigChange applies the live settings of a reloaded config. Sections
// that are only read at startup are logged and otherwise ignored.
func (a *App) OnConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.SensitivityChanged {
		if err := a.ctrl.SetSensitivity(d.NewSensitivity); err != nil {
			slog.Warn("config reload: sensitivity rejected", "err", err)
		} else {
			slog.Info("config reload: wake sensitivity updated", "sensitivity", d.NewSensitivity)
		}
	}
	if d.IntentsChanged {
		if err := a.dispatcher.SetTemplates(new.Intents); err != nil {
			slog.Warn("config reload: intent templates rejected", "err", err)
		} else {
			slog.Info("config reload: intent templates updated", "templates", a.dispatcher.Len())
		}
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		slog.Info("config reload: log level updated", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, closes the controller (archiving the active
// session) and releases every subsystem in order. Safe to call more than
// once; only the first call does any work.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			firstErr = err
		}
		if err := a.ctrl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.events.Close()

		for _, closer := range a.closers {
			select {
			case <-ctx.Done():
				if firstErr == nil {
					firstErr = ctx.Err()
				}
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("shutdown: closer error", "err", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}

		slog.Info("shutdown complete")
	})
	return firstErr
}

// neverWake is the detector used without a microphone. Sessions can still
// start through transcript overrides.
type neverWake struct{}

func (neverWake) Detect(audio.Frame) float64 { return 0 }
func (neverWake) Reset()                     {}
