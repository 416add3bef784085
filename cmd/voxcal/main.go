// Command voxcal is the main entry point for the voxcal voice calendar server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxcal/internal/app"
	"github.com/MrWong99/voxcal/internal/config"
	"github.com/MrWong99/voxcal/internal/observe"
	"github.com/MrWong99/voxcal/pkg/provider/stt"
	oaistt "github.com/MrWong99/voxcal/pkg/provider/stt/openai"
	"github.com/MrWong99/voxcal/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxcal/pkg/provider/tts"
	"github.com/MrWong99/voxcal/pkg/provider/tts/coqui"
	oaitts "github.com/MrWong99/voxcal/pkg/provider/tts/openai"
	"github.com/MrWong99/voxcal/pkg/provider/vad"
	"github.com/MrWong99/voxcal/pkg/provider/vad/energy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("voxcal", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxcal: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxcal: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, level))

	slog.Info("voxcal starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	traceOut, closeTraces, err := openTraceOutput(cfg.Server.Traces.Output)
	if err != nil {
		slog.Error("failed to open trace output", "err", err)
		return 1
	}
	defer closeTraces()
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      "voxcal",
		ServiceVersion:   version,
		TraceWriter:      traceOut,
		TraceSampleRatio: cfg.Server.Traces.SampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Engine registry ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinEngines(reg)

	// ── Instantiate engines ───────────────────────────────────────────────────
	providers, closeEngines, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build engines", "err", err)
		return 1
	}
	defer closeEngines()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithConfigWatcher(*configPath),
		app.WithLogLevel(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Engine wiring ─────────────────────────────────────────────────────────────

// registerBuiltinEngines wires all built-in engine factories into reg. Each
// factory receives a config.ProviderEntry and constructs the engine from the
// real implementation packages.
func registerBuiltinEngines(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		return whisper.NewServer(entry.BaseURL, whisperOptions(entry)...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		return whisper.NewNative(modelPath, whisperOptions(entry)...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaistt.WithTimeout(entry.Timeout))
		}
		if c, ok := config.OptFloat(entry.Options, "default_confidence"); ok {
			opts = append(opts, oaistt.WithDefaultConfidence(c))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Engine, error) {
		var opts []coqui.Option
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := config.OptString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if speaker := config.OptString(entry.Options, "speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		if entry.Timeout > 0 {
			opts = append(opts, coqui.WithTimeout(entry.Timeout))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Engine, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if voice := config.OptString(entry.Options, "voice"); voice != "" {
			opts = append(opts, oaitts.WithVoice(voice))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaitts.WithTimeout(entry.Timeout))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		floor, okFloor := config.OptFloat(entry.Options, "floor_db")
		ceiling, okCeiling := config.OptFloat(entry.Options, "ceiling_db")
		if okFloor && okCeiling {
			return energy.New(energy.WithRange(floor, ceiling)), nil
		}
		return energy.New(), nil
	})

	for _, kind := range []string{"stt", "tts", "vad"} {
		slog.Debug("registered engines", "kind", kind, "names", reg.Names(kind))
	}
}

func whisperOptions(entry config.ProviderEntry) []whisper.Option {
	var opts []whisper.Option
	if entry.Model != "" {
		opts = append(opts, whisper.WithModel(entry.Model))
	}
	if lang := config.OptString(entry.Options, "language"); lang != "" {
		opts = append(opts, whisper.WithLanguage(lang))
	}
	if c, ok := config.OptFloat(entry.Options, "default_confidence"); ok {
		opts = append(opts, whisper.WithDefaultConfidence(c))
	}
	if name := config.OptString(entry.Options, "name"); name != "" {
		opts = append(opts, whisper.WithName(name))
	}
	return opts
}

// buildProviders instantiates all engines named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. A recognizer that cannot be constructed is replaced by one that
// always fails fatally, so the server still starts with voice input disabled.
// A synthesis engine that cannot be constructed is skipped.
//
// The returned func closes engines that hold native resources.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, func(), error) {
	ps := &app.Providers{}
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("engine close error", "err", err)
			}
		}
	}
	track := func(v any) {
		if c, ok := v.(io.Closer); ok {
			closers = append(closers, c)
		}
	}

	for _, entry := range cfg.Providers.STT {
		r, err := reg.CreateSTT(entry)
		if err != nil {
			slog.Error("recognizer unavailable", "name", entry.Name, "err", err)
			r = stt.Unavailable(entry.Name, err)
		} else {
			track(r)
			slog.Info("engine created", "kind", "stt", "name", entry.Name)
		}
		ps.STT = append(ps.STT, r)
	}

	if entry := cfg.Wake.Recognizer; entry.Name != "" {
		r, err := reg.CreateSTT(entry)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("create wake recognizer %q: %w", entry.Name, err)
		}
		track(r)
		ps.Wake = r
		slog.Info("engine created", "kind", "wake", "name", entry.Name)
	}

	for _, entry := range cfg.Providers.TTS {
		e, err := reg.CreateTTS(entry)
		if err != nil {
			slog.Error("synthesis engine skipped", "name", entry.Name, "err", err)
			continue
		}
		ps.TTS = append(ps.TTS, e)
		slog.Info("engine created", "kind", "tts", "name", entry.Name)
	}

	if name := cfg.Providers.VAD.Name; name != "" {
		v, err := reg.CreateVAD(cfg.Providers.VAD)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("create vad engine %q: %w", name, err)
		}
		ps.VAD = v
		slog.Info("engine created", "kind", "vad", "name", name)
	}

	return ps, closeAll, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxcal: startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	for i, e := range cfg.Providers.STT {
		printEngine(fmt.Sprintf("STT #%d", i+1), e.Name, e.Model)
	}
	for i, e := range cfg.Providers.TTS {
		printEngine(fmt.Sprintf("TTS #%d", i+1), e.Name, e.Model)
	}
	printEngine("VAD", cfg.Providers.VAD.Name, "")
	fmt.Printf("║  Audio source    : %-19s ║\n", cfg.Audio.Source)
	fmt.Printf("║  Intents         : %-19d ║\n", len(cfg.Intents))
	executor := cfg.Executor.Endpoint
	if executor == "" {
		executor = "(echo)"
	}
	printValue("Executor", executor)
	archive := "memory"
	if cfg.Archive.PostgresDSN != "" {
		archive = "postgres"
	}
	printValue("Archive", archive)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEngine(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printValue(kind, value)
}

func printValue(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openTraceOutput resolves server.traces.output to a writer. An empty
// output returns a nil writer, which disables span export.
func openTraceOutput(output string) (io.Writer, func(), error) {
	switch output {
	case "":
		return nil, func() {}, nil
	case "stderr":
		return os.Stderr, func() {}, nil
	case "stdout":
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
