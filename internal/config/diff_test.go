package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/voxcal/internal/config"
	"github.com/MrWong99/voxcal/internal/intent"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Wake:   config.WakeConfig{Sensitivity: 0.5, Phrase: "hey calendar"},
		Providers: config.ProvidersConfig{
			STT: []config.ProviderEntry{{Name: "whisper", BaseURL: "http://localhost:8081"}},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LiveFields(t *testing.T) {
	t.Parallel()
	old, upd := baseConfig(), baseConfig()
	upd.Wake.Sensitivity = 0.7
	upd.Server.LogLevel = config.LogDebug
	upd.Intents = append(slices.Clone(upd.Intents), intent.Template{Command: "snooze", Pattern: "^snooze$"})

	d := config.Diff(old, upd)
	if !d.SensitivityChanged || d.NewSensitivity != 0.7 {
		t.Errorf("sensitivity: %+v", d)
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level: %+v", d)
	}
	if !d.IntentsChanged {
		t.Error("intents change not detected")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("live changes should not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old, upd := baseConfig(), baseConfig()
	upd.Wake.Phrase = "ok planner"
	upd.Providers.STT = append(upd.Providers.STT, config.ProviderEntry{Name: "openai"})
	upd.Server.ListenAddr = ":9090"

	d := config.Diff(old, upd)
	if d.SensitivityChanged || d.LogLevelChanged || d.IntentsChanged {
		t.Errorf("unexpected live changes: %+v", d)
	}
	want := []string{"server", "wake", "providers"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
}
