package cleaner

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/voxcal/pkg/audio"
)

const rate = 16000

func sine(freq, amp float64, d time.Duration) []float64 {
	n := int(d.Seconds() * rate)
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	return out
}

func noise(seed uint64, amp float64, d time.Duration) []float64 {
	r := rand.New(rand.NewPCG(seed, seed+1))
	n := int(d.Seconds() * rate)
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * (2*r.Float64() - 1)
	}
	return out
}

func add(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

func rmsDB(x []float64) float64 { return audio.AmplitudeToDB(audio.FloatRMS(x)) }

func TestClean_TrimsAndNormalizes(t *testing.T) {
	silence := make([]float64, rate) // 1 s
	tone := sine(1000, 0.05, time.Second)
	in := slices.Concat(silence, tone, silence)

	c := New()
	out, err := c.Clean(context.Background(), audio.FromFloats(in), rate)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	d := out.Diagnostics

	// 1 s of tone plus 100 ms padding either side.
	if got := out.Duration(); got < 1150*time.Millisecond || got > 1250*time.Millisecond {
		t.Errorf("duration = %v, want ~1.2s", got)
	}
	if math.Abs(d.OutputDB-(-20)) > 1 {
		t.Errorf("output level = %.2f dB, want -20", d.OutputDB)
	}
	if d.GainDB <= 0 {
		t.Errorf("gain = %.2f dB, want positive", d.GainDB)
	}
	if d.Trimmed < 1700*time.Millisecond {
		t.Errorf("trimmed = %v, want ~1.8s", d.Trimmed)
	}
	want := []string{StageDenoise, StageTrim, StageNormalize, StageBandLimit}
	if !slices.Equal(d.Applied, want) {
		t.Errorf("applied = %v, want %v", d.Applied, want)
	}
	if len(d.Skipped) != 0 {
		t.Errorf("skipped = %v, want none", d.Skipped)
	}
	if !slices.Contains(d.Filters, "notch_50hz") || !slices.Contains(d.Filters, "lowpass_7200hz") {
		t.Errorf("filters = %v", d.Filters)
	}
}

func TestClean_SilentInputPassesThrough(t *testing.T) {
	in := make([]byte, rate) // 0.5 s of digital silence
	out, err := New().Clean(context.Background(), in, rate)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(out.PCM) != len(in) {
		t.Errorf("len = %d, want %d", len(out.PCM), len(in))
	}
	var skipped []string
	for _, s := range out.Diagnostics.Skipped {
		skipped = append(skipped, s.Stage)
	}
	if !slices.Contains(skipped, StageTrim) || !slices.Contains(skipped, StageNormalize) {
		t.Errorf("skipped = %v, want trim and normalize", skipped)
	}
}

func TestClean_EmptyInput(t *testing.T) {
	out, err := New().Clean(context.Background(), nil, rate)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(out.Diagnostics.Skipped) != 4 {
		t.Errorf("skipped %d stages, want 4", len(out.Diagnostics.Skipped))
	}
}

func TestClean_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Clean(ctx, make([]byte, 3200), rate); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestDenoise_ReducesStationaryNoise(t *testing.T) {
	c := New()
	if err := c.LearnNoise(audio.FromFloats(noise(1, 0.02, time.Second)), rate); err != nil {
		t.Fatalf("LearnNoise: %v", err)
	}
	if !c.HasNoiseProfile() {
		t.Fatal("HasNoiseProfile = false")
	}

	bg := noise(2, 0.02, 2*time.Second)
	tone := slices.Concat(make([]float64, rate/2), sine(440, 0.3, time.Second), make([]float64, rate/2))
	in := add(bg, tone)

	var d Diagnostics
	out, err := c.denoise(slices.Clone(in), rate, &d)
	if err != nil {
		t.Fatalf("denoise: %v", err)
	}
	// Noise-only head, away from the frame edges.
	head := func(x []float64) []float64 { return x[1024 : rate/2-1024] }
	if red := rmsDB(head(in)) - rmsDB(head(out)); red < 6 {
		t.Errorf("noise reduced by %.1f dB, want >= 6", red)
	}
	mid := func(x []float64) []float64 { return x[rate : rate+rate/2] }
	if loss := rmsDB(mid(in)) - rmsDB(mid(out)); math.Abs(loss) > 1.5 {
		t.Errorf("tone level changed by %.1f dB, want < 1.5", loss)
	}
}

func TestDenoise_WithoutProfileEstimates(t *testing.T) {
	in := add(noise(3, 0.02, 2*time.Second), slices.Concat(make([]float64, rate), sine(300, 0.3, time.Second)))
	var d Diagnostics
	if _, err := New().denoise(in, rate, &d); err != nil {
		t.Fatalf("denoise: %v", err)
	}
	if d.NoiseFloorDB > -30 || d.NoiseFloorDB < -45 {
		t.Errorf("estimated floor = %.1f dB, want around -39", d.NoiseFloorDB)
	}
}

func TestLearnNoise_TooShort(t *testing.T) {
	if err := New().LearnNoise(make([]byte, 100), rate); err == nil {
		t.Fatal("expected error for short noise sample")
	}
}

func TestNormalize_PeakLimit(t *testing.T) {
	x := make([]float64, rate)
	for i := range x {
		x[i] = 0.001
	}
	x[100] = 0.5
	var d Diagnostics
	out, err := New().normalize(x, rate, &d)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	limit := audio.DBToAmplitude(-3)
	for i, v := range out {
		if math.Abs(v) > limit+1e-9 {
			t.Fatalf("sample %d = %v exceeds peak limit %v", i, v, limit)
		}
	}
	if math.Abs(d.GainDB-20*math.Log10(limit/0.5)) > 1e-6 {
		t.Errorf("gain = %.3f dB, want peak-limited gain", d.GainDB)
	}
}

func TestBandLimit(t *testing.T) {
	tests := []struct {
		name    string
		freq    float64
		minLoss float64
		maxLoss float64
	}{
		{name: "rumble", freq: 20, minLoss: 18, maxLoss: 60},
		{name: "mains hum", freq: 50, minLoss: 20, maxLoss: 200},
		{name: "voice band", freq: 1000, minLoss: -0.5, maxLoss: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := sine(tt.freq, 0.1, 3*time.Second)
			var d Diagnostics
			out, err := New().bandLimit(slices.Clone(in), rate, &d)
			if err != nil {
				t.Fatalf("bandLimit: %v", err)
			}
			// Skip the filter transients.
			loss := rmsDB(in[2*rate:]) - rmsDB(out[2*rate:])
			if loss < tt.minLoss || loss > tt.maxLoss {
				t.Errorf("attenuation = %.2f dB, want [%v, %v]", loss, tt.minLoss, tt.maxLoss)
			}
		})
	}
}

func TestBandLimit_Mains60(t *testing.T) {
	c := New(WithConfig(Config{MainsHz: 60}))
	in := sine(60, 0.1, 3*time.Second)
	var d Diagnostics
	out, _ := c.bandLimit(slices.Clone(in), rate, &d)
	if loss := rmsDB(in[2*rate:]) - rmsDB(out[2*rate:]); loss < 20 {
		t.Errorf("60 Hz attenuation = %.2f dB, want >= 20", loss)
	}
	if !slices.Contains(d.Filters, "notch_60hz") {
		t.Errorf("filters = %v", d.Filters)
	}
}

func TestBandLimit_LowRateFails(t *testing.T) {
	var d Diagnostics
	if _, err := New().bandLimit(make([]float64, 100), 120, &d); err == nil {
		t.Fatal("expected error when high-pass exceeds nyquist")
	}
}

func TestFFTSize(t *testing.T) {
	if got := fftSize(16000); got != 512 {
		t.Errorf("fftSize(16000) = %d, want 512", got)
	}
	if got := fftSize(48000); got != 2048 {
		t.Errorf("fftSize(48000) = %d, want 2048", got)
	}
}
