package spotter_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxcal/pkg/audio"
	"github.com/MrWong99/voxcal/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxcal/pkg/provider/stt/mock"
	"github.com/MrWong99/voxcal/pkg/provider/vad"
	"github.com/MrWong99/voxcal/pkg/provider/vad/energy"
	vadmock "github.com/MrWong99/voxcal/pkg/provider/vad/mock"
	"github.com/MrWong99/voxcal/pkg/provider/wake/spotter"
)

func TestScore(t *testing.T) {
	const phrase = "hey calendar"
	tests := []struct {
		name       string
		transcript string
		min, max   float64
	}{
		{name: "exact", transcript: "Hey, Calendar!", min: 0.99, max: 1},
		{name: "embedded", transcript: "um hey calendar please", min: 0.99, max: 1},
		{name: "misheard", transcript: "hey calender", min: 0.9, max: 1},
		{name: "unrelated", transcript: "what time is it", min: 0, max: 0.7},
		{name: "half phrase", transcript: "hey", min: 0, max: 0.55},
		{name: "empty", transcript: "", min: 0, max: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := spotter.Score(tt.transcript, phrase)
			if got < tt.min || got > tt.max {
				t.Errorf("Score(%q) = %.3f, want in [%.2f, %.2f]", tt.transcript, got, tt.min, tt.max)
			}
		})
	}
}

// squareFrame returns 20 ms of 16 kHz audio at the given RMS level.
func squareFrame(db float64, seq uint64) audio.Frame {
	a := int16(math.Round(audio.DBToAmplitude(db) * 32768))
	s := make([]int16, 320)
	for i := range s {
		if i%2 == 0 {
			s[i] = a
		} else {
			s[i] = -a
		}
	}
	return audio.Frame{Data: audio.FromSamples(s), SampleRate: 16000, Channels: 1, Seq: seq}
}

func feed(sp *spotter.Spotter, db float64, frames int, seq *uint64) float64 {
	var best float64
	for range frames {
		*seq++
		if s := sp.Detect(squareFrame(db, *seq)); s > best {
			best = s
		}
	}
	return best
}

// waitScore feeds silent frames until a non-zero score appears or the
// deadline passes.
func waitScore(t *testing.T, sp *spotter.Spotter, seq *uint64) float64 {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := feed(sp, -80, 1, seq); s > 0 {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	return 0
}

func TestSpotter_DetectsPhrase(t *testing.T) {
	rec := &sttmock.Recognizer{Default: sttmock.Result{Transcript: stt.Transcript{Text: "hey calendar", IsFinal: true, Confidence: 0.9}}}
	sp, err := spotter.New("hey calendar", rec, energy.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sp.Close()

	var seq uint64
	// 600 ms speech then 400 ms silence closes the segment.
	if s := feed(sp, -25, 30, &seq); s != 0 {
		t.Fatalf("score during speech = %v, want 0", s)
	}
	feed(sp, -80, 20, &seq)

	got := waitScore(t, sp, &seq)
	if got < 0.99 {
		t.Errorf("score = %.3f, want ~1", got)
	}
	if rec.CallCount() != 1 {
		t.Errorf("recognizer calls = %d, want 1", rec.CallCount())
	}
	// The score is reported once.
	if s := feed(sp, -80, 5, &seq); s != 0 {
		t.Errorf("score repeated: %v", s)
	}
}

func TestSpotter_IgnoresShortAndLongSegments(t *testing.T) {
	rec := &sttmock.Recognizer{Default: sttmock.Result{Transcript: stt.Transcript{Text: "hey calendar", IsFinal: true}}}
	sp, err := spotter.New("hey calendar", rec, energy.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sp.Close()

	var seq uint64
	// 100 ms click.
	feed(sp, -25, 5, &seq)
	feed(sp, -80, 20, &seq)
	// 3 s monologue.
	feed(sp, -25, 150, &seq)
	feed(sp, -80, 20, &seq)

	time.Sleep(50 * time.Millisecond)
	if rec.CallCount() != 0 {
		t.Errorf("recognizer calls = %d, want 0", rec.CallCount())
	}
}

func TestSpotter_ResetDropsPendingResult(t *testing.T) {
	rec := &sttmock.Recognizer{Default: sttmock.Result{
		Transcript: stt.Transcript{Text: "hey calendar", IsFinal: true},
		Delay:      50 * time.Millisecond,
	}}
	sp, err := spotter.New("hey calendar", rec, energy.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sp.Close()

	var seq uint64
	feed(sp, -25, 30, &seq)
	feed(sp, -80, 20, &seq)
	sp.Reset()

	time.Sleep(150 * time.Millisecond)
	if s := feed(sp, -80, 3, &seq); s != 0 {
		t.Errorf("score after Reset = %v, want 0", s)
	}
}

func TestNew_Validation(t *testing.T) {
	rec := &sttmock.Recognizer{}
	if _, err := spotter.New("  ", rec, energy.New()); err == nil {
		t.Error("expected error for empty phrase")
	}
	if _, err := spotter.New("hey", nil, energy.New()); err == nil {
		t.Error("expected error for nil recognizer")
	}
}

func TestSpotter_SegmentsOnVADEvents(t *testing.T) {
	script := make([]vad.Event, 30)
	for i := range script {
		script[i] = vad.Event{Type: vad.SpeechContinue, Probability: 0.9}
	}
	ses := &vadmock.Session{Script: script, EventResult: vad.Event{Type: vad.Silence}}
	eng := &vadmock.Engine{Session: ses}
	rec := &sttmock.Recognizer{Default: sttmock.Result{Transcript: stt.Transcript{Text: "hey calendar", IsFinal: true}}}

	sp, err := spotter.New("hey calendar", rec, eng)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if len(eng.NewSessionCalls) != 1 || eng.NewSessionCalls[0].Cfg.SampleRate != audio.PipelineFormat.SampleRate {
		t.Fatalf("NewSession calls = %+v", eng.NewSessionCalls)
	}

	// Frame levels are irrelevant; the VAD script decides what is speech.
	var seq uint64
	feed(sp, -80, 30, &seq)
	feed(sp, -80, 20, &seq)
	if got := waitScore(t, sp, &seq); got < 0.99 {
		t.Errorf("score = %.3f, want ~1", got)
	}

	if err := sp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ses.CloseCallCount != 1 {
		t.Errorf("vad session closed %d times, want 1", ses.CloseCallCount)
	}
}

func TestSpotter_VADErrors(t *testing.T) {
	rec := &sttmock.Recognizer{}

	eng := &vadmock.Engine{NewSessionErr: errors.New("no model")}
	if _, err := spotter.New("hey calendar", rec, eng); err == nil {
		t.Error("expected NewSession error to be returned")
	}

	ses := &vadmock.Session{ProcessFrameErr: errors.New("bad frame")}
	sp, err := spotter.New("hey calendar", rec, &vadmock.Engine{Session: ses})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sp.Close()

	var seq uint64
	if s := feed(sp, -25, 50, &seq); s != 0 {
		t.Errorf("score = %v, want 0", s)
	}
	time.Sleep(20 * time.Millisecond)
	if rec.CallCount() != 0 {
		t.Errorf("recognizer calls = %d, want 0", rec.CallCount())
	}
}

func TestSpotter_Available(t *testing.T) {
	t.Run("unavailable recognizer", func(t *testing.T) {
		rec := stt.Unavailable("whisper-native", errors.New("model file missing"))
		sp, err := spotter.New("hey calendar", rec, energy.New())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		defer sp.Close()
		if sp.Available() {
			t.Error("Available() = true with an unavailable recognizer")
		}
	})

	t.Run("fatal recognition error", func(t *testing.T) {
		script := make([]vad.Event, 30)
		for i := range script {
			script[i] = vad.Event{Type: vad.SpeechContinue, Probability: 0.9}
		}
		ses := &vadmock.Session{Script: script, EventResult: vad.Event{Type: vad.Silence}}
		rec := &sttmock.Recognizer{Default: sttmock.Result{Err: stt.Fatal("whisper", errors.New("model file missing"))}}
		sp, err := spotter.New("hey calendar", rec, &vadmock.Engine{Session: ses})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		defer sp.Close()

		if !sp.Available() {
			t.Fatal("Available() = false before any recognition")
		}
		var seq uint64
		feed(sp, -80, 30, &seq)
		feed(sp, -80, 20, &seq)

		deadline := time.Now().Add(2 * time.Second)
		for sp.Available() {
			if time.Now().After(deadline) {
				t.Fatal("spotter still available after a fatal recognition error")
			}
			time.Sleep(2 * time.Millisecond)
		}
		if s := feed(sp, -80, 1, &seq); s != 0 {
			t.Errorf("score = %v, want 0", s)
		}
	})

	t.Run("transient recognition error", func(t *testing.T) {
		script := make([]vad.Event, 30)
		for i := range script {
			script[i] = vad.Event{Type: vad.SpeechContinue, Probability: 0.9}
		}
		ses := &vadmock.Session{Script: script, EventResult: vad.Event{Type: vad.Silence}}
		rec := &sttmock.Recognizer{Default: sttmock.Result{Err: stt.Transient("whisper", errors.New("server busy"))}}
		sp, err := spotter.New("hey calendar", rec, &vadmock.Engine{Session: ses})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		defer sp.Close()

		var seq uint64
		feed(sp, -80, 30, &seq)
		feed(sp, -80, 20, &seq)
		deadline := time.Now().Add(2 * time.Second)
		for rec.CallCount() == 0 {
			if time.Now().After(deadline) {
				t.Fatal("segment never recognised")
			}
			time.Sleep(2 * time.Millisecond)
		}
		time.Sleep(10 * time.Millisecond)
		if !sp.Available() {
			t.Error("transient error made the spotter unavailable")
		}
	})
}
