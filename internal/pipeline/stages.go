package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxcal/internal/capture"
	"github.com/MrWong99/voxcal/internal/executor"
	"github.com/MrWong99/voxcal/internal/observe"
	"github.com/MrWong99/voxcal/pkg/audio"
	"github.com/MrWong99/voxcal/pkg/provider/stt"
)

// overrideEngine is the Transcript.Engine of injected text.
const overrideEngine = "override"

// stage runs one state of a session and returns the next state. A stage
// returning StateIdle ends the session; err then selects the closing line
// and the archived outcome.
type stage func(c *Controller, t *turn) (next State, trig Trigger, err error)

var stages = map[State]stage{
	StateWakeConfirm: (*Controller).confirmWake,
	StateCapturing:   (*Controller).capture,
	StateRecognizing: (*Controller).recognize,
	StateDispatching: (*Controller).dispatch,
	StateResponding:  (*Controller).respond,
	StateNeedsInfo:   (*Controller).awaitInfo,
}

// run drives a session from WAKE_CONFIRM back to IDLE.
func (c *Controller) run(t *turn) {
	defer c.wg.Done()

	st := StateWakeConfirm
	for {
		next, trig, err := stages[st](c, t)
		if t.tok.Cancelled() {
			// Stop or Close already returned the session to idle.
			return
		}
		if next == StateIdle {
			c.say(t, c.cfg.Phrases.message(err))
			c.finish(t, trig, err)
			return
		}
		if !c.transition(t, next, trig) {
			return
		}
		st = next
	}
}

// confirmWake waits for the short silence that follows a deliberate wake
// phrase. Speech or a stalled stream means the detection was accidental.
func (c *Controller) confirmWake(t *turn) (State, Trigger, error) {
	ctx := t.tok.Context()
	if len(c.cue) > 0 {
		if err := c.deps.Player.Play(ctx, c.cue, c.cueRate); err != nil && ctx.Err() == nil {
			slog.Warn("pipeline: activation cue failed", "err", err)
		}
	}

	fire, stop := c.sup.deadline(StateWakeConfirm)
	defer stop()

	var (
		elapsed, silence time.Duration
		quiet            []byte
		rate             int
	)
	for {
		select {
		case <-ctx.Done():
			return StateIdle, TriggerStop, context.Cause(ctx)
		case text := <-t.override:
			t.overrideText = text
			return StateCapturing, TriggerOverride, nil
		case <-fire:
			c.metrics.RecordWake(ctx, "false_positive")
			return StateIdle, TriggerFalsePositive, nil
		case f := <-t.frames:
			d := f.Duration()
			elapsed += d
			if c.cfg.Capture.IsSilent(f) {
				silence += d
				quiet = append(quiet, f.Data...)
				rate = f.SampleRate
			} else {
				silence = 0
				quiet = quiet[:0]
			}
			if silence >= c.cfg.ConfirmSilence {
				c.learnNoise(quiet, rate)
				c.metrics.RecordWake(ctx, "confirmed")
				return StateCapturing, TriggerConfirmed, nil
			}
			if elapsed >= c.cfg.ConfirmTimeout {
				c.metrics.RecordWake(ctx, "false_positive")
				return StateIdle, TriggerFalsePositive, nil
			}
		}
	}
}

func (c *Controller) learnNoise(pcm []byte, rate int) {
	nl, ok := c.deps.Cleaner.(NoiseLearner)
	if !ok || len(pcm) == 0 {
		return
	}
	if err := nl.LearnNoise(pcm, rate); err != nil {
		slog.Debug("pipeline: noise profile not updated", "err", err)
	}
}

// capture records one utterance. The opening window is classified for
// ambient noise and the capture is refused if the room is too loud.
func (c *Controller) capture(t *turn) (State, Trigger, error) {
	if t.overrideText != "" {
		return StateRecognizing, TriggerOverride, nil
	}
	ctx := t.tok.Context()
	buf := capture.NewBuffer(c.cfg.Capture)
	noise := capture.NewNoiseEstimator(c.cfg.NoiseWindow)

	fire, stop := c.sup.deadline(StateCapturing)
	defer stop()

	for {
		var f audio.Frame
		if t.carry != nil {
			f, t.carry = *t.carry, nil
		} else {
			select {
			case <-ctx.Done():
				return StateIdle, TriggerStop, context.Cause(ctx)
			case text := <-t.override:
				t.overrideText = text
				return StateRecognizing, TriggerOverride, nil
			case <-fire:
				buf.Stop(capture.StopMaxDuration)
				return c.endCapture(t, buf)
			case f = <-t.frames:
			}
		}

		if lvl, _ := noise.Add(f); lvl.Class == capture.NoiseVeryLoud {
			c.update(t, func(s *Session) { s.NoiseWarnings++ })
			c.metrics.NoiseWarnings.Add(ctx, 1)
			slog.Info("pipeline: capture refused, ambient noise too high", "level_db", lvl.DB)
			return StateIdle, TriggerNoiseTooHigh, ErrNoiseTooHigh
		}
		if reason, _ := buf.Append(f); reason != capture.NotStopped {
			return c.endCapture(t, buf)
		}
	}
}

func (c *Controller) endCapture(t *turn, buf *capture.Buffer) (State, Trigger, error) {
	if !buf.HasSpeech() {
		return StateIdle, TriggerSilenceTimeout, ErrSilenceTimeout
	}
	t.utterance, t.rate = buf.PCM(), buf.SampleRate()
	slog.Debug("pipeline: utterance captured", "duration", buf.Duration(), "reason", buf.Reason())
	if buf.Reason() == capture.StopMaxDuration {
		return StateRecognizing, TriggerMaxDuration, nil
	}
	return StateRecognizing, TriggerEndSilence, nil
}

// recognize transcribes the captured utterance and applies the confidence
// gate. Low confidence asks the user to repeat until the retries run out.
func (c *Controller) recognize(t *turn) (State, Trigger, error) {
	ctx := t.tok.Context()

	var tr stt.Transcript
	if t.overrideText != "" {
		tr = stt.Transcript{Text: t.overrideText, IsFinal: true, Confidence: 1, Engine: overrideEngine}
		t.overrideText = ""
	} else {
		var err error
		tr, err = c.transcribe(t)
		switch {
		case ctx.Err() != nil:
			return StateIdle, TriggerStop, context.Cause(ctx)
		case stt.IsFatal(err):
			c.disableVoice(err)
			return StateIdle, TriggerEngineUnavailable, ErrEngineUnavailable
		case err != nil:
			slog.Warn("pipeline: recognition failed", "err", err)
			tr = stt.Transcript{}
		}
	}
	t.utterance = nil
	t.transcript = tr

	if c.deps.Dispatcher.IsStop(tr.Text) {
		return StateIdle, TriggerStopPhrase, errStopped
	}

	conf := tr.Confidence
	if !tr.IsFinal {
		conf = 0
	}
	if conf >= c.cfg.MinConfidence {
		return StateDispatching, TriggerConfident, nil
	}
	if t.attempts < c.cfg.MaxRetries {
		t.attempts++
		c.update(t, func(s *Session) { s.STTRetries++ })
		c.metrics.STTRetries.Add(ctx, 1)
		slog.Info("pipeline: low confidence, asking to repeat",
			"confidence", conf,
			"attempt", t.attempts,
		)
		c.say(t, c.cfg.Phrases.Repeat)
		return StateCapturing, TriggerLowConfidence, nil
	}
	t.attempts = 0
	return StateIdle, TriggerRetriesExhausted, ErrLowConfidence
}

// transcribe cleans and recognises t.utterance. A failed cleanup falls back
// to the raw capture.
func (c *Controller) transcribe(t *turn) (stt.Transcript, error) {
	ctx, cancel := c.sup.bound(t.tok.Context(), StateRecognizing)
	defer cancel()

	pcm, rate := t.utterance, t.rate
	if c.deps.Cleaner != nil {
		start := time.Now()
		cleaned, err := c.deps.Cleaner.Clean(ctx, pcm, rate)
		observe.ObserveStage(ctx, c.metrics.CleanerDuration, time.Since(start))
		switch {
		case err != nil && ctx.Err() != nil:
			return stt.Transcript{}, ctx.Err()
		case err != nil:
			slog.Warn("pipeline: audio cleanup failed, using raw capture", "err", err)
		default:
			pcm, rate = cleaned.PCM, cleaned.SampleRate
		}
	}

	ctx, span := observe.StartSpan(ctx, "pipeline.recognize")
	start := time.Now()
	tr, err := c.deps.Recognizer.Recognize(ctx, stt.Utterance{PCM: pcm, SampleRate: rate, Language: c.cfg.Language})
	engine := tr.Engine
	if engine == "" {
		engine = c.deps.Recognizer.Name()
	}
	status := "ok"
	if err != nil {
		status = "error"
		c.metrics.RecordProviderError(ctx, engine, "stt")
	}
	c.metrics.RecordProviderRequest(ctx, engine, "stt", status)
	observe.ObserveStage(ctx, c.metrics.STTDuration, time.Since(start), observe.Attr("engine", engine))
	span.SetAttributes(attribute.String("engine", engine), attribute.Float64("confidence", tr.Confidence))
	observe.EndSpan(span, err)
	return tr, err
}

// dispatch parses the transcript and executes the intent. An executor
// failure still produces a reply.
func (c *Controller) dispatch(t *turn) (State, Trigger, error) {
	in := c.deps.Dispatcher.Parse(t.transcript.Text)
	c.update(t, func(s *Session) {
		s.Turn++
		s.PendingClarification = false
	})

	ctx, cancel := c.sup.bound(t.tok.Context(), StateDispatching)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "pipeline.execute",
		trace.WithAttributes(attribute.String("command", in.Command)),
	)
	start := time.Now()
	res, err := c.deps.Executor.Execute(ctx, in)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observe.ObserveStage(ctx, c.metrics.ExecutorDuration, time.Since(start),
		observe.Attr("command", in.Command),
		observe.Attr("status", status),
	)
	observe.EndSpan(span, err)

	if t.tok.Cancelled() {
		return StateIdle, TriggerStop, t.tok.Cause()
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrExecutorFailure, err)
		slog.Warn("pipeline: execute intent failed", "command", in.Command, "err", err)
		res = executor.ActionResult{Message: c.cfg.Phrases.ExecutorFailure}
	}
	if res.Message == "" {
		res.Message = c.cfg.Phrases.ExecutorFailure
		if res.Success {
			res.Message = c.cfg.Phrases.Done
		}
	}
	t.result = res
	t.attempts = 0
	return StateResponding, TriggerExecuted, nil
}

// respond speaks the executor's message and decides whether to wait for a
// follow-up.
func (c *Controller) respond(t *turn) (State, Trigger, error) {
	res := t.result
	c.say(t, res.Message)
	if res.NeedsMoreInfo {
		c.update(t, func(s *Session) { s.PendingClarification = true })
		return StateNeedsInfo, TriggerNeedsInfo, nil
	}
	return StateIdle, TriggerPlaybackDone, nil
}

// awaitInfo listens for the answer to a follow-up question. The first
// non-silent frame starts a new capture and is carried into it.
func (c *Controller) awaitInfo(t *turn) (State, Trigger, error) {
	ctx := t.tok.Context()
	fire, stop := c.sup.deadline(StateNeedsInfo)
	defer stop()

	var silence time.Duration
	for {
		select {
		case <-ctx.Done():
			return StateIdle, TriggerStop, context.Cause(ctx)
		case text := <-t.override:
			t.overrideText = text
			return StateCapturing, TriggerOverride, nil
		case <-fire:
			return StateIdle, TriggerInfoTimeout, ErrNeedsInfoTimeout
		case f := <-t.frames:
			if !c.cfg.Capture.IsSilent(f) {
				t.carry = &f
				return StateCapturing, TriggerSpeech, nil
			}
			silence += f.Duration()
			if silence >= c.cfg.NeedsInfoTimeout {
				return StateIdle, TriggerInfoTimeout, ErrNeedsInfoTimeout
			}
		}
	}
}

// say synthesises text, hands the reply to the reply handlers and plays it.
// Synthesis never fails; when no engine could voice the text the reply is
// delivered as text only.
func (c *Controller) say(t *turn, text string) {
	c.speak(t.tok.Context(), c.sessionID(t), text)
}

// announce speaks text outside any session. It is a no-op once the
// controller is closed.
func (c *Controller) announce(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.speak(c.ctx, "", text)
	}()
}

func (c *Controller) speak(parent context.Context, sessionID, text string) {
	if text == "" || parent.Err() != nil {
		return
	}
	ctx, cancel := c.sup.bound(parent, StateResponding)
	defer cancel()

	start := time.Now()
	sp := c.deps.Synthesizer.Synthesize(ctx, text)
	engine := sp.Engine
	if sp.TextOnly {
		engine = "text-only"
	}
	observe.ObserveStage(ctx, c.metrics.TTSDuration, time.Since(start), observe.Attr("engine", engine))
	if sp.Fallback && !sp.TextOnly {
		c.metrics.RecordFallback(ctx, "tts", sp.Engine)
	}
	if parent.Err() != nil {
		return
	}

	r := Reply{
		Time:      time.Now(),
		SessionID: sessionID,
		Text:      text,
		TextOnly:  sp.TextOnly,
		Engine:    sp.Engine,
		Fallback:  sp.Fallback,
	}
	if sp.TextOnly && sp.Fallback {
		r.Err = ErrSynthesisFailure
	}
	for _, h := range c.replies {
		h(r)
	}

	if sp.TextOnly || len(sp.Audio.PCM) == 0 {
		return
	}
	if err := c.deps.Player.Play(ctx, sp.Audio.PCM, sp.Audio.SampleRate); err != nil && parent.Err() == nil {
		slog.Warn("pipeline: playback failed", "err", err)
	}
}
