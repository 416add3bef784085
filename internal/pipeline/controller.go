package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxcal/internal/archive"
	"github.com/MrWong99/voxcal/internal/cleaner"
	"github.com/MrWong99/voxcal/internal/executor"
	"github.com/MrWong99/voxcal/internal/intent"
	"github.com/MrWong99/voxcal/internal/observe"
	"github.com/MrWong99/voxcal/pkg/audio"
	"github.com/MrWong99/voxcal/pkg/provider/stt"
	"github.com/MrWong99/voxcal/pkg/provider/tts"
	"github.com/MrWong99/voxcal/pkg/provider/wake"
)

const archiveTimeout = 5 * time.Second

// Activation cue defaults.
const (
	cueHz      = 880
	cueLength  = 120 * time.Millisecond
	cueLevelDB = -12
)

// ErrEmptyTranscript is returned by SubmitTranscriptOverride for blank text.
var ErrEmptyTranscript = errors.New("pipeline: empty transcript")

// AudioCleaner prepares a captured utterance for recognition.
type AudioCleaner interface {
	Clean(ctx context.Context, pcm []byte, sampleRate int) (cleaner.CleanedAudio, error)
}

// NoiseLearner is implemented by cleaners that can learn the room's noise
// from a sample of silence. The controller feeds it the silence that
// confirmed each wake.
type NoiseLearner interface {
	LearnNoise(pcm []byte, sampleRate int) error
}

// Deps are the collaborators of a [Controller]. Cleaner and Player are
// optional.
type Deps struct {
	Wake        wake.Detector
	Cleaner     AudioCleaner
	Recognizer  stt.Recognizer
	Dispatcher  intent.Dispatcher
	Executor    executor.Executor
	Synthesizer tts.Synthesizer
	Player      audio.Player
}

func (d Deps) validate() error {
	var errs []error
	if d.Wake == nil {
		errs = append(errs, errors.New("wake detector is required"))
	}
	if d.Recognizer == nil {
		errs = append(errs, errors.New("recognizer is required"))
	}
	if d.Dispatcher == nil {
		errs = append(errs, errors.New("dispatcher is required"))
	}
	if d.Executor == nil {
		errs = append(errs, errors.New("executor is required"))
	}
	if d.Synthesizer == nil {
		errs = append(errs, errors.New("synthesizer is required"))
	}
	return errors.Join(errs...)
}

// Option configures a [Controller].
type Option func(*Controller)

// WithConfig sets thresholds and timeouts.
func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

// WithEventSinks adds transition observers. Sinks are called in transition
// order and must not call back into the controller.
func WithEventSinks(sinks ...EventSink) Option {
	return func(c *Controller) { c.sinks = append(c.sinks, sinks...) }
}

// WithReplyHandler adds a reply observer.
func WithReplyHandler(h ReplyHandler) Option {
	return func(c *Controller) { c.replies = append(c.replies, h) }
}

// WithMetrics records stage latencies and counters into m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithArchive saves every confirmed session to store when it ends.
func WithArchive(store archive.Store) Option {
	return func(c *Controller) { c.store = store }
}

// WithCue replaces the activation cue. Empty pcm disables it.
func WithCue(pcm []byte, sampleRate int) Option {
	return func(c *Controller) { c.cue, c.cueRate = pcm, sampleRate }
}

// Controller is the voice pipeline state machine. It owns the session, its
// timers and its cancellation; no other component changes session state.
//
// All exported methods are safe for concurrent use.
type Controller struct {
	deps    Deps
	cfg     Config
	sup     supervisor
	sinks   []EventSink
	replies []ReplyHandler
	metrics *observe.Metrics
	store   archive.Store
	cue     []byte
	cueRate int

	sensitivity   atomic.Uint64
	voiceDisabled atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	frameMu sync.Mutex
	gate    audio.SeqGate

	mu     sync.Mutex
	state  State
	turn   *turn
	closed bool

	// emitMu keeps sinks in transition order without holding mu.
	emitMu sync.Mutex

	wg sync.WaitGroup
}

// New returns an idle controller. Feed it frames with [Controller.Run] or
// [Controller.WakeFrame] and release it with [Controller.Close].
func New(deps Deps, opts ...Option) (*Controller, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	c := &Controller{
		deps:    deps,
		cfg:     DefaultConfig(),
		cue:     audio.Tone(cueHz, cueLength, audio.PipelineFormat.SampleRate, cueLevelDB),
		cueRate: audio.PipelineFormat.SampleRate,
	}
	for _, o := range opts {
		o(c)
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: invalid config: %w", err)
	}
	c.cfg = c.cfg.withDefaults()
	c.sup = newSupervisor(c.cfg)
	c.sensitivity.Store(math.Float64bits(c.cfg.Sensitivity))
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.deps.Player == nil {
		c.deps.Player = audio.NewSerialPlayer(nil)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.checkVoice()
	return c, nil
}

// Run feeds frames from src into the controller until ctx is cancelled, the
// source ends or the controller is closed. It is the wake listening task;
// only one Run should be active at a time.
func (c *Controller) Run(ctx context.Context, src audio.Source) error {
	frames := src.Frames()
	slog.Info("pipeline: listening for wake phrase")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.ctx.Done():
			return ErrClosed
		case f, ok := <-frames:
			if !ok {
				slog.Info("pipeline: audio source ended")
				return nil
			}
			c.WakeFrame(f)
		}
	}
}

// WakeFrame delivers one microphone frame. While idle the frame is scored by
// the wake detector; while a session is listening it goes to the session.
// Frames that arrive out of sequence order are dropped.
func (c *Controller) WakeFrame(f audio.Frame) {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()
	if !c.gate.Accept(f) {
		c.metrics.RecordDroppedFrames(c.ctx, "out_of_order", 1)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if t := c.turn; t != nil {
		// Wake detection is off while a session is active.
		if t.listening {
			select {
			case t.frames <- f:
			default:
				c.metrics.RecordDroppedFrames(c.ctx, "backlog", 1)
			}
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.voiceDisabled.Load() || !c.checkVoice() {
		return
	}
	score := c.deps.Wake.Detect(f)
	if score <= c.Sensitivity() {
		return
	}
	slog.Debug("pipeline: wake detected", "score", score)
	c.startTurn(TriggerWake, "")
}

// SubmitTranscriptOverride injects text as if it had been recognised with
// full confidence. While idle it opens a session the way a wake does; while a
// session is listening it replaces the utterance being captured. It returns
// ErrBusy while an utterance is being processed.
func (c *Controller) SubmitTranscriptOverride(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyTranscript
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	t, st := c.turn, c.state
	if t == nil {
		c.mu.Unlock()
		if !c.startTurn(TriggerOverride, text) {
			return ErrBusy
		}
		return nil
	}
	defer c.mu.Unlock()
	switch st {
	case StateWakeConfirm, StateCapturing, StateNeedsInfo:
		select {
		case t.override <- text:
			return nil
		default:
		}
	}
	return ErrBusy
}

// Stop ends the active session immediately, cancelling any recognition,
// execution or playback in flight. It reports whether a session was active.
func (c *Controller) Stop() bool {
	return c.finish(nil, TriggerStop, errStopped)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the active session, if any. During WAKE_CONFIRM the
// session exists but has no ID yet.
func (c *Controller) Current() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == nil {
		return Session{}, false
	}
	return c.turn.session, true
}

// SessionState returns the active session with the given ID. Sessions that
// have ended are only available from the archive.
func (c *Controller) SessionState(id string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == nil || !c.turn.confirmed || c.turn.session.ID != id {
		return Session{}, false
	}
	return c.turn.session, true
}

// Sensitivity returns the wake threshold.
func (c *Controller) Sensitivity() float64 {
	return math.Float64frombits(c.sensitivity.Load())
}

// SetSensitivity changes the wake threshold. It takes effect on the next
// frame.
func (c *Controller) SetSensitivity(v float64) error {
	if v < 0 || v >= 1 || math.IsNaN(v) {
		return fmt.Errorf("pipeline: sensitivity %v out of range [0, 1)", v)
	}
	c.sensitivity.Store(math.Float64bits(v))
	return nil
}

// VoiceEnabled reports whether voice input is available. It turns false for
// the rest of the process once every recognition engine has failed fatally,
// whether that surfaced in a session or in the wake detector.
func (c *Controller) VoiceEnabled() bool {
	return !c.voiceDisabled.Load() && voiceAvailable(c.deps) == nil
}

// DroppedFrames returns the number of frames rejected for sequence order.
func (c *Controller) DroppedFrames() uint64 { return c.gate.Dropped() }

// Close ends the active session, stops accepting frames and waits for
// background work, including pending archive writes.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.finish(nil, TriggerShutdown, ErrClosed)
	c.cancel()
	c.wg.Wait()
	return nil
}

// startTurn opens a session in WAKE_CONFIRM. It returns false if a session is
// already active or the controller is closed.
func (c *Controller) startTurn(trig Trigger, override string) bool {
	c.mu.Lock()
	if c.closed || c.turn != nil {
		c.mu.Unlock()
		return false
	}
	t := newTurn(c.ctx, c.cfg.FrameBuffer)
	if override != "" {
		t.override <- override
	}
	c.turn = t
	ev := c.applyLocked(t, StateWakeConfirm, trig)
	c.wg.Add(1)
	c.publish(ev)

	go c.run(t)
	return true
}

// transition moves t to state to. It returns false when t has been stopped;
// the caller must then unwind without further side effects.
func (c *Controller) transition(t *turn, to State, trig Trigger) bool {
	c.mu.Lock()
	if c.turn != t || t.tok.Cancelled() {
		c.mu.Unlock()
		return false
	}
	ev := c.applyLocked(t, to, trig)
	c.publish(ev)
	return true
}

// finish returns t to IDLE and archives it. A nil t means the active turn.
func (c *Controller) finish(t *turn, trig Trigger, cause error) bool {
	c.mu.Lock()
	if t == nil {
		t = c.turn
	}
	if t == nil || c.turn != t {
		c.mu.Unlock()
		return false
	}
	t.tok.Cancel(cause)
	ev := c.applyLocked(t, StateIdle, trig)
	confirmed := t.confirmed
	rec := t.record(ev.Time, outcomeFor(cause))
	c.publish(ev)

	c.frameMu.Lock()
	c.deps.Wake.Reset()
	c.frameMu.Unlock()
	if confirmed {
		c.metrics.ActiveSessions.Add(context.Background(), -1)
		slog.Info("pipeline: session ended",
			"session_id", rec.ID,
			"outcome", rec.Outcome,
			"turns", rec.Turns,
			"stt_retries", rec.STTRetries,
			"duration", rec.Duration(),
		)
		c.archive(rec)
	}
	return true
}

// applyLocked performs the state change and its session side effects.
// Caller holds c.mu.
func (c *Controller) applyLocked(t *turn, to State, trig Trigger) Event {
	from := c.state
	if !CanTransition(from, to) {
		slog.Error("pipeline: illegal transition", "from", from, "to", to, "trigger", trig)
	}
	now := time.Now()
	c.state = to

	switch to {
	case StateWakeConfirm, StateCapturing, StateNeedsInfo:
		t.listening = true
	default:
		if t.listening {
			t.listening = false
			t.drain()
		}
	}
	if to == StateCapturing && !t.confirmed {
		t.confirmed = true
		t.session.ID = uuid.NewString()
		t.session.CreatedAt = now
		c.metrics.ActiveSessions.Add(context.Background(), 1)
	}
	if to == StateIdle {
		c.turn = nil
	}

	t.session.State = to
	t.session.LastActivity = now
	t.timeline = append(t.timeline, archive.Transition{
		Time:    now,
		From:    from.String(),
		To:      to.String(),
		Trigger: string(trig),
	})
	return Event{Time: now, From: from, To: to, Trigger: trig, SessionID: t.session.ID}
}

// publish delivers ev to the sinks and releases c.mu. Caller holds c.mu.
func (c *Controller) publish(ev Event) {
	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()
	for _, s := range c.sinks {
		s.Emit(ev)
	}
}

func (c *Controller) archive(rec archive.Record) {
	if c.store == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := c.store.Save(ctx, rec); err != nil {
			slog.Warn("pipeline: archive session failed", "session_id", rec.ID, "err", err)
		}
	}()
}

// update mutates the session under the lock. It is a no-op once t has been
// stopped.
func (c *Controller) update(t *turn, fn func(s *Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turn == t {
		fn(&t.session)
	}
}

func (c *Controller) sessionID(t *turn) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return t.session.ID
}

// disableVoice turns voice input off for good. It reports whether this call
// made the change.
func (c *Controller) disableVoice(err error) bool {
	if !c.voiceDisabled.CompareAndSwap(false, true) {
		return false
	}
	slog.Error("pipeline: voice input disabled, no recognition engine available", "err", err)
	return true
}

// checkVoice disables voice input when the recognizer or the wake detector
// report they cannot serve requests, and tells the user once. Sessions that
// hit a fatal recognition error speak the line themselves.
func (c *Controller) checkVoice() bool {
	err := voiceAvailable(c.deps)
	if err == nil {
		return true
	}
	if c.disableVoice(err) {
		c.announce(c.cfg.Phrases.VoiceUnavailable)
	}
	return false
}

func voiceAvailable(d Deps) error {
	if !stt.Available(d.Recognizer) {
		return fmt.Errorf("recognizer %s: %w", d.Recognizer.Name(), stt.ErrEngineUnavailable)
	}
	if ar, ok := d.Wake.(stt.AvailabilityReporter); ok && !ar.Available() {
		return fmt.Errorf("wake detector: %w", stt.ErrEngineUnavailable)
	}
	return nil
}
