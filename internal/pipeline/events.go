package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/voxcal/internal/observe"
)

// Event describes one state transition. Events carry no transcript text.
type Event struct {
	Time      time.Time `json:"time"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Trigger   Trigger   `json:"trigger"`
	SessionID string    `json:"session_id,omitempty"`
}

// EventSink receives every transition in order. Emit is called
// synchronously from the controller and must not block; sinks that do I/O
// should queue internally.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to [EventSink].
type EventSinkFunc func(Event)

// Emit calls f.
func (f EventSinkFunc) Emit(e Event) { f(e) }

// LogSink writes transitions to a structured logger.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

var _ EventSink = (*LogSink)(nil)

// NewLogSink returns a sink logging at level. A nil logger uses
// slog.Default at the time of each event.
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	return &LogSink{logger: logger, level: level}
}

// Emit implements EventSink.
func (s *LogSink) Emit(e Event) {
	l := s.logger
	if l == nil {
		l = slog.Default()
	}
	l.LogAttrs(context.Background(), s.level, "pipeline transition",
		slog.String("from", e.From.String()),
		slog.String("to", e.To.String()),
		slog.String("trigger", string(e.Trigger)),
		slog.String("session_id", e.SessionID),
	)
}

// MetricsSink counts transitions.
type MetricsSink struct {
	m *observe.Metrics
}

var _ EventSink = (*MetricsSink)(nil)

// NewMetricsSink returns a sink recording into m.
func NewMetricsSink(m *observe.Metrics) *MetricsSink { return &MetricsSink{m: m} }

// Emit implements EventSink.
func (s *MetricsSink) Emit(e Event) {
	s.m.RecordTransition(context.Background(), e.From.String(), e.To.String(), string(e.Trigger))
}

// Reply is one line the controller presented to the user. When TextOnly is
// set no audio was played and the text must be displayed instead.
type Reply struct {
	Time      time.Time `json:"time"`
	SessionID string    `json:"session_id,omitempty"`
	Text      string    `json:"text"`
	TextOnly  bool      `json:"text_only,omitempty"`
	Engine    string    `json:"engine,omitempty"`
	Fallback  bool      `json:"fallback,omitempty"`

	// Err is ErrSynthesisFailure when every engine failed.
	Err error `json:"-"`
}

// ReplyHandler receives replies. Like EventSink it must not block.
type ReplyHandler func(Reply)
