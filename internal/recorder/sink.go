package recorder

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// #region sink
// Sink persists session events. Record is called once per event and Flush
// after each one, so a crash loses at most the event in flight.
type Sink interface {
	Record(e Event) error
	Flush() error
	Close() error
}

// #endregion sink

// #region memory
// Memory keeps events in a slice. Used by tests and headless replay.
type Memory struct {
	mu      sync.Mutex
	events  []Event
	flushes int
	closed  bool
}

// NewMemory returns an empty memory sink.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Record(e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.events = append(m.events, e)
	return nil
}

func (m *Memory) Flush() error {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Labels returns the recorded event labels in order.
func (m *Memory) Labels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Label
	}
	return out
}

// Count returns how many events carry label.
func (m *Memory) Count(label string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Label == label {
			n++
		}
	}
	return n
}

// Flushes reports how many times Flush was called.
func (m *Memory) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// #endregion memory

// #region multi
type multi []Sink

// Multi fans every call out to each sink. Errors are joined; one failing
// sink does not stop the others.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Record(e Event) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Record(e))
	}
	return errors.Join(errs...)
}

func (m multi) Flush() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Flush())
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// #endregion multi

// #region log-sink
// LogSink echoes each event to the operator log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink that writes events at debug level.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (l *LogSink) Record(e Event) error {
	fields := []zap.Field{
		zap.String("event", e.Label),
		zap.String("stage", e.Stage),
		zap.Int("trial", e.TrialNum),
		zap.String("type", e.TrialType),
		zap.Duration("session_time", e.SessionTime),
	}
	if e.HasCoords {
		fields = append(fields, zap.Int("x", e.X), zap.Int("y", e.Y))
	}
	l.logger.Debug("event", fields...)
	return nil
}

func (l *LogSink) Flush() error { return nil }

func (l *LogSink) Close() error { return nil }

// #endregion log-sink
