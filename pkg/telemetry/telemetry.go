// Package telemetry provides a fire-and-forget event sink. Emission never
// blocks and never affects control flow; a failing sink is a silent sink.
package telemetry

import (
	"log/slog"
	"sync"
)

// Sink receives named events with string properties and numeric
// measurements.
type Sink interface {
	Emit(event string, properties map[string]string, measurements map[string]float64)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(string, map[string]string, map[string]float64) {}

// SlogSink writes events through a slog.Logger at debug level.
type SlogSink struct {
	Logger *slog.Logger
}

// NewSlogSink creates a sink backed by the given logger, or slog.Default()
// when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{Logger: logger}
}

func (s *SlogSink) Emit(event string, properties map[string]string, measurements map[string]float64) {
	attrs := make([]any, 0, 2*(len(properties)+len(measurements)))
	for k, v := range properties {
		attrs = append(attrs, k, v)
	}
	for k, v := range measurements {
		attrs = append(attrs, k, v)
	}
	s.Logger.Debug("telemetry: "+event, attrs...)
}

// Recorded is one captured event.
type Recorded struct {
	Event        string
	Properties   map[string]string
	Measurements map[string]float64
}

// Recorder captures events for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func (r *Recorder) Emit(event string, properties map[string]string, measurements map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Event: event, Properties: properties, Measurements: measurements})
}

// Events returns a copy of the captured events.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}
