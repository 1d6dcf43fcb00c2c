// Package auditlog provides the single audit event shape shared by the KMS
// envelope layer, the RLS context bridge, and the field-masking pipeline, so
// "every denied decision produces an audit record" is enforced in one place.
package auditlog

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType is one of the audit event categories from spec.md §6.
type EventType string

const (
	Access EventType = "Access"
	Create EventType = "Create"
	Rotate EventType = "Rotate"
	Delete EventType = "Delete"
	Denied EventType = "Denied"
)

// Event is the single audit record shape used across the core.
type Event struct {
	Timestamp       time.Time `json:"timestamp"`
	EventType       EventType `json:"event_type"`
	SecretOrResKey  string    `json:"secret_or_resource_key"`
	User            string    `json:"user"`
	Success         bool      `json:"success"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	Warning         bool      `json:"-"`
	AdditionalField map[string]any `json:"additional,omitempty"`
}

// Sink receives audit events. Implementations must not block the caller for
// long; the default logrus sink simply writes a structured log line.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

// LogrusSink writes audit events as structured logrus entries. It never
// fails and never returns an error: audit delivery is best-effort logging,
// not a transactional write.
type LogrusSink struct {
	log *logrus.Logger
}

// NewLogrusSink returns a Sink backed by l. A nil logger falls back to a
// logger with output discarded, matching the teacher's SetSecurityLogger
// pattern of a safe, silent default.
func NewLogrusSink(l *logrus.Logger) *LogrusSink {
	if l == nil {
		l = logrus.New()
		l.SetOutput(discardWriter{})
	}
	return &LogrusSink{log: l}
}

func (s *LogrusSink) Record(_ context.Context, ev Event) {
	fields := logrus.Fields{
		"event_type": ev.EventType,
		"resource":   ev.SecretOrResKey,
		"user":       ev.User,
		"success":    ev.Success,
	}
	for k, v := range ev.AdditionalField {
		fields[k] = v
	}
	entry := s.log.WithFields(fields)
	switch {
	case ev.ErrorMessage != "":
		entry = entry.WithField("error", ev.ErrorMessage)
		fallthrough
	case ev.Warning:
		entry.Warn("audit event")
	default:
		entry.Info("audit event")
	}
}

// MultiSink fans an event out to every underlying sink.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink { return &MultiSink{sinks: sinks} }

func (m *MultiSink) Record(ctx context.Context, ev Event) {
	for _, s := range m.sinks {
		s.Record(ctx, ev)
	}
}

// MemorySink accumulates events in memory; used by tests that assert on
// exact audit output (e.g. scenario S6's elevated-access pair of records).
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Record(_ context.Context, ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
