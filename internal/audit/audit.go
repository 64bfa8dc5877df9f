package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is one security-relevant engine decision.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	UserID     string            `json:"user_id,omitempty"`
	FamilyID   string            `json:"family_id,omitempty"`
	TokenID    string            `json:"token_id,omitempty"`
	Generation uint64            `json:"generation"`
	DeviceID   string            `json:"device_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SeverityAlarm marks events that signal probable token theft or forgery.
const SeverityAlarm = "alarm"

// IsAlarm reports whether the event carries the alarm severity.
func (e Event) IsAlarm() bool { return e.Metadata["severity"] == SeverityAlarm }

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

// NewChannelSink returns a ChannelSink holding up to buffer events.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events exposes the buffered events.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink returns a sink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// LoggerSink writes each event as a structured zerolog record. Failed events are
// logged at warn level, security alarms (reuse, forgery) at error level.
type LoggerSink struct {
	log zerolog.Logger
}

// NewLoggerSink tags every record with component=audit.
func NewLoggerSink(log zerolog.Logger) *LoggerSink {
	return &LoggerSink{log: log.With().Str("component", "audit").Logger()}
}

func (s *LoggerSink) Emit(_ context.Context, event Event) {
	var e *zerolog.Event
	switch {
	case event.Success:
		e = s.log.Info()
	case event.IsAlarm():
		e = s.log.Error()
	default:
		e = s.log.Warn()
	}
	e = e.Time("at", event.Timestamp).
		Str("event", event.EventType).
		Bool("success", event.Success).
		Uint64("generation", event.Generation)
	for k, v := range map[string]string{
		"user_id":    event.UserID,
		"family_id":  event.FamilyID,
		"token_id":   event.TokenID,
		"device_id":  event.DeviceID,
		"ip":         event.IP,
		"user_agent": event.UserAgent,
		"error":      event.Error,
	} {
		if v != "" {
			e = e.Str(k, v)
		}
	}
	if len(event.Metadata) > 0 {
		e = e.Interface("metadata", event.Metadata)
	}
	e.Send()
}
