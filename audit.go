package goRotate

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goRotate/internal/audit"
)

// AuditEvent is one rotation, revocation or anomaly decision.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's async dispatcher.
type AuditSink = audit.Sink

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink delivers audit events into a buffered channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// LoggerSink writes audit events through a zerolog logger.
type LoggerSink = audit.LoggerSink

// NewChannelSink returns a sink that buffers up to buffer events for Events.
func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

// NewJSONWriterSink writes one JSON object per event to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

// NewLoggerSink logs each event through log.
func NewLoggerSink(log zerolog.Logger) *LoggerSink { return audit.NewLoggerSink(log) }
