package stackauth

import (
	"io"

	internalaudit "github.com/MrEthical07/stackauth/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant outcome emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = internalaudit.Sink

// AuditConfig controls audit buffering.
type AuditConfig = internalaudit.Config

// NoOpSink discards audit events.
type NoOpSink = internalaudit.NoOpSink

// NewChannelSink returns a sink that buffers events on a channel, mostly
// useful in tests.
func NewChannelSink(buffer int) *internalaudit.ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *internalaudit.JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewZapSink returns a sink logging events through logger.
func NewZapSink(logger *zap.Logger) *internalaudit.ZapSink {
	return internalaudit.NewZapSink(logger)
}
