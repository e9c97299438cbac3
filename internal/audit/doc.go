// Package audit implements async event dispatching for security-relevant operations.
//
// # Components
//
//   - [Sink] receives events. Implementations: channel, JSON lines, zap, no-op.
//   - [Dispatcher] is a buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event] is the structured record: timestamp, type, user, IP, outcome, metadata.
//
// This package owns buffering and delivery only. The engine decides which
// events to emit.
package audit
