package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.uber.org/zap"
)

// Outbox message kinds.
const (
	kindEmailVerification = "email-verification"
	kindPasswordReset     = "password-reset"
)

// outboxMessage is one token waiting for delivery by a mailer.
type outboxMessage struct {
	Kind  string    `json:"kind"`
	Email string    `json:"email"`
	Token string    `json:"token"`
	At    time.Time `json:"at"`
}

// outbox hands purpose tokens to whatever delivers email.
type outbox interface {
	Deliver(ctx context.Context, msg outboxMessage) error
}

// fileOutbox appends one JSON object per line.
type fileOutbox struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *fileOutbox) Deliver(_ context.Context, msg outboxMessage) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()
	_, err = o.w.Write(line)
	return err
}

// discardOutbox drops tokens. The token itself is never logged.
type discardOutbox struct {
	logger *zap.Logger
}

func (o discardOutbox) Deliver(_ context.Context, msg outboxMessage) error {
	o.logger.Warn("no outbox configured, token not delivered",
		zap.String("kind", msg.Kind),
		zap.String("email", msg.Email))
	return nil
}

// openOutbox returns a file outbox for path, or a discarding one when path
// is empty.
func openOutbox(path string, logger *zap.Logger) (outbox, func(), error) {
	if path == "" {
		return discardOutbox{logger: logger}, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, oops.Code("OUTBOX_OPEN_FAILED").With("path", path).Wrap(err)
	}
	return &fileOutbox{w: f}, func() { _ = f.Close() }, nil
}
