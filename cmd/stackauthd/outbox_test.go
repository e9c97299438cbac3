package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFileOutboxAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.jsonl")

	box, closeFn, err := openOutbox(path, zap.NewNop())
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, box.Deliver(context.Background(), outboxMessage{Kind: kindEmailVerification, Email: "ada@example.com", Token: "v1", At: at}))
	require.NoError(t, box.Deliver(context.Background(), outboxMessage{Kind: kindPasswordReset, Email: "ada@example.com", Token: "r1", At: at}))
	closeFn()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var got []outboxMessage
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var msg outboxMessage
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &msg))
		got = append(got, msg)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, got, 2)
	assert.Equal(t, "v1", got[0].Token)
	assert.Equal(t, kindPasswordReset, got[1].Kind)
	assert.True(t, got[1].At.Equal(at))
}

func TestOpenOutboxBadPath(t *testing.T) {
	_, _, err := openOutbox(filepath.Join(t.TempDir(), "missing", "outbox.jsonl"), zap.NewNop())
	require.Error(t, err)
}

func TestDiscardOutboxNeverLogsToken(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	box, closeFn, err := openOutbox("", zap.New(core))
	require.NoError(t, err)
	defer closeFn()

	require.NoError(t, box.Deliver(context.Background(), outboxMessage{Kind: kindPasswordReset, Email: "ada@example.com", Token: "secret-token"}))

	entries := logs.All()
	require.Len(t, entries, 1)
	for _, field := range entries[0].Context {
		assert.NotEqual(t, "secret-token", field.String, field.Key)
	}
	assert.Equal(t, "ada@example.com", entries[0].ContextMap()["email"])
}
