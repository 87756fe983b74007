package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logOne runs fn against a ContextHandler logger and decodes the single
// JSON line it writes.
func logOne(t *testing.T, fn func(*slog.Logger)) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	fn(slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil))))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), buf.String())
	return entry
}

func TestContextHandler_RequestID(t *testing.T) {
	entry := logOne(t, func(l *slog.Logger) {
		l.InfoContext(ContextWithRequestID(context.Background(), "req-1"), "issued")
	})
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "issued", entry["msg"])

	entry = logOne(t, func(l *slog.Logger) {
		l.InfoContext(context.Background(), "startup")
	})
	assert.NotContains(t, entry, "request_id")
}

func TestContextHandler_KeepsWithAttrsAndGroups(t *testing.T) {
	entry := logOne(t, func(l *slog.Logger) {
		ctx := ContextWithRequestID(context.Background(), "req-2")
		l.With("service", "tokengated").InfoContext(ctx, "x")
	})
	assert.Equal(t, "tokengated", entry["service"])
	assert.Equal(t, "req-2", entry["request_id"])

	entry = logOne(t, func(l *slog.Logger) {
		ctx := ContextWithRequestID(context.Background(), "req-3")
		l.WithGroup("http").InfoContext(ctx, "x", "status", 200)
	})
	group, ok := entry["http"].(map[string]any)
	require.True(t, ok, "expected http group")
	assert.Equal(t, "req-3", group["request_id"])
	assert.EqualValues(t, 200, group["status"])
}

func TestContextHandler_RedactsCredentials(t *testing.T) {
	entry := logOne(t, func(l *slog.Logger) {
		l.With("signing_key", "hunter2").Info("x",
			"api_key", "tg_secret",
			"Authorization", "Bearer abc",
			"username", "alice",
			slog.Group("req", "token", "eyJ...", "path", "/v1/token"),
		)
	})
	assert.Equal(t, redacted, entry["signing_key"])
	assert.Equal(t, redacted, entry["api_key"])
	assert.Equal(t, redacted, entry["Authorization"])
	assert.Equal(t, "alice", entry["username"])

	req, ok := entry["req"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, redacted, req["token"])
	assert.Equal(t, "/v1/token", req["path"])
}
