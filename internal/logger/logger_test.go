package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLogger_FlushesOnClose(t *testing.T) {
	var out syncBuffer
	l, err := New(context.Background(), slog.New(slog.NewJSONHandler(&out, nil)))
	require.NoError(t, err)

	id := uuid.New()
	l.Log(RequestLog{
		ID:          id,
		Route:       "/api/generate-design",
		UserID:      "alice",
		Fingerprint: strings.Repeat("ab", 32),
		Outcome:     "cache_hit",
		Source:      "gemini-1.5-flash",
		LatencyMs:   3,
		Status:      200,
		Cached:      true,
		CreatedAt:   time.Unix(1_700_000_000, 0),
	})
	require.NoError(t, l.Close())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "request", rec["msg"])
	assert.Equal(t, id.String(), rec["id"])
	assert.Equal(t, "alice", rec["user_id"])
	assert.Equal(t, "abababababab", rec["fingerprint"])
	assert.Equal(t, "cache_hit", rec["outcome"])
	assert.Equal(t, true, rec["cached"])
	assert.Equal(t, false, rec["deduped"])
}

func TestLogger_NilContext(t *testing.T) {
	var ctx context.Context
	_, err := New(ctx, nil)
	assert.Error(t, err)
}

func TestLogger_CloseIdempotent(t *testing.T) {
	l, err := New(context.Background(), slog.New(slog.NewJSONHandler(&syncBuffer{}, nil)))
	require.NoError(t, err)
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
	assert.Zero(t, l.DroppedLogs())
}

func TestLogger_ChatEntryOmitsDesignFields(t *testing.T) {
	var out syncBuffer
	l, err := New(context.Background(), slog.New(slog.NewJSONHandler(&out, nil)))
	require.NoError(t, err)

	l.Log(RequestLog{ID: uuid.New(), Route: "chat", Source: "gemini-1.5-flash", Status: 200})
	require.NoError(t, l.Close())

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out.String())), &rec))
	assert.Equal(t, "chat", rec["route"])
	assert.Equal(t, "gemini-1.5-flash", rec["source"])
	assert.NotContains(t, rec, "fingerprint")
	assert.NotContains(t, rec, "user_id")
	assert.NotContains(t, rec, "cached")
}

func TestLogger_DropsAfterClose(t *testing.T) {
	l, err := New(context.Background(), slog.New(slog.NewJSONHandler(&syncBuffer{}, nil)), WithBuffer(1))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l.Log(RequestLog{ID: uuid.New()})
	assert.EqualValues(t, 1, l.DroppedLogs())
}
