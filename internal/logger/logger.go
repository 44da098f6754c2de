// Package logger implements a non-blocking, batched request logger.
//
// Entries go to a buffered channel and are flushed in batches by a
// background goroutine, so logging never blocks a request handler. When the
// channel is full (10 000 entries) new entries are dropped and counted in
// DroppedLogs.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// RequestLog summarizes one API request.
type RequestLog struct {
	ID          uuid.UUID
	Route       string
	UserID      string
	Fingerprint string
	Outcome     string
	Source      string
	LatencyMs   uint32
	Status      uint16
	Cached      bool
	Deduped     bool
	CreatedAt   time.Time
}

// Logger writes RequestLog entries through slog off the request path.
type Logger struct {
	ch        chan RequestLog
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	dropped   atomic.Int64

	baseCtx context.Context
	log     *slog.Logger
	batch   []RequestLog
}

// Option configures a Logger.
type Option func(*Logger)

// WithBuffer sets the channel capacity. Mostly useful in tests.
func WithBuffer(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.ch = make(chan RequestLog, n)
		}
	}
}

// New starts the background writer. It stops when Close is called.
func New(ctx context.Context, slogger *slog.Logger, opts ...Option) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("logger: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	l := &Logger{
		ch:      make(chan RequestLog, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     slogger,
		batch:   make([]RequestLog, 0, batchSize),
	}
	for _, o := range opts {
		o(l)
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Log enqueues entry without blocking. Entries that do not fit are dropped.
func (l *Logger) Log(entry RequestLog) {
	select {
	case <-l.done:
		l.dropped.Add(1)
		return
	default:
	}
	select {
	case l.ch <- entry:
	default:
		l.dropped.Add(1)
	}
}

// DroppedLogs is the number of entries discarded so far.
func (l *Logger) DroppedLogs() int64 { return l.dropped.Load() }

// Close flushes queued entries and stops the writer. Safe to call twice.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	l.wg.Wait()
	if n := l.DroppedLogs(); n > 0 {
		l.log.Warn("request log entries dropped", slog.Int64("count", n))
	}
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-l.ch:
			l.add(entry)
		case <-ticker.C:
			l.flush()
		case <-l.done:
			l.drain()
			return
		}
	}
}

// drain empties the channel after Close.
func (l *Logger) drain() {
	for {
		select {
		case entry := <-l.ch:
			l.add(entry)
		default:
			l.flush()
			return
		}
	}
}

func (l *Logger) add(entry RequestLog) {
	l.batch = append(l.batch, entry)
	if len(l.batch) >= batchSize {
		l.flush()
	}
}

func (l *Logger) flush() {
	for _, e := range l.batch {
		l.write(e)
	}
	l.batch = l.batch[:0]
}

func (l *Logger) write(e RequestLog) {
	attrs := []slog.Attr{
		slog.String("id", e.ID.String()),
		slog.String("route", e.Route),
		slog.Int("status", int(e.Status)),
		slog.Uint64("latency_ms", uint64(e.LatencyMs)),
		slog.Time("created_at", normalizeTime(e.CreatedAt)),
	}
	if e.UserID != "" {
		attrs = append(attrs, slog.String("user_id", e.UserID))
	}
	if e.Fingerprint != "" {
		attrs = append(attrs,
			slog.String("fingerprint", shortFingerprint(e.Fingerprint)),
			slog.String("outcome", e.Outcome),
			slog.Bool("cached", e.Cached),
			slog.Bool("deduped", e.Deduped),
		)
	}
	if e.Source != "" {
		attrs = append(attrs, slog.String("source", e.Source))
	}
	l.log.LogAttrs(l.baseCtx, slog.LevelInfo, "request", attrs...)
}

// shortFingerprint keeps log lines readable; 12 hex chars are plenty to
// correlate requests.
func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
