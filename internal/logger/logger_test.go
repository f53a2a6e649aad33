package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RequestID(ctx); got != "" {
		t.Errorf("empty context: got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("got %q, want req-123", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAsyncHandlerDeliversRecordsJSON(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	h := NewAsyncHandler(inner, 16, 1)

	log := slog.New(h)
	log.Info("hello", "k", "v")

	h.Close()

	if !bytes.Contains(buf.Bytes(), []byte("hello")) {
		t.Errorf("record not delivered: %s", buf.String())
	}
	if h.DroppedCount() != 0 {
		t.Errorf("dropped = %d, want 0", h.DroppedCount())
	}
}

func TestAsyncHandlerDropsWhenFull(t *testing.T) {
	blocked := make(chan struct{})
	inner := &blockingHandler{release: blocked}
	h := NewAsyncHandler(inner, 1, 1)

	log := slog.New(h)
	// First record occupies the worker, second fills the channel, the rest drop.
	for range 10 {
		log.Info("x")
	}
	close(blocked)
	h.Close()

	if h.DroppedCount() == 0 {
		t.Error("expected dropped records")
	}
}

type blockingHandler struct {
	release chan struct{}
}

func (b *blockingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (b *blockingHandler) Handle(context.Context, slog.Record) error {
	<-b.release
	return nil
}
func (b *blockingHandler) WithAttrs([]slog.Attr) slog.Handler { return b }
func (b *blockingHandler) WithGroup(string) slog.Handler      { return b }

func TestAsyncHandlerCloseDrains(t *testing.T) {
	var buf bytes.Buffer
	h := NewAsyncHandler(slog.NewJSONHandler(&buf, nil), 64, 2)
	log := slog.New(h)
	for i := range 20 {
		log.Info("msg", "i", i)
	}
	done := make(chan struct{})
	go func() {
		h.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not drain in time")
	}
}
