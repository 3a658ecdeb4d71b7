package logger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func newTestHandler(buf *bytes.Buffer, format logFormat) (*structuredHandler, *asyncWriter) {
	aw := newAsyncWriter([]sink{{w: buf, min: slog.LevelDebug}}, 1024)
	return newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   format,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	}), aw
}

func closeWriter(t *testing.T, aw *asyncWriter) {
	t.Helper()
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)
	ctx := WithRID(Background(), "rid-123")
	ctx = WithEventMeta(ctx, "telegram", 42, "9")

	log := slog.New(handler).With("component", "app")
	LogEvent(ctx, log, slog.LevelInfo, "test.event",
		slog.String("status", "ok"),
		slog.String("verb", "add"),
	)
	closeWriter(t, aw)

	line := strings.TrimSpace(buf.String())
	tokens := strings.Split(line, " ")
	expected := []string{"ts=", "level=INFO", "component=app", "event=test.event", "status=ok", "rid=rid-123", "front=telegram", "update_id=42", "user_id=9", "verb=add"}
	if len(tokens) < len(expected) {
		t.Fatalf("unexpected token count: %d (%s)", len(tokens), line)
	}
	for i, prefix := range expected {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
}

func TestStructuredHandlerJSONOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatJSON)
	ctx := WithRID(Background(), "rid-json")
	ctx = WithState(WithEventMeta(ctx, "facebook", 11, "33"), "HANDLE_MENU")

	log := slog.New(handler).With("component", "fsm")
	LogEvent(ctx, log, slog.LevelError, "handle.failed",
		slog.String("status", "fail"),
		slog.String("err", "boom"),
		slog.String("err_code", "UPSTREAM_ERROR"),
	)
	closeWriter(t, aw)

	line := strings.TrimSpace(buf.String())
	prefixes := []string{`{"ts":`, `"level":"ERROR"`, `"component":"fsm"`, `"event":"handle.failed"`, `"status":"fail"`, `"rid":"rid-json"`, `"front":"facebook"`, `"user_id":"33"`, `"state":"HANDLE_MENU"`, `"err":"boom"`}
	pos := -1
	for _, pref := range prefixes {
		idx := strings.Index(line, pref)
		if idx == -1 || idx < pos {
			t.Fatalf("prefix %s not found in order within %s", pref, line)
		}
		pos = idx
	}
}

func TestStructuredHandlerCompactRID(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatJSON)
	rawRID := BuildRID("telegram", 36, "35")
	ctx := WithRID(Background(), rawRID)
	LogEvent(ctx, slog.New(handler), slog.LevelInfo, "rid.test")
	closeWriter(t, aw)

	line := buf.String()
	if !strings.Contains(line, `"rid":"telegram.10.z"`) {
		t.Fatalf("expected compact rid, got %s", line)
	}
	if !strings.Contains(line, `"rid_full":"telegram:36:35"`) {
		t.Fatalf("expected rid_full in JSON output, got %s", line)
	}
}

func TestCompactRIDKeepsForeignFormats(t *testing.T) {
	for _, rid := range []string{"", "plain", "a:b", ":1:2", "tg:1:"} {
		got := CompactRID(rid)
		if rid != "" && got != strings.TrimSpace(rid) {
			t.Fatalf("CompactRID(%q) = %q", rid, got)
		}
	}
	if got := CompactRID("facebook:1:psid-x"); got != "facebook.1.psid-x" {
		t.Fatalf("unexpected compact rid %q", got)
	}
}

func TestErrorRecordsReachAlertHook(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)
	defer closeWriter(t, aw)

	var mu sync.Mutex
	var got []string
	SetAlertHook(func(_ context.Context, summary string) {
		mu.Lock()
		got = append(got, summary)
		mu.Unlock()
	})
	defer SetAlertHook(nil)

	log := slog.New(handler).With("component", "commerce")
	LogEvent(Background(), log, slog.LevelWarn, "slow")
	LogEvent(Background(), log, slog.LevelError, "token.failed", slog.String("err", "denied"))
	LogEvent(Background(), log, slog.LevelError, "alert.failed", slog.String("action", ActionAlertSend))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected a single alert, got %d: %v", len(got), got)
	}
	if !strings.Contains(got[0], "event=token.failed") || !strings.Contains(got[0], "err=denied") {
		t.Fatalf("unexpected alert summary %q", got[0])
	}
}

func TestErrorsOnlySinkFiltersLevels(t *testing.T) {
	all := &bytes.Buffer{}
	errs := &bytes.Buffer{}
	aw := newAsyncWriter([]sink{{w: all, min: slog.LevelDebug}, {w: errs, min: slog.LevelError}}, 1024)
	handler := newStructuredHandler(handlerConfig{level: slog.LevelInfo, writer: aw, format: formatKV})

	log := slog.New(handler)
	LogEvent(Background(), log, slog.LevelInfo, "one")
	LogEvent(Background(), log, slog.LevelError, "two")
	closeWriter(t, aw)

	if n := strings.Count(all.String(), "\n"); n != 2 {
		t.Fatalf("expected 2 lines in main sink, got %d", n)
	}
	if strings.Contains(errs.String(), "event=one") || !strings.Contains(errs.String(), "event=two") {
		t.Fatalf("errors sink got %q", errs.String())
	}
}

type codedErr struct{}

func (codedErr) Error() string { return "coded" }
func (codedErr) Code() string  { return "STORE_UNAVAILABLE" }

func TestErrorCode(t *testing.T) {
	if got := ErrorCode(nil); got != "" {
		t.Fatalf("nil error code = %q", got)
	}
	if got := ErrorCode(fmt.Errorf("wrap: %w", codedErr{})); got != "STORE_UNAVAILABLE" {
		t.Fatalf("wrapped code = %q", got)
	}
	if got := ErrorCode(errors.New("plain")); got != "INTERNAL" {
		t.Fatalf("plain code = %q", got)
	}
}

func TestEventSamplerPerEvent(t *testing.T) {
	s := newEventSampler(1, 3)
	pattern := []bool{true, false, false, true}
	for i, want := range pattern {
		if got := s.Allow("a"); got != want {
			t.Fatalf("allow a #%d = %v", i, got)
		}
	}
	if !s.Allow("b") {
		t.Fatal("first record of another event must pass")
	}
	if n, d := parseRatioSpec("2/5"); n != 2 || d != 5 {
		t.Fatalf("parseRatioSpec = %d/%d", n, d)
	}
	if n, d := parseRatioSpec("10"); n != 1 || d != 10 {
		t.Fatalf("parseRatioSpec bare = %d/%d", n, d)
	}
}
