package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/rebrick/rebrick/internal/model"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSanitizeError(t *testing.T) {
	t.Parallel()

	dsn := "postgres://rebrick:s3cret@db:5432/rebrick?sslmode=disable"
	err := errors.New("connect " + dsn + " failed password=hunter2")

	got := sanitizeError(err, dsn, "")
	if strings.Contains(got, "s3cret") || strings.Contains(got, "hunter2") {
		t.Fatalf("secret leaked: %s", got)
	}
	if !strings.Contains(got, "postgres://rebrick@db:5432/rebrick") {
		t.Errorf("expected redacted dsn, got %s", got)
	}
	if sanitizeError(nil) != "" {
		t.Error("nil error should sanitize to empty string")
	}
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"redis://:pw@cache:6379/0", "redis://redacted@cache:6379/0"},
		{"nats://nats:4222", "nats://nats:4222"},
		{"://bad", "[redacted]"},
	}
	for _, tt := range tests {
		if got := redactURL(tt.in); got != tt.want {
			t.Errorf("redactURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPagePath(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"pages/index.html":   "/",
		"home.html":          "/",
		"/tmp/site/menu.htm": "/menu",
		"about-us.html":      "/about-us",
	}
	for in, want := range tests {
		if got := pagePath(in); got != want {
			t.Errorf("pagePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParsePreviewArgs(t *testing.T) {
	t.Parallel()

	urls, err := parsePreviewArgs([]string{
		"homepage=https://preview.example/home",
		"Menu=https://preview.example/menu",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if urls[model.PageHomepage] != "https://preview.example/home" || urls[model.PageMenu] != "https://preview.example/menu" {
		t.Errorf("unexpected urls: %v", urls)
	}

	for _, bad := range []string{"homepage", "homepage=", "pricing=https://x.example"} {
		if _, err := parsePreviewArgs([]string{bad}); err == nil {
			t.Errorf("parsePreviewArgs(%q) expected error", bad)
		}
	}
}

type fakeNATS bool

func (f fakeNATS) IsConnected() bool { return bool(f) }

func TestNATSChecker(t *testing.T) {
	t.Parallel()

	if err := (natsChecker{fakeNATS(true)}).Ping(context.Background()); err != nil {
		t.Errorf("connected: unexpected error %v", err)
	}
	if err := (natsChecker{fakeNATS(false)}).Ping(context.Background()); err == nil {
		t.Error("disconnected: expected error")
	}
}
