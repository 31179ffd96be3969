// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package interaction

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local)
	return func() time.Time { return ts }
}

func TestLogFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "interactions.log")
	l := New(path, WithClock(fixedClock()))

	l.Log("user", "agent", "旅游业发展如何？", KindQuery)

	want := "[2026-03-14 09:30:00] [user -> agent] (query): 旅游业发展如何？\n"
	if got := l.Read(); got != want {
		t.Fatalf("unexpected log content:\n got: %q\nwant: %q", got, want)
	}
}

func TestLogDeduplicatesConsecutiveRecords(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "interactions.log"))

	l.Log("agent", "mcp", "call", KindToolCall)
	l.Log("agent", "mcp", "call", KindToolCall)

	lines := strings.Split(strings.TrimSpace(l.Read()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 record, got %d: %v", len(lines), lines)
	}
}

func TestLogKeepsNonAdjacentDuplicates(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "interactions.log"))

	l.Log("agent", "mcp", "call", KindToolCall)
	l.Log("mcp", "agent", "result", KindResult)
	l.Log("agent", "mcp", "call", KindToolCall)
	l.Log("agent", "mcp", "call", KindInfo)

	lines := strings.Split(strings.TrimSpace(l.Read()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 records, got %d: %v", len(lines), lines)
	}
}

func TestLogDedupIsPerInstance(t *testing.T) {
	dir := t.TempDir()
	a := New(filepath.Join(dir, "a.log"))
	b := New(filepath.Join(dir, "b.log"))

	a.Log("user", "agent", "hello", "")
	b.Log("user", "agent", "hello", "")

	if a.Read() == "" || b.Read() == "" {
		t.Fatalf("expected both logs to be written independently")
	}
	if !strings.Contains(a.Read(), "(info)") {
		t.Fatalf("expected default kind info, got %q", a.Read())
	}
}

func TestLogWriteFailureDoesNotPropagate(t *testing.T) {
	dir := t.TempDir()
	// The log path is an existing directory, so opening it for append fails.
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	l := New(dir, WithErrorLogger(logger))

	l.Log("user", "agent", "hello", KindQuery)

	if !strings.Contains(buf.String(), "interaction.log.write_error") {
		t.Fatalf("expected write error to be reported, got %q", buf.String())
	}
}

func TestLogFailedWriteIsNotCommitted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "interactions.log")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	l := New(path, WithErrorLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	l.Log("user", "agent", "hello", KindQuery)

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	l.Log("user", "agent", "hello", KindQuery)

	if !strings.Contains(l.Read(), "hello") {
		t.Fatalf("expected retry of a failed write to be persisted")
	}
}

func TestReadMissingFile(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "missing.log"))
	if got := l.Read(); got != "" {
		t.Fatalf("expected empty log, got %q", got)
	}
}
