// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package interaction records every sender -> receiver message exchanged while
// a query is processed, as a human-readable append-only file.
package interaction

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Kinds used by the orchestrator and gateway.
const (
	KindInfo     = "info"
	KindQuery    = "query"
	KindResponse = "response"
	KindSkill    = "skill"
	KindToolCall = "tool_call"
	KindResult   = "tool_result"
	KindRetry    = "retry"
	KindHeal     = "heal"
	KindError    = "error"
)

const timeLayout = "2006-01-02 15:04:05"

// Record is a single interaction.
type Record struct {
	Time     time.Time
	Sender   string
	Receiver string
	Content  string
	Kind     string
}

// Signature identifies a record independently of its timestamp.
func (r Record) Signature() string {
	return fmt.Sprintf("[%s -> %s] (%s): %s", r.Sender, r.Receiver, r.Kind, r.Content)
}

// Line renders the record as it is persisted.
func (r Record) Line() string {
	return fmt.Sprintf("[%s] %s\n", r.Time.Format(timeLayout), r.Signature())
}

// Deduper decides whether a record repeats the one persisted before it.
type Deduper interface {
	// Seen reports whether r duplicates the last committed record.
	Seen(r Record) bool
	// Commit remembers r as the last persisted record.
	Commit(r Record)
}

// LastEntryDeduper drops a record identical to the immediately preceding one.
type LastEntryDeduper struct {
	mu   sync.Mutex
	last string
	set  bool
}

// Seen implements Deduper.
func (d *LastEntryDeduper) Seen(r Record) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.set && d.last == r.Signature()
}

// Commit implements Deduper.
func (d *LastEntryDeduper) Commit(r Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = r.Signature()
	d.set = true
}

// Logger is what the orchestrator and gateway write to.
type Logger interface {
	Log(sender, receiver, content, kind string)
}

// Log is a file-backed interaction log.
type Log struct {
	mu      sync.Mutex
	path    string
	dedup   Deduper
	now     func() time.Time
	onError *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithDeduper replaces the default last-entry deduper.
func WithDeduper(d Deduper) Option {
	return func(l *Log) {
		if d != nil {
			l.dedup = d
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithErrorLogger sets where write failures are reported.
func WithErrorLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.onError = logger
		}
	}
}

// New creates a log writing to path. The directory is created lazily.
func New(path string, opts ...Option) *Log {
	l := &Log{
		path:    path,
		dedup:   &LastEntryDeduper{},
		now:     time.Now,
		onError: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Log appends one record unless it duplicates the previous one. It never fails
// the caller; write errors are reported to the error logger.
func (l *Log) Log(sender, receiver, content, kind string) {
	if kind == "" {
		kind = KindInfo
	}
	rec := Record{
		Time:     l.now(),
		Sender:   sender,
		Receiver: receiver,
		Content:  content,
		Kind:     kind,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dedup.Seen(rec) {
		return
	}
	if err := l.append(rec); err != nil {
		l.onError.Error("interaction.log.write_error",
			slog.String("path", l.path),
			slog.String("error", err.Error()),
		)
		return
	}
	l.dedup.Commit(rec)
}

func (l *Log) append(rec Record) error {
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(rec.Line()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Read returns the whole log. A missing file reads as empty; other failures
// are rendered into the returned text.
func (l *Log) Read() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ""
		}
		return fmt.Sprintf("Error reading logs: %v", err)
	}
	return string(data)
}

// Discard is a Logger that drops everything.
type Discard struct{}

// Log implements Logger.
func (Discard) Log(string, string, string, string) {}

var (
	_ Logger = (*Log)(nil)
	_ Logger = Discard{}
)
