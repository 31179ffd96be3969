// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jllopis/kairos-analyst/pkg/errors"
)

const (
	firstLoadNote = "[Skill loaded. Follow the instructions above and use call_tool to invoke the tools they name.]"
	reloadNote    = "[Skill was already loaded; instructions were refreshed from source. Use the refreshed tool names with call_tool.]"
)

// Loader fetches skill instructions and tracks which skills are loaded in the
// current conversation. Loaded state is cleared by Reset.
type Loader struct {
	source Source

	mu        sync.Mutex
	loaded    map[string]struct{}
	available map[string]struct{}
}

// NewLoader creates a loader reading from source.
func NewLoader(source Source) *Loader {
	return &Loader{
		source: source,
		loaded: make(map[string]struct{}),
	}
}

// NewNotFoundError is the error returned for skills without instructions.
func NewNotFoundError(name string) *errors.Error {
	return errors.New(errors.CodeSkillNotFound, fmt.Sprintf("Skill '%s' not found.", name), nil).
		WithContext("skill", name).
		WithRecoverable(false)
}

// Load returns the annotated instructions for name and marks it loaded. The
// source is read on every call, so a reload returns current content.
func (l *Loader) Load(ctx context.Context, name string) (string, error) {
	if !l.isAvailable(name) {
		return "", NewNotFoundError(name)
	}

	text, ok, err := l.source.Read(ctx, name)
	if err != nil {
		return "", errors.New(errors.CodeInternal, fmt.Sprintf("read skill '%s'", name), err).
			WithContext("skill", name)
	}
	if !ok {
		return "", NewNotFoundError(name)
	}

	l.mu.Lock()
	_, already := l.loaded[name]
	l.loaded[name] = struct{}{}
	l.mu.Unlock()

	if already {
		return fmt.Sprintf("Instructions for skill '%s' (refreshed):\n\n%s\n\n%s", name, text, reloadNote), nil
	}
	return fmt.Sprintf("Instructions for skill '%s':\n\n%s\n\n%s", name, text, firstLoadNote), nil
}

// IsLoaded reports whether name has been loaded since the last Reset.
func (l *Loader) IsLoaded(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.loaded[name]
	return ok
}

// Loaded returns the loaded skill names, sorted.
func (l *Loader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.loaded))
	for name := range l.loaded {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Reset forgets every loaded skill.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = make(map[string]struct{})
}

// SetAvailable restricts Load to names. A nil slice lifts the restriction.
// Loaded skills that are no longer available are forgotten.
func (l *Loader) SetAvailable(names []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if names == nil {
		l.available = nil
		return
	}
	l.available = make(map[string]struct{}, len(names))
	for _, name := range names {
		l.available[name] = struct{}{}
	}
	for name := range l.loaded {
		if _, ok := l.available[name]; !ok {
			delete(l.loaded, name)
		}
	}
}

func (l *Loader) isAvailable(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available == nil {
		return true
	}
	_, ok := l.available[name]
	return ok
}
