// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// Source returns the instruction text for a skill. ok is false when the skill
// has no content.
type Source interface {
	Read(ctx context.Context, name string) (text string, ok bool, err error)
}

// DirSource reads <Root>/<name>/SKILL.md on every call.
type DirSource struct {
	Root string
}

// Read implements Source.
func (d DirSource) Read(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if !ValidName(name) {
		return "", false, nil
	}
	data, err := os.ReadFile(filepath.Join(d.Root, name, SkillFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// MapSource serves skills from memory. Useful for tests and embedded skills.
type MapSource map[string]string

// Read implements Source.
func (m MapSource) Read(_ context.Context, name string) (string, bool, error) {
	text, ok := m[name]
	return text, ok, nil
}
