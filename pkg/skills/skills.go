// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package skills reads skill instructions from disk and tracks which skills
// have been loaded into the running conversation.
package skills

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkillFile is the name of the instructions file inside a skill directory.
const SkillFile = "SKILL.md"

// SkillSpec describes a skill directory entry.
type SkillSpec struct {
	Name        string
	Description string
	Metadata    map[string]string
	Body        string
	Path        string
	Dir         string
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidName reports whether name can be used as a skill directory name.
func ValidName(name string) bool {
	return namePattern.MatchString(name) && !strings.Contains(name, "..")
}

// LoadDir scans root for skill subdirectories with SKILL.md. Entries that fail
// to parse are skipped; the returned slice is sorted by name.
func LoadDir(root string) ([]SkillSpec, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []SkillSpec
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillPath := filepath.Join(root, entry.Name(), SkillFile)
		if _, err := os.Stat(skillPath); err != nil {
			continue
		}
		skill, err := LoadFile(skillPath)
		if err != nil {
			continue
		}
		out = append(out, skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// LoadFile parses a single SKILL.md file.
func LoadFile(path string) (SkillSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SkillSpec{}, err
	}
	return Parse(path, string(data))
}

// Parse builds a SkillSpec from SKILL.md content. Frontmatter is optional; when
// absent the directory name is the skill name and the whole text is the body.
func Parse(path, content string) (SkillSpec, error) {
	dir := filepath.Dir(path)
	spec := SkillSpec{
		Name: filepath.Base(dir),
		Path: path,
		Dir:  dir,
		Body: strings.TrimSpace(content),
	}

	fm, body, ok, err := splitFrontmatter(content)
	if err != nil {
		return SkillSpec{}, err
	}
	if !ok {
		return spec, nil
	}

	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return SkillSpec{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	if name := strings.TrimSpace(parsed.Name); name != "" && name != spec.Name {
		return SkillSpec{}, fmt.Errorf("name must match directory name (%s)", spec.Name)
	}
	spec.Description = strings.TrimSpace(parsed.Description)
	spec.Metadata = parsed.Metadata
	spec.Body = body
	return spec, nil
}

type frontmatter struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Metadata    map[string]string `yaml:"metadata"`
}

func splitFrontmatter(content string) (string, string, bool, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", false, nil
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", false, errors.New("invalid frontmatter")
	}
	return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), true, nil
}
