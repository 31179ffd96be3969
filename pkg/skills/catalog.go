// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// CatalogFile is an optional hand-written catalog at the skills root.
const CatalogFile = "AGENTS.md"

// NoSkillsPrompt is used when the skills root holds nothing usable.
const NoSkillsPrompt = "No skills available."

type availableSkill struct {
	XMLName     xml.Name `xml:"skill"`
	Name        string   `xml:"name"`
	Description string   `xml:"description,omitempty"`
}

type availableSkills struct {
	XMLName xml.Name         `xml:"available_skills"`
	Skills  []availableSkill `xml:"skill"`
}

// Catalog is the skill overview shown to the model.
type Catalog struct {
	Prompt string
	Names  []string
}

// LoadCatalog reads AGENTS.md under root when present, otherwise renders an
// <available_skills> block from skill frontmatter. Names always lists the
// skill directories found.
func LoadCatalog(root string) (Catalog, error) {
	specs, err := LoadDir(root)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Catalog{}, err
	}
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}

	data, err := os.ReadFile(filepath.Join(root, CatalogFile))
	switch {
	case err == nil:
		return Catalog{Prompt: string(data), Names: names}, nil
	case !errors.Is(err, os.ErrNotExist):
		return Catalog{}, err
	}

	if len(specs) == 0 {
		return Catalog{Prompt: NoSkillsPrompt, Names: names}, nil
	}
	prompt, err := AvailableSkillsXML(specs)
	if err != nil {
		return Catalog{}, err
	}
	return Catalog{Prompt: prompt, Names: names}, nil
}

// AvailableSkillsXML renders specs as an <available_skills> block.
func AvailableSkillsXML(specs []SkillSpec) (string, error) {
	out := availableSkills{Skills: make([]availableSkill, 0, len(specs))}
	for _, spec := range specs {
		out.Skills = append(out.Skills, availableSkill{Name: spec.Name, Description: spec.Description})
	}
	b, err := xml.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("xml encode: %w", err)
	}
	return string(b), nil
}

const catalogClose = "</available_skills>"

// Add creates <root>/<name>/SKILL.md and, when a hand-written AGENTS.md
// exists, lists the skill in it. It returns the catalog after the change.
func Add(root, name, description, body string) (Catalog, error) {
	if !ValidName(name) {
		return Catalog{}, fmt.Errorf("invalid skill name %q", name)
	}
	dir := filepath.Join(root, name)
	if _, err := os.Stat(filepath.Join(dir, SkillFile)); err == nil {
		return Catalog{}, fmt.Errorf("skill %q already exists", name)
	}

	catalogPath := filepath.Join(root, CatalogFile)
	catalog, err := os.ReadFile(catalogPath)
	switch {
	case err == nil:
		if !bytes.Contains(catalog, []byte(catalogClose)) {
			return Catalog{}, fmt.Errorf("%s has no %s element", catalogPath, catalogClose)
		}
	case errors.Is(err, os.ErrNotExist):
		catalog = nil
	default:
		return Catalog{}, err
	}

	fm, err := yaml.Marshal(frontmatter{Name: name, Description: description})
	if err != nil {
		return Catalog{}, fmt.Errorf("yaml encode: %w", err)
	}
	if strings.TrimSpace(body) == "" {
		body = "# " + name
	}
	content := "---\n" + string(fm) + "---\n\n" + strings.TrimSpace(body) + "\n"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Catalog{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, SkillFile), []byte(content), 0o644); err != nil {
		return Catalog{}, err
	}

	if catalog != nil {
		entry, err := xml.MarshalIndent(availableSkill{Name: name, Description: description}, "", "  ")
		if err != nil {
			return Catalog{}, fmt.Errorf("xml encode: %w", err)
		}
		updated := bytes.Replace(catalog, []byte(catalogClose), append(append(entry, '\n'), catalogClose...), 1)
		if err := os.WriteFile(catalogPath, updated, 0o644); err != nil {
			return Catalog{}, err
		}
	}
	return LoadCatalog(root)
}
