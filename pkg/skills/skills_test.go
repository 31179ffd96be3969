// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jllopis/kairos-analyst/pkg/errors"
)

func writeSkill(t *testing.T, root, name, content string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, SkillFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadFileWithFrontmatter(t *testing.T) {
	root := t.TempDir()
	path := writeSkill(t, root, "industry-analysis", `---
name: industry-analysis
description: Query industry output and run deep analysis.
metadata:
  owner: analytics
---

1. call_tool industry_query get_industry_data
2. call_tool deep_analysis deep_analysis
`)

	skill, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if skill.Name != "industry-analysis" {
		t.Fatalf("unexpected name: %s", skill.Name)
	}
	if skill.Description == "" || skill.Metadata["owner"] != "analytics" {
		t.Fatalf("frontmatter not parsed: %+v", skill)
	}
	if !strings.HasPrefix(skill.Body, "1. call_tool") {
		t.Fatalf("unexpected body: %q", skill.Body)
	}
}

func TestLoadFileWithoutFrontmatter(t *testing.T) {
	root := t.TempDir()
	path := writeSkill(t, root, "plain", "Just call the data tool.")

	skill, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if skill.Name != "plain" || skill.Body != "Just call the data tool." {
		t.Fatalf("unexpected skill: %+v", skill)
	}
}

func TestLoadFileNameMismatch(t *testing.T) {
	root := t.TempDir()
	path := writeSkill(t, root, "dir-name", "---\nname: other\n---\nbody")

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected name mismatch error")
	}
}

func TestLoadDirSortedAndSkipsInvalid(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "zeta", "z")
	writeSkill(t, root, "alpha", "a")
	writeSkill(t, root, "broken", "---\nname: [unclosed\n---\n")
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	specs, err := LoadDir(root)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(specs) != 2 || specs[0].Name != "alpha" || specs[1].Name != "zeta" {
		t.Fatalf("unexpected specs: %+v", specs)
	}
}

func TestDirSourceRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	src := DirSource{Root: filepath.Join(root, "skills")}
	writeSkill(t, root, "secret", "do not read")

	_, ok, err := src.Read(context.Background(), "../secret")
	if err != nil || ok {
		t.Fatalf("expected traversal to be rejected, ok=%v err=%v", ok, err)
	}
}

func TestLoaderNotFoundKeepsLoadedSet(t *testing.T) {
	loader := NewLoader(MapSource{"known": "instructions"})
	if _, err := loader.Load(context.Background(), "known"); err != nil {
		t.Fatalf("load: %v", err)
	}

	for _, name := range []string{"missing", "", "../etc"} {
		_, err := loader.Load(context.Background(), name)
		if errors.CodeOf(err) != errors.CodeSkillNotFound {
			t.Fatalf("%q: expected SKILL_NOT_FOUND, got %v", name, err)
		}
	}

	if got := loader.Loaded(); len(got) != 1 || got[0] != "known" {
		t.Fatalf("loaded set changed: %v", got)
	}
}

func TestLoaderReloadReturnsFreshContent(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "tourism", "use get_tourism_data")
	loader := NewLoader(DirSource{Root: root})
	ctx := context.Background()

	first, err := loader.Load(ctx, "tourism")
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if !strings.Contains(first, "use get_tourism_data") {
		t.Fatalf("unexpected first content: %q", first)
	}

	writeSkill(t, root, "tourism", "use get_industry_data")
	second, err := loader.Load(ctx, "tourism")
	if err != nil {
		t.Fatalf("reload must not fail: %v", err)
	}
	if !strings.Contains(second, "use get_industry_data") {
		t.Fatalf("reload did not refresh content: %q", second)
	}
	if first == second || strings.Contains(second, firstLoadNote) {
		t.Fatalf("reload annotation should differ from first load")
	}
	if n := len(loader.Loaded()); n != 1 {
		t.Fatalf("expected 1 loaded skill, got %d", n)
	}
}

func TestLoaderResetAndAvailable(t *testing.T) {
	loader := NewLoader(MapSource{"a": "A", "b": "B"})
	ctx := context.Background()
	_, _ = loader.Load(ctx, "a")
	_, _ = loader.Load(ctx, "b")

	loader.SetAvailable([]string{"b"})
	if loader.IsLoaded("a") {
		t.Fatal("expected unavailable skill to be forgotten")
	}
	if _, err := loader.Load(ctx, "a"); errors.CodeOf(err) != errors.CodeSkillNotFound {
		t.Fatalf("expected unavailable skill to be not found, got %v", err)
	}

	loader.Reset()
	if len(loader.Loaded()) != 0 {
		t.Fatalf("expected empty loaded set after reset")
	}

	loader.SetAvailable(nil)
	if _, err := loader.Load(ctx, "a"); err != nil {
		t.Fatalf("expected restriction to be lifted: %v", err)
	}
}

func TestLoadCatalog(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		cat, err := LoadCatalog(filepath.Join(t.TempDir(), "nope"))
		if err != nil {
			t.Fatalf("catalog: %v", err)
		}
		if cat.Prompt != NoSkillsPrompt {
			t.Fatalf("unexpected prompt: %q", cat.Prompt)
		}
	})

	t.Run("generated from frontmatter", func(t *testing.T) {
		root := t.TempDir()
		writeSkill(t, root, "deep-analysis", "---\nname: deep-analysis\ndescription: Analyse output\n---\nbody")
		cat, err := LoadCatalog(root)
		if err != nil {
			t.Fatalf("catalog: %v", err)
		}
		if !strings.Contains(cat.Prompt, "<available_skills>") ||
			!strings.Contains(cat.Prompt, "<name>deep-analysis</name>") {
			t.Fatalf("unexpected prompt: %s", cat.Prompt)
		}
		if len(cat.Names) != 1 || cat.Names[0] != "deep-analysis" {
			t.Fatalf("unexpected names: %v", cat.Names)
		}
	})

	t.Run("agents file wins", func(t *testing.T) {
		root := t.TempDir()
		writeSkill(t, root, "x", "body")
		if err := os.WriteFile(filepath.Join(root, CatalogFile), []byte("<available_skills>custom</available_skills>"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		cat, err := LoadCatalog(root)
		if err != nil {
			t.Fatalf("catalog: %v", err)
		}
		if !strings.Contains(cat.Prompt, "custom") || len(cat.Names) != 1 {
			t.Fatalf("unexpected catalog: %+v", cat)
		}
	})
}

func TestAdd(t *testing.T) {
	t.Run("generated catalog", func(t *testing.T) {
		root := t.TempDir()
		cat, err := Add(root, "market-trends", "Track market trends.", "")
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if !strings.Contains(cat.Prompt, "<name>market-trends</name>") {
			t.Fatalf("skill missing from catalog: %s", cat.Prompt)
		}
		spec, err := LoadFile(filepath.Join(root, "market-trends", SkillFile))
		if err != nil {
			t.Fatalf("LoadFile: %v", err)
		}
		if spec.Description != "Track market trends." || spec.Body != "# market-trends" {
			t.Fatalf("unexpected spec %+v", spec)
		}
		if _, err := os.Stat(filepath.Join(root, CatalogFile)); !os.IsNotExist(err) {
			t.Fatal("AGENTS.md must not be created")
		}
	})

	t.Run("hand-written catalog", func(t *testing.T) {
		root := t.TempDir()
		agents := "<available_skills>\n<skill><name>industry-analysis</name></skill>\n</available_skills>\n"
		if err := os.WriteFile(filepath.Join(root, CatalogFile), []byte(agents), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		cat, err := Add(root, "random_skill_1234", "A <test> skill.", "Do nothing.")
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if !strings.Contains(cat.Prompt, "<name>industry-analysis</name>") ||
			!strings.Contains(cat.Prompt, "<name>random_skill_1234</name>") ||
			!strings.Contains(cat.Prompt, "A &lt;test&gt; skill.") {
			t.Fatalf("unexpected catalog: %s", cat.Prompt)
		}
		if !strings.HasSuffix(strings.TrimSpace(cat.Prompt), "</available_skills>") {
			t.Fatalf("entry must go inside the element: %s", cat.Prompt)
		}
		if len(cat.Names) != 1 || cat.Names[0] != "random_skill_1234" {
			t.Fatalf("unexpected names %v", cat.Names)
		}
	})

	t.Run("rejects", func(t *testing.T) {
		root := t.TempDir()
		if _, err := Add(root, "../escape", "", ""); err == nil {
			t.Fatal("expected invalid name error")
		}
		if _, err := Add(root, "dup", "", ""); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if _, err := Add(root, "dup", "", ""); err == nil {
			t.Fatal("expected duplicate error")
		}
		if err := os.WriteFile(filepath.Join(root, CatalogFile), []byte("free text"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Add(root, "other", "", ""); err == nil {
			t.Fatal("expected malformed AGENTS.md error")
		}
		if _, err := os.Stat(filepath.Join(root, "other")); !os.IsNotExist(err) {
			t.Fatal("nothing must be written when AGENTS.md is malformed")
		}
	})
}
