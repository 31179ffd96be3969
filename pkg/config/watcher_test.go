// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// touch rewrites path and pushes its mtime forward so coarse filesystem
// clocks still register a change.
func touch(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestWatcherDetectsChanges(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("llm:\n  model: test-model\n"), 0o644); err != nil {
		t.Fatalf("failed to write initial config: %v", err)
	}

	watcher, err := NewWatcher(configPath, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	changes := make(chan *Config, 4)
	watcher.OnChange(func(cfg *Config) { changes <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	if got := watcher.Config().LLM.Model; got != "test-model" {
		t.Fatalf("expected model 'test-model', got %q", got)
	}

	touch(t, configPath, "llm:\n  model: updated-model\n")

	select {
	case newCfg := <-changes:
		if newCfg.LLM.Model != "updated-model" {
			t.Errorf("expected model 'updated-model', got %q", newCfg.LLM.Model)
		}
		if watcher.Config().LLM.Model != "updated-model" {
			t.Error("Config() must return the reloaded configuration")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config change notification")
	}
}

func TestWatcherSkillsDirectory(t *testing.T) {
	skillsDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(skillsDir, "industry-analysis"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	watcher, err := NewWatcher("", WithWatchPaths(skillsDir), WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	changes := make(chan *Config, 4)
	watcher.OnChange(func(cfg *Config) { changes <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	touch(t, filepath.Join(skillsDir, "AGENTS.md"), "<available_skills></available_skills>")

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for skills change notification")
	}
}

func TestWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("llm:\n  model: v1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	watcher, err := NewWatcher(configPath)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	called := false
	watcher.OnChange(func(*Config) { called = true })

	touch(t, configPath, "llm: [unclosed\n")
	watcher.Reload()

	if called {
		t.Error("listeners must not run when the reload fails")
	}
	if watcher.Config().LLM.Model != "v1" {
		t.Errorf("expected previous config, got %q", watcher.Config().LLM.Model)
	}
}

func TestWatcherOverridesSurviveReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("agent:\n  max_turns: 5\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	watcher, err := NewWatcher(configPath, WithWatchOverrides([]string{"agent.max_retries=7"}))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	touch(t, configPath, "agent:\n  max_turns: 9\n")
	watcher.Reload()

	cfg := watcher.Config()
	if cfg.Agent.MaxTurns != 9 || cfg.Agent.MaxRetries != 7 {
		t.Fatalf("unexpected agent config %+v", cfg.Agent)
	}
}

func TestWatcherStopTwice(t *testing.T) {
	watcher, err := NewWatcher("")
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	watcher.Start(context.Background())
	watcher.Stop()
	watcher.Stop()
}
