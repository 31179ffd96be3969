// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/kairos-analyst/pkg/config"
	"github.com/jllopis/kairos-analyst/pkg/interaction"
	"github.com/jllopis/kairos-analyst/pkg/memory"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	dir := t.TempDir()
	skillDir := filepath.Join(dir, "skills", "industry-analysis")
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	skill := "---\nname: industry-analysis\ndescription: Analyse a local industry.\n---\nSteps.\n"
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(skill), 0o644); err != nil {
		t.Fatalf("write skill: %v", err)
	}

	cfg.LLM.Provider = "ollama"
	cfg.LLM.Model = "qwen2.5"
	cfg.LLM.BaseURL = "http://127.0.0.1:1"
	cfg.Skills.Path = filepath.Join(dir, "skills")
	cfg.Session.Path = filepath.Join(dir, "data", "conversation.db")
	cfg.InteractionLog.Path = filepath.Join(dir, "logs", "interactions.log")
	cfg.Telemetry.Exporter = "none"
	cfg.Log.Level = "error"
	return cfg
}

func TestNewApp(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a, err := newApp(ctx, cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close(ctx)

	if a.orch.SessionID() != "industry_analyst" {
		t.Errorf("session id = %q", a.orch.SessionID())
	}
	if !strings.Contains(a.orch.Instructions(), "<name>industry-analysis</name>") {
		t.Errorf("catalog missing from instructions:\n%s", a.orch.Instructions())
	}
	if got := a.registry.Names(); strings.Join(got, ",") != "deep_analysis,industry_query" {
		t.Errorf("registered servers = %v", got)
	}

	catalog, err := a.AddSkill("market-watch", "Track market share.")
	if err != nil {
		t.Fatalf("AddSkill: %v", err)
	}
	if strings.Join(catalog.Names, ",") != "industry-analysis,market-watch" {
		t.Errorf("skills = %v", catalog.Names)
	}
	if !strings.Contains(a.orch.Instructions(), "market-watch") {
		t.Error("new skill must reach the instructions")
	}
	if !strings.Contains(a.Logs(), "(info): skills updated: industry-analysis, market-watch") {
		t.Errorf("skill update not logged:\n%s", a.Logs())
	}
	if !a.Reset(ctx) {
		t.Error("Reset failed")
	}
}

func TestNewAppInstructionsFile(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "instructions.md")
	if err := os.WriteFile(path, []byte("You are a careful regional economist."), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg.Agent.InstructionsFile = path

	a, err := newApp(ctx, cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close(ctx)
	if !strings.HasPrefix(a.orch.Instructions(), "You are a careful regional economist.") {
		t.Errorf("unexpected instructions:\n%s", a.orch.Instructions())
	}

	cfg.Agent.InstructionsFile = filepath.Join(t.TempDir(), "missing.md")
	if _, err := newApp(ctx, cfg); err == nil {
		t.Fatal("expected error for missing instructions file")
	}
}

func TestNewAppMissingSkills(t *testing.T) {
	cfg := testConfig(t)
	cfg.Skills.Path = filepath.Join(t.TempDir(), "nope")
	if _, err := newApp(context.Background(), cfg); err == nil {
		t.Fatal("expected error for missing skills directory")
	}
}

func TestNewRegistryTimeoutFallback(t *testing.T) {
	cfg := testConfig(t)
	cfg.MCP.Timeout = 7 * time.Second
	cfg.MCP.Servers = map[string]config.MCPServerConfig{
		"fast": {URL: "http://localhost:9001/sse", Timeout: time.Second},
		"slow": {URL: "http://localhost:9002/mcp", Transport: "http"},
		"bad":  {URL: "http://localhost:9003", Transport: "stdio"},
	}
	reg := newRegistry(cfg, interaction.Discard{}, nil, nil)

	eps := reg.Endpoints()
	if len(eps) != 2 {
		t.Fatalf("expected the invalid endpoint to be skipped, got %+v", eps)
	}
	if eps[0].Name != "fast" || eps[0].Timeout != time.Second {
		t.Errorf("unexpected fast endpoint %+v", eps[0])
	}
	if eps[1].Name != "slow" || eps[1].Timeout != 7*time.Second || eps[1].Transport != "http" {
		t.Errorf("unexpected slow endpoint %+v", eps[1])
	}
}

func TestSessionBackend(t *testing.T) {
	cfg := config.SessionConfig{Backend: "inmemory", MaxMessages: 10, TTL: time.Hour}
	if _, ok := sessionBackend(cfg).(memory.InMemoryBackend); !ok {
		t.Errorf("expected in-memory backend, got %T", sessionBackend(cfg))
	}
	cfg.Backend = "sqlite"
	cfg.Path = "data/x.db"
	b, ok := sessionBackend(cfg).(memory.SQLiteBackend)
	if !ok || b.Path != "data/x.db" || b.Config.DefaultSessionTTL != time.Hour || b.Config.TruncationStrategy == nil {
		t.Errorf("unexpected sqlite backend %+v", b)
	}
}
