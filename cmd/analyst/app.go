// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/jllopis/kairos-analyst/pkg/agent"
	"github.com/jllopis/kairos-analyst/pkg/config"
	"github.com/jllopis/kairos-analyst/pkg/interaction"
	"github.com/jllopis/kairos-analyst/pkg/llm"
	"github.com/jllopis/kairos-analyst/pkg/mcp"
	"github.com/jllopis/kairos-analyst/pkg/memory"
	"github.com/jllopis/kairos-analyst/pkg/skills"
	"github.com/jllopis/kairos-analyst/pkg/telemetry"
	"github.com/jllopis/kairos-analyst/providers/openai"
)

const serviceName = "kairos-analyst"

// app holds the wired analyst for one CLI invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	orch     *agent.Orchestrator
	registry *mcp.Registry
	loader   *skills.Loader
	session  *memory.Session
	log      *interaction.Log
	shutdown telemetry.ShutdownFunc
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig(serviceName, version, telemetry.Config{
		Exporter:           cfg.Telemetry.Exporter,
		OTLPEndpoint:       cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:       cfg.Telemetry.OTLPInsecure,
		OTLPTimeoutSeconds: cfg.Telemetry.OTLPTimeoutSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, shutdown: shutdown}

	metrics, err := telemetry.NewAgentMetrics()
	if err != nil {
		logger.Warn("telemetry.metrics_error", "error", err)
	}

	a.log = interaction.New(cfg.InteractionLog.Path, interaction.WithErrorLogger(logger))
	a.registry = newRegistry(cfg, a.log, logger, metrics)

	catalog, err := skills.LoadCatalog(cfg.Skills.Path)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("load skills catalog: %w", err)
	}
	a.loader = skills.NewLoader(skills.DirSource{Root: cfg.Skills.Path})

	a.session, err = openSession(ctx, cfg.Session)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	opts := []agent.Option{
		agent.WithName(cfg.Agent.Name),
		agent.WithSkillCatalog(catalog.Prompt),
		agent.WithAutoReset(cfg.Agent.AutoReset),
		agent.WithMaxRetries(cfg.Agent.MaxRetries),
		agent.WithMaxTurns(cfg.Agent.MaxTurns),
		agent.WithBackoffUnit(cfg.Agent.BackoffUnit),
		agent.WithAttemptTimeout(cfg.Agent.AttemptTimeout),
		agent.WithApologies(cfg.Agent.OverloadApology, cfg.Agent.GenericApology),
		agent.WithInteractionLog(a.log),
		agent.WithLogger(logger),
		agent.WithMetrics(metrics),
	}
	if path := cfg.Agent.InstructionsFile; path != "" {
		text, err := os.ReadFile(path)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("read instructions: %w", err)
		}
		opts = append(opts, agent.WithInstructions(string(text)))
	}

	runner := agent.NewLoopRunner(newProvider(cfg.LLM),
		agent.WithModel(cfg.LLM.Model),
		agent.WithTemperature(cfg.LLM.Temperature),
		agent.WithRunnerLogger(logger),
	)
	a.orch, err = agent.New(ctx, runner, a.registry, a.loader, a.session, opts...)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func newRegistry(cfg *config.Config, log interaction.Logger, logger *slog.Logger, metrics *telemetry.AgentMetrics) *mcp.Registry {
	if logger == nil {
		logger = slog.Default()
	}
	reg := mcp.NewRegistry(
		mcp.WithInteractionLog(log),
		mcp.WithLogger(logger),
		mcp.WithMetrics(metrics),
		mcp.WithCircuitBreaker(cfg.MCP.BreakerThreshold, cfg.MCP.BreakerCooldown),
	)
	names := make([]string, 0, len(cfg.MCP.Servers))
	for name := range cfg.MCP.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		srv := cfg.MCP.Servers[name]
		timeout := srv.Timeout
		if timeout == 0 {
			timeout = cfg.MCP.Timeout
		}
		if err := reg.Register(mcp.Endpoint{
			Name:      name,
			URL:       srv.URL,
			Transport: mcp.Transport(srv.Transport),
			Timeout:   timeout,
		}); err != nil {
			logger.Warn("gateway.register_error", "server", name, "error", err)
		}
	}
	return reg
}

func newProvider(cfg config.LLMConfig) llm.Provider {
	var p llm.Provider
	switch cfg.Provider {
	case "ollama":
		p = llm.NewOllama(cfg.BaseURL, cfg.Model)
	default:
		p = openai.New(
			openai.WithModel(cfg.Model),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithAPIKey(cfg.APIKey),
			openai.WithMaxRetries(cfg.MaxRetries),
		)
	}
	return llm.NormalizeToolCallContent(p, "")
}

func sessionBackend(cfg config.SessionConfig) memory.Backend {
	conv := memory.ConversationConfig{
		TruncationStrategy: memory.StrategyFor(cfg.MaxMessages, cfg.MaxTokens),
		DefaultSessionTTL:  cfg.TTL,
	}
	if cfg.Backend == "inmemory" {
		return memory.InMemoryBackend{Config: conv}
	}
	return memory.SQLiteBackend{Path: cfg.Path, Config: conv}
}

func openSession(ctx context.Context, cfg config.SessionConfig) (*memory.Session, error) {
	return memory.NewSession(ctx, cfg.ID, sessionBackend(cfg))
}

// Ask implements console.
func (a *app) Ask(ctx context.Context, query string) string {
	return a.orch.ProcessQuery(ctx, query)
}

// Reset implements console.
func (a *app) Reset(ctx context.Context) bool {
	return a.orch.ClearSession(ctx)
}

// Skills implements console.
func (a *app) Skills() []string {
	return a.orch.LoadedSkills()
}

// Logs implements console.
func (a *app) Logs() string {
	return a.log.Read()
}

// ReloadSkills implements console.
func (a *app) ReloadSkills() (skills.Catalog, error) {
	catalog, err := skills.LoadCatalog(a.cfg.Skills.Path)
	if err != nil {
		return skills.Catalog{}, err
	}
	a.orch.UpdateSkills(catalog.Prompt, catalog.Names)
	return catalog, nil
}

// AddSkill implements console.
func (a *app) AddSkill(name, description string) (skills.Catalog, error) {
	catalog, err := skills.Add(a.cfg.Skills.Path, name, description, "")
	if err != nil {
		return skills.Catalog{}, err
	}
	a.orch.UpdateSkills(catalog.Prompt, catalog.Names)
	return catalog, nil
}

// Tools implements console.
func (a *app) Tools(ctx context.Context) []mcp.ServerTools {
	scope := a.registry.Open(ctx)
	defer scope.Close()
	return scope.ListTools(ctx)
}

func (a *app) close(ctx context.Context) {
	var errs []error
	if a.session != nil {
		errs = append(errs, a.session.Close())
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	if err := stderrors.Join(errs...); err != nil {
		a.logger.Warn("app.close_error", "error", err)
	}
}
