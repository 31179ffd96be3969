// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the analyst configuration from defaults, an optional
// YAML file, ANALYST_* environment variables and command line overrides, in
// that order.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/jllopis/kairos-analyst/pkg/errors"
)

// EnvPrefix prefixes every environment override (ANALYST_LLM_MODEL -> llm.model).
const EnvPrefix = "ANALYST_"

type Config struct {
	Log            LogConfig                   `koanf:"log"`
	LLM            LLMConfig                   `koanf:"llm"`
	Agent          AgentConfig                 `koanf:"agent"`
	MCP            MCPConfig                   `koanf:"mcp"`
	Skills         SkillsConfig                `koanf:"skills"`
	Session        SessionConfig               `koanf:"session"`
	InteractionLog InteractionLogConfig        `koanf:"interaction_log"`
	Telemetry      TelemetryConfig             `koanf:"telemetry"`
	ToolServers    map[string]ToolServerConfig `koanf:"toolservers"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider    string  `koanf:"provider"` // openai, ollama
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      string  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	MaxRetries  int     `koanf:"max_retries"`
}

type AgentConfig struct {
	Name             string        `koanf:"name"`
	InstructionsFile string        `koanf:"instructions_file"`
	MaxRetries       int           `koanf:"max_retries"`
	MaxTurns         int           `koanf:"max_turns"`
	BackoffUnit      time.Duration `koanf:"backoff_unit"`
	AttemptTimeout   time.Duration `koanf:"attempt_timeout"`
	AutoReset        bool          `koanf:"auto_reset"`
	OverloadApology  string        `koanf:"overload_apology"`
	GenericApology   string        `koanf:"generic_apology"`
}

type MCPConfig struct {
	Servers map[string]MCPServerConfig `koanf:"servers"`

	// Timeout applies to every call on servers without their own.
	Timeout time.Duration `koanf:"timeout"`

	// BreakerThreshold consecutive connection failures stop dialing a server
	// for BreakerCooldown. Zero disables the breaker.
	BreakerThreshold int           `koanf:"breaker_threshold"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown"`
}

type MCPServerConfig struct {
	URL       string        `koanf:"url"`
	Transport string        `koanf:"transport"` // sse, http
	Timeout   time.Duration `koanf:"timeout"`
}

type SkillsConfig struct {
	Path string `koanf:"path"`
	// Watch polls the skills catalog and reloads it when it changes. Zero
	// disables polling.
	Watch time.Duration `koanf:"watch"`
}

type SessionConfig struct {
	ID          string        `koanf:"id"`
	Backend     string        `koanf:"backend"` // sqlite, inmemory
	Path        string        `koanf:"path"`
	MaxMessages int           `koanf:"max_messages"`
	MaxTokens   int           `koanf:"max_tokens"`
	TTL         time.Duration `koanf:"ttl"`
}

type InteractionLogConfig struct {
	Path string `koanf:"path"`
}

type TelemetryConfig struct {
	Exporter           string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint       string `koanf:"otlp_endpoint"`
	OTLPInsecure       bool   `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int    `koanf:"otlp_timeout_seconds"`
}

type ToolServerConfig struct {
	Addr      string `koanf:"addr"`
	Transport string `koanf:"transport"` // sse, http
}

func defaults() map[string]any {
	return map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"llm.provider":    "openai",
		"llm.model":       "gpt-4o",
		"llm.base_url":    "",
		"llm.api_key":     "",
		"llm.temperature": 0.0,
		"llm.max_retries": 0,

		"agent.name":              "IndustryAnalyst",
		"agent.instructions_file": "",
		"agent.max_retries":       3,
		"agent.max_turns":         30,
		"agent.backoff_unit":      "1s",
		"agent.attempt_timeout":   "5m",
		"agent.auto_reset":        false,
		"agent.overload_apology":  "",
		"agent.generic_apology":   "",

		"mcp.timeout":                          "30s",
		"mcp.breaker_threshold":                3,
		"mcp.breaker_cooldown":                 "30s",
		"mcp.servers.industry_query.url":       "http://localhost:8001/sse",
		"mcp.servers.industry_query.transport": "sse",
		"mcp.servers.deep_analysis.url":        "http://localhost:8002/sse",
		"mcp.servers.deep_analysis.transport":  "sse",

		"skills.path":  "skills",
		"skills.watch": "0s",

		"session.id":           "industry_analyst",
		"session.backend":      "sqlite",
		"session.path":         "data/conversation.db",
		"session.max_messages": 0,
		"session.max_tokens":   0,
		"session.ttl":          "0s",

		"interaction_log.path": "logs/interactions.log",

		"telemetry.exporter":             "none",
		"telemetry.otlp_endpoint":        "localhost:4317",
		"telemetry.otlp_insecure":        true,
		"telemetry.otlp_timeout_seconds": 10,

		"toolservers.industry_query.addr":      ":8001",
		"toolservers.industry_query.transport": "sse",
		"toolservers.deep_analysis.addr":       ":8002",
		"toolservers.deep_analysis.transport":  "sse",
	}
}

// Load reads the configuration. path may be empty.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load followed by key=value overrides, as given with
// --set on the command line. Values are parsed as YAML, so numbers, booleans
// and inline maps keep their types.
func LoadWithOverrides(path string, overrides []string) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	// 2. Load from ENV (ANALYST_LLM_BASE_URL -> llm.base_url)
	known := envKeys(k.Keys())
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return envKey(known, s)
	}), nil); err != nil {
		return nil, err
	}

	// 3. CLI overrides
	for _, kv := range overrides {
		key, raw, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid override %q, want key=value", kv), nil)
		}
		var value any
		if err := yamlv3.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if cfg.LLM.APIKey == "" && cfg.LLM.Provider == "openai" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return &cfg, nil
}

// envKeys indexes known keys by their environment spelling so keys holding
// underscores (base_url, industry_query) survive the transform.
func envKeys(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		out[strings.ReplaceAll(key, ".", "_")] = key
	}
	return out
}

func envKey(known map[string]string, name string) string {
	s := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if key, ok := known[s]; ok {
		return key
	}
	return strings.ReplaceAll(s, "_", ".")
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf(format, args...), nil)
	}

	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		return invalid("unknown llm.provider %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return invalid("llm.model is required")
	}
	if c.Agent.MaxRetries < 1 {
		return invalid("agent.max_retries must be at least 1")
	}
	if c.Agent.MaxTurns < 1 {
		return invalid("agent.max_turns must be at least 1")
	}
	if c.Agent.BackoffUnit < 0 {
		return invalid("agent.backoff_unit must not be negative")
	}
	if c.Agent.AttemptTimeout < 0 {
		return invalid("agent.attempt_timeout must not be negative")
	}
	if c.MCP.BreakerThreshold < 0 || c.MCP.BreakerCooldown < 0 {
		return invalid("mcp breaker settings must not be negative")
	}
	for _, name := range sortedKeys(c.MCP.Servers) {
		srv := c.MCP.Servers[name]
		if srv.URL == "" {
			return invalid("mcp.servers.%s.url is required", name)
		}
		if !validTransport(srv.Transport) {
			return invalid("mcp.servers.%s.transport %q is not sse or http", name, srv.Transport)
		}
	}
	for _, name := range sortedKeys(c.ToolServers) {
		if !validTransport(c.ToolServers[name].Transport) {
			return invalid("toolservers.%s.transport %q is not sse or http", name, c.ToolServers[name].Transport)
		}
	}
	switch c.Session.Backend {
	case "sqlite":
		if c.Session.Path == "" {
			return invalid("session.path is required for the sqlite backend")
		}
	case "inmemory":
	default:
		return invalid("unknown session.backend %q", c.Session.Backend)
	}
	if c.Session.MaxMessages < 0 || c.Session.MaxTokens < 0 || c.Session.TTL < 0 {
		return invalid("session limits must not be negative")
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return invalid("unknown telemetry.exporter %q", c.Telemetry.Exporter)
	}
	return nil
}

func validTransport(t string) bool {
	return t == "" || t == "sse" || t == "http"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
