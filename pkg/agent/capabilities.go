// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-analyst/pkg/errors"
	"github.com/jllopis/kairos-analyst/pkg/interaction"
	"github.com/jllopis/kairos-analyst/pkg/llm"
	"github.com/jllopis/kairos-analyst/pkg/skills"
	"github.com/jllopis/kairos-analyst/pkg/telemetry"
)

// Capability names exposed to the model.
const (
	LoadSkillName = "load_skill"
	CallToolName  = "call_tool"
)

// Capability is a function the model can call during a run.
type Capability interface {
	Definition() llm.Tool
	// Call executes the capability with the raw JSON arguments produced by
	// the model.
	Call(ctx context.Context, arguments string) (string, error)
}

// ToolInvoker resolves a remote tool call. *mcp.Scope implements it.
type ToolInvoker interface {
	Invoke(ctx context.Context, server, tool string, args any) (string, error)
}

// LoadSkill exposes the skill loader to the model.
type LoadSkill struct {
	loader *skills.Loader
	log    interaction.Logger
}

// NewLoadSkill creates the load_skill capability.
func NewLoadSkill(loader *skills.Loader, log interaction.Logger) *LoadSkill {
	if log == nil {
		log = interaction.Discard{}
	}
	return &LoadSkill{loader: loader, log: log}
}

// Definition implements Capability.
func (c *LoadSkill) Definition() llm.Tool {
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name: LoadSkillName,
			Description: "Load a skill's detailed instructions by name. Use this tool when you " +
				"identify a relevant skill in the <available_skills> list.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"skill_name": map[string]any{
						"type":        "string",
						"description": "Name of the skill to load.",
					},
				},
				"required": []string{"skill_name"},
			},
		},
	}
}

// Call implements Capability. A missing skill is reported to the model as
// plain text, never as an error.
func (c *LoadSkill) Call(ctx context.Context, arguments string) (string, error) {
	var args struct {
		SkillName string `json:"skill_name"`
	}
	if err := decodeArguments(arguments, &args); err != nil {
		return "", err
	}
	name := strings.TrimSpace(args.SkillName)
	if name == "" {
		return "", NewInvalidInputError("skill_name is required")
	}

	c.log.Log("agent", "skill_manager", "loading_skill: "+name, interaction.KindSkill)
	trace.SpanFromContext(ctx).AddEvent("skill.load",
		trace.WithAttributes(telemetry.SkillAttributes(name, c.loader.IsLoaded(name))...))
	text, err := c.loader.Load(ctx, name)
	if err != nil {
		if e, ok := errors.As(err); ok && e.Code == errors.CodeSkillNotFound {
			c.log.Log("skill_manager", "agent", e.Message, interaction.KindSkill)
			return e.Message, nil
		}
		c.log.Log("skill_manager", "agent", err.Error(), interaction.KindError)
		return "", err
	}
	c.log.Log("skill_manager", "agent", "loaded content for "+name, interaction.KindSkill)
	return text, nil
}

// CallTool exposes the remote tool gateway to the model.
type CallTool struct {
	invoker ToolInvoker
	servers []string
}

// NewCallTool creates the call_tool capability. servers is only used to
// describe the capability.
func NewCallTool(invoker ToolInvoker, servers []string) *CallTool {
	return &CallTool{invoker: invoker, servers: append([]string(nil), servers...)}
}

// Definition implements Capability.
func (c *CallTool) Definition() llm.Tool {
	desc := "Call a tool on a remote tool server. Use the server and tool names given by the loaded skill instructions."
	if len(c.servers) > 0 {
		desc += " Registered servers: " + strings.Join(c.servers, ", ") + "."
	}
	return llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        CallToolName,
			Description: desc,
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"server_name": map[string]any{
						"type":        "string",
						"description": "Name of the remote tool server.",
					},
					"tool_name": map[string]any{
						"type":        "string",
						"description": "Name of the tool on that server.",
					},
					"arguments": map[string]any{
						"type":        "object",
						"description": "Arguments for the tool.",
					},
				},
				"required": []string{"server_name", "tool_name"},
			},
		},
	}
}

// Call implements Capability. Gateway errors are returned unchanged so the
// runner can decide whether they abort the run.
func (c *CallTool) Call(ctx context.Context, arguments string) (string, error) {
	var args struct {
		ServerName string          `json:"server_name"`
		ToolName   string          `json:"tool_name"`
		Arguments  json.RawMessage `json:"arguments"`
	}
	if err := decodeArguments(arguments, &args); err != nil {
		return "", err
	}
	if args.ServerName == "" || args.ToolName == "" {
		return "", NewInvalidInputError("server_name and tool_name are required")
	}
	return c.invoker.Invoke(ctx, args.ServerName, args.ToolName, toolArguments(args.Arguments))
}

// toolArguments keeps a JSON-encoded string argument as a string so the
// gateway parses it; objects pass through raw.
func toolArguments(raw json.RawMessage) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return json.RawMessage(trimmed)
}

func decodeArguments(arguments string, v any) error {
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}
	if err := json.Unmarshal([]byte(arguments), v); err != nil {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid arguments: %v", err), err).
			WithRecoverable(false)
	}
	return nil
}
