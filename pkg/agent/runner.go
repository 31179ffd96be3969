// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-analyst/pkg/errors"
	"github.com/jllopis/kairos-analyst/pkg/llm"
	"github.com/jllopis/kairos-analyst/pkg/memory"
	"github.com/jllopis/kairos-analyst/pkg/resilience"
	"github.com/jllopis/kairos-analyst/pkg/telemetry"
)

const (
	metadataToolCalls = "tool_calls"
	metadataAgent     = "agent"
)

// Definition is what a runner needs to drive one agent.
type Definition struct {
	Name         string
	Instructions string
	Capabilities []Capability
}

// Result is the outcome of a completed run.
type Result struct {
	FinalOutput string
	Turns       int
	ToolCalls   int
	Usage       llm.Usage
}

// Runner executes the model reasoning loop for one input.
type Runner interface {
	Run(ctx context.Context, def Definition, input string, maxTurns int, session *memory.Session) (Result, error)
}

// LoopRunner is a tool-calling loop over an llm.Provider. The turn is
// committed to the session only when the run completes.
type LoopRunner struct {
	provider    llm.Provider
	model       string
	temperature float64
	logger      *slog.Logger
	tracer      trace.Tracer
}

// RunnerOption configures a LoopRunner.
type RunnerOption func(*LoopRunner)

// WithModel sets the model name sent with each request.
func WithModel(model string) RunnerOption {
	return func(r *LoopRunner) { r.model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) RunnerOption {
	return func(r *LoopRunner) { r.temperature = t }
}

// WithRunnerLogger sets the structured logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *LoopRunner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRunnerTracer sets the tracer.
func WithRunnerTracer(t trace.Tracer) RunnerOption {
	return func(r *LoopRunner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// NewLoopRunner creates a runner over provider.
func NewLoopRunner(provider llm.Provider, opts ...RunnerOption) *LoopRunner {
	r := &LoopRunner{
		provider: provider,
		logger:   slog.Default(),
		tracer:   otel.Tracer("analyst/agent"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run implements Runner.
func (r *LoopRunner) Run(ctx context.Context, def Definition, input string, maxTurns int, session *memory.Session) (Result, error) {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if session == nil {
		return Result{}, NewInvalidInputError("session is required")
	}

	ctx, span := r.tracer.Start(ctx, "Runner.Run", trace.WithAttributes(
		attribute.String(telemetry.AttrAgentName, def.Name),
		attribute.String(telemetry.AttrSessionID, session.ID),
		attribute.Int(telemetry.AttrAgentMaxTurn, maxTurns),
	))
	defer span.End()

	res, err := r.run(ctx, def, input, maxTurns, session)
	span.SetAttributes(attribute.Int(telemetry.AttrAgentTurn, res.Turns))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (r *LoopRunner) run(ctx context.Context, def Definition, input string, maxTurns int, session *memory.Session) (Result, error) {
	var res Result

	history, err := session.Messages(ctx)
	if err != nil {
		return res, WrapMemoryError(err, "load_history")
	}

	messages := make([]llm.Message, 0, len(history)+2)
	if def.Instructions != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: def.Instructions})
	}
	messages = append(messages, historyMessages(history)...)

	turn := []llm.Message{{Role: llm.RoleUser, Content: input}}
	messages = append(messages, turn[0])

	tools := make([]llm.Tool, 0, len(def.Capabilities))
	byName := make(map[string]Capability, len(def.Capabilities))
	for _, c := range def.Capabilities {
		d := c.Definition()
		tools = append(tools, d)
		byName[d.Function.Name] = c
	}

	for i := 0; i < maxTurns; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Turns = i + 1

		resp, err := r.chat(ctx, messages, tools)
		if err != nil {
			return res, WrapLLMError(err, r.model)
		}
		res.Usage.PromptTokens += resp.Usage.PromptTokens
		res.Usage.CompletionTokens += resp.Usage.CompletionTokens
		res.Usage.TotalTokens += resp.Usage.TotalTokens

		assistant := llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistant)
		turn = append(turn, assistant)

		if len(resp.ToolCalls) == 0 {
			res.FinalOutput = resp.Content
			r.logger.DebugContext(ctx, "runner.final_response",
				"agent", def.Name,
				"turn", i+1,
				"content_len", len(resp.Content),
			)
			r.commit(ctx, session, def.Name, turn)
			return res, nil
		}

		for _, tc := range resp.ToolCalls {
			res.ToolCalls++
			out, err := r.callCapability(ctx, byName, tc)
			if err != nil {
				return res, err
			}
			toolMsg := llm.Message{Role: llm.RoleTool, Content: out, ToolCallID: tc.ID}
			messages = append(messages, toolMsg)
			turn = append(turn, toolMsg)
		}
	}

	return res, NewMaxTurnsError(def.Name, maxTurns)
}

func (r *LoopRunner) chat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.ChatResponse, error) {
	ctx, span := r.tracer.Start(ctx, "LLM.Chat", trace.WithAttributes(
		telemetry.LLMAttributes(r.model, len(messages), 0)...,
	))
	defer span.End()

	resp, err := r.provider.Chat(ctx, llm.ChatRequest{
		Model:       r.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: r.temperature,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp == nil {
		resp = &llm.ChatResponse{}
	}
	span.SetAttributes(telemetry.LLMUsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)...)
	if n := len(resp.ToolCalls); n > 0 {
		span.SetAttributes(attribute.Int(telemetry.AttrLLMToolCalls, n))
	}
	return resp, nil
}

// callCapability runs one tool call. Errors that need the orchestrator's
// attention abort the run; anything else goes back to the model as text.
func (r *LoopRunner) callCapability(ctx context.Context, byName map[string]Capability, tc llm.ToolCall) (string, error) {
	name := tc.Function.Name
	c, ok := byName[name]
	if !ok {
		r.logger.WarnContext(ctx, "runner.capability.unknown", "name", name, "call_id", tc.ID)
		return fmt.Sprintf("Error: function '%s' is not available; use %s or %s.", name, LoadSkillName, CallToolName), nil
	}

	out, err := c.Call(ctx, tc.Function.Arguments)
	if err == nil {
		r.logger.InfoContext(ctx, "runner.capability.result",
			"name", name,
			"call_id", tc.ID,
			"result_len", len(out),
		)
		return out, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	code := resilience.Classify(err)
	if errors.IsHealingCode(code) || errors.IsTransientCode(code) {
		return "", WrapToolError(err, name, tc.ID)
	}
	r.logger.WarnContext(ctx, "runner.capability.error",
		"name", name,
		"call_id", tc.ID,
		"code", code,
		"error", err,
	)
	return "Error: " + err.Error(), nil
}

// commit persists the completed turn. A write failure does not discard the
// answer already produced.
func (r *LoopRunner) commit(ctx context.Context, session *memory.Session, agentName string, turn []llm.Message) {
	msgs := make([]memory.ConversationMessage, 0, len(turn))
	for _, m := range turn {
		cm := memory.ConversationMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Metadata:   map[string]string{metadataAgent: agentName},
		}
		if len(m.ToolCalls) > 0 {
			if encoded, err := json.Marshal(m.ToolCalls); err == nil {
				cm.Metadata[metadataToolCalls] = string(encoded)
			}
		}
		msgs = append(msgs, cm)
	}
	if err := session.Append(ctx, msgs...); err != nil {
		r.logger.ErrorContext(ctx, "runner.session.append_error",
			"session_id", session.ID,
			"error", err,
		)
	}
}

// historyMessages converts persisted turns. Tool results whose assistant
// message was truncated away are dropped.
func historyMessages(history []memory.ConversationMessage) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	pending := map[string]bool{}
	for _, h := range history {
		m := llm.Message{
			Role:       llm.Role(h.Role),
			Content:    h.Content,
			ToolCallID: h.ToolCallID,
		}
		switch m.Role {
		case llm.RoleSystem:
			continue
		case llm.RoleTool:
			if !pending[m.ToolCallID] {
				continue
			}
			delete(pending, m.ToolCallID)
		case llm.RoleAssistant:
			if raw := h.Metadata[metadataToolCalls]; raw != "" {
				if err := json.Unmarshal([]byte(raw), &m.ToolCalls); err == nil {
					for _, tc := range m.ToolCalls {
						pending[tc.ID] = true
					}
				}
			}
		}
		out = append(out, m)
	}
	return out
}
