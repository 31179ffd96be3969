// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys. They follow OpenTelemetry naming conventions where
// applicable.
const (
	// Orchestrator attributes
	AttrAgentName    = "analyst.agent.name"
	AttrAgentModel   = "analyst.agent.model"
	AttrAgentPass    = "analyst.agent.pass"
	AttrAgentAttempt = "analyst.agent.attempt"
	AttrAgentHealing = "analyst.agent.healing"
	AttrAgentOutcome = "analyst.agent.outcome"
	AttrAgentTurn    = "analyst.agent.turn"
	AttrAgentMaxTurn = "analyst.agent.max_turns"

	// Session attributes
	AttrSessionID       = "analyst.session.id"
	AttrSessionMsgCount = "analyst.session.message_count"

	// Tool attributes
	AttrToolServer     = "analyst.tool.server"
	AttrToolName       = "analyst.tool.name"
	AttrToolCallID     = "analyst.tool.call_id"
	AttrToolArgs       = "analyst.tool.arguments"
	AttrToolResult     = "analyst.tool.result"
	AttrToolDurationMs = "analyst.tool.duration_ms"
	AttrToolSuccess    = "analyst.tool.success"

	// Skill attributes
	AttrSkillName   = "analyst.skill.name"
	AttrSkillReload = "analyst.skill.reload"

	// Error attributes
	AttrErrorCode = "analyst.error.code"

	// LLM attributes (gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
	AttrLLMToolCalls    = "gen_ai.tool_calls"
)

// AttemptAttributes describes one orchestrator attempt.
func AttemptAttributes(sessionID string, pass, attempt int, healing bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrAgentPass, pass),
		attribute.Int(AttrAgentAttempt, attempt),
		attribute.Bool(AttrAgentHealing, healing),
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(AttrSessionID, sessionID))
	}
	return attrs
}

// ToolCallAttributes returns attributes for a remote tool call span.
func ToolCallAttributes(server, name, callID string, durationMs float64, success bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrToolServer, server),
		attribute.String(AttrToolName, name),
		attribute.Float64(AttrToolDurationMs, durationMs),
		attribute.Bool(AttrToolSuccess, success),
	}
	if callID != "" {
		attrs = append(attrs, attribute.String(AttrToolCallID, callID))
	}
	return attrs
}

// ToolCallArgsResult returns attributes with tool arguments and result,
// truncated to maxLen bytes.
func ToolCallArgsResult(args, result string, maxLen int) []attribute.KeyValue {
	if maxLen <= 0 {
		maxLen = 500
	}
	attrs := []attribute.KeyValue{}
	if args != "" {
		attrs = append(attrs, attribute.String(AttrToolArgs, Truncate(args, maxLen)))
	}
	if result != "" {
		attrs = append(attrs, attribute.String(AttrToolResult, Truncate(result, maxLen)))
	}
	return attrs
}

// LLMAttributes returns attributes for a model call span.
func LLMAttributes(model string, msgCount, toolCallCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if model != "" {
		attrs = append(attrs, attribute.String(AttrLLMModel, model))
	}
	if toolCallCount > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMToolCalls, toolCallCount))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	return attrs
}

// SkillAttributes returns attributes for a skill load span.
func SkillAttributes(name string, reload bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSkillName, name),
		attribute.Bool(AttrSkillReload, reload),
	}
}

// Truncate cuts s to at most max bytes on a rune boundary, marking the cut.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !runeStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func runeStart(b byte) bool { return b&0xC0 != 0x80 }
