// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory stores the conversation turns of an analyst session.
package memory

import (
	"context"
	"time"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ConversationMessage represents a single message in a conversation history.
type ConversationMessage struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ConversationMemory stores and retrieves ordered conversation history.
type ConversationMemory interface {
	// AppendMessage adds a message to the conversation.
	AppendMessage(ctx context.Context, sessionID string, msg ConversationMessage) error

	// GetMessages retrieves all messages for a session, ordered by insertion.
	// A configured truncation strategy is applied to the result.
	GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error)

	// GetRecentMessages retrieves the last N messages for a session.
	GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]ConversationMessage, error)

	// Clear removes all messages for a session.
	Clear(ctx context.Context, sessionID string) error

	// DeleteOldMessages removes messages older than the given duration.
	DeleteOldMessages(ctx context.Context, sessionID string, olderThan time.Duration) error
}

// Store is a ConversationMemory that owns resources.
type Store interface {
	ConversationMemory

	// Count returns the number of persisted messages, ignoring truncation.
	Count(ctx context.Context, sessionID string) (int, error)

	Close() error
}

// TruncationStrategy defines how to manage conversation length.
type TruncationStrategy interface {
	Truncate(ctx context.Context, messages []ConversationMessage) ([]ConversationMessage, error)
}

// WindowStrategy keeps only the last N messages.
type WindowStrategy struct {
	MaxMessages int
	// KeepSystemMessages preserves system messages regardless of window.
	KeepSystemMessages bool
}

// Truncate implements TruncationStrategy.
func (w *WindowStrategy) Truncate(_ context.Context, messages []ConversationMessage) ([]ConversationMessage, error) {
	if w.MaxMessages <= 0 || len(messages) <= w.MaxMessages {
		return messages, nil
	}
	if !w.KeepSystemMessages {
		return messages[len(messages)-w.MaxMessages:], nil
	}

	system, other := splitSystem(messages, true)
	available := w.MaxMessages - len(system)
	if available < 0 {
		available = 0
	}
	if len(other) > available {
		other = other[len(other)-available:]
	}
	return append(system, other...), nil
}

// TokenStrategy keeps the most recent messages that fit a token budget.
type TokenStrategy struct {
	MaxTokens int
	// TokenCounter estimates tokens for a message. Defaults to len(content)/4.
	TokenCounter func(msg ConversationMessage) int
	// KeepSystemMessages preserves system messages regardless of budget.
	KeepSystemMessages bool
}

// Truncate implements TruncationStrategy.
func (t *TokenStrategy) Truncate(_ context.Context, messages []ConversationMessage) ([]ConversationMessage, error) {
	counter := t.TokenCounter
	if counter == nil {
		counter = func(msg ConversationMessage) int { return len(msg.Content) / 4 }
	}

	total := 0
	for _, msg := range messages {
		total += counter(msg)
	}
	if t.MaxTokens <= 0 || total <= t.MaxTokens {
		return messages, nil
	}

	system, other := splitSystem(messages, t.KeepSystemMessages)
	budget := t.MaxTokens
	for _, msg := range system {
		budget -= counter(msg)
	}

	start := len(other)
	used := 0
	for i := len(other) - 1; i >= 0; i-- {
		n := counter(other[i])
		if used+n > budget {
			break
		}
		used += n
		start = i
	}
	return append(system, other[start:]...), nil
}

func splitSystem(messages []ConversationMessage, keep bool) (system, other []ConversationMessage) {
	for _, msg := range messages {
		if keep && msg.Role == RoleSystem {
			system = append(system, msg)
		} else {
			other = append(other, msg)
		}
	}
	return system, other
}

// ConversationConfig configures conversation memory behavior.
type ConversationConfig struct {
	// TruncationStrategy to apply when loading messages. Optional.
	TruncationStrategy TruncationStrategy
	// DefaultSessionTTL drops messages older than this when a session opens.
	// Zero keeps everything.
	DefaultSessionTTL time.Duration
}

// NewWindowStrategy creates a window-based truncation strategy.
func NewWindowStrategy(maxMessages int, keepSystem bool) *WindowStrategy {
	return &WindowStrategy{MaxMessages: maxMessages, KeepSystemMessages: keepSystem}
}

// NewTokenStrategy creates a token-based truncation strategy.
func NewTokenStrategy(maxTokens int, keepSystem bool) *TokenStrategy {
	return &TokenStrategy{MaxTokens: maxTokens, KeepSystemMessages: keepSystem}
}

// StrategyFor picks a truncation strategy from limits. A token budget wins
// over a message window; zero limits mean no truncation.
func StrategyFor(maxMessages, maxTokens int) TruncationStrategy {
	switch {
	case maxTokens > 0:
		return NewTokenStrategy(maxTokens, true)
	case maxMessages > 0:
		return NewWindowStrategy(maxMessages, true)
	default:
		return nil
	}
}

func truncate(ctx context.Context, cfg ConversationConfig, messages []ConversationMessage) ([]ConversationMessage, error) {
	if cfg.TruncationStrategy == nil || len(messages) == 0 {
		return messages, nil
	}
	return cfg.TruncationStrategy.Truncate(ctx, messages)
}
