// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// NormalizeArgs converts the argument forms a model may produce into the
// object sent on the wire. nil and the empty string become an empty object.
func NormalizeArgs(input any) (map[string]any, error) {
	switch value := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		if value == nil {
			return map[string]any{}, nil
		}
		return value, nil
	case json.RawMessage:
		return decodeArgs(value)
	case []byte:
		return decodeArgs(value)
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return map[string]any{}, nil
		}
		if strings.HasPrefix(trimmed, "{") {
			return decodeArgs([]byte(trimmed))
		}
		return map[string]any{"input": value}, nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("mcp tool args: unsupported type %T", input)
		}
		return decodeArgs(encoded)
	}
}

func decodeArgs(raw []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("mcp tool args: invalid JSON: %w", err)
	}
	if decoded == nil {
		decoded = map[string]any{}
	}
	return decoded, nil
}

// FlattenResult renders a tool result as plain text: text items joined by
// newlines, or the JSON encoding of structured content when there is no text.
func FlattenResult(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	if text := extractTextContent(result.Content); text != "" {
		return text
	}
	if result.StructuredContent != nil {
		if encoded, err := json.Marshal(result.StructuredContent); err == nil {
			return string(encoded)
		}
	}
	return ""
}

func extractTextContent(items []mcp.Content) string {
	if len(items) == 0 {
		return ""
	}
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
