// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import "context"

// DefaultToolCallPlaceholder is sent as content on assistant tool-call
// messages that carry no text.
const DefaultToolCallPlaceholder = "Calling tools."

// NormalizeToolCallContent wraps p so that assistant messages with tool calls
// never have empty content, both in requests sent to p and in the responses
// it returns. Some OpenAI-compatible backends reject null content there.
func NormalizeToolCallContent(p Provider, placeholder string) Provider {
	if placeholder == "" {
		placeholder = DefaultToolCallPlaceholder
	}
	return &normalizingProvider{next: p, placeholder: placeholder}
}

type normalizingProvider struct {
	next        Provider
	placeholder string
}

func (n *normalizingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	msgs := make([]Message, len(req.Messages))
	copy(msgs, req.Messages)
	for i := range msgs {
		if msgs[i].Role == RoleAssistant && len(msgs[i].ToolCalls) > 0 && msgs[i].Content == "" {
			msgs[i].Content = n.placeholder
		}
	}
	req.Messages = msgs

	resp, err := n.next.Chat(ctx, req)
	if err != nil || resp == nil {
		return resp, err
	}
	if len(resp.ToolCalls) > 0 && resp.Content == "" {
		out := *resp
		out.Content = n.placeholder
		return &out, nil
	}
	return resp, nil
}
