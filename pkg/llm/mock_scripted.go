// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrScriptExhausted is returned once every scripted step has been used.
var ErrScriptExhausted = errors.New("scripted mock: no more responses available")

// Step is one scripted model turn: either a response or an error.
type Step struct {
	Response *ChatResponse
	Err      error
}

// Text is a step answering with plain content.
func Text(content string) Step {
	return Step{Response: &ChatResponse{Content: content}}
}

// Fail is a step returning err.
func Fail(err error) Step {
	return Step{Err: err}
}

// CallTool is a step requesting a single function call. args is JSON encoded.
func CallTool(id, name string, args any) Step {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("scripted mock: encode args: %v", err))
	}
	return Step{Response: &ChatResponse{ToolCalls: []ToolCall{{
		ID:       id,
		Type:     ToolTypeFunction,
		Function: FunctionCall{Name: name, Arguments: string(raw)},
	}}}}
}

// ScriptedMockProvider returns a pre-defined sequence of steps. Useful for
// multi-turn tool calling tests.
type ScriptedMockProvider struct {
	mu       sync.Mutex
	steps    []Step
	requests []ChatRequest
}

// NewScriptedMockProvider creates a provider that plays steps in order.
func NewScriptedMockProvider(steps ...Step) *ScriptedMockProvider {
	return &ScriptedMockProvider{steps: steps}
}

// Chat pops the next scripted step.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return nil, ErrScriptExhausted
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.Err != nil {
		return nil, step.Err
	}
	var resp ChatResponse
	if step.Response != nil {
		resp = *step.Response
	}
	resp.Usage = Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20}
	return &resp, nil
}

// Add appends steps to the script.
func (s *ScriptedMockProvider) Add(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, steps...)
}

// CallCount returns how many times Chat has been called.
func (s *ScriptedMockProvider) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns the requests received so far.
func (s *ScriptedMockProvider) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Remaining returns the number of unused steps.
func (s *ScriptedMockProvider) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}
