// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/kairos-analyst/pkg/errors"
	"github.com/jllopis/kairos-analyst/pkg/interaction"
	"github.com/jllopis/kairos-analyst/pkg/resilience"
)

type recordingLog struct {
	mu   sync.Mutex
	recs []interaction.Record
}

func (l *recordingLog) Log(sender, receiver, content, kind string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, interaction.Record{Sender: sender, Receiver: receiver, Content: content, Kind: kind})
}

func (l *recordingLog) kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.recs))
	for i, r := range l.recs {
		out[i] = r.Kind
	}
	return out
}

type fakeToolClient struct {
	mu       sync.Mutex
	result   *mcpgo.CallToolResult
	err      error
	lastTool string
	lastArgs map[string]any
	closed   int
}

func (f *fakeToolClient) ListTools(context.Context) ([]mcpgo.Tool, error) {
	return []mcpgo.Tool{mcpgo.NewTool("get_industry_data")}, nil
}

func (f *fakeToolClient) CallTool(_ context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTool = name
	f.lastArgs = args
	return f.result, f.err
}

func (f *fakeToolClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func staticDialer(clients map[string]ToolClient, failures map[string]error) (Dialer, *int) {
	var dials int
	var mu sync.Mutex
	return func(_ context.Context, ep Endpoint) (ToolClient, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if err := failures[ep.Name]; err != nil {
			return nil, err
		}
		return clients[ep.Name], nil
	}, &dials
}

func newTestRegistry(t *testing.T, dialer Dialer, log interaction.Logger, names ...string) *Registry {
	t.Helper()
	reg := NewRegistry(WithDialer(dialer), WithInteractionLog(log))
	for _, name := range names {
		if err := reg.Register(Endpoint{Name: name, URL: "http://localhost/" + name + "/sse"}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	return reg
}

func TestRegistryRegisterReplacesByName(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Endpoint{Name: "industry_query", URL: "http://a/sse"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(Endpoint{Name: "industry_query", URL: "http://b/mcp", Transport: TransportHTTP}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	eps := reg.Endpoints()
	if len(eps) != 1 || eps[0].URL != "http://b/mcp" || eps[0].Transport != TransportHTTP {
		t.Fatalf("unexpected endpoints: %+v", eps)
	}
	if !reg.Unregister("industry_query") || reg.Unregister("industry_query") {
		t.Fatal("Unregister should report existence once")
	}
}

func TestRegistryRegisterValidates(t *testing.T) {
	reg := NewRegistry()
	cases := []Endpoint{
		{Name: "", URL: "http://a"},
		{Name: "a", URL: " "},
		{Name: "a", URL: "http://a", Transport: "stdio"},
	}
	for _, ep := range cases {
		err := reg.Register(ep)
		if !errors.HasCode(err, errors.CodeInvalidInput) {
			t.Errorf("Register(%+v): expected INVALID_INPUT, got %v", ep, err)
		}
	}
	if ep := (Endpoint{Name: "a", URL: "http://a"}); reg.Register(ep) != nil || reg.Endpoints()[0].Transport != TransportSSE {
		t.Fatal("empty transport should default to sse")
	}
}

func TestScopeInvokeSuccess(t *testing.T) {
	fake := &fakeToolClient{result: mcpgo.NewToolResultText(`{"annual_output": 2000}`)}
	dialer, _ := staticDialer(map[string]ToolClient{"industry_query": fake}, nil)
	log := &recordingLog{}
	reg := newTestRegistry(t, dialer, log, "industry_query")

	scope := reg.Open(context.Background())
	defer scope.Close()

	got, err := scope.Invoke(context.Background(), "industry_query", "get_industry_data", `{"industry":"tourism"}`)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != `{"annual_output": 2000}` {
		t.Fatalf("unexpected result %q", got)
	}
	if fake.lastTool != "get_industry_data" || fake.lastArgs["industry"] != "tourism" {
		t.Fatalf("unexpected call %s %v", fake.lastTool, fake.lastArgs)
	}
	kinds := log.kinds()
	if len(kinds) != 2 || kinds[0] != interaction.KindToolCall || kinds[1] != interaction.KindResult {
		t.Fatalf("unexpected interaction kinds %v", kinds)
	}
	if log.recs[0].Receiver != "mcp:industry_query" || log.recs[0].Sender != "agent" {
		t.Fatalf("unexpected attempt record %+v", log.recs[0])
	}
}

func TestScopeInvokeUnknownServer(t *testing.T) {
	dialer, _ := staticDialer(map[string]ToolClient{"industry_query": &fakeToolClient{}}, nil)
	log := &recordingLog{}
	reg := newTestRegistry(t, dialer, log, "industry_query")
	scope := reg.Open(context.Background())
	defer scope.Close()

	_, err := scope.Invoke(context.Background(), "old_server", "get_industry_data", nil)
	if !errors.HasCode(err, errors.CodeEndpointNotFound) {
		t.Fatalf("expected ENDPOINT_NOT_FOUND, got %v", err)
	}
	if !strings.Contains(err.Error(), errors.CriticalMarker) {
		t.Fatalf("expected critical marker in %q", err.Error())
	}
	if !strings.Contains(err.Error(), "industry_query") {
		t.Fatalf("expected available servers in %q", err.Error())
	}
	if kinds := log.kinds(); len(kinds) != 2 || kinds[0] != interaction.KindToolCall {
		t.Fatalf("attempt must be logged before the error, got %v", kinds)
	}
}

func TestScopeInvokeUnknownToolText(t *testing.T) {
	fake := &fakeToolClient{result: mcpgo.NewToolResultText("Unknown tool: get_old_data")}
	dialer, _ := staticDialer(map[string]ToolClient{"industry_query": fake}, nil)
	log := &recordingLog{}
	reg := newTestRegistry(t, dialer, log, "industry_query")
	scope := reg.Open(context.Background())
	defer scope.Close()

	_, err := scope.Invoke(context.Background(), "industry_query", "get_old_data", nil)
	if !errors.HasCode(err, errors.CodeToolNotFound) || !resilience.IsHealing(err) {
		t.Fatalf("expected TOOL_NOT_FOUND, got %v", err)
	}
	if !strings.Contains(err.Error(), errors.CriticalMarker) {
		t.Fatalf("expected critical marker in %q", err.Error())
	}
	// The raw result is logged before it is interpreted.
	if log.recs[1].Kind != interaction.KindResult || !strings.Contains(log.recs[1].Content, "Unknown tool") {
		t.Fatalf("unexpected result record %+v", log.recs[1])
	}
}

func TestScopeInvokeErrorResult(t *testing.T) {
	fake := &fakeToolClient{result: mcpgo.NewToolResultError("annual_output 1500 exceeds cap (upstream 503 timeout)")}
	dialer, _ := staticDialer(map[string]ToolClient{"deep_analysis": fake}, nil)
	reg := newTestRegistry(t, dialer, &recordingLog{}, "deep_analysis")
	scope := reg.Open(context.Background())
	defer scope.Close()

	_, err := scope.Invoke(context.Background(), "deep_analysis", "deep_analysis", nil)
	if !errors.HasCode(err, errors.CodeToolFailure) {
		t.Fatalf("expected TOOL_FAILURE, got %v", err)
	}
	if resilience.IsHealing(err) || resilience.IsTransient(err) {
		t.Fatalf("tool failure must be neither healing nor transient: %v", err)
	}
}

func TestScopeInvokeTransportErrorKeepsChain(t *testing.T) {
	cause := stderrors.New("request failed with status 503")
	fake := &fakeToolClient{err: cause}
	dialer, _ := staticDialer(map[string]ToolClient{"industry_query": fake}, nil)
	reg := newTestRegistry(t, dialer, &recordingLog{}, "industry_query")
	scope := reg.Open(context.Background())
	defer scope.Close()

	_, err := scope.Invoke(context.Background(), "industry_query", "get_industry_data", nil)
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected cause in chain, got %v", err)
	}
	if !errors.HasCode(err, errors.CodeOverloaded) {
		t.Fatalf("expected OVERLOADED decided at the call site, got %v", err)
	}
	if code := resilience.Classify(err); code != errors.CodeOverloaded {
		t.Fatalf("expected OVERLOADED from status text, got %s", code)
	}
}

func TestScopeInvokeInvalidArgs(t *testing.T) {
	dialer, _ := staticDialer(map[string]ToolClient{"industry_query": &fakeToolClient{}}, nil)
	reg := newTestRegistry(t, dialer, &recordingLog{}, "industry_query")
	scope := reg.Open(context.Background())
	defer scope.Close()

	_, err := scope.Invoke(context.Background(), "industry_query", "get_industry_data", `{"broken":`)
	if !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestScopeUnavailableEndpointRedials(t *testing.T) {
	fake := &fakeToolClient{result: mcpgo.NewToolResultText("ok")}
	failures := map[string]error{"industry_query": stderrors.New("connection refused")}
	clients := map[string]ToolClient{"industry_query": fake}
	dialer, dials := staticDialer(clients, failures)
	reg := newTestRegistry(t, dialer, &recordingLog{}, "industry_query")

	scope := reg.Open(context.Background())
	defer scope.Close()

	_, err := scope.Invoke(context.Background(), "industry_query", "get_industry_data", nil)
	if !errors.HasCode(err, errors.CodeTransient) || !resilience.IsTransient(err) {
		t.Fatalf("expected TRANSIENT for unavailable endpoint, got %v", err)
	}

	delete(failures, "industry_query")
	got, err := scope.Invoke(context.Background(), "industry_query", "get_industry_data", nil)
	if err != nil || got != "ok" {
		t.Fatalf("expected redial to succeed, got %q, %v", got, err)
	}
	if *dials != 3 {
		t.Fatalf("expected 3 dials, got %d", *dials)
	}
}

func TestRegistryCircuitBreaker(t *testing.T) {
	failures := map[string]error{"deep_analysis": stderrors.New("connection refused")}
	dialer, dials := staticDialer(map[string]ToolClient{"deep_analysis": &fakeToolClient{}}, failures)
	reg := NewRegistry(WithDialer(dialer), WithCircuitBreaker(2, time.Hour))
	ep := Endpoint{Name: "deep_analysis", URL: "http://localhost/deep_analysis/sse"}
	if err := reg.Register(ep); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ctx := context.Background()

	scope := reg.Open(ctx)
	if _, err := scope.Invoke(ctx, "deep_analysis", "deep_analysis", nil); !errors.HasCode(err, errors.CodeTransient) {
		t.Fatalf("expected TRANSIENT, got %v", err)
	}
	if *dials != 2 {
		t.Fatalf("expected 2 dials before the circuit opens, got %d", *dials)
	}
	_, err := scope.Invoke(ctx, "deep_analysis", "deep_analysis", nil)
	if !resilience.IsTransient(err) || !strings.Contains(err.Error(), "circuit open") {
		t.Fatalf("expected an open circuit, got %v", err)
	}
	scope.Close()

	// The breaker outlives the scope.
	scope = reg.Open(ctx)
	scope.Close()
	if *dials != 2 {
		t.Fatalf("open circuit must not dial, got %d dials", *dials)
	}

	// Re-registering the endpoint starts a fresh breaker.
	delete(failures, "deep_analysis")
	if err := reg.Register(ep); err != nil {
		t.Fatalf("Register: %v", err)
	}
	scope = reg.Open(ctx)
	defer scope.Close()
	if *dials != 3 {
		t.Fatalf("expected a dial after re-registering, got %d", *dials)
	}
}

func TestScopeCloseIsIdempotent(t *testing.T) {
	a := &fakeToolClient{}
	b := &fakeToolClient{}
	dialer, _ := staticDialer(map[string]ToolClient{"a": a, "b": b}, nil)
	reg := newTestRegistry(t, dialer, &recordingLog{}, "a", "b")

	scope := reg.Open(context.Background())
	if err := scope.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := scope.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if a.closed != 1 || b.closed != 1 {
		t.Fatalf("expected each client closed once, got %d and %d", a.closed, b.closed)
	}
	if _, err := scope.Invoke(context.Background(), "a", "x", nil); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestScopeListTools(t *testing.T) {
	dialer, _ := staticDialer(
		map[string]ToolClient{"industry_query": &fakeToolClient{}},
		map[string]error{"deep_analysis": stderrors.New("refused")},
	)
	reg := newTestRegistry(t, dialer, &recordingLog{}, "industry_query", "deep_analysis")
	scope := reg.Open(context.Background())
	defer scope.Close()

	listed := scope.ListTools(context.Background())
	if len(listed) != 2 {
		t.Fatalf("expected two entries, got %d", len(listed))
	}
	// Sorted by name.
	if listed[0].Name != "deep_analysis" || listed[0].Err == nil {
		t.Fatalf("expected deep_analysis to be unavailable: %+v", listed[0])
	}
	if listed[1].Name != "industry_query" || len(listed[1].Tools) != 1 {
		t.Fatalf("unexpected industry_query entry: %+v", listed[1])
	}
}

func TestGatewayOverSSE(t *testing.T) {
	srv := mcpserver.NewMCPServer("industry_query", "1.0.0")
	srv.AddTool(
		mcpgo.NewTool("get_industry_data", mcpgo.WithString("industry")),
		func(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			return mcpgo.NewToolResultText("industry=" + req.GetString("industry", "")), nil
		},
	)
	ts := mcpserver.NewTestServer(srv)
	defer ts.Close()

	log := &recordingLog{}
	reg := NewRegistry(WithInteractionLog(log))
	if err := reg.Register(Endpoint{Name: "industry_query", URL: ts.URL + "/sse"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scope := reg.Open(ctx)
	defer scope.Close()

	got, err := scope.Invoke(ctx, "industry_query", "get_industry_data", map[string]any{"industry": "tourism"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "industry=tourism" {
		t.Fatalf("unexpected result %q", got)
	}

	_, err = scope.Invoke(ctx, "industry_query", "get_old_data", nil)
	if !errors.HasCode(err, errors.CodeToolNotFound) {
		t.Fatalf("expected TOOL_NOT_FOUND from server, got %v", err)
	}
}
