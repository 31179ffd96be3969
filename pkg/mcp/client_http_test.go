// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/kairos-analyst/pkg/errors"
)

func newPingServer() *mcpserver.MCPServer {
	server := mcpserver.NewMCPServer("test", "1.0.0")
	server.AddTool(mcpgo.NewTool("ping"), func(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return &mcpgo.CallToolResult{
			Content: []mcpgo.Content{mcpgo.TextContent{Type: "text", Text: "pong"}},
		}, nil
	})
	return server
}

func TestClient_StreamableHTTP_ListTools(t *testing.T) {
	httpServer := mcpserver.NewTestStreamableHTTPServer(newPingServer())
	defer httpServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := NewClientWithStreamableHTTP(ctx, httpServer.URL)
	if err != nil {
		t.Fatalf("NewClientWithStreamableHTTP error: %v", err)
	}
	defer client.Close()

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools error: %v", err)
	}
	if len(tools) == 0 || tools[0].Name != "ping" {
		t.Fatalf("Expected tool 'ping', got %+v", tools)
	}
}

func TestClient_SSE_CallTool(t *testing.T) {
	sseServer := mcpserver.NewTestServer(newPingServer())
	defer sseServer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := NewClientWithSSE(ctx, sseServer.URL+"/sse")
	if err != nil {
		t.Fatalf("NewClientWithSSE error: %v", err)
	}
	defer client.Close()

	res, err := client.CallTool(ctx, "ping", nil)
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if got := FlattenResult(res); got != "pong" {
		t.Fatalf("Expected 'pong', got %q", got)
	}

	_, err = client.CallTool(ctx, "missing", nil)
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "not found") {
		t.Fatalf("Expected tool not found error, got %v", err)
	}
}

var errTransport = stderrors.New("connection reset by peer")

// countingMCPClient implements the calls Client makes; the embedded
// interface is nil and panics if anything else is used.
type countingMCPClient struct {
	client.MCPClient
	listCalls int
	callErrs  []error
	calls     int
}

func (c *countingMCPClient) ListTools(context.Context, mcpgo.ListToolsRequest) (*mcpgo.ListToolsResult, error) {
	c.listCalls++
	return &mcpgo.ListToolsResult{Tools: []mcpgo.Tool{mcpgo.NewTool("ping")}}, nil
}

func (c *countingMCPClient) CallTool(context.Context, mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	c.calls++
	if len(c.callErrs) > 0 {
		err := c.callErrs[0]
		c.callErrs = c.callErrs[1:]
		return nil, err
	}
	return mcpgo.NewToolResultText("pong"), nil
}

func (c *countingMCPClient) Close() error { return nil }

func TestClient_ToolCacheAndRetry(t *testing.T) {
	fake := &countingMCPClient{}
	client := NewClient(fake, WithRetry(2, 1), WithToolCacheTTL(time.Minute))

	for i := 0; i < 3; i++ {
		if _, err := client.ListTools(context.Background()); err != nil {
			t.Fatalf("ListTools error: %v", err)
		}
	}
	if fake.listCalls != 1 {
		t.Fatalf("Expected one ListTools round trip, got %d", fake.listCalls)
	}

	fake.callErrs = []error{errTransport, errTransport}
	if _, err := client.CallTool(context.Background(), "ping", nil); err != nil {
		t.Fatalf("CallTool error after retries: %v", err)
	}
	if fake.calls != 3 {
		t.Fatalf("Expected 3 attempts, got %d", fake.calls)
	}
}

func TestClient_NoRetryByDefault(t *testing.T) {
	fake := &countingMCPClient{callErrs: []error{errTransport}}
	client := NewClient(fake)

	if _, err := client.CallTool(context.Background(), "ping", nil); err == nil {
		t.Fatal("Expected transport error")
	}
	if fake.calls != 1 {
		t.Fatalf("Expected a single attempt, got %d", fake.calls)
	}
}

func TestClient_ContextErrorsAreNotRetried(t *testing.T) {
	fake := &countingMCPClient{callErrs: []error{context.Canceled, context.Canceled}}
	client := NewClient(fake, WithRetry(3, 1))

	if _, err := client.CallTool(context.Background(), "ping", nil); err == nil {
		t.Fatal("Expected cancellation error")
	}
	if fake.calls != 1 {
		t.Fatalf("Expected a single attempt, got %d", fake.calls)
	}
}

func TestDialEndpoint_StalledHandshakeTimesOut(t *testing.T) {
	stalled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer stalled.Close()

	start := time.Now()
	_, err := DialEndpoint(context.Background(), Endpoint{
		Name:    "industry_query",
		URL:     stalled.URL + "/sse",
		Timeout: 100 * time.Millisecond,
	})
	if !errors.HasCode(err, errors.CodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("dial was not bounded by the endpoint timeout: %s", elapsed)
	}
}
