// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp connects the analyst to remote tool servers over the Model
// Context Protocol and serves local tools over it.
package mcp

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/kairos-analyst/pkg/errors"
	"github.com/jllopis/kairos-analyst/pkg/resilience"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultRetries  = 0
	defaultBackoff  = 200 * time.Millisecond
	defaultCacheTTL = 30 * time.Second

	clientName    = "kairos-analyst"
	clientVersion = "0.1.0"
)

// ClientOption customizes the MCP client wrapper behavior.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry configures retry count and backoff for requests that fail
// without a context error.
func WithRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.maxRetries = retries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithToolCacheTTL sets the tool discovery cache TTL. Use 0 to disable caching.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// Client wraps an mcp-go client with timeouts, optional retry and a tool
// listing cache.
type Client struct {
	mcpClient  client.MCPClient
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	cacheTTL   time.Duration
	stopStream context.CancelFunc

	mu          sync.Mutex
	toolsCache  []mcp.Tool
	cacheExpiry time.Time
}

// NewClient creates a new Client with the given MCP client implementation.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	cl := &Client{
		mcpClient:  c,
		timeout:    defaultTimeout,
		maxRetries: defaultRetries,
		backoff:    defaultBackoff,
		cacheTTL:   defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// NewClientWithSSE connects to an SSE endpoint (e.g. http://host:8001/sse)
// and performs the MCP handshake. The event stream lives as long as ctx.
func NewClientWithSSE(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	sseClient, err := client.NewSSEMCPClient(url)
	if err != nil {
		return nil, err
	}
	return start(ctx, sseClient, opts...)
}

// NewClientWithStreamableHTTP connects to a streamable HTTP endpoint and
// performs the MCP handshake.
func NewClientWithStreamableHTTP(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	httpClient, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, err
	}
	return start(ctx, httpClient, opts...)
}

// start runs the transport under its own context so the event stream can be
// cut when the server accepts the connection but never completes the
// handshake. The stream otherwise lives until ctx ends or Close.
func start(ctx context.Context, c *client.Client, opts ...ClientOption) (*Client, error) {
	wrapped := NewClient(c, opts...)
	streamCtx, stopStream := context.WithCancel(ctx)
	var timer *time.Timer
	if wrapped.timeout > 0 {
		timer = time.AfterFunc(wrapped.timeout, stopStream)
	}
	err := c.Start(streamCtx)
	timedOut := timer != nil && !timer.Stop()
	if err != nil || timedOut {
		stopStream()
		_ = c.Close()
		if timedOut && ctx.Err() == nil {
			return nil, errors.New(errors.CodeTimeout,
				fmt.Sprintf("mcp transport did not start within %s", wrapped.timeout), err).
				WithRecoverable(true)
		}
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("start mcp transport: %w", err)
	}
	wrapped.stopStream = stopStream

	initCtx, cancel := wrapped.withTimeout(ctx)
	defer cancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	if _, err := c.Initialize(initCtx, initRequest); err != nil {
		_ = wrapped.Close()
		return nil, fmt.Errorf("initialize mcp session: %w", err)
	}
	return wrapped, nil
}

// ListTools retrieves the list of tools available on the server.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if cached := c.cachedTools(); cached != nil {
		return cached, nil
	}
	var resp *mcp.ListToolsResult
	err := c.retry().Do(ctx, func(int) error {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		var err error
		resp, err = c.mcpClient.ListTools(reqCtx, mcp.ListToolsRequest{})
		return err
	})
	if err != nil {
		return nil, err
	}
	c.storeTools(resp.Tools)
	return resp.Tools, nil
}

// CallTool executes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	var res *mcp.CallToolResult
	err := c.retry().Do(ctx, func(int) error {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		var err error
		res, err = c.mcpClient.CallTool(reqCtx, req)
		return err
	})
	return res, err
}

// Close closes the client connection.
func (c *Client) Close() error {
	err := c.mcpClient.Close()
	if c.stopStream != nil {
		c.stopStream()
	}
	return err
}

func (c *Client) retry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: c.maxRetries + 1,
		Backoff:     resilience.ExponentialBackoff(c.backoff, 10*c.backoff, 2, 0),
		IsRecoverable: func(err error) bool {
			return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
		},
	}
}

func (c *Client) cachedTools() []mcp.Tool {
	if c.cacheTTL == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.toolsCache) == 0 || time.Now().After(c.cacheExpiry) {
		return nil
	}
	out := make([]mcp.Tool, len(c.toolsCache))
	copy(out, c.toolsCache)
	return out
}

func (c *Client) storeTools(tools []mcp.Tool) {
	if c.cacheTTL == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsCache = make([]mcp.Tool, len(tools))
	copy(c.toolsCache, tools)
	c.cacheExpiry = time.Now().Add(c.cacheTTL)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
