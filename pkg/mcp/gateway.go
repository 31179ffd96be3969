// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-analyst/pkg/errors"
	"github.com/jllopis/kairos-analyst/pkg/interaction"
	"github.com/jllopis/kairos-analyst/pkg/resilience"
	"github.com/jllopis/kairos-analyst/pkg/telemetry"
)

// Transport selects how an endpoint is reached.
type Transport string

const (
	TransportSSE  Transport = "sse"
	TransportHTTP Transport = "http"
)

// Endpoint is a named remote tool server.
type Endpoint struct {
	Name      string
	URL       string
	Transport Transport
	Timeout   time.Duration
}

// ToolClient is the connection the gateway needs from a tool server.
type ToolClient interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer opens a connection to an endpoint.
type Dialer func(ctx context.Context, ep Endpoint) (ToolClient, error)

// DialEndpoint is the default Dialer. Requests are not retried inside the
// client; retry policy belongs to the caller.
func DialEndpoint(ctx context.Context, ep Endpoint) (ToolClient, error) {
	opts := []ClientOption{WithRetry(0, 0)}
	if ep.Timeout > 0 {
		opts = append(opts, WithTimeout(ep.Timeout))
	}
	switch ep.Transport {
	case TransportHTTP:
		return NewClientWithStreamableHTTP(ctx, ep.URL, opts...)
	default:
		return NewClientWithSSE(ctx, ep.URL, opts...)
	}
}

// Registry holds the known tool servers, at most one per name.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint

	dialer  Dialer
	log     interaction.Logger
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.AgentMetrics

	// breakerThreshold > 0 enables one circuit breaker per endpoint. Breakers
	// outlive scopes so a dead server is not redialed on every query.
	breakerThreshold int
	breakerCooldown  time.Duration
	breakers         map[string]*resilience.CircuitBreaker
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDialer replaces the connection factory.
func WithDialer(d Dialer) RegistryOption {
	return func(r *Registry) {
		if d != nil {
			r.dialer = d
		}
	}
}

// WithInteractionLog records every tool attempt and its raw result.
func WithInteractionLog(l interaction.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracer sets the tracer used for Gateway.Invoke spans.
func WithTracer(t trace.Tracer) RegistryOption {
	return func(r *Registry) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithMetrics records tool call counts.
func WithMetrics(m *telemetry.AgentMetrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithCircuitBreaker stops dialing an endpoint after threshold consecutive
// connection failures, until cooldown has passed. A threshold below 1
// disables it.
func WithCircuitBreaker(threshold int, cooldown time.Duration) RegistryOption {
	return func(r *Registry) {
		r.breakerThreshold = threshold
		r.breakerCooldown = cooldown
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		endpoints: make(map[string]Endpoint),
		breakers:  make(map[string]*resilience.CircuitBreaker),
		dialer:    DialEndpoint,
		log:       interaction.Discard{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("analyst/mcp"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds ep, replacing any endpoint with the same name.
func (r *Registry) Register(ep Endpoint) error {
	ep.Name = strings.TrimSpace(ep.Name)
	if ep.Name == "" {
		return errors.New(errors.CodeInvalidInput, "endpoint name is required", nil)
	}
	if strings.TrimSpace(ep.URL) == "" {
		return errors.New(errors.CodeInvalidInput, "endpoint url is required", nil).
			WithContext("endpoint", ep.Name)
	}
	switch ep.Transport {
	case "":
		ep.Transport = TransportSSE
	case TransportSSE, TransportHTTP:
	default:
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown transport %q", ep.Transport), nil).
			WithContext("endpoint", ep.Name)
	}

	r.mu.Lock()
	r.endpoints[ep.Name] = ep
	delete(r.breakers, ep.Name)
	r.mu.Unlock()
	return nil
}

// Unregister removes the named endpoint and reports whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.endpoints[name]
	delete(r.endpoints, name)
	delete(r.breakers, name)
	return ok
}

// breaker returns the circuit breaker of the named endpoint, or nil when
// breakers are disabled.
func (r *Registry) breaker(name string) *resilience.CircuitBreaker {
	if r.breakerThreshold < 1 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	if !ok {
		cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "mcp:" + name,
			FailureThreshold: r.breakerThreshold,
			Cooldown:         r.breakerCooldown,
		})
		r.breakers[name] = cb
	}
	return cb
}

// Endpoints returns the registered endpoints ordered by name.
func (r *Registry) Endpoints() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the registered endpoint names, sorted.
func (r *Registry) Names() []string {
	eps := r.Endpoints()
	names := make([]string, len(eps))
	for i, ep := range eps {
		names[i] = ep.Name
	}
	return names
}

// Open connects to every registered endpoint for the duration of one query.
// Each handshake is bounded by the endpoint Timeout. Endpoints that fail to
// connect stay in the scope as unavailable and are redialed on first use.
// The caller must Close the scope.
func (r *Registry) Open(ctx context.Context) *Scope {
	s := &Scope{
		reg:     r,
		order:   r.Endpoints(),
		clients: make(map[string]ToolClient),
		dialErr: make(map[string]error),
	}
	for _, ep := range s.order {
		s.dial(ctx, ep)
	}
	return s
}

// ServerTools is the tool surface of one endpoint.
type ServerTools struct {
	Name  string
	Tools []mcp.Tool
	Err   error
}

// Scope is the set of live connections used while handling one query.
type Scope struct {
	reg   *Registry
	order []Endpoint

	mu      sync.Mutex
	clients map[string]ToolClient
	dialErr map[string]error
	closed  bool
}

func (s *Scope) dial(ctx context.Context, ep Endpoint) (ToolClient, error) {
	cb := s.reg.breaker(ep.Name)
	if cb != nil {
		if err := cb.Allow(); err != nil {
			s.reg.logger.DebugContext(ctx, "gateway.connect.skipped",
				"endpoint", ep.Name,
				"reason", err.Error(),
			)
			s.dialErr[ep.Name] = err
			return nil, err
		}
	}
	c, err := s.reg.dialer(ctx, ep)
	if cb != nil && ctx.Err() == nil {
		cb.Record(err)
	}
	if err != nil {
		s.reg.logger.WarnContext(ctx, "gateway.connect.error",
			"endpoint", ep.Name,
			"url", ep.URL,
			"error", err,
		)
		s.dialErr[ep.Name] = err
		return nil, err
	}
	delete(s.dialErr, ep.Name)
	s.clients[ep.Name] = c
	return c, nil
}

func (s *Scope) endpoint(name string) (Endpoint, bool) {
	for _, ep := range s.order {
		if ep.Name == name {
			return ep, true
		}
	}
	return Endpoint{}, false
}

func (s *Scope) client(ctx context.Context, ep Endpoint) (ToolClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New(errors.CodeInternal, "connection scope is closed", nil)
	}
	if c, ok := s.clients[ep.Name]; ok {
		return c, nil
	}
	c, err := s.dial(ctx, ep)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errors.New(errors.CodeTransient,
			fmt.Sprintf("MCP server '%s' is unavailable", ep.Name), err).
			WithContext("endpoint", ep.Name)
	}
	return c, nil
}

// Invoke calls tool on the named server and returns the flattened result
// text. Unknown servers and unknown tools yield errors carrying the
// CRITICAL_MCP_ERROR marker.
func (s *Scope) Invoke(ctx context.Context, server, tool string, args any) (string, error) {
	ctx, span := s.reg.tracer.Start(ctx, "Gateway.Invoke",
		trace.WithAttributes(
			attribute.String(telemetry.AttrToolServer, server),
			attribute.String(telemetry.AttrToolName, tool),
		),
	)
	defer span.End()

	start := time.Now()
	text, argsJSON, err := s.invoke(ctx, server, tool, args)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	span.SetAttributes(telemetry.ToolCallAttributes(server, tool, "", elapsed, err == nil)...)
	span.SetAttributes(telemetry.ToolCallArgsResult(argsJSON, text, 500)...)
	s.reg.metrics.RecordToolCall(ctx, server, err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(telemetry.AttrErrorCode, string(resilience.Classify(err))))
		s.reg.logger.WarnContext(ctx, "gateway.invoke.error",
			"server", server,
			"tool", tool,
			"error", err,
		)
		return "", err
	}
	span.SetStatus(codes.Ok, "")
	s.reg.logger.DebugContext(ctx, "gateway.invoke.ok",
		"server", server,
		"tool", tool,
		"duration_ms", elapsed,
	)
	return text, nil
}

func (s *Scope) invoke(ctx context.Context, server, tool string, args any) (string, string, error) {
	receiver := "mcp:" + server
	normalized, err := NormalizeArgs(args)
	if err != nil {
		s.reg.log.Log("agent", receiver, fmt.Sprintf("%s(%v)", tool, args), interaction.KindToolCall)
		s.reg.log.Log(receiver, "agent", err.Error(), interaction.KindError)
		return "", "", errors.New(errors.CodeInvalidInput, "invalid tool arguments", err).
			WithContext("server", server).
			WithContext("tool", tool)
	}
	encoded, _ := json.Marshal(normalized)
	argsJSON := string(encoded)
	s.reg.log.Log("agent", receiver, fmt.Sprintf("%s(%s)", tool, argsJSON), interaction.KindToolCall)

	ep, ok := s.endpoint(server)
	if !ok {
		err := errors.New(errors.CodeEndpointNotFound,
			fmt.Sprintf("MCP server '%s' is not registered; available servers: %s",
				server, strings.Join(s.names(), ", ")), nil).
			WithContext("server", server)
		s.reg.log.Log(receiver, "agent", err.Error(), interaction.KindError)
		return "", argsJSON, err
	}

	c, err := s.client(ctx, ep)
	if err != nil {
		s.reg.log.Log(receiver, "agent", err.Error(), interaction.KindError)
		return "", argsJSON, err
	}

	result, err := c.CallTool(ctx, tool, normalized)
	if err != nil {
		s.reg.log.Log(receiver, "agent", err.Error(), interaction.KindError)
		return "", argsJSON, s.callError(server, tool, err)
	}

	text := FlattenResult(result)
	s.reg.log.Log(receiver, "agent", text, interaction.KindResult)

	if strings.Contains(text, resilience.SignatureUnknownTool) {
		return "", argsJSON, errors.New(errors.CodeToolNotFound,
			fmt.Sprintf("tool '%s' rejected by MCP server '%s': %s", tool, server, text), nil).
			WithContext("server", server).
			WithContext("tool", tool)
	}
	if result != nil && result.IsError {
		return "", argsJSON, errors.New(errors.CodeToolFailure,
			fmt.Sprintf("tool '%s' on MCP server '%s' failed: %s", tool, server, text), nil).
			WithContext("server", server).
			WithContext("tool", tool)
	}
	return text, argsJSON, nil
}

func (s *Scope) callError(server, tool string, err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "tool not found") || strings.Contains(msg, resilience.SignatureUnknownTool) {
		return errors.New(errors.CodeToolNotFound,
			fmt.Sprintf("tool '%s' not found on MCP server '%s'", tool, server), err).
			WithContext("server", server).
			WithContext("tool", tool)
	}
	if code := resilience.Classify(err); errors.IsTransientCode(code) {
		return errors.New(code,
			fmt.Sprintf("call to '%s' on MCP server '%s' failed", tool, server), err).
			WithRecoverable(true).
			WithContext("server", server).
			WithContext("tool", tool)
	}
	return errors.New(errors.CodeToolFailure,
		fmt.Sprintf("call to '%s' on MCP server '%s' failed", tool, server), err).
		WithContext("server", server).
		WithContext("tool", tool)
}

func (s *Scope) names() []string {
	names := make([]string, len(s.order))
	for i, ep := range s.order {
		names[i] = ep.Name
	}
	return names
}

// ListTools lists the tools of every endpoint in the scope. Per-endpoint
// failures are reported in ServerTools.Err.
func (s *Scope) ListTools(ctx context.Context) []ServerTools {
	out := make([]ServerTools, 0, len(s.order))
	for _, ep := range s.order {
		entry := ServerTools{Name: ep.Name}
		c, err := s.client(ctx, ep)
		if err != nil {
			entry.Err = err
		} else {
			entry.Tools, entry.Err = c.ListTools(ctx)
		}
		out = append(out, entry)
	}
	return out
}

// Close releases every connection. It is safe to call more than once.
func (s *Scope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for name, c := range s.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	s.clients = nil
	return stderrors.Join(errs...)
}
