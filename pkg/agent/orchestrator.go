// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent drives the industry analyst: a model reasoning loop with two
// capabilities, wrapped in bounded retry and one-shot session healing.
package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-analyst/pkg/errors"
	"github.com/jllopis/kairos-analyst/pkg/interaction"
	"github.com/jllopis/kairos-analyst/pkg/mcp"
	"github.com/jllopis/kairos-analyst/pkg/memory"
	"github.com/jllopis/kairos-analyst/pkg/resilience"
	"github.com/jllopis/kairos-analyst/pkg/skills"
	"github.com/jllopis/kairos-analyst/pkg/telemetry"
)

const (
	DefaultName        = "IndustryAnalyst"
	DefaultMaxRetries  = 3
	DefaultMaxTurns    = 30
	DefaultBackoffUnit = time.Second

	DefaultOverloadApology = "Sorry, the analysis service is overloaded right now. Please try again in a moment."
	DefaultGenericApology  = "Sorry, something went wrong while processing your request. Please try again."

	// SystemUpdateNotice is appended to the instructions after the skill
	// catalog changes.
	SystemUpdateNotice = "[System Update] New skills available. Check <available_skills>."

	healTriggerResponse = "response"
)

// DefaultInstructions frames the analyst's behavior. The skill catalog is
// appended after it.
const DefaultInstructions = `You are an expert analyst of industry development.

When the user asks a question, follow the ReAct (reason, act, observe) pattern:
1. Check the available skills.
2. If a skill is needed, call load_skill to load it.
3. Read the loaded skill instructions and call the tools they name with call_tool.`

// Orchestrator owns the skill loader, the tool registry and the session, and
// turns a query into a response. Queries are serialized: concurrent callers
// on one orchestrator wait for each other.
type Orchestrator struct {
	mu sync.Mutex

	runner   Runner
	registry *mcp.Registry
	loader   *skills.Loader
	session  *memory.Session

	name         string
	instructions string
	catalog      string
	updated      bool

	maxRetries     int
	maxTurns       int
	backoffUnit    time.Duration
	attemptTimeout time.Duration
	sleep          resilience.SleepFunc
	autoReset      bool

	overloadApology string
	genericApology  string

	log     interaction.Logger
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *telemetry.AgentMetrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithName sets the agent name passed to the runner.
func WithName(name string) Option {
	return func(o *Orchestrator) error {
		if strings.TrimSpace(name) == "" {
			return NewInvalidInputError("agent name must not be empty")
		}
		o.name = name
		return nil
	}
}

// WithInstructions replaces the base instructions.
func WithInstructions(text string) Option {
	return func(o *Orchestrator) error {
		o.instructions = text
		return nil
	}
}

// WithSkillCatalog sets the skill catalog prompt shown to the model.
func WithSkillCatalog(prompt string) Option {
	return func(o *Orchestrator) error {
		o.catalog = prompt
		return nil
	}
}

// WithAutoReset clears the session once at construction.
func WithAutoReset(enabled bool) Option {
	return func(o *Orchestrator) error {
		o.autoReset = enabled
		return nil
	}
}

// WithMaxRetries sets the number of attempts per pass.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			return NewInvalidInputError("max retries must be at least 1")
		}
		o.maxRetries = n
		return nil
	}
}

// WithMaxTurns bounds the model turns of one run.
func WithMaxTurns(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			return NewInvalidInputError("max turns must be at least 1")
		}
		o.maxTurns = n
		return nil
	}
}

// WithBackoffUnit sets the unit of the retry backoff; attempt n waits
// (n+1)*2 units.
func WithBackoffUnit(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d < 0 {
			return NewInvalidInputError("backoff unit must not be negative")
		}
		o.backoffUnit = d
		return nil
	}
}

// WithAttemptTimeout bounds each attempt. An attempt cut short by it fails
// with TIMEOUT and is retried. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d < 0 {
			return NewInvalidInputError("attempt timeout must not be negative")
		}
		o.attemptTimeout = d
		return nil
	}
}

// WithSleep replaces the backoff sleep.
func WithSleep(fn resilience.SleepFunc) Option {
	return func(o *Orchestrator) error {
		if fn != nil {
			o.sleep = fn
		}
		return nil
	}
}

// WithApologies sets the texts returned on terminal failure.
func WithApologies(overload, generic string) Option {
	return func(o *Orchestrator) error {
		if overload != "" {
			o.overloadApology = overload
		}
		if generic != "" {
			o.genericApology = generic
		}
		return nil
	}
}

// WithInteractionLog sets the interaction log.
func WithInteractionLog(l interaction.Logger) Option {
	return func(o *Orchestrator) error {
		if l != nil {
			o.log = l
		}
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if l != nil {
			o.logger = l
		}
		return nil
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) error {
		if t != nil {
			o.tracer = t
		}
		return nil
	}
}

// WithMetrics records query outcomes, retries and heals.
func WithMetrics(m *telemetry.AgentMetrics) Option {
	return func(o *Orchestrator) error {
		o.metrics = m
		return nil
	}
}

// New creates an orchestrator. runner, registry, loader and session are
// required.
func New(ctx context.Context, runner Runner, registry *mcp.Registry, loader *skills.Loader, session *memory.Session, opts ...Option) (*Orchestrator, error) {
	if runner == nil || registry == nil || loader == nil || session == nil {
		return nil, NewInvalidInputError("runner, registry, loader and session are required")
	}
	o := &Orchestrator{
		runner:          runner,
		registry:        registry,
		loader:          loader,
		session:         session,
		name:            DefaultName,
		instructions:    DefaultInstructions,
		catalog:         skills.NoSkillsPrompt,
		maxRetries:      DefaultMaxRetries,
		maxTurns:        DefaultMaxTurns,
		backoffUnit:     DefaultBackoffUnit,
		sleep:           resilience.Sleep,
		overloadApology: DefaultOverloadApology,
		genericApology:  DefaultGenericApology,
		log:             interaction.Discard{},
		logger:          slog.Default(),
		tracer:          otel.Tracer("analyst/agent"),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	if o.autoReset {
		if err := o.clearSession(ctx); err != nil {
			return nil, err
		}
	}
	o.log.Log("system", "agent", "initialized", interaction.KindInfo)
	return o, nil
}

// SessionID returns the id of the persistent session.
func (o *Orchestrator) SessionID() string { return o.session.ID }

// LoadedSkills returns the skills loaded in the current session.
func (o *Orchestrator) LoadedSkills() []string { return o.loader.Loaded() }

// Instructions returns the system instructions the next query will use.
func (o *Orchestrator) Instructions() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.instructionsLocked()
}

func (o *Orchestrator) instructionsLocked() string {
	var b strings.Builder
	b.WriteString(o.instructions)
	if o.catalog != "" {
		b.WriteString("\n\n")
		b.WriteString(o.catalog)
	}
	if o.updated {
		b.WriteString("\n\n")
		b.WriteString(SystemUpdateNotice)
	}
	return b.String()
}

// UpdateSkills replaces the skill catalog and the set of loadable skills.
// It takes effect on the next query.
func (o *Orchestrator) UpdateSkills(prompt string, names []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.catalog = prompt
	o.loader.SetAvailable(names)
	o.updated = true
	o.log.Log("system", "agent", fmt.Sprintf("skills updated: %s", strings.Join(names, ", ")), interaction.KindInfo)
}

// ClearSession forgets loaded skills and destroys and recreates the session
// store. Missing storage files are not an error.
func (o *Orchestrator) ClearSession(ctx context.Context) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.clearSession(ctx); err != nil {
		o.logger.ErrorContext(ctx, "orchestrator.session.clear_error",
			"session_id", o.session.ID,
			"error", err,
		)
		return false
	}
	return true
}

func (o *Orchestrator) clearSession(ctx context.Context) error {
	o.loader.Reset()
	if err := o.session.Reset(ctx); err != nil {
		return err
	}
	o.log.Log("system", "agent", "session cleared", interaction.KindInfo)
	return nil
}

// healRequest stops the retry loop and asks for a healing pass.
type healRequest struct {
	trigger string
	cause   error
}

func (h *healRequest) Error() string { return "session healing requested: " + h.trigger }

// ProcessQuery answers query. It never returns an error: terminal failures
// become an apology text.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query string) (response string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	ctx = telemetry.WithSessionID(ctx, o.session.ID)
	ctx, span := o.tracer.Start(ctx, "Orchestrator.ProcessQuery", trace.WithAttributes(
		attribute.String(telemetry.AttrAgentName, o.name),
		attribute.String(telemetry.AttrSessionID, o.session.ID),
	))
	defer span.End()

	outcome := telemetry.OutcomeFailed
	defer func() {
		if r := recover(); r != nil {
			o.logger.ErrorContext(ctx, "orchestrator.query.panic",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			response, outcome = o.fail(ctx, errors.New(errors.CodeInternal, fmt.Sprintf("panic: %v", r), nil))
		}
		span.SetAttributes(attribute.String(telemetry.AttrAgentOutcome, outcome))
		if outcome != telemetry.OutcomeAnswered && outcome != telemetry.OutcomeHealed {
			span.SetStatus(codes.Error, outcome)
		}
		o.metrics.RecordQuery(ctx, outcome, time.Since(start).Seconds())
	}()

	o.logger.InfoContext(ctx, "orchestrator.query.start", "session_id", o.session.ID)
	o.log.Log("user", "agent", query, interaction.KindQuery)

	response, outcome = o.process(ctx, query)
	return response
}

// process runs at most two passes: the normal one and, when a stale tool
// reference is detected, one healing pass on a cleared session.
func (o *Orchestrator) process(ctx context.Context, query string) (string, string) {
	for pass := 0; pass < 2; pass++ {
		healing := pass > 0
		out, err := o.runPass(ctx, query, pass)
		if err == nil {
			if healing {
				return out, telemetry.OutcomeHealed
			}
			o.log.Log("agent", "user", out, interaction.KindResponse)
			o.logger.InfoContext(ctx, "orchestrator.query.done", "session_id", o.session.ID)
			return out, telemetry.OutcomeAnswered
		}

		var heal *healRequest
		if !healing && stderrors.As(err, &heal) {
			o.heal(ctx, heal)
			continue
		}
		return o.fail(ctx, err)
	}
	// Unreachable: the healing pass never asks for another heal.
	return o.fail(ctx, errors.New(errors.CodeInternal, "healing did not converge", nil))
}

// runPass opens a fresh connection scope and retries transient failures.
func (o *Orchestrator) runPass(ctx context.Context, query string, pass int) (string, error) {
	healing := pass > 0
	scope := o.registry.Open(ctx)
	defer func() {
		if err := scope.Close(); err != nil {
			o.logger.WarnContext(ctx, "orchestrator.scope.close_error", "error", err)
		}
	}()

	def := Definition{
		Name:         o.name,
		Instructions: o.instructionsLocked(),
		Capabilities: []Capability{
			NewLoadSkill(o.loader, o.log),
			NewCallTool(scope, o.registry.Names()),
		},
	}

	retry := resilience.RetryConfig{
		MaxAttempts: o.maxRetries,
		Backoff:     resilience.LinearBackoff(2 * o.backoffUnit),
		Sleep:       o.sleep,
		IsRecoverable: func(err error) bool {
			var heal *healRequest
			if stderrors.As(err, &heal) {
				return false
			}
			return resilience.IsTransient(err)
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			code := resilience.Classify(err)
			o.logger.WarnContext(ctx, "orchestrator.attempt.retry",
				"attempt", attempt,
				"code", code,
				"delay", delay,
				"error", err,
			)
			o.log.Log("agent", "system", fmt.Sprintf("retrying after %s (attempt %d/%d): %v", code, attempt+1, o.maxRetries, err), interaction.KindRetry)
			o.metrics.RecordRetry(ctx, code)
		},
	}

	var out string
	err := retry.Do(ctx, func(attempt int) error {
		res, err := o.attempt(ctx, def, query, pass, attempt)
		if err != nil {
			if !healing && resilience.IsHealing(err) {
				return &healRequest{trigger: string(resilience.Classify(err)), cause: err}
			}
			return err
		}
		if !healing && resilience.StaleResponse(res.FinalOutput) {
			return &healRequest{trigger: healTriggerResponse}
		}
		out = res.FinalOutput
		return nil
	})
	return out, err
}

func (o *Orchestrator) attempt(ctx context.Context, def Definition, query string, pass, attempt int) (Result, error) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.Attempt", trace.WithAttributes(
		telemetry.AttemptAttributes(o.session.ID, pass, attempt, pass > 0)...,
	))
	defer span.End()

	var res Result
	err := resilience.WithTimeout(ctx, o.attemptTimeout, func(ctx context.Context) error {
		var err error
		res, err = o.runner.Run(ctx, def, query, o.maxTurns, o.session)
		return err
	})
	if err != nil {
		code := resilience.Classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(telemetry.AttrErrorCode, string(code)))
		o.metrics.RecordError(ctx, err, "runner")
		return res, err
	}
	span.SetAttributes(
		attribute.Int(telemetry.AttrAgentTurn, res.Turns),
		attribute.Int(telemetry.AttrLLMToolCalls, res.ToolCalls),
	)
	span.SetAttributes(telemetry.LLMUsageAttributes(res.Usage.PromptTokens, res.Usage.CompletionTokens)...)
	return res, nil
}

func (o *Orchestrator) heal(ctx context.Context, req *healRequest) {
	o.logger.WarnContext(ctx, "orchestrator.heal",
		"session_id", o.session.ID,
		"trigger", req.trigger,
		"cause", req.cause,
	)
	trace.SpanFromContext(ctx).AddEvent("session.heal",
		trace.WithAttributes(attribute.String("trigger", req.trigger)))
	o.log.Log("agent", "system", "stale tool reference detected ("+req.trigger+"); clearing session and retrying", interaction.KindHeal)
	o.metrics.RecordHeal(ctx, req.trigger)

	if err := o.clearSession(ctx); err != nil {
		o.logger.ErrorContext(ctx, "orchestrator.session.clear_error",
			"session_id", o.session.ID,
			"error", err,
		)
	}
}

// fail turns a terminal error into an apology.
func (o *Orchestrator) fail(ctx context.Context, err error) (string, string) {
	code := resilience.Classify(err)
	o.logger.ErrorContext(ctx, "orchestrator.query.failed",
		"session_id", o.session.ID,
		"code", code,
		"error", err,
	)
	o.metrics.RecordFailure(ctx, code)

	apology, outcome := o.genericApology, telemetry.OutcomeFailed
	if errors.IsOverloadCode(code) {
		apology, outcome = o.overloadApology, telemetry.OutcomeOverload
	}
	o.log.Log("agent", "user", fmt.Sprintf("%s (%s)", apology, code), interaction.KindError)
	return apology, outcome
}
