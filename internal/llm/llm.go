// Package llm talks to the upstream chat model: one-shot completions for the
// planner and token streams for replies. Every call goes through a circuit
// breaker.
package llm

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"backend-go-chat-gateway/internal/breaker"
	"backend-go-chat-gateway/internal/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request.
type Request struct {
	Messages    []Message
	Temperature float32
	// JSON asks the provider for a single JSON object reply.
	JSON bool
}

// DeltaStream yields content deltas until io.EOF.
type DeltaStream interface {
	Recv() (string, error)
	Close() error
}

// Model is an upstream chat model.
type Model interface {
	Complete(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request) (DeltaStream, error)
}

var (
	metricsOnce   sync.Once
	callCounter   metric.Int64Counter
	callDurationS metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		m := otel.Meter("backend-go-chat-gateway")
		var err error
		callCounter, err = m.Int64Counter(
			"chat_llm_calls_total",
			metric.WithDescription("Count of upstream model calls by kind and outcome."),
			metric.WithUnit("1"),
		)
		if err != nil {
			callCounter = nil
		}
		callDurationS, err = m.Float64Histogram(
			"chat_llm_call_duration_seconds",
			metric.WithDescription("Upstream model call duration in seconds (streams: until the last delta)."),
			metric.WithUnit("s"),
		)
		if err != nil {
			callDurationS = nil
		}
	})
}

// Client is a Model guarded by a circuit breaker.
type Client struct {
	model Model
	cb    *breaker.Breaker
}

// NewClient wraps model with cb.
func NewClient(model Model, cb *breaker.Breaker) *Client {
	return &Client{model: model, cb: cb}
}

// Breaker returns the breaker guarding the upstream.
func (c *Client) Breaker() *breaker.Breaker { return c.cb }

// Complete performs a one-shot completion. It returns breaker.ErrOpen without
// contacting the upstream while the breaker is open.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	initMetrics()
	ctx, span := otel.Tracer("backend-go-chat-gateway").Start(ctx, "LLM.Complete")
	defer span.End()
	start := time.Now()

	var out string
	err := c.cb.Do(func() error {
		var err error
		out, err = c.model.Complete(ctx, req)
		return err
	})
	observe(ctx, "complete", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return out, nil
}

// Stream opens a token stream. The first delta counts as an upstream success;
// a receive error after that is recorded as a failure, and one before it
// fails the attempt. A Close before anything arrived (client gone) is not held
// against the upstream.
func (c *Client) Stream(ctx context.Context, req Request) (DeltaStream, error) {
	initMetrics()
	done, err := c.cb.Allow()
	if err != nil {
		observe(ctx, "stream", time.Now(), err)
		return nil, err
	}
	start := time.Now()
	s, err := c.model.Stream(ctx, req)
	if err != nil {
		done(err)
		observe(ctx, "stream", start, err)
		return nil, err
	}
	return &guardedStream{ctx: ctx, inner: s, cb: c.cb, done: done, start: start}, nil
}

type guardedStream struct {
	ctx   context.Context
	inner DeltaStream
	cb    *breaker.Breaker
	done  func(error)
	start time.Time

	mu       sync.Mutex
	answered bool
	ended    bool
}

func (g *guardedStream) answer() {
	g.mu.Lock()
	first := !g.answered
	g.answered = true
	g.mu.Unlock()
	if first {
		g.done(nil)
	}
}

func (g *guardedStream) end(err error) {
	g.mu.Lock()
	if g.ended {
		g.mu.Unlock()
		return
	}
	g.ended = true
	answered := g.answered
	g.answered = true
	g.mu.Unlock()

	switch {
	case !answered:
		g.done(err)
	case err != nil:
		g.cb.Record(err)
	}
	observe(g.ctx, "stream", g.start, err)
}

func (g *guardedStream) Recv() (string, error) {
	delta, err := g.inner.Recv()
	switch {
	case err == nil:
		g.answer()
	case errors.Is(err, io.EOF):
		g.end(nil)
	default:
		if g.ctx.Err() != nil {
			err = g.ctx.Err()
		}
		g.end(err)
	}
	return delta, err
}

func (g *guardedStream) Close() error {
	g.end(context.Canceled)
	return g.inner.Close()
}

func observe(ctx context.Context, kind string, start time.Time, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, breaker.ErrOpen):
		outcome = "rejected"
	case errors.Is(err, context.Canceled):
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind), attribute.String("outcome", outcome))
	if callCounter != nil {
		callCounter.Add(ctx, 1, attrs)
	}
	if callDurationS != nil && outcome != "rejected" {
		callDurationS.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if err != nil && outcome != "cancelled" {
		logger.NewContextLogger(ctx).Warn("llm_call_failed", "kind", kind, "outcome", outcome, "error", err)
	}
}
