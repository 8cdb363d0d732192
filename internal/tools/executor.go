package tools

import (
	"context"
	"sync"
	"time"

	"backend-go-chat-gateway/internal/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce  sync.Once
	toolCounter  metric.Int64Counter
	toolDuration metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		m := otel.Meter("backend-go-chat-gateway")
		var err error
		toolCounter, err = m.Int64Counter(
			"chat_tool_executions_total",
			metric.WithDescription("Count of tool executions by tool and outcome."),
			metric.WithUnit("1"),
		)
		if err != nil {
			toolCounter = nil
		}
		toolDuration, err = m.Float64Histogram(
			"chat_tool_duration_seconds",
			metric.WithDescription("Tool execution duration in seconds."),
			metric.WithUnit("s"),
		)
		if err != nil {
			toolDuration = nil
		}
	})
}

// Executor validates and runs catalog tools on behalf of one user at a time.
type Executor struct {
	catalog *Catalog
	env     Env
	timeout time.Duration
}

// NewExecutor binds the catalog to a store. A zero timeout disables the
// per-call deadline.
func NewExecutor(catalog *Catalog, env Env, timeout time.Duration) *Executor {
	return &Executor{catalog: catalog, env: env, timeout: timeout}
}

// Catalog returns the catalog the executor dispatches into.
func (e *Executor) Catalog() *Catalog { return e.catalog }

// Execute runs the named tool with args, scoped to userID. Every failure is
// reported in the Result; Execute itself never panics on bad input.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any, userID string) (res Result) {
	initMetrics()

	tracer := otel.Tracer("backend-go-chat-gateway")
	ctx, span := tracer.Start(ctx, "ToolExecution")
	span.SetAttributes(attribute.String("tool", name))
	start := time.Now()
	lg := logger.NewContextLogger(ctx)

	defer func() {
		outcome := "success"
		if res.Error != nil {
			outcome = string(res.Error.Kind)
			span.SetStatus(codes.Error, res.Error.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		attrs := metric.WithAttributes(attribute.String("tool", name), attribute.String("outcome", outcome))
		if toolCounter != nil {
			toolCounter.Add(ctx, 1, attrs)
		}
		if toolDuration != nil {
			toolDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		lg.Info("tool_executed", "tool", name, "outcome", outcome, "duration_ms", time.Since(start).Milliseconds())
		span.End()
	}()

	tool, ok := e.catalog.Lookup(name)
	if !ok {
		return failure(ErrUnknownTool, "tool %q is not in the catalog", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := e.catalog.Validate(name, args); err != nil {
		return failure(ErrInvalidArguments, "%v", err)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return tool.Run(ctx, e.env, args, userID)
}

// Describe returns the confirmation text for a dangerous tool. ok is false
// for safe or unknown tools.
func (e *Executor) Describe(name string, args map[string]any) (Effect, bool) {
	t, found := e.catalog.Lookup(name)
	if !found {
		return Effect{}, false
	}
	d, dangerous := t.(DangerousTool)
	if !dangerous {
		return Effect{}, false
	}
	return d.Describe(args), true
}
