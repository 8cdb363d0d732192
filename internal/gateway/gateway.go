// Package gateway routes chat turns: slash commands and confirmations,
// list continuation, the inventory shortcut, and the planner-assisted
// general path that ends in a streamed completion.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"backend-go-chat-gateway/internal/audit"
	"backend-go-chat-gateway/internal/breaker"
	"backend-go-chat-gateway/internal/llm"
	"backend-go-chat-gateway/internal/logger"
	"backend-go-chat-gateway/internal/notify"
	"backend-go-chat-gateway/internal/pending"
	"backend-go-chat-gateway/internal/tools"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// Sink receives the reply. stream.Dispatcher is the production Sink.
type Sink interface {
	Send(text string) error
	Pipe(s llm.DeltaStream) (string, error)
	Finish(err error)
}

// Model is the breaker-guarded upstream model.
type Model interface {
	Completer
	Stream(ctx context.Context, req llm.Request) (llm.DeltaStream, error)
}

// Auditor records what happened on a user's behalf.
type Auditor interface {
	Record(ctx context.Context, userID, eventType string, data any) error
}

// Publisher announces executed write operations.
type Publisher interface {
	Publish(ctx context.Context, ev notify.Event) error
}

// Deps are the collaborators a Gateway is built from. Audit and Events are
// optional.
type Deps struct {
	Executor      *tools.Executor
	Model         Model
	Confirmations *pending.Confirmations
	Pages         *pending.Pages
	Audit         Auditor
	Events        Publisher
}

// Options tune the gateway.
type Options struct {
	ListWindow        int
	PlannerTimeout    time.Duration
	CompletionTimeout time.Duration
}

type Gateway struct {
	exec     *tools.Executor
	model    Model
	planner  *Planner
	confirms *pending.Confirmations
	pages    *pending.Pages
	audit    Auditor
	events   Publisher

	listWindow        int
	completionTimeout time.Duration
}

var (
	metricsOnce  sync.Once
	routeCounter metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		m := otel.Meter("backend-go-chat-gateway")
		var err error
		routeCounter, err = m.Int64Counter(
			"chat_requests_total",
			metric.WithDescription("Count of chat turns by classified route."),
			metric.WithUnit("1"),
		)
		if err != nil {
			routeCounter = nil
		}
	})
}

func New(d Deps, opts Options) *Gateway {
	window := opts.ListWindow
	if window <= 0 {
		window = 20
	}
	if window > tools.MaxListLimit {
		window = tools.MaxListLimit
	}
	return &Gateway{
		exec:              d.Executor,
		model:             d.Model,
		planner:           NewPlanner(d.Model, d.Executor.Catalog(), opts.PlannerTimeout),
		confirms:          d.Confirmations,
		pages:             d.Pages,
		audit:             d.Audit,
		events:            d.Events,
		listWindow:        window,
		completionTimeout: opts.CompletionTimeout,
	}
}

// Handle answers one chat turn for userID and always terminates out exactly
// once. history must already have passed ValidateMessages.
func (g *Gateway) Handle(ctx context.Context, userID string, history []llm.Message, out Sink) {
	initMetrics()
	utterance := ""
	if len(history) > 0 {
		utterance = history[len(history)-1].Content
	}
	d := Classify(utterance)

	ctx, span := otel.Tracer("backend-go-chat-gateway").Start(ctx, "Gateway.Handle")
	span.SetAttributes(attribute.String("route", d.Route.String()))
	defer span.End()
	if routeCounter != nil {
		routeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("route", d.Route.String())))
	}
	logger.NewContextLogger(ctx).Info("chat_turn_classified", "route", d.Route.String())

	switch d.Route {
	case RouteHelp:
		reply(out, helpText)
	case RouteCancel:
		g.cancel(ctx, userID, out)
	case RouteConfirm:
		g.confirm(ctx, userID, d.ConfirmCode, out)
	case RouteContinue:
		g.continueList(ctx, userID, out)
	case RouteWriteCommand:
		g.stage(ctx, userID, d.Command, out)
	case RouteCommandUsage:
		reply(out, usageText(d.Usage))
	case RouteInventory:
		reply(out, g.listPage(ctx, userID, tools.ListClothes, d.ListArgs, 0))
	default:
		if err := g.general(ctx, userID, history, utterance, d.UsePlanner, out); err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}
}

func reply(out Sink, text string) {
	_ = out.Send(text)
	out.Finish(nil)
}

func (g *Gateway) record(ctx context.Context, userID, event string, data map[string]any) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Record(ctx, userID, event, data); err != nil {
		logger.NewContextLogger(ctx).Warn("audit_write_failed", "event", event, "error", err)
	}
}

func (g *Gateway) cancel(ctx context.Context, userID string, out Sink) {
	if !g.confirms.Cancel(userID) {
		reply(out, nothingPendingText)
		return
	}
	g.record(ctx, userID, audit.EventWriteCancelled, nil)
	reply(out, cancelledText)
}

func (g *Gateway) stage(ctx context.Context, userID string, cmd *Command, out Sink) {
	if err := g.exec.Catalog().Validate(cmd.Tool, cmd.Args); err != nil {
		logger.NewContextLogger(ctx).Info("write_command_rejected", "tool", cmd.Tool, "error", err)
		reply(out, usageText(usageFor(cmd.Tool)))
		return
	}
	eff, ok := g.exec.Describe(cmd.Tool, cmd.Args)
	if !ok {
		reply(out, unknownCommandText)
		return
	}
	op := g.confirms.Stage(userID, cmd.Tool, cmd.Args)
	g.record(ctx, userID, audit.EventWriteStaged, map[string]any{"tool": op.ToolName, "arguments": op.Arguments})
	reply(out, stagedText(op, eff, g.confirms.Store().TTL()))
}

func (g *Gateway) confirm(ctx context.Context, userID, code string, out Sink) {
	op, outcome := g.confirms.Confirm(userID, code)
	switch outcome {
	case pending.ConfirmNothingPending:
		reply(out, nothingPendingText)
		return
	case pending.ConfirmMismatch:
		g.record(ctx, userID, audit.EventWriteRejected, map[string]any{"outcome": outcome.String()})
		reply(out, confirmMismatchText)
		return
	case pending.ConfirmExpired:
		g.record(ctx, userID, audit.EventWriteRejected, map[string]any{"outcome": outcome.String()})
		reply(out, confirmExpiredText)
		return
	}

	eff, _ := g.exec.Describe(op.ToolName, op.Arguments)
	res := g.exec.Execute(ctx, op.ToolName, op.Arguments, userID)
	status := "success"
	if !res.OK() {
		status = string(res.Error.Kind)
	}
	g.record(ctx, userID, audit.EventWriteConfirmed, map[string]any{
		"tool": op.ToolName, "arguments": op.Arguments, "status": status,
	})
	if res.OK() {
		// Offsets of a saved listing no longer line up after a write.
		g.pages.Clear(userID)
		if g.events != nil {
			ev := notify.Event{UserID: userID, Tool: op.ToolName, Arguments: op.Arguments, Status: status}
			if err := g.events.Publish(ctx, ev); err != nil {
				logger.NewContextLogger(ctx).Warn("event_publish_failed", "tool", op.ToolName, "error", err)
			}
		}
	}
	reply(out, executedText(eff, res))
}

func (g *Gateway) continueList(ctx context.Context, userID string, out Sink) {
	op, ok := g.pages.Current(userID)
	if !ok {
		reply(out, nothingToContinue)
		return
	}
	reply(out, g.listPage(ctx, userID, op.ToolName, op.Args, op.Offset))
}

// listPage fetches and renders one window, saving or clearing the
// continuation cursor.
func (g *Gateway) listPage(ctx context.Context, userID, tool string, args map[string]any, offset int) string {
	list, remaining, res := g.fetchPage(ctx, userID, tool, args, offset)
	if !res.OK() {
		return toolErrorText(res.Error)
	}
	return renderPage(list, remaining)
}

// fetchPage runs a list tool for one display window starting at offset.
// The cursor is saved when items remain and cleared otherwise.
func (g *Gateway) fetchPage(ctx context.Context, userID, tool string, args map[string]any, offset int) (tools.ClothList, int, tools.Result) {
	callArgs := make(map[string]any, len(args)+2)
	for k, v := range args {
		callArgs[k] = v
	}
	callArgs["offset"] = offset
	callArgs["limit"] = g.listWindow

	res := g.exec.Execute(ctx, tool, callArgs, userID)
	g.record(ctx, userID, audit.EventToolCall, map[string]any{"tool": tool, "arguments": callArgs, "ok": res.OK()})
	if !res.OK() {
		g.pages.Clear(userID)
		return tools.ClothList{}, 0, res
	}
	list, ok := res.Data.(tools.ClothList)
	if !ok {
		g.pages.Clear(userID)
		return tools.ClothList{}, 0, tools.Result{Error: &tools.ToolError{Kind: tools.ErrUnknownTool, Message: tool + " is not a list tool"}}
	}

	next := list.Offset + len(list.Items)
	remaining := list.Total - next
	if remaining > 0 && len(list.Items) > 0 {
		g.pages.Save(userID, pending.ListOperation{ToolName: tool, Args: args, Offset: next})
	} else {
		remaining = 0
		g.pages.Clear(userID)
	}
	return list, remaining, res
}

func (g *Gateway) general(ctx context.Context, userID string, history []llm.Message, utterance string, usePlanner bool, out Sink) error {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		// Client-supplied system turns are not trusted.
		if m.Role == llm.RoleSystem {
			continue
		}
		msgs = append(msgs, m)
	}

	footer := ""
	if usePlanner {
		plan := g.planner.Plan(ctx, utterance)
		g.record(ctx, userID, audit.EventPlannerDecision, map[string]any{"action": plan.Action, "tool": plan.Tool, "reason": plan.Reason})
		if plan.Action == ActionTool {
			var injected string
			injected, footer = g.runPlannedTool(ctx, userID, plan)
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: injected})
		}
	}

	streamCtx := ctx
	if g.completionTimeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, g.completionTimeout)
		defer cancel()
	}

	s, err := g.model.Stream(streamCtx, llm.Request{Messages: msgs, Temperature: 0.7})
	if err != nil {
		out.Finish(g.completionFailure(ctx, userID, err))
		return err
	}
	if _, err := out.Pipe(s); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			// Client gone; nothing more can be written.
			out.Finish(nil)
			return err
		}
		out.Finish(g.completionFailure(ctx, userID, err))
		return err
	}
	if footer != "" {
		_ = out.Send("\n\n" + footer)
	}
	out.Finish(nil)
	return nil
}

// runPlannedTool executes a planner-selected read tool and returns the
// synthetic user message carrying its result, plus a footer for the reply
// when a listing was cut to the display window.
func (g *Gateway) runPlannedTool(ctx context.Context, userID string, plan Plan) (injected, footer string) {
	var res tools.Result
	limit, hasLimit := planInt(plan.Arguments["limit"])
	if plan.Tool == tools.ListClothes && (!hasLimit || limit > g.listWindow) {
		offset, _ := planInt(plan.Arguments["offset"])
		args := make(map[string]any, len(plan.Arguments))
		for k, v := range plan.Arguments {
			if k != "offset" && k != "limit" {
				args[k] = v
			}
		}
		var remaining int
		_, remaining, res = g.fetchPage(ctx, userID, plan.Tool, args, max(offset, 0))
		if remaining > 0 {
			footer = moreFooter(remaining)
		}
	} else {
		res = g.exec.Execute(ctx, plan.Tool, plan.Arguments, userID)
		g.record(ctx, userID, audit.EventToolCall, map[string]any{"tool": plan.Tool, "arguments": plan.Arguments, "ok": res.OK()})
	}

	var body []byte
	if res.OK() {
		body, _ = json.Marshal(res.Data)
	} else {
		body, _ = json.Marshal(res.Error)
	}
	injected = fmt.Sprintf("[工具结果] %s 返回：%s\n请基于以上数据回答我上一条消息；数据里没有的衣物不要编造。", plan.Tool, body)
	if footer != "" {
		injected += "\n列表只显示了一部分，可以提醒我回复「继续」查看更多。"
	}
	return injected, footer
}

// planInt reads a numeric plan argument; JSON numbers decode as float64.
func planInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

func (g *Gateway) completionFailure(ctx context.Context, userID string, err error) error {
	kind := "failure"
	visible := ErrCompletionFailed
	if errors.Is(err, breaker.ErrOpen) {
		kind = "circuit_open"
		visible = ErrServiceBusy
	}
	logger.NewContextLogger(ctx).Error("completion_failed", "kind", kind, "error", err)
	g.record(ctx, userID, audit.EventCompletionError, map[string]any{"kind": kind, "error": err.Error()})
	return visible
}
