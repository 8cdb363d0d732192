package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"backend-go-chat-gateway/internal/llm"
	"backend-go-chat-gateway/internal/logger"
	"backend-go-chat-gateway/internal/tools"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	ActionTool = "tool"
	ActionNone = "none"
)

// Plan is the planner's decision for one utterance.
type Plan struct {
	Action    string         `json:"action"`
	Tool      string         `json:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

func noPlan(reason string) Plan { return Plan{Action: ActionNone, Reason: reason} }

// Completer is the one-shot half of the model client.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Planner asks the model whether a read-only tool would help answer an
// utterance. It only ever sees the safe part of the catalog.
type Planner struct {
	model   Completer
	catalog *tools.Catalog
	timeout time.Duration
	system  string
}

func NewPlanner(model Completer, catalog *tools.Catalog, timeout time.Duration) *Planner {
	return &Planner{model: model, catalog: catalog, timeout: timeout, system: plannerInstruction(catalog.SafeDefinitions())}
}

func plannerInstruction(defs []tools.Definition) string {
	var sb strings.Builder
	sb.WriteString("你是衣橱助手的工具规划器。根据用户的一句话，判断是否需要调用下面某个只读工具来获取数据。\n")
	sb.WriteString("只能输出一个 JSON 对象，不要输出任何其他文字。格式二选一：\n")
	sb.WriteString(`{"action":"tool","tool":"<工具名>","arguments":{...},"reason":"<原因>"}` + "\n")
	sb.WriteString(`{"action":"none","reason":"<原因>"}` + "\n\n")
	sb.WriteString("可用工具：\n")
	for _, d := range defs {
		fmt.Fprintf(&sb, "- %s：%s\n  参数 JSON Schema：%s\n", d.Name, d.Description, compactJSON(d.Schema))
	}
	return sb.String()
}

func compactJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// Plan never fails: timeouts, upstream errors and unusable replies all come
// back as action none.
func (p *Planner) Plan(ctx context.Context, utterance string) Plan {
	ctx, span := otel.Tracer("backend-go-chat-gateway").Start(ctx, "Planner.Plan")
	defer span.End()
	lg := logger.NewContextLogger(ctx)

	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	raw, err := p.model.Complete(callCtx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: p.system},
			{Role: llm.RoleUser, Content: utterance},
		},
		Temperature: 0,
		JSON:        true,
	})
	if err != nil {
		lg.Warn("planner_unavailable", "error", err, "timeout", errors.Is(err, context.DeadlineExceeded))
		span.SetAttributes(attribute.String("plan.action", ActionNone))
		return noPlan("planner unavailable")
	}

	plan, err := ParsePlan(raw, p.catalog.IsSafe)
	if err == nil && plan.Action == ActionTool {
		if verr := p.catalog.Validate(plan.Tool, plan.Arguments); verr != nil {
			err = fmt.Errorf("arguments for %s: %w", plan.Tool, verr)
		}
	}
	if err != nil {
		lg.Warn("planner_reply_rejected", "error", err)
		span.SetAttributes(attribute.String("plan.action", ActionNone))
		return noPlan("planner reply rejected")
	}
	span.SetAttributes(attribute.String("plan.action", plan.Action), attribute.String("plan.tool", plan.Tool))
	return plan
}

// ParsePlan extracts the outermost JSON object from raw (tolerating code
// fences and surrounding prose) and validates it. isSafe decides which tool
// names are acceptable.
func ParsePlan(raw string, isSafe func(string) bool) (Plan, error) {
	obj, ok := outermostObject(stripFences(raw))
	if !ok {
		return Plan{}, errors.New("no JSON object in planner reply")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return Plan{}, fmt.Errorf("decode planner reply: %w", err)
	}

	var plan Plan
	if err := json.Unmarshal(fields["action"], &plan.Action); err != nil {
		return Plan{}, errors.New("planner reply has no action")
	}
	if r, ok := fields["reason"]; ok {
		_ = json.Unmarshal(r, &plan.Reason)
	}

	switch plan.Action {
	case ActionNone:
		return Plan{Action: ActionNone, Reason: plan.Reason}, nil
	case ActionTool:
	default:
		return Plan{}, fmt.Errorf("unknown action %q", plan.Action)
	}

	if err := json.Unmarshal(fields["tool"], &plan.Tool); err != nil || plan.Tool == "" {
		return Plan{}, errors.New("planner reply has no tool")
	}
	if !isSafe(plan.Tool) {
		return Plan{}, fmt.Errorf("tool %q is not a read-only catalog tool", plan.Tool)
	}
	plan.Arguments = map[string]any{}
	if a, ok := fields["arguments"]; ok && string(a) != "null" {
		if err := json.Unmarshal(a, &plan.Arguments); err != nil {
			return Plan{}, errors.New("planner arguments must be an object")
		}
	}
	return plan, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

// outermostObject returns the text from the first '{' to its matching '}'.
// Braces inside JSON strings are ignored.
func outermostObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
