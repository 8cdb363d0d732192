package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"backend-go-chat-gateway/internal/breaker"
	"backend-go-chat-gateway/internal/llm"
	"backend-go-chat-gateway/internal/notify"
	"backend-go-chat-gateway/internal/outfit"
	"backend-go-chat-gateway/internal/pending"
	"backend-go-chat-gateway/internal/tools"
	"backend-go-chat-gateway/internal/wardrobe"
)

// recordingSink collects everything the gateway writes.
type recordingSink struct {
	chunks   []string
	finishes int
	err      error
}

func (r *recordingSink) Send(text string) error {
	r.chunks = append(r.chunks, text)
	return nil
}

func (r *recordingSink) Pipe(s llm.DeltaStream) (string, error) {
	defer s.Close()
	var sb strings.Builder
	for {
		d, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		r.chunks = append(r.chunks, d)
		sb.WriteString(d)
	}
}

func (r *recordingSink) Finish(err error) {
	r.finishes++
	if r.finishes == 1 {
		r.err = err
	}
}

func (r *recordingSink) text() string { return strings.Join(r.chunks, "") }

type fakeAuditor struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAuditor) Record(_ context.Context, _ string, eventType string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

type fakePublisher struct {
	events []notify.Event
}

func (f *fakePublisher) Publish(_ context.Context, ev notify.Event) error {
	f.events = append(f.events, ev)
	return nil
}

// recordingModel remembers the last streamed request.
type recordingModel struct {
	llm.Model
	mu         sync.Mutex
	lastStream llm.Request
	streams    int
	completes  int
}

func (m *recordingModel) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.mu.Lock()
	m.completes++
	m.mu.Unlock()
	return m.Model.Complete(ctx, req)
}

func (m *recordingModel) Stream(ctx context.Context, req llm.Request) (llm.DeltaStream, error) {
	m.mu.Lock()
	m.lastStream = req
	m.streams++
	m.mu.Unlock()
	return m.Model.Stream(ctx, req)
}

type failingModel struct {
	calls int
}

func (f *failingModel) Complete(context.Context, llm.Request) (string, error) {
	f.calls++
	return "", errors.New("upstream 502")
}

func (f *failingModel) Stream(context.Context, llm.Request) (llm.DeltaStream, error) {
	f.calls++
	return nil, errors.New("upstream 502")
}

type harness struct {
	gw     *Gateway
	store  *wardrobe.MemoryStore
	audit  *fakeAuditor
	events *fakePublisher
}

func newHarness(t *testing.T, model llm.Model, confirmTTL time.Duration) *harness {
	t.Helper()
	ctx := context.Background()
	store := wardrobe.NewMemoryStore()
	_ = store.UpsertUser(ctx, wardrobe.User{ID: "u1", Name: "小林"})
	_ = store.UpsertUser(ctx, wardrobe.User{ID: "u2", Name: "阿杰"})

	exec := tools.NewExecutor(tools.MustCatalog(), tools.Env{Store: store, Outfits: outfit.NewRuleSuggester()}, time.Second)
	cb := breaker.New("llm", breaker.Settings{Threshold: 1, Cooldown: time.Hour}, slog.Default())
	h := &harness{store: store, audit: &fakeAuditor{}, events: &fakePublisher{}}
	h.gw = New(Deps{
		Executor:      exec,
		Model:         llm.NewClient(model, cb),
		Confirmations: pending.NewConfirmations(confirmTTL),
		Pages:         pending.NewPages(time.Hour),
		Audit:         h.audit,
		Events:        h.events,
	}, Options{ListWindow: 20, PlannerTimeout: time.Second, CompletionTimeout: 5 * time.Second})
	return h
}

func (h *harness) say(userID, text string) *recordingSink {
	out := &recordingSink{}
	h.gw.Handle(context.Background(), userID, []llm.Message{{Role: llm.RoleUser, Content: text}}, out)
	return out
}

var confirmCodeRE = regexp.MustCompile(`确认 ([A-Za-z0-9]{6,40})`)

func stagedCode(t *testing.T, out *recordingSink) string {
	t.Helper()
	m := confirmCodeRE.FindStringSubmatch(out.text())
	if m == nil {
		t.Fatalf("no confirmation code in reply %q", out.text())
	}
	return m[1]
}

func TestGateway_DeleteNeedsConfirmation(t *testing.T) {
	h := newHarness(t, llm.NewMock(), time.Minute)
	ctx := context.Background()
	_, _ = h.store.AddCloth(ctx, wardrobe.Cloth{ID: 42, UserID: "u1", Name: "旧风衣", Type: "外套"})

	out := h.say("u1", "/delete 42")
	if out.finishes != 1 || out.err != nil {
		t.Fatalf("staging must finish cleanly once, got %d/%v", out.finishes, out.err)
	}
	code := stagedCode(t, out)
	if !strings.Contains(out.text(), "删除后无法恢复") {
		t.Fatalf("staging reply must state the risk: %q", out.text())
	}
	if _, err := h.store.GetCloth(ctx, 42); err != nil {
		t.Fatalf("cloth must survive staging: %v", err)
	}

	out = h.say("u1", "确认 ZZZZZZZZZZ")
	if out.text() != confirmMismatchText || strings.Contains(out.text(), code) {
		t.Fatalf("unexpected mismatch reply %q", out.text())
	}
	if _, err := h.store.GetCloth(ctx, 42); err != nil {
		t.Fatalf("mismatch must not execute: %v", err)
	}

	out = h.say("u1", "确认 "+code)
	if !strings.HasPrefix(out.text(), "✅") {
		t.Fatalf("expected success reply, got %q", out.text())
	}
	if _, err := h.store.GetCloth(ctx, 42); !errors.Is(err, wardrobe.ErrNotFound) {
		t.Fatalf("expected cloth deleted, got %v", err)
	}
	if len(h.events.events) != 1 || h.events.events[0].Tool != tools.DeleteCloth {
		t.Fatalf("expected one delete event, got %+v", h.events.events)
	}

	out = h.say("u1", "确认 "+code)
	if out.text() != nothingPendingText {
		t.Fatalf("second confirmation must find nothing pending, got %q", out.text())
	}
}

func TestGateway_ExpiredConfirmation(t *testing.T) {
	h := newHarness(t, llm.NewMock(), 5*time.Millisecond)
	ctx := context.Background()
	_, _ = h.store.AddCloth(ctx, wardrobe.Cloth{ID: 7, UserID: "u1", Name: "T恤"})

	code := stagedCode(t, h.say("u1", "/favorite 7 on"))
	time.Sleep(20 * time.Millisecond)

	if out := h.say("u1", "/confirm "+code); out.text() != confirmExpiredText {
		t.Fatalf("expected expiry, got %q", out.text())
	}
	if out := h.say("u1", "/confirm "+code); out.text() != nothingPendingText {
		t.Fatalf("expired entry must be removed, got %q", out.text())
	}
	c, _ := h.store.GetCloth(ctx, 7)
	if c.Favorite {
		t.Fatalf("expired confirmation must not execute")
	}
}

func TestGateway_RestagingDiscardsPrevious(t *testing.T) {
	h := newHarness(t, llm.NewMock(), time.Minute)
	ctx := context.Background()
	_, _ = h.store.AddCloth(ctx, wardrobe.Cloth{ID: 1, UserID: "u1", Name: "A"})
	_, _ = h.store.AddCloth(ctx, wardrobe.Cloth{ID: 2, UserID: "u1", Name: "B"})

	first := stagedCode(t, h.say("u1", "/delete 1"))
	second := stagedCode(t, h.say("u1", "/delete 2"))

	if out := h.say("u1", "确认 "+first); out.text() != confirmMismatchText {
		t.Fatalf("first code must be stale, got %q", out.text())
	}
	h.say("u1", "确认 "+second)
	if _, err := h.store.GetCloth(ctx, 1); err != nil {
		t.Fatalf("cloth 1 must survive: %v", err)
	}
	if _, err := h.store.GetCloth(ctx, 2); !errors.Is(err, wardrobe.ErrNotFound) {
		t.Fatalf("cloth 2 should be deleted, got %v", err)
	}
}

func TestGateway_CancelAndOwnership(t *testing.T) {
	h := newHarness(t, llm.NewMock(), time.Minute)
	ctx := context.Background()
	_, _ = h.store.AddCloth(ctx, wardrobe.Cloth{ID: 9, UserID: "u2", Name: "别人的外套"})

	if out := h.say("u1", "取消"); out.text() != nothingPendingText {
		t.Fatalf("cancel without staging: %q", out.text())
	}
	h.say("u1", "/delete 9")
	if out := h.say("u1", "/cancel"); out.text() != cancelledText {
		t.Fatalf("unexpected cancel reply %q", out.text())
	}

	code := stagedCode(t, h.say("u1", "/delete 9"))
	out := h.say("u1", "确认 "+code)
	if !strings.Contains(out.text(), "没有找到") {
		t.Fatalf("foreign cloth must read as not found, got %q", out.text())
	}
	if _, err := h.store.GetCloth(ctx, 9); err != nil {
		t.Fatalf("foreign cloth must survive: %v", err)
	}
	if len(h.events.events) != 0 {
		t.Fatalf("failed writes are not published")
	}
}

func TestGateway_CommandUsage(t *testing.T) {
	h := newHarness(t, llm.NewMock(), time.Minute)
	tests := []struct {
		in   string
		want string
	}{
		{"/delete abc", "/delete <衣物ID>"},
		{"/favorite 3 maybe", "/favorite <衣物ID>"},
		{"/update 3 not-json", "/update <衣物ID>"},
		{`/update 3 {"image":"x.png"}`, "/update <衣物ID>"},
		{"/sex robot", "/sex <man|woman>"},
	}
	for _, tt := range tests {
		out := h.say("u1", tt.in)
		if !strings.Contains(out.text(), tt.want) {
			t.Fatalf("%q: expected usage containing %q, got %q", tt.in, tt.want, out.text())
		}
	}
	if h.gw.confirms.Store().Len() != 0 {
		t.Fatalf("bad commands must not stage anything")
	}
}

func TestGateway_ContinuationAdvancesThenClears(t *testing.T) {
	h := newHarness(t, llm.NewMock(), time.Minute)
	ctx := context.Background()
	for i := 1; i <= 45; i++ {
		_, _ = h.store.AddCloth(ctx, wardrobe.Cloth{ID: int64(i), UserID: "u1", Name: fmt.Sprintf("衣物%d", i)})
	}

	pages := []struct {
		in, header string
		footer     bool
	}{
		{"我的衣柜有哪些", "第 1–20 件", true},
		{"继续", "第 21–40 件", true},
		{"/more", "第 41–45 件", false},
	}
	for _, p := range pages {
		out := h.say("u1", p.in)
		if !strings.Contains(out.text(), p.header) {
			t.Fatalf("%q: expected %q in %q", p.in, p.header, out.text())
		}
		if strings.Contains(out.text(), "回复「继续」") != p.footer {
			t.Fatalf("%q: footer presence should be %v: %q", p.in, p.footer, out.text())
		}
	}
	if out := h.say("u1", "继续"); out.text() != nothingToContinue {
		t.Fatalf("expected nothing to continue, got %q", out.text())
	}
}

func TestGateway_InventoryTypeFilterSkipsModel(t *testing.T) {
	model := &recordingModel{Model: llm.NewMock()}
	h := newHarness(t, model, time.Minute)
	ctx := context.Background()
	_, _ = h.store.AddCloth(ctx, wardrobe.Cloth{ID: 1, UserID: "u1", Name: "羽绒服", Type: "外套"})
	_, _ = h.store.AddCloth(ctx, wardrobe.Cloth{ID: 2, UserID: "u1", Name: "牛仔裤", Type: "裤子"})

	out := h.say("u1", "看看我衣柜里的外套")
	if !strings.Contains(out.text(), "羽绒服") || strings.Contains(out.text(), "牛仔裤") {
		t.Fatalf("expected only outerwear, got %q", out.text())
	}
	if model.completes != 0 || model.streams != 0 {
		t.Fatalf("inventory shortcut must not call the model")
	}
}

func TestGateway_GeneralPathInjectsToolResult(t *testing.T) {
	model := &recordingModel{Model: llm.NewMock()}
	h := newHarness(t, model, time.Minute)
	ctx := context.Background()
	_, _ = h.store.AddCloth(ctx, wardrobe.Cloth{ID: 1, UserID: "u1", Name: "白衬衫", Type: "上衣", Style: "商务"})
	_, _ = h.store.AddCloth(ctx, wardrobe.Cloth{ID: 2, UserID: "u1", Name: "西裤", Type: "裤子", Style: "正式"})

	out := h.say("u1", "推荐一套通勤搭配")
	if out.finishes != 1 || out.err != nil {
		t.Fatalf("expected clean finish, got %d/%v", out.finishes, out.err)
	}
	if model.completes != 1 {
		t.Fatalf("expected one planner call, got %d", model.completes)
	}
	msgs := model.lastStream.Messages
	if msgs[0].Role != llm.RoleSystem {
		t.Fatalf("system prompt must come first")
	}
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleUser || !strings.Contains(last.Content, "suggest_outfits") || !strings.Contains(last.Content, "白衬衫") {
		t.Fatalf("expected injected tool result, got %+v", last)
	}
}

func TestGateway_SmallTalkSkipsPlanner(t *testing.T) {
	model := &recordingModel{Model: llm.NewMock()}
	h := newHarness(t, model, time.Minute)
	out := h.say("u1", "你好呀")
	if model.completes != 0 || model.streams != 1 {
		t.Fatalf("expected no planner call and one stream, got %d/%d", model.completes, model.streams)
	}
	if out.text() == "" || out.err != nil {
		t.Fatalf("expected streamed reply, got %q/%v", out.text(), out.err)
	}
}

func TestGateway_OpenBreakerIsServiceBusy(t *testing.T) {
	model := &failingModel{}
	h := newHarness(t, model, time.Minute)

	out := h.say("u1", "你好")
	if !errors.Is(out.err, ErrCompletionFailed) {
		t.Fatalf("first failure should be a generic completion failure, got %v", out.err)
	}
	calls := model.calls

	out = h.say("u1", "你好")
	if !errors.Is(out.err, ErrServiceBusy) {
		t.Fatalf("expected service busy once the breaker is open, got %v", out.err)
	}
	if model.calls != calls {
		t.Fatalf("open breaker must not reach the upstream")
	}
	if out.finishes != 1 {
		t.Fatalf("stream must finish exactly once, got %d", out.finishes)
	}
}

func TestGateway_HelpIsStatic(t *testing.T) {
	model := &recordingModel{Model: llm.NewMock()}
	h := newHarness(t, model, time.Minute)
	out := h.say("u1", "/help")
	if out.text() != helpText || model.streams != 0 {
		t.Fatalf("unexpected help handling: %q", out.text())
	}
}

func TestGateway_UnknownSlashTextGoesToModel(t *testing.T) {
	model := &recordingModel{Model: llm.NewMock()}
	h := newHarness(t, model, time.Minute)

	out := h.say("u1", "/dance")
	if model.streams != 1 || out.err != nil {
		t.Fatalf("expected a streamed completion, got %d streams, err %v", model.streams, out.err)
	}
	if out.text() == unknownCommandText {
		t.Fatalf("unknown slash text must not be answered with the command list")
	}
}

// plannedModel answers every planner call with a fixed plan.
type plannedModel struct {
	llm.Model
	plan string
}

func (m plannedModel) Complete(context.Context, llm.Request) (string, error) {
	return m.plan, nil
}

func TestGateway_PlannedListingWithLargeLimitIsPaged(t *testing.T) {
	model := &recordingModel{Model: plannedModel{
		Model: llm.NewMock(),
		plan:  `{"action":"tool","tool":"list_clothes","arguments":{"limit":30},"reason":"wardrobe"}`,
	}}
	h := newHarness(t, model, time.Minute)
	ctx := context.Background()
	for i := 1; i <= 45; i++ {
		_, _ = h.store.AddCloth(ctx, wardrobe.Cloth{ID: int64(i), UserID: "u1", Name: fmt.Sprintf("衣物%d", i)})
	}

	out := h.say("u1", "帮我挑几件衣服")
	if !strings.Contains(out.text(), "还有 25 件") {
		t.Fatalf("expected the listing cut to the display window, got %q", out.text())
	}
	injected := model.lastStream.Messages[len(model.lastStream.Messages)-1].Content
	if !strings.Contains(injected, "衣物20") || strings.Contains(injected, "衣物21") {
		t.Fatalf("expected only the first window in the tool result, got %q", injected)
	}

	out = h.say("u1", "继续")
	if !strings.Contains(out.text(), "第 21–40 件") {
		t.Fatalf("expected continuation from 21, got %q", out.text())
	}
}

func TestGateway_PlannedListingWithSmallLimitIsNotPaged(t *testing.T) {
	model := &recordingModel{Model: plannedModel{
		Model: llm.NewMock(),
		plan:  `{"action":"tool","tool":"list_clothes","arguments":{"limit":3},"reason":"wardrobe"}`,
	}}
	h := newHarness(t, model, time.Minute)
	ctx := context.Background()
	for i := 1; i <= 45; i++ {
		_, _ = h.store.AddCloth(ctx, wardrobe.Cloth{ID: int64(i), UserID: "u1", Name: fmt.Sprintf("衣物%d", i)})
	}

	_ = h.say("u1", "帮我挑几件衣服")
	if out := h.say("u1", "继续"); out.text() != nothingToContinue {
		t.Fatalf("a result within the window leaves no cursor, got %q", out.text())
	}
}
