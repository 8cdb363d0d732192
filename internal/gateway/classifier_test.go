package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"backend-go-chat-gateway/internal/config"
	"backend-go-chat-gateway/internal/llm"
	"backend-go-chat-gateway/internal/tools"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		in         string
		route      Route
		usePlanner bool
	}{
		{"/help", RouteHelp, false},
		{"取消", RouteCancel, false},
		{"/cancel", RouteCancel, false},
		{"确认 a1b2c3d4e5", RouteConfirm, false},
		{"/confirm A1B2C3", RouteConfirm, false},
		{"确认 abc", RouteGeneral, false},
		{"继续", RouteContinue, false},
		{"/more", RouteContinue, false},
		{"/delete 42", RouteWriteCommand, false},
		{"/favorite 42 off", RouteWriteCommand, false},
		{`/update 42 {"color":"红色"}`, RouteWriteCommand, false},
		{"/sex man", RouteWriteCommand, false},
		{"/delete", RouteCommandUsage, false},
		{"/unknown", RouteGeneral, false},
		{"/HELP", RouteGeneral, false},
		{"/More", RouteGeneral, false},
		{"/outfit 约会", RouteGeneral, true},
		{"我的衣柜里有哪些衣服", RouteInventory, false},
		{"show my wardrobe", RouteInventory, false},
		{"今天适合什么穿搭", RouteGeneral, true},
		{"你好", RouteGeneral, false},
	}
	for _, tt := range tests {
		d := Classify(tt.in)
		if d.Route != tt.route {
			t.Fatalf("%q: expected route %s, got %s", tt.in, tt.route, d.Route)
		}
		if d.Route == RouteGeneral && d.UsePlanner != tt.usePlanner {
			t.Fatalf("%q: expected usePlanner=%v", tt.in, tt.usePlanner)
		}
	}
}

func TestClassify_CommandArguments(t *testing.T) {
	d := Classify("/favorite #12 on")
	if d.Command == nil || d.Command.Tool != tools.SetClothFavorite {
		t.Fatalf("unexpected decision %+v", d)
	}
	if d.Command.Args["cloth_id"] != int64(12) || d.Command.Args["favorite"] != true {
		t.Fatalf("unexpected args %+v", d.Command.Args)
	}

	d = Classify("确认 AbC123xyz0")
	if d.ConfirmCode != "AbC123xyz0" {
		t.Fatalf("expected code to be captured, got %q", d.ConfirmCode)
	}
}

func TestValidateMessages(t *testing.T) {
	limits := config.LimitsConfig{MaxMessages: 3, MaxTotalChars: 50, MaxMessageChars: 20}
	user := func(s string) llm.Message { return llm.Message{Role: llm.RoleUser, Content: s} }

	tests := []struct {
		name    string
		msgs    []llm.Message
		wantErr bool
	}{
		{"ok", []llm.Message{user("你好")}, false},
		{"empty", nil, true},
		{"too many", []llm.Message{user("a"), user("b"), user("c"), user("d")}, true},
		{"message too long", []llm.Message{user(strings.Repeat("长", 21))}, true},
		{"total too long", []llm.Message{user(strings.Repeat("a", 20)), {Role: llm.RoleAssistant, Content: strings.Repeat("b", 20)}, user(strings.Repeat("c", 20))}, true},
		{"unknown role", []llm.Message{{Role: "tool", Content: "x"}, user("hi")}, true},
		{"last not user", []llm.Message{user("hi"), {Role: llm.RoleAssistant, Content: "hello"}}, true},
		{"data uri", []llm.Message{user("data:image/png;base64,AAA")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateMessages(tt.msgs, limits)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			var ve *ValidationError
			if err != nil && !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
		})
	}

	blob := strings.Repeat("QUJD", 256)
	if _, err := ValidateMessages([]llm.Message{user(blob)}, config.LimitsConfig{}); err == nil {
		t.Fatalf("expected a 1024-char base64 run to be rejected")
	}
	if _, err := ValidateMessages([]llm.Message{user(blob[:1023])}, config.LimitsConfig{}); err != nil {
		t.Fatalf("a 1023-char run is allowed: %v", err)
	}
}

func TestParsePlan(t *testing.T) {
	isSafe := tools.MustCatalog().IsSafe
	tests := []struct {
		name     string
		raw      string
		wantTool string
		wantErr  bool
	}{
		{"plain", `{"action":"tool","tool":"list_clothes","arguments":{"color":"红"},"reason":"r"}`, "list_clothes", false},
		{"fenced", "```json\n{\"action\":\"tool\",\"tool\":\"get_user_profile\"}\n```", "get_user_profile", false},
		{"prose", `好的，结果如下：{"action":"none","reason":"闲聊 {无需工具}"} 希望有帮助`, "", false},
		{"dangerous tool", `{"action":"tool","tool":"delete_cloth","arguments":{"cloth_id":1}}`, "", true},
		{"unknown tool", `{"action":"tool","tool":"rm_rf"}`, "", true},
		{"arguments not object", `{"action":"tool","tool":"list_clothes","arguments":[1]}`, "", true},
		{"bad action", `{"action":"maybe"}`, "", true},
		{"no json", `I cannot help`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePlan(tt.raw, isSafe)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Tool != tt.wantTool {
				t.Fatalf("expected tool %q, got %q", tt.wantTool, p.Tool)
			}
		})
	}
}

type scriptedModel struct {
	reply string
	block bool
}

func (s scriptedModel) Complete(ctx context.Context, _ llm.Request) (string, error) {
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.reply, nil
}

func TestPlanner_DegradesToNone(t *testing.T) {
	catalog := tools.MustCatalog()
	tests := []struct {
		name  string
		model scriptedModel
	}{
		{"dangerous tool proposed", scriptedModel{reply: `{"action":"tool","tool":"delete_cloth","arguments":{"cloth_id":3}}`}},
		{"schema violation", scriptedModel{reply: `{"action":"tool","tool":"list_clothes","arguments":{"limit":500}}`}},
		{"garbage", scriptedModel{reply: `sure!`}},
		{"timeout", scriptedModel{block: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlanner(tt.model, catalog, 20*time.Millisecond)
			if got := p.Plan(context.Background(), "删掉我的衣服"); got.Action != ActionNone {
				t.Fatalf("expected none, got %+v", got)
			}
		})
	}
}

func TestPlanner_InstructionListsOnlySafeTools(t *testing.T) {
	p := NewPlanner(scriptedModel{}, tools.MustCatalog(), time.Second)
	for _, name := range []string{tools.GetUserProfile, tools.ListClothes, tools.SuggestOutfits} {
		if !strings.Contains(p.system, name) {
			t.Fatalf("instruction must list %s", name)
		}
	}
	for _, name := range []string{tools.DeleteCloth, tools.SetClothFavorite, tools.UpdateClothFields, tools.UpdateUserSex} {
		if strings.Contains(p.system, name) {
			t.Fatalf("instruction must not mention %s", name)
		}
	}
}
