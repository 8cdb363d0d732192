package gateway

import (
	"regexp"
	"strings"
)

// Route is where a chat request is sent.
type Route int

const (
	RouteGeneral Route = iota
	RouteHelp
	RouteCancel
	RouteConfirm
	RouteContinue
	RouteWriteCommand
	RouteCommandUsage
	RouteInventory
)

func (r Route) String() string {
	switch r {
	case RouteHelp:
		return "help"
	case RouteCancel:
		return "cancel"
	case RouteConfirm:
		return "confirm"
	case RouteContinue:
		return "continue"
	case RouteWriteCommand:
		return "write_command"
	case RouteCommandUsage:
		return "command_usage"
	case RouteInventory:
		return "inventory"
	default:
		return "general"
	}
}

// Decision is the classifier output.
type Decision struct {
	Route Route
	// ConfirmCode is set for RouteConfirm.
	ConfirmCode string
	// Command is set for RouteWriteCommand.
	Command *Command
	// Usage is set for RouteCommandUsage.
	Usage string
	// ListArgs is set for RouteInventory.
	ListArgs map[string]any
	// UsePlanner is set for RouteGeneral when the utterance is about the
	// user's wardrobe or profile.
	UsePlanner bool
}

var confirmRE = regexp.MustCompile(`^(确认|/confirm)\s+([A-Za-z0-9]{6,40})$`)

var (
	inventorySubjects = []string{"我的衣服", "衣柜", "衣橱", "my clothes", "my wardrobe"}
	inventoryIntents  = []string{"有哪些", "有什么", "列出", "看看", "多少", "list", "show", "what"}
	plannerTriggers   = []string{
		"衣服", "穿搭", "搭配", "衣柜", "衣橱", "收藏", "喜欢", "资料", "推荐", "场景",
		"outfit", "wardrobe", "clothes", "profile", "favorite",
	}
)

// inventoryTypes maps a mention in the utterance to a list_clothes type
// filter. First match wins, so longer phrases come first.
var inventoryTypes = []struct {
	keyword string
	typ     string
}{
	{"连衣裙", "连衣裙"},
	{"外套", "外套"},
	{"上衣", "上衣"},
	{"衬衫", "衬衫"},
	{"裤子", "裤"},
	{"裙子", "裙"},
	{"鞋", "鞋"},
	{"配饰", "配饰"},
	{"jacket", "外套"},
	{"coat", "外套"},
	{"shirt", "衬衫"},
	{"pants", "裤"},
	{"skirt", "裙"},
	{"shoes", "鞋"},
}

// Classify routes one utterance. The rules are checked in a fixed order and
// the first match wins.
func Classify(utterance string) Decision {
	text := strings.TrimSpace(utterance)
	lower := strings.ToLower(text)

	switch text {
	case "/help":
		return Decision{Route: RouteHelp}
	case "取消", "/cancel":
		return Decision{Route: RouteCancel}
	}
	if m := confirmRE.FindStringSubmatch(text); m != nil {
		return Decision{Route: RouteConfirm, ConfirmCode: m[2]}
	}
	switch text {
	case "继续", "/more":
		return Decision{Route: RouteContinue}
	}
	if strings.HasPrefix(text, "/") {
		cmd, usage, matched := parseWriteCommand(text)
		switch {
		case matched && cmd != nil:
			return Decision{Route: RouteWriteCommand, Command: cmd}
		case matched:
			return Decision{Route: RouteCommandUsage, Usage: usage}
		}
	}
	if containsAny(lower, inventorySubjects) && containsAny(lower, inventoryIntents) {
		args := map[string]any{}
		for _, t := range inventoryTypes {
			if strings.Contains(lower, t.keyword) {
				args["type"] = t.typ
				break
			}
		}
		return Decision{Route: RouteInventory, ListArgs: args}
	}
	return Decision{Route: RouteGeneral, UsePlanner: containsAny(lower, plannerTriggers)}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
