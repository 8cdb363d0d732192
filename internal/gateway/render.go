package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"backend-go-chat-gateway/internal/pending"
	"backend-go-chat-gateway/internal/tools"
)

// User-facing replies.
const (
	helpText = `可用命令：
/help                      显示本帮助
/delete <衣物ID>            删除一件衣物（需确认）
/favorite <衣物ID> <on|off> 收藏或取消收藏（需确认）
/update <衣物ID> <JSON>     修改衣物信息，如 /update 42 {"color":"藏青"}（需确认）
/sex <man|woman>           修改性别设置（需确认）
确认 <确认码>               执行待确认的操作
取消                        放弃待确认的操作
继续                        查看列表的下一页
其他内容会直接交给衣橱助手回答。`

	unknownCommandText  = "未知命令，输入 /help 查看可用命令。"
	nothingPendingText  = "当前没有待确认的操作。"
	confirmMismatchText = "确认码不匹配，操作未执行。请核对确认码后重试。"
	confirmExpiredText  = "确认已过期，操作未执行。如仍需要，请重新发起命令。"
	cancelledText       = "已取消待确认的操作。"
	nothingToContinue   = "没有可以继续查看的内容。"
	emptyListText       = "没有找到符合条件的衣物。"
	serviceBusyText     = "服务繁忙，请稍后再试。"
	completionFailText  = "生成回复失败，请稍后再试。"
	systemPrompt        = "你是一个贴心的衣橱助手，帮助用户管理衣物、给出穿搭建议。回答使用简体中文，简洁具体。" +
		"只根据提供的衣橱数据谈论用户的衣物，不要编造不存在的衣物。" +
		"你不能直接修改数据；用户想删除或修改时，提示他们使用 /help 中的命令。"
)

var (
	// ErrServiceBusy is the terminal error shown while the model breaker is open.
	ErrServiceBusy = errors.New(serviceBusyText)
	// ErrCompletionFailed is the terminal error for any other completion failure.
	ErrCompletionFailed = errors.New(completionFailText)
)

func usageText(usage string) string {
	if usage == unknownCommandText {
		return usage
	}
	return "命令格式不正确。用法：" + usage
}

func stagedText(op pending.WriteOperation, eff tools.Effect, ttl time.Duration) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "⚠️ 即将执行：%s\n", eff.Operation)
	fmt.Fprintf(&sb, "范围：%s\n", eff.Scope)
	fmt.Fprintf(&sb, "风险：%s\n\n", eff.Risk)
	fmt.Fprintf(&sb, "如确认执行，请在 %s 内回复：确认 %s\n", humanDuration(ttl), op.ConfirmID)
	sb.WriteString("回复「取消」放弃此操作。")
	return sb.String()
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%d 小时", int(d/time.Hour))
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d 分钟", int(d/time.Minute))
	default:
		return fmt.Sprintf("%d 秒", int((d+time.Second-1)/time.Second))
	}
}

func executedText(eff tools.Effect, res tools.Result) string {
	if res.OK() {
		return fmt.Sprintf("✅ 已完成：%s（%s）。", eff.Operation, eff.Scope)
	}
	return fmt.Sprintf("❌ %s未完成：%s", eff.Operation, toolErrorText(res.Error))
}

func toolErrorText(e *tools.ToolError) string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case tools.ErrNotFound:
		return "没有找到对应的记录，可能已被删除或不属于你。"
	case tools.ErrInvalidArguments:
		return "参数不正确，操作未执行。"
	case tools.ErrUnknownTool:
		return "不支持该操作。"
	default:
		return "数据暂时无法访问，请稍后再试。"
	}
}

// renderPage formats one window of a list_clothes result. remaining is the
// number of items after this window.
func renderPage(list tools.ClothList, remaining int) string {
	if list.Total == 0 || len(list.Items) == 0 {
		return emptyListText
	}
	var sb strings.Builder
	first := list.Offset + 1
	last := list.Offset + len(list.Items)
	fmt.Fprintf(&sb, "共 %d 件衣物，当前显示第 %d–%d 件：\n", list.Total, first, last)
	for i, c := range list.Items {
		fmt.Fprintf(&sb, "%d. #%d %s", first+i, c.ID, c.Name)
		if attrs := joinNonEmpty(" · ", c.Type, c.Color, c.Style, c.Season); attrs != "" {
			fmt.Fprintf(&sb, "（%s）", attrs)
		}
		if c.Favorite {
			sb.WriteString(" ★")
		}
		sb.WriteString("\n")
	}
	if remaining > 0 {
		sb.WriteString(moreFooter(remaining))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func moreFooter(remaining int) string {
	return fmt.Sprintf("还有 %d 件，回复「继续」查看更多。", remaining)
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
