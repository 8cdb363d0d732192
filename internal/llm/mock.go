package llm

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync/atomic"
)

// Mock is a deterministic Model for local runs. JSON requests get a planner
// decision chosen by keyword; other requests get a short canned reply that is
// streamed in small chunks.
type Mock struct {
	// ChunkRunes is the streamed delta size.
	ChunkRunes int
}

func NewMock() *Mock { return &Mock{ChunkRunes: 8} }

var mockPlans = []struct {
	keywords []string
	tool     string
	args     func(utterance string) map[string]any
}{
	{[]string{"推荐", "搭配", "穿搭", "场景", "outfit"}, "suggest_outfits", func(u string) map[string]any {
		return map[string]any{"scene": truncateRunes(u, 100)}
	}},
	{[]string{"收藏", "喜欢", "favorite"}, "list_clothes", func(string) map[string]any {
		return map[string]any{"favorite": true}
	}},
	{[]string{"资料", "profile"}, "get_user_profile", func(string) map[string]any {
		return map[string]any{}
	}},
	{[]string{"衣服", "衣柜", "衣橱", "wardrobe", "clothes"}, "list_clothes", func(string) map[string]any {
		return map[string]any{}
	}},
}

func (m *Mock) Complete(_ context.Context, req Request) (string, error) {
	utterance := lastUser(req.Messages)
	if !req.JSON {
		return mockReply(req.Messages), nil
	}
	lower := strings.ToLower(utterance)
	for _, p := range mockPlans {
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				b, _ := json.Marshal(map[string]any{
					"action":    "tool",
					"tool":      p.tool,
					"arguments": p.args(utterance),
					"reason":    "mock: matched " + kw,
				})
				return string(b), nil
			}
		}
	}
	return `{"action":"none","reason":"mock: no tool needed"}`, nil
}

func (m *Mock) Stream(ctx context.Context, req Request) (DeltaStream, error) {
	size := m.ChunkRunes
	if size <= 0 {
		size = 8
	}
	var chunks []string
	runes := []rune(mockReply(req.Messages))
	for len(runes) > 0 {
		n := min(size, len(runes))
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return &sliceStream{ctx: ctx, chunks: chunks}, nil
}

func mockReply(msgs []Message) string {
	u := lastUser(msgs)
	if u == "" {
		return "你好，我是你的衣橱助手。"
	}
	return "（离线模式）收到：「" + truncateRunes(u, 200) + "」。我会基于你的衣橱信息尽量给出建议。"
}

func lastUser(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return strings.TrimSpace(msgs[i].Content)
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// sliceStream replays fixed chunks. It honours context cancellation between
// chunks.
type sliceStream struct {
	ctx    context.Context
	chunks []string
	closed atomic.Bool
}

// NewSliceStream returns a DeltaStream over chunks.
func NewSliceStream(ctx context.Context, chunks ...string) DeltaStream {
	return &sliceStream{ctx: ctx, chunks: chunks}
}

func (s *sliceStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.closed.Load() || len(s.chunks) == 0 {
		return "", io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *sliceStream) Close() error {
	s.closed.Store(true)
	return nil
}
