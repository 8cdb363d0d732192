package gateway

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"backend-go-chat-gateway/internal/config"
	"backend-go-chat-gateway/internal/llm"
)

// ValidationError rejects a request before any model or tool call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// minBase64Run is the shortest base64 run treated as an inlined binary blob.
const minBase64Run = 1024

var dataImageRE = regexp.MustCompile(`(?i)data:image/[a-z0-9.+-]+;base64,`)

// ValidateMessages enforces the input limits and returns the latest user
// utterance.
func ValidateMessages(msgs []llm.Message, limits config.LimitsConfig) (string, error) {
	if len(msgs) == 0 {
		return "", invalid("messages must not be empty")
	}
	if limits.MaxMessages > 0 && len(msgs) > limits.MaxMessages {
		return "", invalid("too many messages: %d (max %d)", len(msgs), limits.MaxMessages)
	}

	total := 0
	for i, m := range msgs {
		switch m.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			return "", invalid("message %d has unknown role %q", i, m.Role)
		}
		n := utf8.RuneCountInString(m.Content)
		if limits.MaxMessageChars > 0 && n > limits.MaxMessageChars {
			return "", invalid("message %d is too long: %d characters (max %d)", i, n, limits.MaxMessageChars)
		}
		total += n
		if looksLikeImagePayload(m.Content) {
			return "", invalid("message %d contains inline image data; upload images separately", i)
		}
	}
	if limits.MaxTotalChars > 0 && total > limits.MaxTotalChars {
		return "", invalid("conversation is too long: %d characters (max %d)", total, limits.MaxTotalChars)
	}

	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleUser {
		return "", invalid("last message must come from the user")
	}
	return last.Content, nil
}

func looksLikeImagePayload(s string) bool {
	if dataImageRE.MatchString(s) {
		return true
	}
	run := 0
	for i := 0; i < len(s); i++ {
		if isBase64Byte(s[i]) {
			run++
			if run >= minBase64Run {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

func isBase64Byte(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '+' || c == '/' || c == '='
}
