package gateway

import (
	"encoding/json"
	"strconv"
	"strings"

	"backend-go-chat-gateway/internal/tools"
	"backend-go-chat-gateway/internal/wardrobe"
)

// Command is a parsed slash write command.
type Command struct {
	Tool string
	Args map[string]any
}

type commandSpec struct {
	verb  string
	tool  string
	usage string
	parse func(rest string) (map[string]any, bool)
}

var writeCommands = []commandSpec{
	{
		verb:  "/delete",
		tool:  tools.DeleteCloth,
		usage: "/delete <衣物ID>，例如：/delete 42",
		parse: func(rest string) (map[string]any, bool) {
			f := strings.Fields(rest)
			if len(f) != 1 {
				return nil, false
			}
			id, ok := parseClothID(f[0])
			return map[string]any{"cloth_id": id}, ok
		},
	},
	{
		verb:  "/favorite",
		tool:  tools.SetClothFavorite,
		usage: "/favorite <衣物ID> <on|off>，例如：/favorite 42 on",
		parse: func(rest string) (map[string]any, bool) {
			f := strings.Fields(rest)
			if len(f) != 2 {
				return nil, false
			}
			id, ok := parseClothID(f[0])
			if !ok {
				return nil, false
			}
			fav, ok := parseSwitch(f[1])
			return map[string]any{"cloth_id": id, "favorite": fav}, ok
		},
	},
	{
		verb:  "/update",
		tool:  tools.UpdateClothFields,
		usage: `/update <衣物ID> <JSON>，例如：/update 42 {"color":"藏青","season":"秋冬"}`,
		parse: func(rest string) (map[string]any, bool) {
			idText, jsonText, found := strings.Cut(strings.TrimSpace(rest), " ")
			if !found {
				return nil, false
			}
			id, ok := parseClothID(idText)
			if !ok {
				return nil, false
			}
			var fields map[string]any
			if err := json.Unmarshal([]byte(strings.TrimSpace(jsonText)), &fields); err != nil || len(fields) == 0 {
				return nil, false
			}
			return map[string]any{"cloth_id": id, "fields": fields}, true
		},
	},
	{
		verb:  "/sex",
		tool:  tools.UpdateUserSex,
		usage: "/sex <man|woman>，例如：/sex woman",
		parse: func(rest string) (map[string]any, bool) {
			f := strings.Fields(rest)
			if len(f) != 1 {
				return nil, false
			}
			sex := strings.ToLower(f[0])
			if sex != wardrobe.SexMan && sex != wardrobe.SexWoman {
				return nil, false
			}
			return map[string]any{"sex": sex}, true
		},
	},
}

// parseWriteCommand matches utterance against the slash write commands.
// matched reports whether the verb is known; cmd is nil when the arguments
// did not parse, in which case usage describes the expected form.
func parseWriteCommand(utterance string) (cmd *Command, usage string, matched bool) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(utterance), " ")
	verb = strings.ToLower(verb)
	for _, wc := range writeCommands {
		if verb != wc.verb {
			continue
		}
		args, ok := wc.parse(rest)
		if !ok {
			return nil, wc.usage, true
		}
		return &Command{Tool: wc.tool, Args: args}, wc.usage, true
	}
	return nil, "", false
}

// usageFor returns the usage line of the command that stages tool.
func usageFor(tool string) string {
	for _, wc := range writeCommands {
		if wc.tool == tool {
			return wc.usage
		}
	}
	return ""
}

func parseClothID(s string) (int64, bool) {
	s = strings.TrimPrefix(s, "#")
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil && id > 0
}

func parseSwitch(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "on", "1", "true":
		return true, true
	case "off", "0", "false":
		return false, true
	}
	return false, false
}
