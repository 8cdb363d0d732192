// Package tools is the closed catalog of operations the assistant may invoke
// and the executor that runs them against the wardrobe store.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"backend-go-chat-gateway/internal/outfit"
	"backend-go-chat-gateway/internal/wardrobe"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool names. The catalog is the only place these are bound to behavior.
const (
	GetUserProfile    = "get_user_profile"
	ListClothes       = "list_clothes"
	SuggestOutfits    = "suggest_outfits"
	SetClothFavorite  = "set_cloth_favorite"
	UpdateClothFields = "update_cloth_fields"
	DeleteCloth       = "delete_cloth"
	UpdateUserSex     = "update_user_sex"
)

// Definition describes a tool to the planner and to API clients.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"parameters"`
	Dangerous   bool            `json:"dangerous"`
}

// Env is what a tool may touch while running.
type Env struct {
	Store   wardrobe.Store
	Outfits outfit.Suggester
}

// Tool is one catalog entry.
type Tool interface {
	Definition() Definition
	Run(ctx context.Context, env Env, args map[string]any, userID string) Result
}

// Effect is the human-readable description shown before a dangerous tool runs.
type Effect struct {
	Operation string
	Scope     string
	Risk      string
}

// DangerousTool is a Tool that mutates data and must be confirmed first.
type DangerousTool interface {
	Tool
	Describe(args map[string]any) Effect
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Catalog is the immutable registry of tools, built once at startup.
type Catalog struct {
	entries map[string]entry
	names   []string
}

// NewCatalog builds the catalog of built-in tools and compiles their schemas.
func NewCatalog() (*Catalog, error) {
	return newCatalog(builtinTools())
}

// MustCatalog is NewCatalog for static wiring; the built-in schemas are
// constants, so failure is a programming error.
func MustCatalog() *Catalog {
	c, err := NewCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

func newCatalog(list []Tool) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]entry, len(list))}
	for _, t := range list {
		def := t.Definition()
		if _, dup := c.entries[def.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", def.Name)
		}
		schema, err := jsonschema.CompileString(def.Name+".schema.json", string(def.Schema))
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", def.Name, err)
		}
		if _, isDangerous := t.(DangerousTool); isDangerous != def.Dangerous {
			return nil, fmt.Errorf("tool %s: dangerous flag does not match its capabilities", def.Name)
		}
		c.entries[def.Name] = entry{tool: t, schema: schema}
		c.names = append(c.names, def.Name)
	}
	sort.Strings(c.names)
	return c, nil
}

// Lookup returns the tool registered under name.
func (c *Catalog) Lookup(name string) (Tool, bool) {
	e, ok := c.entries[name]
	return e.tool, ok
}

// IsSafe reports whether name is a read-only tool.
func (c *Catalog) IsSafe(name string) bool {
	e, ok := c.entries[name]
	return ok && !e.tool.Definition().Dangerous
}

// Definitions lists every tool, sorted by name.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.entries[n].tool.Definition())
	}
	return out
}

// SafeDefinitions lists only read-only tools. This is the planner's view.
func (c *Catalog) SafeDefinitions() []Definition {
	var out []Definition
	for _, d := range c.Definitions() {
		if !d.Dangerous {
			out = append(out, d)
		}
	}
	return out
}

// Validate checks args against the named tool's schema.
func (c *Catalog) Validate(name string, args map[string]any) error {
	e, ok := c.entries[name]
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	return e.schema.Validate(toJSONValue(args))
}

// toJSONValue converts args to the plain JSON value space the validator
// expects (map[string]any, []any, float64, string, bool, nil).
func toJSONValue(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return args
	}
	return v
}
