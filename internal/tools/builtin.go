package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"backend-go-chat-gateway/internal/wardrobe"
)

// MaxListLimit caps how many items list_clothes returns per call.
const MaxListLimit = 50

func builtinTools() []Tool {
	return []Tool{
		profileTool{},
		listClothesTool{},
		suggestOutfitsTool{},
		setFavoriteTool{},
		updateClothTool{},
		deleteClothTool{},
		updateSexTool{},
	}
}

// ClothView is the projection of a cloth returned to the assistant. Image
// data is never included.
type ClothView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Color    string `json:"color,omitempty"`
	Style    string `json:"style,omitempty"`
	Season   string `json:"season,omitempty"`
	Material string `json:"material,omitempty"`
	Favorite bool   `json:"favorite"`
}

func viewOf(c wardrobe.Cloth) ClothView {
	return ClothView{
		ID: c.ID, Name: c.Name, Type: c.Type, Color: c.Color,
		Style: c.Style, Season: c.Season, Material: c.Material, Favorite: c.Favorite,
	}
}

// ClothList is the list_clothes payload.
type ClothList struct {
	Total  int         `json:"total"`
	Offset int         `json:"offset"`
	Items  []ClothView `json:"items"`
}

// ProfileView is the get_user_profile payload.
type ProfileView struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Sex               string `json:"sex,omitempty"`
	HasCharacterModel bool   `json:"has_character_model"`
}

// OutfitView is one suggest_outfits grouping.
type OutfitView struct {
	Items  []ClothView `json:"items"`
	Score  int         `json:"score"`
	Reason string      `json:"reason"`
}

// --- get_user_profile ---

type profileTool struct{}

func (profileTool) Definition() Definition {
	return Definition{
		Name:        GetUserProfile,
		Description: "读取当前用户的基本资料（昵称、性别、是否已设置人物模特）。",
		Schema:      json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
	}
}

func (profileTool) Run(ctx context.Context, env Env, _ map[string]any, userID string) Result {
	u, err := env.Store.GetUser(ctx, userID)
	if err != nil {
		return storeFailure(err)
	}
	return success(ProfileView{ID: u.ID, Name: u.Name, Sex: u.Sex, HasCharacterModel: u.CharacterModel != ""})
}

// --- list_clothes ---

type listClothesTool struct{}

func (listClothesTool) Definition() Definition {
	return Definition{
		Name:        ListClothes,
		Description: "列出当前用户衣橱中的衣物，可按类型、颜色、风格、季节、是否收藏筛选。",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"type": {"type": "string", "maxLength": 32},
				"color": {"type": "string", "maxLength": 32},
				"style": {"type": "string", "maxLength": 32},
				"season": {"type": "string", "maxLength": 32},
				"favorite": {"type": "boolean"},
				"limit": {"type": "integer", "minimum": 1, "maximum": 50},
				"offset": {"type": "integer", "minimum": 0}
			},
			"additionalProperties": false
		}`),
	}
}

func (listClothesTool) Run(ctx context.Context, env Env, args map[string]any, userID string) Result {
	filter := wardrobe.ClothFilter{
		Type:   argString(args, "type"),
		Color:  argString(args, "color"),
		Style:  argString(args, "style"),
		Season: argString(args, "season"),
	}
	if fav, ok := argBool(args, "favorite"); ok {
		filter.Favorite = &fav
	}

	clothes, err := env.Store.ListClothes(ctx, userID, filter)
	if err != nil {
		return storeFailure(err)
	}

	limit := MaxListLimit
	if n, ok := argInt(args, "limit"); ok && n > 0 && n < MaxListLimit {
		limit = int(n)
	}
	offset := 0
	if n, ok := argInt(args, "offset"); ok && n > 0 {
		offset = int(n)
	}

	out := ClothList{Total: len(clothes), Offset: offset, Items: []ClothView{}}
	for i := offset; i < len(clothes) && len(out.Items) < limit; i++ {
		// Defensive against stores that ignore the owner filter.
		if clothes[i].UserID != userID {
			continue
		}
		out.Items = append(out.Items, viewOf(clothes[i]))
	}
	return success(out)
}

// --- suggest_outfits ---

type suggestOutfitsTool struct{}

func (suggestOutfitsTool) Definition() Definition {
	return Definition{
		Name:        SuggestOutfits,
		Description: "根据场景（如通勤、约会、运动、休闲）从用户现有衣物中推荐搭配组合。",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"scene": {"type": "string", "minLength": 1, "maxLength": 100},
				"limit": {"type": "integer", "minimum": 1, "maximum": 5}
			},
			"required": ["scene"],
			"additionalProperties": false
		}`),
	}
}

func (suggestOutfitsTool) Run(ctx context.Context, env Env, args map[string]any, userID string) Result {
	if env.Outfits == nil {
		return failure(ErrStoreFailure, "outfit suggester unavailable")
	}
	clothes, err := env.Store.ListClothes(ctx, userID, wardrobe.ClothFilter{})
	if err != nil {
		return storeFailure(err)
	}
	limit := 3
	if n, ok := argInt(args, "limit"); ok && n > 0 {
		limit = int(n)
	}
	outfits := env.Outfits.Suggest(argString(args, "scene"), clothes, limit)
	views := make([]OutfitView, 0, len(outfits))
	for _, o := range outfits {
		v := OutfitView{Score: o.Score, Reason: o.Reason}
		for _, c := range o.Items {
			v.Items = append(v.Items, viewOf(c))
		}
		views = append(views, v)
	}
	return success(map[string]any{"scene": argString(args, "scene"), "outfits": views})
}

// --- set_cloth_favorite ---

type setFavoriteTool struct{}

func (setFavoriteTool) Definition() Definition {
	return Definition{
		Name:        SetClothFavorite,
		Description: "设置或取消某件衣物的收藏状态。",
		Dangerous:   true,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"cloth_id": {"type": "integer", "minimum": 1},
				"favorite": {"type": "boolean"}
			},
			"required": ["cloth_id", "favorite"],
			"additionalProperties": false
		}`),
	}
}

func (setFavoriteTool) Describe(args map[string]any) Effect {
	fav, _ := argBool(args, "favorite")
	op := "取消收藏衣物"
	if fav {
		op = "收藏衣物"
	}
	id, _ := argInt(args, "cloth_id")
	return Effect{Operation: op, Scope: fmt.Sprintf("衣物 #%d", id), Risk: "会改变该衣物的收藏状态"}
}

func (setFavoriteTool) Run(ctx context.Context, env Env, args map[string]any, userID string) Result {
	id, _ := argInt(args, "cloth_id")
	fav, _ := argBool(args, "favorite")
	if _, res := ownedCloth(ctx, env, id, userID); res != nil {
		return *res
	}
	if err := env.Store.SetFavorite(ctx, id, fav); err != nil {
		return storeFailure(err)
	}
	return success(map[string]any{"cloth_id": id, "favorite": fav})
}

// --- update_cloth_fields ---

type updateClothTool struct{}

func (updateClothTool) Definition() Definition {
	return Definition{
		Name:        UpdateClothFields,
		Description: "修改某件衣物的描述字段（名称、类型、颜色、风格、季节、材质），不能修改图片。",
		Dangerous:   true,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"cloth_id": {"type": "integer", "minimum": 1},
				"fields": {
					"type": "object",
					"properties": {
						"name": {"type": "string", "maxLength": 64},
						"type": {"type": "string", "maxLength": 64},
						"color": {"type": "string", "maxLength": 64},
						"style": {"type": "string", "maxLength": 64},
						"season": {"type": "string", "maxLength": 64},
						"material": {"type": "string", "maxLength": 64}
					},
					"minProperties": 1,
					"additionalProperties": false
				}
			},
			"required": ["cloth_id", "fields"],
			"additionalProperties": false
		}`),
	}
}

func (updateClothTool) Describe(args map[string]any) Effect {
	id, _ := argInt(args, "cloth_id")
	fields := updateFields(args)
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return Effect{
		Operation: "修改衣物信息",
		Scope:     fmt.Sprintf("衣物 #%d 的字段：%s", id, strings.Join(names, "、")),
		Risk:      "原有字段值将被覆盖",
	}
}

func (updateClothTool) Run(ctx context.Context, env Env, args map[string]any, userID string) Result {
	id, _ := argInt(args, "cloth_id")
	fields := updateFields(args)
	if _, res := ownedCloth(ctx, env, id, userID); res != nil {
		return *res
	}
	if err := env.Store.UpdateCloth(ctx, id, fields); err != nil {
		return storeFailure(err)
	}
	updated, err := env.Store.GetCloth(ctx, id)
	if err != nil {
		return storeFailure(err)
	}
	return success(viewOf(updated))
}

func updateFields(args map[string]any) map[string]string {
	raw, _ := args["fields"].(map[string]any)
	out := make(map[string]string, len(raw))
	for _, k := range wardrobe.EditableFields {
		if v, ok := raw[k].(string); ok {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

// --- delete_cloth ---

type deleteClothTool struct{}

func (deleteClothTool) Definition() Definition {
	return Definition{
		Name:        DeleteCloth,
		Description: "从衣橱中删除一件衣物。",
		Dangerous:   true,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"cloth_id": {"type": "integer", "minimum": 1}},
			"required": ["cloth_id"],
			"additionalProperties": false
		}`),
	}
}

func (deleteClothTool) Describe(args map[string]any) Effect {
	id, _ := argInt(args, "cloth_id")
	return Effect{Operation: "删除衣物", Scope: fmt.Sprintf("衣物 #%d", id), Risk: "删除后无法恢复"}
}

func (deleteClothTool) Run(ctx context.Context, env Env, args map[string]any, userID string) Result {
	id, _ := argInt(args, "cloth_id")
	if _, res := ownedCloth(ctx, env, id, userID); res != nil {
		return *res
	}
	if err := env.Store.DeleteCloth(ctx, id); err != nil {
		return storeFailure(err)
	}
	return success(map[string]any{"deleted": id})
}

// --- update_user_sex ---

type updateSexTool struct{}

func (updateSexTool) Definition() Definition {
	return Definition{
		Name:        UpdateUserSex,
		Description: "修改用户资料中的性别设置（影响后续人物模特与搭配生成）。",
		Dangerous:   true,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"sex": {"type": "string", "enum": ["man", "woman"]}},
			"required": ["sex"],
			"additionalProperties": false
		}`),
	}
}

func (updateSexTool) Describe(args map[string]any) Effect {
	return Effect{
		Operation: "修改性别设置",
		Scope:     "个人资料：性别 → " + argString(args, "sex"),
		Risk:      "会影响之后生成的人物模特和搭配效果",
	}
}

func (updateSexTool) Run(ctx context.Context, env Env, args map[string]any, userID string) Result {
	sex := argString(args, "sex")
	if err := env.Store.SetUserSex(ctx, userID, sex); err != nil {
		return storeFailure(err)
	}
	return success(map[string]any{"sex": sex})
}

// ownedCloth loads clothID and hides records owned by someone else behind
// not_found.
func ownedCloth(ctx context.Context, env Env, clothID int64, userID string) (wardrobe.Cloth, *Result) {
	c, err := env.Store.GetCloth(ctx, clothID)
	if err != nil {
		res := storeFailure(err)
		return wardrobe.Cloth{}, &res
	}
	if c.UserID != userID {
		res := failure(ErrNotFound, "cloth %d not found", clothID)
		return wardrobe.Cloth{}, &res
	}
	return c, nil
}

func storeFailure(err error) Result {
	if errors.Is(err, wardrobe.ErrNotFound) {
		return failure(ErrNotFound, "record not found")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failure(ErrStoreFailure, "store timeout")
	}
	return failure(ErrStoreFailure, "%v", err)
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func argBool(args map[string]any, key string) (bool, bool) {
	b, ok := args[key].(bool)
	return b, ok
}

func argInt(args map[string]any, key string) (int64, bool) {
	switch v := args[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), v == float64(int64(v))
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
