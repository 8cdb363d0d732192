package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend-go-chat-gateway/internal/outfit"
	"backend-go-chat-gateway/internal/wardrobe"
)

func newTestExecutor(t *testing.T) (*Executor, *wardrobe.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	store := wardrobe.NewMemoryStore()
	_ = store.UpsertUser(ctx, wardrobe.User{ID: "u1", Name: "小林", Sex: wardrobe.SexWoman})
	_ = store.UpsertUser(ctx, wardrobe.User{ID: "u2", Name: "阿杰"})
	_, _ = store.AddCloth(ctx, wardrobe.Cloth{ID: 1, UserID: "u1", Name: "白衬衫", Type: "上衣", Color: "白色", Style: "商务", Image: "data:image/png;base64,AAAA"})
	_, _ = store.AddCloth(ctx, wardrobe.Cloth{ID: 2, UserID: "u1", Name: "西裤", Type: "裤子", Color: "黑色", Style: "正式", Favorite: true})
	_, _ = store.AddCloth(ctx, wardrobe.Cloth{ID: 42, UserID: "u2", Name: "风衣", Type: "外套"})
	env := Env{Store: store, Outfits: outfit.NewRuleSuggester()}
	return NewExecutor(MustCatalog(), env, time.Second), store
}

func TestCatalog_SafeDangerousSplit(t *testing.T) {
	c := MustCatalog()
	safe := map[string]bool{}
	for _, d := range c.SafeDefinitions() {
		safe[d.Name] = true
	}
	for _, n := range []string{GetUserProfile, ListClothes, SuggestOutfits} {
		if !safe[n] || !c.IsSafe(n) {
			t.Fatalf("%s should be safe", n)
		}
	}
	for _, n := range []string{SetClothFavorite, UpdateClothFields, DeleteCloth, UpdateUserSex} {
		if safe[n] || c.IsSafe(n) {
			t.Fatalf("%s should be dangerous", n)
		}
	}
	if len(c.Definitions()) != 7 {
		t.Fatalf("expected 7 tools, got %d", len(c.Definitions()))
	}
}

func TestCatalog_RejectsMismatchedDangerFlag(t *testing.T) {
	_, err := newCatalog([]Tool{mislabeled{}})
	if err == nil {
		t.Fatalf("expected error for safe tool flagged dangerous")
	}
}

type mislabeled struct{ profileTool }

func (mislabeled) Definition() Definition {
	d := profileTool{}.Definition()
	d.Dangerous = true
	return d
}

func TestExecute_UnknownTool(t *testing.T) {
	e, _ := newTestExecutor(t)
	res := e.Execute(context.Background(), "drop_tables", nil, "u1")
	if res.OK() || res.Error.Kind != ErrUnknownTool {
		t.Fatalf("expected unknown_tool, got %+v", res)
	}
}

func TestExecute_InvalidArguments(t *testing.T) {
	e, _ := newTestExecutor(t)
	cases := []struct {
		tool string
		args map[string]any
	}{
		{ListClothes, map[string]any{"limit": 51}},
		{ListClothes, map[string]any{"colour": "red"}},
		{SuggestOutfits, map[string]any{}},
		{DeleteCloth, map[string]any{"cloth_id": "42"}},
		{UpdateUserSex, map[string]any{"sex": "other"}},
		{UpdateClothFields, map[string]any{"cloth_id": 1, "fields": map[string]any{"image": "x"}}},
		{UpdateClothFields, map[string]any{"cloth_id": 1, "fields": map[string]any{}}},
	}
	for _, tc := range cases {
		res := e.Execute(context.Background(), tc.tool, tc.args, "u1")
		if res.OK() || res.Error.Kind != ErrInvalidArguments {
			t.Fatalf("%s %v: expected invalid_arguments, got %+v", tc.tool, tc.args, res)
		}
	}
}

func TestExecute_ListClothesOmitsImagesAndPages(t *testing.T) {
	e, _ := newTestExecutor(t)
	res := e.Execute(context.Background(), ListClothes, map[string]any{"limit": 1, "offset": 1}, "u1")
	if !res.OK() {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	list := res.Data.(ClothList)
	if list.Total != 2 || list.Offset != 1 || len(list.Items) != 1 || list.Items[0].ID != 2 {
		t.Fatalf("unexpected page: %+v", list)
	}

	res = e.Execute(context.Background(), ListClothes, map[string]any{"favorite": true}, "u1")
	list = res.Data.(ClothList)
	if list.Total != 1 || list.Items[0].Name != "西裤" {
		t.Fatalf("favorite filter failed: %+v", list)
	}
}

func TestExecute_ForeignClothIsNotFound(t *testing.T) {
	e, store := newTestExecutor(t)
	res := e.Execute(context.Background(), DeleteCloth, map[string]any{"cloth_id": 42}, "u1")
	if res.OK() || res.Error.Kind != ErrNotFound {
		t.Fatalf("expected not_found, got %+v", res)
	}
	if _, err := store.GetCloth(context.Background(), 42); err != nil {
		t.Fatalf("foreign cloth must survive: %v", err)
	}

	res = e.Execute(context.Background(), DeleteCloth, map[string]any{"cloth_id": 42}, "u2")
	if !res.OK() {
		t.Fatalf("owner delete failed: %v", res.Error)
	}
	if _, err := store.GetCloth(context.Background(), 42); !errors.Is(err, wardrobe.ErrNotFound) {
		t.Fatalf("expected cloth deleted, got %v", err)
	}
}

func TestExecute_UpdateFields(t *testing.T) {
	e, _ := newTestExecutor(t)
	res := e.Execute(context.Background(), UpdateClothFields, map[string]any{
		"cloth_id": float64(1),
		"fields":   map[string]any{"color": " 米白 ", "season": "春"},
	}, "u1")
	if !res.OK() {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	v := res.Data.(ClothView)
	if v.Color != "米白" || v.Season != "春" || v.Name != "白衬衫" {
		t.Fatalf("unexpected updated cloth: %+v", v)
	}
}

func TestExecute_StoreFailure(t *testing.T) {
	e, store := newTestExecutor(t)
	store.Err = errors.New("disk on fire")
	res := e.Execute(context.Background(), GetUserProfile, nil, "u1")
	if res.OK() || res.Error.Kind != ErrStoreFailure {
		t.Fatalf("expected store_failure, got %+v", res)
	}
}

func TestExecute_SuggestOutfits(t *testing.T) {
	e, _ := newTestExecutor(t)
	res := e.Execute(context.Background(), SuggestOutfits, map[string]any{"scene": "上班"}, "u1")
	if !res.OK() {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	outfits := res.Data.(map[string]any)["outfits"].([]OutfitView)
	if len(outfits) != 1 || len(outfits[0].Items) != 2 {
		t.Fatalf("expected shirt+trousers outfit, got %+v", outfits)
	}
}

func TestDescribe_DangerousOnly(t *testing.T) {
	e, _ := newTestExecutor(t)
	eff, ok := e.Describe(DeleteCloth, map[string]any{"cloth_id": 42})
	if !ok || eff.Scope != "衣物 #42" || eff.Risk == "" {
		t.Fatalf("unexpected effect %+v ok=%v", eff, ok)
	}
	if _, ok := e.Describe(ListClothes, nil); ok {
		t.Fatalf("safe tools have no confirmation text")
	}
}
