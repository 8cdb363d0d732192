// Package outfit ranks a user's clothes into outfit groupings for a scene
// using fixed scoring rules.
package outfit

import (
	"sort"
	"strings"

	"backend-go-chat-gateway/internal/wardrobe"
)

// Outfit is one ranked grouping of items.
type Outfit struct {
	Items  []wardrobe.Cloth
	Score  int
	Reason string
}

// Suggester produces ranked outfits for a scene.
type Suggester interface {
	Suggest(scene string, clothes []wardrobe.Cloth, limit int) []Outfit
}

type slot int

const (
	slotOther slot = iota
	slotTop
	slotBottom
	slotDress
	slotOuter
	slotShoes
)

var slotKeywords = []struct {
	slot     slot
	keywords []string
}{
	{slotDress, []string{"连衣裙", "dress"}},
	{slotOuter, []string{"外套", "风衣", "夹克", "大衣", "羽绒", "coat", "jacket"}},
	{slotShoes, []string{"鞋", "靴", "shoe", "boot", "sneaker"}},
	{slotBottom, []string{"裤", "裙", "pants", "jeans", "skirt", "shorts"}},
	{slotTop, []string{"上衣", "衬衫", "t恤", "卫衣", "毛衣", "针织", "top", "shirt", "sweater", "hoodie"}},
}

type sceneRule struct {
	name     string
	triggers []string
	styles   []string
	colors   []string
}

var sceneRules = []sceneRule{
	{name: "通勤", triggers: []string{"通勤", "上班", "面试", "会议", "work", "office"}, styles: []string{"商务", "正式", "简约", "通勤"}, colors: []string{"黑", "白", "灰", "藏青", "米"}},
	{name: "约会", triggers: []string{"约会", "聚餐", "date", "dinner"}, styles: []string{"甜美", "优雅", "浪漫", "法式"}, colors: []string{"粉", "红", "白", "杏"}},
	{name: "运动", triggers: []string{"运动", "健身", "跑步", "爬山", "sport", "gym", "hiking"}, styles: []string{"运动", "休闲", "户外"}, colors: []string{"黑", "灰", "蓝"}},
	{name: "休闲", triggers: []string{"休闲", "逛街", "周末", "旅行", "casual", "weekend", "travel"}, styles: []string{"休闲", "街头", "简约"}, colors: []string{"蓝", "白", "卡其"}},
}

// RuleSuggester scores items against the matched scene rule.
type RuleSuggester struct{}

// NewRuleSuggester returns the default rule-based suggester.
func NewRuleSuggester() *RuleSuggester { return &RuleSuggester{} }

// Suggest returns up to limit outfits for scene, best first. Each outfit is a
// dress or a top/bottom pair, plus the best outerwear and shoes if any.
func (RuleSuggester) Suggest(scene string, clothes []wardrobe.Cloth, limit int) []Outfit {
	if limit <= 0 {
		limit = 3
	}
	rule := matchRule(scene)

	bySlot := map[slot][]scored{}
	for _, c := range clothes {
		s := classify(c)
		bySlot[s] = append(bySlot[s], scored{cloth: c, score: scoreCloth(c, rule)})
	}
	for s := range bySlot {
		items := bySlot[s]
		sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
	}

	var bases []Outfit
	for _, d := range bySlot[slotDress] {
		bases = append(bases, Outfit{Items: []wardrobe.Cloth{d.cloth}, Score: d.score})
	}
	for _, top := range bySlot[slotTop] {
		for _, bottom := range bySlot[slotBottom] {
			bases = append(bases, Outfit{Items: []wardrobe.Cloth{top.cloth, bottom.cloth}, Score: top.score + bottom.score})
		}
	}
	sort.SliceStable(bases, func(i, j int) bool { return bases[i].Score > bases[j].Score })
	if len(bases) > limit {
		bases = bases[:limit]
	}

	for i := range bases {
		for _, extra := range []slot{slotOuter, slotShoes} {
			if best := bySlot[extra]; len(best) > 0 {
				bases[i].Items = append(bases[i].Items, best[0].cloth)
				bases[i].Score += best[0].score
			}
		}
		bases[i].Reason = "适合" + rule.name + "场景"
	}
	return bases
}

type scored struct {
	cloth wardrobe.Cloth
	score int
}

func matchRule(scene string) sceneRule {
	lower := strings.ToLower(scene)
	for _, r := range sceneRules {
		for _, t := range r.triggers {
			if strings.Contains(lower, t) {
				return r
			}
		}
	}
	return sceneRules[len(sceneRules)-1]
}

func classify(c wardrobe.Cloth) slot {
	text := strings.ToLower(c.Type + " " + c.Name)
	for _, sk := range slotKeywords {
		for _, kw := range sk.keywords {
			if strings.Contains(text, kw) {
				return sk.slot
			}
		}
	}
	return slotOther
}

func scoreCloth(c wardrobe.Cloth, r sceneRule) int {
	score := 0
	for _, s := range r.styles {
		if strings.Contains(c.Style, s) {
			score += 3
			break
		}
	}
	for _, col := range r.colors {
		if strings.Contains(c.Color, col) {
			score++
			break
		}
	}
	if c.Favorite {
		score++
	}
	return score
}
