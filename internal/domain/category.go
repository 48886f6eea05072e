package domain

import "fmt"

type Game string

const (
	GameHSR     Game = "hsr"
	GameGenshin Game = "genshin"
	GameZZZ     Game = "zzz"
)

func ParseGame(s string) (Game, error) {
	switch Game(s) {
	case GameHSR, GameGenshin, GameZZZ:
		return Game(s), nil
	}
	return "", fmt.Errorf("unknown game %q", s)
}

// TierA and TierB are the rarity values counted as rare hits. ZZZ ranks are
// normalized to the same scale by its adapters (B=3, A=4, S=5).
func (g Game) TierA() int { return 4 }
func (g Game) TierB() int { return 5 }

// Category is the closed set of banner pools across all supported games.
type Category uint8

const (
	CategoryUnknown Category = iota

	HSRStandard
	HSRDeparture
	HSRCharacter
	HSRLightCone
	HSRCollabCharacter
	HSRCollabLightCone

	GenshinBeginner
	GenshinStandard
	GenshinCharacter
	GenshinWeapon
	GenshinChronicled

	ZZZStandard
	ZZZExclusive
	ZZZWEngine
	ZZZBangboo
)

// FirstHitPolicy decides how the first top-rarity hit of a guaranteed-mechanic
// category is counted, since the guarantee state before the history window is
// unknown.
type FirstHitPolicy uint8

const (
	FirstHitClassify FirstHitPolicy = iota
	FirstHitExclude
)

type categoryInfo struct {
	game       Game
	name       string
	guaranteed bool
	firstHit   FirstHitPolicy
	threshold  int
	ranked     bool
}

var categories = map[Category]categoryInfo{
	HSRStandard:        {game: GameHSR, name: "standard", threshold: 50, ranked: true},
	HSRDeparture:       {game: GameHSR, name: "departure", threshold: 50},
	HSRCharacter:       {game: GameHSR, name: "character", guaranteed: true, threshold: 100, ranked: true},
	HSRLightCone:       {game: GameHSR, name: "light_cone", guaranteed: true, threshold: 100, ranked: true},
	HSRCollabCharacter: {game: GameHSR, name: "collab_character", guaranteed: true, threshold: 100, ranked: true},
	HSRCollabLightCone: {game: GameHSR, name: "collab_light_cone", guaranteed: true, threshold: 100, ranked: true},

	GenshinBeginner:   {game: GameGenshin, name: "beginner", threshold: 50},
	GenshinStandard:   {game: GameGenshin, name: "standard", threshold: 50, ranked: true},
	GenshinCharacter:  {game: GameGenshin, name: "character", guaranteed: true, firstHit: FirstHitExclude, threshold: 100, ranked: true},
	GenshinWeapon:     {game: GameGenshin, name: "weapon", threshold: 100, ranked: true},
	GenshinChronicled: {game: GameGenshin, name: "chronicled", threshold: 100, ranked: true},

	ZZZStandard:  {game: GameZZZ, name: "standard", threshold: 50, ranked: true},
	ZZZExclusive: {game: GameZZZ, name: "exclusive", guaranteed: true, threshold: 100, ranked: true},
	ZZZWEngine:   {game: GameZZZ, name: "w_engine", guaranteed: true, threshold: 100, ranked: true},
	ZZZBangboo:   {game: GameZZZ, name: "bangboo", threshold: 50, ranked: true},
}

// categoryOrder is the fixed processing order per game.
var categoryOrder = map[Game][]Category{
	GameHSR:     {HSRStandard, HSRDeparture, HSRCharacter, HSRLightCone, HSRCollabCharacter, HSRCollabLightCone},
	GameGenshin: {GenshinBeginner, GenshinStandard, GenshinCharacter, GenshinWeapon, GenshinChronicled},
	GameZZZ:     {ZZZStandard, ZZZExclusive, ZZZWEngine, ZZZBangboo},
}

func Categories(g Game) []Category {
	out := make([]Category, len(categoryOrder[g]))
	copy(out, categoryOrder[g])
	return out
}

func AllCategories() []Category {
	var out []Category
	for _, g := range []Game{GameHSR, GameGenshin, GameZZZ} {
		out = append(out, categoryOrder[g]...)
	}
	return out
}

func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

func (c Category) Game() Game { return categories[c].game }

// String renders the category as "<game>_<pool>", the form stored in the database.
func (c Category) String() string {
	info, ok := categories[c]
	if !ok {
		return "unknown"
	}
	return string(info.game) + "_" + info.name
}

func (c Category) Guaranteed() bool { return categories[c].guaranteed }

func (c Category) FirstHitPolicy() FirstHitPolicy { return categories[c].firstHit }

// PercentileThreshold is the pull count an account must exceed to be ranked.
func (c Category) PercentileThreshold() int { return categories[c].threshold }

func (c Category) Ranked() bool { return categories[c].ranked }

func ParseCategory(s string) (Category, error) {
	for c := range categories {
		if c.String() == s {
			return c, nil
		}
	}
	return CategoryUnknown, fmt.Errorf("unknown category %q", s)
}
