package adapter

import "gacha-ledger/internal/domain"

// Numeric gacha_type codes used by the official API and by the SRGF/UIGF
// exports derived from it.
var officialCodes = map[domain.Game]map[string]domain.Category{
	domain.GameHSR: {
		"1":  domain.HSRStandard,
		"2":  domain.HSRDeparture,
		"11": domain.HSRCharacter,
		"12": domain.HSRLightCone,
		"21": domain.HSRCollabCharacter,
		"22": domain.HSRCollabLightCone,
	},
	domain.GameGenshin: {
		"100": domain.GenshinBeginner,
		"200": domain.GenshinStandard,
		"301": domain.GenshinCharacter,
		"400": domain.GenshinCharacter,
		"302": domain.GenshinWeapon,
		"500": domain.GenshinChronicled,
	},
	domain.GameZZZ: {
		"1":    domain.ZZZStandard,
		"2":    domain.ZZZExclusive,
		"3":    domain.ZZZWEngine,
		"5":    domain.ZZZBangboo,
		"1001": domain.ZZZStandard,
		"2001": domain.ZZZExclusive,
		"2002": domain.ZZZExclusive,
		"3001": domain.ZZZWEngine,
		"3002": domain.ZZZWEngine,
		"5001": domain.ZZZBangboo,
	},
}

// QueryCodes lists the gacha_type values to request per category from the
// official API, in the game's processing order.
var queryCodes = map[domain.Category]string{
	domain.HSRStandard:        "1",
	domain.HSRDeparture:       "2",
	domain.HSRCharacter:       "11",
	domain.HSRLightCone:       "12",
	domain.HSRCollabCharacter: "21",
	domain.HSRCollabLightCone: "22",
	domain.GenshinBeginner:    "100",
	domain.GenshinStandard:    "200",
	domain.GenshinCharacter:   "301",
	domain.GenshinWeapon:      "302",
	domain.GenshinChronicled:  "500",
	domain.ZZZStandard:        "1",
	domain.ZZZExclusive:       "2",
	domain.ZZZWEngine:         "3",
	domain.ZZZBangboo:         "5",
}

// QueryCode returns the gacha_type to send upstream for a category.
func QueryCode(c domain.Category) (string, bool) {
	code, ok := queryCodes[c]
	return code, ok
}
