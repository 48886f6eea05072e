package adapter

import (
	"strconv"

	"gacha-ledger/internal/domain"
	"gacha-ledger/internal/textnorm"
)

var kindHints = map[string]domain.ItemKind{
	"character":  domain.ItemCharacter,
	"characters": domain.ItemCharacter,
	"agent":      domain.ItemCharacter,
	"agents":     domain.ItemCharacter,
	"角色":         domain.ItemCharacter,
	"代理人":        domain.ItemCharacter,
	"light cone": domain.ItemEquipment,
	"lightcone":  domain.ItemEquipment,
	"光锥":         domain.ItemEquipment,
	"weapon":     domain.ItemEquipment,
	"weapons":    domain.ItemEquipment,
	"武器":         domain.ItemEquipment,
	"w-engine":   domain.ItemEquipment,
	"w-engines":  domain.ItemEquipment,
	"音擎":         domain.ItemEquipment,
	"bangboo":    domain.ItemOther,
	"邦布":         domain.ItemOther,
}

// ResolveKind turns a source type hint into an item kind, falling back to
// the id-range heuristic when the hint is empty or unrecognized. It returns
// "" when neither is usable, leaving the catalog to decide by name.
func ResolveKind(game domain.Game, hint, sourceItemID string) domain.ItemKind {
	if k, ok := kindHints[textnorm.Key(hint)]; ok {
		return k
	}
	id, err := strconv.ParseInt(sourceItemID, 10, 64)
	if err != nil {
		return ""
	}
	return KindFromID(game, id)
}

// KindFromID classifies an item by its numeric id range. The ranges are a
// heuristic and misclassify ids the games add outside them.
func KindFromID(game domain.Game, id int64) domain.ItemKind {
	switch game {
	case domain.GameHSR:
		switch {
		case id > 0 && id < 10000:
			return domain.ItemCharacter
		case id >= 20000 && id < 30000:
			return domain.ItemEquipment
		}
	case domain.GameGenshin:
		switch {
		case id >= 10000000 && id < 20000000:
			return domain.ItemCharacter
		case id >= 10000 && id < 20000:
			return domain.ItemEquipment
		}
	case domain.GameZZZ:
		switch {
		case id >= 1000 && id < 2000:
			return domain.ItemCharacter
		case id >= 12000 && id < 15000:
			return domain.ItemEquipment
		}
	}
	return domain.ItemOther
}
