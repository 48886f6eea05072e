package adapter

import (
	"encoding/json"
	"strings"

	"gacha-ledger/internal/domain"
	"gacha-ledger/internal/textnorm"
)

// Older Genshin exporters write the localized pool name into gacha_type
// instead of the numeric code. Keyed by textnorm.Key form.
var uigfPoolNames = map[string]domain.Category{
	"beginners' wish":        domain.GenshinBeginner,
	"novice wishes":          domain.GenshinBeginner,
	"standard wish":          domain.GenshinStandard,
	"permanent wish":         domain.GenshinStandard,
	"wanderlust invocation":  domain.GenshinStandard,
	"character event wish":   domain.GenshinCharacter,
	"character event wish-2": domain.GenshinCharacter,
	"weapon event wish":      domain.GenshinWeapon,
	"chronicled wish":        domain.GenshinChronicled,
	"新手祈愿":                   domain.GenshinBeginner,
	"常驻祈愿":                   domain.GenshinStandard,
	"角色活动祈愿":                 domain.GenshinCharacter,
	"角色活动祈愿-2":               domain.GenshinCharacter,
	"武器活动祈愿":                 domain.GenshinWeapon,
	"集录祈愿":                   domain.GenshinChronicled,
}

type uigfAccount struct {
	UID      flexString      `json:"uid"`
	Timezone flexInt         `json:"timezone"`
	List     []officialEntry `json:"list"`
}

type uigfDocument struct {
	Info *struct {
		UID            flexString `json:"uid"`
		RegionTimeZone flexInt    `json:"region_time_zone"`
		UIGFVersion    string     `json:"uigf_version"`
		Version        string     `json:"version"`
	} `json:"info"`

	// v2/v3 layout
	List []officialEntry `json:"list"`

	// v4 layout
	HK4E  []uigfAccount `json:"hk4e"`
	HKRPG []uigfAccount `json:"hkrpg"`
	NAP   []uigfAccount `json:"nap"`
}

// UIGF reads Uniformed Interchangeable GachaLog Format exports. v2 and v3
// carry one Genshin account; v4 carries any number of accounts per game.
type UIGF struct {
	game  domain.Game
	opts  Options
	codes map[string]domain.Category
}

func NewUIGF(game domain.Game, opts Options) *UIGF {
	return &UIGF{game: game, opts: opts, codes: officialCodes[game]}
}

func (u *UIGF) Format() Format    { return FormatUIGF }
func (u *UIGF) Game() domain.Game { return u.game }

// MapCategory accepts the numeric gacha_type or, for Genshin, a localized
// pool name.
func (u *UIGF) MapCategory(code string) (domain.Category, error) {
	key := textnorm.Key(code)
	if c, ok := u.codes[key]; ok {
		return c, nil
	}
	if u.game == domain.GameGenshin {
		if c, ok := uigfPoolNames[key]; ok {
			return c, nil
		}
	}
	return domain.CategoryUnknown, &domain.UnknownCategoryError{Source: string(FormatUIGF), Code: code}
}

func (u *UIGF) Parse(data []byte) ([]RawPullEntry, error) {
	var doc uigfDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domain.FormatError{Source: string(FormatUIGF), Msg: "invalid json", Err: err}
	}
	if doc.Info == nil {
		return nil, formatErr(FormatUIGF, "info is required")
	}

	if strings.HasPrefix(doc.Info.Version, "v4") {
		return u.parseV4(doc)
	}

	if doc.Info.UIGFVersion == "" {
		return nil, formatErr(FormatUIGF, "info.uigf_version or info.version is required")
	}
	if u.game != domain.GameGenshin {
		return nil, formatErr(FormatUIGF, "%s exports only carry genshin history", doc.Info.UIGFVersion)
	}
	if doc.Info.UID == "" {
		return nil, formatErr(FormatUIGF, "info.uid is required")
	}
	return parseExportList(FormatUIGF, u, doc.List, doc.Info.UID.String(), doc.Info.RegionTimeZone.Ptr(), true)
}

func (u *UIGF) parseV4(doc uigfDocument) ([]RawPullEntry, error) {
	var accounts []uigfAccount
	switch u.game {
	case domain.GameGenshin:
		accounts = doc.HK4E
	case domain.GameHSR:
		accounts = doc.HKRPG
	case domain.GameZZZ:
		accounts = doc.NAP
	}

	account, err := pickAccount(FormatUIGF, accounts, u.opts.AccountHint, func(a uigfAccount) string { return a.UID.String() })
	if err != nil {
		return nil, err
	}
	if account.UID == "" {
		return nil, formatErr(FormatUIGF, "account uid is required")
	}
	return parseExportList(FormatUIGF, u, account.List, account.UID.String(), account.Timezone.Ptr(), true)
}

// pickAccount selects the hinted account, or the only one present.
func pickAccount[T any](format Format, accounts []T, hint string, uid func(T) string) (T, error) {
	var zero T
	if hint != "" {
		for _, a := range accounts {
			if uid(a) == hint {
				return a, nil
			}
		}
		return zero, formatErr(format, "document has no account %s", hint)
	}
	switch len(accounts) {
	case 0:
		return zero, formatErr(format, "document has no accounts")
	case 1:
		return accounts[0], nil
	}
	return zero, formatErr(format, "document has %d accounts, an account hint is required", len(accounts))
}
