package adapter

import (
	"encoding/json"

	"gacha-ledger/internal/domain"
)

type srgfDocument struct {
	Info *struct {
		UID            flexString `json:"uid"`
		RegionTimeZone flexInt    `json:"region_time_zone"`
		SRGFVersion    string     `json:"srgf_version"`
	} `json:"info"`
	List []officialEntry `json:"list"`
}

// SRGF reads Star Rail Gacha Format exports.
type SRGF struct {
	codes map[string]domain.Category
}

func NewSRGF() *SRGF {
	return &SRGF{codes: officialCodes[domain.GameHSR]}
}

func (s *SRGF) Format() Format    { return FormatSRGF }
func (s *SRGF) Game() domain.Game { return domain.GameHSR }

func (s *SRGF) MapCategory(code string) (domain.Category, error) {
	return mapCode(FormatSRGF, s.codes, code)
}

func (s *SRGF) Parse(data []byte) ([]RawPullEntry, error) {
	var doc srgfDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domain.FormatError{Source: string(FormatSRGF), Msg: "invalid json", Err: err}
	}
	if doc.Info == nil || doc.Info.UID == "" {
		return nil, formatErr(FormatSRGF, "info.uid is required")
	}
	if doc.Info.SRGFVersion == "" {
		return nil, formatErr(FormatSRGF, "info.srgf_version is required")
	}

	return parseExportList(FormatSRGF, s, doc.List, doc.Info.UID.String(), doc.Info.RegionTimeZone.Ptr(), false)
}

// parseExportList handles the list layout shared by SRGF and UIGF, which
// mirror the official API entries. preferUIGF selects uigf_gacha_type over
// gacha_type when present.
func parseExportList(format Format, a Adapter, list []officialEntry, uid string, tz *int, preferUIGF bool) ([]RawPullEntry, error) {
	entries := make([]RawPullEntry, 0, len(list))
	for i, e := range list {
		code := e.GachaType.String()
		if e.RealGachaType != "" {
			code = e.RealGachaType.String()
		}
		if preferUIGF && e.UIGFGachaType != "" {
			code = e.UIGFGachaType.String()
		}
		if e.ID == "" || e.Time == "" || code == "" {
			return nil, formatErr(format, "entry %d is missing id, time or gacha_type", i)
		}
		if e.ItemID == "" && e.Name == "" {
			return nil, formatErr(format, "entry %s has neither item_id nor name", e.ID)
		}

		category, err := a.MapCategory(code)
		if err != nil {
			return nil, err
		}

		account := uid
		if e.UID != "" {
			account = e.UID.String()
		}
		if account != uid {
			return nil, formatErr(format, "entry %s belongs to uid %s, document is for %s", e.ID, account, uid)
		}

		entries = append(entries, RawPullEntry{
			SourceID:        e.ID.String(),
			SourceItemID:    e.ItemID.String(),
			ItemTypeHint:    e.ItemType,
			Name:            e.Name,
			RawTimestamp:    e.Time,
			SourceAccountID: account,
			RegionHint:      tz,
			CategoryCode:    code,
			Category:        category,
		})
	}
	return entries, nil
}
