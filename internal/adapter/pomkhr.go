package adapter

import (
	"encoding/json"
	"sort"

	"gacha-ledger/internal/domain"
	"gacha-ledger/internal/textnorm"
)

// Pool names as written by PomKHR, keyed by their textnorm.Key form.
var pomkhrCodes = map[string]domain.Category{
	"stellar warp":                  domain.HSRStandard,
	"departure warp":                domain.HSRDeparture,
	"character event warp":          domain.HSRCharacter,
	"light cone event warp":         domain.HSRLightCone,
	"character collaboration warp":  domain.HSRCollabCharacter,
	"light cone collaboration warp": domain.HSRCollabLightCone,
	"群星跃迁":                          domain.HSRStandard,
	"始发跃迁":                          domain.HSRDeparture,
	"角色活动跃迁":                        domain.HSRCharacter,
	"光锥活动跃迁":                        domain.HSRLightCone,
}

type pomkhrWarp struct {
	ID     flexString `json:"id"`
	ItemID flexString `json:"item_id"`
	Type   string     `json:"type"`
	Name   string     `json:"name"`
	Time   string     `json:"time"`
}

type pomkhrDocument struct {
	Version  flexInt                 `json:"version"`
	UID      flexString              `json:"uid"`
	Timezone flexInt                 `json:"timezone"`
	Warps    map[string][]pomkhrWarp `json:"warps"`
}

// PomKHR reads the PomKHR Star Rail warp export, which groups warps by
// localized pool name.
type PomKHR struct{}

func NewPomKHR() *PomKHR { return &PomKHR{} }

func (p *PomKHR) Format() Format    { return FormatPomKHR }
func (p *PomKHR) Game() domain.Game { return domain.GameHSR }

func (p *PomKHR) MapCategory(code string) (domain.Category, error) {
	return mapCode(FormatPomKHR, pomkhrCodes, textnorm.Key(code))
}

func (p *PomKHR) Parse(data []byte) ([]RawPullEntry, error) {
	var doc pomkhrDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domain.FormatError{Source: string(FormatPomKHR), Msg: "invalid json", Err: err}
	}
	if !doc.Version.Set {
		return nil, formatErr(FormatPomKHR, "version is required")
	}
	if doc.UID == "" {
		return nil, formatErr(FormatPomKHR, "uid is required")
	}
	if doc.Warps == nil {
		return nil, formatErr(FormatPomKHR, "warps is required")
	}

	pools := make([]string, 0, len(doc.Warps))
	for name := range doc.Warps {
		pools = append(pools, name)
	}
	sort.Strings(pools)

	tz := doc.Timezone.Ptr()
	var entries []RawPullEntry
	for _, pool := range pools {
		category, err := p.MapCategory(pool)
		if err != nil {
			return nil, err
		}
		for i, w := range doc.Warps[pool] {
			if w.ID == "" || w.Time == "" || (w.ItemID == "" && w.Name == "") {
				return nil, formatErr(FormatPomKHR, "%s warp %d is missing id, time or item", pool, i)
			}
			entries = append(entries, RawPullEntry{
				SourceID:        w.ID.String(),
				SourceItemID:    w.ItemID.String(),
				ItemTypeHint:    w.Type,
				Name:            w.Name,
				RawTimestamp:    w.Time,
				SourceAccountID: doc.UID.String(),
				RegionHint:      tz,
				CategoryCode:    pool,
				Category:        category,
			})
		}
	}
	return entries, nil
}
