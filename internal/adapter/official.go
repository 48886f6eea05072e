package adapter

import (
	"encoding/json"
	"errors"
	"fmt"

	"gacha-ledger/internal/domain"
)

// ErrMalformedPage marks an upstream page that did not decode. The official
// API returns these intermittently, so callers may retry.
var ErrMalformedPage = errors.New("malformed page")

const retcodeAuthKeyTimeout = -101

type officialEntry struct {
	UID           flexString `json:"uid"`
	GachaType     flexString `json:"gacha_type"`
	RealGachaType flexString `json:"real_gacha_type"`
	UIGFGachaType flexString `json:"uigf_gacha_type"`
	ItemID        flexString `json:"item_id"`
	Time          string     `json:"time"`
	Name          string     `json:"name"`
	ItemType      string     `json:"item_type"`
	RankType      flexString `json:"rank_type"`
	ID            flexString `json:"id"`
}

type officialPage struct {
	Retcode int    `json:"retcode"`
	Message string `json:"message"`
	Data    *struct {
		List           []officialEntry `json:"list"`
		RegionTimeZone flexInt         `json:"region_time_zone"`
	} `json:"data"`
}

// Official parses one page of the getGachaLog endpoint. Entries come back
// newest first, as the API returns them.
type Official struct {
	game  domain.Game
	codes map[string]domain.Category
}

func NewOfficial(game domain.Game) *Official {
	return &Official{game: game, codes: officialCodes[game]}
}

func (o *Official) Format() Format    { return FormatOfficial }
func (o *Official) Game() domain.Game { return o.game }

func (o *Official) MapCategory(code string) (domain.Category, error) {
	return mapCode(FormatOfficial, o.codes, code)
}

func (o *Official) Parse(data []byte) ([]RawPullEntry, error) {
	var page officialPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, &domain.FormatError{Source: string(FormatOfficial), Msg: "undecodable page", Err: fmt.Errorf("%w: %v", ErrMalformedPage, err)}
	}

	switch {
	case page.Retcode == retcodeAuthKeyTimeout:
		return nil, fmt.Errorf("%w: %s", domain.ErrAuthKeyExpired, page.Message)
	case page.Retcode != 0:
		return nil, formatErr(FormatOfficial, "retcode %d: %s", page.Retcode, page.Message)
	case page.Data == nil:
		return nil, formatErr(FormatOfficial, "page has no data")
	}

	tz := page.Data.RegionTimeZone.Ptr()
	entries := make([]RawPullEntry, 0, len(page.Data.List))
	for i, e := range page.Data.List {
		code := e.RealGachaType.String()
		if code == "" {
			code = e.GachaType.String()
		}
		if e.ID == "" || e.Time == "" || code == "" || e.UID == "" {
			return nil, formatErr(FormatOfficial, "entry %d is missing id, time, uid or gacha_type", i)
		}
		if e.ItemID == "" && e.Name == "" {
			return nil, formatErr(FormatOfficial, "entry %s has neither item_id nor name", e.ID)
		}

		category, err := o.MapCategory(code)
		if err != nil {
			return nil, err
		}

		entries = append(entries, RawPullEntry{
			SourceID:        e.ID.String(),
			SourceItemID:    e.ItemID.String(),
			ItemTypeHint:    e.ItemType,
			Name:            e.Name,
			RawTimestamp:    e.Time,
			SourceAccountID: e.UID.String(),
			RegionHint:      tz,
			CategoryCode:    code,
			Category:        category,
		})
	}
	return entries, nil
}
