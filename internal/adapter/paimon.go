package adapter

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"gacha-ledger/internal/domain"
	"gacha-ledger/internal/textnorm"
)

const paimonCounterPrefix = "wish-counter-"

var paimonCodes = map[string]domain.Category{
	"wish-counter-beginners":       domain.GenshinBeginner,
	"wish-counter-standard":        domain.GenshinStandard,
	"wish-counter-character-event": domain.GenshinCharacter,
	"wish-counter-weapon-event":    domain.GenshinWeapon,
	"wish-counter-chronicled":      domain.GenshinChronicled,
}

type paimonPull struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Time string `json:"time"`
}

type paimonCounter struct {
	Pulls []paimonPull `json:"pulls"`
}

// Paimon reads paimon.moe backups. The export has no pull ids, so ids are
// synthesized from the wall-clock time and the order of pulls sharing that
// second, which is stable across re-exports of the same history.
type Paimon struct {
	opts Options
}

func NewPaimon(opts Options) *Paimon {
	return &Paimon{opts: opts}
}

func (p *Paimon) Format() Format    { return FormatPaimon }
func (p *Paimon) Game() domain.Game { return domain.GameGenshin }

func (p *Paimon) MapCategory(code string) (domain.Category, error) {
	return mapCode(FormatPaimon, paimonCodes, textnorm.Key(code))
}

func (p *Paimon) Parse(data []byte) ([]RawPullEntry, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domain.FormatError{Source: string(FormatPaimon), Msg: "invalid json", Err: err}
	}

	uid := p.opts.AccountHint
	if raw, ok := doc["wish-uid"]; ok {
		var docUID flexString
		if err := json.Unmarshal(raw, &docUID); err != nil {
			return nil, &domain.FormatError{Source: string(FormatPaimon), Msg: "invalid wish-uid", Err: err}
		}
		if docUID != "" {
			if uid != "" && uid != docUID.String() {
				return nil, formatErr(FormatPaimon, "document is for uid %s, not %s", docUID, uid)
			}
			uid = docUID.String()
		}
	}
	if uid == "" {
		return nil, formatErr(FormatPaimon, "wish-uid missing and no account hint given")
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		if strings.HasPrefix(k, paimonCounterPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var entries []RawPullEntry
	for _, key := range keys {
		category, err := p.MapCategory(key)
		if err != nil {
			return nil, err
		}

		var counter paimonCounter
		if err := json.Unmarshal(doc[key], &counter); err != nil {
			return nil, &domain.FormatError{Source: string(FormatPaimon), Msg: key, Err: err}
		}

		var (
			lastSecond int64
			ordinal    int64
		)
		for i, pull := range counter.Pulls {
			if pull.ID == "" || pull.Time == "" {
				return nil, formatErr(FormatPaimon, "%s pull %d is missing id or time", key, i)
			}
			wall, err := time.Parse(timeLayout, pull.Time)
			if err != nil {
				return nil, &domain.FormatError{Source: string(FormatPaimon), Msg: "bad time " + pull.Time, Err: err}
			}
			second := wall.Unix()
			if second == lastSecond {
				ordinal++
			} else {
				lastSecond, ordinal = second, 0
			}

			entries = append(entries, RawPullEntry{
				SourceID:        strconv.FormatInt(second*1000+ordinal, 10),
				SourceItemID:    pull.ID,
				ItemTypeHint:    pull.Type,
				RawTimestamp:    pull.Time,
				SourceAccountID: uid,
				CategoryCode:    key,
				Category:        category,
			})
		}
	}
	return entries, nil
}
