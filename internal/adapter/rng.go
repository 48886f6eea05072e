package adapter

import (
	"encoding/json"
	"sort"
	"strconv"

	"gacha-ledger/internal/domain"
)

var rngCodes = map[string]domain.Category{
	"1": domain.ZZZStandard,
	"2": domain.ZZZExclusive,
	"3": domain.ZZZWEngine,
	"5": domain.ZZZBangboo,
}

type rngSignal struct {
	UID       flexString `json:"uid"`
	ID        flexString `json:"id"`
	ItemID    flexString `json:"itemId"`
	GachaType flexString `json:"gachaType"`
	Timestamp flexString `json:"timestamp"`
}

type rngStore struct {
	Items map[string][]rngSignal `json:"items"`
}

type rngProfile struct {
	BindUID flexString          `json:"bindUid"`
	Stores  map[string]rngStore `json:"stores"`
}

type rngDocument struct {
	Data *struct {
		Profiles map[string]rngProfile `json:"profiles"`
	} `json:"data"`
}

// RNG reads the signal dump exported by the rng.moe Zenless Zone Zero
// tracker. Timestamps are unix milliseconds; items carry no type hint.
type RNG struct {
	opts Options
}

func NewRNG(opts Options) *RNG { return &RNG{opts: opts} }

func (r *RNG) Format() Format    { return FormatRNG }
func (r *RNG) Game() domain.Game { return domain.GameZZZ }

func (r *RNG) MapCategory(code string) (domain.Category, error) {
	return mapCode(FormatRNG, rngCodes, code)
}

func (r *RNG) Parse(data []byte) ([]RawPullEntry, error) {
	var doc rngDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domain.FormatError{Source: string(FormatRNG), Msg: "invalid json", Err: err}
	}
	if doc.Data == nil || len(doc.Data.Profiles) == 0 {
		return nil, formatErr(FormatRNG, "data.profiles is required")
	}

	profileKeys := make([]string, 0, len(doc.Data.Profiles))
	for k := range doc.Data.Profiles {
		profileKeys = append(profileKeys, k)
	}
	sort.Strings(profileKeys)
	profiles := make([]rngProfile, 0, len(profileKeys))
	for _, k := range profileKeys {
		profiles = append(profiles, doc.Data.Profiles[k])
	}

	profile, err := pickAccount(FormatRNG, profiles, r.opts.AccountHint, func(p rngProfile) string { return p.BindUID.String() })
	if err != nil {
		return nil, err
	}
	if profile.BindUID == "" {
		return nil, formatErr(FormatRNG, "profile bindUid is required")
	}

	storeKeys := make([]string, 0, len(profile.Stores))
	for k := range profile.Stores {
		storeKeys = append(storeKeys, k)
	}
	sort.Strings(storeKeys)

	var entries []RawPullEntry
	for _, sk := range storeKeys {
		store := profile.Stores[sk]

		codes := make([]string, 0, len(store.Items))
		for code := range store.Items {
			codes = append(codes, code)
		}
		sort.Slice(codes, func(i, j int) bool {
			a, _ := strconv.Atoi(codes[i])
			b, _ := strconv.Atoi(codes[j])
			return a < b
		})

		for _, code := range codes {
			category, err := r.MapCategory(code)
			if err != nil {
				return nil, err
			}
			for i, s := range store.Items[code] {
				if s.ID == "" || s.ItemID == "" || s.Timestamp == "" {
					return nil, formatErr(FormatRNG, "signal %d of type %s is missing id, itemId or timestamp", i, code)
				}
				account := profile.BindUID.String()
				if s.UID != "" && s.UID != profile.BindUID {
					return nil, formatErr(FormatRNG, "signal %s belongs to uid %s", s.ID, s.UID)
				}
				entries = append(entries, RawPullEntry{
					SourceID:        s.ID.String(),
					SourceItemID:    s.ItemID.String(),
					RawTimestamp:    s.Timestamp.String(),
					SourceAccountID: account,
					CategoryCode:    code,
					Category:        category,
				})
			}
		}
	}
	return entries, nil
}
