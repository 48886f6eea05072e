// Package catalog resolves source item identifiers into catalog references and
// answers rate-up schedule questions for the statistics engine.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"gacha-ledger/internal/config"
	"gacha-ledger/internal/domain"
	"gacha-ledger/internal/textnorm"
)

//go:embed data/catalog.yaml
var defaultCatalog []byte

type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

type itemData struct {
	ID     int64           `yaml:"id"`
	Name   string          `yaml:"name"`
	Kind   domain.ItemKind `yaml:"kind"`
	Rarity int             `yaml:"rarity"`
}

type bannerData struct {
	Items []int64   `yaml:"items"`
	Start time.Time `yaml:"start"`
	End   time.Time `yaml:"end"`
}

type gameData struct {
	Items    []itemData   `yaml:"items"`
	Standard []int64      `yaml:"standard"`
	Banners  []bannerData `yaml:"banners"`
}

type gameIndex struct {
	items    map[int64]itemData
	bySlug   map[string]int64
	standard map[int64]bool
	windows  map[int64][]TimeRange
}

// Static is an immutable in-memory catalog. It is safe for concurrent use.
type Static struct {
	games map[domain.Game]*gameIndex
}

// New loads the catalog file named in config, or the embedded default.
func New(cfg *config.Config, logger zerolog.Logger) (*Static, error) {
	data := defaultCatalog
	source := "embedded"
	if cfg.CatalogPath != "" {
		b, err := os.ReadFile(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog %s: %w", cfg.CatalogPath, err)
		}
		data, source = b, cfg.CatalogPath
	}

	c, err := Parse(data)
	if err != nil {
		return nil, err
	}

	ev := logger.Info().Str("source", source)
	for g, idx := range c.games {
		ev = ev.Int(string(g), len(idx.items))
	}
	ev.Msg("catalog loaded")
	return c, nil
}

func Parse(data []byte) (*Static, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw map[string]gameData
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	c := &Static{games: make(map[domain.Game]*gameIndex, len(raw))}
	for name, gd := range raw {
		game, err := domain.ParseGame(name)
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		idx, err := buildIndex(game, gd)
		if err != nil {
			return nil, err
		}
		c.games[game] = idx
	}
	return c, nil
}

func buildIndex(game domain.Game, gd gameData) (*gameIndex, error) {
	idx := &gameIndex{
		items:    make(map[int64]itemData, len(gd.Items)),
		bySlug:   make(map[string]int64, len(gd.Items)),
		standard: make(map[int64]bool, len(gd.Standard)),
		windows:  make(map[int64][]TimeRange),
	}
	for _, it := range gd.Items {
		if !it.Kind.Valid() {
			return nil, fmt.Errorf("catalog %s: item %d has invalid kind %q", game, it.ID, it.Kind)
		}
		if it.Rarity < 3 || it.Rarity > 5 {
			return nil, fmt.Errorf("catalog %s: item %d has invalid rarity %d", game, it.ID, it.Rarity)
		}
		if _, dup := idx.items[it.ID]; dup {
			return nil, fmt.Errorf("catalog %s: duplicate item %d", game, it.ID)
		}
		idx.items[it.ID] = it
		idx.bySlug[textnorm.Slug(it.Name)] = it.ID
	}
	for _, id := range gd.Standard {
		if _, ok := idx.items[id]; !ok {
			return nil, fmt.Errorf("catalog %s: standard item %d not in catalog", game, id)
		}
		idx.standard[id] = true
	}
	for _, b := range gd.Banners {
		if !b.End.After(b.Start) {
			return nil, fmt.Errorf("catalog %s: banner ending %s has no duration", game, b.End)
		}
		for _, id := range b.Items {
			idx.windows[id] = append(idx.windows[id], TimeRange{Start: b.Start, End: b.End})
		}
	}
	return idx, nil
}

// Resolve maps a source item id (or, when the id is not numeric, the item name
// or slug) to a catalog reference. kind may be empty when the source gave no
// usable hint; otherwise it must agree with the catalog.
func (c *Static) Resolve(game domain.Game, kind domain.ItemKind, sourceItemID, name string) (domain.ItemRef, error) {
	idx, ok := c.games[game]
	if !ok {
		return domain.ItemRef{}, &domain.CatalogLookupError{Game: game, ItemID: sourceItemID, Hint: string(kind)}
	}

	var (
		item  itemData
		found bool
	)
	if id, err := strconv.ParseInt(sourceItemID, 10, 64); err == nil {
		item, found = idx.items[id]
	} else {
		key := sourceItemID
		if key == "" {
			key = name
		}
		if id, ok := idx.bySlug[textnorm.Slug(key)]; ok {
			item, found = idx.items[id]
		}
	}

	if !found || (kind != "" && kind != item.Kind) {
		lookup := sourceItemID
		if lookup == "" {
			lookup = name
		}
		return domain.ItemRef{}, &domain.CatalogLookupError{Game: game, ItemID: lookup, Hint: string(kind)}
	}
	return domain.ItemRef{Kind: item.Kind, ID: item.ID}, nil
}

func (c *Static) ResolveRarity(game domain.Game, ref domain.ItemRef) (int, error) {
	if idx, ok := c.games[game]; ok {
		if item, ok := idx.items[ref.ID]; ok && item.Kind == ref.Kind {
			return item.Rarity, nil
		}
	}
	return 0, &domain.CatalogLookupError{Game: game, ItemID: strconv.FormatInt(ref.ID, 10), Hint: string(ref.Kind)}
}

// ActiveRateUpWindows returns nil when the schedule has no entry for the item.
func (c *Static) ActiveRateUpWindows(game domain.Game, ref domain.ItemRef) []TimeRange {
	idx, ok := c.games[game]
	if !ok {
		return nil
	}
	return idx.windows[ref.ID]
}

// IsStandard reports whether the item belongs to the permanent pool and so
// always counts as a lost 50/50.
func (c *Static) IsStandard(game domain.Game, ref domain.ItemRef) bool {
	idx, ok := c.games[game]
	return ok && idx.standard[ref.ID]
}
