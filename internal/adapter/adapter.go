// Package adapter turns third-party gacha history documents into ordered raw
// pull entries, and normalizes those entries into ledger pulls.
package adapter

import (
	"fmt"
	"strconv"

	"gacha-ledger/internal/domain"
)

type Format string

const (
	FormatOfficial Format = "official"
	FormatSRGF     Format = "srgf"
	FormatUIGF     Format = "uigf"
	FormatPaimon   Format = "paimon"
	FormatPomKHR   Format = "pomkhr"
	FormatRNG      Format = "rng"
)

// RawPullEntry is one pull as the source described it, before catalog
// resolution. Category is already mapped from CategoryCode.
type RawPullEntry struct {
	SourceID        string
	SourceItemID    string
	ItemTypeHint    string
	Name            string
	RawTimestamp    string
	SourceAccountID string
	RegionHint      *int // UTC offset in hours, when the document states one
	CategoryCode    string
	Category        domain.Category
}

type Adapter interface {
	Format() Format
	Game() domain.Game
	// Parse reads a whole document. Unknown fields are ignored; missing
	// required fields fail with a FormatError and unmapped category codes
	// with an UnknownCategoryError.
	Parse(data []byte) ([]RawPullEntry, error)
	MapCategory(code string) (domain.Category, error)
}

// Options carries caller knowledge an adapter may need to pick one account
// out of a multi-account document.
type Options struct {
	AccountHint string
}

// New returns the adapter for a format and game.
func New(format Format, game domain.Game, opts Options) (Adapter, error) {
	switch format {
	case FormatOfficial:
		return NewOfficial(game), nil
	case FormatSRGF:
		if game != domain.GameHSR {
			break
		}
		return NewSRGF(), nil
	case FormatUIGF:
		return NewUIGF(game, opts), nil
	case FormatPaimon:
		if game != domain.GameGenshin {
			break
		}
		return NewPaimon(opts), nil
	case FormatPomKHR:
		if game != domain.GameHSR {
			break
		}
		return NewPomKHR(), nil
	case FormatRNG:
		if game != domain.GameZZZ {
			break
		}
		return NewRNG(opts), nil
	}
	return nil, fmt.Errorf("%w: %s for %s", domain.ErrUnsupportedFormat, format, game)
}

// SynthesizesIDs reports whether a format carries no pull ids of its own.
// Its sequence ids only order pulls within one document and must be
// reconciled with the ledger before merging.
func SynthesizesIDs(f Format) bool {
	return f == FormatPaimon
}

// Resolver is the catalog collaborator used by ToPull.
type Resolver interface {
	Resolve(game domain.Game, kind domain.ItemKind, sourceItemID, name string) (domain.ItemRef, error)
	ResolveRarity(game domain.Game, ref domain.ItemRef) (int, error)
}

// ToPull resolves a raw entry into a ledger pull. The item-kind heuristic is
// applied here and nowhere past this point.
func ToPull(game domain.Game, e RawPullEntry, r Resolver) (domain.Pull, error) {
	seq, err := strconv.ParseInt(e.SourceID, 10, 64)
	if err != nil {
		return domain.Pull{}, &domain.FormatError{Source: string(game), Msg: fmt.Sprintf("non-numeric pull id %q", e.SourceID), Err: err}
	}
	account, err := strconv.ParseInt(e.SourceAccountID, 10, 64)
	if err != nil {
		return domain.Pull{}, &domain.FormatError{Source: string(game), Msg: fmt.Sprintf("non-numeric account id %q", e.SourceAccountID), Err: err}
	}

	ts, err := ResolveTime(game, e)
	if err != nil {
		return domain.Pull{}, err
	}

	ref, err := r.Resolve(game, ResolveKind(game, e.ItemTypeHint, e.SourceItemID), e.SourceItemID, e.Name)
	if err != nil {
		return domain.Pull{}, err
	}
	rarity, err := r.ResolveRarity(game, ref)
	if err != nil {
		return domain.Pull{}, err
	}

	return domain.Pull{
		SequenceID: seq,
		AccountID:  account,
		Category:   e.Category,
		Item:       ref,
		Rarity:     rarity,
		Timestamp:  ts,
	}, nil
}

func formatErr(source Format, msg string, args ...any) error {
	return &domain.FormatError{Source: string(source), Msg: fmt.Sprintf(msg, args...)}
}

func mapCode(source Format, codes map[string]domain.Category, code string) (domain.Category, error) {
	if c, ok := codes[code]; ok {
		return c, nil
	}
	return domain.CategoryUnknown, &domain.UnknownCategoryError{Source: string(source), Code: code}
}
