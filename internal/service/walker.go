package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"gacha-ledger/internal/adapter"
	"gacha-ledger/internal/domain"
)

type walkState int

const (
	stateFetching walkState = iota
	stateMerging
	stateNextCategory
	stateDone
)

func (s walkState) String() string {
	switch s {
	case stateFetching:
		return "fetching"
	case stateMerging:
		return "merging"
	case stateNextCategory:
		return "next_category"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// walkerDeps are the walker's collaborators. fetch already includes retries.
type walkerDeps struct {
	fetch    func(ctx context.Context, category domain.Category, cursor string) ([]adapter.RawPullEntry, error)
	resolve  func(e adapter.RawPullEntry) (domain.Pull, error)
	latest   func(ctx context.Context, accountID int64, category domain.Category) (time.Time, bool, error)
	merge    func(ctx context.Context, accountID int64, category domain.Category, pulls []domain.Pull) (int, error)
	progress func(category domain.Category, p domain.CategoryProgress, accountID int64)
}

// categoryWalker pages one game's categories backward through the live API.
// Each category is walked fully before its pulls are merged; categories are
// independent and a failure leaves earlier merges in place.
type categoryWalker struct {
	deps             walkerDeps
	categories       []domain.Category
	ignoreTimestamps bool

	idx       int
	state     walkState
	cursor    string
	accountID int64

	latest       time.Time
	hasLatest    bool
	latestLoaded bool

	pending []domain.Pull
	counter domain.CategoryProgress
	merged  []domain.Category
}

func newCategoryWalker(categories []domain.Category, ignoreTimestamps bool, deps walkerDeps) *categoryWalker {
	w := &categoryWalker{
		deps:             deps,
		categories:       categories,
		ignoreTimestamps: ignoreTimestamps,
	}
	if len(categories) == 0 {
		w.state = stateDone
	}
	return w
}

func (w *categoryWalker) category() domain.Category { return w.categories[w.idx] }

func (w *categoryWalker) run(ctx context.Context) error {
	for w.state != stateDone {
		if err := w.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// step performs exactly one transition.
func (w *categoryWalker) step(ctx context.Context) error {
	switch w.state {
	case stateFetching:
		return w.fetchPage(ctx)
	case stateMerging:
		return w.mergePending(ctx)
	case stateNextCategory:
		w.idx++
		if w.idx >= len(w.categories) {
			w.state = stateDone
			return nil
		}
		w.cursor = ""
		w.pending = nil
		w.counter = domain.CategoryProgress{}
		w.latestLoaded = false
		w.state = stateFetching
		return nil
	}
	return nil
}

func (w *categoryWalker) fetchPage(ctx context.Context) error {
	category := w.category()
	entries, err := w.deps.fetch(ctx, category, w.cursor)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", category, err)
	}
	w.counter.Pages++

	if len(entries) == 0 {
		w.state = stateMerging
		w.report()
		return nil
	}

	reachedKnown := false
	for _, e := range entries {
		if err := w.pinAccount(ctx, e); err != nil {
			return err
		}
		if e.Category != category {
			return &domain.FormatError{Source: string(adapter.FormatOfficial), Msg: fmt.Sprintf("entry %s belongs to %s while walking %s", e.SourceID, e.Category, category)}
		}

		// entries at or before the stored head are never resolved
		if !w.ignoreTimestamps && w.hasLatest {
			ts, err := adapter.ResolveTime(category.Game(), e)
			if err != nil {
				return err
			}
			if !ts.After(w.latest) {
				reachedKnown = true
				break
			}
		}

		pull, err := w.deps.resolve(e)
		if err != nil {
			return err
		}
		w.pending = append(w.pending, pull)
		w.counter.Fetched++
	}

	w.cursor = entries[len(entries)-1].SourceID
	if reachedKnown {
		w.state = stateMerging
	}
	w.report()
	return nil
}

// pinAccount fixes the account on the first entry seen and rejects entries
// for any other account afterwards.
func (w *categoryWalker) pinAccount(ctx context.Context, e adapter.RawPullEntry) error {
	uid, err := strconv.ParseInt(e.SourceAccountID, 10, 64)
	if err != nil {
		return &domain.FormatError{Source: string(adapter.FormatOfficial), Msg: fmt.Sprintf("non-numeric uid %q", e.SourceAccountID), Err: err}
	}
	if w.accountID == 0 {
		w.accountID = uid
	} else if uid != w.accountID {
		return &domain.FormatError{Source: string(adapter.FormatOfficial), Msg: fmt.Sprintf("page for uid %d while importing %d", uid, w.accountID)}
	}
	return w.loadLatest(ctx)
}

func (w *categoryWalker) loadLatest(ctx context.Context) error {
	if w.latestLoaded {
		return nil
	}
	latest, ok, err := w.deps.latest(ctx, w.accountID, w.category())
	if err != nil {
		return err
	}
	w.latest, w.hasLatest, w.latestLoaded = latest, ok, true
	return nil
}

func (w *categoryWalker) mergePending(ctx context.Context) error {
	category := w.category()
	if len(w.pending) > 0 {
		sort.Slice(w.pending, func(i, j int) bool { return w.pending[i].SequenceID < w.pending[j].SequenceID })
		inserted, err := w.deps.merge(ctx, w.accountID, category, w.pending)
		if err != nil {
			return fmt.Errorf("merging %s: %w", category, err)
		}
		w.counter.Inserted = inserted
		if inserted > 0 {
			w.merged = append(w.merged, category)
		}
	}
	w.counter.Done = true
	w.report()
	w.state = stateNextCategory
	return nil
}

func (w *categoryWalker) report() {
	if w.deps.progress != nil {
		w.deps.progress(w.category(), w.counter, w.accountID)
	}
}
