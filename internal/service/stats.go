package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gacha-ledger/internal/catalog"
	"gacha-ledger/internal/constants"
	"gacha-ledger/internal/domain"
	"gacha-ledger/internal/repository"
)

// Schedule answers whether a tierB hit on a guaranteed-mechanic banner was
// the featured item.
type Schedule interface {
	ActiveRateUpWindows(game domain.Game, ref domain.ItemRef) []catalog.TimeRange
	IsStandard(game domain.Game, ref domain.ItemRef) bool
}

type StatsService struct {
	pulls    *repository.PullRepository
	stats    *repository.StatsRepository
	schedule Schedule
	logger   zerolog.Logger
	now      func() time.Time
}

func NewStatsService(pulls *repository.PullRepository, stats *repository.StatsRepository, schedule Schedule, logger zerolog.Logger) *StatsService {
	return &StatsService{pulls: pulls, stats: stats, schedule: schedule, logger: logger, now: time.Now}
}

// RecomputeAccount rebuilds the account's stat for one category from the
// whole ledger and overwrites the stored value.
func (s *StatsService) RecomputeAccount(ctx context.Context, accountID int64, category domain.Category) (domain.AccountStat, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	pulls, err := s.pulls.List(ctx, accountID, category)
	if err != nil {
		return domain.AccountStat{}, fmt.Errorf("failed to load ledger: %w", err)
	}

	stat := ComputeAccountStat(category, pulls, s.schedule)
	stat.AccountID = accountID
	stat.UpdatedAt = s.now().UTC()

	if err := s.stats.UpsertAccountStat(ctx, stat); err != nil {
		return domain.AccountStat{}, err
	}

	s.logger.Debug().
		Int64("account_id", accountID).
		Str("category", category.String()).
		Int("count", stat.Count).
		Msg("account stat recomputed")
	return stat, nil
}

// pityCounter tracks one rarity tier's cycle lengths.
type pityCounter struct {
	since int
	sum   int
	hits  int
}

func (c *pityCounter) tick() { c.since++ }

func (c *pityCounter) hit() {
	c.sum += c.since
	c.hits++
	c.since = 0
}

func (c *pityCounter) average() *float64 {
	if c.hits == 0 {
		return nil
	}
	avg := float64(c.sum) / float64(c.hits)
	return &avg
}

type streaks struct {
	wins, attempts  int
	curWin, curLoss int
	maxWin, maxLoss int
}

func (s *streaks) record(won bool) {
	s.attempts++
	if won {
		s.wins++
		s.curWin++
		s.curLoss = 0
		s.maxWin = max(s.maxWin, s.curWin)
		return
	}
	s.curLoss++
	s.curWin = 0
	s.maxLoss = max(s.maxLoss, s.curLoss)
}

func (s *streaks) winRate() *float64 {
	if s.attempts == 0 {
		return nil
	}
	rate := float64(s.wins) / float64(s.attempts)
	return &rate
}

// ComputeAccountStat walks pulls in sequence order. A tierA hit is a pull of
// exactly the tierA rarity; tierB hits do not close the tierA cycle.
func ComputeAccountStat(category domain.Category, pulls []domain.Pull, schedule Schedule) domain.AccountStat {
	game := category.Game()
	var (
		tierA, tierB pityCounter
		results      streaks
		guarantee    bool
		seenTierB    bool
	)

	for _, p := range pulls {
		tierA.tick()
		tierB.tick()

		if p.Rarity == game.TierA() {
			tierA.hit()
		}
		if p.Rarity < game.TierB() {
			continue
		}
		tierB.hit()

		if !category.Guaranteed() {
			continue
		}
		first := !seenTierB
		seenTierB = true

		if guarantee {
			guarantee = false
			continue
		}
		lost := lostFiftyFifty(game, p, schedule)
		if lost {
			guarantee = true
		}
		if first && category.FirstHitPolicy() == domain.FirstHitExclude {
			continue
		}
		results.record(!lost)
	}

	stat := domain.AccountStat{
		Category:        category,
		Count:           len(pulls),
		AvgPullsToTierA: tierA.average(),
		AvgPullsToTierB: tierB.average(),
	}
	if category.Guaranteed() {
		stat.WinRate = results.winRate()
		stat.MaxWinStreak = results.maxWin
		stat.MaxLossStreak = results.maxLoss
	}
	return stat
}

// lostFiftyFifty treats denylisted items as losses. Items the schedule has
// no window for are judged by the denylist alone.
func lostFiftyFifty(game domain.Game, p domain.Pull, schedule Schedule) bool {
	if schedule.IsStandard(game, p.Item) {
		return true
	}
	windows := schedule.ActiveRateUpWindows(game, p.Item)
	if windows == nil {
		return false
	}
	for _, w := range windows {
		if w.Contains(p.Timestamp) {
			return false
		}
	}
	return true
}
