package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gacha-ledger/internal/domain"
)

// RecomputeGlobalPercentiles ranks every eligible account in the category
// and replaces the stored batch. Unranked categories return an empty result
// and leave storage untouched.
func (s *StatsService) RecomputeGlobalPercentiles(ctx context.Context, category domain.Category) (map[int64]domain.GlobalPercentile, error) {
	if !category.Ranked() {
		return map[int64]domain.GlobalPercentile{}, nil
	}

	stats, err := s.stats.ListAccountStats(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s stats: %w", category, err)
	}

	result := ComputePercentiles(category, stats, s.now().UTC())
	if err := s.stats.ReplacePercentiles(ctx, category, result); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("category", category.String()).
		Int("population", len(stats)).
		Int("ranked", len(result)).
		Msg("global percentiles recomputed")
	return result, nil
}

// Eligible reports whether an account stat takes part in ranking. A zero or
// missing tierB average means no data, not perfect luck.
func Eligible(stat domain.AccountStat) bool {
	return stat.Count > stat.Category.PercentileThreshold() &&
		stat.AvgPullsToTierB != nil && *stat.AvgPullsToTierB != 0
}

// ComputePercentiles ranks each metric independently in ascending order:
// more pulls rank higher for count, lower pity ranks lower for luck.
func ComputePercentiles(category domain.Category, stats []domain.AccountStat, at time.Time) map[int64]domain.GlobalPercentile {
	var eligible []domain.AccountStat
	for _, st := range stats {
		if Eligible(st) {
			eligible = append(eligible, st)
		}
	}

	counts := make(map[int64]float64, len(eligible))
	tierA := make(map[int64]float64, len(eligible))
	tierB := make(map[int64]float64, len(eligible))
	for _, st := range eligible {
		counts[st.AccountID] = float64(st.Count)
		tierB[st.AccountID] = *st.AvgPullsToTierB
		if st.AvgPullsToTierA != nil {
			tierA[st.AccountID] = *st.AvgPullsToTierA
		}
	}
	countRank := percentRank(counts)
	tierARank := percentRank(tierA)
	tierBRank := percentRank(tierB)

	result := make(map[int64]domain.GlobalPercentile, len(eligible))
	for _, st := range eligible {
		gp := domain.GlobalPercentile{
			AccountID:       st.AccountID,
			Category:        category,
			CountPercentile: countRank[st.AccountID],
			ComputedAt:      at,
		}
		if v, ok := tierARank[st.AccountID]; ok {
			gp.TierALuckPercentile = &v
		}
		v := tierBRank[st.AccountID]
		gp.TierBLuckPercentile = &v
		result[st.AccountID] = gp
	}
	return result
}

// percentRank maps each key to (rank-1)/(n-1) where rank is 1 + the number
// of strictly smaller values. Ties share a rank; a single value ranks 0.
func percentRank(values map[int64]float64) map[int64]float64 {
	n := len(values)
	out := make(map[int64]float64, n)
	if n == 0 {
		return out
	}

	sorted := make([]float64, 0, n)
	for _, v := range values {
		sorted = append(sorted, v)
	}
	sort.Float64s(sorted)

	for id, v := range values {
		if n == 1 {
			out[id] = 0
			continue
		}
		smaller := sort.SearchFloat64s(sorted, v)
		out[id] = float64(smaller) / float64(n-1)
	}
	return out
}
