package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gacha-ledger/internal/domain"
)

type StatsRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewStatsRepository(sqlDB *sql.DB, logger zerolog.Logger) *StatsRepository {
	return &StatsRepository{db: sqlDB, logger: logger}
}

// UpsertAccountStat overwrites the previous aggregate for the same key.
func (r *StatsRepository) UpsertAccountStat(ctx context.Context, stat domain.AccountStat) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO account_stats (account_id, category, pull_count, avg_pulls_to_tier_a, avg_pulls_to_tier_b,
			win_rate, max_win_streak, max_loss_streak, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, category) DO UPDATE SET
			pull_count = excluded.pull_count,
			avg_pulls_to_tier_a = excluded.avg_pulls_to_tier_a,
			avg_pulls_to_tier_b = excluded.avg_pulls_to_tier_b,
			win_rate = excluded.win_rate,
			max_win_streak = excluded.max_win_streak,
			max_loss_streak = excluded.max_loss_streak,
			updated_at = excluded.updated_at`,
		stat.AccountID, stat.Category.String(), stat.Count,
		nullFloat(stat.AvgPullsToTierA), nullFloat(stat.AvgPullsToTierB), nullFloat(stat.WinRate),
		stat.MaxWinStreak, stat.MaxLossStreak, stat.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account stat: %w", err)
	}
	return nil
}

// GetAccountStat returns ok=false when nothing has been computed yet.
func (r *StatsRepository) GetAccountStat(ctx context.Context, accountID int64, category domain.Category) (domain.AccountStat, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT pull_count, avg_pulls_to_tier_a, avg_pulls_to_tier_b, win_rate, max_win_streak, max_loss_streak, updated_at
		FROM account_stats WHERE account_id = ? AND category = ?`, accountID, category.String())

	stat, err := scanAccountStat(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AccountStat{}, false, nil
	}
	if err != nil {
		return domain.AccountStat{}, false, fmt.Errorf("failed to read account stat: %w", err)
	}
	stat.AccountID = accountID
	stat.Category = category
	return stat, true, nil
}

// ListAccountStats loads every aggregate of a category for the percentile sweep.
func (r *StatsRepository) ListAccountStats(ctx context.Context, category domain.Category) ([]domain.AccountStat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, pull_count, avg_pulls_to_tier_a, avg_pulls_to_tier_b, win_rate, max_win_streak, max_loss_streak, updated_at
		FROM account_stats WHERE category = ?
		ORDER BY account_id`, category.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list account stats: %w", err)
	}
	defer rows.Close()

	var stats []domain.AccountStat
	for rows.Next() {
		var accountID int64
		stat, err := scanAccountStat(func(dest ...any) error {
			return rows.Scan(append([]any{&accountID}, dest...)...)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan account stat: %w", err)
		}
		stat.AccountID = accountID
		stat.Category = category
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}

func scanAccountStat(scan func(dest ...any) error) (domain.AccountStat, error) {
	var (
		stat             domain.AccountStat
		avgA, avgB, rate sql.NullFloat64
		updatedAt        int64
	)
	if err := scan(&stat.Count, &avgA, &avgB, &rate, &stat.MaxWinStreak, &stat.MaxLossStreak, &updatedAt); err != nil {
		return stat, err
	}
	stat.AvgPullsToTierA = floatPtr(avgA)
	stat.AvgPullsToTierB = floatPtr(avgB)
	stat.WinRate = floatPtr(rate)
	stat.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return stat, nil
}

// ReplacePercentiles swaps the whole category snapshot in one transaction.
func (r *StatsRepository) ReplacePercentiles(ctx context.Context, category domain.Category, percentiles map[int64]domain.GlobalPercentile) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM global_percentiles WHERE category = ?`, category.String()); err != nil {
		return fmt.Errorf("failed to clear percentiles: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO global_percentiles (account_id, category, count_percentile, tier_a_luck_percentile, tier_b_luck_percentile, computed_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare percentile insert: %w", err)
	}
	defer stmt.Close()

	for accountID, p := range percentiles {
		if _, err := stmt.ExecContext(ctx,
			accountID, category.String(), p.CountPercentile,
			nullFloat(p.TierALuckPercentile), nullFloat(p.TierBLuckPercentile), p.ComputedAt.Unix(),
		); err != nil {
			return fmt.Errorf("failed to insert percentile for %d: %w", accountID, err)
		}
	}

	return tx.Commit()
}

func (r *StatsRepository) GetPercentile(ctx context.Context, accountID int64, category domain.Category) (domain.GlobalPercentile, bool, error) {
	var (
		p          domain.GlobalPercentile
		tierA      sql.NullFloat64
		tierB      sql.NullFloat64
		computedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT count_percentile, tier_a_luck_percentile, tier_b_luck_percentile, computed_at
		FROM global_percentiles WHERE account_id = ? AND category = ?`,
		accountID, category.String()).Scan(&p.CountPercentile, &tierA, &tierB, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, false, nil
	}
	if err != nil {
		return p, false, fmt.Errorf("failed to read percentile: %w", err)
	}
	p.AccountID = accountID
	p.Category = category
	p.TierALuckPercentile = floatPtr(tierA)
	p.TierBLuckPercentile = floatPtr(tierB)
	p.ComputedAt = time.Unix(computedAt, 0).UTC()
	return p, true, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
