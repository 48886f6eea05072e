package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"gacha-ledger/internal/constants"
	"gacha-ledger/internal/domain"
)

// PullRepository is the canonical pull ledger. Rows are only ever inserted;
// an existing (account, category, sequence) key is left untouched.
type PullRepository struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

func NewPullRepository(sqlDB *sql.DB, logger zerolog.Logger) *PullRepository {
	return &PullRepository{
		db:     sqlDB,
		logger: logger.With().Str("component", "ledger").Logger(),
		now:    time.Now,
	}
}

type MergeResult struct {
	Inserted   int
	Violations []domain.ConsistencyViolation
}

const insertPull = `
INSERT INTO pulls (account_id, category, sequence_id, item_kind, item_id, rarity, pulled_at, provenance, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (account_id, category, sequence_id) DO NOTHING`

const insertViolation = `
INSERT INTO consistency_violations (account_id, category, earlier_seq, later_seq, earlier_time, later_time, detected_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`

// Merge inserts pulls for one (account, category) in a single transaction and
// reports how many were new. Pulls whose sequence order disagrees with their
// neighbours' timestamps are accepted and returned as violations.
func (r *PullRepository) Merge(ctx context.Context, accountID int64, category domain.Category, pulls []domain.Pull, provenance domain.Provenance) (MergeResult, error) {
	var result MergeResult
	if len(pulls) == 0 {
		return result, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertPull)
	if err != nil {
		return result, fmt.Errorf("failed to prepare pull insert: %w", err)
	}
	defer stmt.Close()

	createdAt := r.now().Unix()
	inserted := make([]domain.Pull, 0, len(pulls))

	for i := 0; i < len(pulls); i += constants.DBBatchSize {
		end := min(i+constants.DBBatchSize, len(pulls))

		for _, p := range pulls[i:end] {
			res, err := stmt.ExecContext(ctx,
				accountID, category.String(), p.SequenceID,
				string(p.Item.Kind), p.Item.ID, p.Rarity,
				p.Timestamp.UTC().Unix(), string(provenance), createdAt,
			)
			if err != nil {
				return result, fmt.Errorf("failed to insert pull %d: %w", p.SequenceID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return result, fmt.Errorf("failed to read rows affected: %w", err)
			}
			if n == 1 {
				inserted = append(inserted, p)
			}
		}
	}

	violations, err := r.checkOrdering(ctx, tx, accountID, category, inserted)
	if err != nil {
		return result, err
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit merge: %w", err)
	}

	result.Inserted = len(inserted)
	result.Violations = violations

	if len(violations) > 0 {
		r.logger.Warn().
			Int64("account_id", accountID).
			Str("category", category.String()).
			Int("violations", len(violations)).
			Msg("sequence order disagrees with timestamps")
	}
	return result, nil
}

type seqTime struct {
	seq int64
	at  int64
}

func (r *PullRepository) checkOrdering(ctx context.Context, tx *sql.Tx, accountID int64, category domain.Category, inserted []domain.Pull) ([]domain.ConsistencyViolation, error) {
	seen := make(map[[2]int64]bool)
	var violations []domain.ConsistencyViolation

	record := func(earlier, later seqTime) error {
		key := [2]int64{earlier.seq, later.seq}
		if seen[key] {
			return nil
		}
		seen[key] = true

		if _, err := tx.ExecContext(ctx, insertViolation,
			accountID, category.String(), earlier.seq, later.seq, earlier.at, later.at, r.now().Unix(),
		); err != nil {
			return fmt.Errorf("failed to record consistency violation: %w", err)
		}
		violations = append(violations, domain.ConsistencyViolation{
			AccountID:   accountID,
			Category:    category,
			EarlierSeq:  earlier.seq,
			LaterSeq:    later.seq,
			EarlierTime: time.Unix(earlier.at, 0).UTC(),
			LaterTime:   time.Unix(later.at, 0).UTC(),
		})
		return nil
	}

	for _, p := range inserted {
		cur := seqTime{seq: p.SequenceID, at: p.Timestamp.UTC().Unix()}

		prev, ok, err := neighbour(ctx, tx, `
			SELECT sequence_id, pulled_at FROM pulls
			WHERE account_id = ? AND category = ? AND sequence_id < ?
			ORDER BY sequence_id DESC LIMIT 1`, accountID, category, cur.seq)
		if err != nil {
			return nil, err
		}
		if ok && prev.at > cur.at {
			if err := record(prev, cur); err != nil {
				return nil, err
			}
		}

		next, ok, err := neighbour(ctx, tx, `
			SELECT sequence_id, pulled_at FROM pulls
			WHERE account_id = ? AND category = ? AND sequence_id > ?
			ORDER BY sequence_id ASC LIMIT 1`, accountID, category, cur.seq)
		if err != nil {
			return nil, err
		}
		if ok && next.at < cur.at {
			if err := record(cur, next); err != nil {
				return nil, err
			}
		}
	}
	return violations, nil
}

func neighbour(ctx context.Context, tx *sql.Tx, query string, accountID int64, category domain.Category, seq int64) (seqTime, bool, error) {
	var st seqTime
	err := tx.QueryRowContext(ctx, query, accountID, category.String(), seq).Scan(&st.seq, &st.at)
	if errors.Is(err, sql.ErrNoRows) {
		return st, false, nil
	}
	if err != nil {
		return st, false, fmt.Errorf("failed to read neighbouring pull: %w", err)
	}
	return st, true, nil
}

// List returns the ledger for one (account, category) in sequence order.
func (r *PullRepository) List(ctx context.Context, accountID int64, category domain.Category) ([]domain.Pull, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence_id, item_kind, item_id, rarity, pulled_at, provenance, created_at
		FROM pulls
		WHERE account_id = ? AND category = ?
		ORDER BY sequence_id ASC`, accountID, category.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list pulls: %w", err)
	}
	defer rows.Close()

	var pulls []domain.Pull
	for rows.Next() {
		var (
			p                   domain.Pull
			kind, prov          string
			pulledAt, createdAt int64
		)
		if err := rows.Scan(&p.SequenceID, &kind, &p.Item.ID, &p.Rarity, &pulledAt, &prov, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan pull: %w", err)
		}
		p.AccountID = accountID
		p.Category = category
		p.Item.Kind = domain.ItemKind(kind)
		p.Provenance = domain.Provenance(prov)
		p.Timestamp = time.Unix(pulledAt, 0).UTC()
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		pulls = append(pulls, p)
	}
	return pulls, rows.Err()
}

// LatestTimestamp reports the newest stored pull time; ok is false for an
// empty ledger.
func (r *PullRepository) LatestTimestamp(ctx context.Context, accountID int64, category domain.Category) (time.Time, bool, error) {
	var latest sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(pulled_at) FROM pulls WHERE account_id = ? AND category = ?`,
		accountID, category.String()).Scan(&latest)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read latest pull time: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(latest.Int64, 0).UTC(), true, nil
}

func (r *PullRepository) Count(ctx context.Context, accountID int64, category domain.Category) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pulls WHERE account_id = ? AND category = ?`,
		accountID, category.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pulls: %w", err)
	}
	return n, nil
}

func (r *PullRepository) Violations(ctx context.Context, accountID int64, category domain.Category) ([]domain.ConsistencyRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT earlier_seq, later_seq, earlier_time, later_time, detected_at
		FROM consistency_violations
		WHERE account_id = ? AND category = ?
		ORDER BY earlier_seq, later_seq`, accountID, category.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	var out []domain.ConsistencyRecord
	for rows.Next() {
		var (
			rec                            domain.ConsistencyRecord
			earlierAt, laterAt, detectedAt int64
		)
		if err := rows.Scan(&rec.EarlierSeq, &rec.LaterSeq, &earlierAt, &laterAt, &detectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		rec.AccountID = accountID
		rec.Category = category
		rec.EarlierTime = time.Unix(earlierAt, 0).UTC()
		rec.LaterTime = time.Unix(laterAt, 0).UTC()
		rec.DetectedAt = time.Unix(detectedAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
