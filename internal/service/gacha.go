package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"gacha-ledger/internal/constants"
	"gacha-ledger/internal/domain"
	"gacha-ledger/internal/progress"
	"gacha-ledger/internal/repository"
)

// GachaService is the surface exposed to callers: start and poll imports,
// and read the ledger and derived stats.
type GachaService struct {
	importer *Importer
	tracker  *progress.Tracker
	pulls    *repository.PullRepository
	stats    *repository.StatsRepository
	logger   zerolog.Logger
}

func NewGachaService(importer *Importer, tracker *progress.Tracker, pulls *repository.PullRepository, stats *repository.StatsRepository, logger zerolog.Logger) *GachaService {
	return &GachaService{importer: importer, tracker: tracker, pulls: pulls, stats: stats, logger: logger}
}

func (s *GachaService) StartImport(ctx context.Context, req ImportRequest) (string, error) {
	return s.importer.StartImport(ctx, req)
}

func (s *GachaService) Poll(jobID string) (domain.ImportJob, error) {
	return s.tracker.Poll(jobID)
}

// GetLedger returns the account's pulls in sequence order.
func (s *GachaService) GetLedger(ctx context.Context, accountID int64, category domain.Category) ([]domain.Pull, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	if !category.Valid() {
		return nil, fmt.Errorf("invalid category %d", category)
	}
	return s.pulls.List(ctx, accountID, category)
}

// GetAccountStat reports ok=false, not an error, when no stat exists yet.
func (s *GachaService) GetAccountStat(ctx context.Context, accountID int64, category domain.Category) (domain.AccountStat, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.stats.GetAccountStat(ctx, accountID, category)
}

func (s *GachaService) GetGlobalPercentile(ctx context.Context, accountID int64, category domain.Category) (domain.GlobalPercentile, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.stats.GetPercentile(ctx, accountID, category)
}

func (s *GachaService) GetViolations(ctx context.Context, accountID int64, category domain.Category) ([]domain.ConsistencyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.pulls.Violations(ctx, accountID, category)
}
