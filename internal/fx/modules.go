package fx

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"gacha-ledger/internal/adapter"
	"gacha-ledger/internal/api"
	"gacha-ledger/internal/archive"
	"gacha-ledger/internal/cache"
	"gacha-ledger/internal/catalog"
	"gacha-ledger/internal/config"
	"gacha-ledger/internal/constants"
	"gacha-ledger/internal/database"
	"gacha-ledger/internal/logger"
	"gacha-ledger/internal/metrics"
	"gacha-ledger/internal/progress"
	"gacha-ledger/internal/repository"
	"gacha-ledger/internal/server"
	"gacha-ledger/internal/service"
)

// ProvideConfig loads configuration with a bootstrap logger, since the
// process logger's level comes from the config itself.
func ProvideConfig() (*config.Config, error) {
	return config.Load(logger.New())
}

func ProvideDatabase(lc fx.Lifecycle, cfg *config.Config, logger zerolog.Logger) (*sql.DB, error) {
	db, err := database.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() {
		if err := db.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing database connection")
		}
	}))
	return db, nil
}

func ProvideSchedule(c *catalog.Static) service.Schedule { return c }

func ProvideResolver(c *catalog.Static) adapter.Resolver { return c }

func ProvideFetcher(cfg *config.Config) service.HistoryFetcher {
	return api.NewGachaClientFromConfig(cfg)
}

// ProvideArchive returns nil when no archive endpoint is configured.
func ProvideArchive(lc fx.Lifecycle, cfg *config.Config, logger zerolog.Logger) (*archive.Archive, error) {
	if cfg.ArchiveEndpoint == "" {
		return nil, nil
	}
	client, err := archive.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	a := archive.New(client, cfg.ArchiveBucket, logger)
	lc.Append(fx.StartHook(a.EnsureBucket))
	return a, nil
}

func ProvideDocumentArchive(a *archive.Archive) service.DocumentArchive {
	if a == nil {
		return nil
	}
	return a
}

// ProvidePublisher returns nil when no redis address is configured.
func ProvidePublisher(lc fx.Lifecycle, cfg *config.Config, logger zerolog.Logger) (service.PercentilePublisher, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.ExternalAPITimeout)
	defer cancel()
	client, err := cache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("publishing percentiles to redis")

	publisher := cache.NewRedisPublisher(client, cfg.RedisTTL)
	lc.Append(fx.StopHook(publisher.Close))
	return publisher, nil
}

func ProvideSweeper(cfg *config.Config, stats *service.StatsService, publisher service.PercentilePublisher, m *metrics.Manager, logger zerolog.Logger) *service.Sweeper {
	return service.NewSweeper(stats, publisher, m, cfg.SweepInterval, cfg.SweepTimeout, logger)
}

func ProvideJobStream(svc *service.GachaService, logger zerolog.Logger) *server.JobStream {
	return server.NewJobStream(svc, logger)
}

var Module = fx.Options(
	fx.Provide(ProvideConfig),
	logger.Module,
	fx.Provide(ProvideDatabase),
	metrics.Module,
	progress.Module,
	// catalog
	fx.Provide(catalog.New),
	fx.Provide(ProvideSchedule),
	fx.Provide(ProvideResolver),
	// repos
	fx.Provide(repository.NewPullRepository),
	fx.Provide(repository.NewStatsRepository),
	// external
	fx.Provide(ProvideFetcher),
	fx.Provide(ProvideArchive),
	fx.Provide(ProvideDocumentArchive),
	fx.Provide(ProvidePublisher),
	// svc
	fx.Provide(service.NewStatsService),
	fx.Provide(service.NewImporter),
	fx.Provide(service.NewGachaService),
	fx.Provide(ProvideSweeper),
	// server
	fx.Provide(server.NewGachaServer),
	fx.Provide(ProvideJobStream),
	fx.Provide(server.NewRouter),
)
