package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"gacha-ledger/internal/adapter"
	"gacha-ledger/internal/api"
	"gacha-ledger/internal/archive"
	"gacha-ledger/internal/config"
	"gacha-ledger/internal/constants"
	"gacha-ledger/internal/domain"
	"gacha-ledger/internal/metrics"
	"gacha-ledger/internal/progress"
	"gacha-ledger/internal/repository"
)

type ImportMode int

const (
	ModeLive ImportMode = iota
	ModeDocument
)

func (m ImportMode) String() string {
	if m == ModeDocument {
		return "document"
	}
	return "live"
}

type SourceDescriptor struct {
	Game    domain.Game
	Format  adapter.Format
	AuthKey string
	Lang    string
}

type ImportRequest struct {
	AccountHint      string
	Source           SourceDescriptor
	Mode             ImportMode
	Document         []byte
	IgnoreTimestamps bool
}

// HistoryFetcher returns one raw page of official draw history.
type HistoryFetcher interface {
	FetchPage(ctx context.Context, req api.PageRequest) ([]byte, error)
}

type DocumentArchive interface {
	Store(ctx context.Context, doc archive.Document, data []byte) (string, error)
}

type importSettings struct {
	lang     string
	pageSize int
	retries  int
	backoff  time.Duration
}

type Importer struct {
	fetcher  HistoryFetcher
	pulls    *repository.PullRepository
	stats    *StatsService
	resolver adapter.Resolver
	tracker  *progress.Tracker
	archive  DocumentArchive
	metrics  *metrics.Manager
	settings importSettings
	logger   zerolog.Logger

	wg sync.WaitGroup
}

func NewImporter(
	cfg *config.Config,
	fetcher HistoryFetcher,
	pulls *repository.PullRepository,
	stats *StatsService,
	resolver adapter.Resolver,
	tracker *progress.Tracker,
	docs DocumentArchive,
	m *metrics.Manager,
	logger zerolog.Logger,
) *Importer {
	return &Importer{
		fetcher:  fetcher,
		pulls:    pulls,
		stats:    stats,
		resolver: resolver,
		tracker:  tracker,
		archive:  docs,
		metrics:  m,
		settings: importSettings{
			lang:     cfg.Lang,
			pageSize: cfg.PageSize,
			retries:  cfg.FetchRetries,
			backoff:  cfg.RetryBackoff,
		},
		logger: logger,
	}
}

// AccountKey identifies an import target before its uid is known: the
// caller's hint when given, otherwise a digest of the auth key or document.
func AccountKey(req ImportRequest) string {
	if req.AccountHint != "" {
		return string(req.Source.Game) + ":" + req.AccountHint
	}
	h := sha256.New()
	if req.Mode == ModeLive {
		h.Write([]byte(req.Source.AuthKey))
	} else {
		h.Write(req.Document)
	}
	return string(req.Source.Game) + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// StartImport validates the request, registers a job and runs it in the
// background. A second request for an account with an import in flight
// returns the running job's id.
func (i *Importer) StartImport(ctx context.Context, req ImportRequest) (string, error) {
	if _, err := domain.ParseGame(string(req.Source.Game)); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnsupportedFormat, err)
	}
	switch req.Mode {
	case ModeLive:
		if req.Source.Format != adapter.FormatOfficial {
			return "", fmt.Errorf("%w: live imports use the official format", domain.ErrUnsupportedFormat)
		}
		if req.Source.AuthKey == "" {
			return "", &domain.FormatError{Source: string(adapter.FormatOfficial), Msg: "auth key is required"}
		}
	case ModeDocument:
		if len(req.Document) == 0 {
			return "", &domain.FormatError{Source: string(req.Source.Format), Msg: "empty document"}
		}
	}
	ad, err := adapter.New(req.Source.Format, req.Source.Game, adapter.Options{AccountHint: req.AccountHint})
	if err != nil {
		return "", err
	}

	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate job id: %w", err)
	}
	provenance := domain.ProvenanceUserSupplied
	if req.Mode == ModeLive {
		provenance = domain.ProvenanceOfficial
	}

	job, created := i.tracker.Begin(domain.ImportJob{
		ID:         id,
		AccountKey: AccountKey(req),
		Game:       req.Source.Game,
		Provenance: provenance,
	})
	if !created {
		i.logger.Info().Str("job_id", job.ID).Str("account_key", job.AccountKey).Msg("import already in flight")
		return job.ID, nil
	}

	i.metrics.ImportStarted(req.Source.Game, req.Mode.String())
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		runCtx, cancel := context.WithTimeout(context.Background(), constants.ImportTimeout)
		defer cancel()
		i.run(runCtx, job, ad, req)
	}()
	return id, nil
}

// Wait blocks until every started import has reached a terminal status.
func (i *Importer) Wait() { i.wg.Wait() }

func (i *Importer) run(ctx context.Context, job domain.ImportJob, ad adapter.Adapter, req ImportRequest) {
	logger := i.logger.With().Str("job_id", job.ID).Str("game", string(job.Game)).Str("mode", req.Mode.String()).Logger()
	logger.Info().Msg("import started")

	var (
		accountID int64
		merged    []domain.Category
		err       error
	)
	if req.Mode == ModeLive {
		accountID, merged, err = i.runLive(ctx, job, ad, req)
	} else {
		i.archiveDocument(ctx, job, req, logger)
		accountID, merged, err = i.runDocument(ctx, job, ad, req)
	}
	if err != nil {
		logger.Error().Err(err).Int64("account_id", accountID).Msg("import failed")
	}

	if len(merged) > 0 {
		_ = i.tracker.Update(job.ID, func(j *domain.ImportJob) { j.Status = domain.StatusCalculating })
		for _, category := range merged {
			if _, statErr := i.stats.RecomputeAccount(ctx, accountID, category); statErr != nil {
				logger.Error().Err(statErr).Str("category", category.String()).Msg("failed to recompute stats")
				if err == nil {
					err = statErr
				}
			}
		}
	}

	_ = i.tracker.Finish(job.ID, err)
	status, reason := domain.StatusFinished, ""
	if err != nil {
		status, reason = domain.StatusError, domain.ReasonFor(err)
	}
	i.metrics.ImportFinished(status, reason)
	logger.Info().Int64("account_id", accountID).Str("status", string(status)).Str("reason", reason).Msg("import finished")
}

func (i *Importer) setProgress(jobID string, category domain.Category, p domain.CategoryProgress, accountID int64) {
	_ = i.tracker.Update(jobID, func(j *domain.ImportJob) {
		j.CurrentCategory = category
		j.Counters[category] = p
		if accountID != 0 {
			j.AccountID = accountID
		}
	})
}

func (i *Importer) mergeFunc(provenance domain.Provenance) func(context.Context, int64, domain.Category, []domain.Pull) (int, error) {
	return func(ctx context.Context, accountID int64, category domain.Category, pulls []domain.Pull) (int, error) {
		res, err := i.pulls.Merge(ctx, accountID, category, pulls, provenance)
		if err != nil {
			return 0, err
		}
		i.metrics.PullsMerged(category, res.Inserted, len(res.Violations))
		if len(res.Violations) > 0 {
			i.logger.Warn().Int64("account_id", accountID).Str("category", category.String()).
				Int("violations", len(res.Violations)).Msg("sequence and timestamp order disagree")
		}
		return res.Inserted, nil
	}
}

func (i *Importer) runLive(ctx context.Context, job domain.ImportJob, ad adapter.Adapter, req ImportRequest) (int64, []domain.Category, error) {
	lang := req.Source.Lang
	if lang == "" {
		lang = i.settings.lang
	}

	w := newCategoryWalker(domain.Categories(req.Source.Game), req.IgnoreTimestamps, walkerDeps{
		fetch: func(ctx context.Context, category domain.Category, cursor string) ([]adapter.RawPullEntry, error) {
			code, ok := adapter.QueryCode(category)
			if !ok {
				return nil, &domain.UnknownCategoryError{Source: string(adapter.FormatOfficial), Code: category.String()}
			}
			return i.fetchPage(ctx, ad, api.PageRequest{
				Game:      req.Source.Game,
				AuthKey:   req.Source.AuthKey,
				Lang:      lang,
				GachaType: code,
				Size:      i.settings.pageSize,
				EndID:     cursor,
			})
		},
		resolve: func(e adapter.RawPullEntry) (domain.Pull, error) {
			return adapter.ToPull(req.Source.Game, e, i.resolver)
		},
		latest: i.pulls.LatestTimestamp,
		merge:  i.mergeFunc(job.Provenance),
		progress: func(category domain.Category, p domain.CategoryProgress, accountID int64) {
			i.setProgress(job.ID, category, p, accountID)
		},
	})

	err := w.run(ctx)
	return w.accountID, w.merged, err
}

// fetchPage retries transport failures, 5xx answers and undecodable pages
// with a fixed backoff. Everything else (auth, category, 4xx, unknown game)
// is returned at once.
func (i *Importer) fetchPage(ctx context.Context, ad adapter.Adapter, req api.PageRequest) ([]adapter.RawPullEntry, error) {
	var lastErr error
	for attempt := 1; attempt <= i.settings.retries; attempt++ {
		start := time.Now()
		body, err := i.fetcher.FetchPage(ctx, req)
		i.metrics.ObservePageFetch(time.Since(start))
		if err == nil {
			entries, parseErr := ad.Parse(body)
			if parseErr == nil {
				return entries, nil
			}
			if !errors.Is(parseErr, adapter.ErrMalformedPage) {
				return nil, parseErr
			}
			err = parseErr
		} else if !api.Retryable(err) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err

		if attempt < i.settings.retries {
			i.metrics.PageFetchRetried()
			i.logger.Debug().Err(err).Int("attempt", attempt).Str("gacha_type", req.GachaType).Msg("retrying page fetch")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(i.settings.backoff):
			}
		}
	}
	return nil, &domain.TransientNetworkError{Attempts: i.settings.retries, Err: lastErr}
}

// runDocument resolves the whole document before merging anything, so an
// unknown category or item aborts with the ledger untouched.
func (i *Importer) runDocument(ctx context.Context, job domain.ImportJob, ad adapter.Adapter, req ImportRequest) (int64, []domain.Category, error) {
	entries, err := ad.Parse(req.Document)
	if err != nil {
		return 0, nil, err
	}

	var accountID int64
	byCategory := make(map[domain.Category][]domain.Pull)
	for _, e := range entries {
		if e.Category.Game() != req.Source.Game {
			return 0, nil, &domain.FormatError{Source: string(ad.Format()), Msg: fmt.Sprintf("entry %s is a %s pull", e.SourceID, e.Category.Game())}
		}
		pull, err := adapter.ToPull(req.Source.Game, e, i.resolver)
		if err != nil {
			return 0, nil, err
		}
		if accountID == 0 {
			accountID = pull.AccountID
		} else if pull.AccountID != accountID {
			return 0, nil, &domain.FormatError{Source: string(ad.Format()), Msg: "document mixes accounts " + strconv.FormatInt(accountID, 10) + " and " + strconv.FormatInt(pull.AccountID, 10)}
		}
		byCategory[e.Category] = append(byCategory[e.Category], pull)
	}

	var merged []domain.Category
	merge := i.mergeFunc(job.Provenance)
	for _, category := range domain.Categories(req.Source.Game) {
		pulls := byCategory[category]
		if len(pulls) == 0 {
			continue
		}

		if adapter.SynthesizesIDs(ad.Format()) {
			if pulls, err = i.reconcileSequence(ctx, accountID, category, pulls); err != nil {
				return accountID, merged, err
			}
		}

		fresh, err := i.newerThanLedger(ctx, accountID, category, pulls, req.IgnoreTimestamps)
		if err != nil {
			return accountID, merged, err
		}
		counter := domain.CategoryProgress{Pages: 1, Fetched: len(pulls)}
		i.setProgress(job.ID, category, counter, accountID)

		if len(fresh) > 0 {
			inserted, err := merge(ctx, accountID, category, fresh)
			if err != nil {
				return accountID, merged, fmt.Errorf("merging %s: %w", category, err)
			}
			counter.Inserted = inserted
			if inserted > 0 {
				merged = append(merged, category)
			}
		}
		counter.Done = true
		i.setProgress(job.ID, category, counter, accountID)
	}
	return accountID, merged, nil
}

type pullKey struct {
	unix int64
	item domain.ItemRef
}

// reconcileSequence replaces document-local sequence ids with ledger ones.
// A pull matching a stored pull by timestamp and item takes over its id, the
// k-th repeat of a key matching the k-th stored one. Unmatched pulls get ids
// after the ledger's highest, in document order.
func (i *Importer) reconcileSequence(ctx context.Context, accountID int64, category domain.Category, pulls []domain.Pull) ([]domain.Pull, error) {
	stored, err := i.pulls.List(ctx, accountID, category)
	if err != nil {
		return nil, err
	}

	var next int64 = 1
	known := make(map[pullKey][]int64, len(stored))
	for _, p := range stored {
		k := pullKey{unix: p.Timestamp.Unix(), item: p.Item}
		known[k] = append(known[k], p.SequenceID)
		if p.SequenceID >= next {
			next = p.SequenceID + 1
		}
	}

	out := make([]domain.Pull, len(pulls))
	copy(out, pulls)
	sort.SliceStable(out, func(a, b int) bool { return out[a].SequenceID < out[b].SequenceID })
	for n := range out {
		k := pullKey{unix: out[n].Timestamp.Unix(), item: out[n].Item}
		if ids := known[k]; len(ids) > 0 {
			out[n].SequenceID, known[k] = ids[0], ids[1:]
			continue
		}
		out[n].SequenceID = next
		next++
	}
	return out, nil
}

// newerThanLedger walks pulls newest first and keeps those strictly after
// the ledger's latest timestamp, returned oldest first.
func (i *Importer) newerThanLedger(ctx context.Context, accountID int64, category domain.Category, pulls []domain.Pull, ignoreTimestamps bool) ([]domain.Pull, error) {
	sort.Slice(pulls, func(a, b int) bool {
		if !pulls[a].Timestamp.Equal(pulls[b].Timestamp) {
			return pulls[a].Timestamp.After(pulls[b].Timestamp)
		}
		return pulls[a].SequenceID > pulls[b].SequenceID
	})

	fresh := pulls
	if !ignoreTimestamps {
		latest, ok, err := i.pulls.LatestTimestamp(ctx, accountID, category)
		if err != nil {
			return nil, err
		}
		if ok {
			cut := len(pulls)
			for n, p := range pulls {
				if !p.Timestamp.After(latest) {
					cut = n
					break
				}
			}
			fresh = pulls[:cut]
		}
	}

	out := make([]domain.Pull, len(fresh))
	copy(out, fresh)
	sort.Slice(out, func(a, b int) bool { return out[a].SequenceID < out[b].SequenceID })
	return out, nil
}

func (i *Importer) archiveDocument(ctx context.Context, job domain.ImportJob, req ImportRequest, logger zerolog.Logger) {
	if i.archive == nil {
		return
	}
	name, err := i.archive.Store(ctx, archive.Document{
		JobID:      job.ID,
		Game:       job.Game,
		Format:     string(req.Source.Format),
		AccountKey: job.AccountKey,
		ReceivedAt: job.StartedAt,
	}, req.Document)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to archive document")
		return
	}
	logger.Debug().Str("object", name).Msg("document archived")
}
