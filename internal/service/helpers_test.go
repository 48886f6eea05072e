package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"gacha-ledger/internal/api"
	"gacha-ledger/internal/catalog"
	"gacha-ledger/internal/config"
	"gacha-ledger/internal/database"
	"gacha-ledger/internal/domain"
	"gacha-ledger/internal/metrics"
	"gacha-ledger/internal/progress"
	"gacha-ledger/internal/repository"
)

const hsrAccount int64 = 800000001

type fakeSchedule struct {
	standard map[int64]bool
	windows  map[int64][]catalog.TimeRange
}

func (f fakeSchedule) ActiveRateUpWindows(_ domain.Game, ref domain.ItemRef) []catalog.TimeRange {
	return f.windows[ref.ID]
}

func (f fakeSchedule) IsStandard(_ domain.Game, ref domain.ItemRef) bool {
	return f.standard[ref.ID]
}

type harness struct {
	db       *sql.DB
	cfg      *config.Config
	pulls    *repository.PullRepository
	stats    *repository.StatsRepository
	engine   *StatsService
	tracker  *progress.Tracker
	importer *Importer
	service  *GachaService
	fetcher  *fakeFetcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.Open(filepath.Join(t.TempDir(), "ledger.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.RetryBackoff = time.Millisecond
	cfg.PageSize = 2

	cat, err := catalog.New(cfg, logger)
	require.NoError(t, err)

	h := &harness{db: db, cfg: cfg, fetcher: newFakeFetcher()}
	h.pulls = repository.NewPullRepository(db, logger)
	h.stats = repository.NewStatsRepository(db, logger)
	h.engine = NewStatsService(h.pulls, h.stats, cat, logger)
	h.tracker = progress.New(time.Minute, logger)
	h.importer = NewImporter(cfg, h.fetcher, h.pulls, h.engine, cat, h.tracker, nil, metrics.NewManager(), logger)
	h.service = NewGachaService(h.importer, h.tracker, h.pulls, h.stats, logger)
	return h
}

// runImport starts an import and waits for it to reach a terminal status.
func (h *harness) runImport(t *testing.T, req ImportRequest) domain.ImportJob {
	t.Helper()
	id, err := h.service.StartImport(context.Background(), req)
	require.NoError(t, err)
	h.importer.Wait()
	job, err := h.service.Poll(id)
	require.NoError(t, err)
	return job
}

type officialEntry struct {
	UID       string `json:"uid"`
	GachaType string `json:"gacha_type"`
	ItemID    string `json:"item_id"`
	Time      string `json:"time"`
	Name      string `json:"name"`
	ItemType  string `json:"item_type"`
	RankType  string `json:"rank_type"`
	ID        string `json:"id"`
}

func officialPage(entries ...officialEntry) string {
	body := map[string]any{
		"retcode": 0,
		"message": "OK",
		"data":    map[string]any{"list": entries, "region_time_zone": 8},
	}
	if entries == nil {
		body["data"] = map[string]any{"list": []officialEntry{}, "region_time_zone": 8}
	}
	data, _ := json.Marshal(body)
	return string(data)
}

func seele(id, at string) officialEntry {
	return officialEntry{UID: "800000001", GachaType: "11", ItemID: "1102", Time: at, Name: "Seele", ItemType: "Character", RankType: "5", ID: id}
}

func filler(id, at string) officialEntry {
	return officialEntry{UID: "800000001", GachaType: "11", ItemID: "20000", Time: at, Name: "Arrows", ItemType: "Light Cone", RankType: "3", ID: id}
}

// fakeFetcher serves pages keyed by gacha type and end_id cursor. Unknown
// keys return an empty page.
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string][]error
	calls    []api.PageRequest
	gate     chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[string]string), failures: make(map[string][]error)}
}

func pageKey(gachaType, cursor string) string { return gachaType + "@" + cursor }

func (f *fakeFetcher) set(gachaType, cursor, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[pageKey(gachaType, cursor)] = body
}

// fail queues errors returned before the page itself is served.
func (f *fakeFetcher) fail(gachaType, cursor string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[pageKey(gachaType, cursor)] = append(f.failures[pageKey(gachaType, cursor)], errs...)
}

func (f *fakeFetcher) FetchPage(ctx context.Context, req api.PageRequest) ([]byte, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)

	key := pageKey(req.GachaType, req.EndID)
	if errs := f.failures[key]; len(errs) > 0 {
		f.failures[key] = errs[1:]
		if errs[0] != nil {
			return nil, errs[0]
		}
		return []byte("{not json"), nil
	}
	if body, ok := f.pages[key]; ok {
		return []byte(body), nil
	}
	return []byte(officialPage()), nil
}

func (f *fakeFetcher) requested(gachaType, cursor string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.GachaType == gachaType && c.EndID == cursor {
			n++
		}
	}
	return n
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err, fmt.Sprintf("bad time %q", s))
	return ts
}
