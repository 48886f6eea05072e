package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gacha-ledger/internal/adapter"
	"gacha-ledger/internal/domain"
)

const srgfDoc = `{
  "info": {"srgf_version": "v1.0", "uid": "800000001", "lang": "en-us", "region_time_zone": 8},
  "list": [
    {"gacha_id": "1001", "gacha_type": "1", "item_id": "1003", "time": "2023-06-01 10:00:00", "name": "Himeko", "item_type": "Character", "rank_type": "5", "id": "1685600000000000001"},
    {"gacha_id": "2001", "gacha_type": "11", "item_id": "20000", "time": "2023-05-01 10:00:00", "name": "Arrows", "item_type": "Light Cone", "rank_type": "3", "id": "1685600000000000002"},
    {"gacha_id": "2001", "gacha_type": "11", "item_id": "1102", "time": "2023-05-01 10:01:00", "name": "Seele", "item_type": "Character", "rank_type": "5", "id": "1685600000000000003"}
  ]
}`

const srgfUnknownCategory = `{
  "info": {"srgf_version": "v1.0", "uid": "800000001", "region_time_zone": 8},
  "list": [
    {"gacha_type": "1", "item_id": "1003", "time": "2023-06-01 10:00:00", "item_type": "Character", "id": "1685600000000000001"},
    {"gacha_type": "99", "item_id": "1102", "time": "2023-06-01 10:05:00", "item_type": "Character", "id": "1685600000000000002"}
  ]
}`

const srgfUnknownItem = `{
  "info": {"srgf_version": "v1.0", "uid": "800000001", "region_time_zone": 8},
  "list": [
    {"gacha_type": "1", "item_id": "1003", "time": "2023-06-01 10:00:00", "item_type": "Character", "id": "1685600000000000001"},
    {"gacha_type": "11", "item_id": "1999", "time": "2023-06-01 10:05:00", "item_type": "Character", "id": "1685600000000000002"}
  ]
}`

func documentRequest(doc string) ImportRequest {
	return ImportRequest{
		Source:   SourceDescriptor{Game: domain.GameHSR, Format: adapter.FormatSRGF},
		Mode:     ModeDocument,
		Document: []byte(doc),
	}
}

func TestDocumentImport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := h.runImport(t, documentRequest(srgfDoc))
	require.Equal(t, domain.StatusFinished, job.Status, job.Reason)
	assert.Equal(t, domain.ProvenanceUserSupplied, job.Provenance)
	assert.Equal(t, hsrAccount, job.AccountID)
	assert.Equal(t, 1, job.Counters[domain.HSRStandard].Inserted)
	assert.Equal(t, 2, job.Counters[domain.HSRCharacter].Inserted)

	pulls, err := h.service.GetLedger(ctx, hsrAccount, domain.HSRCharacter)
	require.NoError(t, err)
	require.Len(t, pulls, 2)
	assert.Equal(t, domain.ProvenanceUserSupplied, pulls[0].Provenance)
	assert.True(t, pulls[0].SequenceID < pulls[1].SequenceID)

	stat, ok, err := h.service.GetAccountStat(ctx, hsrAccount, domain.HSRCharacter)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, *stat.AvgPullsToTierB)
}

func TestDocumentImportIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Equal(t, domain.StatusFinished, h.runImport(t, documentRequest(srgfDoc)).Status)
	before, err := h.pulls.List(ctx, hsrAccount, domain.HSRCharacter)
	require.NoError(t, err)

	req := documentRequest(srgfDoc)
	req.IgnoreTimestamps = true
	again := h.runImport(t, req)
	require.Equal(t, domain.StatusFinished, again.Status)
	assert.Equal(t, 0, again.Counters[domain.HSRCharacter].Inserted)
	assert.Equal(t, 0, again.Counters[domain.HSRStandard].Inserted)

	after, err := h.pulls.List(ctx, hsrAccount, domain.HSRCharacter)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDocumentImportFailsFastOnUnknownCategory(t *testing.T) {
	h := newHarness(t)

	job := h.runImport(t, documentRequest(srgfUnknownCategory))
	assert.Equal(t, domain.StatusError, job.Status)
	assert.Equal(t, domain.ReasonUnknownCategory, job.Reason)
	assertLedgerEmpty(t, h)
}

func TestDocumentImportFailsFastOnUnknownItem(t *testing.T) {
	h := newHarness(t)

	job := h.runImport(t, documentRequest(srgfUnknownItem))
	assert.Equal(t, domain.StatusError, job.Status)
	assert.Equal(t, domain.ReasonCatalogLookup, job.Reason)
	assertLedgerEmpty(t, h)
}

func assertLedgerEmpty(t *testing.T, h *harness) {
	t.Helper()
	for _, c := range domain.Categories(domain.GameHSR) {
		n, err := h.pulls.Count(context.Background(), hsrAccount, c)
		require.NoError(t, err)
		assert.Zero(t, n, c.String())
	}
}

func TestNewerThanLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pulls := rarities(domain.HSRStandard, 3, 3, 3, 3)
	for i := range pulls {
		pulls[i].AccountID = hsrAccount
	}
	_, err := h.pulls.Merge(ctx, hsrAccount, domain.HSRStandard, pulls[:2], domain.ProvenanceOfficial)
	require.NoError(t, err)

	fresh, err := h.importer.newerThanLedger(ctx, hsrAccount, domain.HSRStandard, append([]domain.Pull(nil), pulls...), false)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.Equal(t, int64(3), fresh[0].SequenceID, "returned oldest first")

	all, err := h.importer.newerThanLedger(ctx, hsrAccount, domain.HSRStandard, append([]domain.Pull(nil), pulls...), true)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

const paimonDoc = `{
  "wish-uid": "800000004",
  "wish-counter-character-event": {
    "pulls": [
      {"type": "character", "id": "bennett", "time": "2021-09-01 12:00:00"},
      {"type": "character", "id": "raiden_shogun", "time": "2021-09-02 12:00:00"}
    ]
  }
}`

func TestPaimonImportAfterOfficialHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const account int64 = 800000004

	official := domain.Pull{
		SequenceID: 1630468800000000001,
		AccountID:  account,
		Category:   domain.GenshinCharacter,
		Item:       domain.ItemRef{Kind: domain.ItemCharacter, ID: 10000032},
		Rarity:     4,
		Timestamp:  time.Date(2021, 9, 1, 4, 0, 0, 0, time.UTC),
	}
	_, err := h.pulls.Merge(ctx, account, domain.GenshinCharacter, []domain.Pull{official}, domain.ProvenanceOfficial)
	require.NoError(t, err)

	req := ImportRequest{
		Source:   SourceDescriptor{Game: domain.GameGenshin, Format: adapter.FormatPaimon},
		Mode:     ModeDocument,
		Document: []byte(paimonDoc),
	}
	job := h.runImport(t, req)
	require.Equal(t, domain.StatusFinished, job.Status, job.Reason)
	assert.Equal(t, 1, job.Counters[domain.GenshinCharacter].Inserted)

	pulls, err := h.pulls.List(ctx, account, domain.GenshinCharacter)
	require.NoError(t, err)
	require.Len(t, pulls, 2)
	assert.Equal(t, official.SequenceID, pulls[0].SequenceID)
	assert.Equal(t, int64(10000052), pulls[1].Item.ID, "the newer pull sorts after stored history")
	assert.Greater(t, pulls[1].SequenceID, official.SequenceID)

	violations, err := h.pulls.Violations(ctx, account, domain.GenshinCharacter)
	require.NoError(t, err)
	assert.Empty(t, violations)

	req.IgnoreTimestamps = true
	again := h.runImport(t, req)
	require.Equal(t, domain.StatusFinished, again.Status, again.Reason)
	assert.Equal(t, 0, again.Counters[domain.GenshinCharacter].Inserted)

	count, err := h.pulls.Count(ctx, account, domain.GenshinCharacter)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "re-imported pulls map onto their stored ids")
}

func TestPaimonRepeatedItemsInOneSecond(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := `{"wish-uid": "800000004", "wish-counter-standard": {"pulls": [
	  {"type": "weapon", "id": "raven_bow", "time": "2021-08-01 08:30:00"},
	  {"type": "weapon", "id": "raven_bow", "time": "2021-08-01 08:30:00"}
	]}}`
	req := ImportRequest{
		Source:   SourceDescriptor{Game: domain.GameGenshin, Format: adapter.FormatPaimon},
		Mode:     ModeDocument,
		Document: []byte(doc),
	}

	first := h.runImport(t, req)
	require.Equal(t, domain.StatusFinished, first.Status, first.Reason)
	assert.Equal(t, 2, first.Counters[domain.GenshinStandard].Inserted)

	req.IgnoreTimestamps = true
	second := h.runImport(t, req)
	require.Equal(t, domain.StatusFinished, second.Status, second.Reason)
	assert.Equal(t, 0, second.Counters[domain.GenshinStandard].Inserted)

	pulls, err := h.pulls.List(ctx, 800000004, domain.GenshinStandard)
	require.NoError(t, err)
	require.Len(t, pulls, 2)
	assert.Equal(t, []int64{1, 2}, []int64{pulls[0].SequenceID, pulls[1].SequenceID})
}
