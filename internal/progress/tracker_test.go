package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gacha-ledger/internal/domain"
)

func TestBeginDeduplicatesInFlight(t *testing.T) {
	tr := New(time.Minute, zerolog.Nop())

	first, created := tr.Begin(domain.ImportJob{ID: "a", AccountKey: "hsr:800000001"})
	require.True(t, created)
	assert.Equal(t, domain.StatusPending, first.Status)
	assert.False(t, first.StartedAt.IsZero())

	again, created := tr.Begin(domain.ImportJob{ID: "b", AccountKey: "hsr:800000001"})
	assert.False(t, created)
	assert.Equal(t, "a", again.ID)

	_, err := tr.Poll("b")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestBeginAfterTerminalReplaces(t *testing.T) {
	tr := New(time.Minute, zerolog.Nop())
	tr.Begin(domain.ImportJob{ID: "a", AccountKey: "k"})
	require.NoError(t, tr.Finish("a", nil))

	_, created := tr.Begin(domain.ImportJob{ID: "b", AccountKey: "k"})
	assert.True(t, created)

	job, ok := tr.Get("k")
	require.True(t, ok)
	assert.Equal(t, "b", job.ID)

	// the old job stays pollable until it expires
	old, err := tr.Poll("a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, old.Status)
}

func TestSnapshotsAreCopies(t *testing.T) {
	tr := New(time.Minute, zerolog.Nop())
	tr.Begin(domain.ImportJob{ID: "a", AccountKey: "k"})
	require.NoError(t, tr.Update("a", func(j *domain.ImportJob) {
		j.Counters[domain.HSRCharacter] = domain.CategoryProgress{Fetched: 20}
	}))

	snap, err := tr.Poll("a")
	require.NoError(t, err)
	snap.Counters[domain.HSRCharacter] = domain.CategoryProgress{Fetched: 99}

	again, err := tr.Poll("a")
	require.NoError(t, err)
	assert.Equal(t, 20, again.Counters[domain.HSRCharacter].Fetched)
}

func TestFinishWithErrorSetsReason(t *testing.T) {
	tr := New(time.Minute, zerolog.Nop())
	tr.Begin(domain.ImportJob{ID: "a", AccountKey: "k"})
	require.NoError(t, tr.Finish("a", &domain.UnknownCategoryError{Source: "uigf", Code: "999"}))

	job, err := tr.Poll("a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, job.Status)
	assert.Equal(t, domain.ReasonUnknownCategory, job.Reason)
	assert.False(t, job.FinishedAt.IsZero())

	assert.True(t, errors.Is(tr.Finish("missing", nil), domain.ErrJobNotFound))
}

func TestTerminalJobsExpire(t *testing.T) {
	tr := New(20*time.Millisecond, zerolog.Nop())
	tr.Begin(domain.ImportJob{ID: "a", AccountKey: "k"})

	require.NoError(t, tr.Update("a", func(j *domain.ImportJob) { j.Status = domain.StatusCalculating }))
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, tr.Len(), "non-terminal jobs never expire")

	require.NoError(t, tr.Finish("a", nil))
	assert.Eventually(t, func() bool { return tr.Len() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := tr.Get("k")
	assert.False(t, ok)
}

func TestExpiryKeepsNewerAccountMapping(t *testing.T) {
	tr := New(20*time.Millisecond, zerolog.Nop())
	tr.Begin(domain.ImportJob{ID: "a", AccountKey: "k"})
	require.NoError(t, tr.Finish("a", nil))
	tr.Begin(domain.ImportJob{ID: "b", AccountKey: "k"})

	assert.Eventually(t, func() bool {
		_, err := tr.Poll("a")
		return err != nil
	}, time.Second, 5*time.Millisecond)

	job, ok := tr.Get("k")
	require.True(t, ok)
	assert.Equal(t, "b", job.ID)
}
