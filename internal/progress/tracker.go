// Package progress keeps the in-memory view of running imports for polling
// callers. Nothing here is persisted; a restart forgets every job.
package progress

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"gacha-ledger/internal/config"
	"gacha-ledger/internal/domain"
)

var Module = fx.Provide(func(cfg *config.Config, logger zerolog.Logger) *Tracker {
	return New(cfg.JobGracePeriod, logger)
})

type Tracker struct {
	mu        sync.Mutex
	jobs      map[string]*domain.ImportJob
	byAccount map[string]string
	grace     time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func New(grace time.Duration, logger zerolog.Logger) *Tracker {
	return &Tracker{
		jobs:      make(map[string]*domain.ImportJob),
		byAccount: make(map[string]string),
		grace:     grace,
		logger:    logger,
		now:       time.Now,
	}
}

// Begin registers job unless a non-terminal job already exists for the same
// account key, in which case that job is returned and created is false.
func (t *Tracker) Begin(job domain.ImportJob) (snapshot domain.ImportJob, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byAccount[job.AccountKey]; ok {
		if existing, ok := t.jobs[id]; ok && !existing.Status.Terminal() {
			return existing.Clone(), false
		}
	}

	j := job
	if j.Counters == nil {
		j.Counters = make(map[domain.Category]domain.CategoryProgress)
	}
	if j.Status == "" {
		j.Status = domain.StatusPending
	}
	if j.StartedAt.IsZero() {
		j.StartedAt = t.now()
	}
	t.jobs[j.ID] = &j
	t.byAccount[j.AccountKey] = j.ID
	return j.Clone(), true
}

// Update applies fn to the job under the lock. fn must not block. A
// transition into a terminal status stamps FinishedAt and schedules expiry.
func (t *Tracker) Update(id string, fn func(*domain.ImportJob)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	wasTerminal := job.Status.Terminal()
	fn(job)
	if !wasTerminal && job.Status.Terminal() {
		job.FinishedAt = t.now()
		time.AfterFunc(t.grace, func() { t.expire(id) })
	}
	return nil
}

// Finish moves the job to finished, or to error with the reason derived from
// err.
func (t *Tracker) Finish(id string, err error) error {
	return t.Update(id, func(j *domain.ImportJob) {
		if err != nil {
			j.Status = domain.StatusError
			j.Reason = domain.ReasonFor(err)
			return
		}
		j.Status = domain.StatusFinished
	})
}

func (t *Tracker) Poll(id string) (domain.ImportJob, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return domain.ImportJob{}, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

// Get returns the latest job for an account key.
func (t *Tracker) Get(accountKey string) (domain.ImportJob, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.byAccount[accountKey]
	if !ok {
		return domain.ImportJob{}, false
	}
	job, ok := t.jobs[id]
	if !ok {
		return domain.ImportJob{}, false
	}
	return job.Clone(), true
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

func (t *Tracker) expire(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, ok := t.jobs[id]
	if !ok {
		return
	}
	delete(t.jobs, id)
	if t.byAccount[job.AccountKey] == id {
		delete(t.byAccount, job.AccountKey)
	}
	t.logger.Debug().Str("job_id", id).Msg("import job expired")
}
