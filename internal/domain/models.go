package domain

import (
	"time"
)

type Provenance string

const (
	ProvenanceOfficial     Provenance = "official"
	ProvenanceUserSupplied Provenance = "user_supplied"
)

type ItemKind string

const (
	ItemCharacter ItemKind = "character"
	ItemEquipment ItemKind = "equipment"
	ItemOther     ItemKind = "other"
)

func (k ItemKind) Valid() bool {
	switch k {
	case ItemCharacter, ItemEquipment, ItemOther:
		return true
	}
	return false
}

// ItemRef points at exactly one catalog entry.
type ItemRef struct {
	Kind ItemKind
	ID   int64
}

type Pull struct {
	SequenceID int64
	AccountID  int64
	Category   Category
	Item       ItemRef
	Rarity     int
	Timestamp  time.Time // UTC
	Provenance Provenance
	CreatedAt  time.Time
}

// AccountStat holds per (account, category) aggregates. Nil pointers mean
// the value is undefined because nothing was observed yet.
type AccountStat struct {
	AccountID       int64
	Category        Category
	Count           int
	AvgPullsToTierA *float64
	AvgPullsToTierB *float64
	WinRate         *float64
	MaxWinStreak    int
	MaxLossStreak   int
	UpdatedAt       time.Time
}

type GlobalPercentile struct {
	AccountID           int64
	Category            Category
	CountPercentile     float64
	TierALuckPercentile *float64
	TierBLuckPercentile *float64
	ComputedAt          time.Time
}

type ConsistencyRecord struct {
	AccountID   int64
	Category    Category
	EarlierSeq  int64
	LaterSeq    int64
	EarlierTime time.Time
	LaterTime   time.Time
	DetectedAt  time.Time
}

type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusCalculating JobStatus = "calculating"
	StatusFinished    JobStatus = "finished"
	StatusError       JobStatus = "error"
)

func (s JobStatus) Terminal() bool {
	return s == StatusFinished || s == StatusError
}

type CategoryProgress struct {
	Pages    int
	Fetched  int
	Inserted int
	Done     bool
}

// ImportJob is the in-memory view of a running or recently finished import.
// It is never persisted.
type ImportJob struct {
	ID              string
	AccountKey      string
	AccountID       int64
	Game            Game
	Provenance      Provenance
	CurrentCategory Category
	Counters        map[Category]CategoryProgress
	Status          JobStatus
	Reason          string
	StartedAt       time.Time
	FinishedAt      time.Time
}

func (j *ImportJob) Clone() ImportJob {
	cp := *j
	cp.Counters = make(map[Category]CategoryProgress, len(j.Counters))
	for k, v := range j.Counters {
		cp.Counters[k] = v
	}
	return cp
}
