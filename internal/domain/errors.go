package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrJobNotFound       = errors.New("import job not found")
	ErrAuthKeyExpired    = errors.New("auth key expired or invalid")
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// Reason codes carried by ImportJob.Reason.
const (
	ReasonFormat          = "format_error"
	ReasonUnknownCategory = "unknown_category"
	ReasonTransient       = "transient_network"
	ReasonCatalogLookup   = "catalog_lookup"
	ReasonAuthKey         = "auth_key"
	ReasonInternal        = "internal"
)

// FormatError reports a malformed document or page. Never retried.
type FormatError struct {
	Source string
	Msg    string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: malformed document: %s: %v", e.Source, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: malformed document: %s", e.Source, e.Msg)
}

func (e *FormatError) Unwrap() error { return e.Err }

type UnknownCategoryError struct {
	Source string
	Code   string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("%s: unknown category code %q", e.Source, e.Code)
}

type TransientNetworkError struct {
	Attempts int
	Err      error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("upstream unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

type CatalogLookupError struct {
	Game   Game
	ItemID string
	Hint   string
}

func (e *CatalogLookupError) Error() string {
	return fmt.Sprintf("%s: cannot resolve item %q (hint %q)", e.Game, e.ItemID, e.Hint)
}

// ConsistencyViolation marks two pulls whose sequence order disagrees with
// their timestamp order. It is recorded, not returned as a failure.
type ConsistencyViolation struct {
	AccountID   int64
	Category    Category
	EarlierSeq  int64
	LaterSeq    int64
	EarlierTime time.Time
	LaterTime   time.Time
}

func (e *ConsistencyViolation) Error() string {
	return fmt.Sprintf("account %d %s: seq %d (%s) precedes seq %d (%s) but is newer",
		e.AccountID, e.Category, e.EarlierSeq, e.EarlierTime.Format(time.RFC3339),
		e.LaterSeq, e.LaterTime.Format(time.RFC3339))
}

// ReasonFor maps an import failure onto the short machine-readable code shown
// to pollers.
func ReasonFor(err error) string {
	var (
		formatErr    *FormatError
		categoryErr  *UnknownCategoryError
		transientErr *TransientNetworkError
		catalogErr   *CatalogLookupError
	)
	switch {
	case errors.Is(err, ErrAuthKeyExpired):
		return ReasonAuthKey
	case errors.As(err, &categoryErr):
		return ReasonUnknownCategory
	case errors.As(err, &catalogErr):
		return ReasonCatalogLookup
	case errors.As(err, &transientErr):
		return ReasonTransient
	case errors.As(err, &formatErr), errors.Is(err, ErrUnsupportedFormat):
		return ReasonFormat
	}
	return ReasonInternal
}
