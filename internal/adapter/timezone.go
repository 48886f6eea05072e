package adapter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gacha-ledger/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

// RegionOffset infers a server UTC offset (hours) from the leading digits of
// an account id. It is a best-effort fallback; an offset stated in the
// document always wins.
func RegionOffset(game domain.Game, accountID string) int {
	accountID = strings.TrimSpace(accountID)
	if game == domain.GameZZZ {
		switch {
		case strings.HasPrefix(accountID, "10"):
			return -5
		case strings.HasPrefix(accountID, "15"):
			return 1
		}
		return 8
	}
	switch {
	case strings.HasPrefix(accountID, "6"):
		return -5
	case strings.HasPrefix(accountID, "7"):
		return 1
	}
	return 8
}

// ResolveTime converts an entry's raw timestamp to UTC. Wall-clock
// timestamps use the entry's explicit offset when present, otherwise the
// account-id heuristic. All-digit timestamps are unix seconds or milliseconds.
func ResolveTime(game domain.Game, e RawPullEntry) (time.Time, error) {
	raw := strings.TrimSpace(e.RawTimestamp)
	if raw == "" {
		return time.Time{}, &domain.FormatError{Source: string(game), Msg: fmt.Sprintf("pull %s has no timestamp", e.SourceID)}
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	offset := RegionOffset(game, e.SourceAccountID)
	if e.RegionHint != nil {
		offset = *e.RegionHint
	}
	loc := time.FixedZone(fmt.Sprintf("UTC%+d", offset), offset*3600)

	t, err := time.ParseInLocation(timeLayout, raw, loc)
	if err != nil {
		return time.Time{}, &domain.FormatError{Source: string(game), Msg: fmt.Sprintf("bad timestamp %q", raw), Err: err}
	}
	return t.UTC(), nil
}
