package server

import (
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"gacha-ledger/internal/domain"
)

// Ids that can exceed 2^53 travel as strings; Struct numbers are doubles.

func stringField(msg *structpb.Struct, key string) string {
	return msg.GetFields()[key].GetStringValue()
}

func boolField(msg *structpb.Struct, key string) bool {
	return msg.GetFields()[key].GetBoolValue()
}

// idField accepts an id sent either as a string or as a number.
func idField(msg *structpb.Struct, key string) (int64, error) {
	v, ok := msg.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		id, err := strconv.ParseInt(kind.StringValue, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return id, nil
	case *structpb.Value_NumberValue:
		return int64(kind.NumberValue), nil
	}
	return 0, fmt.Errorf("%s must be a string or number", key)
}

func categoryField(msg *structpb.Struct, key string) (domain.Category, error) {
	return domain.ParseCategory(stringField(msg, key))
}

func optional(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func timestamp(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func jobToMap(job domain.ImportJob) map[string]any {
	counters := make(map[string]any, len(job.Counters))
	for c, p := range job.Counters {
		counters[c.String()] = map[string]any{
			"pages":    p.Pages,
			"fetched":  p.Fetched,
			"inserted": p.Inserted,
			"done":     p.Done,
		}
	}
	m := map[string]any{
		"job_id":      job.ID,
		"game":        string(job.Game),
		"provenance":  string(job.Provenance),
		"status":      string(job.Status),
		"reason":      job.Reason,
		"counters":    counters,
		"started_at":  timestamp(job.StartedAt),
		"finished_at": timestamp(job.FinishedAt),
		"account_id":  nil,
		"category":    nil,
	}
	if job.AccountID != 0 {
		m["account_id"] = strconv.FormatInt(job.AccountID, 10)
	}
	if job.CurrentCategory.Valid() {
		m["category"] = job.CurrentCategory.String()
	}
	return m
}

func pullToMap(p domain.Pull) map[string]any {
	return map[string]any{
		"sequence_id": strconv.FormatInt(p.SequenceID, 10),
		"item_kind":   string(p.Item.Kind),
		"item_id":     strconv.FormatInt(p.Item.ID, 10),
		"rarity":      p.Rarity,
		"timestamp":   timestamp(p.Timestamp),
		"provenance":  string(p.Provenance),
	}
}

func statToMap(s domain.AccountStat) map[string]any {
	return map[string]any{
		"account_id":          strconv.FormatInt(s.AccountID, 10),
		"category":            s.Category.String(),
		"count":               s.Count,
		"avg_pulls_to_tier_a": optional(s.AvgPullsToTierA),
		"avg_pulls_to_tier_b": optional(s.AvgPullsToTierB),
		"win_rate":            optional(s.WinRate),
		"max_win_streak":      s.MaxWinStreak,
		"max_loss_streak":     s.MaxLossStreak,
		"updated_at":          timestamp(s.UpdatedAt),
	}
}

func percentileToMap(p domain.GlobalPercentile) map[string]any {
	return map[string]any{
		"account_id":             strconv.FormatInt(p.AccountID, 10),
		"category":               p.Category.String(),
		"count_percentile":       p.CountPercentile,
		"tier_a_luck_percentile": optional(p.TierALuckPercentile),
		"tier_b_luck_percentile": optional(p.TierBLuckPercentile),
		"computed_at":            timestamp(p.ComputedAt),
	}
}

func violationToMap(r domain.ConsistencyRecord) map[string]any {
	return map[string]any{
		"earlier_sequence_id": strconv.FormatInt(r.EarlierSeq, 10),
		"later_sequence_id":   strconv.FormatInt(r.LaterSeq, 10),
		"earlier_timestamp":   timestamp(r.EarlierTime),
		"later_timestamp":     timestamp(r.LaterTime),
		"detected_at":         timestamp(r.DetectedAt),
	}
}
