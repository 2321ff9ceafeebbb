package store

import (
	"context"
	"sort"
	"time"
)

// HistoryRetention is how long execution history records are kept before
// AppendHistory rotates them out. Grounded on log_execution_history's
// 30-day cutoff.
const HistoryRetention = 30 * 24 * time.Hour

// HistoryRecord is one row of app/rules' ExecutionHistory, persisted as a
// flat JSON array (not a Document) to match the original's history file
// shape.
type HistoryRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	RuleID     string    `json:"rule_id"`
	Trigger    string    `json:"trigger"`
	EntryID    string    `json:"entry_id"`
	Action     string    `json:"action"`
	Result     string    `json:"result"`
	DurationMs int64     `json:"duration_ms"`
}

// AppendHistory appends record to the history file under lock, then drops
// any record older than HistoryRetention.
func AppendHistory(ctx context.Context, path string, record HistoryRecord) error {
	return WithFileLock(ctx, path, func() error {
		var history []HistoryRecord
		if err := ReadJSON(path, &history); err != nil {
			return err
		}
		history = append(history, record)

		cutoff := time.Now().Add(-HistoryRetention)
		kept := history[:0]
		for _, h := range history {
			if h.Timestamp.After(cutoff) {
				kept = append(kept, h)
			}
		}
		return WriteJSON(path, kept)
	})
}

// HistoryFilter narrows GetHistory's results, mirroring
// get_execution_history's params.
type HistoryFilter struct {
	RuleID string
	Since  *time.Time
	Status string
	Limit  int
}

// HistoryPage is get_execution_history's response shape.
type HistoryPage struct {
	Entries       []HistoryRecord `json:"entries"`
	TotalCount    int             `json:"total_count"`
	ReturnedCount int             `json:"returned_count"`
}

// GetHistory reads and filters the history file, sorted most-recent-first.
func GetHistory(path string, filter HistoryFilter) (HistoryPage, error) {
	var history []HistoryRecord
	if err := ReadJSON(path, &history); err != nil {
		return HistoryPage{}, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	filtered := make([]HistoryRecord, 0, len(history))
	for _, h := range history {
		if filter.RuleID != "" && h.RuleID != filter.RuleID {
			continue
		}
		if filter.Since != nil && h.Timestamp.Before(*filter.Since) {
			continue
		}
		if filter.Status != "" && h.Result != filter.Status {
			continue
		}
		filtered = append(filtered, h)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})

	returned := filtered
	if len(returned) > limit {
		returned = returned[:limit]
	}

	return HistoryPage{
		Entries:       returned,
		TotalCount:    len(filtered),
		ReturnedCount: len(returned),
	}, nil
}
