package rules

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/ruleforge/automation-core/app/store"
)

// RetryResult summarizes one RetryFailedEntries pass.
type RetryResult struct {
	Retried            []string
	PermanentlyFailed  []string
	StillCoolingDown   int
}

// RetryFailedEntries scans the watched file at path for entries in
// "failed" status and, for each whose next_retry has elapsed (or was never
// set), either requeues it as "pending" with an exponential backoff
// schedule or promotes it to "permanently_failed" once retry_count reaches
// maxRetries. Grounded on retry_failed_entries:
//
//	delay_minutes = retry_delay_base * (3 ** retry_count)
//
// retryDelayBase is in minutes, matching rule.retry_delay_base.
func (e *Engine) RetryFailedEntries(ctx context.Context, path string, maxRetries, retryDelayBase int) (RetryResult, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = 5
	}

	var result RetryResult
	err := store.WithFileLock(ctx, path, func() error {
		var doc entriesDoc
		if err := store.ReadJSON(path, &doc); err != nil {
			return err
		}
		now := time.Now().UTC()

		for key, entry := range doc.Entries {
			status, _ := entry["status"].(string)
			if status != "failed" {
				continue
			}

			if nextRetryStr, ok := entry["next_retry"].(string); ok && nextRetryStr != "" {
				if nextRetry, err := time.Parse(time.RFC3339Nano, nextRetryStr); err == nil && now.Before(nextRetry) {
					result.StillCoolingDown++
					continue
				}
			}

			retryCount := intField(entry, "retry_count")
			if retryCount >= maxRetries {
				entry["status"] = "permanently_failed"
				entry["updated_at"] = now.Format(time.RFC3339Nano)
				result.PermanentlyFailed = append(result.PermanentlyFailed, key)
				continue
			}

			delayMinutes := float64(retryDelayBase) * math.Pow(3, float64(retryCount))
			if errMsg, ok := entry["error"]; ok {
				entry["previous_error"] = errMsg
				delete(entry, "error")
			}
			entry["retry_count"] = retryCount + 1
			entry["status"] = "pending"
			entry["next_retry"] = now.Add(time.Duration(delayMinutes) * time.Minute).Format(time.RFC3339Nano)
			entry["updated_at"] = now.Format(time.RFC3339Nano)
			result.Retried = append(result.Retried, key)
		}

		return store.WriteJSON(path, doc)
	})
	return result, err
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
