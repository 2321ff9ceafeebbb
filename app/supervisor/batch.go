package supervisor

import (
	"context"

	"github.com/ruleforge/automation-core/app/utils"
)

// DefaultBatchSize bounds how many tasks share one BatchID when
// EnqueueBatch splits a large submission, keeping any one batch's
// archive/report small enough to review at a glance.
const DefaultBatchSize = 25

// EnqueueBatch splits payloads into chunks of batchSize (DefaultBatchSize
// if <= 0) via app/utils.Chunk, enqueuing every payload in a chunk under a
// shared batch id so later archive/report queries can group them.
// Returns the batch ids created, in submission order.
func (q *Queue) EnqueueBatch(ctx context.Context, payloads []map[string]any, category string, tags []string, batchSize int) ([]string, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var batchIDs []string
	for _, chunk := range utils.Chunk(payloads, batchSize) {
		batchID := NewBatchID()
		batchIDs = append(batchIDs, batchID)
		for _, payload := range chunk {
			description, _ := payload["description"].(string)
			task := Task{
				ID:          NewTaskID(),
				BatchID:     batchID,
				Category:    category,
				ProjectTags: tags,
				Description: description,
				Payload:     payload,
			}
			if err := q.Enqueue(ctx, task); err != nil {
				return batchIDs, err
			}
		}
	}
	return batchIDs, nil
}
