package queue

import (
	"context"
	"fmt"
)

// Stats is a read-only aggregation over the durable store: counts by status
// and by operation type.
type Stats struct {
	Total      int                   `json:"total"`
	Pending    int                   `json:"pending"`
	Processing int                   `json:"processing"`
	Completed  int                   `json:"completed"`
	Failed     int                   `json:"failed"`
	ByType     map[OperationType]int `json:"by_type"`
}

// GetQueueStats reports the current queue composition. It never mutates
// status or timestamps; the surrounding application reads it to surface
// failed operations and offer a retry action.
func (m *Manager) GetQueueStats(ctx context.Context) (Stats, error) {
	ops, err := m.storage.ListOperations(ctx, Filter{})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list operations for stats: %w", err)
	}

	stats := Stats{
		Total:  len(ops),
		ByType: make(map[OperationType]int),
	}
	for i := range ops {
		switch ops[i].Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
		stats.ByType[ops[i].Type]++
	}

	return stats, nil
}
