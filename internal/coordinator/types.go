package coordinator

import (
	"context"
	"time"
)

// Outcome is what a strategy reports for one sync. Counts are taken as-is.
type Outcome struct {
	NewItems       int
	ProcessedItems int
	ExistingItems  int
}

// Strategy fetches and ingests one source.
type Strategy interface {
	Sync(ctx context.Context, sourceID string) (Outcome, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, sourceID string) (Outcome, error)

// Sync calls f.
func (f StrategyFunc) Sync(ctx context.Context, sourceID string) (Outcome, error) {
	return f(ctx, sourceID)
}

// SyncMetrics describes the latest run for a source.
type SyncMetrics struct {
	SourceID       string        `json:"source_id"`
	RunID          string        `json:"run_id"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Duration       time.Duration `json:"duration"`
	MemoryDelta    int64         `json:"memory_delta_bytes"`
	NewItems       int           `json:"new_items"`
	ProcessedItems int           `json:"processed_items"`
	ExistingItems  int           `json:"existing_items"`
	ErrorCount     int           `json:"error_count"`
	Throughput     float64       `json:"items_per_second"`
}

// Result is returned for every sync request, successful or not.
type Result struct {
	SourceID          string      `json:"source_id"`
	RunID             string      `json:"run_id"`
	Success           bool        `json:"success"`
	Metrics           SyncMetrics `json:"metrics"`
	NewUpdatesCount   int         `json:"new_updates_count"`
	ExistingDataCount int         `json:"existing_data_count"`
	Errors            []string    `json:"errors"`
	// Shared is set when the caller joined a run started by another request.
	Shared bool `json:"shared"`
}

// Sink receives every completed Result, e.g. to publish it downstream.
type Sink interface {
	Publish(ctx context.Context, result Result) error
}

// Recorder observes completed syncs.
type Recorder interface {
	ObserveSync(result Result)
}
