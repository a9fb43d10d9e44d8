// Package collectors fetches source batches and turns them into sync
// outcomes: fetch, standardize, assess, then split new from existing items.
package collectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"ingest-quality-service/internal/coordinator"
	"ingest-quality-service/internal/quality"
	"ingest-quality-service/internal/record"
	"ingest-quality-service/internal/standardize"
)

// Fetcher produces one raw batch per call.
type Fetcher interface {
	Fetch(ctx context.Context) ([]record.Record, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) ([]record.Record, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context) ([]record.Record, error) {
	return f(ctx)
}

// Batch is one standardized, assessed fetch. IsNew is indexed like Records.
type Batch struct {
	SourceID        string
	Records         []record.Record
	Keys            []string
	IsNew           []bool
	Standardization standardize.Report
	Assessment      quality.Assessment
}

// NewRecords returns the records not delivered by an earlier sync.
func (b Batch) NewRecords() []record.Record {
	var out []record.Record
	for i, rec := range b.Records {
		if b.IsNew[i] {
			out = append(out, rec)
		}
	}
	return out
}

// BatchHook receives every batch before its items are marked as seen. An
// error fails the sync and leaves the items unmarked so they are retried.
type BatchHook func(ctx context.Context, batch Batch) error

// Collector is a coordinator.Strategy over a set of fetchers.
type Collector struct {
	standardizer *standardize.Standardizer
	assessor     *quality.Assessor
	seen         SeenStore
	hooks        []BatchHook
	logger       *zap.Logger

	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// Option configures a Collector.
type Option func(*Collector)

// WithBatchHook appends a hook. Hooks run in the order added.
func WithBatchHook(h BatchHook) Option {
	return func(c *Collector) { c.hooks = append(c.hooks, h) }
}

// WithSeenStore replaces the default in-memory seen store.
func WithSeenStore(s SeenStore) Option {
	return func(c *Collector) { c.seen = s }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// NewCollector creates a collector with no sources.
func NewCollector(s *standardize.Standardizer, a *quality.Assessor, opts ...Option) *Collector {
	c := &Collector{
		standardizer: s,
		assessor:     a,
		seen:         NewMemorySeenStore(),
		logger:       zap.NewNop(),
		fetchers:     make(map[string]Fetcher),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddSource registers the fetcher for a source id.
func (c *Collector) AddSource(sourceID string, f Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchers[sourceID] = f
}

// Sources lists the registered source ids, sorted.
func (c *Collector) Sources() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.fetchers))
	for id := range c.fetchers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sync implements coordinator.Strategy.
func (c *Collector) Sync(ctx context.Context, sourceID string) (coordinator.Outcome, error) {
	c.mu.RLock()
	fetcher, ok := c.fetchers[sourceID]
	c.mu.RUnlock()
	if !ok {
		return coordinator.Outcome{}, eris.Errorf("no fetcher configured for source %s", sourceID)
	}

	raw, err := fetcher.Fetch(ctx)
	if err != nil {
		return coordinator.Outcome{}, eris.Wrapf(err, "fetch %s", sourceID)
	}

	records, report := c.standardizer.Standardize(raw)
	assessment, err := c.assessor.Assess(ctx, records)
	if err != nil {
		return coordinator.Outcome{}, eris.Wrapf(err, "assess %s", sourceID)
	}

	keys := make([]string, len(records))
	for i, rec := range records {
		keys[i] = ItemKey(rec)
	}
	known, err := c.seen.Contains(ctx, sourceID, keys)
	if err != nil {
		return coordinator.Outcome{}, err
	}

	batch := Batch{
		SourceID:        sourceID,
		Records:         records,
		Keys:            keys,
		IsNew:           make([]bool, len(records)),
		Standardization: report,
		Assessment:      assessment,
	}
	inBatch := make(map[string]bool, len(keys))
	var outcome coordinator.Outcome
	for i, k := range keys {
		batch.IsNew[i] = !known[i] && !inBatch[k]
		inBatch[k] = true
		if batch.IsNew[i] {
			outcome.NewItems++
		} else {
			outcome.ExistingItems++
		}
	}
	outcome.ProcessedItems = len(records)

	for _, hook := range c.hooks {
		if err := hook(ctx, batch); err != nil {
			return coordinator.Outcome{}, eris.Wrapf(err, "batch hook for %s", sourceID)
		}
	}

	if err := c.seen.Mark(ctx, sourceID, keys); err != nil {
		return coordinator.Outcome{}, err
	}

	c.logger.Info("batch collected",
		zap.String("source_id", sourceID),
		zap.Int("processed", outcome.ProcessedItems),
		zap.Int("new", outcome.NewItems),
		zap.Int("standardized_values", report.Changed()),
		zap.Float64("average_score", assessment.Metrics.AverageQualityScore),
	)
	return outcome, nil
}

// ItemKey identifies a record across syncs: its id field when present,
// otherwise a hash of its content.
func ItemKey(rec record.Record) string {
	if v, ok := rec.Get("id"); ok && !rec.IsEmpty("id") {
		if s, err := cast.ToStringE(v); err == nil {
			return "id:" + s
		}
	}
	data, _ := json.Marshal(rec)
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
