// Package coordinator runs source syncs with single-flight semantics and
// keeps the latest metrics per source.
//
// A sync never returns an error: strategy failures, panics and timeouts are
// folded into Result.Errors.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ingest-quality-service/internal/locking"
)

const (
	DefaultTimeout         = 5 * time.Minute
	DefaultMetricsCapacity = 256
	DefaultConcurrency     = 4
	DefaultLockTTL         = time.Minute

	publishTimeout = 10 * time.Second
)

// Options configures a Coordinator. Zero values select defaults; Locker, Sink
// and Recorder are optional.
type Options struct {
	Timeout         time.Duration
	MetricsCapacity int
	Concurrency     int
	Locker          locking.Locker
	LockTTL         time.Duration
	Sink            Sink
	Recorder        Recorder
	Logger          *zap.Logger
}

// Coordinator owns the in-flight set and the metrics store.
type Coordinator struct {
	opts   Options
	logger *zap.Logger
	group  singleflight.Group

	mu         sync.RWMutex
	strategies map[string]Strategy
	running    map[string]string

	metrics *lru.Cache[string, SyncMetrics]
}

// New creates a coordinator.
func New(opts Options) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MetricsCapacity <= 0 {
		opts.MetricsCapacity = DefaultMetricsCapacity
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	// only fails for a non-positive size
	cache, _ := lru.New[string, SyncMetrics](opts.MetricsCapacity)

	return &Coordinator{
		opts:       opts,
		logger:     opts.Logger,
		strategies: make(map[string]Strategy),
		running:    make(map[string]string),
		metrics:    cache,
	}
}

// Register sets the strategy for a source, replacing any previous one.
func (c *Coordinator) Register(sourceID string, s Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategies[sourceID] = s
}

// Sources lists registered source ids in sorted order.
func (c *Coordinator) Sources() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.strategies))
	for id := range c.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sync runs the strategy for sourceID, or joins the run already in flight.
// ctx only bounds how long this caller waits; the shared run is bounded by
// the configured timeout.
func (c *Coordinator) Sync(ctx context.Context, sourceID string) Result {
	ch := c.group.DoChan(sourceID, func() (interface{}, error) {
		return c.run(sourceID), nil
	})

	select {
	case res := <-ch:
		result := res.Val.(Result)
		result.Shared = res.Shared
		result.Errors = append([]string(nil), result.Errors...)
		return result
	case <-ctx.Done():
		return Result{
			SourceID: sourceID,
			Success:  false,
			Errors:   []string{fmt.Sprintf("stopped waiting for sync: %v", ctx.Err())},
		}
	}
}

// SyncAll syncs the given sources in parallel, or every registered source
// when ids is empty. Results follow the order of ids.
func (c *Coordinator) SyncAll(ctx context.Context, ids ...string) []Result {
	if len(ids) == 0 {
		ids = c.Sources()
	}
	results := make([]Result, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = c.Sync(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// IsRunning reports whether a sync for sourceID is in flight.
func (c *Coordinator) IsRunning(sourceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.running[sourceID]
	return ok
}

// Running lists the sources with a sync in flight, sorted.
func (c *Coordinator) Running() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.running))
	for id := range c.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Metrics returns the latest metrics for a source. Reading does not affect
// eviction order.
func (c *Coordinator) Metrics(sourceID string) (SyncMetrics, bool) {
	return c.metrics.Peek(sourceID)
}

// AllMetrics returns a snapshot of every retained entry.
func (c *Coordinator) AllMetrics() map[string]SyncMetrics {
	out := make(map[string]SyncMetrics, c.metrics.Len())
	for _, id := range c.metrics.Keys() {
		if m, ok := c.metrics.Peek(id); ok {
			out[id] = m
		}
	}
	return out
}

// ClearMetrics drops the metrics for one source.
func (c *Coordinator) ClearMetrics(sourceID string) {
	c.metrics.Remove(sourceID)
}

// ClearAllMetrics drops every retained entry.
func (c *Coordinator) ClearAllMetrics() {
	c.metrics.Purge()
}

func (c *Coordinator) strategy(sourceID string) (Strategy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.strategies[sourceID]
	return s, ok
}

// claim marks sourceID as running. It fails, returning the holder's run id,
// when an earlier run that outlived its timeout has not finished yet.
func (c *Coordinator) claim(sourceID, runID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if holder, busy := c.running[sourceID]; busy {
		return holder, false
	}
	c.running[sourceID] = runID
	return runID, true
}

func (c *Coordinator) markIdle(sourceID, runID string) {
	c.mu.Lock()
	if c.running[sourceID] == runID {
		delete(c.running, sourceID)
	}
	c.mu.Unlock()
}

func (c *Coordinator) run(sourceID string) Result {
	runID := uuid.NewString()
	logger := c.logger.With(zap.String("source_id", sourceID), zap.String("run_id", runID))

	strategy, ok := c.strategy(sourceID)
	if !ok {
		logger.Warn("sync requested for unknown source")
		return Result{
			SourceID: sourceID,
			RunID:    runID,
			Errors:   []string{fmt.Sprintf("no strategy registered for source %q", sourceID)},
		}
	}

	if holder, ok := c.claim(sourceID, runID); !ok {
		logger.Warn("previous sync still running", zap.String("holder_run_id", holder))
		return Result{
			SourceID: sourceID,
			RunID:    runID,
			Errors:   []string{fmt.Sprintf("previous sync %s for %s is still running", holder, sourceID)},
		}
	}

	var before runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()
	logger.Info("sync started")

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()

	var outcome Outcome
	var errs []string

	var err error
	select {
	case r := <-c.execute(ctx, strategy, sourceID, runID, logger):
		outcome, err = r.outcome, r.err
	case <-ctx.Done():
		logger.Warn("strategy outlived its timeout; source stays busy until it returns")
		err = eris.Wrapf(ctx.Err(), "sync timed out after %s", c.opts.Timeout)
	}
	if err != nil {
		errs = append(errs, err.Error())
		outcome = Outcome{}
	}

	end := time.Now()
	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	m := SyncMetrics{
		SourceID:       sourceID,
		RunID:          runID,
		StartTime:      start,
		EndTime:        end,
		Duration:       end.Sub(start),
		MemoryDelta:    int64(after.HeapAlloc) - int64(before.HeapAlloc),
		NewItems:       outcome.NewItems,
		ProcessedItems: outcome.ProcessedItems,
		ExistingItems:  outcome.ExistingItems,
		ErrorCount:     len(errs),
	}
	if secs := m.Duration.Seconds(); secs > 0 {
		m.Throughput = float64(m.ProcessedItems) / secs
	}
	c.metrics.Add(sourceID, m)

	result := Result{
		SourceID:          sourceID,
		RunID:             runID,
		Success:           len(errs) == 0,
		Metrics:           m,
		NewUpdatesCount:   outcome.NewItems,
		ExistingDataCount: outcome.ExistingItems,
		Errors:            errs,
	}
	if result.Errors == nil {
		result.Errors = []string{}
	}

	if result.Success {
		logger.Info("sync completed",
			zap.Int("new_items", m.NewItems),
			zap.Int("processed_items", m.ProcessedItems),
			zap.Int64("duration_ms", m.Duration.Milliseconds()),
		)
	} else {
		logger.Error("sync failed",
			zap.Strings("errors", errs),
			zap.Int64("duration_ms", m.Duration.Milliseconds()),
		)
	}

	c.report(result, logger)
	return result
}

type reply struct {
	outcome Outcome
	err     error
}

// execute runs the strategy under the lock in its own goroutine, so that a
// strategy ignoring ctx cannot hold the caller past its timeout. The running
// slot and the lock stay held until the strategy returns; only then is the
// reply sent.
func (c *Coordinator) execute(ctx context.Context, s Strategy, sourceID, runID string, logger *zap.Logger) <-chan reply {
	done := make(chan reply, 1)

	go func() {
		var r reply
		defer func() {
			c.markIdle(sourceID, runID)
			done <- r
		}()

		call := func() error {
			r.outcome, r.err = invoke(ctx, s, sourceID)
			return r.err
		}
		if c.opts.Locker == nil {
			_ = call()
			return
		}

		// the lock must outlive ctx when the strategy does
		err := locking.Run(context.WithoutCancel(ctx), c.opts.Locker, sourceID, c.opts.LockTTL, logger, call)
		if errors.Is(err, locking.ErrHeld) {
			err = eris.Errorf("sync for %s is running on another instance", sourceID)
		}
		if err != nil && r.err == nil {
			r = reply{err: err}
		}
	}()

	return done
}

func invoke(ctx context.Context, s Strategy, sourceID string) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = Outcome{}, eris.Errorf("strategy panicked: %v", r)
		}
	}()
	return s.Sync(ctx, sourceID)
}

// report hands the result to the recorder and the sink. It runs inside the
// single-flight call, where a panic would be re-raised on another goroutine.
func (c *Coordinator) report(result Result, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("sync result reporting panicked", zap.Any("panic", r))
		}
	}()

	if c.opts.Recorder != nil {
		c.opts.Recorder.ObserveSync(result)
	}
	if c.opts.Sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := c.opts.Sink.Publish(ctx, result); err != nil {
			logger.Warn("failed to publish sync result", zap.Error(err))
		}
	}
}
