// Package scheduler triggers source syncs on cron schedules.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"ingest-quality-service/internal/coordinator"
)

// Syncer runs one sync. *coordinator.Coordinator satisfies it.
type Syncer interface {
	Sync(ctx context.Context, sourceID string) coordinator.Result
}

// Specs accept an optional leading seconds field as well as descriptors
// such as @every 30m.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler owns a cron instance and one entry per source.
type Scheduler struct {
	cron   *cron.Cron
	syncer Syncer
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a stopped scheduler.
func New(syncer Syncer, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		syncer:  syncer,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Validate reports whether spec parses.
func Validate(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return eris.Wrapf(err, "invalid schedule %q", spec)
	}
	return nil
}

// Add schedules sourceID, replacing an earlier schedule for it.
func (s *Scheduler) Add(sourceID, spec string) error {
	sched, err := parser.Parse(spec)
	if err != nil {
		return eris.Wrapf(err, "invalid schedule %q for source %s", spec, sourceID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[sourceID]; ok {
		s.cron.Remove(id)
	}
	s.entries[sourceID] = s.cron.Schedule(sched, cron.FuncJob(func() { s.trigger(sourceID) }))
	s.logger.Info("source scheduled", zap.String("source_id", sourceID), zap.String("schedule", spec))
	return nil
}

// Remove unschedules sourceID.
func (s *Scheduler) Remove(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[sourceID]; ok {
		s.cron.Remove(id)
		delete(s.entries, sourceID)
	}
}

// Sources lists scheduled source ids, sorted.
func (s *Scheduler) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Next returns the next activation for sourceID. It is zero before Start.
func (s *Scheduler) Next(sourceID string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[sourceID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start begins firing schedules in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new activations and waits for running syncs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "scheduler stopped before running syncs finished")
	}
}

func (s *Scheduler) trigger(sourceID string) {
	res := s.syncer.Sync(context.Background(), sourceID)
	if !res.Success {
		s.logger.Warn("scheduled sync failed",
			zap.String("source_id", sourceID),
			zap.String("run_id", res.RunID),
			zap.Strings("errors", res.Errors),
		)
	}
}

// cronLogger routes cron's logging to zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
