package cmd

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"ingest-quality-service/internal/collectors"
	"ingest-quality-service/internal/config"
	"ingest-quality-service/internal/coordinator"
	"ingest-quality-service/internal/locking"
	"ingest-quality-service/internal/publish"
	"ingest-quality-service/internal/quality"
	"ingest-quality-service/internal/telemetry"
)

// syncStack is a coordinator with every configured source registered, plus
// the connections it holds open.
type syncStack struct {
	coordinator *coordinator.Coordinator
	collector   *collectors.Collector
	closers     []func() error
}

type stackOptions struct {
	rejectedDir string
	recorder    *telemetry.Recorder
}

func buildSyncStack(ctx context.Context, cfg *config.Config, opts stackOptions) (*syncStack, error) {
	stack := &syncStack{}

	qualityOpts := []quality.Option{quality.WithLogger(logger)}
	if opts.recorder != nil {
		qualityOpts = append(qualityOpts, quality.WithRecorder(opts.recorder))
	}
	pipeline, err := cfg.Pipeline(qualityOpts...)
	if err != nil {
		return nil, err
	}

	coordOpts := coordinator.Options{
		Timeout:         cfg.Sync.Timeout,
		MetricsCapacity: cfg.Sync.MetricsCapacity,
		Concurrency:     cfg.Sync.Concurrency,
		LockTTL:         cfg.Sync.Redis.LockTTL,
		Logger:          logger,
	}
	if opts.recorder != nil {
		coordOpts.Recorder = opts.recorder
	}

	collectorOpts := []collectors.Option{collectors.WithLogger(logger)}
	if opts.rejectedDir != "" {
		collectorOpts = append(collectorOpts, collectors.WithBatchHook(collectors.RejectedWriter(opts.rejectedDir)))
	}

	if cfg.Sync.Redis.Addr != "" {
		client, err := locking.NewClient(ctx, cfg.Sync.Redis)
		if err != nil {
			return nil, err
		}
		stack.closers = append(stack.closers, client.Close)

		lock := locking.NewRedisLock(client, logger)
		coordOpts.Locker = lock
		collectorOpts = append(collectorOpts, collectors.WithSeenStore(collectors.NewRedisSeenStore(client)))
		logger.Info("distributed locking enabled",
			zap.String("redis_addr", cfg.Sync.Redis.Addr),
			zap.String("instance_id", lock.InstanceID()),
		)
	}

	if len(cfg.Sync.Kafka.Brokers) > 0 {
		sink, err := publish.NewKafkaSink(cfg.Sync.Kafka, logger)
		if err != nil {
			stack.Close()
			return nil, err
		}
		stack.closers = append(stack.closers, sink.Close)
		coordOpts.Sink = sink
		logger.Info("publishing sync results",
			zap.Strings("brokers", cfg.Sync.Kafka.Brokers),
			zap.String("topic", cfg.Sync.Kafka.Topic),
		)
	}

	stack.collector = collectors.NewCollector(pipeline.Standardizer, pipeline.Assessor, collectorOpts...)
	stack.coordinator = coordinator.New(coordOpts)

	for _, src := range cfg.Sources {
		fetcher, err := collectors.NewFetcher(src)
		if err != nil {
			stack.Close()
			return nil, eris.Wrapf(err, "source %s", src.ID)
		}
		stack.collector.AddSource(src.ID, fetcher)
		stack.coordinator.Register(src.ID, stack.collector)
	}
	return stack, nil
}

// Close releases connections in reverse order of opening.
func (s *syncStack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("failed to close connection", zap.Error(err))
		}
	}
	s.closers = nil
}
