// Package publish streams sync results to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ingest-quality-service/internal/coordinator"
)

// KafkaConfig selects the brokers and topic.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// messageWriter is the subset of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink implements coordinator.Sink. Messages are keyed by source id so
// one source's results stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaSink creates a sink writing to cfg.Topic.
func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, eris.New("kafka sink requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, eris.New("kafka sink requires a topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaSink(w, cfg.Topic, logger), nil
}

func newKafkaSink(w messageWriter, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{writer: w, topic: topic, logger: logger}
}

// Publish writes one result as JSON.
func (s *KafkaSink) Publish(ctx context.Context, result coordinator.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "failed to encode sync result")
	}

	status := "success"
	if !result.Success {
		status = "failure"
	}
	msg := kafka.Message{
		Key:   []byte(result.SourceID),
		Value: payload,
		Time:  result.Metrics.EndTime,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(result.RunID)},
			{Key: "status", Value: []byte(status)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return eris.Wrapf(err, "failed to publish result for %s to %s", result.SourceID, s.topic)
	}
	s.logger.Debug("published sync result",
		zap.String("source_id", result.SourceID),
		zap.String("run_id", result.RunID),
		zap.String("topic", s.topic),
	)
	return nil
}

// Close flushes pending messages.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
