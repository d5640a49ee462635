package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaStore appends audit events to a Kafka topic. Events are keyed by
// login so per-account history stays ordered within a partition.
type KafkaStore struct {
	client *kgo.Client
	logger *slog.Logger
}

func NewKafkaStore(brokers []string, topic string, logger *slog.Logger) (*KafkaStore, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaStore{client: client, logger: logger}, nil
}

func (s *KafkaStore) Append(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{Key: []byte(e.Login), Value: value}
	s.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			s.logger.Warn("audit produce failed",
				slog.String("kind", string(e.Kind)),
				slog.String("error", err.Error()),
			)
		}
	})
	return nil
}

func (s *KafkaStore) Close() {
	s.client.Flush(context.Background())
	s.client.Close()
}
