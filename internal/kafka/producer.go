package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/creator-leaderboard/internal/config"
	"github.com/creator-leaderboard/internal/domain"
)

// Producer publishes new-entrant events to Kafka so downstream consumers
// (notifications, analytics) can react to creators entering the top-N.
type Producer struct {
	config   *config.KafkaConfig
	producer sarama.SyncProducer
	logger   *slog.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	saramaConfig.Producer.Retry.Backoff = cfg.RetryDelay
	saramaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	return &Producer{
		config:   cfg,
		producer: producer,
		logger:   logger,
	}, nil
}

// Close closes the underlying producer
func (p *Producer) Close() error {
	return p.producer.Close()
}

// PublishNewEntrants sends one message per entrant, keyed by platform so
// a platform's events stay ordered within a partition.
func (p *Producer) PublishNewEntrants(ctx context.Context, entrants []domain.NewEntrant) error {
	if len(entrants) == 0 {
		return nil
	}

	messages := make([]*sarama.ProducerMessage, 0, len(entrants))
	for _, e := range entrants {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling entrant: %w", err)
		}
		messages = append(messages, &sarama.ProducerMessage{
			Topic: p.config.Topic,
			Key:   sarama.StringEncoder(e.Platform),
			Value: sarama.ByteEncoder(data),
		})
	}

	if err := p.producer.SendMessages(messages); err != nil {
		return fmt.Errorf("publishing new entrants: %w", err)
	}

	p.logger.Debug("published new entrants",
		"platform", entrants[0].Platform,
		"count", len(entrants),
	)
	return nil
}
