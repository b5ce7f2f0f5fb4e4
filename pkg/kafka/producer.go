package kafka

import (
	"context"
	"encoding/json"

	"cookshare-payouts/pkg/config"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("kafka.producer",
	fx.Provide(NewPublisher),
)

// Publisher emits domain events to the payout lifecycle topic. Publishing is
// fire-and-forget: a broker outage must never fail the money path.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any)
}

type producer struct {
	p     *kafka.Producer
	topic string
}

func NewPublisher(lc fx.Lifecycle, cfg *config.Config) Publisher {
	if cfg.Kafka.Addrs == "" {
		zap.L().Warn("[Kafka] no brokers configured, events disabled")
		return noopPublisher{}
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Kafka.Addrs,
	})
	if err != nil {
		zap.L().Error("[Kafka] failed to create producer, events disabled", zap.Error(err))
		return noopPublisher{}
	}

	topic := cfg.Kafka.Topic
	if topic == "" {
		topic = "creator-payouts"
	}

	go func() {
		for e := range p.Events() {
			if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
				zap.L().Error("[Kafka] delivery failed", zap.Error(m.TopicPartition.Error))
			}
		}
	}()

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			p.Flush(5000)
			p.Close()
			return nil
		},
	})

	zap.L().Info("[Kafka] producer ready", zap.String("topic", topic))
	return &producer{p: p, topic: topic}
}

type envelope struct {
	EventType string `json:"event_type"`
	Payload   any    `json:"payload"`
}

func (pr *producer) Publish(ctx context.Context, eventType string, payload any) {
	value, err := json.Marshal(envelope{EventType: eventType, Payload: payload})
	if err != nil {
		zap.L().Error("[Kafka] failed to marshal event", zap.String("event_type", eventType), zap.Error(err))
		return
	}

	if err := pr.p.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &pr.topic, Partition: kafka.PartitionAny},
		Key:            []byte(eventType),
		Value:          value,
	}, nil); err != nil {
		zap.L().Error("[Kafka] failed to produce event", zap.String("event_type", eventType), zap.Error(err))
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, eventType string, payload any) {}
