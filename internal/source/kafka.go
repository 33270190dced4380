package source

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"pushbridge/internal/event"
	logx "pushbridge/pkg/logx"
)

// KafkaConfig controls the consumer-group subscription.
type KafkaConfig struct {
	Brokers string // comma-separated
	GroupID string // default "pushbridge"
	Topic   string
}

// Kafka consumes one topic and forwards each record as an event. Offsets
// commit only after the event is accepted, so a crash re-delivers rather
// than loses.
type Kafka struct {
	cfg  KafkaConfig
	sink Sink
	log  logx.Logger
}

func NewKafka(cfg KafkaConfig, sink Sink, log logx.Logger) (*Kafka, error) {
	if strings.TrimSpace(cfg.Brokers) == "" {
		return nil, errors.New("kafka brokers is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic is required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		cfg.GroupID = "pushbridge"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Kafka{cfg: cfg, sink: sink, log: log}, nil
}

func (k *Kafka) Run(ctx context.Context) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         strings.Split(k.cfg.Brokers, ","),
		GroupID:         k.cfg.GroupID,
		Topic:           k.cfg.Topic,
		StartOffset:     kafka.LastOffset,
		CommitInterval:  time.Second,
		MinBytes:        1,
		MaxBytes:        10e6,
		ReadLagInterval: -1,
	})
	defer func() { _ = reader.Close() }()

	k.log.Info("kafka consuming",
		logx.String("topic", k.cfg.Topic),
		logx.String("group", k.cfg.GroupID),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		ev := event.New("kafka", payloadFromBytes(msg.Value))
		if len(msg.Key) > 0 {
			ev.Payload["key"] = string(msg.Key)
		}
		k.sink.Enqueue(ev)

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			k.log.Warn("kafka commit failed", logx.Err(err))
		}
	}
}
