package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"telegram-image-editor/internal/config"
	"telegram-image-editor/internal/domain/ports/adapter"
	"telegram-image-editor/internal/infra/logging"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ adapter.JobEventPublisher = (*KafkaPublisher)(nil)

// KafkaPublisher writes job events keyed by job id so all events of a job
// land on the same partition.
type KafkaPublisher struct {
	w     messageWriter
	topic string
	log   zerolog.Logger
}

// New returns a Kafka publisher, or Noop when no brokers are configured.
func New(cfg config.EventsConfig, logger *zerolog.Logger) adapter.JobEventPublisher {
	if len(cfg.Brokers) == 0 {
		logger.Info().Msg("job events disabled: no brokers configured")
		return Noop{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaPublisher(w, cfg.Topic, logger)
}

func newKafkaPublisher(w messageWriter, topic string, logger *zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		w:     w,
		topic: topic,
		log:   logger.With().Str("component", "JobEvents").Str("topic", topic).Logger(),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev adapter.JobEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.JobID),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(ev.Status)},
		},
	}
	if tid := logging.TraceIDFrom(ctx); tid != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "trace_id", Value: []byte(tid)})
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish job event %s: %w", ev.JobID, err)
	}
	p.log.Debug().Str("job_id", ev.JobID).Str("status", ev.Status).Msg("job event published")
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
