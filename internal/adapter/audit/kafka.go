package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// KafkaSink mirrors the audit trail onto a Kafka topic, keyed by user
// id so one user's records stay ordered. Produce failures fall back to
// the log sink; the trail never blocks request processing.
type KafkaSink struct {
	client   *kgo.Client
	topic    string
	fallback *LogSink
}

// NewKafkaSink connects a producer and bootstraps the topic. Topic
// retention follows the queue retention window so the two trails age
// out together.
func NewKafkaSink(brokers []string, topic string, retentionDays int) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=audit.new_kafka_sink: no seed brokers provided")
	}
	if topic == "" {
		topic = DefaultTopic
	}

	kotelTracer := kotel.NewTracer(
		kotel.TracerProvider(otel.GetTracerProvider()),
	)
	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotelTracer),
	)

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=audit.new_kafka_sink: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ensureTopic(ctx, client, topic, 1, 1, retentionDays); err != nil {
		slog.Warn("audit topic bootstrap failed, producing anyway",
			slog.String("topic", topic),
			slog.Any("error", err))
	}

	return &KafkaSink{client: client, topic: topic, fallback: NewLogSink(nil)}, nil
}

func (s *KafkaSink) Record(ctx context.Context, rec domain.AuditRecord) error {
	rec = normalize(rec)
	b, err := json.Marshal(rec)
	if err != nil {
		return s.fallback.Record(ctx, rec)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(rec.UserID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(rec.Action)},
		},
	}
	s.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			slog.Warn("audit produce failed, falling back to log",
				slog.String("action", rec.Action),
				slog.Any("error", err))
			_ = s.fallback.Record(context.Background(), rec)
		}
	})
	return nil
}

// Close flushes buffered records and releases the client.
func (s *KafkaSink) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Flush(ctx); err != nil {
		slog.Warn("audit flush on close failed", slog.Any("error", err))
	}
	s.client.Close()
}
