// Package events writes notification events to Kafka for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"billingdesk/internal/common"
	"billingdesk/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink is a best-effort broadcast observer. A failed write is returned
// to the broadcaster, which logs it; nothing is retried or buffered here.
type KafkaSink struct {
	writer  messageWriter
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewKafkaSink(cfg *config.Config, log *zap.SugaredLogger) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.BrokerList()...),
		Topic:        cfg.Kafka.Topic,
		Balancer:     &kafka.Hash{}, // keyed by notification id: per-notification ordering
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaSink(w, log)
}

func newKafkaSink(w messageWriter, log *zap.SugaredLogger) *KafkaSink {
	return &KafkaSink{writer: w, timeout: 5 * time.Second, log: log}
}

func (s *KafkaSink) Name() string {
	return "kafka_sink"
}

func (s *KafkaSink) Update(event common.NotificationEvent) error {
	msg, err := toMessage(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.writer.WriteMessages(ctx, msg)
}

func toMessage(event common.NotificationEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	key := ""
	kind := ""
	if event.Notification != nil {
		key = event.Notification.ID
		kind = string(event.Notification.Kind)
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.At,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(event.Kind)},
			{Key: "kind", Value: []byte(kind)},
		},
	}, nil
}

func (s *KafkaSink) Close() error {
	s.log.Info("closing kafka sink")
	return s.writer.Close()
}
