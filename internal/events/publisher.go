// Пакет events — публикация событий о конечных переходах файлов в Kafka.
// Ключ сообщения — идентификатор файла: события одного файла попадают
// в одну партицию и читаются в порядке публикации.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bigkaa/archive-migrator/internal/domain/model"
)

// messageWriter — часть kafka.Writer, используемая публикатором.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher публикует события в топик Kafka.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewKafkaPublisher создаёт публикатор с синхронной записью и
// подтверждением от всех реплик.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafkaPublisher(writer, topic, logger)
}

func newKafkaPublisher(w messageWriter, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		logger: logger.With(slog.String("component", "events")),
	}
}

// Publish отправляет событие.
func (p *KafkaPublisher) Publish(ctx context.Context, e model.MigrationEvent) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("сериализация события: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(e.FileID),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(e.ID)},
			{Key: "status", Value: []byte(e.Status)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("публикация события %s в %s: %w", e.ID, p.topic, err)
	}

	p.logger.Debug("Событие опубликовано",
		slog.String("event_id", e.ID),
		slog.String("file_id", e.FileID),
		slog.String("status", string(e.Status)),
	)
	return nil
}

// Close закрывает writer, дожидаясь отправки буфера.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop — публикатор без отправки, когда брокеры не настроены.
type Nop struct{}

// Publish ничего не делает.
func (Nop) Publish(context.Context, model.MigrationEvent) error { return nil }

// Close ничего не делает.
func (Nop) Close() error { return nil }
