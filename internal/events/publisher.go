package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"catalogsync/internal/config"
	"catalogsync/internal/logger"

	"github.com/segmentio/kafka-go"
)

type Publisher interface {
	Publish(ctx context.Context, job Job) error
	Close() error
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer MessageWriter
	logger *logger.Logger
}

func NewKafkaPublisher(cfg *config.Config, logger *logger.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(Brokers(cfg.KafkaBrokers)...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return NewPublisher(writer, logger)
}

func NewPublisher(w MessageWriter, logger *logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger}
}

// Publish writes the job keyed by owner, so one owner's jobs stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	value, err := Encode(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(job.OwnerID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "job_type", Value: []byte(job.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", job.ID, err)
	}
	p.logger.Debug("Published %s job %s for owner %s", job.Type, job.ID, job.OwnerID)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Brokers splits a comma separated broker list.
func Brokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
