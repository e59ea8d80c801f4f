// Package queue exports committed audit chain entries to Kafka.
package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/upb/helpdesk/config"
	"github.com/upb/helpdesk/models"
	"go.uber.org/zap"
)

// messageWriter is the subset of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes audit entries to a Kafka topic. Messages are keyed
// by sequence number so a single partition keeps chain order.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewKafkaPublisher creates a synchronous producer for cfg.AuditTopic
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.AuditTopic == "" {
		return nil, fmt.Errorf("kafka audit topic is required")
	}

	transport := &kafka.Transport{}
	if cfg.Username != "" {
		transport.SASL = plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	if cfg.TLS {
		transport.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		Transport:    transport,
		WriteTimeout: timeout,
	}

	logger.Info("kafka audit export enabled",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.AuditTopic))

	return newKafkaPublisher(writer, cfg.AuditTopic, timeout, logger), nil
}

func newKafkaPublisher(writer messageWriter, topic string, timeout time.Duration, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer:  writer,
		topic:   topic,
		timeout: timeout,
		logger:  logger,
	}
}

// Publish writes entry to the topic and waits for all in-sync replicas
func (p *KafkaPublisher) Publish(ctx context.Context, entry *models.AuditLogEntry) error {
	msg, err := NewMessage(entry)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish audit entry %d to %s: %w", entry.SequenceNumber, p.topic, err)
	}

	p.logger.Debug("published audit entry",
		zap.String("topic", p.topic),
		zap.Int64("sequence", entry.SequenceNumber))
	return nil
}

// Close flushes and closes the underlying writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NewMessage builds the Kafka message for entry
func NewMessage(entry *models.AuditLogEntry) (kafka.Message, error) {
	value, err := json.Marshal(entry)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode audit entry: %w", err)
	}

	return kafka.Message{
		Key:   []byte(strconv.FormatInt(entry.SequenceNumber, 10)),
		Value: value,
		Time:  entry.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(entry.Action)},
			{Key: "self-hash", Value: []byte(entry.SelfHash)},
		},
	}, nil
}

// NopPublisher discards entries. It is used when Kafka export is disabled.
type NopPublisher struct{}

// Publish does nothing
func (NopPublisher) Publish(context.Context, *models.AuditLogEntry) error { return nil }

// Close does nothing
func (NopPublisher) Close() error { return nil }
