package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/sirupsen/logrus"
)

const (
	TypePaymentSucceeded = "payment.succeeded"
	TypePayoutCompleted  = "payout.completed"
	TypePayoutFailed     = "payout.failed"
)

// Event is the payload published for downstream consumers such as the
// notification service.
type Event struct {
	Type       string    `json:"type"`
	Reference  string    `json:"reference"`
	UserID     string    `json:"user_id"`
	Source     string    `json:"source,omitempty"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency,omitempty"`
	Email      string    `json:"user_email,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// KafkaPublisher produces events keyed by reference so all events for one
// payment land on the same partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	log      logrus.FieldLogger
}

func NewKafkaPublisher(brokers, topic string, log logrus.FieldLogger) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	kp := &KafkaPublisher{producer: p, topic: topic, log: log}
	go kp.drainReports()
	log.WithField("topic", topic).Info("kafka publisher ready")
	return kp, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(e.Reference),
		Value:          value,
		Headers:        []kafka.Header{{Key: "type", Value: []byte(e.Type)}},
	}, nil)
	if err != nil {
		return fmt.Errorf("produce %s: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) drainReports() {
	for ev := range p.producer.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				p.log.WithError(e.TopicPartition.Error).WithField("key", string(e.Key)).Error("event delivery failed")
			}
		case kafka.Error:
			p.log.WithError(e).Error("kafka producer error")
		}
	}
}

func (p *KafkaPublisher) Close() {
	if remaining := p.producer.Flush(5000); remaining > 0 {
		p.log.WithField("remaining", remaining).Warn("kafka flush timed out")
	}
	p.producer.Close()
}

// LogPublisher records events in the log when no broker is configured.
type LogPublisher struct {
	Log logrus.FieldLogger
}

func (p LogPublisher) Publish(ctx context.Context, e Event) error {
	p.Log.WithFields(logrus.Fields{
		"type":      e.Type,
		"reference": e.Reference,
		"user_id":   e.UserID,
		"amount":    e.Amount,
	}).Debug("event")
	return nil
}

func (p LogPublisher) Close() {}
