package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smallbiznis/rosterpay/internal/config"
	"github.com/smallbiznis/rosterpay/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ChangeRequestEvent is published after every change request transition.
type ChangeRequestEvent struct {
	ChangeRequestID  string    `json:"change_request_id"`
	TeamID           string    `json:"team_id,omitempty"`
	Type             string    `json:"type"`
	Status           string    `json:"status"`
	PreviousStatus   string    `json:"previous_status,omitempty"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type Publisher interface {
	PublishChangeRequest(ctx context.Context, event ChangeRequestEvent) error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// PublishChangeRequest keys messages by change request id so every
// transition of one request lands on the same partition in order.
func (k *KafkaPublisher) PublishChangeRequest(ctx context.Context, event ChangeRequestEvent) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ChangeRequestID),
		Value: msg,
		Time:  event.OccurredAt,
	})
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// LogPublisher writes events to the log when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("events")}
}

func (p *LogPublisher) PublishChangeRequest(ctx context.Context, event ChangeRequestEvent) error {
	logger.WithContext(ctx, p.log).Debug("change request event",
		zap.String("change_request_id", event.ChangeRequestID),
		zap.String("status", event.Status),
		zap.String("previous_status", event.PreviousStatus),
	)
	return nil
}

func providePublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	if len(cfg.KafkaBrokers) == 0 || strings.TrimSpace(cfg.KafkaTopic) == "" {
		log.Info("kafka brokers not configured, change request events are logged only")
		return NewLogPublisher(log)
	}

	publisher := NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	log.Info("kafka publisher configured",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
	)
	return publisher
}

var Module = fx.Module("events",
	fx.Provide(providePublisher),
)
