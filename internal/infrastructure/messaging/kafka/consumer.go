// Package kafka feeds create-order commands from a Kafka topic into the
// order service.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/niciki/system-design/internal/domain/model"
	"github.com/niciki/system-design/internal/domain/repository"
	"github.com/niciki/system-design/internal/infrastructure/dto"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ReaderOptions struct {
	Brokers []string
	Topic   string
	GroupID string
}

func NewReader(opts ReaderOptions) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  opts.Brokers,
		Topic:    opts.Topic,
		GroupID:  opts.GroupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
		MaxWait:  1 * time.Second,
	})
}

// Consumer turns each message into an OrderService.Create call on behalf of
// the command's client. Messages that can never succeed are committed and
// skipped; store failures leave the offset uncommitted for redelivery.
type Consumer struct {
	reader MessageReader
	orders repository.OrderService
	logger *zap.Logger
}

func NewConsumer(reader MessageReader, orders repository.OrderService, logger *zap.Logger) *Consumer {
	return &Consumer{reader: reader, orders: orders, logger: logger}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Error("Failed to close Kafka reader", zap.Error(err))
		}
	}()

	c.logger.Info("Starting Kafka consumer")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Kafka consumer context canceled, stopping...")
				return
			}
			c.logger.Error("Failed to fetch message from Kafka", zap.Error(err))
			continue
		}

		if !c.Handle(ctx, msg) {
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Failed to commit message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// Handle processes one message and reports whether its offset should be
// committed.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) bool {
	var cmd dto.CreateOrderRequest
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		c.logger.Warn("Failed to unmarshal create-order command, skipping",
			zap.Int64("offset", msg.Offset), zap.Error(err))
		return true
	}

	caller := model.Caller{UserID: cmd.ClientID, Role: model.RoleClient}
	order, err := c.orders.Create(ctx, caller, cmd.ToModel())
	if err != nil {
		switch {
		case errors.Is(err, model.ErrValidationFailed), errors.Is(err, model.ErrForbidden):
			c.logger.Info("Invalid create-order command, skipping",
				zap.Int64("client_id", cmd.ClientID), zap.Error(err))
			return true
		default:
			c.logger.Error("Failed to create order from command",
				zap.Int64("client_id", cmd.ClientID), zap.Error(err))
			return false
		}
	}

	c.logger.Info("Order processed from Kafka", zap.Int64("order_id", order.OrderID))
	return true
}
