package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/niciki/system-design/internal/infrastructure/config"
	"github.com/niciki/system-design/internal/infrastructure/dto"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", err)
		}
	}()

	cfg, err := config.LoadProducerConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Kafka.Brokers...),
		Topic:                  cfg.Kafka.Topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logger.Error("Failed to close Kafka writer", zap.Error(err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	logger.Info("Producer started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.Float64("bad_rate", cfg.BadDataRate),
		zap.Duration("interval", cfg.Interval),
		zap.Int("count", cfg.Count))

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for sent := 0; cfg.Count == 0 || sent < cfg.Count; sent++ {
		select {
		case <-ctx.Done():
			logger.Info("Stopping producer...")
			return
		case <-ticker.C:
			if err := produce(ctx, writer, cfg, logger); err != nil {
				logger.Error("Failed to produce message", zap.Error(err))
			}
		}
	}
	logger.Info("Producer finished", zap.Int("count", cfg.Count))
}

func produce(ctx context.Context, writer *kafka.Writer, cfg *config.ProducerConfig, logger *zap.Logger) error {
	if rand.Float64() < cfg.BadDataRate {
		return sendGarbage(ctx, writer)
	}
	return sendCommand(ctx, writer, cfg.MaxClientID, logger)
}

func sendCommand(ctx context.Context, writer *kafka.Writer, maxClientID int, logger *zap.Logger) error {
	cmd := generateCommand(maxClientID)

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	key := []byte(strconv.FormatInt(cmd.ClientID, 10))
	if err := writer.WriteMessages(ctx, kafka.Message{Key: key, Value: payload}); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	logger.Info("Create-order command sent", zap.Int64("client_id", cmd.ClientID), zap.Int("items", len(cmd.Items)))
	return nil
}

func sendGarbage(ctx context.Context, writer *kafka.Writer) error {
	garbage := []byte(fmt.Sprintf(`{"client_id": "%s", "broken": true,`, gofakeit.UUID()))

	return writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(gofakeit.UUID()),
		Value: garbage,
	})
}

func generateCommand(maxClientID int) dto.CreateOrderRequest {
	items := make([]dto.OrderItem, gofakeit.Number(1, 4))
	for i := range items {
		items[i] = dto.OrderItem{
			ProductID: int64(gofakeit.Number(1, 100000)),
			Name:      gofakeit.ProductName(),
			Quantity:  gofakeit.Number(1, 5),
			Price:     gofakeit.Price(1, 500),
		}
	}

	cmd := dto.CreateOrderRequest{
		ClientID:      int64(gofakeit.Number(1, max(maxClientID, 1))),
		Items:         items,
		PaymentMethod: gofakeit.RandomString([]string{"cash", "card", "online"}),
		DeliveryType:  gofakeit.RandomString([]string{"standard", "express", "pickup"}),
	}
	if cmd.DeliveryType != "pickup" {
		addr := gofakeit.Address()
		cmd.DeliveryAddress = &dto.Address{
			Street:     addr.Street,
			City:       addr.City,
			PostalCode: addr.Zip,
			Country:    addr.Country,
		}
	}
	if gofakeit.Bool() {
		eta := time.Now().UTC().AddDate(0, 0, gofakeit.Number(1, 14))
		cmd.EstimatedDelivery = &eta
	}
	if gofakeit.Bool() {
		notes := gofakeit.Phrase()
		cmd.Notes = &notes
	}
	return cmd
}
