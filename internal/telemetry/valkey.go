package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenTransportCore/internal/config"
)

// ValkeySink stores the last value of every topic under a key and
// publishes the event on the matching channel.
type ValkeySink struct {
	cfg    config.ValkeyConfig
	client *redis.Client
	logger *zap.Logger
}

func NewValkeySink(cfg config.ValkeyConfig, logger *zap.Logger) (*ValkeySink, error) {
	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Valkey at %s: %w", cfg.Address, err)
	}

	logger.Info("Connected to Valkey", zap.String("address", cfg.Address), zap.Int("db", cfg.Database))

	return &ValkeySink{cfg: cfg, client: client, logger: logger}, nil
}

func (v *ValkeySink) Name() string { return "valkey" }

// Key maps a topic to a Valkey key, e.g. "transport:conveyor:A:direction".
func (v *ValkeySink) Key(topic string) string {
	parts := []string{}
	if p := strings.Trim(v.cfg.KeyPrefix, ":"); p != "" {
		parts = append(parts, p)
	}
	for _, seg := range strings.Split(topic, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, ":")
}

func (v *ValkeySink) Publish(ctx context.Context, event Event) error {
	payload, err := event.Payload()
	if err != nil {
		return err
	}

	key := v.Key(event.Topic)
	pipe := v.client.TxPipeline()
	pipe.Set(ctx, key, payload, v.cfg.KeyTTL)
	pipe.Publish(ctx, key, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("valkey publish %s: %w", key, err)
	}
	return nil
}

func (v *ValkeySink) Close() error {
	return v.client.Close()
}
