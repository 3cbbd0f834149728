package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenTransportCore/internal/config"
)

// MQTTSink publishes every event as JSON on its own topic.
type MQTTSink struct {
	cfg    config.MQTTConfig
	client pahomqtt.Client
	logger *zap.Logger
}

// NewMQTTSink connects to the broker. The client reconnects on its own
// after the initial connection succeeded.
func NewMQTTSink(cfg config.MQTTConfig, logger *zap.Logger) (*MQTTSink, error) {
	opts := pahomqtt.NewClientOptions()

	if cfg.UseTLS {
		opts.AddBroker(fmt.Sprintf("ssl://%s:%d", cfg.Broker, cfg.Port))
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	}

	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s:%d: timeout", cfg.Broker, cfg.Port)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s:%d: %w", cfg.Broker, cfg.Port, err)
	}

	logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker), zap.Int("port", cfg.Port))

	return &MQTTSink{cfg: cfg, client: client, logger: logger}, nil
}

func (m *MQTTSink) Name() string { return "mqtt" }

func (m *MQTTSink) Publish(ctx context.Context, event Event) error {
	payload, err := event.Payload()
	if err != nil {
		return err
	}

	token := m.client.Publish(event.Topic, byte(m.cfg.QoS), m.cfg.Retain, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish %s: %w", event.Topic, ctx.Err())
	}
}

func (m *MQTTSink) Close() error {
	m.client.Disconnect(250)
	return nil
}
