package emitter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// MQTTConfig describes the broker and topic used for events
type MQTTConfig struct {
	Broker  string // e.g. tcp://localhost:1883
	Topic   string
	QoS     byte
	Timeout time.Duration // Connect and publish deadline
}

// MQTTSink publishes each event as one message on a single topic
type MQTTSink struct {
	cfg    MQTTConfig
	client mqtt.Client
	logger *log.Entry

	mu        sync.RWMutex
	connected bool
	published uint64
}

// NewMQTTSink connects to the broker. The client id is pepperbot-<uuid>.
func NewMQTTSink(ctx context.Context, cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	s := &MQTTSink{
		cfg:    cfg,
		logger: log.WithFields(log.Fields{"component": "emitter", "sink": "mqtt", "broker": broker}),
	}

	clientID := "pepperbot-" + uuid.NewString()
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		s.setConnected(true)
		s.logger.WithField("client_id", clientID).Info("MQTT connection established")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.WithError(err).Warn("MQTT connection lost, will auto-reconnect")
	}

	s.client = mqtt.NewClient(opts)

	token := s.client.Connect()
	if err := waitToken(ctx, token, cfg.Timeout); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	s.setConnected(true)
	return s, nil
}

// WriteEvent publishes line and waits for the broker acknowledgement
func (s *MQTTSink) WriteEvent(line []byte) error {
	if !s.isConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	payload := []byte(strings.TrimRight(string(line), "\n"))

	token := s.client.Publish(s.cfg.Topic, s.cfg.QoS, false, payload)
	if err := waitToken(context.Background(), token, s.cfg.Timeout); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	s.mu.Lock()
	s.published++
	s.mu.Unlock()
	s.logger.WithFields(log.Fields{"topic": s.cfg.Topic, "size": len(payload)}).Debug("Event published")
	return nil
}

// Published returns the number of acknowledged events
func (s *MQTTSink) Published() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published
}

// Close disconnects after letting in-flight messages drain
func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	s.setConnected(false)
	s.logger.Info("MQTT sink closed")
	return nil
}

func (s *MQTTSink) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *MQTTSink) isConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// waitToken waits for a paho token, honoring ctx and timeout
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
