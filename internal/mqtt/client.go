// Package mqtt mirrors decoded readings to a local MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/besir660/ruuvi-particle/internal/config"
	"github.com/besir660/ruuvi-particle/internal/ruuvi"
	"github.com/besir660/ruuvi-particle/internal/utils"
)

const publishTimeout = 5 * time.Second

var ErrNotConnected = errors.New("mqtt client not connected")

type Client struct {
	client    paho.Client
	prefix    string
	clientID  string
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	newID func() string
	now   func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// ReadingMessage is the JSON body of a mirrored reading.
type ReadingMessage struct {
	EventID     string    `json:"event_id"`
	Address     string    `json:"address"`
	Name        string    `json:"name,omitempty"`
	Format      uint8     `json:"format"`
	Temperature float64   `json:"temperature_c"`
	Humidity    float64   `json:"humidity_pct"`
	Pressure    float64   `json:"pressure_hpa"`
	Timestamp   time.Time `json:"timestamp"`
}

// Status is the retained per-gateway summary of the last scan cycle.
type Status struct {
	ClientID  string    `json:"client_id"`
	LastScan  time.Time `json:"last_scan"`
	Seen      int       `json:"seen"`
	Decoded   int       `json:"decoded"`
	Published int       `json:"published"`
	Failed    int       `json:"failed"`
}

func NewClient(cfg config.Config, logger *slog.Logger) *Client {
	c := &Client{
		prefix:   cfg.MQTTTopicPrefix,
		clientID: cfg.MQTTClientID,
		logger:   logger,
		newID:    uuid.NewString,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ paho.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = paho.NewClient(opts)
	return c
}

// Connect waits for the initial connection while respecting ctx and
// Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return errors.New("client stopped")
	default:
	}

	if c.IsConnected() {
		return nil
	}

	// With ConnectRetry the token may stay pending while paho keeps retrying.
	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// The OnConnect handler runs asynchronously.
			c.setConnected(true)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return errors.New("client stopped")
		default:
		}
	}
}

// PublishReading sends r to <prefix>/<mac>/reading with QoS 1, not retained.
func (c *Client) PublishReading(r ruuvi.Reading) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	topic, data, err := readingMessage(c.prefix, r, c.newID(), c.now())
	if err != nil {
		return err
	}
	if err := c.publish(topic, false, data); err != nil {
		return fmt.Errorf("publish reading: %w", err)
	}

	c.logger.Debug("mqtt: reading mirrored", "topic", topic, "addr", r.Address)
	return nil
}

// PublishStatus sends the retained gateway status to
// <prefix>/gateway/<client id>/status.
func (c *Client) PublishStatus(st Status) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	st.ClientID = c.clientID
	if st.LastScan.IsZero() {
		st.LastScan = c.now()
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	topic := statusTopic(c.prefix, c.clientID)
	if err := c.publish(topic, true, data); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}

	c.logger.Debug("mqtt: status published",
		"topic", topic,
		"seen", st.Seen,
		"published", st.Published,
		"failed", st.Failed,
	)
	return nil
}

func (c *Client) publish(topic string, retained bool, data []byte) error {
	token := c.client.Publish(topic, 1, retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timeout for topic %s", topic)
	}
	return token.Error()
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect is idempotent. After it, Connect returns "client stopped".
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// ReadingTopic returns the topic a reading from address is mirrored to.
func ReadingTopic(prefix, address string) string {
	return fmt.Sprintf("%s/%s/reading", prefix, utils.NormalizeMAC(address))
}

func statusTopic(prefix, clientID string) string {
	return fmt.Sprintf("%s/gateway/%s/status", prefix, clientID)
}

func readingMessage(prefix string, r ruuvi.Reading, id string, now time.Time) (string, []byte, error) {
	ts := r.SeenAt
	if ts.IsZero() {
		ts = now
	}

	data, err := json.Marshal(ReadingMessage{
		EventID:     id,
		Address:     r.Address,
		Name:        r.Name,
		Format:      r.Format,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Pressure:    r.Pressure,
		Timestamp:   ts.UTC(),
	})
	if err != nil {
		return "", nil, fmt.Errorf("marshal reading: %w", err)
	}
	return ReadingTopic(prefix, r.Address), data, nil
}
