package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/capture-scheduler/internal/logic"
)

// DefaultBufferSize is the number of messages held while disconnected.
const DefaultBufferSize = 256

// Options configures a RealClient.
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	BufferSize     int
	ConnectTimeout time.Duration
	Logger         zerolog.Logger
}

// RealClient publishes to and subscribes on an actual MQTT broker.
// Messages published while the connection is down are kept in a bounded
// buffer and replayed, oldest first, on reconnect.
type RealClient struct {
	client paho.Client
	logger zerolog.Logger

	mu        sync.Mutex
	buffer    *ringBuffer
	subs      map[string]func([]byte)
	connected bool // a connection has been established at least once
}

// NewRealClient creates a client for the given broker and starts connecting.
// If the broker is unreachable within ConnectTimeout the client keeps retrying
// in the background and buffers outgoing messages meanwhile.
func NewRealClient(o Options) (*RealClient, error) {
	if o.ClientID == "" {
		o.ClientID = "capture-scheduler"
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}

	c := &RealClient{
		logger: o.Logger.With().Str("component", "mqtt").Logger(),
		buffer: newRingBuffer(o.BufferSize),
		subs:   make(map[string]func([]byte)),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.logger.Warn().Err(err).Msg("connection lost")
		})
	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(o.ConnectTimeout) {
		c.logger.Warn().Str("broker", o.Broker).Msg("broker not reachable yet, retrying in background")
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

// onConnect runs on paho's goroutine after every successful (re)connect.
func (c *RealClient) onConnect(pc paho.Client) {
	c.mu.Lock()
	reconnect := c.connected
	c.connected = true
	subs := make(map[string]func([]byte), len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	pending := c.buffer.drainAll()
	c.mu.Unlock()

	c.logger.Info().Bool("reconnect", reconnect).Int("buffered", len(pending)).Msg("connected")

	for topic, h := range subs {
		if err := c.subscribe(topic, h); err != nil {
			c.logger.Error().Err(err).Str("topic", topic).Msg("resubscribe failed")
		}
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		pending = append(pending, bufferedMsg{topic: TopicSystem, payload: payload, qos: 1})
	}
	for _, m := range pending {
		token := pc.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(5 * time.Second) {
			c.logger.Warn().Str("topic", m.topic).Msg("replay timeout")
			continue
		}
		if err := token.Error(); err != nil {
			c.logger.Warn().Err(err).Str("topic", m.topic).Msg("replay failed")
		}
	}
}

// Publish sends a capture event to the broker.
func (c *RealClient) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1: a missed capture notification is worse than a duplicate.
	return c.publish(TopicEvents, 1, false, payload)
}

// PublishSystem sends a system lifecycle event to the broker.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.publish(TopicSystem, 1, event.Retained, payload)
}

func (c *RealClient) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		c.enqueue(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		return nil
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		c.enqueue(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *RealClient) enqueue(m bufferedMsg) {
	c.mu.Lock()
	first := c.buffer.push(m)
	n := c.buffer.len()
	c.mu.Unlock()
	if first {
		c.logger.Warn().Int("capacity", n).Msg("buffer full, dropping oldest")
	}
}

// Subscribe registers handler for topic. The subscription is restored after
// every reconnect.
func (c *RealClient) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		// onConnect subscribes once the connection is up.
		return nil
	}
	return c.subscribe(topic, handler)
}

func (c *RealClient) subscribe(topic string, handler func(payload []byte)) error {
	token := c.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		handler(msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.logger.Info().Str("topic", topic).Msg("subscribed")
	return nil
}

// IsConnected reports whether the connection to the broker is up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second grace period
	return nil
}
