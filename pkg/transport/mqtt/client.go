// Package mqtt adapts the paho MQTT client to the transport interfaces of the
// update engine.
package mqtt

import (
	"context"
	stderrors "errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/matt-g-everett/logger/pkg/errors"
	"github.com/matt-g-everett/logger/pkg/ota"
)

// ErrNotConnected is returned by Publish while the connection is down.
var ErrNotConnected = stderrors.New("mqtt: not connected")

const defaultTimeout = 10 * time.Second

// Options configures a Client.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	// Topics are subscribed on every (re)connect.
	Topics []string
	// FragmentSize splits inbound payloads into deliveries of this size.
	FragmentSize int
	Timeout      time.Duration
}

// Handler receives inbound deliveries on the paho router goroutine.
type Handler func(msg ota.Message)

// Client is a QoS 0 MQTT client implementing ota.Transport and
// ota.Connectivity. Inbound messages get a local, monotonically increasing
// message id since QoS 0 packets carry none.
type Client struct {
	opts    Options
	client  paho.Client
	handler Handler

	nextID    atomic.Int64
	connected atomic.Bool

	mu       sync.Mutex
	channels map[string]struct{}
}

// NewClient creates a client. Nothing is dialed until Connect.
func NewClient(opts Options, handler Handler) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	c := &Client{
		opts:     opts,
		handler:  handler,
		channels: make(map[string]struct{}),
	}

	po := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)
	if opts.Username != "" {
		po.SetUsername(opts.Username)
		po.SetPassword(opts.Password)
	}

	c.client = paho.NewClient(po)
	return c
}

// Connect dials the broker and waits for the first connection.
func (c *Client) Connect(ctx context.Context) error {
	slog.Info("mqtt_connecting", "broker", c.opts.BrokerURL, "client_id", c.opts.ClientID)

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		slog.Error("mqtt_connect_failed", "broker", c.opts.BrokerURL, "error", err)
		return errors.Wrap(err, "failed to connect to broker")
	}

	deadline := time.NewTimer(c.opts.Timeout)
	defer deadline.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for !c.connected.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errors.Wrap(ErrNotConnected, "connection not established")
		case <-tick.C:
		}
	}
	return nil
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.connected.Store(false)
	c.client.Disconnect(250)
	slog.Info("mqtt_disconnected", "client_id", c.opts.ClientID)
}

// Connected implements ota.Connectivity.
func (c *Client) Connected() bool {
	return c.connected.Load() && c.client.IsConnectionOpen()
}

// Subscribe implements ota.Transport. Subscriptions are restored after a
// reconnect.
func (c *Client) Subscribe(topic string) error {
	if err := c.wait(c.client.Subscribe(topic, 0, c.onMessage)); err != nil {
		slog.Error("mqtt_subscribe_failed", "topic", topic, "error", err)
		return errors.Wrapf(err, "failed to subscribe to %s", topic)
	}

	c.mu.Lock()
	c.channels[topic] = struct{}{}
	c.mu.Unlock()

	slog.Info("mqtt_subscribed", "topic", topic)
	return nil
}

// Unsubscribe implements ota.Transport.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.channels, topic)
	c.mu.Unlock()

	// The acknowledgement is not awaited: the caller may be what keeps the
	// ordered router from reading it.
	token := c.client.Unsubscribe(topic)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			slog.Error("mqtt_unsubscribe_failed", "topic", topic, "error", err)
			return errors.Wrapf(err, "failed to unsubscribe from %s", topic)
		}
		slog.Info("mqtt_unsubscribed", "topic", topic)
	default:
		go func() {
			if err := c.wait(token); err != nil {
				slog.Warn("mqtt_unsubscribe_unacknowledged", "topic", topic, "error", err)
				return
			}
			slog.Info("mqtt_unsubscribed", "topic", topic)
		}()
	}
	return nil
}

// Publish implements ota.Transport. Publishing while disconnected fails
// immediately instead of queueing.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	if err := c.wait(c.client.Publish(topic, 0, false, payload)); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", topic)
	}
	return nil
}

func (c *Client) wait(token paho.Token) error {
	if !token.WaitTimeout(c.opts.Timeout) {
		return errors.Newf(errors.ErrTimeout, "mqtt operation timed out after %s", c.opts.Timeout)
	}
	return token.Error()
}

func (c *Client) onConnect(pc paho.Client) {
	c.connected.Store(true)
	slog.Info("mqtt_connected", "broker", c.opts.BrokerURL)

	topics := append([]string{}, c.opts.Topics...)
	c.mu.Lock()
	for topic := range c.channels {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	for _, topic := range topics {
		if err := c.wait(pc.Subscribe(topic, 0, c.onMessage)); err != nil {
			slog.Error("mqtt_subscribe_failed", "topic", topic, "error", err)
			continue
		}
		slog.Info("mqtt_subscribed", "topic", topic)
	}
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.connected.Store(false)
	slog.Warn("mqtt_connection_lost", "broker", c.opts.BrokerURL, "error", err)
}

// onMessage hands a message to the handler. Only update channel payloads are
// fragmented; messages on the configured topics arrive whole.
func (c *Client) onMessage(_ paho.Client, m paho.Message) {
	id := c.nextID.Add(1)
	size := c.opts.FragmentSize
	if slices.Contains(c.opts.Topics, m.Topic()) {
		size = 0
	}
	for _, msg := range Fragment(m.Topic(), id, m.Payload(), size) {
		c.handler(msg)
	}
}
