// Package mqtt connects stcedge to an MQTT broker so operators can drive
// the cache lifecycle remotely and watch its status.
package mqtt

import (
	"context"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/drsabri-stc/stcedge/internal/conf"
	"github.com/drsabri-stc/stcedge/internal/errors"
	"github.com/drsabri-stc/stcedge/internal/logger"
)

const (
	connectCooldown = 5 * time.Second
	connectTimeout  = 10 * time.Second
	disconnectQuiet = 250 // ms
	qos             = 1
)

// MessageHandler receives a message published on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// Client is the broker connection.
type Client interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Disconnect()
	Publish(ctx context.Context, topic, payload string) error
	PublishWithRetain(ctx context.Context, topic, payload string, retain bool) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Unsubscribe(ctx context.Context, topic string) error
}

type client struct {
	settings conf.MQTTSettings
	log      logger.Logger

	mu              sync.Mutex
	internal        paho.Client
	lastConnAttempt time.Time
	subscriptions   map[string]MessageHandler
}

// NewClient validates settings; Connect must be called before use.
func NewClient(settings *conf.MQTTSettings, log logger.Logger) (Client, error) {
	if settings.Broker == "" {
		return nil, errors.Newf("mqtt broker is not configured").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &client{
		settings:      *settings,
		log:           log.Module("mqtt"),
		subscriptions: make(map[string]MessageHandler),
	}, nil
}

func (c *client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	if !c.lastConnAttempt.IsZero() && time.Since(c.lastConnAttempt) < connectCooldown {
		c.mu.Unlock()
		return errors.Newf("connection attempt too recent, wait %s", connectCooldown).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Build()
	}
	c.lastConnAttempt = time.Now()

	opts := paho.NewClientOptions().
		AddBroker(c.settings.Broker).
		SetClientID(c.settings.ClientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true).
		// Handlers publish status; ordered delivery would block them.
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warn("connection to broker lost", logger.Error(err))
		})
	if c.settings.Username != "" {
		opts.SetUsername(c.settings.Username)
		opts.SetPassword(c.settings.Password)
	}
	c.internal = paho.NewClient(opts)
	cli := c.internal
	c.mu.Unlock()

	if err := wait(ctx, cli.Connect()); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("broker", c.settings.Broker).
			Build()
	}
	c.log.Info("connected to broker", logger.String("broker", c.settings.Broker))
	return nil
}

// onConnect restores subscriptions after the initial connect and every
// automatic reconnect.
func (c *client) onConnect(cli paho.Client) {
	c.mu.Lock()
	subs := make(map[string]MessageHandler, len(c.subscriptions))
	for topic, h := range c.subscriptions {
		subs[topic] = h
	}
	c.mu.Unlock()

	for topic, h := range subs {
		token := cli.Subscribe(topic, qos, adapt(h))
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			c.log.Error("failed to restore subscription",
				logger.String("topic", topic), logger.Error(token.Error()))
		}
	}
}

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internal != nil && c.internal.IsConnected()
}

func (c *client) Disconnect() {
	c.mu.Lock()
	cli := c.internal
	c.mu.Unlock()
	if cli != nil && cli.IsConnected() {
		cli.Disconnect(disconnectQuiet)
		c.log.Info("disconnected from broker")
	}
}

func (c *client) Publish(ctx context.Context, topic, payload string) error {
	return c.PublishWithRetain(ctx, topic, payload, false)
}

func (c *client) PublishWithRetain(ctx context.Context, topic, payload string, retain bool) error {
	cli, err := c.connected(ctx)
	if err != nil {
		return err
	}
	if err := wait(ctx, cli.Publish(topic, qos, retain, payload)); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}
	return nil
}

func (c *client) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	cli, err := c.connected(ctx)
	if err != nil {
		return err
	}
	if err := wait(ctx, cli.Subscribe(topic, qos, adapt(handler))); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}
	c.mu.Lock()
	c.subscriptions[topic] = handler
	c.mu.Unlock()
	return nil
}

func (c *client) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	delete(c.subscriptions, topic)
	c.mu.Unlock()

	cli, err := c.connected(ctx)
	if err != nil {
		return err
	}
	return wait(ctx, cli.Unsubscribe(topic))
}

func (c *client) connected(ctx context.Context) (paho.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	cli := c.internal
	c.mu.Unlock()
	if cli == nil || !cli.IsConnected() {
		return nil, errors.Newf("not connected to broker").
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Build()
	}
	return cli, nil
}

func adapt(h MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		h(msg.Topic(), msg.Payload())
	}
}

// wait blocks until token completes or ctx ends.
func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
