// Package broker wraps the realtime messaging client transcription
// workers and publishers use to reach conversation channels. Unlike a
// connect-time fixed topic list, every conversation needs its own
// channels subscribed and unsubscribed as Whisperers and Listeners come
// and go, so subscriptions are issued dynamically against one shared
// connection per process.
package broker

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MessageHandler is invoked for every message received on a subscribed
// channel. messageID is the broker's own identity for the delivery —
// stable and identical for every subscriber that receives the same
// published message, unlike anything a subscriber could mint locally —
// so callers needing to recognize the same message arriving twice
// (e.g. during a transcription handoff) dedup on it directly instead of
// on payload content.
type MessageHandler func(channel, messageID string, payload []byte)

// Options configures a Client connection.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	Log       zerolog.Logger
}

// Client is a single broker connection shared by every active
// transcription worker and publisher in the process.
type Client struct {
	conn      mqtt.Client
	log       zerolog.Logger
	connected atomic.Bool
}

// NewWithConn wraps an already-established mqtt.Client connection. It
// exists alongside Connect so a caller holding a connection from
// elsewhere (or a test fake) can still get the dynamic subscribe
// bookkeeping this package provides.
func NewWithConn(conn mqtt.Client, log zerolog.Logger) *Client {
	c := &Client{conn: conn, log: log.With().Str("component", "broker").Logger()}
	c.connected.Store(conn.IsConnected())
	return c
}

// Connect dials the broker and blocks until the connection succeeds or
// the token times out.
func Connect(opts Options) (*Client, error) {
	mqttOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	c := &Client{log: opts.Log.With().Str("component", "broker").Logger()}

	mqttOpts.SetOnConnectHandler(func(mqtt.Client) {
		c.connected.Store(true)
		c.log.Info().Msg("broker connected")
	})
	mqttOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.connected.Store(false)
		c.log.Warn().Err(err).Msg("broker connection lost")
	})

	c.conn = mqtt.NewClient(mqttOpts)
	token := c.conn.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("broker: connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("broker: connect failed: %w", err)
	}
	return c, nil
}

// Subscribe attaches handler to channel. Each conversation's content and
// control channels are subscribed independently as transcription workers
// start, not at connect time.
func (c *Client) Subscribe(ctx context.Context, channel string, handler MessageHandler) error {
	token := c.conn.Subscribe(channel, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), strconv.Itoa(int(msg.MessageID())), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("broker: subscribe to %s timed out", channel)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker: subscribe to %s: %w", channel, err)
	}
	c.log.Debug().Str("channel", channel).Msg("subscribed")
	return nil
}

// Unsubscribe detaches a previously subscribed channel.
func (c *Client) Unsubscribe(channel string) error {
	token := c.conn.Unsubscribe(channel)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("broker: unsubscribe from %s timed out", channel)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("broker: unsubscribe from %s: %w", channel, err)
	}
	c.log.Debug().Str("channel", channel).Msg("unsubscribed")
	return nil
}

// Publish sends payload on channel.
func (c *Client) Publish(ctx context.Context, channel string, payload string) error {
	token := c.conn.Publish(channel, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("broker: publish to %s timed out", channel)
	}
	return token.Error()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting broker client")
	c.conn.Disconnect(250)
}
