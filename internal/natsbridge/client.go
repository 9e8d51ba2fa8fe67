// internal/natsbridge/client.go
package natsbridge

import (
	"encoding/json"
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"
)

// Message is a received NATS message, stripped of the connection's
// internal subscription bookkeeping.
type Message struct {
	Subject string
	Data    []byte
}

// Client wraps a NATS connection with reconnect handling and JSON helpers.
type Client struct {
	conn *nc.Conn
}

// NewClient connects to url with indefinite reconnection.
func NewClient(url string, logger func(format string, args ...interface{})) (*Client, error) {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				logger("natsbridge: disconnected: %v", err)
			}
		}),
		nc.ReconnectHandler(func(c *nc.Conn) {
			logger("natsbridge: reconnected to %s", c.ConnectedUrl())
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// PublishJSON marshals v and publishes it to subject.
func (c *Client) PublishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message for %s: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Subscribe creates an asynchronous subscription on subject.
func (c *Client) Subscribe(subject string, handler func(Message)) (*nc.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nc.Msg) {
		handler(Message{Subject: msg.Subject, Data: msg.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return sub, nil
}

// Flush blocks until buffered publishes reach the server.
func (c *Client) Flush() error {
	if err := c.conn.Flush(); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}
	return nil
}

// IsConnected reports whether the client currently has an active connection.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// RawConn exposes the underlying connection for JetStream context creation.
func (c *Client) RawConn() *nc.Conn {
	return c.conn
}
