// Package messaging provides a NATS client wrapper for publishing moderation
// events. Broadcasts and moderation actions are fanned out on well-known
// subjects so that log shippers and dashboards can observe chat traffic
// without being in the delivery path.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects published by chatguard.
const (
	SubjectBroadcast = "chat.broadcast"
	SubjectWarn      = "chat.moderation.warn"
	SubjectKick      = "chat.moderation.kick"
	SubjectMute      = "chat.moderation.mute"
)

// BroadcastEvent is the payload published to chat.broadcast for every
// formatted chat line.
type BroadcastEvent struct {
	Message string `json:"message"`
	Color   string `json:"color"` // "r,g,b"
	Ts      int64  `json:"ts"`
}

// ModerationEvent is the payload published for warn/kick/mute actions.
type ModerationEvent struct {
	Slot   int    `json:"slot"`
	Name   string `json:"name"`
	UserID int64  `json:"user_id,omitempty"`
	Action string `json:"action"` // "warn", "kick", "mute"
	Reason string `json:"reason,omitempty"`
	Ts     int64  `json:"ts"`
}

// Client wraps the NATS connection with helper methods for the chatguard
// subjects.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "chatguard",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// New connects to NATS with the given config and returns a ready client.
func New(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// publishJSON marshals v and publishes it on subject. Marshal failures are
// programmer errors on fixed structs, so they are logged and swallowed
// rather than failing the moderation pipeline.
func (c *Client) publishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[nats] marshal %s: %v", subject, err)
		return nil
	}
	return c.conn.Publish(subject, data)
}

// PublishBroadcast publishes a formatted chat line.
func (c *Client) PublishBroadcast(ev BroadcastEvent) error {
	return c.publishJSON(SubjectBroadcast, ev)
}

// PublishModeration publishes a warn/kick/mute action on its subject.
func (c *Client) PublishModeration(ev ModerationEvent) error {
	subject := SubjectWarn
	switch ev.Action {
	case "kick":
		subject = SubjectKick
	case "mute":
		subject = SubjectMute
	}
	return c.publishJSON(subject, ev)
}

// Subscribe registers a handler for the given subject and stores the
// subscription for cleanup on Close.
func (c *Client) Subscribe(subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
