// Package gateway connects the router to the platform adapters over
// NATS JetStream. Adapters publish inbound chat messages to
// chorus.inbound.<channel>; the gateway publishes persona replies to
// chorus.outbound.<channel> for the adapters to deliver.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jordanhubbard/chorus/internal/router"
)

const (
	inboundSubject        = "chorus.inbound.>"
	outboundSubjectPrefix = "chorus.outbound."
)

// Config holds NATS configuration.
type Config struct {
	URL            string        `yaml:"url"`             // NATS server URL (e.g., "nats://nats:4222")
	StreamName     string        `yaml:"stream_name"`     // JetStream stream name (default: "CHORUS")
	Timeout        time.Duration `yaml:"timeout"`         // Connection timeout
	ConsumerPrefix string        `yaml:"consumer_prefix"` // Prefix for durable consumer names (for test isolation)
}

// NatsBus implements the gateway message bus using NATS with JetStream.
type NatsBus struct {
	conn           *nats.Conn
	js             nats.JetStreamContext
	subscriptions  map[string]*nats.Subscription
	streamName     string
	url            string
	consumerPrefix string
}

// NewNatsBus connects to NATS and ensures the chorus stream exists.
func NewNatsBus(cfg Config) (*NatsBus, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "CHORUS"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[gateway] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[gateway] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	b := &NatsBus{
		conn:           nc,
		js:             js,
		subscriptions:  make(map[string]*nats.Subscription),
		streamName:     cfg.StreamName,
		url:            cfg.URL,
		consumerPrefix: cfg.ConsumerPrefix,
	}

	if err := b.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Printf("[gateway] connected to NATS at %s with JetStream stream %s", cfg.URL, cfg.StreamName)
	return b, nil
}

// ensureStream creates or updates the JetStream stream. Uses
// LimitsPolicy so that multiple adapters can consume the same outbound
// subjects.
func (b *NatsBus) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      b.streamName,
		Subjects:  []string{"chorus.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	_, err := b.js.StreamInfo(b.streamName)
	if err != nil {
		_, err = b.js.AddStream(streamConfig)
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		log.Printf("[gateway] created JetStream stream: %s", b.streamName)
		return nil
	}

	_, err = b.js.UpdateStream(streamConfig)
	if err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// PublishReply publishes a persona reply for the platform adapters.
func (b *NatsBus) PublishReply(ctx context.Context, reply *router.Reply) error {
	subject := outboundSubjectPrefix + reply.ChannelID
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}
	if _, err := b.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish reply to %s: %w", subject, err)
	}
	return nil
}

// SubscribeInbound sets up a durable subscription over all inbound
// chat messages. Malformed payloads are Nak'd and logged.
func (b *NatsBus) SubscribeInbound(handler func(*router.InboundMessage)) error {
	return b.subscribe(inboundSubject, "inbound-router", func(msg *nats.Msg) {
		var in router.InboundMessage
		if err := json.Unmarshal(msg.Data, &in); err != nil {
			log.Printf("[gateway] failed to unmarshal inbound message: %v", err)
			msg.Nak()
			return
		}
		handler(&in)
		msg.Ack()
	})
}

// prefixConsumer adds the optional consumer prefix for namespace isolation.
func (b *NatsBus) prefixConsumer(name string) string {
	if b.consumerPrefix != "" {
		return b.consumerPrefix + "-" + name
	}
	return name
}

func (b *NatsBus) subscribe(subject, consumerName string, handler nats.MsgHandler) error {
	prefixed := b.prefixConsumer(consumerName)
	sub, err := b.js.Subscribe(subject, handler,
		nats.Durable(prefixed),
		nats.AckExplicit(),
		nats.MaxDeliver(3),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	b.subscriptions[subject] = sub
	log.Printf("[gateway] subscribed to %s with consumer %s", subject, prefixed)
	return nil
}

// Unsubscribe removes a subscription.
func (b *NatsBus) Unsubscribe(subject string) error {
	sub, ok := b.subscriptions[subject]
	if !ok {
		return fmt.Errorf("no subscription found for %s", subject)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", subject, err)
	}
	delete(b.subscriptions, subject)
	return nil
}

// Close closes all subscriptions and the NATS connection.
func (b *NatsBus) Close() error {
	for subject := range b.subscriptions {
		_ = b.Unsubscribe(subject)
	}
	b.conn.Close()
	log.Printf("[gateway] closed NATS connection")
	return nil
}

// Health reports whether the connection and stream are usable.
func (b *NatsBus) Health() error {
	if b.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	if _, err := b.js.StreamInfo(b.streamName); err != nil {
		return fmt.Errorf("JetStream stream %s is unhealthy: %w", b.streamName, err)
	}
	return nil
}

// Stats returns statistics about the bus for the admin API.
func (b *NatsBus) Stats() map[string]interface{} {
	stats := make(map[string]interface{})
	stats["url"] = b.url
	stats["stream"] = b.streamName
	stats["connected"] = b.conn.IsConnected()
	stats["subscriptions"] = len(b.subscriptions)

	streamInfo, err := b.js.StreamInfo(b.streamName)
	if err == nil {
		stats["stream_messages"] = streamInfo.State.Msgs
		stats["stream_bytes"] = streamInfo.State.Bytes
		stats["stream_consumers"] = streamInfo.State.Consumers
	}
	return stats
}
