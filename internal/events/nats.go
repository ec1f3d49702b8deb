package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig configures the NATS publisher
type NATSConfig struct {
	URL    string
	Prefix string // Subject prefix (default: "femas")
	Name   string // Connection name
}

// NATSPublisher publishes events to subjects <prefix>.<topic>
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher connects to NATS
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	if cfg.Name == "" {
		cfg.Name = "femasgate"
	}

	nc, err := nats.Connect(
		cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	prefix := strings.TrimSuffix(cfg.Prefix, ".")
	if prefix == "" {
		prefix = "femas"
	}

	log.Info().
		Str("nats_url", cfg.URL).
		Str("prefix", prefix).
		Msg("NATS publisher initialized")

	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

// Subject returns the NATS subject of a topic.
func (p *NATSPublisher) Subject(topic string) string {
	return p.prefix + "." + topic
}

// Publish sends ev as JSON
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !p.nc.IsConnected() {
		return fmt.Errorf("nats publisher not connected")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.Subject(ev.Topic)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Trace().
		Str("event_id", ev.ID.String()).
		Str("subject", subject).
		Msg("Published event")
	return nil
}

// Subscribe delivers events published on topic to handler. The topic may use
// NATS wildcards, e.g. "market.>".
func (p *NATSPublisher) Subscribe(topic string, handler func(Event)) (*nats.Subscription, error) {
	sub, err := p.nc.Subscribe(p.Subject(topic), func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Discarding malformed event")
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return sub, nil
}

// Flush waits until the server has processed all published events.
func (p *NATSPublisher) Flush() error {
	return p.nc.Flush()
}

// Close drains the connection
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}
