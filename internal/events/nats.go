package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher publishes ledger events as JSON to "<prefix>.<type>".
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher connects to url. Connection loss is retried forever in the
// background; publishes made while disconnected are buffered by the client.
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	if url == "" {
		return nil, errors.New("events: nats url is required")
	}
	if prefix == "" {
		prefix = "ledger"
	}

	opts := []nats.Option{
		nats.Name("ledger-engine"),
		nats.Timeout(5 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("events: connect to nats: %w", err)
	}

	slog.Info("connected to NATS", "url", url, "prefix", prefix)
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// Handle implements Handler.
func (p *NATSPublisher) Handle(_ context.Context, ev Event) error {
	if p.nc == nil {
		return errors.New("events: nats not connected")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Type, err)
	}
	if err := p.nc.Publish(p.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Type, err)
	}
	return nil
}

// Ready reports whether the connection is up.
func (p *NATSPublisher) Ready() bool {
	if p.nc == nil {
		return false
	}
	return p.nc.Status() == nats.CONNECTED
}

// Close drains pending publishes and closes the connection. Safe to call
// more than once.
func (p *NATSPublisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() || p.nc.IsDraining() {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("events: drain nats: %w", err)
	}
	slog.Info("NATS connection closed")
	return nil
}
