// Package events publishes connector lifecycle events over NATS.
//
// Events land on dotted subjects under a configurable prefix:
//
//	rerankd.connector.registered
//	rerankd.connector.deregistered
//	rerankd.model.deployed
//	rerankd.model.undeployed
//
// Payloads are the JSON-encoded connector.Event. Publishing is
// best-effort: a broker hiccup is logged and never fails the registry
// operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rerankd/internal/connector"
	"github.com/fyrsmithlabs/rerankd/internal/logging"
)

// Publisher implements connector.EventSink over a NATS connection.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger
}

// NewPublisher wraps an established NATS connection. The prefix heads
// every subject; empty defaults to "rerankd".
func NewPublisher(nc *nats.Conn, prefix string, logger *logging.Logger) (*Publisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if prefix == "" {
		prefix = "rerankd"
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}, nil
}

// Publish sends the event to its lifecycle subject.
func (p *Publisher) Publish(ctx context.Context, ev connector.Event) error {
	subject := p.prefix + "." + ev.Type

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	if err := p.nc.Publish(subject, payload); err != nil {
		if p.logger != nil {
			p.logger.Warn(ctx, "event publish failed",
				zap.String("subject", subject),
				zap.Error(err),
			)
		}
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}

	if p.logger != nil {
		p.logger.Debug(ctx, "event published",
			zap.String("subject", subject),
			zap.String("connector_id", ev.ConnectorID),
			zap.String("model_id", ev.ModelID),
		)
	}
	return nil
}

// Close flushes and closes the underlying connection.
func (p *Publisher) Close() {
	if p.nc != nil && !p.nc.IsClosed() {
		_ = p.nc.Flush()
		p.nc.Close()
	}
}

var _ connector.EventSink = (*Publisher)(nil)
