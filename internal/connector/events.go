package connector

import (
	"context"
	"time"
)

// Event types published on registry lifecycle transitions.
const (
	EventConnectorRegistered   = "connector.registered"
	EventConnectorUpdated      = "connector.updated"
	EventConnectorDeregistered = "connector.deregistered"
	EventModelDeployed         = "model.deployed"
	EventModelUndeployed       = "model.undeployed"
)

// Event describes one registry lifecycle transition.
type Event struct {
	Type        string    `json:"type"`
	ConnectorID string    `json:"connector_id,omitempty"`
	ModelID     string    `json:"model_id,omitempty"`
	Name        string    `json:"name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventSink receives registry lifecycle events. Publish failures are
// logged by implementations and never fail the originating operation.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}
