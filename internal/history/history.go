package history

import (
	"context"
	"time"
)

// EventType defines the kind of cluster-health event.
type EventType string

const (
	// EventTransition is one lifecycle state change of an instance.
	EventTransition EventType = "transition"
	// EventRemediation marks the start of an unhealthy-instance restart.
	EventRemediation EventType = "remediation"
	// EventEscalation marks an instance driven to terminal Failed.
	EventEscalation EventType = "escalation"
	// EventCluster carries cluster-wide conditions such as a failed key
	// materialization blocking the whole startup chain.
	EventCluster EventType = "cluster"
)

// Event is a cluster-health event exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	Instance   string    `json:"instance,omitempty"`
	Node       string    `json:"node,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for cluster-health events (analytics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
