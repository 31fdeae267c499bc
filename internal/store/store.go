package store

import (
	"context"
	"time"
)

// Record is one persisted lifecycle transition of an instance. Instance
// names are unique within a cluster run; Node is the spec name the instance
// belongs to.
type Record struct {
	ID         int64
	Instance   string
	Node       string
	State      string
	Detail     string
	PID        int
	OccurredAt time.Time
}

// Store persists lifecycle transitions so operators can reconstruct what a
// test-network run did after the fact.
type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordTransition(ctx context.Context, rec Record) error
	GetByInstance(ctx context.Context, instance string, limit int) ([]Record, error)
	GetByNode(ctx context.Context, node string, limit int) ([]Record, error)
	PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}
