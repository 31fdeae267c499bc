package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/herd/internal/store"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instance_transition(
			id BIGSERIAL PRIMARY KEY,
			instance TEXT NOT NULL,
			node TEXT NOT NULL,
			state TEXT NOT NULL,
			detail TEXT NULL,
			pid INTEGER NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_instance_transition_instance ON instance_transition(instance);`,
		`CREATE INDEX IF NOT EXISTS idx_instance_transition_node ON instance_transition(node);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) RecordTransition(ctx context.Context, rec store.Record) error {
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO instance_transition(instance, node, state, detail, pid, occurred_at)
		VALUES($1,$2,$3,$4,$5,$6);`,
		rec.Instance, rec.Node, rec.State, rec.Detail, rec.PID, rec.OccurredAt.UTC())
	return err
}

func (p *DB) GetByInstance(ctx context.Context, instance string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, instance, node, state, detail, pid, occurred_at
		FROM instance_transition
		WHERE instance=$1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2;`, instance, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (p *DB) GetByNode(ctx context.Context, node string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, instance, node, state, detail, pid, occurred_at
		FROM instance_transition
		WHERE node=$1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2;`, node, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (p *DB) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM instance_transition WHERE occurred_at < $1;`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	out := make([]store.Record, 0)
	for rows.Next() {
		var r store.Record
		var detail sql.NullString
		if err := rows.Scan(&r.ID, &r.Instance, &r.Node, &r.State, &detail, &r.PID, &r.OccurredAt); err != nil {
			return nil, err
		}
		r.Detail = detail.String
		out = append(out, r)
	}
	return out, rows.Err()
}
