package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/fdclock/internal/config"
	"github.com/your-org/fdclock/internal/models"
)

const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS identities (
	position     INTEGER     NOT NULL,
	id           UUID        PRIMARY KEY,
	external_id  TEXT        NOT NULL UNIQUE,
	display_name TEXT        NOT NULL,
	embedding    vector      NOT NULL,
	enrolled_at  TIMESTAMPTZ NOT NULL,
	last_in_at   TIMESTAMPTZ,
	last_out_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS attendance_events (
	position      BIGINT      NOT NULL,
	id            UUID        PRIMARY KEY,
	identity_id   UUID        NOT NULL,
	identity_name TEXT        NOT NULL,
	timestamp     TIMESTAMPTZ NOT NULL,
	kind          TEXT        NOT NULL,
	confidence    REAL        NOT NULL
);`

// PostgresBackend stores the collections in two tables. A save rewrites the
// whole table inside one transaction, so readers of the database never see
// a half-written collection.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

func NewPostgresBackend(ctx context.Context, cfg config.DatabaseConfig) (*PostgresBackend, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return &PostgresBackend{pool: pool}, nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// --- Identities ---

func (b *PostgresBackend) LoadIdentities(ctx context.Context) ([]models.Identity, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id, external_id, display_name, embedding, enrolled_at, last_in_at, last_out_at
		 FROM identities ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	identities := []models.Identity{}
	for rows.Next() {
		var (
			id  models.Identity
			vec pgvector.Vector
		)
		if err := rows.Scan(&id.ID, &id.ExternalID, &id.DisplayName, &vec,
			&id.EnrolledAt, &id.LastInAt, &id.LastOutAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		id.Embedding = vec.Slice()
		id.EnrolledAt = id.EnrolledAt.UTC()
		id.LastInAt = utcPtr(id.LastInAt)
		id.LastOutAt = utcPtr(id.LastOutAt)
		identities = append(identities, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

func (b *PostgresBackend) SaveIdentities(ctx context.Context, identities []models.Identity) error {
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM identities`); err != nil {
			return fmt.Errorf("clear identities: %w", err)
		}

		batch := &pgx.Batch{}
		for i, id := range identities {
			batch.Queue(
				`INSERT INTO identities (position, id, external_id, display_name, embedding, enrolled_at, last_in_at, last_out_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				i, id.ID, id.ExternalID, id.DisplayName, pgvector.NewVector(id.Embedding),
				id.EnrolledAt, id.LastInAt, id.LastOutAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert identities: %w", err)
		}
		return nil
	})
}

// --- Events ---

func (b *PostgresBackend) LoadEvents(ctx context.Context) ([]models.AttendanceEvent, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id, identity_id, identity_name, timestamp, kind, confidence
		 FROM attendance_events ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []models.AttendanceEvent{}
	for rows.Next() {
		var (
			ev   models.AttendanceEvent
			kind string
		)
		if err := rows.Scan(&ev.ID, &ev.IdentityID, &ev.IdentityName, &ev.Timestamp, &kind, &ev.Confidence); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.Kind, err = models.ParseEventKind(kind); err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		ev.Timestamp = ev.Timestamp.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (b *PostgresBackend) SaveEvents(ctx context.Context, events []models.AttendanceEvent) error {
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM attendance_events`); err != nil {
			return fmt.Errorf("clear events: %w", err)
		}

		batch := &pgx.Batch{}
		for i, ev := range events {
			batch.Queue(
				`INSERT INTO attendance_events (position, id, identity_id, identity_name, timestamp, kind, confidence)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				i, ev.ID, ev.IdentityID, ev.IdentityName, ev.Timestamp, string(ev.Kind), ev.Confidence,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
		return nil
	})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
