package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	jsoncodec "github.com/northwind-crm/crmbus/internal/runtime/jsoncodec"
)

// Schema creates the table used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS crmbus_event_outbox (
	id           TEXT PRIMARY KEY,
	topic        TEXT        NOT NULL,
	payload      BYTEA       NOT NULL,
	metadata     JSONB       NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL,
	published_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS crmbus_event_outbox_pending
	ON crmbus_event_outbox (created_at) WHERE published_at IS NULL;
`

// DB is the subset of pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore parks records in PostgreSQL so they survive a restart.
type PostgresStore struct {
	db DB
}

// NewPostgresStore returns a store backed by db, typically a *pgxpool.Pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore connects a pool to url, creates the outbox table and
// returns the store with the pool's close function.
func OpenPostgresStore(ctx context.Context, url string) (*PostgresStore, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect outbox database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping outbox database: %w", err)
	}

	store := NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

// Migrate creates the outbox table when it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create outbox table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	const sql = `
		INSERT INTO crmbus_event_outbox (id, topic, payload, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	metadata, err := jsoncodec.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode outbox metadata: %w", err)
	}
	if _, err := s.db.Exec(ctx, sql, rec.ID, rec.Topic, rec.Payload, metadata, rec.CreatedAt); err != nil {
		return fmt.Errorf("insert outbox record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Pending(ctx context.Context, limit int) ([]Record, error) {
	const sql = `
		SELECT id, topic, payload, metadata, created_at
		FROM crmbus_event_outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := s.db.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec      Record
			metadata []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Topic, &rec.Payload, &metadata, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}
		if len(metadata) > 0 {
			if err := jsoncodec.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decode outbox metadata: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const sql = `
		UPDATE crmbus_event_outbox
		SET published_at = NOW()
		WHERE id = ANY($1)
	`
	if _, err := s.db.Exec(ctx, sql, ids); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}
