package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTableName = "conversations"

const createTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    id         TEXT PRIMARY KEY,
    data       JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`

// Querier is the subset of pgx used by Postgres. *pgxpool.Pool, *pgx.Conn
// and pgx.Tx all satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores each chat as one JSONB row.
type Postgres struct {
	db        Querier
	tableName string
	closeFn   func()
}

// PostgresOption configures a Postgres store.
type PostgresOption func(*Postgres)

// WithTableName overrides the table name. The name is quoted with
// pgx.Identifier since it is interpolated into the SQL text.
func WithTableName(name string) PostgresOption {
	return func(p *Postgres) {
		if name != "" {
			p.tableName = pgx.Identifier{name}.Sanitize()
		}
	}
}

// NewPostgres wraps an existing query executor. The caller owns db.
func NewPostgres(db Querier, opts ...PostgresOption) *Postgres {
	p := &Postgres{db: db, tableName: defaultTableName}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OpenPostgres connects a pool to dsn and ensures the schema exists. Close
// releases the pool.
func OpenPostgres(ctx context.Context, dsn string, opts ...PostgresOption) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	p := NewPostgres(pool, opts...)
	p.closeFn = pool.Close
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// EnsureSchema creates the chat table when it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, fmt.Sprintf(createTableSQL, p.tableName)); err != nil {
		return fmt.Errorf("postgres store: create table: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (Chat, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, p.tableName)

	var data []byte
	err := p.db.QueryRow(ctx, query, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, fmt.Errorf("postgres store: get: %w", err)
	}

	var c Chat
	if err := json.Unmarshal(data, &c); err != nil {
		return Chat{}, fmt.Errorf("postgres store: unmarshal %s: %w", id, err)
	}
	return c, nil
}

func (p *Postgres) Put(ctx context.Context, chat Chat) error {
	data, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("postgres store: marshal: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`, p.tableName)
	if _, err := p.db.Exec(ctx, query, chat.ID, data, chat.CreatedAt, chat.LastUpdated); err != nil {
		return fmt.Errorf("postgres store: put: %w", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, p.tableName)
	if _, err := p.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("postgres store: delete: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context) ([]Chat, error) {
	query := fmt.Sprintf(`SELECT data FROM %s ORDER BY updated_at DESC`, p.tableName)

	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	defer rows.Close()

	out := []Chat{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("postgres store: scan row: %w", err)
		}
		var c Chat
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("postgres store: unmarshal row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) Clear(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, p.tableName)); err != nil {
		return fmt.Errorf("postgres store: clear: %w", err)
	}
	return nil
}

// Close releases the pool opened by OpenPostgres. Stores built with
// NewPostgres leave the executor to the caller.
func (p *Postgres) Close() error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}
