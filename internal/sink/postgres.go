package sink

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// DefaultTable is the table Postgres writes to when none is configured.
const DefaultTable = "gateway_events"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Postgres stores every record as a row with a JSONB body.
type Postgres struct {
	db     execer
	closer func() error
	insert string
}

// OpenPostgres connects to dsn, checks the connection and creates the
// table when it does not exist.
func OpenPostgres(ctx context.Context, dsn, table string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sink: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sink: ping postgres: %w", err)
	}

	p := newPostgres(db, table)
	p.closer = db.Close
	if _, err := db.ExecContext(ctx, createTableSQL(table)); err != nil {
		db.Close()
		return nil, fmt.Errorf("sink: create table: %w", err)
	}
	return p, nil
}

func newPostgres(db execer, table string) *Postgres {
	if table == "" {
		table = DefaultTable
	}
	return &Postgres{
		db:     db,
		closer: func() error { return nil },
		insert: fmt.Sprintf(
			"INSERT INTO %s (seq, type, received_at, body) VALUES ($1, $2, $3, $4)",
			pq.QuoteIdentifier(table)),
	}
}

func createTableSQL(table string) string {
	if table == "" {
		table = DefaultTable
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id          BIGSERIAL PRIMARY KEY,
	seq         BIGINT NOT NULL,
	type        TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	body        JSONB NOT NULL
)`, pq.QuoteIdentifier(table))
}

func (p *Postgres) Write(ctx context.Context, rec Record) error {
	body, err := rec.bodyJSON()
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, p.insert, rec.Seq, rec.Type, rec.Received, string(body)); err != nil {
		return fmt.Errorf("sink: insert %s: %w", rec.Type, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.closer()
}
