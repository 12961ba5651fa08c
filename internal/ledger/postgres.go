package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_documents (
			key        text PRIMARY KEY,
			body       jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create ledger_documents: %w", err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context, key string) ([]byte, error) {
	var body string
	err := p.db.QueryRow(ctx, `
		SELECT body::text
		FROM ledger_documents
		WHERE key = $1
	`, key).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

// Save upserts every document inside one transaction.
func (p *PostgresStore) Save(ctx context.Context, docs ...Document) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, d := range docs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_documents (key, body, updated_at)
			VALUES ($1, $2::jsonb, now())
			ON CONFLICT (key) DO UPDATE SET body = EXCLUDED.body, updated_at = now()
		`, d.Key, string(d.Body)); err != nil {
			return fmt.Errorf("upsert %s: %w", d.Key, err)
		}
	}
	return tx.Commit(ctx)
}
