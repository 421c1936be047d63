package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS oauth_credentials (
	id                TEXT PRIMARY KEY,
	client_id         TEXT NOT NULL,
	client_secret     TEXT NOT NULL,
	redirect_uri      TEXT NOT NULL DEFAULT '',
	access_token      TEXT NOT NULL DEFAULT '',
	expires           BIGINT NOT NULL DEFAULT 0,
	refresh_token     TEXT NOT NULL DEFAULT '',
	resource_owner_id TEXT NOT NULL DEFAULT '',
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const selectSQL = `
SELECT client_id, client_secret, redirect_uri,
       access_token, expires, refresh_token, resource_owner_id
FROM oauth_credentials
WHERE id = $1`

// Connect opens a small pool sized for one request at a time.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	config.MaxConns = 2
	config.MinConns = 0
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return pool, nil
}

// PostgresStore keeps the credential record in the oauth_credentials table,
// one row per credential id.
type PostgresStore struct {
	pool *pgxpool.Pool
	id   string
}

// NewPostgresStore returns a store for the row identified by id.
func NewPostgresStore(pool *pgxpool.Pool, id string) *PostgresStore {
	if id == "" {
		id = "default"
	}
	return &PostgresStore{pool: pool, id: id}
}

// EnsureSchema creates the credentials table if it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create oauth_credentials: %w", err)
	}
	return nil
}

// Load reads the record.
func (s *PostgresStore) Load(ctx context.Context) (Credential, error) {
	return scanCredential(s.pool.QueryRow(ctx, selectSQL, s.id), s.id)
}

// Rotate locks the row for the duration of fn so concurrent refreshes
// queue up behind each other instead of overwriting one another.
func (s *PostgresStore) Rotate(ctx context.Context, fn RotateFunc) (Credential, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	cred, err := scanCredential(tx.QueryRow(ctx, selectSQL+" FOR UPDATE", s.id), s.id)
	if err != nil {
		return Credential{}, err
	}

	tok, err := fn(ctx, cred)
	if err != nil {
		return Credential{}, err
	}
	if tok == nil {
		return cred, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		UPDATE oauth_credentials
		SET access_token = $2, expires = $3, refresh_token = $4,
		    resource_owner_id = $5, updated_at = now()
		WHERE id = $1`,
		s.id, tok.AccessToken, tok.Expires, tok.RefreshToken, tok.ResourceOwnerID)
	if err != nil {
		return Credential{}, fmt.Errorf("update oauth_credentials: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Credential{}, fmt.Errorf("commit: %w", err)
	}

	cred.AccessToken = *tok
	return cred, nil
}

// Import inserts cred unless a row already exists. It reports whether a
// row was written.
func (s *PostgresStore) Import(ctx context.Context, cred Credential) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_credentials
			(id, client_id, client_secret, redirect_uri,
			 access_token, expires, refresh_token, resource_owner_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		s.id, cred.ClientID, cred.ClientSecret, cred.RedirectURI,
		cred.AccessToken.AccessToken, cred.AccessToken.Expires,
		cred.AccessToken.RefreshToken, cred.AccessToken.ResourceOwnerID)
	if err != nil {
		return false, fmt.Errorf("import credentials: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanCredential(row pgx.Row, id string) (Credential, error) {
	var cred Credential
	err := row.Scan(
		&cred.ClientID, &cred.ClientSecret, &cred.RedirectURI,
		&cred.AccessToken.AccessToken, &cred.AccessToken.Expires,
		&cred.AccessToken.RefreshToken, &cred.AccessToken.ResourceOwnerID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, fmt.Errorf("%w: id=%s", ErrNotFound, id)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("load credentials: %w", err)
	}
	return cred, nil
}
