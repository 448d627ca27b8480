// Package tokenstore is the bridge's optional durability layer: a
// single-row Postgres cache of the vendor refresh/access token and the
// last-loaded referential blob, so a restart resumes without forcing a
// fresh interactive login.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rehau-bridge/nea-bridge/internal/auth"
)

// Store is a no-op cache when DatabaseURL is empty: Load returns
// ErrNoCache and Save is a silent no-op, so the bridge runs fine
// against a bare broker with no database at all.
type Store struct {
	pool   *pgxpool.Pool
	sealer *sealer
}

var ErrNoCache = errors.New("tokenstore: no cached tokens")

// New connects to Postgres and prepares the sealer. An empty
// databaseURL yields a Store with a nil pool; every method on it
// degrades gracefully.
func New(ctx context.Context, databaseURL, secretKeyHex string) (*Store, error) {
	seal, err := newSealer(secretKeyHex)
	if err != nil {
		return nil, err
	}
	if databaseURL == "" {
		return &Store{sealer: seal}, nil
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("tokenstore: ping: %w", err)
	}
	return &Store{pool: pool, sealer: seal}, nil
}

func (s *Store) Enabled() bool { return s.pool != nil }

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Load reads the single cached row, decrypting the tokens. Returns
// ErrNoCache when disabled or when the table is empty (first run).
func (s *Store) Load(ctx context.Context) (auth.TokenSet, error) {
	if s.pool == nil {
		return auth.TokenSet{}, ErrNoCache
	}

	var accessEnc, refreshEnc string
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT access_token, refresh_token, expires_at FROM vendor_tokens WHERE id = 1`,
	).Scan(&accessEnc, &refreshEnc, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.TokenSet{}, ErrNoCache
	}
	if err != nil {
		return auth.TokenSet{}, fmt.Errorf("tokenstore: load: %w", err)
	}

	access, err := s.sealer.open(accessEnc)
	if err != nil {
		return auth.TokenSet{}, err
	}
	refresh, err := s.sealer.open(refreshEnc)
	if err != nil {
		return auth.TokenSet{}, err
	}
	return auth.TokenSet{AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt}, nil
}

// Save upserts the single cached row. A no-op when disabled.
func (s *Store) Save(ctx context.Context, set auth.TokenSet) error {
	if s.pool == nil {
		return nil
	}
	accessEnc, err := s.sealer.seal(set.AccessToken)
	if err != nil {
		return err
	}
	refreshEnc, err := s.sealer.seal(set.RefreshToken)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO vendor_tokens (id, access_token, refresh_token, expires_at, updated_at)
		VALUES (1, $1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()
	`, accessEnc, refreshEnc, set.ExpiresAt)
	if err != nil {
		return fmt.Errorf("tokenstore: save: %w", err)
	}
	return nil
}

// SaveReferentialBlob caches the last raw (still-compressed) referential
// payload, so a restart has something to decode from before the first
// fresh vendor response arrives.
func (s *Store) SaveReferentialBlob(ctx context.Context, compressed string) error {
	if s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO referential_cache (id, compressed, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET compressed = EXCLUDED.compressed, updated_at = now()
	`, compressed)
	if err != nil {
		return fmt.Errorf("tokenstore: save referential blob: %w", err)
	}
	return nil
}

// LoadReferentialBlob returns the last cached compressed referential
// payload, or ErrNoCache when none has ever been saved.
func (s *Store) LoadReferentialBlob(ctx context.Context) (string, error) {
	if s.pool == nil {
		return "", ErrNoCache
	}
	var compressed string
	err := s.pool.QueryRow(ctx, `SELECT compressed FROM referential_cache WHERE id = 1`).Scan(&compressed)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoCache
	}
	if err != nil {
		return "", fmt.Errorf("tokenstore: load referential blob: %w", err)
	}
	return compressed, nil
}
