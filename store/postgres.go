package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/syncspace/engine/space"
)

const defaultOpTimeout = 30 * time.Second

const schemaSQL = `
CREATE TABLE IF NOT EXISTS spaces (
	space_id             TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	status               TEXT NOT NULL,
	role                 TEXT NOT NULL,
	space_key            BYTEA,
	ucan_chain           TEXT,
	root_public_key      BYTEA,
	epoch                BIGINT NOT NULL DEFAULT 0,
	epoch_advanced_at    TIMESTAMPTZ,
	members              JSONB,
	membership_log_seq   BIGINT NOT NULL DEFAULT 0,
	metadata_version     BIGINT NOT NULL DEFAULT 0,
	rewrap_epoch         BIGINT,
	server_invitation_id TEXT
);

CREATE TABLE IF NOT EXISTS cursors (
	collection TEXT NOT NULL,
	space_id   TEXT NOT NULL,
	cursor     BIGINT NOT NULL,
	PRIMARY KEY (collection, space_id)
);
`

// PostgresStore implements space.Store over a single pgx connection pool,
// and router.CursorStore through the adapter Cursors returns, mirroring the teacher's postgres.Store
// (one pool, one sub-store per table, Close/Ping passthrough).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool against dsn and verifies it
// with a ping. Callers that want the spaces/cursors tables created must
// call EnsureSchema explicitly.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the spaces and cursors tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Get(spaceID string) (*space.Record, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	query := `
		SELECT space_id, name, status, role, space_key, ucan_chain, root_public_key,
		       epoch, epoch_advanced_at, members, membership_log_seq, metadata_version,
		       rewrap_epoch, server_invitation_id
		FROM spaces
		WHERE space_id = $1
	`

	var rec space.Record
	var membersJSON []byte

	err := s.pool.QueryRow(ctx, query, spaceID).Scan(
		&rec.SpaceID,
		&rec.Name,
		&rec.Status,
		&rec.Role,
		&rec.SpaceKey,
		&rec.UCANChain,
		&rec.RootPublicKey,
		&rec.Epoch,
		&rec.EpochAdvancedAt,
		&membersJSON,
		&rec.MembershipLogSeq,
		&rec.MetadataVersion,
		&rec.RewrapEpoch,
		&rec.ServerInvitationID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		return nil, false
	}

	rec.ID = rec.SpaceID
	if len(membersJSON) > 0 {
		if err := json.Unmarshal(membersJSON, &rec.Members); err != nil {
			return nil, false
		}
	}
	return &rec, true
}

func (s *PostgresStore) Put(rec *space.Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	membersJSON, err := json.Marshal(rec.Members)
	if err != nil {
		return fmt.Errorf("store: marshal members: %w", err)
	}

	query := `
		INSERT INTO spaces (space_id, name, status, role, space_key, ucan_chain, root_public_key,
		                     epoch, epoch_advanced_at, members, membership_log_seq, metadata_version,
		                     rewrap_epoch, server_invitation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (space_id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			role = EXCLUDED.role,
			space_key = EXCLUDED.space_key,
			ucan_chain = EXCLUDED.ucan_chain,
			root_public_key = EXCLUDED.root_public_key,
			epoch = EXCLUDED.epoch,
			epoch_advanced_at = EXCLUDED.epoch_advanced_at,
			members = EXCLUDED.members,
			membership_log_seq = EXCLUDED.membership_log_seq,
			metadata_version = EXCLUDED.metadata_version,
			rewrap_epoch = EXCLUDED.rewrap_epoch,
			server_invitation_id = EXCLUDED.server_invitation_id
	`

	_, err = s.pool.Exec(ctx, query,
		rec.SpaceID,
		rec.Name,
		rec.Status,
		rec.Role,
		rec.SpaceKey,
		rec.UCANChain,
		rec.RootPublicKey,
		rec.Epoch,
		rec.EpochAdvancedAt,
		membersJSON,
		rec.MembershipLogSeq,
		rec.MetadataVersion,
		rec.RewrapEpoch,
		rec.ServerInvitationID,
	)
	if err != nil {
		return fmt.Errorf("store: put space record: %w", err)
	}
	return nil
}

func (s *PostgresStore) List() ([]*space.Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	query := `
		SELECT space_id, name, status, role, space_key, ucan_chain, root_public_key,
		       epoch, epoch_advanced_at, members, membership_log_seq, metadata_version,
		       rewrap_epoch, server_invitation_id
		FROM spaces
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list space records: %w", err)
	}
	defer rows.Close()

	var out []*space.Record
	for rows.Next() {
		var rec space.Record
		var membersJSON []byte
		if err := rows.Scan(
			&rec.SpaceID,
			&rec.Name,
			&rec.Status,
			&rec.Role,
			&rec.SpaceKey,
			&rec.UCANChain,
			&rec.RootPublicKey,
			&rec.Epoch,
			&rec.EpochAdvancedAt,
			&membersJSON,
			&rec.MembershipLogSeq,
			&rec.MetadataVersion,
			&rec.RewrapEpoch,
			&rec.ServerInvitationID,
		); err != nil {
			return nil, fmt.Errorf("store: scan space record: %w", err)
		}
		rec.ID = rec.SpaceID
		if len(membersJSON) > 0 {
			if err := json.Unmarshal(membersJSON, &rec.Members); err != nil {
				return nil, fmt.Errorf("store: unmarshal members: %w", err)
			}
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate space records: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(spaceID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `DELETE FROM spaces WHERE space_id = $1`, spaceID); err != nil {
		return fmt.Errorf("store: delete space record: %w", err)
	}
	return nil
}

// GetCursor returns the last known cursor for (collection, spaceID).
func (s *PostgresStore) GetCursor(collection, spaceID string) (uint64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	var cursor uint64
	err := s.pool.QueryRow(ctx,
		`SELECT cursor FROM cursors WHERE collection = $1 AND space_id = $2`,
		collection, spaceID,
	).Scan(&cursor)
	if err != nil {
		return 0, false
	}
	return cursor, true
}

// SetCursor advances the persisted cursor for (collection, spaceID).
func (s *PostgresStore) SetCursor(collection, spaceID string, cursor uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
	defer cancel()

	_, _ = s.pool.Exec(ctx, `
		INSERT INTO cursors (collection, space_id, cursor)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, space_id) DO UPDATE SET cursor = EXCLUDED.cursor
	`, collection, spaceID, cursor)
}

// CursorAdapter narrows PostgresStore to router.CursorStore's two-method
// shape, since GetCursor/SetCursor can't be named Get/Set without
// colliding with space.Store's Get/Put on the same receiver.
type CursorAdapter struct {
	store *PostgresStore
}

// Cursors returns a router.CursorStore backed by this PostgresStore.
func (s *PostgresStore) Cursors() *CursorAdapter {
	return &CursorAdapter{store: s}
}

func (c *CursorAdapter) Get(collection, spaceID string) (uint64, bool) {
	return c.store.GetCursor(collection, spaceID)
}

func (c *CursorAdapter) Set(collection, spaceID string, cursor uint64) {
	c.store.SetCursor(collection, spaceID, cursor)
}
