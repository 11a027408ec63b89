package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/memoria/internal/memory"
)

// UpsertSessionContext replaces the session's aggregated blob, keyed on
// the unique session_id.
func (s *Store) UpsertSessionContext(ctx context.Context, sc *memory.SessionContext) error {
	blob, err := marshalJSON(sc.Context)
	if err != nil {
		return fmt.Errorf("upsert session context blob: %w", err)
	}
	metadata, err := marshalJSON(sc.Metadata)
	if err != nil {
		return fmt.Errorf("upsert session context metadata: %w", err)
	}

	_, err = s.db.Exec(ctx, upsertSessionSQL,
		sc.SessionID, sc.UserID, sc.AgentID, blob, metadata, sc.CreatedAt, sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert session context %s: %w", sc.SessionID, err)
	}
	return nil
}

const upsertSessionSQL = `
	INSERT INTO session_contexts (session_id, user_id, agent_id, context, metadata, created_at, updated_at)
	VALUES ($1, NULLIF($2,''), NULLIF($3,''), COALESCE($4,'{}'::jsonb), COALESCE($5,'{}'::jsonb), $6, $7)
	ON CONFLICT (session_id) DO UPDATE SET
		user_id = EXCLUDED.user_id,
		agent_id = EXCLUDED.agent_id,
		context = EXCLUDED.context,
		metadata = EXCLUDED.metadata,
		updated_at = EXCLUDED.updated_at`

// GetSessionContext returns the session's blob, or nil when absent.
func (s *Store) GetSessionContext(ctx context.Context, sessionID string) (*memory.SessionContext, error) {
	row := s.db.QueryRow(ctx, `
		SELECT session_id, COALESCE(user_id,''), COALESCE(agent_id,''), context, metadata, created_at, updated_at
		FROM session_contexts WHERE session_id = $1`, sessionID)

	var sc memory.SessionContext
	var blob, metadata []byte
	err := row.Scan(&sc.SessionID, &sc.UserID, &sc.AgentID, &blob, &metadata, &sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session context %s: %w", sessionID, err)
	}
	sc.Context = unmarshalMap(blob)
	sc.Metadata = unmarshalMap(metadata)
	return &sc, nil
}

// ReplaceSessionContext upserts the blob and inserts its fan-out entry
// rows in one transaction, so a reader never observes the blob without
// the rows that produced it.
func (s *Store) ReplaceSessionContext(ctx context.Context, sc *memory.SessionContext, entries []*memory.MemoryEntry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace session context: %w", err)
	}
	defer tx.Rollback(ctx)

	blob, err := marshalJSON(sc.Context)
	if err != nil {
		return fmt.Errorf("replace session context blob: %w", err)
	}
	metadata, err := marshalJSON(sc.Metadata)
	if err != nil {
		return fmt.Errorf("replace session context metadata: %w", err)
	}
	if _, err := tx.Exec(ctx, upsertSessionSQL,
		sc.SessionID, sc.UserID, sc.AgentID, blob, metadata, sc.CreatedAt, sc.UpdatedAt); err != nil {
		return fmt.Errorf("replace session context %s: %w", sc.SessionID, err)
	}

	for _, e := range entries {
		value, err := marshalJSON(e.Value)
		if err != nil {
			return fmt.Errorf("replace session entry value: %w", err)
		}
		embedding, err := marshalJSON(e.Embedding)
		if err != nil {
			return fmt.Errorf("replace session entry embedding: %w", err)
		}
		meta, err := marshalJSON(e.Metadata)
		if err != nil {
			return fmt.Errorf("replace session entry metadata: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO memory_entries (id, session_id, agent_id, user_id, key, value, embedding, metadata, created_at, updated_at, expires_at)
			VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), $5, $6, $7, COALESCE($8,'{}'::jsonb), $9, $10, $11)`,
			e.ID, e.SessionID, e.AgentID, e.UserID, e.Key,
			value, embedding, meta, e.CreatedAt, e.UpdatedAt, e.ExpiresAt); err != nil {
			return fmt.Errorf("replace session entry %s: %w", e.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace session context: %w", err)
	}
	return nil
}
