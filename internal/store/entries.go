package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/memoria/internal/memory"
)

const entryColumns = `id, session_id, COALESCE(agent_id,''), COALESCE(user_id,''),
	key, value, embedding, metadata, created_at, updated_at, expires_at`

// InsertEntry appends one entry row. Rows for the same (session, key)
// accumulate; reads resolve most-recent-wins.
func (s *Store) InsertEntry(ctx context.Context, e *memory.MemoryEntry) error {
	value, err := marshalJSON(e.Value)
	if err != nil {
		return fmt.Errorf("insert entry value: %w", err)
	}
	embedding, err := marshalJSON(e.Embedding)
	if err != nil {
		return fmt.Errorf("insert entry embedding: %w", err)
	}
	metadata, err := marshalJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("insert entry metadata: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO memory_entries (id, session_id, agent_id, user_id, key, value, embedding, metadata, created_at, updated_at, expires_at)
		VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), $5, $6, $7, COALESCE($8,'{}'::jsonb), $9, $10, $11)`,
		e.ID, e.SessionID, e.AgentID, e.UserID, e.Key,
		value, embedding, metadata, e.CreatedAt, e.UpdatedAt, e.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", e.ID, err)
	}
	return nil
}

// LatestByKey returns the newest live row for (sessionID, key), or nil.
func (s *Store) LatestByKey(ctx context.Context, sessionID, key string, now time.Time) (*memory.MemoryEntry, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM memory_entries
		WHERE session_id = $1 AND key = $2
		  AND (expires_at IS NULL OR expires_at > $3)
		ORDER BY created_at DESC
		LIMIT 1`, sessionID, key, now)

	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest by key %s/%s: %w", sessionID, key, err)
	}
	return e, nil
}

// ListEntries returns filtered rows newest first.
func (s *Store) ListEntries(ctx context.Context, f memory.EntryFilter) ([]*memory.MemoryEntry, error) {
	var conds []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.SessionID != "" {
		add("session_id = $%d", f.SessionID)
	}
	if f.AgentID != "" {
		add("agent_id = $%d", f.AgentID)
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Key != "" {
		add("key = $%d", f.Key)
	}
	if f.Namespace != "" {
		add("metadata->>'namespace' = $%d", f.Namespace)
	}
	if f.Domain != "" {
		add("metadata->>'domain' = $%d", f.Domain)
	}
	if f.Type != "" {
		add("metadata->>'type' = $%d", f.Type)
	}
	if !f.IncludeExpired {
		add("(expires_at IS NULL OR expires_at > $%d)", f.Now)
	}

	sql := `SELECT ` + entryColumns + ` FROM memory_entries`
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []*memory.MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateEntry rewrites value, updated_at and optionally metadata on
// every row for (sessionID, key).
func (s *Store) UpdateEntry(ctx context.Context, sessionID, key string, value any, metadata map[string]any, now time.Time) error {
	data, err := marshalJSON(value)
	if err != nil {
		return fmt.Errorf("update entry value: %w", err)
	}
	meta, err := marshalJSON(metadata)
	if err != nil {
		return fmt.Errorf("update entry metadata: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		UPDATE memory_entries
		SET value = $3, updated_at = $4, metadata = COALESCE($5, metadata)
		WHERE session_id = $1 AND key = $2`,
		sessionID, key, data, now, meta,
	)
	if err != nil {
		return fmt.Errorf("update entry %s/%s: %w", sessionID, key, err)
	}
	return nil
}

// DeleteByKey removes every row for (sessionID, key).
func (s *Store) DeleteByKey(ctx context.Context, sessionID, key string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM memory_entries WHERE session_id = $1 AND key = $2`,
		sessionID, key)
	if err != nil {
		return fmt.Errorf("delete entry %s/%s: %w", sessionID, key, err)
	}
	return nil
}

// DeleteBySession removes every row for the session.
func (s *Store) DeleteBySession(ctx context.Context, sessionID string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM memory_entries WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session entries %s: %w", sessionID, err)
	}
	return nil
}

// DeleteExpired removes rows whose expiry has passed, returning the
// delete count.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM memory_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired entries: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountEntries counts rows, optionally for one session.
func (s *Store) CountEntries(ctx context.Context, sessionID string) (int, error) {
	var n int
	var err error
	if sessionID == "" {
		err = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM memory_entries`).Scan(&n)
	} else {
		err = s.db.QueryRow(ctx,
			`SELECT COUNT(*) FROM memory_entries WHERE session_id = $1`, sessionID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func scanEntry(row pgx.Row) (*memory.MemoryEntry, error) {
	var e memory.MemoryEntry
	var value, embedding, metadata []byte
	if err := row.Scan(
		&e.ID, &e.SessionID, &e.AgentID, &e.UserID, &e.Key,
		&value, &embedding, &metadata,
		&e.CreatedAt, &e.UpdatedAt, &e.ExpiresAt,
	); err != nil {
		return nil, err
	}
	e.Value = unmarshalValue(value)
	e.Embedding = unmarshalFloats(embedding)
	e.Metadata = unmarshalMap(metadata)
	return &e, nil
}
