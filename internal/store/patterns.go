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

const patternColumns = `id, pattern, result, context, confidence, usage_count, success_rate,
	COALESCE(domain,''), tags, metadata, embedding, created_at, updated_at, last_used_at`

// InsertPattern stores a new reasoning pattern.
func (s *Store) InsertPattern(ctx context.Context, p *memory.ReasoningPattern) error {
	result, err := marshalJSON(p.Result)
	if err != nil {
		return fmt.Errorf("insert pattern result: %w", err)
	}
	pctx, err := marshalJSON(p.Context)
	if err != nil {
		return fmt.Errorf("insert pattern context: %w", err)
	}
	tags, err := marshalJSON(p.Tags)
	if err != nil {
		return fmt.Errorf("insert pattern tags: %w", err)
	}
	metadata, err := marshalJSON(p.Metadata)
	if err != nil {
		return fmt.Errorf("insert pattern metadata: %w", err)
	}
	embedding, err := marshalJSON(p.Embedding)
	if err != nil {
		return fmt.Errorf("insert pattern embedding: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO reasoning_patterns (id, pattern, result, context, confidence, usage_count, success_rate,
			domain, tags, metadata, embedding, created_at, updated_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8,''), COALESCE($9,'[]'::jsonb), COALESCE($10,'{}'::jsonb), $11, $12, $13, $14)`,
		p.ID, p.Pattern, result, pctx, p.Confidence, p.UsageCount, p.SuccessRate,
		p.Domain, tags, metadata, embedding, p.CreatedAt, p.UpdatedAt, p.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pattern %s: %w", p.ID, err)
	}
	return nil
}

// GetPattern returns the pattern by id, or nil when absent.
func (s *Store) GetPattern(ctx context.Context, id string) (*memory.ReasoningPattern, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+patternColumns+` FROM reasoning_patterns WHERE id = $1`, id)

	p, err := scanPattern(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern %s: %w", id, err)
	}
	return p, nil
}

// SearchPatterns returns patterns matching the filter, ordered by usage
// count descending, then confidence descending. The query prefilter is
// a case-insensitive contains on the pattern text.
func (s *Store) SearchPatterns(ctx context.Context, f memory.PatternFilter) ([]*memory.ReasoningPattern, error) {
	var conds []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Query != "" {
		add("pattern ILIKE '%%' || $%d || '%%'", f.Query)
	}
	if f.Domain != "" {
		add("domain = $%d", f.Domain)
	}
	if f.MinConfidence > 0 {
		add("confidence >= $%d", f.MinConfidence)
	}
	if len(f.Tags) > 0 {
		add("tags ?| $%d", f.Tags)
	}

	sql := `SELECT ` + patternColumns + ` FROM reasoning_patterns`
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	sql += " ORDER BY usage_count DESC, confidence DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return s.queryPatterns(ctx, sql, args...)
}

// TopPatterns orders by success rate, usage count and confidence, all
// descending.
func (s *Store) TopPatterns(ctx context.Context, limit int) ([]*memory.ReasoningPattern, error) {
	return s.queryPatterns(ctx, `
		SELECT `+patternColumns+` FROM reasoning_patterns
		ORDER BY success_rate DESC, usage_count DESC, confidence DESC
		LIMIT $1`, limit)
}

// UpdatePatternUsage rewrites the scoring fields after one observed
// outcome.
func (s *Store) UpdatePatternUsage(ctx context.Context, id string, usageCount int, successRate, confidence float64, lastUsed time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reasoning_patterns
		SET usage_count = $2, success_rate = $3, confidence = $4, last_used_at = $5, updated_at = $5
		WHERE id = $1`,
		id, usageCount, successRate, confidence, lastUsed,
	)
	if err != nil {
		return fmt.Errorf("update pattern usage %s: %w", id, err)
	}
	return nil
}

// DeletePattern removes the pattern.
func (s *Store) DeletePattern(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM reasoning_patterns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pattern %s: %w", id, err)
	}
	return nil
}

// DeleteLowPerformance removes patterns with enough uses at too low a
// success rate, returning the delete count.
func (s *Store) DeleteLowPerformance(ctx context.Context, minRate float64, minUsage int) (int, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM reasoning_patterns
		WHERE usage_count >= $2 AND success_rate < $1`,
		minRate, minUsage)
	if err != nil {
		return 0, fmt.Errorf("delete low-performance patterns: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PatternStats aggregates count and mean confidence (optionally for one
// domain) plus the distinct non-empty domain set.
func (s *Store) PatternStats(ctx context.Context, domain string) (int, float64, []string, error) {
	var total int
	var avg float64
	var err error
	if domain == "" {
		err = s.db.QueryRow(ctx,
			`SELECT COUNT(*), COALESCE(AVG(confidence), 0) FROM reasoning_patterns`).Scan(&total, &avg)
	} else {
		err = s.db.QueryRow(ctx,
			`SELECT COUNT(*), COALESCE(AVG(confidence), 0) FROM reasoning_patterns WHERE domain = $1`,
			domain).Scan(&total, &avg)
	}
	if err != nil {
		return 0, 0, nil, fmt.Errorf("pattern stats: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT domain FROM reasoning_patterns WHERE domain IS NOT NULL ORDER BY domain`)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("pattern domains: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return 0, 0, nil, fmt.Errorf("scan domain: %w", err)
		}
		domains = append(domains, d)
	}
	return total, avg, domains, rows.Err()
}

func (s *Store) queryPatterns(ctx context.Context, sql string, args ...any) ([]*memory.ReasoningPattern, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var out []*memory.ReasoningPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPattern(row pgx.Row) (*memory.ReasoningPattern, error) {
	var p memory.ReasoningPattern
	var result, pctx, tags, metadata, embedding []byte
	if err := row.Scan(
		&p.ID, &p.Pattern, &result, &pctx, &p.Confidence, &p.UsageCount, &p.SuccessRate,
		&p.Domain, &tags, &metadata, &embedding,
		&p.CreatedAt, &p.UpdatedAt, &p.LastUsedAt,
	); err != nil {
		return nil, err
	}
	p.Result = unmarshalValue(result)
	p.Context = unmarshalValue(pctx)
	p.Tags = unmarshalStrings(tags)
	p.Metadata = unmarshalMap(metadata)
	p.Embedding = unmarshalFloats(embedding)
	return &p, nil
}
