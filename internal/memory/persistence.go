package memory

import (
	"context"
	"time"
)

// EntryFilter narrows an entry listing. Zero fields are ignored.
// Results come back newest first.
type EntryFilter struct {
	SessionID      string
	AgentID        string
	UserID         string
	Key            string
	Namespace      string
	Domain         string
	Type           string
	IncludeExpired bool
	Now            time.Time
	Limit          int
	Offset         int
}

// PatternFilter narrows a pattern listing. Query is matched
// case-insensitively against the pattern text. Results come back
// ordered by usage count descending, then confidence descending.
type PatternFilter struct {
	Query         string
	Domain        string
	MinConfidence float64
	Tags          []string
	Limit         int
}

// EntryPersistence is the query/update contract for memory entries and
// session contexts. Implementations own all storage logic; callers only
// see these operations.
type EntryPersistence interface {
	InsertEntry(ctx context.Context, e *MemoryEntry) error
	// LatestByKey returns the most recent live row for (sessionID, key),
	// or nil when none exists.
	LatestByKey(ctx context.Context, sessionID, key string, now time.Time) (*MemoryEntry, error)
	ListEntries(ctx context.Context, f EntryFilter) ([]*MemoryEntry, error)
	UpdateEntry(ctx context.Context, sessionID, key string, value any, metadata map[string]any, now time.Time) error
	DeleteByKey(ctx context.Context, sessionID, key string) error
	DeleteBySession(ctx context.Context, sessionID string) error
	// DeleteExpired removes every row whose expiry is set and not after
	// now, returning the number removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	CountEntries(ctx context.Context, sessionID string) (int, error)

	UpsertSessionContext(ctx context.Context, sc *SessionContext) error
	// GetSessionContext returns nil when the session has no blob.
	GetSessionContext(ctx context.Context, sessionID string) (*SessionContext, error)
	// ReplaceSessionContext atomically upserts the aggregated blob and
	// inserts its fan-out entry rows, so a concurrent reader never sees
	// one without the other.
	ReplaceSessionContext(ctx context.Context, sc *SessionContext, entries []*MemoryEntry) error
}

// PatternPersistence is the query/update contract for reasoning patterns.
type PatternPersistence interface {
	InsertPattern(ctx context.Context, p *ReasoningPattern) error
	// GetPattern returns nil when the id is absent.
	GetPattern(ctx context.Context, id string) (*ReasoningPattern, error)
	SearchPatterns(ctx context.Context, f PatternFilter) ([]*ReasoningPattern, error)
	// TopPatterns orders by success rate, then usage count, then
	// confidence, all descending.
	TopPatterns(ctx context.Context, limit int) ([]*ReasoningPattern, error)
	UpdatePatternUsage(ctx context.Context, id string, usageCount int, successRate, confidence float64, lastUsed time.Time) error
	DeletePattern(ctx context.Context, id string) error
	// DeleteLowPerformance removes patterns with usageCount >= minUsage
	// and successRate < minRate, returning the number removed.
	DeleteLowPerformance(ctx context.Context, minRate float64, minUsage int) (int, error)
	// PatternStats aggregates count, mean confidence and the distinct
	// domain set, optionally narrowed to one domain.
	PatternStats(ctx context.Context, domain string) (total int, avgConfidence float64, domains []string, err error)
}

// Persistence is the full storage contract consumed by the facade.
type Persistence interface {
	EntryPersistence
	PatternPersistence
}
