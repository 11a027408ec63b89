package memory

import (
	"time"
)

// Entry type discriminators stored under the "type" metadata key.
const (
	TypeContext   = "context"
	TypeReasoning = "reasoning"
	TypeKnowledge = "knowledge"
	TypeState     = "state"
)

// MemoryEntry is a single contextual fact scoped to a session.
type MemoryEntry struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	AgentID   string         `json:"agent_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Key       string         `json:"key"`
	Value     any            `json:"value"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// Live reports whether the entry has not expired as of now.
func (e *MemoryEntry) Live(now time.Time) bool {
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// SessionContext is the aggregated key→value view of one session,
// stored as a single blob and replaced wholesale on write.
type SessionContext struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Context   map[string]any `json:"context"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ReasoningPattern is a reusable reasoning strategy plus its track record.
// Confidence stays within [0.1, 1.0]; SuccessRate within [0, 1].
type ReasoningPattern struct {
	ID          string         `json:"id"`
	Pattern     string         `json:"pattern"`
	Result      any            `json:"result"`
	Context     any            `json:"context,omitempty"`
	Confidence  float64        `json:"confidence"`
	UsageCount  int            `json:"usage_count"`
	SuccessRate float64        `json:"success_rate"`
	Domain      string         `json:"domain,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Embedding   []float32      `json:"embedding,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	LastUsedAt  *time.Time     `json:"last_used_at,omitempty"`
}

// StoreOptions tunes a single context write.
type StoreOptions struct {
	AgentID    string
	UserID     string
	Metadata   map[string]any
	TTLSeconds int
	Embedding  []float32
}

// RetrieveOptions filters a per-session context listing.
type RetrieveOptions struct {
	AgentID        string
	UserID         string
	IncludeExpired bool
	Limit          int
	Offset         int
}

// Query filters a cross-session entry search. Namespace and Domain
// match against the corresponding metadata keys.
type Query struct {
	SessionID      string
	AgentID        string
	UserID         string
	Namespace      string
	Domain         string
	Type           string
	IncludeExpired bool
	Limit          int
	Offset         int
}

// ReasoningOptions tunes a pattern write. A zero Confidence means the
// 0.8 default.
type ReasoningOptions struct {
	Context    any
	Confidence float64
	Domain     string
	Tags       []string
	Metadata   map[string]any
	Embedding  []float32
}

// SimilarOptions filters a similarity search.
type SimilarOptions struct {
	Domain        string
	MinConfidence float64
	Limit         int
	Tags          []string
}

// DomainOptions filters a by-domain pattern listing.
type DomainOptions struct {
	MinConfidence float64
	Limit         int
}

// SimilarPattern is one similarity-search result.
type SimilarPattern struct {
	ID         string            `json:"id"`
	Pattern    *ReasoningPattern `json:"pattern"`
	Similarity float64           `json:"similarity"`
}

// EntryStats summarizes the entry store.
type EntryStats struct {
	TotalEntries int     `json:"total_entries"`
	HitRate      float64 `json:"hit_rate"`
}

// ReasoningStats summarizes the reasoning bank.
type ReasoningStats struct {
	TotalPatterns int      `json:"total_reasoning_patterns"`
	AvgConfidence float64  `json:"avg_confidence"`
	Domains       []string `json:"domains"`
}

// Stats merges both stores' summaries.
type Stats struct {
	Entries   EntryStats     `json:"entries"`
	Reasoning ReasoningStats `json:"reasoning"`
}

// CleanupOptions tunes the composite cleanup pass. Zero thresholds fall
// back to the 0.3 success-rate / 5 usage defaults.
type CleanupOptions struct {
	SkipExpired        bool
	SkipLowPerformance bool
	MinSuccessRate     float64
	MinUsageCount      int
}

// CleanupResult reports how many rows each cleanup removed.
type CleanupResult struct {
	ExpiredEntries int `json:"expired_entries"`
	LowPerformance int `json:"low_performance_patterns"`
}
