package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes a Memory facade.
type Config struct {
	EntryCacheSize   int
	PatternCacheSize int
	Similarity       SimilarityStrategy // nil means JaccardSimilarity
}

// Memory composes the entry store and the reasoning bank behind one
// API surface for agent-orchestration callers. Construct it explicitly
// and pass it down; there is no package-level instance.
type Memory struct {
	entries *EntryStore
	bank    *ReasoningBank
	db      Persistence
	logger  *zap.Logger

	now func() time.Time
}

// New creates the facade over one persistence contract.
func New(db Persistence, cfg Config, logger *zap.Logger) *Memory {
	return &Memory{
		entries: NewEntryStore(db, cfg.EntryCacheSize, logger),
		bank:    NewReasoningBank(db, cfg.PatternCacheSize, cfg.Similarity, logger),
		db:      db,
		logger:  logger,
		now:     time.Now,
	}
}

// Entries exposes the underlying entry store for per-key operations.
func (m *Memory) Entries() *EntryStore { return m.entries }

// Reasoning exposes the underlying reasoning bank.
func (m *Memory) Reasoning() *ReasoningBank { return m.bank }

// StoreContext merges the given key/value map into the session's
// aggregated blob and fans out one entry row per key. Blob and rows go
// through a single atomic persistence call, then each entry is placed
// in the cache. Writes from different agents to the same session all
// land in the shared blob.
func (m *Memory) StoreContext(ctx context.Context, sessionID string, contextMap map[string]any, opts StoreOptions) error {
	if m.db == nil {
		return ErrStoreUnavailable
	}
	if sessionID == "" {
		return validationErr("sessionID", "must not be empty")
	}
	if len(contextMap) == 0 {
		return validationErr("context", "must not be empty")
	}

	existing, err := m.db.GetSessionContext(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("store context %s: %w", sessionID, err)
	}

	now := m.now().UTC()
	sc := &SessionContext{
		SessionID: sessionID,
		UserID:    opts.UserID,
		AgentID:   opts.AgentID,
		Context:   map[string]any{},
		Metadata:  opts.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		sc.CreatedAt = existing.CreatedAt
		for k, v := range existing.Context {
			sc.Context[k] = v
		}
		if sc.UserID == "" {
			sc.UserID = existing.UserID
		}
	}
	for k, v := range contextMap {
		sc.Context[k] = v
	}

	entries := make([]*MemoryEntry, 0, len(contextMap))
	for k, v := range contextMap {
		e := &MemoryEntry{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			AgentID:   opts.AgentID,
			UserID:    opts.UserID,
			Key:       k,
			Value:     v,
			Embedding: opts.Embedding,
			Metadata:  map[string]any{"type": TypeContext},
			CreatedAt: now,
			UpdatedAt: now,
		}
		for mk, mv := range opts.Metadata {
			e.Metadata[mk] = mv
		}
		if opts.TTLSeconds > 0 {
			exp := now.Add(time.Duration(opts.TTLSeconds) * time.Second)
			e.ExpiresAt = &exp
		}
		entries = append(entries, e)
	}

	if err := m.db.ReplaceSessionContext(ctx, sc, entries); err != nil {
		return fmt.Errorf("store context %s: %w", sessionID, err)
	}
	for _, e := range entries {
		m.entries.cache.Set(cacheKey(sessionID, e.Key), e)
	}

	m.logger.Debug("session context stored",
		zap.String("session", sessionID),
		zap.Int("keys", len(contextMap)))
	return nil
}

// UpdateContext shallow-merges updates on top of the existing
// aggregated context and rewrites the session through StoreContext.
// This is a full rewrite, not a partial patch at the storage layer.
func (m *Memory) UpdateContext(ctx context.Context, sessionID string, updates map[string]any, opts StoreOptions) error {
	return m.StoreContext(ctx, sessionID, updates, opts)
}

// RetrieveContext delegates to the entry store.
func (m *Memory) RetrieveContext(ctx context.Context, sessionID string, opts RetrieveOptions) ([]*MemoryEntry, error) {
	return m.entries.RetrieveContext(ctx, sessionID, opts)
}

// RetrieveByKey delegates to the entry store.
func (m *Memory) RetrieveByKey(ctx context.Context, sessionID, key string) (*MemoryEntry, error) {
	return m.entries.RetrieveByKey(ctx, sessionID, key)
}

// RetrieveSessionContext delegates to the entry store.
func (m *Memory) RetrieveSessionContext(ctx context.Context, sessionID string) (*SessionContext, error) {
	return m.entries.RetrieveSessionContext(ctx, sessionID)
}

// SearchContext delegates to the entry store.
func (m *Memory) SearchContext(ctx context.Context, q Query) ([]*MemoryEntry, error) {
	return m.entries.SearchContext(ctx, q)
}

// DeleteContext delegates to the entry store.
func (m *Memory) DeleteContext(ctx context.Context, sessionID, key string) error {
	return m.entries.DeleteContext(ctx, sessionID, key)
}

// StoreReasoning delegates to the reasoning bank.
func (m *Memory) StoreReasoning(ctx context.Context, pattern string, result any, opts ReasoningOptions) (string, error) {
	return m.bank.StoreReasoning(ctx, pattern, result, opts)
}

// FindSimilarReasoning delegates to the reasoning bank.
func (m *Memory) FindSimilarReasoning(ctx context.Context, query string, opts SimilarOptions) ([]SimilarPattern, error) {
	return m.bank.FindSimilarReasoning(ctx, query, opts)
}

// UpdateReasoningUsage delegates to the reasoning bank.
func (m *Memory) UpdateReasoningUsage(ctx context.Context, id string, success bool) error {
	return m.bank.UpdateReasoningUsage(ctx, id, success)
}

// Stats merges entry-store and reasoning-bank summaries. sessionID
// narrows the entry total; domain narrows the pattern aggregates.
func (m *Memory) Stats(ctx context.Context, sessionID, domain string) (Stats, error) {
	es, err := m.entries.Stats(ctx, sessionID)
	if err != nil {
		return Stats{}, err
	}
	rs, err := m.bank.Stats(ctx, domain)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Entries: es, Reasoning: rs}, nil
}

// Cleanup runs the two cleanup operations independently: a failure in
// one does not roll back or skip the other. Counts for the completed
// operations are reported alongside any joined errors.
func (m *Memory) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	var res CleanupResult
	var errs []error

	if !opts.SkipExpired {
		n, err := m.entries.CleanupExpired(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		res.ExpiredEntries = n
	}
	if !opts.SkipLowPerformance {
		n, err := m.bank.CleanupLowPerformance(ctx, opts.MinSuccessRate, opts.MinUsageCount)
		if err != nil {
			errs = append(errs, err)
		}
		res.LowPerformance = n
	}
	return res, errors.Join(errs...)
}
