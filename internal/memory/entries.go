package memory

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultEntryCacheSize bounds the per-key entry cache.
const DefaultEntryCacheSize = 1000

// EntryStore manages per-key context entries and per-session aggregated
// context blobs. Single-key reads go through a bounded cache; everything
// else hits the persistent store directly. Safe for concurrent use.
type EntryStore struct {
	db     EntryPersistence
	cache  *fifoCache[*MemoryEntry]
	hits   atomic.Int64
	misses atomic.Int64
	logger *zap.Logger

	now func() time.Time
}

// NewEntryStore creates an entry store over the given persistence
// contract. A cacheSize <= 0 means DefaultEntryCacheSize.
func NewEntryStore(db EntryPersistence, cacheSize int, logger *zap.Logger) *EntryStore {
	if cacheSize <= 0 {
		cacheSize = DefaultEntryCacheSize
	}
	return &EntryStore{
		db:     db,
		cache:  newFIFOCache[*MemoryEntry](cacheSize),
		logger: logger,
		now:    time.Now,
	}
}

// cacheKey scopes cached entries per session so a whole session can be
// purged by prefix.
func cacheKey(sessionID, key string) string {
	return sessionID + ":" + key
}

// StoreContext persists a key/value entry for the session and populates
// the cache. Returns the new entry id. Historical rows for the same key
// may accumulate in storage; reads resolve most-recent-wins.
func (s *EntryStore) StoreContext(ctx context.Context, sessionID, key string, value any, opts StoreOptions) (string, error) {
	if s.db == nil {
		return "", ErrStoreUnavailable
	}
	if sessionID == "" {
		return "", validationErr("sessionID", "must not be empty")
	}
	if key == "" {
		return "", validationErr("key", "must not be empty")
	}

	now := s.now().UTC()
	entry := &MemoryEntry{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		AgentID:   opts.AgentID,
		UserID:    opts.UserID,
		Key:       key,
		Value:     value,
		Embedding: opts.Embedding,
		Metadata:  opts.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	if _, ok := entry.Metadata["type"]; !ok {
		entry.Metadata["type"] = TypeContext
	}
	if opts.TTLSeconds > 0 {
		exp := now.Add(time.Duration(opts.TTLSeconds) * time.Second)
		entry.ExpiresAt = &exp
	}

	if err := s.db.InsertEntry(ctx, entry); err != nil {
		return "", fmt.Errorf("store context %s/%s: %w", sessionID, key, err)
	}
	s.cache.Set(cacheKey(sessionID, key), entry)

	s.logger.Debug("context stored",
		zap.String("session", sessionID),
		zap.String("key", key),
		zap.Bool("ttl", entry.ExpiresAt != nil))
	return entry.ID, nil
}

// RetrieveContext lists the session's entries newest first, filtered to
// live rows unless opts.IncludeExpired.
func (s *EntryStore) RetrieveContext(ctx context.Context, sessionID string, opts RetrieveOptions) ([]*MemoryEntry, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}
	entries, err := s.db.ListEntries(ctx, EntryFilter{
		SessionID:      sessionID,
		AgentID:        opts.AgentID,
		UserID:         opts.UserID,
		IncludeExpired: opts.IncludeExpired,
		Now:            s.now().UTC(),
		Limit:          opts.Limit,
		Offset:         opts.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve context %s: %w", sessionID, err)
	}
	return entries, nil
}

// RetrieveByKey returns the most recent entry for (sessionID, key),
// cache-first, or nil when none exists. A cached entry is returned even
// past its TTL until CleanupExpired sweeps it; only the storage
// fall-through filters liveness.
func (s *EntryStore) RetrieveByKey(ctx context.Context, sessionID, key string) (*MemoryEntry, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}
	ck := cacheKey(sessionID, key)
	if entry, ok := s.cache.Get(ck); ok {
		s.hits.Add(1)
		return entry, nil
	}
	s.misses.Add(1)

	entry, err := s.db.LatestByKey(ctx, sessionID, key, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("retrieve %s/%s: %w", sessionID, key, err)
	}
	if entry == nil {
		return nil, nil
	}
	s.cache.Set(ck, entry)
	return entry, nil
}

// UpdateContext rewrites the persisted value (and optionally metadata)
// for the key and invalidates its cache slot. The next read goes to the
// store rather than a refreshed cache copy.
func (s *EntryStore) UpdateContext(ctx context.Context, sessionID, key string, value any, metadata map[string]any) error {
	if s.db == nil {
		return ErrStoreUnavailable
	}
	if err := s.db.UpdateEntry(ctx, sessionID, key, value, metadata, s.now().UTC()); err != nil {
		return fmt.Errorf("update context %s/%s: %w", sessionID, key, err)
	}
	s.cache.Delete(cacheKey(sessionID, key))
	return nil
}

// DeleteContext removes one key's rows, or the whole session when key
// is empty, purging the matching cache slots either way.
func (s *EntryStore) DeleteContext(ctx context.Context, sessionID, key string) error {
	if s.db == nil {
		return ErrStoreUnavailable
	}
	if key != "" {
		if err := s.db.DeleteByKey(ctx, sessionID, key); err != nil {
			return fmt.Errorf("delete context %s/%s: %w", sessionID, key, err)
		}
		s.cache.Delete(cacheKey(sessionID, key))
		return nil
	}
	if err := s.db.DeleteBySession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	s.cache.DeletePrefix(sessionID + ":")
	return nil
}

// StoreSessionContext upserts the aggregated blob keyed on sessionID,
// replacing any previous context wholesale.
func (s *EntryStore) StoreSessionContext(ctx context.Context, sc *SessionContext) error {
	if s.db == nil {
		return ErrStoreUnavailable
	}
	if sc.SessionID == "" {
		return validationErr("sessionID", "must not be empty")
	}
	now := s.now().UTC()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now
	if err := s.db.UpsertSessionContext(ctx, sc); err != nil {
		return fmt.Errorf("store session context %s: %w", sc.SessionID, err)
	}
	return nil
}

// RetrieveSessionContext returns the aggregated blob, or nil when the
// session has none.
func (s *EntryStore) RetrieveSessionContext(ctx context.Context, sessionID string) (*SessionContext, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}
	sc, err := s.db.GetSessionContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("retrieve session context %s: %w", sessionID, err)
	}
	return sc, nil
}

// SearchContext lists entries matching any combination of session,
// agent, user, namespace, domain and type filters. No text matching.
func (s *EntryStore) SearchContext(ctx context.Context, q Query) ([]*MemoryEntry, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}
	entries, err := s.db.ListEntries(ctx, EntryFilter{
		SessionID:      q.SessionID,
		AgentID:        q.AgentID,
		UserID:         q.UserID,
		Namespace:      q.Namespace,
		Domain:         q.Domain,
		Type:           q.Type,
		IncludeExpired: q.IncludeExpired,
		Now:            s.now().UTC(),
		Limit:          q.Limit,
		Offset:         q.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("search context: %w", err)
	}
	return entries, nil
}

// CleanupExpired deletes every persisted row past its TTL and sweeps
// matching entries out of the cache. Returns the storage delete count.
func (s *EntryStore) CleanupExpired(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, ErrStoreUnavailable
	}
	now := s.now().UTC()
	n, err := s.db.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired: %w", err)
	}
	s.cache.DeleteFunc(func(_ string, e *MemoryEntry) bool {
		return !e.Live(now)
	})
	if n > 0 {
		s.logger.Info("expired entries removed", zap.Int("count", n))
	}
	return n, nil
}

// Stats reports the entry total (per session when sessionID is set,
// global otherwise) and the running cache hit rate. The rate is 0 until
// the first keyed read.
func (s *EntryStore) Stats(ctx context.Context, sessionID string) (EntryStats, error) {
	if s.db == nil {
		return EntryStats{}, ErrStoreUnavailable
	}
	total, err := s.db.CountEntries(ctx, sessionID)
	if err != nil {
		return EntryStats{}, fmt.Errorf("entry stats: %w", err)
	}
	hits := s.hits.Load()
	misses := s.misses.Load()
	var rate float64
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return EntryStats{TotalEntries: total, HitRate: rate}, nil
}
