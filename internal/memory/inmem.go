package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryPersistence implements the full Persistence contract with
// plain maps under one lock. It backs the daemon when no database is
// configured and the package's unit tests; it is not durable.
type InMemoryPersistence struct {
	mu       sync.RWMutex
	seq      int
	entries  []*inmemEntry
	patterns map[string]*ReasoningPattern
	sessions map[string]*SessionContext
}

type inmemEntry struct {
	seq int
	e   MemoryEntry
}

// NewInMemoryPersistence creates an empty in-memory store.
func NewInMemoryPersistence() *InMemoryPersistence {
	return &InMemoryPersistence{
		patterns: make(map[string]*ReasoningPattern),
		sessions: make(map[string]*SessionContext),
	}
}

func (m *InMemoryPersistence) InsertEntry(_ context.Context, e *MemoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertLocked(e)
	return nil
}

func (m *InMemoryPersistence) insertLocked(e *MemoryEntry) {
	m.seq++
	cp := *e
	m.entries = append(m.entries, &inmemEntry{seq: m.seq, e: cp})
}

func (m *InMemoryPersistence) LatestByKey(_ context.Context, sessionID, key string, now time.Time) (*MemoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *inmemEntry
	for _, ie := range m.entries {
		if ie.e.SessionID != sessionID || ie.e.Key != key || !ie.e.Live(now) {
			continue
		}
		if best == nil || ie.seq > best.seq {
			best = ie
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := best.e
	return &cp, nil
}

func (m *InMemoryPersistence) ListEntries(_ context.Context, f EntryFilter) ([]*MemoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*inmemEntry, 0)
	for _, ie := range m.entries {
		e := &ie.e
		if f.SessionID != "" && e.SessionID != f.SessionID {
			continue
		}
		if f.AgentID != "" && e.AgentID != f.AgentID {
			continue
		}
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.Key != "" && e.Key != f.Key {
			continue
		}
		if f.Namespace != "" && metaString(e.Metadata, "namespace") != f.Namespace {
			continue
		}
		if f.Domain != "" && metaString(e.Metadata, "domain") != f.Domain {
			continue
		}
		if f.Type != "" && metaString(e.Metadata, "type") != f.Type {
			continue
		}
		if !f.IncludeExpired && !e.Live(f.Now) {
			continue
		}
		matched = append(matched, ie)
	}

	// Newest first; insertion order breaks timestamp ties.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].e.CreatedAt.Equal(matched[j].e.CreatedAt) {
			return matched[i].e.CreatedAt.After(matched[j].e.CreatedAt)
		}
		return matched[i].seq > matched[j].seq
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	out := make([]*MemoryEntry, len(matched))
	for i, ie := range matched {
		cp := ie.e
		out[i] = &cp
	}
	return out, nil
}

func (m *InMemoryPersistence) UpdateEntry(_ context.Context, sessionID, key string, value any, metadata map[string]any, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ie := range m.entries {
		if ie.e.SessionID == sessionID && ie.e.Key == key {
			ie.e.Value = value
			ie.e.UpdatedAt = now
			if metadata != nil {
				ie.e.Metadata = metadata
			}
		}
	}
	return nil
}

func (m *InMemoryPersistence) DeleteByKey(_ context.Context, sessionID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteEntriesLocked(func(e *MemoryEntry) bool {
		return e.SessionID == sessionID && e.Key == key
	})
	return nil
}

func (m *InMemoryPersistence) DeleteBySession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteEntriesLocked(func(e *MemoryEntry) bool {
		return e.SessionID == sessionID
	})
	return nil
}

func (m *InMemoryPersistence) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteEntriesLocked(func(e *MemoryEntry) bool {
		return !e.Live(now)
	}), nil
}

func (m *InMemoryPersistence) CountEntries(_ context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessionID == "" {
		return len(m.entries), nil
	}
	n := 0
	for _, ie := range m.entries {
		if ie.e.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (m *InMemoryPersistence) deleteEntriesLocked(match func(*MemoryEntry) bool) int {
	kept := m.entries[:0]
	removed := 0
	for _, ie := range m.entries {
		if match(&ie.e) {
			removed++
			continue
		}
		kept = append(kept, ie)
	}
	m.entries = kept
	return removed
}

func (m *InMemoryPersistence) UpsertSessionContext(_ context.Context, sc *SessionContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertSessionLocked(sc)
	return nil
}

func (m *InMemoryPersistence) upsertSessionLocked(sc *SessionContext) {
	cp := *sc
	if prev, ok := m.sessions[sc.SessionID]; ok {
		cp.CreatedAt = prev.CreatedAt
	}
	m.sessions[sc.SessionID] = &cp
}

func (m *InMemoryPersistence) GetSessionContext(_ context.Context, sessionID string) (*SessionContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *sc
	return &cp, nil
}

func (m *InMemoryPersistence) ReplaceSessionContext(_ context.Context, sc *SessionContext, entries []*MemoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertSessionLocked(sc)
	for _, e := range entries {
		m.insertLocked(e)
	}
	return nil
}

func (m *InMemoryPersistence) InsertPattern(_ context.Context, p *ReasoningPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.patterns[p.ID] = &cp
	return nil
}

func (m *InMemoryPersistence) GetPattern(_ context.Context, id string) (*ReasoningPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patterns[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *InMemoryPersistence) SearchPatterns(_ context.Context, f PatternFilter) ([]*ReasoningPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ReasoningPattern
	q := strings.ToLower(f.Query)
	for _, p := range m.patterns {
		if f.Query != "" && !strings.Contains(strings.ToLower(p.Pattern), q) {
			continue
		}
		if f.Domain != "" && p.Domain != f.Domain {
			continue
		}
		if f.MinConfidence > 0 && p.Confidence < f.MinConfidence {
			continue
		}
		if len(f.Tags) > 0 && !tagsOverlap(p.Tags, f.Tags) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UsageCount != out[j].UsageCount {
			return out[i].UsageCount > out[j].UsageCount
		}
		return out[i].Confidence > out[j].Confidence
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *InMemoryPersistence) TopPatterns(_ context.Context, limit int) ([]*ReasoningPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ReasoningPattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SuccessRate != out[j].SuccessRate {
			return out[i].SuccessRate > out[j].SuccessRate
		}
		if out[i].UsageCount != out[j].UsageCount {
			return out[i].UsageCount > out[j].UsageCount
		}
		return out[i].Confidence > out[j].Confidence
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *InMemoryPersistence) UpdatePatternUsage(_ context.Context, id string, usageCount int, successRate, confidence float64, lastUsed time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patterns[id]
	if !ok {
		return nil
	}
	p.UsageCount = usageCount
	p.SuccessRate = successRate
	p.Confidence = confidence
	p.UpdatedAt = lastUsed
	lu := lastUsed
	p.LastUsedAt = &lu
	return nil
}

func (m *InMemoryPersistence) DeletePattern(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.patterns, id)
	return nil
}

func (m *InMemoryPersistence) DeleteLowPerformance(_ context.Context, minRate float64, minUsage int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, p := range m.patterns {
		if p.UsageCount >= minUsage && p.SuccessRate < minRate {
			delete(m.patterns, id)
			removed++
		}
	}
	return removed, nil
}

func (m *InMemoryPersistence) PatternStats(_ context.Context, domain string) (int, float64, []string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	sum := 0.0
	domainSet := map[string]bool{}
	for _, p := range m.patterns {
		if p.Domain != "" {
			domainSet[p.Domain] = true
		}
		if domain != "" && p.Domain != domain {
			continue
		}
		total++
		sum += p.Confidence
	}
	avg := 0.0
	if total > 0 {
		avg = sum / float64(total)
	}
	domains := make([]string, 0, len(domainSet))
	for d := range domainSet {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return total, avg, domains, nil
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}

func tagsOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
