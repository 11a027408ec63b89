package memory

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Defaults for the reasoning bank.
const (
	DefaultPatternCacheSize = 500
	DefaultConfidence       = 0.8
	DefaultTopLimit         = 10
	DefaultMinSuccessRate   = 0.3
	DefaultMinUsageCount    = 5

	confidenceFloor = 0.1
	confidenceCeil  = 1.0
)

// ReasoningBank accumulates reasoning patterns and evolves their
// confidence and success metrics from observed outcomes. Pattern reads
// go through a bounded cache. Safe for concurrent use.
type ReasoningBank struct {
	db     PatternPersistence
	cache  *fifoCache[*ReasoningPattern]
	sim    SimilarityStrategy
	logger *zap.Logger

	now func() time.Time
}

// NewReasoningBank creates a bank over the given persistence contract.
// A nil strategy means JaccardSimilarity; cacheSize <= 0 means
// DefaultPatternCacheSize.
func NewReasoningBank(db PatternPersistence, cacheSize int, sim SimilarityStrategy, logger *zap.Logger) *ReasoningBank {
	if cacheSize <= 0 {
		cacheSize = DefaultPatternCacheSize
	}
	if sim == nil {
		sim = JaccardSimilarity{}
	}
	return &ReasoningBank{
		db:     db,
		cache:  newFIFOCache[*ReasoningPattern](cacheSize),
		sim:    sim,
		logger: logger,
		now:    time.Now,
	}
}

// StoreReasoning persists a new pattern with its outcome payload.
// A fresh pattern starts at usageCount 0 and successRate 1.0; a zero
// opts.Confidence means the 0.8 default.
func (b *ReasoningBank) StoreReasoning(ctx context.Context, pattern string, result any, opts ReasoningOptions) (string, error) {
	if b.db == nil {
		return "", ErrStoreUnavailable
	}
	if pattern == "" {
		return "", validationErr("pattern", "must not be empty")
	}

	confidence := opts.Confidence
	if confidence == 0 {
		confidence = DefaultConfidence
	}
	now := b.now().UTC()
	p := &ReasoningPattern{
		ID:          uuid.New().String(),
		Pattern:     pattern,
		Result:      result,
		Context:     opts.Context,
		Confidence:  clampConfidence(confidence),
		UsageCount:  0,
		SuccessRate: 1.0,
		Domain:      opts.Domain,
		Tags:        opts.Tags,
		Metadata:    opts.Metadata,
		Embedding:   opts.Embedding,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := b.db.InsertPattern(ctx, p); err != nil {
		return "", fmt.Errorf("store reasoning: %w", err)
	}
	b.cache.Set(p.ID, p)

	b.logger.Debug("reasoning stored",
		zap.String("id", p.ID),
		zap.String("domain", p.Domain),
		zap.Float64("confidence", p.Confidence))
	return p.ID, nil
}

// FindSimilarReasoning fetches candidates whose pattern text contains
// the query (case-insensitive, at the storage layer), filtered by
// domain, tags and minimum confidence and ordered by usage count then
// confidence, then scores each against the query with the configured
// similarity strategy.
func (b *ReasoningBank) FindSimilarReasoning(ctx context.Context, query string, opts SimilarOptions) ([]SimilarPattern, error) {
	if b.db == nil {
		return nil, ErrStoreUnavailable
	}
	patterns, err := b.db.SearchPatterns(ctx, PatternFilter{
		Query:         query,
		Domain:        opts.Domain,
		MinConfidence: opts.MinConfidence,
		Tags:          opts.Tags,
		Limit:         opts.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("find similar reasoning: %w", err)
	}

	results := make([]SimilarPattern, 0, len(patterns))
	for _, p := range patterns {
		results = append(results, SimilarPattern{
			ID:         p.ID,
			Pattern:    p,
			Similarity: b.sim.Score(query, nil, p),
		})
	}
	return results, nil
}

// GetReasoningPattern returns the pattern by id, cache-first, or nil
// when absent.
func (b *ReasoningBank) GetReasoningPattern(ctx context.Context, id string) (*ReasoningPattern, error) {
	if b.db == nil {
		return nil, ErrStoreUnavailable
	}
	if p, ok := b.cache.Get(id); ok {
		return p, nil
	}
	p, err := b.db.GetPattern(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get pattern %s: %w", id, err)
	}
	if p == nil {
		return nil, nil
	}
	b.cache.Set(id, p)
	return p, nil
}

// UpdateReasoningUsage records one observed outcome for the pattern:
// usage count increments, the success rate folds the outcome into its
// running average, and confidence tracks the rate clamped to
// [0.1, 1.0]. The cached copy is invalidated, not refreshed. Returns
// ErrPatternNotFound when the id is absent.
func (b *ReasoningBank) UpdateReasoningUsage(ctx context.Context, id string, success bool) error {
	if b.db == nil {
		return ErrStoreUnavailable
	}
	p, err := b.db.GetPattern(ctx, id)
	if err != nil {
		return fmt.Errorf("update usage %s: %w", id, err)
	}
	if p == nil {
		return fmt.Errorf("update usage %s: %w", id, ErrPatternNotFound)
	}

	successes := math.Round(p.SuccessRate * float64(p.UsageCount))
	if success {
		successes++
	}
	usageCount := p.UsageCount + 1
	successRate := successes / float64(usageCount)
	confidence := clampConfidence(successRate)

	if err := b.db.UpdatePatternUsage(ctx, id, usageCount, successRate, confidence, b.now().UTC()); err != nil {
		return fmt.Errorf("update usage %s: %w", id, err)
	}
	b.cache.Delete(id)

	b.logger.Debug("reasoning usage updated",
		zap.String("id", id),
		zap.Bool("success", success),
		zap.Int("usage_count", usageCount),
		zap.Float64("success_rate", successRate))
	return nil
}

// GetReasoningByDomain lists a domain's patterns ordered by usage count
// then confidence, both descending.
func (b *ReasoningBank) GetReasoningByDomain(ctx context.Context, domain string, opts DomainOptions) ([]*ReasoningPattern, error) {
	if b.db == nil {
		return nil, ErrStoreUnavailable
	}
	if domain == "" {
		return nil, validationErr("domain", "must not be empty")
	}
	patterns, err := b.db.SearchPatterns(ctx, PatternFilter{
		Domain:        domain,
		MinConfidence: opts.MinConfidence,
		Limit:         opts.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("reasoning by domain %s: %w", domain, err)
	}
	return patterns, nil
}

// GetTopPatterns returns the best patterns by success rate, usage count
// and confidence, all descending. A limit <= 0 means 10.
func (b *ReasoningBank) GetTopPatterns(ctx context.Context, limit int) ([]*ReasoningPattern, error) {
	if b.db == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	patterns, err := b.db.TopPatterns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("top patterns: %w", err)
	}
	return patterns, nil
}

// DeleteReasoningPattern removes the pattern and its cache slot.
func (b *ReasoningBank) DeleteReasoningPattern(ctx context.Context, id string) error {
	if b.db == nil {
		return ErrStoreUnavailable
	}
	if err := b.db.DeletePattern(ctx, id); err != nil {
		return fmt.Errorf("delete pattern %s: %w", id, err)
	}
	b.cache.Delete(id)
	return nil
}

// Stats aggregates pattern count, mean confidence and the distinct
// domain set, optionally narrowed to one domain.
func (b *ReasoningBank) Stats(ctx context.Context, domain string) (ReasoningStats, error) {
	if b.db == nil {
		return ReasoningStats{}, ErrStoreUnavailable
	}
	total, avg, domains, err := b.db.PatternStats(ctx, domain)
	if err != nil {
		return ReasoningStats{}, fmt.Errorf("reasoning stats: %w", err)
	}
	return ReasoningStats{TotalPatterns: total, AvgConfidence: avg, Domains: domains}, nil
}

// CleanupLowPerformance deletes patterns that accrued at least minUsage
// uses at a success rate below minRate, then clears the whole pattern
// cache. Zero arguments fall back to the 0.3 / 5 defaults.
func (b *ReasoningBank) CleanupLowPerformance(ctx context.Context, minRate float64, minUsage int) (int, error) {
	if b.db == nil {
		return 0, ErrStoreUnavailable
	}
	if minRate <= 0 {
		minRate = DefaultMinSuccessRate
	}
	if minUsage <= 0 {
		minUsage = DefaultMinUsageCount
	}
	n, err := b.db.DeleteLowPerformance(ctx, minRate, minUsage)
	if err != nil {
		return 0, fmt.Errorf("cleanup low performance: %w", err)
	}
	// Coarse invalidation: deleted ids are not enumerated by the store.
	b.cache.Purge()
	if n > 0 {
		b.logger.Info("low-performance patterns removed", zap.Int("count", n))
	}
	return n, nil
}

func clampConfidence(v float64) float64 {
	return math.Min(confidenceCeil, math.Max(confidenceFloor, v))
}
