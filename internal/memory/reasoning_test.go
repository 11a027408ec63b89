package memory

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap"
)

func newTestBank(t *testing.T) (*ReasoningBank, *InMemoryPersistence) {
	t.Helper()
	db := NewInMemoryPersistence()
	return NewReasoningBank(db, 0, nil, zap.NewNop()), db
}

func TestStoreReasoningDefaults(t *testing.T) {
	b, _ := newTestBank(t)
	ctx := context.Background()

	id, err := b.StoreReasoning(ctx, "break work into subtasks", map[string]any{"ok": true}, ReasoningOptions{})
	if err != nil {
		t.Fatalf("StoreReasoning: %v", err)
	}

	p, err := b.GetReasoningPattern(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Confidence != DefaultConfidence {
		t.Errorf("confidence = %v, want %v", p.Confidence, DefaultConfidence)
	}
	if p.UsageCount != 0 {
		t.Errorf("usage count = %d, want 0", p.UsageCount)
	}
	if p.SuccessRate != 1.0 {
		t.Errorf("success rate = %v, want 1.0", p.SuccessRate)
	}
}

func TestUpdateReasoningUsageFormula(t *testing.T) {
	b, _ := newTestBank(t)
	ctx := context.Background()

	id, err := b.StoreReasoning(ctx, "retry with backoff", nil, ReasoningOptions{})
	if err != nil {
		t.Fatal(err)
	}

	// First success: 1/1.
	if err := b.UpdateReasoningUsage(ctx, id, true); err != nil {
		t.Fatal(err)
	}
	p, _ := b.GetReasoningPattern(ctx, id)
	if p.UsageCount != 1 || p.SuccessRate != 1.0 {
		t.Errorf("after success: count=%d rate=%v, want 1, 1.0", p.UsageCount, p.SuccessRate)
	}
	if p.LastUsedAt == nil {
		t.Error("lastUsedAt not set")
	}

	// Then a failure: 1/2.
	if err := b.UpdateReasoningUsage(ctx, id, false); err != nil {
		t.Fatal(err)
	}
	p, _ = b.GetReasoningPattern(ctx, id)
	if p.UsageCount != 2 {
		t.Errorf("count = %d, want 2", p.UsageCount)
	}
	if p.SuccessRate != 0.5 {
		t.Errorf("rate = %v, want 0.5", p.SuccessRate)
	}
	if p.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", p.Confidence)
	}
}

func TestConfidenceFloor(t *testing.T) {
	b, _ := newTestBank(t)
	ctx := context.Background()

	id, err := b.StoreReasoning(ctx, "guess randomly", nil, ReasoningOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		if err := b.UpdateReasoningUsage(ctx, id, false); err != nil {
			t.Fatal(err)
		}
	}
	p, _ := b.GetReasoningPattern(ctx, id)
	if p.SuccessRate != 0 {
		t.Errorf("rate = %v, want 0", p.SuccessRate)
	}
	if p.Confidence != 0.1 {
		t.Errorf("confidence = %v, want floor 0.1", p.Confidence)
	}
}

func TestUpdateReasoningUsageNotFound(t *testing.T) {
	b, _ := newTestBank(t)
	err := b.UpdateReasoningUsage(context.Background(), "no-such-id", true)
	if !errors.Is(err, ErrPatternNotFound) {
		t.Errorf("err = %v, want ErrPatternNotFound", err)
	}
}

func TestUpdateInvalidatesPatternCache(t *testing.T) {
	b, _ := newTestBank(t)
	ctx := context.Background()

	id, err := b.StoreReasoning(ctx, "cache me", nil, ReasoningOptions{})
	if err != nil {
		t.Fatal(err)
	}
	// Warm the cache, then update through the bank.
	if _, err := b.GetReasoningPattern(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := b.UpdateReasoningUsage(ctx, id, true); err != nil {
		t.Fatal(err)
	}
	p, err := b.GetReasoningPattern(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if p.UsageCount != 1 {
		t.Errorf("stale cached pattern: count = %d, want 1", p.UsageCount)
	}
}

func TestFindSimilarReasoning(t *testing.T) {
	b, _ := newTestBank(t)
	ctx := context.Background()

	if _, err := b.StoreReasoning(ctx, "testing best practices", nil, ReasoningOptions{Domain: "qa"}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.StoreReasoning(ctx, "deployment best practices", nil, ReasoningOptions{Domain: "ops"}); err != nil {
		t.Fatal(err)
	}
	id3, err := b.StoreReasoning(ctx, "unit testing discipline", nil, ReasoningOptions{Domain: "qa"})
	if err != nil {
		t.Fatal(err)
	}
	// Give the third pattern usage so ordering by usage count shows.
	if err := b.UpdateReasoningUsage(ctx, id3, true); err != nil {
		t.Fatal(err)
	}

	results, err := b.FindSimilarReasoning(ctx, "testing practices", SimilarOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (contains prefilter)", len(results))
	}
	// id3 has usageCount 1, comes first.
	if results[0].ID != id3 {
		t.Errorf("first result = %s, want most-used pattern", results[0].ID)
	}

	var jaccard float64
	for _, r := range results {
		if r.Pattern.Pattern == "testing best practices" {
			jaccard = r.Similarity
		}
	}
	want := 2.0 / 3.0
	if math.Abs(jaccard-want) > 1e-9 {
		t.Errorf("similarity = %v, want %v", jaccard, want)
	}

	// Domain filter narrows candidates.
	qa, err := b.FindSimilarReasoning(ctx, "practices", SimilarOptions{Domain: "qa"})
	if err != nil {
		t.Fatal(err)
	}
	if len(qa) != 1 || qa[0].Pattern.Domain != "qa" {
		t.Errorf("domain filter failed: %v", qa)
	}
}

func TestGetReasoningByDomainAndTop(t *testing.T) {
	b, _ := newTestBank(t)
	ctx := context.Background()

	idA, _ := b.StoreReasoning(ctx, "plan first", nil, ReasoningOptions{Domain: "planning"})
	idB, _ := b.StoreReasoning(ctx, "plan later", nil, ReasoningOptions{Domain: "planning", Confidence: 0.9})
	if _, err := b.StoreReasoning(ctx, "other", nil, ReasoningOptions{Domain: "misc"}); err != nil {
		t.Fatal(err)
	}

	// idA: 2 uses, one failure. idB: 1 use, success.
	b.UpdateReasoningUsage(ctx, idA, true)
	b.UpdateReasoningUsage(ctx, idA, false)
	b.UpdateReasoningUsage(ctx, idB, true)

	byDomain, err := b.GetReasoningByDomain(ctx, "planning", DomainOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(byDomain) != 2 {
		t.Fatalf("domain patterns = %d, want 2", len(byDomain))
	}
	if byDomain[0].ID != idA {
		t.Errorf("ordering by usage count: first = %s, want idA", byDomain[0].ID)
	}

	top, err := b.GetTopPatterns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 {
		t.Fatalf("top = %d, want 2", len(top))
	}
	// idB (rate 1.0, 1 use) outranks idA (rate 0.5) on success rate.
	if top[0].ID != idB {
		t.Errorf("top pattern = %s, want idB", top[0].ID)
	}
}

func TestCleanupLowPerformance(t *testing.T) {
	b, db := newTestBank(t)
	ctx := context.Background()

	lowID, _ := b.StoreReasoning(ctx, "flaky approach", nil, ReasoningOptions{})
	youngID, _ := b.StoreReasoning(ctx, "unproven approach", nil, ReasoningOptions{})

	// lowID: 10 uses, 1 success → rate 0.1.
	b.UpdateReasoningUsage(ctx, lowID, true)
	for i := 0; i < 9; i++ {
		b.UpdateReasoningUsage(ctx, lowID, false)
	}
	// youngID: 3 uses, all failures → rate 0, but below min usage.
	for i := 0; i < 3; i++ {
		b.UpdateReasoningUsage(ctx, youngID, false)
	}

	n, err := b.CleanupLowPerformance(ctx, 0.3, 5)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if p, _ := db.GetPattern(ctx, lowID); p != nil {
		t.Error("low performer survived cleanup")
	}
	if p, _ := db.GetPattern(ctx, youngID); p == nil {
		t.Error("under-used pattern should survive cleanup")
	}

	// The whole pattern cache was cleared, not just deleted ids.
	if b.cache.Len() != 0 {
		t.Errorf("cache len = %d, want 0 after cleanup", b.cache.Len())
	}
}

func TestReasoningStats(t *testing.T) {
	b, _ := newTestBank(t)
	ctx := context.Background()

	b.StoreReasoning(ctx, "a", nil, ReasoningOptions{Domain: "qa", Confidence: 0.6})
	b.StoreReasoning(ctx, "b", nil, ReasoningOptions{Domain: "qa", Confidence: 0.8})
	b.StoreReasoning(ctx, "c", nil, ReasoningOptions{Domain: "ops", Confidence: 1.0})

	stats, err := b.Stats(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalPatterns != 3 {
		t.Errorf("total = %d, want 3", stats.TotalPatterns)
	}
	if math.Abs(stats.AvgConfidence-0.8) > 1e-9 {
		t.Errorf("avg confidence = %v, want 0.8", stats.AvgConfidence)
	}
	if len(stats.Domains) != 2 {
		t.Errorf("domains = %v, want [ops qa]", stats.Domains)
	}

	qa, err := b.Stats(ctx, "qa")
	if err != nil {
		t.Fatal(err)
	}
	if qa.TotalPatterns != 2 {
		t.Errorf("qa total = %d, want 2", qa.TotalPatterns)
	}
	if math.Abs(qa.AvgConfidence-0.7) > 1e-9 {
		t.Errorf("qa avg = %v, want 0.7", qa.AvgConfidence)
	}
}

func TestDeleteReasoningPattern(t *testing.T) {
	b, _ := newTestBank(t)
	ctx := context.Background()

	id, _ := b.StoreReasoning(ctx, "short lived", nil, ReasoningOptions{})
	if err := b.DeleteReasoningPattern(ctx, id); err != nil {
		t.Fatal(err)
	}
	p, err := b.GetReasoningPattern(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Error("pattern still readable after delete")
	}
}
