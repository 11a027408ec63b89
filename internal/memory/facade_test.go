package memory

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestMemory(t *testing.T) (*Memory, *InMemoryPersistence) {
	t.Helper()
	db := NewInMemoryPersistence()
	return New(db, Config{}, zap.NewNop()), db
}

func TestFacadeStoreContextFansOut(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	err := m.StoreContext(ctx, "s1", map[string]any{"goal": "ship", "phase": "review"}, StoreOptions{AgentID: "a1"})
	if err != nil {
		t.Fatalf("StoreContext: %v", err)
	}

	// Aggregated blob.
	sc, err := m.RetrieveSessionContext(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if sc == nil {
		t.Fatal("session context missing")
	}
	if sc.Context["goal"] != "ship" || sc.Context["phase"] != "review" {
		t.Errorf("blob = %v", sc.Context)
	}

	// Per-key fan-out rows.
	for _, k := range []string{"goal", "phase"} {
		e, err := m.RetrieveByKey(ctx, "s1", k)
		if err != nil {
			t.Fatal(err)
		}
		if e == nil {
			t.Errorf("fan-out entry %s missing", k)
		}
	}
}

func TestFacadeMultiAgentSharing(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	if err := m.StoreContext(ctx, "s1", map[string]any{"plan": "draft"}, StoreOptions{AgentID: "planner"}); err != nil {
		t.Fatal(err)
	}
	if err := m.StoreContext(ctx, "s1", map[string]any{"code": "ready"}, StoreOptions{AgentID: "coder"}); err != nil {
		t.Fatal(err)
	}

	sc, err := m.RetrieveSessionContext(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if sc.Context["plan"] != "draft" {
		t.Error("first agent's write lost from shared session")
	}
	if sc.Context["code"] != "ready" {
		t.Error("second agent's write missing from shared session")
	}
}

func TestFacadeUpdateContextMerges(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	if err := m.StoreContext(ctx, "s1", map[string]any{"a": 1.0, "b": 2.0}, StoreOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateContext(ctx, "s1", map[string]any{"b": 20.0, "c": 3.0}, StoreOptions{}); err != nil {
		t.Fatal(err)
	}

	sc, err := m.RetrieveSessionContext(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"a": 1.0, "b": 20.0, "c": 3.0}
	for k, v := range want {
		if sc.Context[k] != v {
			t.Errorf("blob[%q] = %v, want %v", k, sc.Context[k], v)
		}
	}
}

func TestFacadeStoreContextPopulatesCache(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	if err := m.StoreContext(ctx, "s1", map[string]any{"k": "v"}, StoreOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RetrieveByKey(ctx, "s1", "k"); err != nil {
		t.Fatal(err)
	}
	if m.entries.hits.Load() != 1 {
		t.Errorf("hits = %d, want 1 (cache seeded by composite write)", m.entries.hits.Load())
	}
}

func TestFacadeStoreContextValidation(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	if err := m.StoreContext(ctx, "", map[string]any{"k": "v"}, StoreOptions{}); err == nil {
		t.Error("empty session accepted")
	}
	if err := m.StoreContext(ctx, "s1", nil, StoreOptions{}); err == nil {
		t.Error("empty context map accepted")
	}
}

func TestFacadeCleanup(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	base := time.Now()
	m.entries.now = func() time.Time { return base }
	if _, err := m.entries.StoreContext(ctx, "s1", "tmp", "v", StoreOptions{TTLSeconds: 1}); err != nil {
		t.Fatal(err)
	}

	lowID, _ := m.StoreReasoning(ctx, "weak pattern", nil, ReasoningOptions{})
	m.UpdateReasoningUsage(ctx, lowID, true)
	for i := 0; i < 9; i++ {
		m.UpdateReasoningUsage(ctx, lowID, false)
	}

	m.entries.now = func() time.Time { return base.Add(2 * time.Second) }
	res, err := m.Cleanup(ctx, CleanupOptions{})
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if res.ExpiredEntries != 1 {
		t.Errorf("expired = %d, want 1", res.ExpiredEntries)
	}
	if res.LowPerformance != 1 {
		t.Errorf("low performance = %d, want 1", res.LowPerformance)
	}

	// Skips leave the other side untouched.
	res, err = m.Cleanup(ctx, CleanupOptions{SkipExpired: true, SkipLowPerformance: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExpiredEntries != 0 || res.LowPerformance != 0 {
		t.Errorf("skipped cleanup ran anyway: %+v", res)
	}
}

func TestFacadeStats(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	if err := m.StoreContext(ctx, "s1", map[string]any{"k": "v"}, StoreOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.StoreReasoning(ctx, "p", nil, ReasoningOptions{Domain: "qa"}); err != nil {
		t.Fatal(err)
	}

	stats, err := m.Stats(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries.TotalEntries != 1 {
		t.Errorf("entries = %d, want 1", stats.Entries.TotalEntries)
	}
	if stats.Reasoning.TotalPatterns != 1 {
		t.Errorf("patterns = %d, want 1", stats.Reasoning.TotalPatterns)
	}
}

func TestFacadeWithoutStore(t *testing.T) {
	m := New(nil, Config{}, zap.NewNop())
	if err := m.StoreContext(context.Background(), "s", map[string]any{"k": "v"}, StoreOptions{}); err != ErrStoreUnavailable {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}
