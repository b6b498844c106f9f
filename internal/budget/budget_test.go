package budget

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func openStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, time.UTC)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestTrackerAdd(t *testing.T) {
	tracker := NewTracker(Config{DailyLimit: 1000, WarnAt: 0.8}, nil, nil)

	if !tracker.Add(500) {
		t.Error("expected Add to return true when under limit")
	}

	used, limit := tracker.Usage()
	if used != 500 {
		t.Errorf("expected 500 used, got %d", used)
	}
	if limit != 1000 {
		t.Errorf("expected 1000 limit, got %d", limit)
	}
	if !tracker.Allow() {
		t.Error("expected Allow under limit")
	}
}

func TestTrackerExceedsLimit(t *testing.T) {
	exceededCalled := false
	tracker := NewTracker(Config{DailyLimit: 1000, WarnAt: 0.8}, nil, func(used, limit int) {
		exceededCalled = true
	})

	tracker.Add(500)
	if tracker.Add(600) {
		t.Error("expected Add to return false when exceeding limit")
	}
	if !exceededCalled {
		t.Error("expected onExceeded callback to be called")
	}
	if tracker.Allow() {
		t.Error("expected Allow to refuse once the limit is spent")
	}
}

func TestTrackerWarnOnlyOnce(t *testing.T) {
	warnCount := 0
	tracker := NewTracker(Config{DailyLimit: 1000, WarnAt: 0.8}, func(used, limit int) {
		warnCount++
	}, nil)

	tracker.Add(700)
	if warnCount != 0 {
		t.Error("expected no warning at 70%")
	}

	tracker.Add(100)
	tracker.Add(50)
	tracker.Add(50)

	if warnCount != 1 {
		t.Errorf("expected warning to be called once, got %d", warnCount)
	}
}

func TestTrackerUnlimited(t *testing.T) {
	tracker := NewTracker(Config{}, nil, nil)

	if !tracker.Add(10_000_000) {
		t.Error("expected zero limit to disable enforcement")
	}
	if !tracker.Allow() {
		t.Error("expected Allow with zero limit")
	}
}

func TestTrackerResetsAtMidnight(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	tracker := NewTracker(Config{DailyLimit: 1000, WarnAt: 0.8}, nil, nil)
	tracker.now = func() time.Time { return now }
	tracker.day = tracker.today()

	tracker.Add(1000)
	if tracker.Allow() {
		t.Fatal("expected budget spent")
	}

	now = now.Add(2 * time.Minute)
	if !tracker.Allow() {
		t.Error("expected budget to reset on a new day")
	}
	if used, _ := tracker.Usage(); used != 0 {
		t.Errorf("expected 0 used after reset, got %d", used)
	}
}

func TestTrackerRecordPersistsStage(t *testing.T) {
	store := openStore(t)

	tracker := NewTracker(Config{DailyLimit: 100000, WarnAt: 0.8}, nil, nil)
	tracker.SetStore(store)

	if !tracker.Record("extraction", "claude", "claude-sonnet-4-20250514", 1000, 100) {
		t.Error("expected Record to return true")
	}
	tracker.Record("conversation", "claude", "claude-sonnet-4-20250514", 200, 50)

	used, _ := tracker.Usage()
	if used != 1350 {
		t.Errorf("expected 1350 used, got %d", used)
	}

	stages, err := store.TodayByStage()
	if err != nil {
		t.Fatalf("breakdown failed: %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(stages))
	}
	if stages[0].Stage != "extraction" || stages[0].InputTokens != 1000 {
		t.Errorf("expected extraction first, got %+v", stages[0])
	}
}

func TestSetStoreResumesToday(t *testing.T) {
	store := openStore(t)
	store.Record("aggregation", "openai", "gpt-4o", 700, 150)

	warned := false
	tracker := NewTracker(Config{DailyLimit: 1000, WarnAt: 0.8}, func(int, int) { warned = true }, nil)
	tracker.SetStore(store)

	if used, _ := tracker.Usage(); used != 850 {
		t.Errorf("expected 850 resumed, got %d", used)
	}
	tracker.Add(10)
	if warned {
		t.Error("warning should count as already sent after resume")
	}
}

func TestStoreSummaryRange(t *testing.T) {
	store := openStore(t)

	store.Record("extraction", "claude", "claude-sonnet-4-20250514", 1000, 100)
	store.Record("retrieval", "openai", "gpt-4o", 500, 50)
	store.Record("conversation", "gemini", "gemini-2.5-flash", 2000, 200)

	summary, err := store.Today()
	if err != nil {
		t.Fatalf("failed to get today summary: %v", err)
	}

	if summary.TotalRequests != 3 {
		t.Errorf("expected 3 requests, got %d", summary.TotalRequests)
	}
	if summary.TotalInputTokens != 3500 {
		t.Errorf("expected 3500 input tokens, got %d", summary.TotalInputTokens)
	}
	if summary.TotalOutputTokens != 350 {
		t.Errorf("expected 350 output tokens, got %d", summary.TotalOutputTokens)
	}

	month, err := store.ThisMonth()
	if err != nil {
		t.Fatalf("month summary failed: %v", err)
	}
	if month.TotalRequests != 3 {
		t.Errorf("expected 3 requests this month, got %d", month.TotalRequests)
	}
}

func TestPricingKnownModels(t *testing.T) {
	tests := []struct {
		model  string
		input  int
		output int
		want   float64
	}{
		{"claude-sonnet-4-20250514", 1000000, 0, 3.00},
		{"claude-sonnet-4-20250514", 0, 1000000, 15.00},
		{"gpt-4o", 1000000, 0, 2.50},
		{"gemini-2.5-pro", 0, 1000000, 10.00},
	}

	for _, tt := range tests {
		cost := CalculateCost(tt.model, tt.input, tt.output)
		if cost != tt.want {
			t.Errorf("CalculateCost(%s, %d, %d) = %f, want %f", tt.model, tt.input, tt.output, cost, tt.want)
		}
	}
}

func TestPricingLocalModelsFree(t *testing.T) {
	if cost := CalculateCost("qwen2.5:7b", 1000000, 1000000); cost != 0 {
		t.Errorf("expected local models to be free, got %f", cost)
	}
	if cost := CalculateCost("unknown-model", 1000000, 1000000); cost == 0 {
		t.Error("expected unknown models to have non-zero cost")
	}
}
