// Package budget tracks daily LLM token spend per pipeline stage.
package budget

import (
	"sync"
	"time"

	"github.com/bowerhall/kindred/internal/logger"
)

type Tracker struct {
	mu         sync.Mutex
	dailyLimit int
	warnAt     float64
	tokens     int
	day        time.Time
	onWarn     func(used, limit int)
	onExceeded func(used, limit int)
	warnSent   bool
	timezone   *time.Location
	store      *Store
	now        func() time.Time
}

type Config struct {
	DailyLimit int
	WarnAt     float64
	Timezone   *time.Location
}

// NewTracker creates a tracker. A zero DailyLimit disables enforcement but
// usage is still recorded.
func NewTracker(cfg Config, onWarn, onExceeded func(used, limit int)) *Tracker {
	tz := cfg.Timezone
	if tz == nil {
		tz = time.UTC
	}

	t := &Tracker{
		dailyLimit: cfg.DailyLimit,
		warnAt:     cfg.WarnAt,
		onWarn:     onWarn,
		onExceeded: onExceeded,
		timezone:   tz,
		now:        time.Now,
	}
	t.day = t.today()
	return t
}

// SetStore attaches persistent storage and resumes today's total from it.
func (t *Tracker) SetStore(s *Store) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.store = s
	if s == nil {
		return
	}

	sum, err := s.Today()
	if err != nil {
		logger.Warn("budget: failed to load today's usage", "error", err)
		return
	}
	t.tokens = sum.TotalInputTokens + sum.TotalOutputTokens
	if t.dailyLimit > 0 && float64(t.tokens) >= float64(t.dailyLimit)*t.warnAt {
		t.warnSent = true
	}
}

func (t *Tracker) Store() *Store {
	return t.store
}

// Allow reports whether another call fits in today's budget.
func (t *Tracker) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkReset()
	return t.dailyLimit <= 0 || t.tokens < t.dailyLimit
}

// Add counts tokens against the budget and returns false once the limit is reached.
func (t *Tracker) Add(tokens int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkReset()
	t.tokens += tokens

	if t.dailyLimit <= 0 {
		return true
	}

	if t.tokens >= t.dailyLimit {
		if t.onExceeded != nil {
			t.onExceeded(t.tokens, t.dailyLimit)
		}
		return false
	}

	if !t.warnSent && float64(t.tokens) >= float64(t.dailyLimit)*t.warnAt {
		t.warnSent = true
		if t.onWarn != nil {
			t.onWarn(t.tokens, t.dailyLimit)
		}
	}

	return true
}

// Record persists one call's usage and adds it to the running total.
func (t *Tracker) Record(stage, provider, model string, inputTokens, outputTokens int) bool {
	if t.store != nil {
		if err := t.store.Record(stage, provider, model, inputTokens, outputTokens); err != nil {
			logger.Warn("budget: failed to record usage", "stage", stage, "error", err)
		}
	}

	return t.Add(inputTokens + outputTokens)
}

func (t *Tracker) Usage() (used, limit int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkReset()
	return t.tokens, t.dailyLimit
}

func (t *Tracker) today() time.Time {
	now := t.now().In(t.timezone)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, t.timezone)
}

// must hold lock
func (t *Tracker) checkReset() {
	if day := t.today(); !day.Equal(t.day) {
		t.tokens = 0
		t.warnSent = false
		t.day = day
	}
}
