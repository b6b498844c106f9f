// Package alerts raises operator notices for pipeline trouble, suppressing
// repeats of the same notice within a cooldown.
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/bowerhall/kindred/internal/logger"
)

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarn:
		return "warn"
	default:
		return "info"
	}
}

type NotifyFunc func(severity Severity, component, message string, err error)

type Alerter struct {
	mu         sync.Mutex
	notify     NotifyFunc
	cooldowns  map[string]time.Time
	suppressed map[string]int
	cooldown   time.Duration
	now        func() time.Time
}

// New returns an alerter. A nil notify writes alerts to the log.
func New(notify NotifyFunc, cooldown time.Duration) *Alerter {
	if notify == nil {
		notify = logNotify
	}
	return &Alerter{
		notify:     notify,
		cooldowns:  make(map[string]time.Time),
		suppressed: make(map[string]int),
		cooldown:   cooldown,
		now:        time.Now,
	}
}

// Alert delivers the notice unless the same component and message fired
// within the cooldown. It reports whether the notice was delivered.
func (a *Alerter) Alert(severity Severity, component, message string, err error) bool {
	a.mu.Lock()
	key := fmt.Sprintf("%s:%s", component, message)
	now := a.now()

	if lastSent, ok := a.cooldowns[key]; ok && now.Sub(lastSent) < a.cooldown {
		a.suppressed[key]++
		a.mu.Unlock()
		logger.Debug("alert suppressed (cooldown)", "component", component, "message", message)
		return false
	}

	if n := a.suppressed[key]; n > 0 {
		message = fmt.Sprintf("%s (%d more since last notice)", message, n)
	}
	a.cooldowns[key] = now
	delete(a.suppressed, key)
	a.mu.Unlock()

	a.notify(severity, component, message, err)
	return true
}

func (a *Alerter) Critical(component, message string, err error) bool {
	return a.Alert(SeverityCritical, component, message, err)
}

func (a *Alerter) Warn(component, message string, err error) bool {
	return a.Alert(SeverityWarn, component, message, err)
}

func logNotify(severity Severity, component, message string, err error) {
	args := []any{"component", component, "severity", severity.String()}
	if err != nil {
		args = append(args, "error", err)
	}
	switch severity {
	case SeverityCritical:
		logger.Error(message, args...)
	case SeverityWarn:
		logger.Warn(message, args...)
	default:
		logger.Info(message, args...)
	}
}
