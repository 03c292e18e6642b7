package observe

import (
	"time"

	"mabletask/agent/logger"
	"mabletask/agent/metrics"
	"mabletask/agent/models"
)

// Emitter receives the signals observers produce.
type Emitter interface {
	Emit(eventType string, source models.EventSource, data map[string]any, dedupeKey string) bool
	EmitLegacy(kind string, fields map[string]any) bool
}

// Scheduler runs fn once after d. The returned function cancels it.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

// Observer reacts to snapshots and host events.
type Observer interface {
	Name() string
	// Attach inspects a freshly parsed page. It may run more than once per
	// page lifetime when late-loading widgets are re-scanned.
	Attach(page *Page)
	Handle(ev models.HostEvent)
}

// Set runs a group of observers, each behind its own recover guard.
type Set struct {
	observers []Observer
	log       logger.Logger
	metrics   *metrics.Metrics
}

// NewSet creates an observer set.
func NewSet(log logger.Logger, m *metrics.Metrics, observers ...Observer) *Set {
	return &Set{observers: observers, log: log, metrics: m}
}

// Add appends an observer.
func (s *Set) Add(o Observer) {
	s.observers = append(s.observers, o)
}

// Attach attaches every observer to page.
func (s *Set) Attach(page *Page) {
	for _, o := range s.observers {
		s.guard(o.Name(), func() { o.Attach(page) })
	}
}

// Handle forwards ev to every observer.
func (s *Set) Handle(ev models.HostEvent) {
	for _, o := range s.observers {
		s.guard(o.Name(), func() { o.Handle(ev) })
	}
}

func (s *Set) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.ObserverFailed(name)
			s.log.Debug("Observer failed", logger.String("observer", name), logger.Any("panic", r))
		}
	}()
	fn()
}

// Guard runs fn and recovers any panic, logging it under name.
func Guard(log logger.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug("Recovered panic", logger.String("component", name), logger.Any("panic", r))
		}
	}()
	fn()
}
