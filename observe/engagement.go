package observe

import (
	"strconv"
	"time"

	"mabletask/agent/models"
)

// EngagementMilestones are the reported active-time thresholds.
var EngagementMilestones = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
}

// Engagement accumulates active time: the wall-clock gap between two
// observed activities counts only when it is below the idle threshold and the
// page is both visible and focused.
type Engagement struct {
	emit Emitter
	idle time.Duration

	started time.Time
	last    time.Time
	active  time.Duration
	visible bool
	focused bool
}

// NewEngagement creates the engagement observer.
func NewEngagement(emit Emitter, idle time.Duration) *Engagement {
	return &Engagement{emit: emit, idle: idle, visible: true, focused: true}
}

func (e *Engagement) Name() string { return "engagement" }

func (e *Engagement) Attach(*Page) {}

// Start marks the page load time.
func (e *Engagement) Start(at time.Time) {
	e.started = at
	e.last = at
}

// Handle records activity and visibility changes.
func (e *Engagement) Handle(ev models.HostEvent) {
	switch ev.Kind {
	case models.KindActivity, models.KindScroll, models.KindClick, models.KindFocus, models.KindSubmit:
		e.touch(ev.At)
	case models.KindVisibility:
		e.touch(ev.At)
		if ev.Visible != nil {
			e.visible = *ev.Visible
		}
	case models.KindWindowFocus:
		e.touch(ev.At)
		if ev.Focused != nil {
			e.focused = *ev.Focused
		}
	}
}

// Sample is the periodic idle check: time since the last activity counts if
// the visitor is not yet idle.
func (e *Engagement) Sample(now time.Time) {
	e.touch(now)
}

// Active is the accumulated active time.
func (e *Engagement) Active() time.Duration {
	return e.active
}

// Summary is the exit payload at now.
func (e *Engagement) Summary(now time.Time) map[string]any {
	e.touch(now)
	onPage := time.Duration(0)
	if !e.started.IsZero() && now.After(e.started) {
		onPage = now.Sub(e.started)
	}
	return map[string]any{
		"active_time_ms":  e.active.Milliseconds(),
		"time_on_page_ms": onPage.Milliseconds(),
	}
}

func (e *Engagement) touch(at time.Time) {
	if at.IsZero() {
		return
	}
	if e.last.IsZero() {
		e.last = at
		return
	}
	gap := at.Sub(e.last)
	if gap <= 0 {
		return
	}
	if gap < e.idle && e.visible && e.focused {
		e.active += gap
	}
	e.last = at
	e.milestones()
}

func (e *Engagement) milestones() {
	for _, m := range EngagementMilestones {
		if e.active < m {
			return
		}
		secs := int(m / time.Second)
		e.emit.Emit("engaged_time", models.SourceBehavior, map[string]any{
			"seconds": secs,
		}, "engaged:"+strconv.Itoa(secs))
	}
}
