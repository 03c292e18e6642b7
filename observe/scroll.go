package observe

import (
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"mabletask/agent/models"
)

// ScrollMilestones are the reported depth percentages.
var ScrollMilestones = []int{25, 50, 75, 90, 100}

// Depth returns the scroll depth percentage for an offset. Content no taller
// than the viewport is fully seen.
func Depth(scrollY, documentHeight, viewportHeight float64) float64 {
	scrollable := documentHeight - viewportHeight
	if scrollable <= 0 {
		return 100
	}
	pct := scrollY / scrollable * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

// Scroll reports each depth milestone at most once per page. Bursts of scroll
// events are coalesced to one evaluation per throttle interval, with a
// trailing evaluation of the latest position.
type Scroll struct {
	emit     Emitter
	limiter  *rate.Limiter
	throttle time.Duration
	sched    Scheduler
	now      func() time.Time

	pending  *models.HostEvent
	stopTail func() bool
	maxDepth float64
}

// NewScroll creates the scroll observer.
func NewScroll(emit Emitter, throttle time.Duration, sched Scheduler, now func() time.Time) *Scroll {
	return &Scroll{
		emit:     emit,
		limiter:  rate.NewLimiter(rate.Every(throttle), 1),
		throttle: throttle,
		sched:    sched,
		now:      now,
	}
}

func (s *Scroll) Name() string { return "scroll" }

// Attach evaluates the snapshot's geometry so a page that never scrolls,
// such as one shorter than the viewport, still reports its depth.
func (s *Scroll) Attach(page *Page) {
	v := page.Viewport
	if v == nil || v.DocumentHeight <= 0 {
		return
	}
	s.evaluate(models.HostEvent{
		Kind:           models.KindScroll,
		ScrollY:        v.ScrollY,
		DocumentHeight: v.DocumentHeight,
		ViewportHeight: v.ViewportHeight,
	})
}

// Handle evaluates scroll events, throttled.
func (s *Scroll) Handle(ev models.HostEvent) {
	if ev.Kind != models.KindScroll {
		return
	}
	at := ev.At
	if at.IsZero() {
		at = s.now()
	}

	if s.limiter.AllowN(at, 1) {
		s.pending = nil
		s.evaluate(ev)
		return
	}

	s.pending = &ev
	if s.stopTail == nil && s.sched != nil {
		s.stopTail = s.sched.AfterFunc(s.throttle, s.trailing)
	}
}

// MaxDepth is the deepest position seen so far.
func (s *Scroll) MaxDepth() float64 {
	return s.maxDepth
}

// Stop cancels a scheduled trailing evaluation.
func (s *Scroll) Stop() {
	if s.stopTail != nil {
		s.stopTail()
		s.stopTail = nil
	}
}

func (s *Scroll) trailing() {
	s.stopTail = nil
	if s.pending == nil {
		return
	}
	ev := *s.pending
	s.pending = nil
	s.evaluate(ev)
}

func (s *Scroll) evaluate(ev models.HostEvent) {
	depth := Depth(ev.ScrollY, ev.DocumentHeight, ev.ViewportHeight)
	if depth > s.maxDepth {
		s.maxDepth = depth
	}
	for _, m := range ScrollMilestones {
		if depth < float64(m) {
			break
		}
		s.emit.Emit("scroll_depth", models.SourceBehavior, map[string]any{
			"depth": m,
		}, "scroll:"+strconv.Itoa(m))
	}
}
