// Package agent orchestrates one page lifetime: identity and session
// resolution on load, DOM observers once the document is interactive,
// delayed re-detection of late widgets, host event dispatch and the manual
// tracking API.
//
// Every entry point and every timer callback runs under one mutex, so the
// observers and the dedup cache see strictly sequential calls.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"mabletask/agent/classify"
	"mabletask/agent/config"
	"mabletask/agent/envelope"
	"mabletask/agent/logger"
	"mabletask/agent/metrics"
	"mabletask/agent/models"
	"mabletask/agent/observe"
	"mabletask/agent/session"
	"mabletask/agent/store"
	"mabletask/agent/transport"
	"mabletask/agent/utils"
)

// ErrNotConfigured is returned by New when required configuration is missing.
var ErrNotConfigured = errors.New("agent not configured")

// Deps are the collaborators of an Agent. Zero values get defaults: an
// in-memory store, the wall clock, a no-op logger and an owned delivery
// dispatcher built from the configuration.
type Deps struct {
	Store   store.Store
	Out     transport.Submitter
	Log     logger.Logger
	Metrics *metrics.Metrics
	Clock   Clock
	NewID   func() string

	// Client and Ledger apply to the owned dispatcher only.
	Client *http.Client
	Ledger transport.Recorder
}

// Agent is the engine for one page lifetime.
type Agent struct {
	mu sync.Mutex

	cfg     *config.AgentConfig
	log     logger.Logger
	metrics *metrics.Metrics
	clock   Clock
	store   *store.Safe
	tracker *session.Tracker
	builder *envelope.Builder
	out     transport.Submitter
	owned   *transport.Dispatcher

	stream     *observe.Stream
	set        *observe.Set
	engagement *observe.Engagement
	scroll     *observe.Scroll
	chat       *observe.Chat
	booking    *observe.Booking

	load      models.PageLoad
	identity  models.Identity
	session   models.SessionContext
	visitor   models.VisitorState
	page      models.PageContext
	detection classify.Detection
	latest    *observe.Page

	started     bool
	interactive bool
	completed   bool
	closed      bool
	timerSeq    int
	timers      map[int]func() bool
}

// New validates cfg and creates an agent. A configuration error is logged
// once and returned wrapped in ErrNotConfigured; nothing is ever emitted by
// an agent that failed to configure.
func New(cfg *config.AgentConfig, deps Deps) (*Agent, error) {
	log := deps.Log
	if log == nil {
		log = logger.NewNop()
	}
	if cfg == nil {
		log.Error("Agent not configured", logger.String("reason", "missing configuration"))
		return nil, ErrNotConfigured
	}
	if err := cfg.Validate(); err != nil {
		log.Error("Agent not configured", logger.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = RealClock()
	}
	newID := deps.NewID
	if newID == nil {
		newID = utils.NewID
	}

	a := &Agent{
		cfg:     cfg,
		log:     log,
		metrics: deps.Metrics,
		clock:   clock,
		out:     deps.Out,
		timers:  make(map[int]func() bool),
	}
	if a.out == nil {
		var t transport.Transport = NewChain(cfg, deps.Client, log, deps.Metrics)
		if deps.Ledger != nil {
			t = transport.NewMirror(t, deps.Ledger, clock.Now)
		}
		a.owned = transport.NewDispatcher(t, cfg.QueueSize, log, deps.Metrics)
		a.out = a.owned
	}

	inner := deps.Store
	if inner == nil || cfg.StorageScope == config.ScopeSession {
		inner = store.NewMemoryStore(clock.Now)
	}
	a.store = store.NewSafe(inner, clock.Now, log)
	a.tracker = session.NewTracker(a.store, cfg.OrgID, cfg.ClickParam, cfg.ClickIDTTL, cfg.SessionTimeout).WithIDFunc(newID)
	a.builder = envelope.NewBuilder(cfg, a.base, a.out, envelope.Options{
		Log:     log,
		Metrics: deps.Metrics,
		Now:     clock.Now,
		NewID:   newID,
	})
	a.stream = observe.NewStream(nil, log)
	return a, nil
}

// Push appends items to the page's intercepted event stream and returns its
// new length. Subscribers run under the agent lock.
func (a *Agent) Push(items ...any) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return a.stream.Len()
	}
	return a.stream.Push(items...)
}

// Identity is the identity resolved on Start.
func (a *Agent) Identity() models.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

// Start runs the immediate phase of a page load: identity and session
// resolution, the heartbeat and the passive page signals.
func (a *Agent) Start(ctx context.Context, load models.PageLoad) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.closed {
		return
	}
	a.started = true

	now := load.At
	if now.IsZero() {
		now = a.clock.Now()
	}
	a.load = load

	res := a.tracker.Load(ctx, load.URL, now)
	a.identity = res.Identity
	a.visitor = res.Visitor
	a.session = models.SessionContext{
		SessionID:  res.Identity.SessionID,
		NewSession: res.NewSession,
		NewVisit:   res.NewVisit,
	}
	if a.store.Degraded() {
		a.metrics.StorageFellBack()
	}

	var host, path string
	if u, err := url.Parse(load.URL); err == nil {
		host, path = u.Hostname(), u.Path
	}
	a.page = models.PageContext{
		URL:      load.URL,
		Path:     path,
		Host:     host,
		Title:    load.Title,
		Referrer: load.Referrer,
		PageType: classify.PageType(path),
	}
	a.observers(host, now)

	a.log.Debug("Page load",
		logger.String("session_id", a.identity.SessionID),
		logger.Bool("has_click", a.identity.HasClick()),
		logger.String("transition", string(res.From)+"->"+string(res.To)),
		logger.Int("visit_number", res.Visitor.VisitNumber),
	)

	a.out.Submit(transport.Heartbeat(a.cfg.OrgID, a.cfg.APIKey, host, a.identity.HasClick()))

	a.builder.Emit("page_view", models.SourcePassive, map[string]any{
		"page_type": a.page.PageType,
		"referrer":  utils.Truncate(load.Referrer, 300),
	}, "page_view")

	if res.NewVisit {
		a.builder.EmitLegacy(models.LegacySession, map[string]any{
			"session_id": a.identity.SessionID,
			"page_url":   utils.Truncate(load.URL, 300),
			"referrer":   utils.Truncate(load.Referrer, 300),
		})
	}

	if a.page.PageType == classify.PageConfirmation {
		a.builder.Emit("conversion_page_detected", models.SourcePassive, map[string]any{
			"path":      utils.Truncate(path, 300),
			"page_type": a.page.PageType,
		}, "conversion_page:"+path)
	}

	a.builder.EmitLegacy(models.LegacyPageView, map[string]any{
		"page_url": utils.Truncate(load.URL, 300),
	})

	a.scheduleSample()
}

// Interactive runs the DOM-ready phase against snap.
func (a *Agent) Interactive(ctx context.Context, snap models.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started || a.closed || a.interactive {
		return
	}
	a.interactive = true
	a.attach(snap)
}

// Complete runs the full-load phase: it records snap as the latest document
// and schedules a re-scan for late widgets after each configured delay. A
// later Complete call only refreshes the snapshot the re-scans see.
func (a *Agent) Complete(ctx context.Context, snap models.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started || a.closed {
		return
	}
	if !a.interactive {
		a.interactive = true
		a.attach(snap)
	} else if page := a.parse(snap); page != nil {
		a.latest = page
	}
	if a.completed {
		return
	}
	a.completed = true
	for _, d := range a.cfg.RescanDelays {
		a.after(d, a.rescan)
	}
}

// Handle dispatches a raw host event to the observers.
func (a *Agent) Handle(ctx context.Context, ev models.HostEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started || a.closed {
		return
	}
	if ev.At.IsZero() {
		ev.At = a.clock.Now()
	}
	a.set.Handle(ev)
}

// Close ends the page lifetime: it reports the exit summary, stops every
// timer and drains the owned dispatcher.
func (a *Agent) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	if a.started {
		now := a.clock.Now()
		summary := a.engagement.Summary(now)
		summary["max_scroll_depth"] = int(a.scroll.MaxDepth())
		a.builder.Emit("page_exit", models.SourceBehavior, summary, "page_exit")
		a.builder.EmitLegacy(models.LegacyPageView, map[string]any{
			"page_url":        utils.Truncate(a.load.URL, 300),
			"time_on_page_ms": summary["time_on_page_ms"],
		})
		a.scroll.Stop()
	}
	a.closed = true
	for id, stop := range a.timers {
		stop()
		delete(a.timers, id)
	}
	a.mu.Unlock()

	if a.owned != nil {
		return a.owned.Close(ctx)
	}
	return nil
}

func (a *Agent) observers(host string, now time.Time) {
	a.engagement = observe.NewEngagement(a.builder, a.cfg.IdleThreshold)
	a.engagement.Start(now)
	a.scroll = observe.NewScroll(a.builder, a.cfg.ScrollThrottle, scheduler{a}, a.clock.Now)
	a.chat = observe.NewChat(a.builder)
	a.booking = observe.NewBooking(a.builder)

	a.set = observe.NewSet(a.log, a.metrics,
		observe.NewForms(a.builder),
		observe.NewLinks(a.builder, host),
		observe.NewCTA(a.builder),
		a.scroll,
		a.engagement,
		observe.NewMedia(a.builder),
		a.chat,
		a.booking,
		observe.NewCommerce(a.builder, a.stream, a.log),
	)
}

func (a *Agent) parse(snap models.Snapshot) *observe.Page {
	page, err := observe.ParseSnapshot(snap)
	if err != nil {
		a.log.Debug("Snapshot unusable", logger.Error(err))
		return nil
	}
	return page
}

func (a *Agent) attach(snap models.Snapshot) {
	page := a.parse(snap)
	if page == nil {
		return
	}
	a.latest = page
	a.applyMeta(page.Meta)
	a.set.Attach(page)
	a.detect(page)
}

func (a *Agent) applyMeta(meta observe.PageMeta) {
	if meta.Title != "" {
		a.page.Title = meta.Title
	}
	a.page.Description = meta.Description
	a.page.Canonical = meta.Canonical
	a.page.OGTitle = meta.OGTitle
	a.page.OGType = meta.OGType
	a.page.OGImage = meta.OGImage
}

// detect runs a detection pass and reports it when the tool set changed.
func (a *Agent) detect(page *observe.Page) {
	observe.Guard(a.log, "detect", func() {
		det := classify.Detect(page.Signals())
		if len(det.Tools) < len(a.detection.Tools) {
			return
		}
		a.detection = det
		if a.builder.Emit("tools_detected", models.SourceDetection, det.Data(), det.Key()) {
			a.metrics.Detected(det.Vertical)
		}
	})
}

func (a *Agent) rescan() {
	if a.latest == nil {
		return
	}
	a.detect(a.latest)
	observe.Guard(a.log, "chat", func() { a.chat.Attach(a.latest) })
	observe.Guard(a.log, "booking", func() { a.booking.Attach(a.latest) })
}

func (a *Agent) scheduleSample() {
	if a.cfg.EngagementSample <= 0 {
		return
	}
	a.after(a.cfg.EngagementSample, func() {
		a.engagement.Sample(a.clock.Now())
		a.scheduleSample()
	})
}

// after schedules fn under the agent lock. Callers hold the lock.
func (a *Agent) after(d time.Duration, fn func()) func() bool {
	a.timerSeq++
	id := a.timerSeq
	stop := a.clock.AfterFunc(d, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed {
			return
		}
		delete(a.timers, id)
		observe.Guard(a.log, "timer", fn)
	})
	a.timers[id] = stop
	return stop
}

// base is the context source of the envelope builder. It runs under the
// agent lock.
func (a *Agent) base() envelope.Base {
	now := a.clock.Now()
	return envelope.Base{
		Identity: a.identity,
		Session:  a.session,
		Page:     a.page,
		Visitor: models.VisitorContext{
			VisitNumber:         a.visitor.VisitNumber,
			FirstVisitAt:        a.visitor.FirstVisitAt,
			DaysSinceFirstVisit: a.visitor.DaysSinceFirstVisit(now),
			PagesThisSession:    a.visitor.PagesThisSession,
			UserAgent:           a.load.UserAgent,
		},
		Vertical: a.detection.Vertical,
		Tools:    a.detection.Tools,
	}
}

// scheduler adapts the agent timers to observe.Scheduler.
type scheduler struct{ a *Agent }

func (s scheduler) AfterFunc(d time.Duration, fn func()) func() bool {
	return s.a.after(d, fn)
}
