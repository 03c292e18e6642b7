// Package session resolves the click identifier and runs the session/visit
// state machine over the page's storage.
package session

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"mabletask/agent/models"
	"mabletask/agent/store"
	"mabletask/agent/utils"
)

// Storage keys.
const (
	KeyClickID    = "_sf_cid"
	KeySessionID  = "_sf_sid"
	KeyActive     = "_sf_active"
	KeyVisits     = "_sf_visits"
	KeyFirstVisit = "_sf_first"
	KeyPages      = "_sf_pages"
)

// visitorTTL bounds the long-lived visitor counters.
const visitorTTL = 400 * 24 * time.Hour

// ResolveClickID returns the click identifier for this page load. A non-empty
// URL parameter wins and overwrites the persisted value; otherwise the
// persisted value is returned, or "" when there is none. A malformed URL is
// treated as having no parameter.
func ResolveClickID(ctx context.Context, st *store.Safe, rawURL, param string, ttl time.Duration) string {
	if u, err := url.Parse(rawURL); err == nil {
		if id := u.Query().Get(param); id != "" {
			st.Set(ctx, KeyClickID, id, ttl)
			return id
		}
	}
	id, _ := st.Get(ctx, KeyClickID)
	return id
}

// Result is the outcome of one page load through the state machine.
type Result struct {
	Identity   models.Identity
	Visitor    models.VisitorState
	From       models.SessionState
	To         models.SessionState
	NewVisit   bool
	NewSession bool
}

// Tracker runs the session/visit state machine for one page load.
type Tracker struct {
	st         *store.Safe
	orgID      string
	clickParam string
	clickTTL   time.Duration
	timeout    time.Duration
	newID      func() string
}

// NewTracker creates a tracker over st. timeout is the rolling session window.
func NewTracker(st *store.Safe, orgID, clickParam string, clickTTL, timeout time.Duration) *Tracker {
	return &Tracker{
		st:         st,
		orgID:      orgID,
		clickParam: clickParam,
		clickTTL:   clickTTL,
		timeout:    timeout,
		newID:      utils.NewID,
	}
}

// WithIDFunc replaces the session id generator.
func (t *Tracker) WithIDFunc(fn func() string) *Tracker {
	t.newID = fn
	return t
}

// Load resolves identity and advances the visitor counters for a page load
// at now.
//
// The active marker and the session id share the timeout but are separate
// keys: visits are counted only when the marker is gone, while the id is
// re-minted only when it has itself expired.
func (t *Tracker) Load(ctx context.Context, pageURL string, now time.Time) Result {
	res := Result{To: models.SessionActive}

	sid, hasSID := t.st.Get(ctx, KeySessionID)
	_, active := t.st.Get(ctx, KeyActive)
	visits := t.getInt(ctx, KeyVisits)

	switch {
	case hasSID && active:
		res.From = models.SessionActive
	case visits > 0:
		res.From = models.SessionExpired
	default:
		res.From = models.SessionNone
	}

	if !active {
		visits++
		res.NewVisit = true
		t.st.Set(ctx, KeyVisits, strconv.Itoa(visits), visitorTTL)
	}
	if !hasSID {
		sid = t.newID()
		res.NewSession = true
	}
	t.st.Set(ctx, KeySessionID, sid, t.timeout)
	t.st.Set(ctx, KeyActive, "1", t.timeout)

	first := t.firstVisit(ctx, now)

	pages := t.getInt(ctx, KeyPages) + 1
	t.st.Set(ctx, KeyPages, strconv.Itoa(pages), t.timeout)

	res.Identity = models.Identity{
		ClickID:   ResolveClickID(ctx, t.st, pageURL, t.clickParam, t.clickTTL),
		SessionID: sid,
		OrgID:     t.orgID,
	}
	res.Visitor = models.VisitorState{
		VisitNumber:      visits,
		FirstVisitAt:     first,
		PagesThisSession: pages,
	}
	return res
}

func (t *Tracker) firstVisit(ctx context.Context, now time.Time) time.Time {
	if raw, ok := t.st.Get(ctx, KeyFirstVisit); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	t.st.Set(ctx, KeyFirstVisit, strconv.FormatInt(now.UnixMilli(), 10), visitorTTL)
	return time.UnixMilli(now.UnixMilli()).UTC()
}

func (t *Tracker) getInt(ctx context.Context, key string) int {
	raw, ok := t.st.Get(ctx, key)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
