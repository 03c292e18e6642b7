package models

import "time"

// Identity ties an event to its referring click, the browsing session and the organization.
type Identity struct {
	ClickID   string `json:"click_id,omitempty"`
	SessionID string `json:"session_id"`
	OrgID     string `json:"organization_id"`
}

// HasClick reports whether a click identifier was resolved for this page load.
func (i Identity) HasClick() bool {
	return i.ClickID != ""
}

// VisitorState is the cross-page-load visitor counter set.
type VisitorState struct {
	VisitNumber      int       `json:"visit_number"`
	FirstVisitAt     time.Time `json:"first_visit_at"`
	PagesThisSession int       `json:"pages_this_session"`
}

// DaysSinceFirstVisit returns whole days elapsed since the first visit.
func (v VisitorState) DaysSinceFirstVisit(now time.Time) int {
	if v.FirstVisitAt.IsZero() || now.Before(v.FirstVisitAt) {
		return 0
	}
	return int(now.Sub(v.FirstVisitAt) / (24 * time.Hour))
}

// SessionState is a node of the session/visit state machine.
type SessionState string

const (
	SessionNone    SessionState = "no-session"
	SessionActive  SessionState = "session-active"
	SessionExpired SessionState = "expired"
)
