package models

import (
	"encoding/json"
	"time"
)

// EventSource records which part of the agent produced an envelope.
type EventSource string

const (
	SourcePassive       EventSource = "passive"
	SourceDOMObserver   EventSource = "dom_observer"
	SourceBehavior      EventSource = "behavior"
	SourceDataLayerAuto EventSource = "datalayer_auto"
	SourceDetection     EventSource = "detection"
	SourceManual        EventSource = "manual"
)

// PageContext is the live page metadata attached to every envelope.
type PageContext struct {
	URL         string `json:"url"`
	Path        string `json:"path"`
	Host        string `json:"host,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Referrer    string `json:"referrer,omitempty"`
	Canonical   string `json:"canonical,omitempty"`
	OGTitle     string `json:"og_title,omitempty"`
	OGType      string `json:"og_type,omitempty"`
	OGImage     string `json:"og_image,omitempty"`
	PageType    string `json:"page_type"`
}

// SessionContext describes the session the envelope belongs to.
type SessionContext struct {
	SessionID  string `json:"session_id"`
	NewSession bool   `json:"is_new_session"`
	NewVisit   bool   `json:"is_new_visit"`
}

// VisitorContext is the visitor state as of this page load.
type VisitorContext struct {
	VisitNumber         int       `json:"visit_number"`
	FirstVisitAt        time.Time `json:"first_visit_at"`
	DaysSinceFirstVisit int       `json:"days_since_first_visit"`
	PagesThisSession    int       `json:"pages_this_session"`
	UserAgent           string    `json:"user_agent,omitempty"`
}

// Envelope is the canonical event payload submitted to the ingestion endpoint.
type Envelope struct {
	EventID          string         `json:"event_id"`
	ClickID          string         `json:"click_id,omitempty"`
	OrganizationID   string         `json:"organization_id"`
	SessionID        string         `json:"session_id"`
	EventType        string         `json:"event_type"`
	EventSource      EventSource    `json:"event_source"`
	EventData        map[string]any `json:"event_data"`
	DedupeKey        string         `json:"dedupe_key,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	Session          SessionContext `json:"session"`
	Page             PageContext    `json:"page"`
	Visitor          VisitorContext `json:"visitor"`
	DetectedVertical string         `json:"detected_vertical,omitempty"`
	DetectedTools    []string       `json:"detected_tools,omitempty"`
}

// Legacy event kinds, one endpoint each under /v1/events/.
const (
	LegacySession    = "session"
	LegacyPageView   = "pageview"
	LegacyConversion = "conversion"
	LegacyRefund     = "refund"
	LegacyIdentify   = "identify"
)

// LegacyEnvelope is the older flat wire shape keyed by inf_click_id.
type LegacyEnvelope struct {
	Kind   string
	Fields map[string]any
}

// Path returns the legacy ingestion path for this envelope.
func (l LegacyEnvelope) Path() string {
	return "/v1/events/" + l.Kind
}

// MarshalJSON encodes the flat field set only.
func (l LegacyEnvelope) MarshalJSON() ([]byte, error) {
	if l.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(l.Fields)
}
