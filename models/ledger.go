package models

import (
	"encoding/json"
	"time"
)

// LedgerRecord is one delivered envelope as kept in the ClickHouse delivery ledger.
type LedgerRecord struct {
	EventID        string          `json:"eventId"`
	OrganizationID string          `json:"organizationId"`
	EventType      string          `json:"eventType"`
	EventSource    string          `json:"eventSource"`
	ClickID        string          `json:"clickId"`
	SessionID      string          `json:"sessionId"`
	Timestamp      time.Time       `json:"timestamp"`
	PagePath       string          `json:"pagePath"`
	PageType       string          `json:"pageType"`
	Referrer       string          `json:"referrer"`
	Transport      string          `json:"transport"`
	DedupeKey      string          `json:"dedupeKey,omitempty"`
	EventData      json.RawMessage `json:"eventData,omitempty"`
}

// TopPathResult is a page path and the number of page views recorded for it.
type TopPathResult struct {
	PagePath string `json:"pagePath"`
	PageType string `json:"pageType"`
	Count    uint64 `json:"count"`
}
