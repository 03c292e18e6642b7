package models

import "time"

// Installation is a registered site allowed to open pages on the bridge.
type Installation struct {
	ID            int       `json:"id"`
	OrgID         string    `json:"organization_id"`
	KeyHash       []byte    `json:"-"`
	AllowedOrigin string    `json:"allowed_origin,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OpenPageRequest is the body of POST /api/pages.
type OpenPageRequest struct {
	OrgID     string    `json:"organization_id" binding:"required"`
	VisitorID string    `json:"visitor_id"`
	TabID     string    `json:"tab_id"`
	Load      PageLoad  `json:"load"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
}

// SnapshotRequest is the body of POST /api/pages/:id/snapshot.
type SnapshotRequest struct {
	Phase    string   `json:"phase" binding:"required,oneof=interactive complete"`
	Snapshot Snapshot `json:"snapshot"`
}

// TrackRequest is the body of POST /api/pages/:id/track.
type TrackRequest struct {
	Action string         `json:"action" binding:"required"`
	Data   map[string]any `json:"data"`
}
