package models

import (
	"strconv"
	"time"
)

// PageLoad is what the host knows about a page before the DOM is available.
type PageLoad struct {
	URL       string    `json:"url"`
	Referrer  string    `json:"referrer,omitempty"`
	Title     string    `json:"title,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	At        time.Time `json:"at"`
}

// Snapshot is a serialised view of the document at one lifecycle phase.
type Snapshot struct {
	HTML string `json:"html"`
	// Globals lists the names of page globals present (e.g. "Intercom", "fbq").
	Globals []string `json:"globals,omitempty"`
	// DataLayer is the page's whole data layer array. Entries the host already
	// forwarded as pushes are not reported again.
	DataLayer []any `json:"data_layer,omitempty"`
	// Viewport is the scroll geometry when the snapshot was taken, if known.
	Viewport *Viewport `json:"viewport,omitempty"`
}

// Viewport is the document's scroll geometry.
type Viewport struct {
	ScrollY        float64 `json:"scroll_y"`
	DocumentHeight float64 `json:"document_height"`
	ViewportHeight float64 `json:"viewport_height"`
}

// Host event kinds.
const (
	KindFocus       = "focus"
	KindSubmit      = "submit"
	KindClick       = "click"
	KindScroll      = "scroll"
	KindActivity    = "activity"
	KindVisibility  = "visibility"
	KindWindowFocus = "window_focus"
	KindMessage     = "message"
	KindDataLayer   = "datalayer"
	KindPublish     = "commerce_publish"
	KindMedia       = "media"
	KindWidget      = "widget"
)

// HostEvent is one raw occurrence forwarded by the host.
type HostEvent struct {
	Kind   string          `json:"kind"`
	At     time.Time       `json:"at"`
	Target *Element        `json:"target,omitempty"`
	Form   *FormDescriptor `json:"form,omitempty"`

	ScrollY        float64 `json:"scroll_y,omitempty"`
	DocumentHeight float64 `json:"document_height,omitempty"`
	ViewportHeight float64 `json:"viewport_height,omitempty"`

	Visible *bool `json:"visible,omitempty"`
	Focused *bool `json:"focused,omitempty"`

	// Origin is the sending frame origin for KindMessage.
	Origin string `json:"origin,omitempty"`
	// Name is the publish topic for KindPublish.
	Name string `json:"name,omitempty"`
	// Provider and Action identify a widget callback or media action.
	Provider string `json:"provider,omitempty"`
	Action   string `json:"action,omitempty"`
	Src      string `json:"src,omitempty"`

	Data map[string]any `json:"data,omitempty"`
	// Item is the raw value appended to the external event stream.
	Item any `json:"item,omitempty"`
}

// Element describes the DOM element an event targeted.
type Element struct {
	Tag   string `json:"tag"`
	ID    string `json:"id,omitempty"`
	Class string `json:"class,omitempty"`
	Href  string `json:"href,omitempty"`
	Text  string `json:"text,omitempty"`
	Type  string `json:"type,omitempty"`
}

// FormField is one input of a form.
type FormField struct {
	Name string `json:"name,omitempty"`
	ID   string `json:"id,omitempty"`
	Type string `json:"type,omitempty"`
}

// FormDescriptor identifies a form and its fields.
type FormDescriptor struct {
	Index  int         `json:"index"`
	ID     string      `json:"id,omitempty"`
	Name   string      `json:"name,omitempty"`
	Action string      `json:"action,omitempty"`
	Fields []FormField `json:"fields,omitempty"`
}

// Key is a stable per-page identifier for the form.
func (f FormDescriptor) Key() string {
	switch {
	case f.ID != "":
		return "id:" + f.ID
	case f.Name != "":
		return "name:" + f.Name
	case f.Action != "":
		return "action:" + f.Action
	default:
		return "index:" + strconv.Itoa(f.Index)
	}
}
