package observe

import (
	"regexp"
	"strings"

	"mabletask/agent/models"
	"mabletask/agent/utils"
)

var (
	ctaExact = regexp.MustCompile(`^(book( now| online| an appointment)?|buy( now)?|get started|start( free)? trial|free trial|sign up|join( now)?|contact( us)?|get (a )?quote|request (a )?quote|get an estimate|schedule( now| a call| a visit)?|call( now| us)?|shop now|add to (cart|bag)|order( now| online)?|subscribe|apply( now)?|donate( now)?|reserve( now| a table)?|request (a )?demo|book a demo|download)$`)
	ctaLoose = regexp.MustCompile(`\b(book|schedul|appointment|quote|estimate|demo|trial|consult|reserv|buy|order|checkout|enroll|register|get started|sign up|contact)`)
)

const (
	maxExactCTA = 50
	maxLooseCTA = 100
)

// CTA reports clicks on call-to-action buttons and links, matched in two
// tiers: short exact labels, then phrases found inside longer text.
type CTA struct {
	emit Emitter
}

// NewCTA creates the CTA observer.
func NewCTA(emit Emitter) *CTA {
	return &CTA{emit: emit}
}

func (c *CTA) Name() string { return "cta" }

func (c *CTA) Attach(*Page) {}

// Handle reacts to clicks on buttons and links.
func (c *CTA) Handle(ev models.HostEvent) {
	if ev.Kind != models.KindClick || ev.Target == nil {
		return
	}
	tag := strings.ToLower(ev.Target.Tag)
	if tag != "a" && tag != "button" && !(tag == "input" && strings.EqualFold(ev.Target.Type, "submit")) {
		return
	}

	text := strings.ToLower(strings.Join(strings.Fields(ev.Target.Text), " "))
	tier := MatchCTA(text)
	if tier == "" {
		return
	}
	c.emit.Emit("cta_click", models.SourceDOMObserver, map[string]any{
		"text": utils.Truncate(text, maxLooseCTA),
		"tier": tier,
		"tag":  tag,
		"href": utils.Truncate(ev.Target.Href, 300),
	}, "cta:"+utils.Truncate(text, maxLooseCTA))
}

// MatchCTA returns "exact", "loose" or "" for normalised button text.
func MatchCTA(text string) string {
	switch {
	case text == "":
		return ""
	case len(text) <= maxExactCTA && ctaExact.MatchString(text):
		return "exact"
	case len(text) <= maxLooseCTA && ctaLoose.MatchString(text):
		return "loose"
	default:
		return ""
	}
}
