package observe

import (
	"net/url"
	"strings"

	"mabletask/agent/models"
	"mabletask/agent/utils"
)

// Calendly cross-frame message names.
const (
	calendlyOrigin         = "calendly.com"
	calendlyViewed         = "calendly.event_type_viewed"
	calendlyDateSelected   = "calendly.date_and_time_selected"
	calendlyEventScheduled = "calendly.event_scheduled"
)

var bookingFrames = []struct {
	needle   string
	provider string
}{
	{"calendly.com", "calendly"},
	{"acuityscheduling.com", "acuity"},
	{"opentable.com", "opentable"},
	{"mindbodyonline.com", "mindbody"},
	{"healcode.com", "mindbody"},
	{"zocdoc.com", "zocdoc"},
	{"janeapp.com", "jane"},
	{"setmore.com", "setmore"},
	{"simplybook", "simplybook"},
	{"vagaro.com", "vagaro"},
	{"squareup.com/appointments", "square"},
	{"housecallpro.com", "housecallpro"},
}

// Booking reports scheduling widgets: one provider's structured message
// protocol, plus iframe source detection for the rest.
type Booking struct {
	emit Emitter
}

// NewBooking creates the booking widget observer.
func NewBooking(emit Emitter) *Booking {
	return &Booking{emit: emit}
}

func (b *Booking) Name() string { return "booking" }

// Attach reports each booking provider embedded as an iframe.
func (b *Booking) Attach(page *Page) {
	for _, src := range page.Iframes {
		lower := strings.ToLower(src)
		for _, f := range bookingFrames {
			if strings.Contains(lower, f.needle) {
				b.emit.Emit("booking_widget_detected", models.SourceDetection, map[string]any{
					"provider": f.provider,
				}, "booking_widget:"+f.provider)
				break
			}
		}
	}
}

// Handle reacts to cross-frame messages from the scheduling widget.
func (b *Booking) Handle(ev models.HostEvent) {
	if ev.Kind != models.KindMessage || !fromCalendly(ev.Origin) {
		return
	}
	name, _ := ev.Data["event"].(string)
	if !strings.HasPrefix(name, "calendly.") {
		return
	}

	data := map[string]any{"provider": "calendly"}
	if uri := payloadURI(ev.Data); uri != "" {
		data["event_uri"] = utils.Truncate(uri, 300)
	}

	switch name {
	case calendlyViewed:
		b.emit.Emit("booking_widget_viewed", models.SourceBehavior, data, "booking_viewed:calendly")
	case calendlyDateSelected:
		b.emit.Emit("booking_date_selected", models.SourceBehavior, data, "booking_date:calendly")
	case calendlyEventScheduled:
		if b.emit.Emit("booking_scheduled", models.SourceBehavior, data, "booking_scheduled:calendly") {
			b.emit.EmitLegacy(models.LegacyConversion, map[string]any{
				"event_type": "lead",
				"metadata":   map[string]any{"source": "calendly"},
			})
		}
	}
}

func fromCalendly(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == calendlyOrigin || strings.HasSuffix(host, "."+calendlyOrigin)
}

func payloadURI(data map[string]any) string {
	payload, _ := data["payload"].(map[string]any)
	event, _ := payload["event"].(map[string]any)
	uri, _ := event["uri"].(string)
	return uri
}
