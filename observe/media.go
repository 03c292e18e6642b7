package observe

import (
	"strings"

	"mabletask/agent/models"
	"mabletask/agent/utils"
)

// Media reports embedded videos and their play/complete events.
type Media struct {
	emit Emitter
}

// NewMedia creates the video observer.
func NewMedia(emit Emitter) *Media {
	return &Media{emit: emit}
}

func (m *Media) Name() string { return "media" }

// Attach reports each video once.
func (m *Media) Attach(page *Page) {
	for _, v := range page.Videos {
		src := utils.Truncate(v.Src, 300)
		m.emit.Emit("video_detected", models.SourceDOMObserver, map[string]any{
			"provider": v.Provider,
			"src":      src,
		}, "video:"+src)
	}
}

// Handle reacts to media events forwarded by the host.
func (m *Media) Handle(ev models.HostEvent) {
	if ev.Kind != models.KindMedia {
		return
	}
	var eventType string
	switch strings.ToLower(ev.Action) {
	case "play", "playing", "started":
		eventType = "video_play"
	case "ended", "complete", "completed", "finish":
		eventType = "video_complete"
	default:
		return
	}
	provider := ev.Provider
	if provider == "" {
		provider = "html5"
	}
	src := utils.Truncate(ev.Src, 300)
	m.emit.Emit(eventType, models.SourceBehavior, map[string]any{
		"provider": provider,
		"src":      src,
	}, eventType+":"+src)
}
