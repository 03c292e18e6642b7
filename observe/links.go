package observe

import (
	"net/url"
	"path"
	"strings"

	"mabletask/agent/models"
	"mabletask/agent/utils"
)

var (
	directionHosts = []string{"maps.google.", "google.com/maps", "goo.gl/maps", "maps.app.goo.gl", "maps.apple.com", "waze.com", "bing.com/maps"}
	downloadExts   = map[string]bool{
		".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
		".csv": true, ".ppt": true, ".pptx": true, ".zip": true, ".txt": true,
		".rtf": true, ".dmg": true, ".exe": true, ".epub": true,
	}
)

// Links classifies link clicks by intent: telephone, email, directions, file
// download and outbound.
type Links struct {
	emit     Emitter
	pageHost string
}

// NewLinks creates the link-intent observer for a page on pageHost.
func NewLinks(emit Emitter, pageHost string) *Links {
	return &Links{emit: emit, pageHost: strings.ToLower(pageHost)}
}

func (l *Links) Name() string { return "links" }

func (l *Links) Attach(*Page) {}

// Handle reacts to clicks on anchors.
func (l *Links) Handle(ev models.HostEvent) {
	if ev.Kind != models.KindClick || ev.Target == nil || ev.Target.Href == "" {
		return
	}
	eventType, data := l.classify(ev.Target.Href)
	if eventType == "" {
		return
	}
	data["link_text"] = utils.Truncate(strings.TrimSpace(ev.Target.Text), 100)
	l.emit.Emit(eventType, models.SourceDOMObserver, data, eventType+":"+utils.Truncate(ev.Target.Href, 300))
}

func (l *Links) classify(href string) (string, map[string]any) {
	lower := strings.ToLower(strings.TrimSpace(href))

	switch {
	case strings.HasPrefix(lower, "tel:"):
		return "phone_click", map[string]any{"phone": utils.Truncate(strings.TrimSpace(href[4:]), 50)}
	case strings.HasPrefix(lower, "mailto:"):
		addr := strings.TrimSpace(href[7:])
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		return "email_click", map[string]any{"email_domain": emailDomain(addr)}
	}

	for _, h := range directionHosts {
		if strings.Contains(lower, h) {
			return "directions_click", map[string]any{"href": utils.Truncate(href, 300)}
		}
	}

	u, err := url.Parse(href)
	if err != nil {
		return "", nil
	}
	if ext := strings.ToLower(path.Ext(u.Path)); downloadExts[ext] {
		return "file_download", map[string]any{
			"file_name": utils.Truncate(path.Base(u.Path), 100),
			"extension": strings.TrimPrefix(ext, "."),
		}
	}
	if (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" && !l.sameSite(u.Hostname()) {
		return "outbound_click", map[string]any{
			"domain": utils.Truncate(strings.ToLower(u.Hostname()), 100),
			"href":   utils.Truncate(href, 300),
		}
	}
	return "", nil
}

func (l *Links) sameSite(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	page := strings.TrimPrefix(l.pageHost, "www.")
	return host == page || strings.HasSuffix(host, "."+page) || strings.HasSuffix(page, "."+host)
}

// emailDomain reports only the domain so no address leaves the page.
func emailDomain(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return utils.Truncate(strings.ToLower(addr[i+1:]), 100)
	}
	return ""
}
