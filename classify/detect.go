package classify

import (
	"sort"
	"strings"
)

// Tool categories.
const (
	CategoryAnalytics = "analytics"
	CategoryChat      = "chat"
	CategoryBooking   = "booking"
	CategoryEcommerce = "ecommerce"
	CategoryCMS       = "cms"
	CategoryCRM       = "crm"
	CategoryField     = "field_service"
)

// VerticalUnknown is reported until a vertical-setting tool is found.
const VerticalUnknown = "unknown"

// Signals are the raw page facts the detector inspects.
type Signals struct {
	// Globals are names of page-level objects that exist.
	Globals []string
	// Scripts and Iframes are element src attributes.
	Scripts []string
	Iframes []string
	// Generators are <meta name="generator"> contents.
	Generators []string
}

type signature struct {
	tool      string
	category  string
	vertical  string
	globals   []string
	srcs      []string
	generator string
}

// Table order is priority for the vertical.
var signatures = []signature{
	{tool: "google_analytics", category: CategoryAnalytics, globals: []string{"gtag", "ga"}, srcs: []string{"google-analytics.com", "googletagmanager.com/gtag"}},
	{tool: "google_tag_manager", category: CategoryAnalytics, globals: []string{"google_tag_manager"}, srcs: []string{"googletagmanager.com/gtm.js"}},
	{tool: "meta_pixel", category: CategoryAnalytics, globals: []string{"fbq"}, srcs: []string{"connect.facebook.net"}},
	{tool: "hotjar", category: CategoryAnalytics, globals: []string{"hj"}, srcs: []string{"static.hotjar.com"}},
	{tool: "segment", category: CategoryAnalytics, globals: []string{"analytics"}, srcs: []string{"cdn.segment.com"}},

	{tool: "intercom", category: CategoryChat, globals: []string{"Intercom"}, srcs: []string{"widget.intercom.io", "js.intercomcdn.com"}},
	{tool: "drift", category: CategoryChat, globals: []string{"drift"}, srcs: []string{"js.driftt.com"}},
	{tool: "tidio", category: CategoryChat, globals: []string{"tidioChatApi"}, srcs: []string{"code.tidio.co"}},
	{tool: "crisp", category: CategoryChat, globals: []string{"$crisp"}, srcs: []string{"client.crisp.chat"}},
	{tool: "livechat", category: CategoryChat, globals: []string{"LiveChatWidget"}, srcs: []string{"cdn.livechatinc.com"}},
	{tool: "tawk", category: CategoryChat, globals: []string{"Tawk_API"}, srcs: []string{"embed.tawk.to"}},
	{tool: "hubspot", category: CategoryCRM, globals: []string{"HubSpotConversations", "_hsq"}, srcs: []string{"js.hs-scripts.com", "js.hsforms.net"}},
	{tool: "zendesk", category: CategoryChat, globals: []string{"zE", "$zopim"}, srcs: []string{"static.zdassets.com"}},

	{tool: "opentable", category: CategoryBooking, vertical: "restaurant", srcs: []string{"opentable.com"}},
	{tool: "mindbody", category: CategoryBooking, vertical: "fitness", srcs: []string{"mindbodyonline.com", "healcode.com"}},
	{tool: "zocdoc", category: CategoryBooking, vertical: "healthcare", srcs: []string{"zocdoc.com"}},
	{tool: "jane", category: CategoryBooking, vertical: "healthcare", srcs: []string{"janeapp.com"}},
	{tool: "servicetitan", category: CategoryField, vertical: "home_services", globals: []string{"STWidgetManager"}, srcs: []string{"servicetitan.com"}},
	{tool: "housecallpro", category: CategoryField, vertical: "home_services", srcs: []string{"housecallpro.com"}},
	{tool: "idx_broker", category: CategoryCMS, vertical: "real_estate", srcs: []string{"idxbroker.com", "showcaseidx.com", "ihouseprd.com"}},
	{tool: "calendly", category: CategoryBooking, globals: []string{"Calendly"}, srcs: []string{"calendly.com"}},
	{tool: "acuity", category: CategoryBooking, srcs: []string{"acuityscheduling.com"}},

	{tool: "shopify", category: CategoryEcommerce, vertical: "ecommerce", globals: []string{"Shopify"}, srcs: []string{"cdn.shopify.com"}, generator: "shopify"},
	{tool: "woocommerce", category: CategoryEcommerce, vertical: "ecommerce", globals: []string{"wc_add_to_cart_params", "woocommerce_params"}, srcs: []string{"/woocommerce/"}, generator: "woocommerce"},
	{tool: "bigcommerce", category: CategoryEcommerce, vertical: "ecommerce", globals: []string{"BCData"}, srcs: []string{"bigcommerce.com"}},
	{tool: "magento", category: CategoryEcommerce, vertical: "ecommerce", globals: []string{"Mage"}, srcs: []string{"/static/version", "mage/"}, generator: "magento"},

	{tool: "squarespace", category: CategoryCMS, globals: []string{"Squarespace"}, srcs: []string{"squarespace.com", "sqspcdn.com"}, generator: "squarespace"},
	{tool: "wix", category: CategoryCMS, globals: []string{"wixBiSession"}, srcs: []string{"static.parastorage.com", "wix.com"}, generator: "wix"},
	{tool: "wordpress", category: CategoryCMS, srcs: []string{"/wp-content/", "/wp-includes/"}, generator: "wordpress"},
}

// Detection is the summary of one detection pass.
type Detection struct {
	Tools        []string
	Vertical     string
	HasAnalytics bool
	HasChat      bool
	HasBooking   bool
	HasEcommerce bool
}

// Detect matches signals against the signature table. Tools are returned
// sorted. The first vertical-setting match wins.
func Detect(s Signals) Detection {
	globals := make(map[string]struct{}, len(s.Globals))
	for _, g := range s.Globals {
		globals[g] = struct{}{}
	}
	srcs := make([]string, 0, len(s.Scripts)+len(s.Iframes))
	for _, src := range s.Scripts {
		srcs = append(srcs, strings.ToLower(src))
	}
	for _, src := range s.Iframes {
		srcs = append(srcs, strings.ToLower(src))
	}
	generators := make([]string, 0, len(s.Generators))
	for _, g := range s.Generators {
		generators = append(generators, strings.ToLower(g))
	}

	d := Detection{Vertical: VerticalUnknown}
	for _, sig := range signatures {
		if !sig.matches(globals, srcs, generators) {
			continue
		}
		d.Tools = append(d.Tools, sig.tool)
		if sig.vertical != "" && d.Vertical == VerticalUnknown {
			d.Vertical = sig.vertical
		}
		switch sig.category {
		case CategoryAnalytics:
			d.HasAnalytics = true
		case CategoryChat, CategoryCRM:
			d.HasChat = true
		case CategoryBooking, CategoryField:
			d.HasBooking = true
		case CategoryEcommerce:
			d.HasEcommerce = true
		}
	}
	sort.Strings(d.Tools)
	return d
}

func (sig signature) matches(globals map[string]struct{}, srcs, generators []string) bool {
	for _, g := range sig.globals {
		if _, ok := globals[g]; ok {
			return true
		}
	}
	for _, needle := range sig.srcs {
		for _, src := range srcs {
			if strings.Contains(src, needle) {
				return true
			}
		}
	}
	if sig.generator != "" {
		for _, g := range generators {
			if strings.Contains(g, sig.generator) {
				return true
			}
		}
	}
	return false
}

// Key is the dedupe key for this detection result.
func (d Detection) Key() string {
	return "detection:" + strings.Join(d.Tools, ",")
}

// Data is the event_data of a tools_detected envelope.
func (d Detection) Data() map[string]any {
	tools := d.Tools
	if tools == nil {
		tools = []string{}
	}
	return map[string]any{
		"tools":         tools,
		"tool_count":    len(d.Tools),
		"vertical":      d.Vertical,
		"has_analytics": d.HasAnalytics,
		"has_chat":      d.HasChat,
		"has_booking":   d.HasBooking,
		"has_ecommerce": d.HasEcommerce,
	}
}

// HasTool reports whether tool was detected.
func (d Detection) HasTool(tool string) bool {
	i := sort.SearchStrings(d.Tools, tool)
	return i < len(d.Tools) && d.Tools[i] == tool
}
