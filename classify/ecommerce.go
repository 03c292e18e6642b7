package classify

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"mabletask/agent/utils"
)

// Canonical ecommerce labels.
const (
	EventPurchase = "purchase"
	EventRefund   = "refund"
	EventCustom   = "custom"

	// EnvelopeConversion is the envelope event type purchases are reported under.
	EnvelopeConversion = "conversion"

	skip = "\x00skip"
)

const (
	maxItems        = 20
	maxItemText     = 100
	maxCustomKeys   = 10
	maxCurrencyLen  = 10
	defaultCurrency = "USD"
)

// eventNames maps external event names (lower-cased) to canonical labels.
// Entries mapped to skip are intentionally not re-reported.
var eventNames = map[string]string{
	// GA4 / gtag / GTM
	"purchase":          EventPurchase,
	"add_to_cart":       "add_to_cart",
	"remove_from_cart":  "remove_from_cart",
	"begin_checkout":    "begin_checkout",
	"view_item":         "view_item",
	"view_item_list":    "view_item_list",
	"view_cart":         "view_cart",
	"add_payment_info":  "add_payment_info",
	"add_shipping_info": "add_shipping_info",
	"add_to_wishlist":   "add_to_wishlist",
	"sign_up":           "signup",
	"generate_lead":     "lead",
	"refund":            EventRefund,
	"login":             "login",
	"search":            "search",

	// Universal analytics enhanced ecommerce
	"addtocart":      "add_to_cart",
	"removefromcart": "remove_from_cart",
	"checkout":       "begin_checkout",
	"productclick":   "select_item",
	"productdetail":  "view_item",
	"transaction":    EventPurchase,

	// Commerce platform publish hooks
	"checkout_completed":               EventPurchase,
	"checkout_started":                 "begin_checkout",
	"product_added_to_cart":            "add_to_cart",
	"product_removed_from_cart":        "remove_from_cart",
	"product_viewed":                   "view_item",
	"collection_viewed":                "view_item_list",
	"cart_viewed":                      "view_cart",
	"payment_info_submitted":           "add_payment_info",
	"checkout_shipping_info_submitted": "add_shipping_info",
	"search_submitted":                 "search",

	// Noise already covered by the passive and behaviour signals.
	"page_view":         skip,
	"page_viewed":       skip,
	"user_engagement":   skip,
	"scroll":            skip,
	"first_visit":       skip,
	"session_start":     skip,
	"gtm.js":                skip,
	"gtm.init":              skip,
	"gtm.init_consent":      skip,
	"gtm.dom":               skip,
	"gtm.load":              skip,
	"gtm.click":             skip,
	"gtm.linkclick":         skip,
	"gtm.timer":             skip,
	"gtm.scrolldepth":       skip,
	"gtm.elementvisibility": skip,
	"gtm.historychange":     skip,
}

var (
	revenueKeys  = []string{"value", "revenue", "total", "totalPrice", "total_price", "subtotalPrice", "amount"}
	currencyKeys = []string{"currency", "currencyCode", "currency_code"}
	orderKeys    = []string{"transaction_id", "transactionId", "order_id", "orderId", "order_number", "orderNumber"}
	itemListKeys = []string{"items", "products", "lineItems", "line_items", "contents"}
	itemNameKeys = []string{"item_name", "name", "title", "productName", "product_name"}
	itemIDKeys   = []string{"item_id", "id", "sku", "product_id", "productId"}
	itemCatKeys  = []string{"item_category", "category", "product_type"}
)

// Normalized is an external event mapped into the canonical taxonomy.
type Normalized struct {
	// EventType is the envelope event type.
	EventType string
	// Label is the canonical label, reported as event_data.event_type.
	Label     string
	Name      string
	Data      map[string]any
	DedupeKey string
}

// Normalize maps one item appended to an external event stream. It accepts
// `{event: name, ...}` objects and gtag-style `["event", name, params]`
// argument lists. It returns false for items that are not events and for
// names mapped to skip.
func Normalize(item any) (Normalized, bool) {
	switch v := item.(type) {
	case map[string]any:
		name, _ := v["event"].(string)
		if name == "" {
			return Normalized{}, false
		}
		return NormalizeNamed(name, v)
	case []any:
		if len(v) < 2 {
			return Normalized{}, false
		}
		if cmd, _ := v[0].(string); cmd != "event" {
			return Normalized{}, false
		}
		name, _ := v[1].(string)
		if name == "" {
			return Normalized{}, false
		}
		var params map[string]any
		if len(v) > 2 {
			params, _ = v[2].(map[string]any)
		}
		return NormalizeNamed(name, params)
	default:
		return Normalized{}, false
	}
}

// NormalizeNamed maps a named event with its payload. Unknown names are kept
// as custom events.
func NormalizeNamed(name string, payload map[string]any) (Normalized, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	label, known := eventNames[lower]
	if label == skip {
		return Normalized{}, false
	}

	if !known {
		return Normalized{
			EventType: EventCustom,
			Label:     EventCustom,
			Name:      name,
			Data: map[string]any{
				"event_name": utils.Truncate(name, maxItemText),
				"keys":       sampleKeys(payload),
			},
		}, true
	}

	data := extractCommerce(payload)
	data["event_name"] = utils.Truncate(name, maxItemText)
	data["event_type"] = label

	n := Normalized{EventType: label, Label: label, Name: name, Data: data}
	orderID, _ := data["order_id"].(string)
	switch label {
	case EventPurchase:
		n.EventType = EnvelopeConversion
		if orderID != "" {
			n.DedupeKey = "order:" + orderID
		}
	case EventRefund:
		if orderID != "" {
			n.DedupeKey = "refund:" + orderID
		}
	}
	return n, true
}

// ToCents converts a currency amount to integer cents. A value greater than
// 100 with no fractional part is taken to be in cents already.
func ToCents(v float64) int64 {
	if v > 100 && v == math.Trunc(v) {
		return int64(v)
	}
	return int64(math.Round(v * 100))
}

// ParseAmount reads a numeric amount from a number, a money string such as
// "$1,299.00" or an `{amount: ...}` object.
func ParseAmount(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.Map(func(r rune) rune {
			switch {
			case r >= '0' && r <= '9', r == '.', r == '-':
				return r
			default:
				return -1
			}
		}, n)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	case map[string]any:
		return ParseAmount(n["amount"])
	default:
		return 0, false
	}
}

// containers lists the payload objects searched for commerce fields, most
// specific first.
func containers(payload map[string]any) []map[string]any {
	if payload == nil {
		return nil
	}
	var out []map[string]any
	ecommerce, _ := payload["ecommerce"].(map[string]any)
	if ecommerce != nil {
		for _, action := range []string{"purchase", "refund", "checkout", "add", "detail"} {
			if a, ok := ecommerce[action].(map[string]any); ok {
				if af, ok := a["actionField"].(map[string]any); ok {
					out = append(out, af)
				}
				out = append(out, a)
			}
		}
		out = append(out, ecommerce)
	}
	if data, ok := payload["data"].(map[string]any); ok {
		payload = data
	}
	if checkout, ok := payload["checkout"].(map[string]any); ok {
		if order, ok := checkout["order"].(map[string]any); ok {
			out = append(out, order)
		}
		out = append(out, checkout)
	}
	return append(out, payload)
}

func extractCommerce(payload map[string]any) map[string]any {
	data := map[string]any{}
	objs := containers(payload)

	if v, ok := firstValue(objs, revenueKeys); ok {
		if amount, ok := ParseAmount(v); ok {
			data["revenue_cents"] = ToCents(amount)
		}
	}

	currency := defaultCurrency
	if v, ok := firstString(objs, currencyKeys); ok {
		currency = strings.ToUpper(utils.Truncate(v, maxCurrencyLen))
	} else if v, ok := firstValue(objs, revenueKeys); ok {
		if m, ok := v.(map[string]any); ok {
			if c, ok := m["currencyCode"].(string); ok && c != "" {
				currency = strings.ToUpper(utils.Truncate(c, maxCurrencyLen))
			}
		}
	}
	data["currency"] = currency

	if id, ok := orderID(payload, objs); ok {
		data["order_id"] = utils.Truncate(id, maxItemText)
	}

	if items := extractItems(objs); len(items) > 0 {
		data["items"] = items
		data["item_count"] = len(items)
	}
	return data
}

func orderID(payload map[string]any, objs []map[string]any) (string, bool) {
	if id, ok := firstString(objs, orderKeys); ok {
		return id, true
	}
	// Bare "id" only identifies the order inside order-shaped objects.
	if ecommerce, ok := payload["ecommerce"].(map[string]any); ok {
		if p, ok := ecommerce["purchase"].(map[string]any); ok {
			if af, ok := p["actionField"].(map[string]any); ok {
				if id := stringOf(af["id"]); id != "" {
					return id, true
				}
			}
		}
	}
	src := payload
	if data, ok := payload["data"].(map[string]any); ok {
		src = data
	}
	if checkout, ok := src["checkout"].(map[string]any); ok {
		if order, ok := checkout["order"].(map[string]any); ok {
			if id := stringOf(order["id"]); id != "" {
				return id, true
			}
		}
	}
	return "", false
}

func extractItems(objs []map[string]any) []map[string]any {
	raw, ok := firstValue(objs, itemListKeys)
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}

	var items []map[string]any
	for _, entry := range list {
		if len(items) == maxItems {
			break
		}
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := map[string]any{}
		if name, ok := firstString([]map[string]any{m}, itemNameKeys); ok {
			item["name"] = utils.Truncate(name, maxItemText)
		}
		if id, ok := firstString([]map[string]any{m}, itemIDKeys); ok {
			item["id"] = utils.Truncate(id, maxItemText)
		}
		if cat, ok := firstString([]map[string]any{m}, itemCatKeys); ok {
			item["category"] = utils.Truncate(cat, maxItemText)
		}
		if price, ok := itemPrice(m); ok {
			item["price_cents"] = ToCents(price)
		}
		qty := 1
		if q, ok := firstValue([]map[string]any{m}, []string{"quantity", "qty"}); ok {
			if f, ok := ParseAmount(q); ok && f > 0 {
				qty = int(f)
			}
		}
		item["quantity"] = qty
		items = append(items, item)
	}
	return items
}

func itemPrice(m map[string]any) (float64, bool) {
	if v, ok := m["price"]; ok {
		return ParseAmount(v)
	}
	if variant, ok := m["variant"].(map[string]any); ok {
		return ParseAmount(variant["price"])
	}
	return 0, false
}

func firstValue(objs []map[string]any, keys []string) (any, bool) {
	for _, obj := range objs {
		for _, k := range keys {
			if v, ok := obj[k]; ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

func firstString(objs []map[string]any, keys []string) (string, bool) {
	for _, obj := range objs {
		for _, k := range keys {
			if s := stringOf(obj[k]); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func stringOf(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

func sampleKeys(payload map[string]any) []string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k == "event" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxCustomKeys {
		keys = keys[:maxCustomKeys]
	}
	return keys
}
