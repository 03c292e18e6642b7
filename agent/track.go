package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"strconv"
	"strings"

	"mabletask/agent/classify"
	"mabletask/agent/models"
	"mabletask/agent/utils"
)

// Manual actions with dedicated envelope shapes.
const (
	ActionConversion = "conversion"
	ActionPageView   = "pageview"
	ActionRefund     = "refund"
	ActionIdentify   = "identify"
)

// dedupeField lets a caller scope a manual event to once per page.
const dedupeField = "dedupe_key"

var conversionLabels = map[string]bool{
	"purchase":    true,
	"add_to_cart": true,
	"signup":      true,
	"lead":        true,
	"custom":      true,
}

// Track is the manual event API. Recognized actions map to their own
// envelope shapes and, where the ingestion side has one, the legacy shape;
// any other action is reported as a custom event. It reports whether an
// envelope was submitted.
func (a *Agent) Track(ctx context.Context, action string, data map[string]any) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started || a.closed {
		return false
	}

	payload := make(map[string]any, len(data))
	maps.Copy(payload, data)
	key, _ := payload[dedupeField].(string)
	delete(payload, dedupeField)

	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionConversion:
		return a.trackConversion(payload, key)
	case ActionPageView:
		return a.trackPageView(payload, key)
	case ActionRefund:
		return a.trackRefund(payload, key)
	case ActionIdentify:
		return a.trackIdentify(payload, key)
	default:
		payload["event_name"] = utils.Truncate(action, 100)
		return a.builder.Emit(classify.EventCustom, models.SourceManual, payload, key)
	}
}

func (a *Agent) trackConversion(payload map[string]any, key string) bool {
	label := strings.ToLower(stringField(payload, "event_type"))
	if !conversionLabels[label] {
		label = classify.EventPurchase
	}
	payload["event_type"] = label

	if _, ok := payload["revenue_cents"]; !ok {
		for _, field := range []string{"revenue", "value", "amount"} {
			if amount, ok := classify.ParseAmount(payload[field]); ok {
				payload["revenue_cents"] = classify.ToCents(amount)
				break
			}
		}
	}
	currency := strings.ToUpper(stringField(payload, "currency"))
	if currency == "" {
		currency = "USD"
	}
	payload["currency"] = utils.Truncate(currency, 10)

	orderID := stringField(payload, "order_id")
	if key == "" && orderID != "" {
		key = "order:" + orderID
	}
	if !a.builder.Emit(classify.EnvelopeConversion, models.SourceManual, payload, key) {
		return false
	}

	fields := map[string]any{
		"event_type": label,
		"currency":   payload["currency"],
	}
	if orderID != "" {
		fields["order_id"] = utils.Truncate(orderID, 100)
	}
	if v, ok := payload["revenue_cents"]; ok {
		fields["revenue_cents"] = v
	}
	if md, ok := payload["metadata"].(map[string]any); ok {
		fields["metadata"] = md
	}
	a.builder.EmitLegacy(models.LegacyConversion, fields)
	return true
}

func (a *Agent) trackPageView(payload map[string]any, key string) bool {
	pageURL := stringField(payload, "page_url")
	if pageURL == "" {
		pageURL = a.page.URL
	}
	payload["page_url"] = utils.Truncate(pageURL, 300)
	if !a.builder.Emit("page_view", models.SourceManual, payload, key) {
		return false
	}
	a.builder.EmitLegacy(models.LegacyPageView, map[string]any{"page_url": payload["page_url"]})
	return true
}

func (a *Agent) trackRefund(payload map[string]any, key string) bool {
	orderID := stringField(payload, "original_order_id")
	if orderID == "" {
		orderID = stringField(payload, "order_id")
	}
	if orderID != "" {
		payload["order_id"] = utils.Truncate(orderID, 100)
		if key == "" {
			key = "refund:" + orderID
		}
	}
	if _, ok := payload["refund_amount_cents"]; !ok {
		for _, field := range []string{"amount", "value", "revenue"} {
			if amount, ok := classify.ParseAmount(payload[field]); ok {
				payload["refund_amount_cents"] = classify.ToCents(amount)
				break
			}
		}
	}
	if !a.builder.Emit(classify.EventRefund, models.SourceManual, payload, key) {
		return false
	}
	if orderID == "" {
		return true
	}

	fields := map[string]any{"original_order_id": payload["order_id"]}
	if v, ok := payload["refund_amount_cents"]; ok {
		fields["refund_amount_cents"] = v
	}
	if reason := stringField(payload, "reason"); reason != "" {
		fields["reason"] = utils.Truncate(reason, 300)
	}
	a.builder.EmitLegacy(models.LegacyRefund, fields)
	return true
}

// trackIdentify never forwards a raw email address: it is replaced by its
// normalized SHA-256 hash.
func (a *Agent) trackIdentify(payload map[string]any, key string) bool {
	if email := stringField(payload, "email"); email != "" {
		payload["email_hash"] = HashEmail(email)
	}
	delete(payload, "email")

	customerID := stringField(payload, "external_customer_id")
	if customerID == "" {
		customerID = stringField(payload, "customer_id")
		delete(payload, "customer_id")
	}
	if customerID != "" {
		payload["external_customer_id"] = utils.Truncate(customerID, 100)
		if key == "" {
			key = "identify:" + customerID
		}
	}
	if !a.builder.Emit(ActionIdentify, models.SourceManual, payload, key) {
		return false
	}

	fields := map[string]any{}
	if customerID != "" {
		fields["external_customer_id"] = payload["external_customer_id"]
	}
	if h, ok := payload["email_hash"]; ok {
		fields["email_hash"] = h
	}
	a.builder.EmitLegacy(models.LegacyIdentify, fields)
	return true
}

// HashEmail returns the hex SHA-256 of the trimmed, lower-cased address.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		if n, ok := classify.ParseAmount(v); ok {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
		return ""
	}
}
