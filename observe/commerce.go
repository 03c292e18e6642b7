package observe

import (
	"mabletask/agent/classify"
	"mabletask/agent/logger"
	"mabletask/agent/models"
)

// legacyConversionTypes are the canonical labels the legacy conversion
// endpoint accepts.
var legacyConversionTypes = map[string]bool{
	classify.EventPurchase: true,
	"add_to_cart":          true,
	"signup":               true,
	"lead":                 true,
}

// Commerce consumes the intercepted data layer and the commerce platform
// publish hook and reports normalized ecommerce events.
type Commerce struct {
	emit   Emitter
	stream *Stream
	log    logger.Logger
}

// NewCommerce creates the commerce observer, reports the entries already in
// stream and subscribes it to later pushes.
func NewCommerce(emit Emitter, stream *Stream, log logger.Logger) *Commerce {
	c := &Commerce{emit: emit, stream: stream, log: log}
	for _, item := range stream.Items() {
		c.consume(item)
	}
	stream.Subscribe(c.consume)
	return c
}

func (c *Commerce) Name() string { return "commerce" }

// Attach replays the snapshot's data layer. The snapshot holds the whole
// page array while the stream mirrors it from index zero, so only entries
// past the stream's length are new; the rest already arrived as pushes.
func (c *Commerce) Attach(page *Page) {
	if seen := c.stream.Len(); len(page.DataLayer) > seen {
		c.stream.Push(page.DataLayer[seen:]...)
	}
}

// Handle forwards data layer pushes into the stream and maps publish hook
// events directly.
func (c *Commerce) Handle(ev models.HostEvent) {
	switch ev.Kind {
	case models.KindDataLayer:
		c.stream.Push(ev.Item)
	case models.KindPublish:
		if ev.Name == "" {
			return
		}
		if n, ok := classify.NormalizeNamed(ev.Name, ev.Data); ok {
			c.report(n, "commerce_publish")
		}
	}
}

func (c *Commerce) consume(item any) {
	n, ok := classify.Normalize(item)
	if !ok {
		return
	}
	c.report(n, "datalayer")
}

func (c *Commerce) report(n classify.Normalized, origin string) {
	n.Data["origin"] = origin
	c.log.Debug("Ecommerce event normalized",
		logger.String("name", n.Name),
		logger.String("event_type", n.EventType),
		logger.String("origin", origin),
	)
	if !c.emit.Emit(n.EventType, models.SourceDataLayerAuto, n.Data, n.DedupeKey) {
		return
	}

	switch {
	case legacyConversionTypes[n.Label]:
		fields := map[string]any{
			"event_type": n.Label,
			"currency":   n.Data["currency"],
			"metadata":   map[string]any{"event_name": n.Name, "origin": origin},
		}
		if v, ok := n.Data["order_id"]; ok {
			fields["order_id"] = v
		}
		if v, ok := n.Data["revenue_cents"]; ok {
			fields["revenue_cents"] = v
		}
		c.emit.EmitLegacy(models.LegacyConversion, fields)
	case n.Label == classify.EventRefund:
		orderID, ok := n.Data["order_id"]
		if !ok {
			return
		}
		fields := map[string]any{"original_order_id": orderID}
		if v, ok := n.Data["revenue_cents"]; ok {
			fields["refund_amount_cents"] = v
		}
		c.emit.EmitLegacy(models.LegacyRefund, fields)
	}
}
