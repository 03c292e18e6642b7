package transport

import (
	"context"
	"encoding/json"
	"time"

	"mabletask/agent/models"
	"mabletask/agent/utils"
)

// Recorder accepts delivery ledger records without blocking.
type Recorder interface {
	Offer(rec models.LedgerRecord) bool
}

// Mirror wraps a transport and offers every request it delivered to a
// Recorder. Requests without an envelope body (the heartbeat) are not
// recorded.
type Mirror struct {
	next Transport
	rec  Recorder
	now  func() time.Time
}

// NewMirror wraps next.
func NewMirror(next Transport, rec Recorder, now func() time.Time) *Mirror {
	if now == nil {
		now = time.Now
	}
	return &Mirror{next: next, rec: rec, now: now}
}

func (m *Mirror) Name() string { return m.next.Name() }

// Send delivers through the wrapped transport and records on success.
func (m *Mirror) Send(ctx context.Context, req Request) error {
	if err := m.next.Send(ctx, req); err != nil {
		return err
	}
	if rec, ok := m.record(req); ok {
		m.rec.Offer(rec)
	}
	return nil
}

func (m *Mirror) record(req Request) (models.LedgerRecord, bool) {
	switch body := req.Body.(type) {
	case *models.Envelope:
		data, err := json.Marshal(body.EventData)
		if err != nil {
			data = []byte("{}")
		}
		return models.LedgerRecord{
			EventID:        body.EventID,
			OrganizationID: body.OrganizationID,
			EventType:      body.EventType,
			EventSource:    string(body.EventSource),
			ClickID:        body.ClickID,
			SessionID:      body.SessionID,
			Timestamp:      body.Timestamp,
			PagePath:       body.Page.Path,
			PageType:       body.Page.PageType,
			Referrer:       body.Page.Referrer,
			Transport:      m.next.Name(),
			DedupeKey:      body.DedupeKey,
			EventData:      data,
		}, true
	case models.LegacyEnvelope:
		data, err := json.Marshal(body.Fields)
		if err != nil {
			data = []byte("{}")
		}
		return models.LedgerRecord{
			EventID:        utils.NewID(),
			OrganizationID: stringField(body.Fields, "organization_id"),
			EventType:      "legacy_" + body.Kind,
			EventSource:    string(models.SourcePassive),
			ClickID:        stringField(body.Fields, "inf_click_id"),
			SessionID:      stringField(body.Fields, "session_id"),
			Timestamp:      m.now().UTC(),
			Transport:      m.next.Name(),
			EventData:      data,
		}, true
	default:
		return models.LedgerRecord{}, false
	}
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
