package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mabletask/agent/agent"
	"mabletask/agent/config"
	"mabletask/agent/logger"
	"mabletask/agent/metrics"
	"mabletask/agent/models"
	"mabletask/agent/store"
	"mabletask/agent/transport"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingOut struct {
	mu   sync.Mutex
	reqs []transport.Request
}

func (r *recordingOut) Submit(req transport.Request) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return true
}

func (r *recordingOut) envelopes(eventType string) []*models.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Envelope
	for _, req := range r.reqs {
		if env, ok := req.Body.(*models.Envelope); ok && (eventType == "" || env.EventType == eventType) {
			out = append(out, env)
		}
	}
	return out
}

func (r *recordingOut) legacy(kind string) []models.LegacyEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.LegacyEnvelope
	for _, req := range r.reqs {
		if l, ok := req.Body.(models.LegacyEnvelope); ok && l.Kind == kind {
			out = append(out, l)
		}
	}
	return out
}

func (r *recordingOut) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.reqs))
	for _, req := range r.reqs {
		out = append(out, req.Path)
	}
	return out
}

// brokenStore fails every read and panics on every write.
type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("storage disabled")
}
func (brokenStore) Set(context.Context, string, string, time.Duration) error { panic("quota exceeded") }
func (brokenStore) Delete(context.Context, string) error                      { panic("quota exceeded") }

func testConfig() *config.AgentConfig {
	cfg := &config.Config{Agent: config.AgentConfig{APIKey: "key-1", OrgID: "org-1"}}
	cfg.SetDefaults()
	return &cfg.Agent
}

type harness struct {
	agent *agent.Agent
	out   *recordingOut
	clock *agent.FakeClock
	st    store.Store
}

func newHarness(t *testing.T, cfg *config.AgentConfig, st store.Store, m *metrics.Metrics) *harness {
	t.Helper()
	h := &harness{out: &recordingOut{}, clock: agent.NewFakeClock(t0), st: st}
	if h.st == nil {
		h.st = store.NewMemoryStore(h.clock.Now)
	}
	a, err := agent.New(cfg, agent.Deps{
		Store:   h.st,
		Out:     h.out,
		Clock:   h.clock,
		Metrics: m,
	})
	require.NoError(t, err)
	h.agent = a
	return h
}

func (h *harness) start(rawURL string) {
	h.agent.Start(context.Background(), models.PageLoad{URL: rawURL, Referrer: "https://google.com/", At: h.clock.Now()})
}

const pageHTML = `<html><head><title>Thanks</title>
<script src="https://www.googletagmanager.com/gtag/js?id=G-1"></script></head>
<body><form id="quote"><input name="email"><input name="project"></form>
<button>Book now</button></body></html>`

func TestNew_ConfigErrorLogsOnceAndEmitsNothing(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	out := &recordingOut{}

	cfg := testConfig()
	cfg.APIKey = ""
	a, err := agent.New(cfg, agent.Deps{Out: out, Log: logger.FromZap(zap.New(core))})

	require.Error(t, err)
	assert.Nil(t, a)
	assert.ErrorIs(t, err, agent.ErrNotConfigured)
	assert.ErrorIs(t, err, config.ErrMissingAPIKey)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.ErrorLevel, logs.All()[0].Level)
	assert.Empty(t, out.paths())

	_, err = agent.New(nil, agent.Deps{Out: out})
	assert.ErrorIs(t, err, agent.ErrNotConfigured)
}

func TestStart_WithClickID(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	h.start("https://shop.example/landing?inf_click_id=clk-9")

	assert.Equal(t, "clk-9", h.agent.Identity().ClickID)

	paths := h.out.paths()
	require.NotEmpty(t, paths)
	assert.Equal(t, transport.HeartbeatPath, paths[0])

	views := h.out.envelopes("page_view")
	require.Len(t, views, 1)
	env := views[0]
	assert.Equal(t, "clk-9", env.ClickID)
	assert.Equal(t, "org-1", env.OrganizationID)
	assert.Equal(t, models.SourcePassive, env.EventSource)
	assert.True(t, env.Session.NewVisit)
	assert.Equal(t, 1, env.Visitor.VisitNumber)
	assert.Equal(t, "/landing", env.Page.Path)

	require.Len(t, h.out.legacy(models.LegacySession), 1)
	assert.Equal(t, env.SessionID, h.out.legacy(models.LegacySession)[0].Fields["session_id"])
	require.Len(t, h.out.legacy(models.LegacyPageView), 1)
}

func TestStart_WithoutClickIDSkipsLegacy(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	h.start("https://shop.example/")

	assert.Len(t, h.out.envelopes("page_view"), 1)
	assert.Empty(t, h.out.legacy(models.LegacySession))
	assert.Empty(t, h.out.legacy(models.LegacyPageView))
}

func TestStart_ReturnVisitSameSession(t *testing.T) {
	cfg := testConfig()
	first := newHarness(t, cfg, nil, nil)
	first.start("https://shop.example/?inf_click_id=clk-1")

	second := &harness{out: &recordingOut{}, clock: first.clock, st: first.st}
	a, err := agent.New(cfg, agent.Deps{Store: first.st, Out: second.out, Clock: first.clock})
	require.NoError(t, err)
	first.clock.Advance(time.Minute)
	a.Start(context.Background(), models.PageLoad{URL: "https://shop.example/pricing", At: first.clock.Now()})

	assert.Equal(t, "clk-1", a.Identity().ClickID, "persisted click id")
	env := second.out.envelopes("page_view")[0]
	assert.False(t, env.Session.NewVisit)
	assert.Equal(t, 2, env.Visitor.PagesThisSession)
	assert.Empty(t, second.out.legacy(models.LegacySession))
}

func TestConversionPageDetectedOnce(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	h.start("https://shop.example/thank-you")
	h.agent.Interactive(context.Background(), models.Snapshot{HTML: pageHTML})
	h.agent.Complete(context.Background(), models.Snapshot{HTML: pageHTML})
	h.clock.Advance(10 * time.Second)

	detected := h.out.envelopes("conversion_page_detected")
	require.Len(t, detected, 1)
	assert.Equal(t, "conversion_page:/thank-you", detected[0].DedupeKey)
	assert.Equal(t, "confirmation", detected[0].Page.PageType)
}

func TestStorageFailureDoesNotStopSignals(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := newHarness(t, testConfig(), brokenStore{}, m)

	assert.NotPanics(t, func() {
		h.start("https://shop.example/?inf_click_id=clk-2")
		h.agent.Interactive(context.Background(), models.Snapshot{HTML: pageHTML})
		h.agent.Handle(context.Background(), models.HostEvent{
			Kind:   models.KindClick,
			Target: &models.Element{Tag: "button", Text: "Book now"},
		})
	})

	assert.Equal(t, "clk-2", h.agent.Identity().ClickID)
	assert.NotEmpty(t, h.agent.Identity().SessionID)
	assert.Len(t, h.out.envelopes("page_view"), 1)
	assert.Len(t, h.out.envelopes("cta_click"), 1)
	assert.InDelta(t, 1, testutil.ToFloat64(m.StorageDegraded), 0)
}

func TestInteractive_AttachesAndDetects(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	h.start("https://shop.example/get-quote")
	h.agent.Interactive(context.Background(), models.Snapshot{HTML: pageHTML, Globals: []string{"gtag"}})

	tools := h.out.envelopes("tools_detected")
	require.Len(t, tools, 1)
	assert.Contains(t, tools[0].EventData["tools"], "google_analytics")

	h.agent.Handle(context.Background(), models.HostEvent{Kind: models.KindFocus, Form: &models.FormDescriptor{ID: "quote"}})
	h.agent.Handle(context.Background(), models.HostEvent{Kind: models.KindSubmit, Form: &models.FormDescriptor{ID: "quote"}})

	submits := h.out.envelopes("form_submit")
	require.Len(t, submits, 1)
	assert.Equal(t, "quote", submits[0].EventData["form_type"])
	assert.Equal(t, "Thanks", submits[0].Page.Title)
	assert.Contains(t, submits[0].DetectedTools, "google_analytics")
}

func TestComplete_RescansLateWidgets(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	h.start("https://shop.example/")
	h.agent.Interactive(context.Background(), models.Snapshot{HTML: pageHTML})
	h.agent.Complete(context.Background(), models.Snapshot{HTML: pageHTML})

	h.agent.Handle(context.Background(), models.HostEvent{Kind: models.KindWidget, Provider: "intercom", Action: "onShow"})
	assert.Empty(t, h.out.envelopes("chat_open"), "widget not hooked yet")

	// The widget injects itself after load.
	h.agent.Complete(context.Background(), models.Snapshot{HTML: pageHTML, Globals: []string{"Intercom"}})
	h.clock.Advance(2 * time.Second)

	assert.Len(t, h.out.envelopes("chat_widget_detected"), 1)
	tools := h.out.envelopes("tools_detected")
	require.Len(t, tools, 2)
	assert.Contains(t, tools[1].EventData["tools"], "intercom")

	h.agent.Handle(context.Background(), models.HostEvent{Kind: models.KindWidget, Provider: "intercom", Action: "onShow"})
	assert.Len(t, h.out.envelopes("chat_open"), 1)

	h.clock.Advance(5 * time.Second)
	assert.Len(t, h.out.envelopes("chat_widget_detected"), 1, "second re-scan finds nothing new")
}

func TestScrollMilestonesThroughAgent(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	h.start("https://shop.example/")

	for i := 0; i < 5; i++ {
		h.agent.Handle(context.Background(), models.HostEvent{
			Kind:           models.KindScroll,
			ScrollY:        500,
			DocumentHeight: 1800,
			ViewportHeight: 800,
		})
	}
	h.clock.Advance(time.Second)

	scrolls := h.out.envelopes("scroll_depth")
	require.Len(t, scrolls, 2)
	assert.Equal(t, 25, scrolls[0].EventData["depth"])
	assert.Equal(t, 50, scrolls[1].EventData["depth"])
}

func TestShortPageReportsFullDepthOnAttach(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	h.start("https://shop.example/")
	h.agent.Interactive(context.Background(), models.Snapshot{
		HTML:     pageHTML,
		Viewport: &models.Viewport{DocumentHeight: 700, ViewportHeight: 900},
	})

	scrolls := h.out.envelopes("scroll_depth")
	require.Len(t, scrolls, 5)
	assert.Equal(t, 100, scrolls[4].EventData["depth"])
}

func TestDataLayerPurchaseDeduplicated(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	h.start("https://shop.example/checkout/done?inf_click_id=clk-3")

	purchase := map[string]any{
		"event":     "purchase",
		"ecommerce": map[string]any{"value": 49.99, "transaction_id": "ORD-1", "currency": "usd"},
	}
	h.agent.Handle(context.Background(), models.HostEvent{Kind: models.KindDataLayer, Item: purchase})
	assert.Equal(t, 2, h.agent.Push(purchase))

	conversions := h.out.envelopes("conversion")
	require.Len(t, conversions, 1)
	env := conversions[0]
	assert.Equal(t, "purchase", env.EventData["event_type"])
	assert.Equal(t, "ORD-1", env.EventData["order_id"])
	assert.Equal(t, int64(4999), env.EventData["revenue_cents"])
	assert.Equal(t, "USD", env.EventData["currency"])
	assert.Equal(t, "order:ORD-1", env.DedupeKey)
	assert.Equal(t, models.SourceDataLayerAuto, env.EventSource)

	legacy := h.out.legacy(models.LegacyConversion)
	require.Len(t, legacy, 1)
	assert.Equal(t, "clk-3", legacy[0].Fields["inf_click_id"])
}

func TestDataLayerPushedBeforeStart(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	purchase := map[string]any{
		"event":     "purchase",
		"ecommerce": map[string]any{"value": 20, "transaction_id": "ORD-7"},
	}
	assert.Equal(t, 1, h.agent.Push(purchase))
	assert.Empty(t, h.out.envelopes("conversion"))

	h.start("https://shop.example/checkout/done")
	h.agent.Interactive(context.Background(), models.Snapshot{
		HTML:      pageHTML,
		DataLayer: []any{purchase},
	})

	conversions := h.out.envelopes("conversion")
	require.Len(t, conversions, 1)
	assert.Equal(t, "order:ORD-7", conversions[0].DedupeKey)
	assert.Equal(t, int64(2000), conversions[0].EventData["revenue_cents"])
	assert.Equal(t, 1, h.agent.Push(), "snapshot entry already in the stream")
}

func TestTrack(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	h.start("https://shop.example/?inf_click_id=clk-4")
	ctx := context.Background()

	assert.True(t, h.agent.Track(ctx, "conversion", map[string]any{"order_id": "ORD-7", "revenue": "$1,299.50"}))
	assert.False(t, h.agent.Track(ctx, "conversion", map[string]any{"order_id": "ORD-7", "revenue": 1299}))
	conv := h.out.envelopes("conversion")
	require.Len(t, conv, 1)
	assert.Equal(t, int64(129950), conv[0].EventData["revenue_cents"])
	assert.Equal(t, models.SourceManual, conv[0].EventSource)
	assert.Len(t, h.out.legacy(models.LegacyConversion), 1)

	assert.True(t, h.agent.Track(ctx, "refund", map[string]any{"order_id": "ORD-7", "amount": 10}))
	refunds := h.out.legacy(models.LegacyRefund)
	require.Len(t, refunds, 1)
	assert.Equal(t, "ORD-7", refunds[0].Fields["original_order_id"])
	assert.Equal(t, int64(1000), refunds[0].Fields["refund_amount_cents"])

	assert.True(t, h.agent.Track(ctx, "identify", map[string]any{"customer_id": "c-1", "email": " Ada@Example.com "}))
	ident := h.out.envelopes("identify")
	require.Len(t, ident, 1)
	assert.NotContains(t, ident[0].EventData, "email")
	assert.Equal(t, agent.HashEmail("ada@example.com"), ident[0].EventData["email_hash"])
	legacyIdent := h.out.legacy(models.LegacyIdentify)
	require.Len(t, legacyIdent, 1)
	assert.Equal(t, "c-1", legacyIdent[0].Fields["external_customer_id"])

	assert.True(t, h.agent.Track(ctx, "pageview", nil))
	assert.True(t, h.agent.Track(ctx, "pageview", nil), "no dedupe key, never suppressed")
	assert.Len(t, h.out.envelopes("page_view"), 3)

	assert.True(t, h.agent.Track(ctx, "quiz_completed", map[string]any{"score": 7, "dedupe_key": "quiz"}))
	assert.False(t, h.agent.Track(ctx, "quiz_completed", map[string]any{"dedupe_key": "quiz"}))
	custom := h.out.envelopes("custom")
	require.Len(t, custom, 1)
	assert.Equal(t, "quiz_completed", custom[0].EventData["event_name"])
	assert.NotContains(t, custom[0].EventData, "dedupe_key")
}

func TestTrack_LegacyDisabled(t *testing.T) {
	cfg := testConfig()
	disabled := false
	cfg.LegacyEvents = &disabled
	h := newHarness(t, cfg, nil, nil)
	h.start("https://shop.example/?inf_click_id=clk-5")

	assert.True(t, h.agent.Track(context.Background(), "conversion", map[string]any{"order_id": "A"}))
	assert.Len(t, h.out.envelopes("conversion"), 1)
	assert.Empty(t, h.out.legacy(models.LegacyConversion))
	assert.Empty(t, h.out.legacy(models.LegacySession))
}

func TestEngagementSampledByClock(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	h.start("https://shop.example/")

	h.clock.Advance(15 * time.Second)

	engaged := h.out.envelopes("engaged_time")
	require.Len(t, engaged, 1)
	assert.Equal(t, 10, engaged[0].EventData["seconds"])
}

func TestClose(t *testing.T) {
	h := newHarness(t, testConfig(), nil, nil)
	h.start("https://shop.example/?inf_click_id=clk-6")
	h.agent.Complete(context.Background(), models.Snapshot{HTML: pageHTML})
	h.clock.Advance(20 * time.Second)

	require.NoError(t, h.agent.Close(context.Background()))
	require.NoError(t, h.agent.Close(context.Background()))

	exits := h.out.envelopes("page_exit")
	require.Len(t, exits, 1)
	assert.Equal(t, int64(20_000), exits[0].EventData["time_on_page_ms"])
	assert.Equal(t, int64(20_000), exits[0].EventData["active_time_ms"])

	views := h.out.legacy(models.LegacyPageView)
	require.Len(t, views, 2)
	assert.Equal(t, int64(20_000), views[1].Fields["time_on_page_ms"])

	before := len(h.out.paths())
	h.clock.Advance(time.Hour)
	assert.False(t, h.agent.Track(context.Background(), "conversion", nil))
	h.agent.Handle(context.Background(), models.HostEvent{Kind: models.KindActivity})
	assert.Len(t, h.out.paths(), before, "nothing after close")
}

func TestOwnedDeliveryDrainsOnClose(t *testing.T) {
	type hit struct {
		path, key, contentType string
		body                   map[string]any
	}
	var (
		mu   sync.Mutex
		hits []hit
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		mu.Lock()
		hits = append(hits, hit{r.URL.Path, r.Header.Get(transport.APIKeyHeader), r.Header.Get("Content-Type"), body})
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Endpoint = srv.URL
	a, err := agent.New(cfg, agent.Deps{Clock: agent.NewFakeClock(t0)})
	require.NoError(t, err)

	a.Start(context.Background(), models.PageLoad{URL: "https://shop.example/"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hits, 3, "heartbeat, page_view, page_exit")
	assert.Equal(t, transport.HeartbeatPath, hits[0].path)
	assert.Empty(t, hits[0].key, "heartbeat carries no custom headers")
	assert.Equal(t, config.DefaultEventPath, hits[1].path)
	assert.Equal(t, "key-1", hits[1].key)
	assert.Equal(t, "application/json", hits[1].contentType)
	assert.Equal(t, "page_view", hits[1].body["event_type"])
	assert.Equal(t, "page_exit", hits[2].body["event_type"])
}

func TestFakeClock(t *testing.T) {
	c := agent.NewFakeClock(t0)
	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() {
		fired = append(fired, "a")
		c.AfterFunc(500*time.Millisecond, func() { fired = append(fired, "a2") })
	})
	stop := c.AfterFunc(time.Second, func() { fired = append(fired, "stopped") })
	assert.True(t, stop())
	assert.False(t, stop())

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "a2", "b"}, fired)
	assert.Equal(t, t0.Add(3*time.Second), c.Now())
	assert.Zero(t, c.Pending())
}
