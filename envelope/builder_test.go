package envelope_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mabletask/agent/config"
	"mabletask/agent/envelope"
	"mabletask/agent/models"
	"mabletask/agent/transport"
)

type recordingSubmitter struct {
	reqs []transport.Request
}

func (r *recordingSubmitter) Submit(req transport.Request) bool {
	r.reqs = append(r.reqs, req)
	return true
}

func newConfig(legacy bool) *config.AgentConfig {
	cfg := &config.AgentConfig{APIKey: "pk", OrgID: "org-1", LegacyEvents: &legacy}
	c := config.Config{Agent: *cfg}
	c.SetDefaults()
	return &c.Agent
}

func newBuilder(t *testing.T, legacy bool, clickID string) (*envelope.Builder, *recordingSubmitter, *envelope.Base) {
	t.Helper()
	base := &envelope.Base{
		Identity: models.Identity{ClickID: clickID, SessionID: "sid-1", OrgID: "org-1"},
		Session:  models.SessionContext{SessionID: "sid-1", NewSession: true, NewVisit: true},
		Page:     models.PageContext{URL: "https://shop.example/p", Path: "/p", PageType: "product"},
		Visitor:  models.VisitorContext{VisitNumber: 1, PagesThisSession: 1},
	}
	out := &recordingSubmitter{}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := envelope.NewBuilder(newConfig(legacy), func() envelope.Base { return *base }, out, envelope.Options{
		Now:   func() time.Time { return now },
		NewID: func() string { return "evt-1" },
	})
	return b, out, base
}

func TestEmit_SameKeyOnce(t *testing.T) {
	b, out, _ := newBuilder(t, true, "c1")

	for i := 0; i < 5; i++ {
		b.Emit("scroll_depth", models.SourceBehavior, map[string]any{"depth": 50}, "scroll:50")
	}
	assert.Len(t, out.reqs, 1)

	assert.True(t, b.Emit("scroll_depth", models.SourceBehavior, map[string]any{"depth": 75}, "scroll:75"))
	assert.Len(t, out.reqs, 2)
}

func TestEmit_EmptyKeyNeverSuppresses(t *testing.T) {
	b, out, _ := newBuilder(t, true, "c1")
	for i := 0; i < 3; i++ {
		assert.True(t, b.Emit("cta_click", models.SourceDOMObserver, nil, ""))
	}
	assert.Len(t, out.reqs, 3)
	assert.Zero(t, b.Cache().Len())
}

func TestBuild_MergesFreshBase(t *testing.T) {
	b, out, base := newBuilder(t, true, "c1")

	data := map[string]any{"form_type": "contact"}
	require.True(t, b.Emit("form_submit", models.SourceDOMObserver, data, ""))
	base.Page.Title = "Changed"
	require.True(t, b.Emit("form_submit", models.SourceDOMObserver, data, ""))

	first := out.reqs[0].Body.(*models.Envelope)
	second := out.reqs[1].Body.(*models.Envelope)

	assert.Equal(t, "/v1/events/universal", out.reqs[0].Path)
	assert.Equal(t, "evt-1", first.EventID)
	assert.Equal(t, "c1", first.ClickID)
	assert.Equal(t, "org-1", first.OrganizationID)
	assert.Equal(t, "sid-1", first.SessionID)
	assert.Equal(t, models.SourceDOMObserver, first.EventSource)
	assert.Equal(t, "contact", first.EventData["form_type"])
	assert.Empty(t, first.Page.Title)
	assert.Equal(t, "Changed", second.Page.Title)

	first.EventData["mutated"] = true
	assert.NotContains(t, data, "mutated")
}

func TestBuild_Truncates(t *testing.T) {
	b, _, base := newBuilder(t, true, "")
	base.Page.Title = strings.Repeat("t", 500)
	base.Page.Description = strings.Repeat("d", 500)
	base.Page.URL = "https://x.example/" + strings.Repeat("u", 500)
	base.Page.OGType = strings.Repeat("o", 80)

	env, ok := b.Build("page_view", models.SourcePassive, nil, "")
	require.True(t, ok)
	assert.Len(t, env.Page.Title, 200)
	assert.Len(t, env.Page.Description, 300)
	assert.Len(t, env.Page.URL, 300)
	assert.Len(t, env.Page.OGType, 50)
	assert.NotNil(t, env.EventData)
}

func TestEmitLegacy(t *testing.T) {
	t.Run("sent with click id and never deduplicated", func(t *testing.T) {
		b, out, _ := newBuilder(t, true, "c1")
		assert.True(t, b.EmitLegacy(models.LegacyPageView, map[string]any{"page_url": "https://shop.example/p"}))
		assert.True(t, b.EmitLegacy(models.LegacyPageView, map[string]any{"page_url": "https://shop.example/p"}))
		require.Len(t, out.reqs, 2)

		assert.Equal(t, "/v1/events/pageview", out.reqs[0].Path)
		legacy := out.reqs[0].Body.(models.LegacyEnvelope)
		assert.Equal(t, "c1", legacy.Fields["inf_click_id"])
		assert.Equal(t, "org-1", legacy.Fields["organization_id"])
		assert.Equal(t, "https://shop.example/p", legacy.Fields["page_url"])
	})

	t.Run("skipped without click id", func(t *testing.T) {
		b, out, _ := newBuilder(t, true, "")
		assert.False(t, b.EmitLegacy(models.LegacySession, nil))
		assert.Empty(t, out.reqs)
	})

	t.Run("skipped when disabled", func(t *testing.T) {
		b, out, _ := newBuilder(t, false, "c1")
		assert.False(t, b.EmitLegacy(models.LegacySession, nil))
		assert.Empty(t, out.reqs)
	})
}

func TestCache(t *testing.T) {
	c := envelope.NewCache()
	assert.True(t, c.Claim("a"))
	assert.False(t, c.Claim("a"))
	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
	assert.True(t, c.Claim(""))
	assert.True(t, c.Claim(""))
	assert.Equal(t, 1, c.Len())
}
