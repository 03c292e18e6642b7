package agent_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mabletask/agent/agent"
)

const traceJSON = `{
  "load": {"url": "https://shop.example/pricing?inf_click_id=clk-r", "at": "2026-03-01T12:00:00Z"},
  "snapshots": [
    {"phase": "interactive", "snapshot": {"html": "<html><body><form id=\"quote\"><input name=\"email\"></form></body></html>"}},
    {"phase": "complete", "snapshot": {"html": "<html><body></body></html>", "globals": ["Intercom"]}}
  ],
  "events": [
    {"kind": "widget", "provider": "intercom", "action": "onShow", "at": "2026-03-01T12:00:03Z"},
    {"kind": "scroll", "scroll_y": 900, "document_height": 1000, "viewport_height": 100, "at": "2026-03-01T12:00:04Z"}
  ],
  "track": [
    {"action": "conversion", "data": {"order_id": "R-1", "revenue": 49.5}}
  ]
}`

func TestReplay(t *testing.T) {
	tr, err := agent.ReadTrace(strings.NewReader(traceJSON))
	require.NoError(t, err)

	h := newHarness(t, testConfig(), nil, nil)
	require.NoError(t, agent.Replay(context.Background(), h.agent, h.clock, tr, 5*time.Second))

	assert.Len(t, h.out.envelopes("chat_open"), 1, "first re-scan hooked the widget before the event")
	assert.NotEmpty(t, h.out.envelopes("scroll_depth"))

	conversions := h.out.envelopes("conversion")
	require.Len(t, conversions, 1)
	assert.Equal(t, int64(4950), conversions[0].EventData["revenue_cents"])

	exits := h.out.envelopes("page_exit")
	require.Len(t, exits, 1)
	assert.Equal(t, int64(9_000), exits[0].EventData["time_on_page_ms"])
	assert.Zero(t, h.clock.Pending())
}

func TestReadTrace_RequiresURL(t *testing.T) {
	_, err := agent.ReadTrace(strings.NewReader(`{"events": []}`))
	assert.ErrorIs(t, err, agent.ErrEmptyTrace)

	_, err = agent.ReadTrace(strings.NewReader(`{`))
	require.Error(t, err)
}
