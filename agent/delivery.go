package agent

import (
	"net/http"

	"mabletask/agent/config"
	"mabletask/agent/logger"
	"mabletask/agent/metrics"
	"mabletask/agent/transport"
)

// NewChain builds the delivery chain for an installation: the header
// transport first, the beacon transport as its fallback.
func NewChain(cfg *config.AgentConfig, client *http.Client, log logger.Logger, m *metrics.Metrics) *transport.Chain {
	hc := transport.HTTPConfig{
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.RequestTimeout,
		Client:   client,
	}
	return transport.NewChain(log, m,
		transport.NewHeaderTransport(hc),
		transport.NewBeaconTransport(hc),
	)
}
