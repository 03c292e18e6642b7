package transport

import (
	"context"
	"errors"
	"fmt"

	"mabletask/agent/logger"
	"mabletask/agent/metrics"
)

// Chain tries each transport in order; the first one that reaches the
// endpoint wins. Panics inside a transport count as a failure of that
// transport.
type Chain struct {
	transports []Transport
	log        logger.Logger
	metrics    *metrics.Metrics
}

// NewChain creates a fallback chain over transports.
func NewChain(log logger.Logger, m *metrics.Metrics, transports ...Transport) *Chain {
	return &Chain{transports: transports, log: log, metrics: m}
}

func (c *Chain) Name() string { return "chain" }

// Send delivers req through the first transport that does not fail. A
// response rejected by the endpoint is logged and not retried. A request
// with Via set only goes through the transport of that name.
func (c *Chain) Send(ctx context.Context, req Request) error {
	for _, t := range c.transports {
		if req.Via != "" && t.Name() != req.Via {
			continue
		}
		err := c.attempt(ctx, t, req)
		if err == nil {
			c.metrics.Attempt(t.Name(), "ok")
			return nil
		}

		var status *StatusError
		if errors.As(err, &status) {
			c.metrics.Attempt(t.Name(), "rejected")
			c.log.Debug("Endpoint rejected request",
				logger.String("transport", t.Name()),
				logger.String("path", req.Path),
				logger.Int("status", status.Code),
			)
			return nil
		}

		c.metrics.Attempt(t.Name(), "failed")
		c.log.Debug("Transport failed, falling back",
			logger.String("transport", t.Name()),
			logger.String("path", req.Path),
			logger.Error(err),
		)
	}
	return ErrUnavailable
}

func (c *Chain) attempt(ctx context.Context, t Transport, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s transport panic: %v", t.Name(), r)
		}
	}()
	return t.Send(ctx, req)
}
