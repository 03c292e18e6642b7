package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Transport names.
const (
	HeaderName = "header"
	BeaconName = "beacon"
)

const (
	// APIKeyHeader carries the installation key on the primary transport.
	APIKeyHeader = "X-API-Key"
	// KeyParam carries the installation key on header-less transports.
	KeyParam = "key"
)

// HTTPConfig configures the HTTP transports.
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Client   *http.Client
}

func (c HTTPConfig) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c HTTPConfig) buildURL(req Request, withKey bool) (string, error) {
	u, err := url.Parse(strings.TrimRight(c.Endpoint, "/") + req.Path)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	for k, vs := range req.Query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if withKey && q.Get(KeyParam) == "" {
		q.Set(KeyParam, c.APIKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// HeaderTransport is the primary delivery method: a keyed POST whose context
// is detached from the caller so it survives page teardown.
type HeaderTransport struct {
	cfg HTTPConfig
}

// NewHeaderTransport creates the primary transport.
func NewHeaderTransport(cfg HTTPConfig) *HeaderTransport {
	return &HeaderTransport{cfg: cfg}
}

func (t *HeaderTransport) Name() string { return HeaderName }

// Send performs the request.
func (t *HeaderTransport) Send(ctx context.Context, req Request) error {
	target, err := t.cfg.buildURL(req, false)
	if err != nil {
		return err
	}
	httpReq, cancel, err := newHTTPRequest(ctx, t.cfg.Timeout, req, target)
	if err != nil {
		return err
	}
	defer cancel()

	httpReq.Header.Set(APIKeyHeader, t.cfg.APIKey)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return do(t.cfg.client(), httpReq, t.Name())
}

// BeaconTransport is the fallback: no custom headers, key in the query and a
// text/plain body so the request stays a simple cross-origin request.
type BeaconTransport struct {
	cfg HTTPConfig
}

// NewBeaconTransport creates the fallback transport.
func NewBeaconTransport(cfg HTTPConfig) *BeaconTransport {
	return &BeaconTransport{cfg: cfg}
}

func (t *BeaconTransport) Name() string { return BeaconName }

// Send performs the request.
func (t *BeaconTransport) Send(ctx context.Context, req Request) error {
	target, err := t.cfg.buildURL(req, true)
	if err != nil {
		return err
	}
	httpReq, cancel, err := newHTTPRequest(ctx, t.cfg.Timeout, req, target)
	if err != nil {
		return err
	}
	defer cancel()

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	}
	return do(t.cfg.client(), httpReq, t.Name())
}

func newHTTPRequest(ctx context.Context, timeout time.Duration, req Request, target string) (*http.Request, context.CancelFunc, error) {
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	ctx = context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method(), target, body)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	return httpReq, cancel, nil
}

func do(client *http.Client, req *http.Request, name string) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s transport: %w", name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return &StatusError{Transport: name, Code: resp.StatusCode}
	}
	return nil
}
