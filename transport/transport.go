// Package transport delivers envelopes to the ingestion endpoint.
//
// Delivery is fire-and-forget: callers submit a Request to a Submitter and
// never see the outcome. A Chain tries each Transport in order and falls back
// on failure; the failure of the last one is logged and dropped.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrUnavailable is returned by a Chain when every transport failed.
var ErrUnavailable = errors.New("no transport delivered the request")

// Request is one outbound submission.
type Request struct {
	// Method defaults to POST.
	Method string
	// Path is appended to the endpoint base URL.
	Path  string
	Query url.Values
	// Body is encoded as JSON. A nil body sends no content.
	Body any
	// Via restricts delivery to the transport of that name. Empty lets a
	// Chain try every transport.
	Via string
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodPost
	}
	return r.Method
}

// Transport is one delivery method.
type Transport interface {
	Name() string
	Send(ctx context.Context, req Request) error
}

// Submitter accepts requests without blocking the caller.
type Submitter interface {
	Submit(req Request) bool
}

// StatusError reports a response the endpoint rejected. The request reached
// the endpoint, so it does not trigger a fallback.
type StatusError struct {
	Transport string
	Code      int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s transport: endpoint responded %d", e.Transport, e.Code)
}

// Inline submits synchronously on the caller's goroutine. Replays and tests
// use it when ordering must be deterministic.
type Inline struct {
	T Transport
}

// Submit sends req and reports whether it was delivered.
func (i Inline) Submit(req Request) bool {
	return i.T.Send(context.Background(), req) == nil
}
