package transport

import (
	"net/http"
	"net/url"
)

// HeartbeatPath is the liveness pixel path.
const HeartbeatPath = "/v1/pixel/heartbeat"

// Heartbeat builds the liveness ping for a page load. It is an image-style
// GET: no body, no custom headers, so it is pinned to the beacon transport.
func Heartbeat(orgID, apiKey, host string, hasClick bool) Request {
	flag := "0"
	if hasClick {
		flag = "1"
	}
	return Request{
		Method: http.MethodGet,
		Path:   HeartbeatPath,
		Query: url.Values{
			"org":       {orgID},
			KeyParam:    {apiKey},
			"url":       {host},
			"has_click": {flag},
		},
		Via: BeaconName,
	}
}
