// Package provider implements the intelligence source connectors. Each
// connector adapts one upstream feed to the correlation pipeline: it speaks
// the upstream's protocol, pulls out a severity signal and threat labels,
// and keeps the raw response for auditability.
package provider

import "net/http"

// Doer is the HTTP client surface the connectors depend on. Production wiring
// passes the resilient client; tests pass a stub.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

func float64Ptr(v float64) *float64 { return &v }
