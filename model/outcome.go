package model

import "time"

// ErrorKind is the closed set of failure classes a network attempt can
// produce. Every raw error maps to exactly one kind; anything unrecognized
// becomes KindUnknown rather than failing classification.
type ErrorKind string

const (
	KindHTTPClientError ErrorKind = "http_client_error"
	KindHTTPServerError ErrorKind = "http_server_error"
	KindProxyError      ErrorKind = "proxy_error"
	KindNetworkError    ErrorKind = "network_error"
	KindSSLError        ErrorKind = "ssl_error"
	KindDNSError        ErrorKind = "dns_error"
	KindTimeout         ErrorKind = "timeout"
	KindPayloadError    ErrorKind = "payload_error"
	KindRateLimited     ErrorKind = "rate_limited"
	KindUnknown         ErrorKind = "unknown"
)

// AttemptOutcome is the tagged result of a single network attempt against the
// AI collaborator. Either Payload is set (success) or Err/Kind describe the
// failure.
type AttemptOutcome struct {
	Payload    []byte
	StatusCode int
	Elapsed    time.Duration

	Err          error
	Kind         ErrorKind
	ProxyRelated bool
	KeyRelated   bool
	// RetryAfter carries an upstream-mandated wait, e.g. from a 429 response.
	RetryAfter time.Duration
}

// Succeeded reports whether the attempt produced a payload.
func (o AttemptOutcome) Succeeded() bool { return o.Err == nil }

// Success wraps a payload in a successful outcome.
func Success(payload []byte, status int, elapsed time.Duration) AttemptOutcome {
	return AttemptOutcome{Payload: payload, StatusCode: status, Elapsed: elapsed}
}
