// Package classify maps raw transport and HTTP failures onto the closed
// model.ErrorKind set. Classification is total: every (error, status) pair
// yields exactly one kind, defaulting to unknown instead of failing.
package classify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/webscope-ai/domain-analyzer/model"
)

// Classify determines the error kind for one attempt. statusCode is the HTTP
// status when a response was received, 0 otherwise. The function is pure and
// deterministic over the error's observable attributes.
func Classify(err error, statusCode int) model.ErrorKind {
	if statusCode != 0 && statusCode != http.StatusOK {
		switch {
		case statusCode == http.StatusTooManyRequests:
			return model.KindRateLimited
		case statusCode >= 500:
			return model.KindHTTPServerError
		case statusCode >= 400:
			return model.KindHTTPClientError
		}
	}

	if err == nil {
		return model.KindUnknown
	}

	// Context deadlines and anything a net.Error calls a timeout.
	if errors.Is(err, context.DeadlineExceeded) {
		return model.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.KindDNSError
	}

	var certErr *tls.CertificateVerificationError
	var unknownAuthErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthErr) || errors.As(err, &hostnameErr) {
		return model.KindSSLError
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return model.KindSSLError
	}

	msg := strings.ToLower(err.Error())

	// Proxy dial failures surface as wrapped errors mentioning the proxy; the
	// SOCKS dialer from x/net prefixes its errors with the scheme.
	if strings.Contains(msg, "proxyconnect") ||
		strings.Contains(msg, "socks connect") ||
		strings.Contains(msg, "socks5") ||
		strings.Contains(msg, "proxy") {
		return model.KindProxyError
	}

	if strings.Contains(msg, "tls") || strings.Contains(msg, "certificate") ||
		strings.Contains(msg, "handshake") {
		return model.KindSSLError
	}

	var jsonSyntaxErr *json.SyntaxError
	var jsonTypeErr *json.UnmarshalTypeError
	if errors.As(err, &jsonSyntaxErr) || errors.As(err, &jsonTypeErr) ||
		strings.Contains(msg, "unexpected eof") ||
		strings.Contains(msg, "malformed") {
		return model.KindPayloadError
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return model.KindNetworkError
	}
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "network is unreachable") ||
		strings.Contains(msg, "server closed") ||
		strings.Contains(msg, "eof") {
		return model.KindNetworkError
	}

	return model.KindUnknown
}

// IsProxyRelated reports whether the failure points at the proxy rather than
// the upstream, so the retry should rotate the proxy session.
func IsProxyRelated(kind model.ErrorKind) bool {
	switch kind {
	case model.KindProxyError, model.KindNetworkError, model.KindDNSError, model.KindSSLError:
		return true
	}
	return false
}

// IsRetryable reports whether the kind belongs to the retryable partition.
// Rate limits are retryable but require a key cooldown before the next use.
func IsRetryable(kind model.ErrorKind) bool {
	switch kind {
	case model.KindProxyError, model.KindNetworkError, model.KindDNSError,
		model.KindSSLError, model.KindTimeout, model.KindHTTPServerError,
		model.KindRateLimited:
		return true
	}
	return false
}

// KeyConsumed reports whether the upstream most likely billed the API key for
// the attempt. Failures before the request reaches the upstream (proxy, DNS,
// TLS, plain network) and rejected-before-processing client errors leave the
// key unconsumed.
func KeyConsumed(kind model.ErrorKind) bool {
	switch kind {
	case model.KindHTTPServerError, model.KindTimeout, model.KindRateLimited:
		return true
	}
	return false
}

// Outcome builds a failure AttemptOutcome from a raw error and optional HTTP
// status, filling the derived flags so callers never re-classify.
func Outcome(err error, statusCode int) model.AttemptOutcome {
	kind := Classify(err, statusCode)
	return model.AttemptOutcome{
		Err:          err,
		StatusCode:   statusCode,
		Kind:         kind,
		ProxyRelated: IsProxyRelated(kind),
		KeyRelated:   KeyConsumed(kind),
	}
}
