package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/webscope-ai/domain-analyzer/model"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		statusCode int
		want       model.ErrorKind
	}{
		{"rate limited by status", errors.New("too many requests"), 429, model.KindRateLimited},
		{"server error by status", errors.New("upstream status 503"), 503, model.KindHTTPServerError},
		{"client error by status", errors.New("upstream status 400"), 400, model.KindHTTPClientError},
		{"not found by status", nil, 404, model.KindHTTPClientError},
		{"context deadline", context.DeadlineExceeded, 0, model.KindTimeout},
		{"wrapped deadline", fmt.Errorf("calling model: %w", context.DeadlineExceeded), 0, model.KindTimeout},
		{"net timeout", timeoutErr{}, 0, model.KindTimeout},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "x.example"}, 0, model.KindDNSError},
		{"proxyconnect", errors.New("proxyconnect tcp: dial tcp 10.0.0.1:8080: connection refused"), 0, model.KindProxyError},
		{"socks failure", errors.New("socks connect tcp 10.0.0.1:1080: general failure"), 0, model.KindProxyError},
		{"tls handshake", errors.New("remote error: tls: handshake failure"), 0, model.KindSSLError},
		{"certificate", errors.New("x509: certificate signed by unknown authority"), 0, model.KindSSLError},
		{"json syntax", &json.SyntaxError{}, 0, model.KindPayloadError},
		{"malformed body", errors.New("malformed response body"), 0, model.KindPayloadError},
		{"op error", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, 0, model.KindNetworkError},
		{"connection refused text", errors.New("dial tcp: connection refused"), 0, model.KindNetworkError},
		{"unclassifiable", errors.New("something odd happened"), 0, model.KindUnknown},
		{"nil error no status", nil, 0, model.KindUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err, tc.statusCode))
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	err := errors.New("proxyconnect tcp: dial failed")
	first := Classify(err, 0)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(err, 0))
	}
}

func TestStatusOverridesTransportError(t *testing.T) {
	// When a response arrived, its status decides the kind even if the error
	// text mentions transport details.
	got := Classify(errors.New("proxy upstream rejected"), 500)
	assert.Equal(t, model.KindHTTPServerError, got)
}

func TestIsProxyRelated(t *testing.T) {
	related := []model.ErrorKind{model.KindProxyError, model.KindNetworkError, model.KindDNSError, model.KindSSLError}
	for _, k := range related {
		assert.True(t, IsProxyRelated(k), "kind %s", k)
	}
	unrelated := []model.ErrorKind{model.KindTimeout, model.KindHTTPServerError, model.KindHTTPClientError, model.KindRateLimited, model.KindPayloadError, model.KindUnknown}
	for _, k := range unrelated {
		assert.False(t, IsProxyRelated(k), "kind %s", k)
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []model.ErrorKind{
		model.KindProxyError, model.KindNetworkError, model.KindDNSError,
		model.KindSSLError, model.KindTimeout, model.KindHTTPServerError,
		model.KindRateLimited,
	}
	for _, k := range retryable {
		assert.True(t, IsRetryable(k), "kind %s", k)
	}
	assert.False(t, IsRetryable(model.KindHTTPClientError))
	assert.False(t, IsRetryable(model.KindPayloadError))
	assert.False(t, IsRetryable(model.KindUnknown))
}

func TestKeyConsumed(t *testing.T) {
	consumed := []model.ErrorKind{model.KindHTTPServerError, model.KindTimeout, model.KindRateLimited}
	for _, k := range consumed {
		assert.True(t, KeyConsumed(k), "kind %s", k)
	}
	unconsumed := []model.ErrorKind{
		model.KindProxyError, model.KindNetworkError, model.KindDNSError,
		model.KindSSLError, model.KindHTTPClientError, model.KindPayloadError,
		model.KindUnknown,
	}
	for _, k := range unconsumed {
		assert.False(t, KeyConsumed(k), "kind %s", k)
	}
}

func TestOutcomeFillsDerivedFlags(t *testing.T) {
	out := Outcome(errors.New("proxyconnect tcp: dial failed"), 0)
	assert.Equal(t, model.KindProxyError, out.Kind)
	assert.True(t, out.ProxyRelated)
	assert.False(t, out.KeyRelated)
	assert.False(t, out.Succeeded())

	out = Outcome(errors.New("too many requests"), 429)
	assert.Equal(t, model.KindRateLimited, out.Kind)
	assert.False(t, out.ProxyRelated)
	assert.True(t, out.KeyRelated)
}
