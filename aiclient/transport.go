package aiclient

import (
	"fmt"
	"net"
	"net/http"
	"net/url"

	xproxy "golang.org/x/net/proxy"

	"github.com/webscope-ai/domain-analyzer/model"
)

// newAttemptClient builds an http.Client routed through the given proxy.
// Transports are per-attempt on purpose: proxy sessions rotate between
// attempts and pooled connections would pin the old exit.
func newAttemptClient(p model.ProxyEntry, t Timeouts) (*http.Client, error) {
	dialer := &net.Dialer{Timeout: t.Connect}

	transport := &http.Transport{
		ResponseHeaderTimeout: t.Read,
		DisableKeepAlives:     true,
		DialContext:           dialer.DialContext,
	}

	switch p.Protocol {
	case "socks5":
		var auth *xproxy.Auth
		if p.HasAuth() {
			auth = &xproxy.Auth{User: p.Username, Password: p.Password}
		}
		d, err := xproxy.SOCKS5("tcp", net.JoinHostPort(p.Host, fmt.Sprint(p.Port)), auth, dialer)
		if err != nil {
			return nil, fmt.Errorf("building socks5 dialer: %w", err)
		}
		cd, ok := d.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer does not support contexts")
		}
		transport.DialContext = cd.DialContext

	case "http", "https":
		u, err := url.Parse(p.URL())
		if err != nil {
			return nil, fmt.Errorf("parsing proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)

	default:
		return nil, fmt.Errorf("unsupported proxy protocol %q", p.Protocol)
	}

	return &http.Client{Transport: transport, Timeout: t.Total}, nil
}
