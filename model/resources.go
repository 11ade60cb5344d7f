package model

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// sessionMarker is the username fragment the proxy provider interprets as a
// sticky-session token. Replacing the digits after it yields a new exit IP.
const sessionMarker = "-sessid-"

// ProxyEntry describes one upstream proxy. Everything except the session
// suffix embedded in Username is immutable after loading.
type ProxyEntry struct {
	Protocol string `json:"protocol"` // http, https, socks5
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Validate checks the fields that would otherwise only fail deep inside a
// dial. Called once at inventory load.
func (p ProxyEntry) Validate() error {
	switch strings.ToLower(p.Protocol) {
	case "http", "https", "socks5":
	default:
		return fmt.Errorf("unsupported proxy protocol: %q", p.Protocol)
	}
	if p.Host == "" {
		return fmt.Errorf("proxy host is empty")
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("invalid proxy port: %d", p.Port)
	}
	return nil
}

// HasAuth reports whether the proxy requires credentials.
func (p ProxyEntry) HasAuth() bool { return p.Username != "" && p.Password != "" }

// HasSession reports whether the username carries a rotatable session token.
func (p ProxyEntry) HasSession() bool {
	return strings.Contains(strings.ToLower(p.Username), sessionMarker)
}

// WithNewSession returns a copy whose session token has a freshly generated
// 4-digit suffix. Entries without a session token are returned unchanged.
func (p ProxyEntry) WithNewSession() ProxyEntry {
	if !p.HasSession() || len(p.Username) < 4 {
		return p
	}
	suffix := fmt.Sprintf("%04d", rand.Intn(10000))
	p.Username = p.Username[:len(p.Username)-4] + suffix
	return p
}

// URL returns the full proxy URL including credentials.
func (p ProxyEntry) URL() string {
	if p.HasAuth() {
		return fmt.Sprintf("%s://%s:%s@%s:%d", p.Protocol, p.Username, p.Password, p.Host, p.Port)
	}
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.Host, p.Port)
}

// Redacted returns a connection string safe for logging.
func (p ProxyEntry) Redacted() string {
	if p.HasAuth() {
		return fmt.Sprintf("%s://%s:***@%s:%d", p.Protocol, p.Username, p.Host, p.Port)
	}
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.Host, p.Port)
}

// APIKeyEntry is one upstream API key. The pool is loaded at startup and the
// entries live for the process lifetime; CooldownUntil is the only mutable
// field and is guarded by the rotator's lock.
type APIKeyEntry struct {
	ID  string `json:"id"`
	Key string `json:"key"`

	// CooldownUntil excludes the key from selection until the given instant.
	// Zero means no cooldown.
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// Frozen reports whether the key is under cooldown at the given instant.
func (k *APIKeyEntry) Frozen(now time.Time) bool {
	return !k.CooldownUntil.IsZero() && now.Before(k.CooldownUntil)
}

// Suffix returns the last four characters of the key material for logging.
func (k *APIKeyEntry) Suffix() string {
	if len(k.Key) < 4 {
		return "***"
	}
	return "..." + k.Key[len(k.Key)-4:]
}
