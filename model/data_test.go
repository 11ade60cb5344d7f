package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	testCases := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"pending to stage1", StatusPending, StatusStage1InProgress, true},
		{"pending cannot skip to stage2", StatusPending, StatusStage2InProgress, false},
		{"stage1 success", StatusStage1InProgress, StatusStage1Done, true},
		{"stage1 give up", StatusStage1InProgress, StatusFailed, true},
		{"stage1 exhausted", StatusStage1InProgress, StatusDeadLetter, true},
		{"stage1 reset", StatusStage1InProgress, StatusPending, true},
		{"stage1 done to stage2", StatusStage1Done, StatusStage2InProgress, true},
		{"stage1 done cannot validate", StatusStage1Done, StatusValidated, false},
		{"stage2 success", StatusStage2InProgress, StatusStage2Done, true},
		{"stage2 reset", StatusStage2InProgress, StatusPending, true},
		{"stage2 done validates", StatusStage2Done, StatusValidated, true},
		{"stage2 done can fail validation", StatusStage2Done, StatusFailed, true},
		{"validated is terminal", StatusValidated, StatusPending, false},
		{"failed is terminal", StatusFailed, StatusStage1InProgress, false},
		{"dead letter is terminal", StatusDeadLetter, StatusPending, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to))
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusValidated, StatusFailed, StatusDeadLetter}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "status %s", s)
	}
	active := []Status{StatusPending, StatusStage1InProgress, StatusStage1Done, StatusStage2InProgress, StatusStage2Done}
	for _, s := range active {
		assert.False(t, s.IsTerminal(), "status %s", s)
	}
}

func TestProxyEntryValidate(t *testing.T) {
	testCases := []struct {
		name    string
		proxy   ProxyEntry
		wantErr bool
	}{
		{"valid http", ProxyEntry{Protocol: "http", Host: "p1.example.com", Port: 8080}, false},
		{"valid socks5", ProxyEntry{Protocol: "socks5", Host: "10.0.0.1", Port: 1080}, false},
		{"unknown protocol", ProxyEntry{Protocol: "ftp", Host: "p1.example.com", Port: 21}, true},
		{"missing host", ProxyEntry{Protocol: "http", Port: 8080}, true},
		{"port out of range", ProxyEntry{Protocol: "http", Host: "p1.example.com", Port: 70000}, true},
		{"zero port", ProxyEntry{Protocol: "http", Host: "p1.example.com"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.proxy.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProxyEntrySessionRotation(t *testing.T) {
	p := ProxyEntry{
		Protocol: "http",
		Host:     "gw.example.com",
		Port:     7000,
		Username: "user-sessid-1234",
		Password: "secret",
	}
	require.True(t, p.HasSession())

	rotated := p.WithNewSession()
	assert.Equal(t, p.Host, rotated.Host)
	assert.Len(t, rotated.Username, len(p.Username))
	assert.Equal(t, "user-sessid-", rotated.Username[:len("user-sessid-")])

	// The suffix must always be four digits.
	suffix := rotated.Username[len(rotated.Username)-4:]
	for _, r := range suffix {
		assert.True(t, r >= '0' && r <= '9', "suffix %q", suffix)
	}
}

func TestProxyEntryWithoutSessionUnchanged(t *testing.T) {
	p := ProxyEntry{Protocol: "http", Host: "gw.example.com", Port: 7000, Username: "plainuser"}
	assert.False(t, p.HasSession())
	assert.Equal(t, p, p.WithNewSession())
}

func TestAPIKeyFrozen(t *testing.T) {
	now := time.Now()
	key := &APIKeyEntry{ID: "k1", Key: "secret-key-0001"}
	assert.False(t, key.Frozen(now))

	key.CooldownUntil = now.Add(time.Minute)
	assert.True(t, key.Frozen(now))
	assert.False(t, key.Frozen(now.Add(2*time.Minute)))
}

func TestAPIKeySuffixRedacts(t *testing.T) {
	key := &APIKeyEntry{Key: "secret-key-0001"}
	assert.Equal(t, "...0001", key.Suffix())
}
