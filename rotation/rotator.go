// Package rotation owns the shared proxy and API-key pools. All mutable
// rotation state (cooldowns, cursors, session identifiers) lives behind a
// single lock; no other component touches the raw entries.
package rotation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webscope-ai/domain-analyzer/metrics"
	"github.com/webscope-ai/domain-analyzer/model"
)

// Rotator hands out proxy/key pairings for attempts. Keys rotate round-robin
// among the unfrozen set; when every key is under cooldown, Acquire suspends
// the caller until the earliest cooldown elapses.
type Rotator struct {
	mu sync.Mutex

	proxies     []model.ProxyEntry
	keys        []*model.APIKeyEntry
	keyCursor   int
	proxyCursor int

	// now is swappable for tests.
	now func() time.Time
}

// NewRotator validates the inventory and builds the rotator. Empty pools are
// a startup error: the orchestrator cannot run without them.
func NewRotator(proxies []model.ProxyEntry, keys []*model.APIKeyEntry) (*Rotator, error) {
	if len(proxies) == 0 {
		return nil, fmt.Errorf("no proxies loaded")
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no api keys loaded")
	}
	for i, p := range proxies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("proxy %d: %w", i, err)
		}
	}
	for i, k := range keys {
		if k.Key == "" {
			return nil, fmt.Errorf("api key %d: empty key material", i)
		}
	}
	log.Info().Int("proxies", len(proxies)).Int("keys", len(keys)).Msg("Resource pools loaded")
	return &Rotator{proxies: proxies, keys: keys, now: time.Now}, nil
}

// Acquire returns a proxy/key pairing eligible for the next attempt. It never
// returns a frozen key while an unfrozen one exists; when all keys are frozen
// it blocks until the earliest cooldown elapses or ctx is cancelled.
func (r *Rotator) Acquire(ctx context.Context) (model.ProxyEntry, *model.APIKeyEntry, error) {
	for {
		r.mu.Lock()
		now := r.now()
		if key := r.nextUnfrozenLocked(now); key != nil {
			proxy := r.proxies[r.proxyCursor%len(r.proxies)]
			r.proxyCursor++
			r.mu.Unlock()
			return proxy, key, nil
		}
		wait := r.earliestThawLocked(now)
		r.mu.Unlock()

		log.Debug().Dur("wait", wait).Msg("All api keys frozen, waiting for cooldown")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return model.ProxyEntry{}, nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// nextUnfrozenLocked scans round-robin from the cursor for an unfrozen key.
func (r *Rotator) nextUnfrozenLocked(now time.Time) *model.APIKeyEntry {
	for i := 0; i < len(r.keys); i++ {
		key := r.keys[(r.keyCursor+i)%len(r.keys)]
		if !key.Frozen(now) {
			r.keyCursor = (r.keyCursor + i + 1) % len(r.keys)
			return key
		}
	}
	return nil
}

// earliestThawLocked returns how long until the first cooldown expires.
func (r *Rotator) earliestThawLocked(now time.Time) time.Duration {
	var earliest time.Time
	for _, key := range r.keys {
		if earliest.IsZero() || key.CooldownUntil.Before(earliest) {
			earliest = key.CooldownUntil
		}
	}
	wait := earliest.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// FreezeKey excludes the key from selection for the given duration. Atomic
// with respect to concurrent Acquire calls.
func (r *Rotator) FreezeKey(key *model.APIKeyEntry, d time.Duration) {
	r.mu.Lock()
	key.CooldownUntil = r.now().Add(d)
	r.mu.Unlock()

	metrics.CooldownActivations.Inc()
	log.Info().
		Str("key", key.Suffix()).
		Dur("cooldown", d).
		Msg("API key frozen")
}

// HasUnfrozenKey reports whether at least one key is currently selectable.
// Used by the retry policy to decide between immediate and delayed retries
// after a rate limit. Scans without moving the cursor so availability checks
// do not skew the round-robin order.
func (r *Rotator) HasUnfrozenKey() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, key := range r.keys {
		if !key.Frozen(now) {
			return true
		}
	}
	return false
}

// RotateSession replaces the proxy's session identifier with a fresh one,
// both in the pool and in the returned copy. Used when a proxy-bound failure
// suggests the current exit IP is tainted.
func (r *Rotator) RotateSession(proxy model.ProxyEntry) model.ProxyEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	rotated := proxy.WithNewSession()
	for i := range r.proxies {
		if r.proxies[i].Host == proxy.Host && r.proxies[i].Port == proxy.Port {
			r.proxies[i] = rotated
			break
		}
	}
	metrics.SessionRotations.Inc()
	log.Debug().Str("proxy", rotated.Redacted()).Msg("Proxy session rotated")
	return rotated
}

// Release records the attempt outcome against the pairing. Proxy-bound
// failures rotate the session immediately so the next holder starts clean.
func (r *Rotator) Release(proxy model.ProxyEntry, key *model.APIKeyEntry, outcome model.AttemptOutcome) {
	if !outcome.Succeeded() && outcome.ProxyRelated {
		r.RotateSession(proxy)
	}
}
