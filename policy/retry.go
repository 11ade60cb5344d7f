// Package policy decides what happens after each failed attempt: retry with a
// delay and resource substitution, give up, or escalate to the dead letter
// state.
package policy

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/webscope-ai/domain-analyzer/metrics"
	"github.com/webscope-ai/domain-analyzer/model"
)

// ActionType enumerates the policy's possible decisions.
type ActionType int

const (
	// ActionRetry schedules another attempt after Action.Delay.
	ActionRetry ActionType = iota
	// ActionGiveUp marks the task failed without further attempts.
	ActionGiveUp
	// ActionDeadLetter marks the task dead after exhausting its retry budget.
	ActionDeadLetter
)

func (a ActionType) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionGiveUp:
		return "give_up"
	case ActionDeadLetter:
		return "dead_letter"
	}
	return "unknown"
}

// Action is the policy's verdict for one outcome.
type Action struct {
	Type  ActionType
	Delay time.Duration

	// FreezeKeyFor, when non-zero, freezes the key that produced the outcome
	// before the next attempt.
	FreezeKeyFor time.Duration
	// RotateProxySession requests a fresh proxy session for the next attempt.
	RotateProxySession bool
}

// KeyAvailability is the slice of the rotator the policy needs: whether an
// immediate retry can proceed on a different unfrozen key.
type KeyAvailability interface {
	HasUnfrozenKey() bool
}

// Config tunes the retry policy.
type Config struct {
	// MaxAttempts bounds retries for the network-class retryable kinds.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// BackoffMultiple is the exponential growth factor.
	BackoffMultiple float64
	// RateLimitFreeze is the cooldown applied to a key after a 429.
	RateLimitFreeze time.Duration
	// PaceMin and PaceMax bound the adaptive inter-attempt delay derived from
	// recent rate-limit pressure. A zero PaceMin disables pacing.
	PaceMin time.Duration
	PaceMax time.Duration
}

// DefaultConfig mirrors the production tuning.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		BaseDelay:       2 * time.Second,
		MaxDelay:        60 * time.Second,
		BackoffMultiple: 2.0,
		RateLimitFreeze: 3 * time.Minute,
		PaceMin:         time.Second,
		PaceMax:         30 * time.Second,
	}
}

// Policy implements the retry decision rules.
type Policy struct {
	cfg   Config
	keys  KeyAvailability
	pacer *pacer
}

// New builds a Policy. keys may be nil, in which case rate-limit retries
// always wait out the full cooldown.
func New(cfg Config, keys KeyAvailability) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffMultiple <= 1 {
		cfg.BackoffMultiple = 2.0
	}
	return &Policy{cfg: cfg, keys: keys, pacer: newPacer(cfg.PaceMin, cfg.PaceMax)}
}

// Observe feeds one attempt outcome, success or failure, into the adaptive
// pacer.
func (p *Policy) Observe(outcome model.AttemptOutcome) {
	p.pacer.observe(outcome)
}

// PaceDelay returns the shared delay to apply before the next attempt.
func (p *Policy) PaceDelay() time.Duration {
	return p.pacer.current()
}

// NextAction decides the fate of a task after one failed attempt. The task's
// AttemptCount must already include the attempt that produced the outcome.
func (p *Policy) NextAction(task *model.DomainTask, outcome model.AttemptOutcome) Action {
	action := p.decide(task, outcome)

	metrics.RetryDecisions.WithLabelValues(string(outcome.Kind), action.Type.String()).Inc()
	log.Debug().
		Str("domain", task.Domain).
		Str("kind", string(outcome.Kind)).
		Str("action", action.Type.String()).
		Dur("delay", action.Delay).
		Int("attempt", task.AttemptCount).
		Msg("Retry decision")

	return action
}

func (p *Policy) decide(task *model.DomainTask, outcome model.AttemptOutcome) Action {
	switch outcome.Kind {
	case model.KindRateLimited:
		// The consumed key cools down; retry immediately on another key when
		// one is free, otherwise the acquire will block until the thaw.
		a := Action{Type: ActionRetry, FreezeKeyFor: p.cfg.RateLimitFreeze}
		if outcome.RetryAfter > 0 {
			a.FreezeKeyFor = outcome.RetryAfter
		}
		if p.keys != nil && !p.keys.HasUnfrozenKey() {
			a.Delay = a.FreezeKeyFor
		}
		return a

	case model.KindProxyError, model.KindNetworkError, model.KindDNSError,
		model.KindSSLError, model.KindTimeout:
		if task.AttemptCount >= p.cfg.MaxAttempts {
			return Action{Type: ActionDeadLetter}
		}
		return Action{
			Type:               ActionRetry,
			Delay:              p.backoff(task.AttemptCount),
			RotateProxySession: true,
		}

	case model.KindHTTPServerError:
		if task.AttemptCount >= p.cfg.MaxAttempts {
			return Action{Type: ActionDeadLetter}
		}
		return Action{
			Type:  ActionRetry,
			Delay: p.backoff(task.AttemptCount),
		}

	case model.KindHTTPClientError:
		// Malformed or permanently rejected request; retrying cannot help.
		return Action{Type: ActionGiveUp}

	case model.KindPayloadError, model.KindUnknown:
		if task.AttemptCount >= 2 {
			return Action{Type: ActionGiveUp}
		}
		return Action{Type: ActionRetry, Delay: p.backoff(task.AttemptCount)}
	}

	return Action{Type: ActionGiveUp}
}

// backoff computes the capped exponential delay for the given attempt number
// (1-indexed: the first retry waits BaseDelay).
func (p *Policy) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.BackoffMultiple, float64(attempt-1))
	if d > float64(p.cfg.MaxDelay) {
		d = float64(p.cfg.MaxDelay)
	}
	return time.Duration(d)
}
