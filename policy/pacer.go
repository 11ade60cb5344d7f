package policy

import (
	"sync"
	"time"

	"github.com/webscope-ai/domain-analyzer/metrics"
	"github.com/webscope-ai/domain-analyzer/model"
)

// pacer derives a shared inter-attempt delay from the recent balance of
// successes and rate limits across all workers. Every 429 doubles the delay
// up to the ceiling; every success halves it until it falls back to zero.
// Other failure kinds leave the delay untouched.
type pacer struct {
	mu    sync.Mutex
	min   time.Duration
	max   time.Duration
	delay time.Duration
}

// newPacer builds a pacer bounded by [min, max]. A non-positive min disables
// pacing entirely.
func newPacer(min, max time.Duration) *pacer {
	if max < min {
		max = min
	}
	return &pacer{min: min, max: max}
}

// observe adjusts the delay for one attempt outcome.
func (p *pacer) observe(outcome model.AttemptOutcome) {
	if p.min <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case outcome.Kind == model.KindRateLimited:
		if p.delay == 0 {
			p.delay = p.min
		} else {
			p.delay *= 2
			if p.delay > p.max {
				p.delay = p.max
			}
		}
	case outcome.Succeeded():
		p.delay /= 2
		if p.delay < p.min {
			p.delay = 0
		}
	}
	metrics.PaceDelay.Set(p.delay.Seconds())
}

// current returns the delay to apply before the next attempt.
func (p *pacer) current() time.Duration {
	if p.min <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delay
}
