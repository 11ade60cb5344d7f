// Package scheduler runs the bounded worker pool that claims tasks and hands
// them to the pipeline.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/webscope-ai/domain-analyzer/control"
	"github.com/webscope-ai/domain-analyzer/model"
	"github.com/webscope-ai/domain-analyzer/store"
)

// TaskRunner executes one claimed task to a terminal or resumable state.
// pipeline.Pipeline is the production implementation.
type TaskRunner interface {
	Run(ctx context.Context, task *model.DomainTask) error
}

// Options tunes the pool.
type Options struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int
	// IdleWait is how long a worker sleeps when the queue is empty or the
	// run is disabled before checking again.
	IdleWait time.Duration
	// ExitOnEmpty stops the pool once the queue drains instead of polling
	// forever. Batch runs set this; long-running services leave it off.
	ExitOnEmpty bool
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 40
	}
	if o.IdleWait <= 0 {
		o.IdleWait = 5 * time.Second
	}
	return o
}

// Pool claims pending tasks and executes them concurrently. Stopping the
// context stops new claims; tasks already in flight run to completion or
// reset themselves to pending.
type Pool struct {
	source store.TaskSource
	pipe   TaskRunner
	ctrl   control.RunControl
	opts   Options
}

// NewPool builds a pool. ctrl may be nil, which means always enabled.
func NewPool(source store.TaskSource, pipe TaskRunner, ctrl control.RunControl, opts Options) *Pool {
	if ctrl == nil {
		ctrl = control.AlwaysEnabled{}
	}
	return &Pool{source: source, pipe: pipe, ctrl: ctrl, opts: opts.withDefaults()}
}

// Run blocks until the pool drains (ExitOnEmpty) or ctx is cancelled. The
// returned error is nil on a clean drain and the context error on shutdown.
func (p *Pool) Run(ctx context.Context) error {
	log.Info().
		Int("concurrency", p.opts.Concurrency).
		Bool("exit_on_empty", p.opts.ExitOnEmpty).
		Msg("Worker pool starting")

	// The pool context is separate from the group context on purpose: one
	// worker's unexpected error must not cancel in-flight tasks on others.
	g := new(errgroup.Group)
	for i := 0; i < p.opts.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			return p.workerLoop(ctx, worker)
		})
	}

	err := g.Wait()
	log.Info().Msg("Worker pool stopped")
	return err
}

func (p *Pool) workerLoop(ctx context.Context, worker int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !p.ctrl.Enabled(ctx) {
			if p.opts.ExitOnEmpty {
				log.Info().Int("worker", worker).Msg("Run disabled, worker exiting")
				return nil
			}
			if err := sleep(ctx, p.opts.IdleWait); err != nil {
				return err
			}
			continue
		}

		task, err := p.source.ClaimNextPending(ctx)
		if errors.Is(err, store.ErrNoTasks) {
			if p.opts.ExitOnEmpty {
				log.Debug().Int("worker", worker).Msg("Queue drained, worker exiting")
				return nil
			}
			if err := sleep(ctx, p.opts.IdleWait); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			log.Error().Int("worker", worker).Err(err).Msg("Claim failed")
			if err := sleep(ctx, p.opts.IdleWait); err != nil {
				return err
			}
			continue
		}

		p.execute(ctx, worker, task)
	}
}

// execute runs one task, containing its errors: a single task failing to
// persist must not bring the worker down.
func (p *Pool) execute(ctx context.Context, worker int, task *model.DomainTask) {
	if err := p.pipe.Run(ctx, task); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		log.Error().
			Int("worker", worker).
			Str("domain", task.Domain).
			Str("task_id", task.ID).
			Err(err).
			Msg("Task execution failed")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
