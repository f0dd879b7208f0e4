package drain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Drainer runs one drain cycle. *Sink implements it.
type Drainer interface {
	DrainOnce(ctx context.Context) (Status, error)
}

// Runner drives a Drainer until its context is cancelled, pausing between
// cycles that report Backoff or fail recoverably.
type Runner struct {
	drainer Drainer
	cfg     RunnerConfig
}

// NewRunner constructs a Runner with defaults and optional settings.
func NewRunner(drainer Drainer, opts ...RunnerOption) *Runner {
	if drainer == nil {
		panic("drain: nil Drainer")
	}

	var cfg RunnerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Runner{
		drainer: drainer,
		cfg:     cfg,
	}
}

// Run calls DrainOnce until ctx is done. A cycle that has started always runs
// to completion; cancellation only prevents the next one.
//
// Run returns nil on cancellation and the error of the first cycle that
// failed without being recoverable.
func (r *Runner) Run(ctx context.Context) error {
	consecutive := 0
	for {
		if err := ctx.Err(); err != nil {
			return ignoreCanceled(err)
		}

		status, err := r.runCycle(context.WithoutCancel(ctx))
		if err != nil {
			if !IsRecoverable(err) {
				r.cfg.Logger.Error("drain runner stopped", "err", err)

				return err
			}
			r.cfg.Logger.Warn("drain cycle failed, backing off", "err", err)
			status = Backoff
		}

		if status == Ready {
			consecutive = 0

			continue
		}

		consecutive++
		if err := r.sleep(ctx, r.backoff(consecutive)); err != nil {
			return ignoreCanceled(err)
		}
	}
}

func (r *Runner) runCycle(ctx context.Context) (status Status, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.cfg.Logger.Error("drain runner cycle panic", "panic", rec)
			status = Backoff
			err = fmt.Errorf("%w: %v", ErrPanic, rec)
		}
	}()

	return r.drainer.DrainOnce(ctx)
}

// backoff returns the pause after the given number of consecutive backoffs.
func (r *Runner) backoff(consecutive int) time.Duration {
	if consecutive <= 0 {
		return 0
	}
	d := time.Duration(consecutive) * r.cfg.BackoffIncrement
	if d/r.cfg.BackoffIncrement != time.Duration(consecutive) || d > r.cfg.MaxBackoff {
		return r.cfg.MaxBackoff
	}

	return d
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
