package updaters

import (
	"context"
	"errors"
	"time"

	"tradingcore/src/channels"
	"tradingcore/src/model"

	logger "github.com/sirupsen/logrus"
)

// failedRequestRetryDelay replaces the regular period after a transient
// exchange failure.
const failedRequestRetryDelay = 2 * time.Second

// Updater is the common polling producer: fetch, push through the bound
// producer, sleep, repeat. Errors pick the next delay rather than killing
// the loop; an unsupported endpoint pauses the whole channel and stops.
type Updater struct {
	Name     string
	Producer *channels.Producer
	Period   time.Duration

	// RetryDelay overrides failedRequestRetryDelay when positive.
	RetryDelay time.Duration

	// Init runs once before the loop, retried on transient failures.
	Init  func(ctx context.Context) error
	Fetch func(ctx context.Context) error
}

func (u *Updater) retryDelay() time.Duration {
	if u.RetryDelay > 0 {
		return u.RetryDelay
	}
	return failedRequestRetryDelay
}

func (u *Updater) log() *logger.Entry {
	return logger.WithFields(map[string]interface{}{
		"component": "updaters",
		"updater":   u.Name,
	})
}

// Run drives the polling loop until the context is canceled.
func (u *Updater) Run(ctx context.Context) {
	if u.Init != nil {
		if stop := u.runInit(ctx); stop {
			return
		}
	}

	for {
		delay := u.Period
		if err := u.Fetch(ctx); err != nil {
			var stop bool
			delay, stop = u.handleError(err, delay)
			if stop {
				return
			}
		}
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

func (u *Updater) runInit(ctx context.Context) (stop bool) {
	for {
		err := u.Init(ctx)
		if err == nil {
			return false
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return true
		}
		if errors.Is(err, model.ErrNotSupported) {
			u.pause()
			return true
		}
		u.log().WithError(err).Warn("Initialization failed, retrying")
		if !sleepCtx(ctx, u.retryDelay()) {
			return true
		}
	}
}

func (u *Updater) handleError(err error, delay time.Duration) (time.Duration, bool) {
	switch {
	case errors.Is(err, context.Canceled):
		return 0, true
	case errors.Is(err, model.ErrNotSupported):
		u.pause()
		return 0, true
	case model.IsConnectivityError(err):
		u.log().WithError(err).Warn("Exchange request failed, retrying shortly")
		return u.retryDelay(), false
	default:
		u.log().WithError(err).Error("Update failed")
		return delay, false
	}
}

// pause stops deliveries on the channel; the endpoint does not exist on
// this exchange, so polling again is pointless.
func (u *Updater) pause() {
	u.log().Warn("Endpoint not supported, pausing channel")
	if u.Producer != nil {
		u.Producer.Channel().Pause()
	}
}

// sleepCtx sleeps for d, returning false when the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
