// Package reconnect restarts client sessions with exponential backoff.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/1ureka/babelcast/internal/config"
)

// ErrReload ends a session on user request. The next session starts at once
// and no retry is consumed.
var ErrReload = errors.New("reload requested")

// Policy bounds the restart backoff.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxRetries      uint64 // 0 = unlimited
}

// PolicyFrom converts the reconnect config section.
func PolicyFrom(c config.ReconnectConfig) Policy {
	return Policy{
		InitialInterval: c.InitialInterval.ToDuration(),
		MaxInterval:     c.MaxInterval.ToDuration(),
		Multiplier:      c.Multiplier,
		MaxRetries:      c.MaxRetries,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	if p.Multiplier >= 1 {
		eb.Multiplier = p.Multiplier
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	var b backoff.BackOff = eb
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, p.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// RunFunc runs one session until it ends. established reports whether the
// session got far enough to count as a success, which resets the backoff.
type RunFunc func(ctx context.Context) (established bool, err error)

// RetryFunc observes each restart.
type RetryFunc func(err error, wait time.Duration)

// Loop runs sessions back to back until ctx is cancelled (nil) or the
// retries are exhausted (the last session error, wrapped).
func Loop(ctx context.Context, p Policy, run RunFunc, onRetry RetryFunc) error {
	b := p.backOff(ctx)

	for {
		established, err := run(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if established {
			b.Reset()
		}

		var wait time.Duration
		if !errors.Is(err, ErrReload) {
			wait = b.NextBackOff()
			if wait == backoff.Stop {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("giving up reconnecting: %w", err)
			}
		}

		if onRetry != nil {
			onRetry(err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}
