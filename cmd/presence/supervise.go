package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/banshee-data/presence.report/internal/timeutil"
)

// Restart backoff bounds for a crashed loop.
var (
	minRestartBackoff = time.Second
	maxRestartBackoff = time.Minute
)

// statusReporter matches the monitors' StatusReporter.
type statusReporter interface {
	Report(component string, err error)
}

// supervise runs loop until ctx is done. A panic or an unexpected return is
// logged, reported and followed by a restart after an exponential backoff;
// a loop that ran longer than maxRestartBackoff resets the backoff.
func supervise(ctx context.Context, name string, loop func(context.Context) error, status statusReporter) {
	superviseWithClock(ctx, name, loop, status, timeutil.RealClock{})
}

func superviseWithClock(ctx context.Context, name string, loop func(context.Context) error, status statusReporter, clock timeutil.Clock) {
	backoff := minRestartBackoff
	for {
		started := clock.Now()
		err := runRecovered(ctx, loop)
		if ctx.Err() != nil {
			log.Printf("%s loop stopped", name)
			return
		}
		if err == nil {
			err = errors.New("loop returned without error")
		}
		if clock.Since(started) > maxRestartBackoff {
			backoff = minRestartBackoff
		}
		log.Printf("%s loop failed, restarting in %v: %v", name, backoff, err)
		if status != nil {
			status.Report(name, err)
		}

		if timeutil.SleepContext(ctx, clock, backoff) != nil {
			log.Printf("%s loop stopped", name)
			return
		}
		backoff *= 2
		if backoff > maxRestartBackoff {
			backoff = maxRestartBackoff
		}
	}
}

func runRecovered(ctx context.Context, loop func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return loop(ctx)
}
