// Package scheduler drives a simulator from the host side. The engine itself
// has no timers; the AutoStepper is the "one actor per simulation" loop that
// issues internal steps on a schedule from a single goroutine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/simachine/pkg/schema"
)

// Steppable is the slice of the simulator facade the stepper needs.
type Steppable interface {
	Step(ctx context.Context, stimulus string) (string, []schema.LogEntry, error)
}

// TickFunc receives the outcome of each automatic step.
type TickFunc func(state string, lines []schema.LogEntry)

// AutoStepper issues internal steps (empty stimulus) to one simulator on a
// fixed interval or a cron schedule. All steps run from one goroutine, so the
// simulator's single-threaded contract holds as long as the host does not
// call Step concurrently itself.
type AutoStepper struct {
	target   Steppable
	schedule cron.Schedule
	interval time.Duration
	onTick   TickFunc
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAutoStepper creates a stepper ticking every interval. onTick may be nil.
func NewAutoStepper(target Steppable, interval time.Duration, onTick TickFunc, logger *slog.Logger) *AutoStepper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AutoStepper{target: target, interval: interval, onTick: onTick, logger: logger}
}

// NewCronStepper creates a stepper driven by a standard 5-field cron spec.
func NewCronStepper(target Steppable, spec string, onTick TickFunc, logger *slog.Logger) (*AutoStepper, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid cron spec %q: %s", spec, err.Error()).WithCause(err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AutoStepper{target: target, schedule: schedule, onTick: onTick, logger: logger}, nil
}

// Start launches the stepping loop. It stops on ctx cancellation, Stop, or
// when the simulator halts.
func (a *AutoStepper) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.done != nil {
		a.mu.Unlock()
		return fmt.Errorf("auto stepper already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.loop(loopCtx)
	a.logger.Info("auto stepper started")
	return nil
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (a *AutoStepper) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the loop has exited.
func (a *AutoStepper) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

func (a *AutoStepper) loop(ctx context.Context) {
	defer close(a.done)

	for {
		var wait time.Duration
		if a.schedule != nil {
			wait = time.Until(a.schedule.Next(time.Now()))
		} else {
			wait = a.interval
		}
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		state, lines, err := a.target.Step(ctx, "")
		if err != nil {
			var simErr *schema.SimError
			if errors.As(err, &simErr) && simErr.Code == schema.ErrCodeHalted {
				a.logger.Warn("auto stepper stopping: simulator halted",
					slog.String("state", state))
				return
			}
			a.logger.Error("auto step failed", slog.String("error", err.Error()))
			continue
		}
		if a.onTick != nil {
			a.onTick(state, lines)
		}
	}
}
