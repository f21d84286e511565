package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/simachine/pkg/schema"
)

// fakeSim counts steps and halts after a configurable number of them.
type fakeSim struct {
	mu        sync.Mutex
	steps     int
	haltAfter int
}

func (f *fakeSim) Step(_ context.Context, stimulus string) (string, []schema.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if stimulus != "" {
		return "S", nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unexpected stimulus %q", stimulus)
	}
	f.steps++
	if f.haltAfter > 0 && f.steps > f.haltAfter {
		return "S", nil, schema.NewError(schema.ErrCodeHalted, "simulation halted; reset required")
	}
	return "S", []schema.LogEntry{{Severity: schema.SeverityDebug, Text: "tick"}}, nil
}

func (f *fakeSim) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.steps
}

func TestAutoStepperTicks(t *testing.T) {
	sim := &fakeSim{}

	var mu sync.Mutex
	var ticks int
	stepper := NewAutoStepper(sim, time.Millisecond, func(state string, lines []schema.LogEntry) {
		mu.Lock()
		ticks++
		mu.Unlock()
		assert.Equal(t, "S", state)
		assert.Len(t, lines, 1)
	}, nil)

	require.NoError(t, stepper.Start(context.Background()))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 3
	}, time.Second, time.Millisecond)

	stepper.Stop()
	settled := sim.count()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, settled, sim.count())
}

func TestAutoStepperStopsOnHalt(t *testing.T) {
	sim := &fakeSim{haltAfter: 2}
	stepper := NewAutoStepper(sim, time.Millisecond, nil, nil)

	require.NoError(t, stepper.Start(context.Background()))

	select {
	case <-stepper.Done():
	case <-time.After(time.Second):
		t.Fatal("stepper did not stop after the simulator halted")
	}
	assert.Equal(t, 3, sim.count())
}

func TestAutoStepperContextCancel(t *testing.T) {
	sim := &fakeSim{}
	stepper := NewAutoStepper(sim, time.Millisecond, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, stepper.Start(ctx))
	cancel()

	select {
	case <-stepper.Done():
	case <-time.After(time.Second):
		t.Fatal("stepper did not stop on context cancellation")
	}
}

func TestAutoStepperDoubleStart(t *testing.T) {
	stepper := NewAutoStepper(&fakeSim{}, time.Millisecond, nil, nil)
	require.NoError(t, stepper.Start(context.Background()))
	defer stepper.Stop()

	assert.Error(t, stepper.Start(context.Background()))
}

func TestAutoStepperStopBeforeStart(t *testing.T) {
	stepper := NewAutoStepper(&fakeSim{}, time.Millisecond, nil, nil)
	stepper.Stop()
}

func TestNewCronStepper(t *testing.T) {
	_, err := NewCronStepper(&fakeSim{}, "*/5 * * * *", nil, nil)
	require.NoError(t, err)

	_, err = NewCronStepper(&fakeSim{}, "not a cron spec", nil, nil)
	require.Error(t, err)
}
