package simulator

import (
	"context"
	"math"
	"time"

	"k8s.io/utils/clock"

	"github.com/testweb/testweb/internal/testweb/configuration"
	"github.com/testweb/testweb/internal/testweb/domain"
)

// Simulator replays phase labels at a fixed cadence to give feedback while the real
// progress of a test is unknown. It never decides the outcome of a test.
type Simulator struct {
	stepDuration time.Duration
	clock        clock.Clock
}

func New(config configuration.SimulatorConfig, clk clock.Clock) *Simulator {
	return &Simulator{
		stepDuration: config.StepDuration,
		clock:        clk,
	}
}

// Run advances progress from `from` to `to` in len(steps) equal increments, one every step
// duration, reporting the matching label each time.
func (s *Simulator) Run(ctx context.Context, from, to int, steps []string, onProgress domain.ProgressFunc) error {
	if len(steps) == 0 || to <= from {
		return nil
	}
	increment := float64(to-from) / float64(len(steps))

	for i, step := range steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.stepDuration):
		}
		progress := from + int(math.Round(increment*float64(i+1)))
		if i == len(steps)-1 {
			progress = to
		}
		if onProgress != nil {
			onProgress(progress, step, nil)
		}
	}
	return nil
}
