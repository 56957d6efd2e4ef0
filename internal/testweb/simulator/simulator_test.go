package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clock "k8s.io/utils/clock/testing"

	"github.com/testweb/testweb/internal/testweb/configuration"
)

const stepDuration = 2 * time.Second

func TestRun(t *testing.T) {
	tests := map[string]struct {
		from, to         int
		steps            []string
		expectedProgress []int
	}{
		"even split": {
			from: 10, to: 90,
			steps:            []string{"a", "b", "c", "d"},
			expectedProgress: []int{30, 50, 70, 90},
		},
		"uneven split ends exactly on target": {
			from: 10, to: 30,
			steps:            []string{"a", "b", "c"},
			expectedProgress: []int{17, 23, 30},
		},
		"single step": {
			from: 10, to: 90,
			steps:            []string{"only"},
			expectedProgress: []int{90},
		},
		"no steps": {
			from: 10, to: 90,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			fakeClock := clock.NewFakeClock(time.Now())
			start := fakeClock.Now()
			s := New(configuration.SimulatorConfig{StepDuration: stepDuration}, fakeClock)

			var progress []int
			var labels []string
			done := make(chan error, 1)
			go func() {
				done <- s.Run(context.Background(), tc.from, tc.to, tc.steps, func(p int, step string, _ map[string]interface{}) {
					progress = append(progress, p)
					labels = append(labels, step)
				})
			}()

			for i := 0; i < len(tc.steps); i++ {
				require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
				fakeClock.Step(stepDuration)
			}
			require.NoError(t, <-done)

			assert.Equal(t, tc.expectedProgress, progress)
			if len(tc.steps) > 0 {
				assert.Equal(t, tc.steps, labels)
			}
			assert.Equal(t, time.Duration(len(tc.steps))*stepDuration, fakeClock.Since(start))
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	fakeClock := clock.NewFakeClock(time.Now())
	s := New(configuration.SimulatorConfig{StepDuration: stepDuration}, fakeClock)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, 10, 90, []string{"a", "b"}, func(int, string, map[string]interface{}) { calls++ })
	}()

	require.Eventually(t, fakeClock.HasWaiters, time.Second, time.Millisecond)
	cancel()

	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, calls)
}
