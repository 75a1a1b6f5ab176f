package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"driftguard/internal/refstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func countRuns(t *testing.T, f *fixture) int {
	t.Helper()
	runs, err := f.store.ListMonitoringRuns(context.Background(), 1000)
	require.NoError(t, err)
	return len(runs)
}

// atLeastRuns is safe inside Eventually, which polls from its own goroutine.
func atLeastRuns(f *fixture, n int) func() bool {
	return func() bool {
		runs, err := f.store.ListMonitoringRuns(context.Background(), 1000)
		return err == nil && len(runs) >= n
	}
}

func TestWorkerTicksImmediatelyAndOnInterval(t *testing.T) {
	f := newFixture(t, 10)

	w := NewWorker(f.engine, 25*time.Millisecond, nil)
	w.Start()
	defer w.Stop()

	require.Eventually(t, atLeastRuns(f, 3), 2*time.Second, 10*time.Millisecond)
}

func TestWorkerStopHaltsTicking(t *testing.T) {
	f := newFixture(t, 10)

	w := NewWorker(f.engine, 20*time.Millisecond, nil)
	w.Start()
	require.Eventually(t, atLeastRuns(f, 1), 2*time.Second, 5*time.Millisecond)
	w.Stop()

	before := countRuns(t, f)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, before, countRuns(t, f))
}

func TestWorkerStartAndStopAreIdempotent(t *testing.T) {
	f := newFixture(t, 10)

	w := NewWorker(f.engine, 20*time.Millisecond, nil)
	w.Start()
	w.Start()
	w.Stop()
	w.Stop()
}

func TestWorkerFatalOnIntegrityViolation(t *testing.T) {
	f := newFixture(t, 10)

	dataPath := filepath.Join(f.refDir, "reference_data.csv")
	raw, err := os.ReadFile(dataPath)
	require.NoError(t, err)
	raw[0] ^= 0xff
	require.NoError(t, os.WriteFile(dataPath, raw, 0644))

	w := NewWorker(f.engine, 20*time.Millisecond, nil)
	w.Start()
	defer w.Stop()

	select {
	case err := <-w.Fatal():
		assert.True(t, errors.Is(err, refstore.ErrIntegrity))
	case <-time.After(2 * time.Second):
		t.Fatal("expected a fatal integrity error")
	}

	// The worker stops itself; no row is ever written for the aborted tick.
	assert.Equal(t, 0, countRuns(t, f))
}
